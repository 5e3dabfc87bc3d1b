package oxorule

import (
	"bytes"
	"encoding/binary"

	"github.com/sensepost/exconform/conformance"
	"github.com/sensepost/exconform/mapi"
	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const importanceHigh = 2

//replyTemplate creates the FAI reply template OP_REPLY and OP_OOF_REPLY point at
func replyTemplate(t *conformance.T, mb Mailbox, folderID []byte, class, token string) (mid, guid []byte) {
	guid = utils.NewGUID()
	props := []mapi.TaggedPropertyValue{
		mapi.NewStringProp(mapi.PidTagMessageClass, class),
		mapi.NewStringProp(mapi.PidTagSubject, "exconform reply template "+token),
		mapi.NewBinaryProp(mapi.PidTagReplyTemplateID, guid),
	}
	saved, err := mb.CreateAssocMessage(folderID, props)
	require.NoError(t, err, "creating reply template")
	t.Cleanup(func() {
		assert.NoError(t, mb.DeleteMessages(folderID, saved.MessageID), "removing reply template")
	})
	return saved.MessageID, guid
}

func recipient(email string, eid *mapi.AddressBookEntryID) mapi.RecipientBlock {
	props := []mapi.TaggedPropertyValue{
		mapi.NewBinaryProp(mapi.PidTagEntryID, eid.Marshal()),
		mapi.NewStringProp(mapi.PidTagDisplayName, email),
		mapi.NewStringProp(mapi.PidTagEmailAddress, email),
		mapi.NewStringProp(mapi.PidTagSMTPAddress, email),
		mapi.NewInt32Prop(mapi.PidTagRecipientType, 1),
	}
	return mapi.RecipientBlock{Reserved: 0x01, NoOfProperties: uint32(len(props)), PropertyValues: props}
}

//standardRuleActions writes one rule per action type and checks what the rules table returns
func (env *Env) standardRuleActions(t *conformance.T) {
	mb := env.mailbox(t)
	token := newToken()
	inbox := mb.FolderID(mapi.INBOX)
	deleted := mb.FolderID(mapi.DELETED)
	require.NotNil(t, inbox, "no Inbox folder id from RopLogon")
	require.NotNil(t, deleted, "no Deleted Items folder id from RopLogon")

	replyMID, replyGUID := replyTemplate(t, mb, inbox, mapi.ReplyTemplateClass, token)
	oofMID, oofGUID := replyTemplate(t, mb, inbox, mapi.OofTemplateClass, token)
	owner, err := mb.OwnerEntryID()
	if err != nil {
		t.Skipf("resolving the mailbox owner in the address book: %s", err)
	}
	moveTo := mapi.MoveCopyActionData{FolderInThisStore: 1, StoreEID: []byte{}, FolderEID: mapi.NewServerEID(serverFID(deleted)).Marshal()}

	written := []mapi.ActionBlock{
		mapi.NewActionBlock(mapi.OPMOVE, 0, moveTo),
		mapi.NewActionBlock(mapi.OPCOPY, 0, moveTo),
		mapi.NewActionBlock(mapi.OPREPLY, mapi.FlavorNS, mapi.ReplyActionData{ReplyTemplateFID: inbox, ReplyTemplateMID: replyMID, ReplyTemplateGUID: replyGUID}),
		mapi.NewActionBlock(mapi.OPOOFREPLY, 0, mapi.ReplyActionData{ReplyTemplateFID: inbox, ReplyTemplateMID: oofMID, ReplyTemplateGUID: oofGUID}),
		mapi.NewActionBlock(mapi.OPDEFERACTION, 0, mapi.DeferredActionData{Data: []byte(token)}),
		mapi.NewActionBlock(mapi.OPBOUNCE, 0, mapi.BounceActionData{BounceCode: mapi.BounceMessageRejected}),
		mapi.NewActionBlock(mapi.OPFORWARD, mapi.FlavorPR, mapi.ForwardDelegateActionData{RecipientCount: 1, RecipientBlocks: []mapi.RecipientBlock{recipient(env.Email, owner)}}),
		mapi.NewActionBlock(mapi.OPDELEGATE, 0, mapi.ForwardDelegateActionData{RecipientCount: 1, RecipientBlocks: []mapi.RecipientBlock{recipient(env.Email, owner)}}),
		mapi.NewActionBlock(mapi.OPTAG, 0, mapi.TagActionData{TaggedValue: mapi.NewInt32Prop(mapi.PidTagImportance, importanceHigh)}),
		mapi.NewActionBlock(mapi.OPDELETE, 0, nil),
		mapi.NewActionBlock(mapi.OPMARKASREAD, 0, nil),
	}

	var rules []mapi.RuleData
	names := map[string]mapi.ActionBlock{}
	for i, ab := range written {
		name := token + " " + mapi.ActionName(ab.ActionType)
		names[name] = ab
		//the condition never matches delivered mail
		rules = append(rules, newRule(name, uint32(10+i), token+" never", mapi.NewRuleAction(ab)))
	}
	rows := addRules(t, mb, token, rules...)
	require.Len(t, rows, len(written), "rules table rows carrying %s", token)

	for name, ab := range names {
		row, ok := rows[name]
		if !assert.True(t, ok, "rule %q missing from the rules table", name) {
			continue
		}
		state, _ := row.Get(mapi.PidTagRuleState)
		assert.NotZero(t, state.Uint32()&mapi.STENABLED, "%s: ST_ENABLED not set", name)
		provider, _ := row.Get(mapi.PidTagRuleProvider)
		assert.Equal(t, ruleProvider, provider.Text(), "%s: PidTagRuleProvider", name)

		value, ok := row.Get(mapi.PidTagRuleActions)
		if !assert.True(t, ok, "%s: no PidTagRuleActions", name) {
			continue
		}
		ra, err := mapi.DecodeRuleAction(value.PropertyValue, false)
		if !assert.NoError(t, err, "%s: decoding PidTagRuleActions", name) {
			continue
		}
		assert.NoError(t, ValidateRuleAction(ra, false), name)
		if !assert.Len(t, ra.ActionBlocks, 1, name) {
			continue
		}
		got := ra.ActionBlocks[0]
		assert.Equal(t, ab.ActionType, got.ActionType, "%s: ActionType", name)
		assert.Equal(t, ab.ActionFlavor, got.ActionFlavor, "%s: ActionFlavor", name)
		compareActionData(t, name, ab.ActionData, got.ActionData)
	}
}

//compareActionData checks the parts of the action data a server keeps as written
func compareActionData(t *conformance.T, name string, want, got mapi.ActionData) {
	switch w := want.(type) {
	case mapi.MoveCopyActionData:
		g, ok := got.(mapi.MoveCopyActionData)
		if !assert.True(t, ok, "%s: action data %T", name, got) {
			return
		}
		assert.Equal(t, w.FolderInThisStore, g.FolderInThisStore, "%s: FolderInThisStore", name)
		written, _ := mapi.DecodeServerEID(w.FolderEID)
		seid, err := mapi.DecodeServerEID(g.FolderEID)
		if assert.NoError(t, err, "%s: FolderEID", name) && written != nil {
			assert.Equal(t, written.FolderID, seid.FolderID, "%s: FolderId", name)
		}
	case mapi.ReplyActionData:
		g, ok := got.(mapi.ReplyActionData)
		if !assert.True(t, ok, "%s: action data %T", name, got) {
			return
		}
		assert.Equal(t, w.ReplyTemplateGUID, g.ReplyTemplateGUID, "%s: ReplyTemplateGUID", name)
		assert.Equal(t, w.ReplyTemplateMID, g.ReplyTemplateMID, "%s: ReplyTemplateMID", name)
	case mapi.ForwardDelegateActionData:
		g, ok := got.(mapi.ForwardDelegateActionData)
		if !assert.True(t, ok, "%s: action data %T", name, got) {
			return
		}
		if assert.Len(t, g.RecipientBlocks, len(w.RecipientBlocks), "%s: RecipientBlocks", name) {
			for i, rb := range g.RecipientBlocks {
				assert.NoError(t, ValidateRecipientBlock(rb, false), name)
				addr, _ := w.RecipientBlocks[i].Get(mapi.PidTagEmailAddress)
				smtp, hasSMTP := rb.Get(mapi.PidTagSMTPAddress)
				email, hasEmail := rb.Get(mapi.PidTagEmailAddress)
				assert.True(t, (hasSMTP && smtp.Text() == addr.Text()) || (hasEmail && email.Text() == addr.Text()),
					"%s: recipient %d does not carry %s", name, i, addr.Text())
				wantEID, _ := w.RecipientBlocks[i].Get(mapi.PidTagEntryID)
				if gotEID, ok := rb.Get(mapi.PidTagEntryID); assert.True(t, ok, "%s: recipient %d lost PidTagEntryID", name, i) {
					assert.Equal(t, wantEID.Binary(), gotEID.Binary(), "%s: recipient %d PidTagEntryID", name, i)
				}
			}
		}
	case mapi.DeferredActionData, mapi.BounceActionData, mapi.TagActionData:
		assert.Equal(t, want, got, "%s: action data", name)
	default:
		assert.Nil(t, got, "%s: action data", name)
	}
}

//modifyRemoveRule walks one rule through ROW_ADD, ROW_MODIFY and ROW_REMOVE
func (env *Env) modifyRemoveRule(t *conformance.T) {
	mb := env.mailbox(t)
	token := newToken()
	added := token + " added"
	modified := token + " modified"

	rows := addRules(t, mb, token, newRule(added, 10, token, mapi.NewRuleAction(mapi.NewActionBlock(mapi.OPMARKASREAD, 0, nil))))
	row, ok := rows[added]
	require.True(t, ok, "ROW_ADD rule %q not in the rules table", added)
	id := ruleID(t, row)
	t.Logf("rule id 0x%016X", id)

	change := []mapi.TaggedPropertyValue{
		mapi.NewInt64Prop(mapi.PidTagRuleID, id),
		mapi.NewStringProp(mapi.PidTagRuleName, modified),
		mapi.NewInt32Prop(mapi.PidTagRuleState, 0),
	}
	require.NoError(t, mb.ModifyRules(0, mapi.RuleData{RuleDataFlags: mapi.ROWMODIFY, PropertyValueCount: uint16(len(change)), PropertyValues: change}), "RopModifyRules ROW_MODIFY")

	row, ok = ruleByID(t, mb, id)
	require.True(t, ok, "rule 0x%016X gone after ROW_MODIFY", id)
	name, _ := row.Get(mapi.PidTagRuleName)
	assert.Equal(t, modified, name.Text(), "PidTagRuleName after ROW_MODIFY")
	state, _ := row.Get(mapi.PidTagRuleState)
	assert.Zero(t, state.Uint32()&mapi.STENABLED, "ST_ENABLED still set after ROW_MODIFY")
	value, ok := row.Get(mapi.PidTagRuleActions)
	if assert.True(t, ok, "PidTagRuleActions lost by ROW_MODIFY") {
		ra, err := mapi.DecodeRuleAction(value.PropertyValue, false)
		require.NoError(t, err)
		require.Len(t, ra.ActionBlocks, 1)
		assert.EqualValues(t, mapi.OPMARKASREAD, ra.ActionBlocks[0].ActionType)
	}

	require.NoError(t, mb.ModifyRules(0, removeRule(id)), "RopModifyRules ROW_REMOVE")
	_, ok = ruleByID(t, mb, id)
	assert.False(t, ok, "rule 0x%016X still in the rules table after ROW_REMOVE", id)
}

//extendedRule stores an extended rule as an FAI message and validates what comes back
func (env *Env) extendedRule(t *conformance.T) {
	mb := env.mailbox(t)
	token := newToken()
	inbox := mb.FolderID(mapi.INBOX)
	require.NotNil(t, inbox, "no Inbox folder id from RopLogon")

	store := mb.StoreEntryID()
	require.NoError(t, ValidateStoreObjectEntryID(&store), "Store Object EntryID of the mailbox")
	folder, err := mb.FolderEntryID(mapi.DELETED)
	require.NoError(t, err, "RopLongTermIdFromId")
	require.NoError(t, ValidateFolderEntryID(&folder, mb.MailboxGUID()), "Folder EntryID of Deleted Items")

	const namedID = 0x8001
	npi := mapi.NewNamedPropertyInformation([]uint16{namedID}, []mapi.PropertyName{mapi.NewStringName(mapi.PSPublicStrings, token)})
	tag := mapi.TagActionData{TaggedValue: mapi.NewInt32Prop(mapi.PropertyTag{PropertyType: mapi.PtypInteger32, PropertyID: namedID}, 1)}
	move := mapi.MoveCopyActionData{StoreEID: store.Marshal(), FolderEID: folder.Marshal()}
	actions := mapi.NewExtendedRuleActions(npi, mapi.NewRuleAction(
		mapi.NewActionBlock(mapi.OPTAG, 0, tag),
		mapi.NewActionBlock(mapi.OPMOVE, 0, move),
	))
	written, err := mapi.DecodeExtendedRuleActions(actions.Marshal())
	require.NoError(t, err)
	require.NoError(t, ValidateExtendedRuleActions(written), "ExtendedRuleActions as written")

	condition := mapi.ExtendedRuleCondition{
		NamedPropertyInformation: mapi.NewNamedPropertyInformation(nil, nil),
		RuleRestriction: mapi.ContentRestriction{
			RestrictType:   mapi.RestrictContent,
			FuzzyLevelLow:  mapi.FLSUBSTRING,
			FuzzyLevelHigh: mapi.FLIGNORECASE,
			PropertyTag:    mapi.PidTagSubject,
			PropertyValue:  mapi.NewStringProp(mapi.PidTagSubject, token+" never"),
		},
	}

	props := []mapi.TaggedPropertyValue{
		mapi.NewStringProp(mapi.PidTagMessageClass, mapi.ExtendedRuleMessageClass),
		mapi.NewStringProp(mapi.PidTagSubject, token),
		mapi.NewStringProp(mapi.PidTagRuleMessageName, token),
		mapi.NewInt32Prop(mapi.PidTagRuleMessageSequence, 10),
		mapi.NewInt32Prop(mapi.PidTagRuleMessageState, mapi.STENABLED),
		mapi.NewInt32Prop(mapi.PidTagRuleMessageLevel, 0),
		mapi.NewStringProp(mapi.PidTagRuleMessageProvider, ruleProvider),
		mapi.NewBinaryProp(mapi.PidTagExtendedRuleMessageActions, actions.Marshal()),
		mapi.NewBinaryProp(mapi.PidTagExtendedRuleMessageCondition, condition.Marshal()),
	}
	saved, err := mb.CreateAssocMessage(inbox, props)
	require.NoError(t, err, "creating the extended rule message")
	t.Cleanup(func() {
		assert.NoError(t, mb.DeleteMessages(inbox, saved.MessageID), "removing the extended rule message")
	})

	got, err := mb.GetMessageProperties(inbox, saved.MessageID)
	require.NoError(t, err, "RopGetPropertiesAll")
	class, _ := got.Get(mapi.PidTagMessageClass)
	assert.Equal(t, mapi.ExtendedRuleMessageClass, class.Text())

	value, ok := got.Get(mapi.PidTagExtendedRuleMessageActions)
	require.True(t, ok, "no PidTagExtendedRuleMessageActions on the stored message")
	era, err := mapi.DecodeExtendedRuleActions(value.Binary())
	require.NoError(t, err, "decoding PidTagExtendedRuleMessageActions")
	assert.NoError(t, ValidateExtendedRuleActions(era))

	name, ok := era.NamedPropertyInformation.Lookup(namedID)
	if assert.True(t, ok, "named property 0x%04X missing", namedID) {
		assert.Equal(t, token, name.String())
		assert.True(t, mapi.GUIDEqual(name.GUID, mapi.PSPublicStrings), "named property GUID is %s", name.SetGUID())
	}

	require.Len(t, era.RuleActionBuffer.ActionBlocks, 2)
	m, ok := era.RuleActionBuffer.ActionBlocks[1].ActionData.(mapi.MoveCopyActionData)
	require.True(t, ok, "second action is not OP_MOVE")
	s, err := mapi.DecodeStoreObjectEntryID(m.StoreEID)
	if assert.NoError(t, err, "StoreEID") {
		assert.Equal(t, store.MailboxDN, s.MailboxDN)
	}
	f, err := mapi.DecodeFolderEntryID(m.FolderEID)
	if assert.NoError(t, err, "FolderEID") {
		assert.NoError(t, ValidateFolderEntryID(f, mb.MailboxGUID()))
		assert.Equal(t, folder.GlobalCounter, f.GlobalCounter)
	}

	if v, ok := got.Get(mapi.PidTagExtendedRuleMessageCondition); assert.True(t, ok, "no PidTagExtendedRuleMessageCondition") {
		_, err := mapi.DecodeExtendedRuleCondition(v.Binary())
		assert.NoError(t, err, "decoding PidTagExtendedRuleMessageCondition")
	}
}

//ruleExecution checks the server runs mark-as-read and tag when mail arrives
func (env *Env) ruleExecution(t *conformance.T) {
	mb := env.mailbox(t)
	token := newToken()

	actions := mapi.NewRuleAction(
		mapi.NewActionBlock(mapi.OPMARKASREAD, 0, nil),
		mapi.NewActionBlock(mapi.OPTAG, 0, mapi.TagActionData{TaggedValue: mapi.NewInt32Prop(mapi.PidTagImportance, importanceHigh)}),
	)
	addRules(t, mb, token, newRule(token+" execution", 10, token, actions))

	row := env.deliver(t, mb, token)
	flags, ok := row.Get(mapi.PidTagMessageFlags)
	require.True(t, ok, "no PidTagMessageFlags on the delivered message")
	assert.NotZero(t, flags.Uint32()&mapi.MSGFLAGREAD, "mfRead not set by OP_MARK_AS_READ")
	importance, ok := row.Get(mapi.PidTagImportance)
	if assert.True(t, ok, "no PidTagImportance on the delivered message") {
		assert.EqualValues(t, importanceHigh, importance.Uint32(), "PidTagImportance not set by OP_TAG")
	}
}

//deferredActionMessage checks OP_DEFER_ACTION leaves a DAM in the Deferred Action folder
func (env *Env) deferredActionMessage(t *conformance.T) {
	mb := env.mailbox(t)
	token := newToken()
	dafFolder := mb.FolderID(mapi.DEFERREDACTION)
	require.NotNil(t, dafFolder, "no Deferred Action folder id from RopLogon")

	name := token + " deferred"
	actions := mapi.NewRuleAction(mapi.NewActionBlock(mapi.OPDEFERACTION, 0, mapi.DeferredActionData{Data: []byte(token)}))
	rows := addRules(t, mb, token, newRule(name, 10, token, actions))
	row, ok := rows[name]
	require.True(t, ok, "rule %q not in the rules table", name)
	id := ruleID(t, row)

	env.deliver(t, mb, token)

	var dam *mapi.RopGetPropertiesAllResponse
	var damID []byte
	t.Cleanup(func() {
		if damID != nil {
			assert.NoError(t, mb.DeleteMessages(dafFolder, damID), "removing the DAM")
		}
	})
	err := conformance.Poll(env.Attempts, env.Wait, func() (bool, error) {
		rows, err := mb.GetTableContents(dafFolder, true, messageColumns)
		if err != nil {
			return false, err
		}
		for _, row := range rows.RowData {
			class, _ := row.Get(mapi.PidTagMessageClass)
			mid, ok := row.Get(mapi.PidTagMid)
			if class.Text() != mapi.DAMMessageClass || !ok {
				continue
			}
			props, err := mb.GetMessageProperties(dafFolder, mid.PropertyValue)
			if err != nil {
				return false, err
			}
			if referencesRule(props, id) {
				dam, damID = props, mid.PropertyValue
				return true, nil
			}
		}
		return false, nil
	})
	require.NoError(t, err, "waiting for a DAM referencing rule 0x%016X", id)

	value, ok := dam.Get(mapi.PidTagClientActions)
	require.True(t, ok, "DAM without PidTagClientActions")
	ra, err := mapi.DecodeRuleAction(value.PropertyValue, false)
	require.NoError(t, err, "decoding PidTagClientActions")
	assert.NoError(t, ValidateRuleAction(ra, false))
	require.NotEmpty(t, ra.ActionBlocks)
	assert.EqualValues(t, mapi.OPDEFERACTION, ra.ActionBlocks[0].ActionType)
	if d, ok := ra.ActionBlocks[0].ActionData.(mapi.DeferredActionData); assert.True(t, ok) {
		assert.Equal(t, []byte(token), d.Data, "deferred action data changed")
	}
	if v, ok := dam.Get(mapi.PidTagDamOriginalEntryID); ok {
		_, err := mapi.DecodeMessageEntryID(v.Binary())
		assert.NoError(t, err, "PidTagDamOriginalEntryId")
	}
}

//referencesRule reports whether PidTagRuleIds of a DAM carries the rule id
func referencesRule(props *mapi.RopGetPropertiesAllResponse, id uint64) bool {
	v, ok := props.Get(mapi.PidTagRuleIDs)
	if !ok {
		return false
	}
	want := make([]byte, 8)
	binary.LittleEndian.PutUint64(want, id)
	ids := v.Binary()
	for i := 0; i+8 <= len(ids); i += 8 {
		if bytes.Equal(ids[i:i+8], want) {
			return true
		}
	}
	return false
}
