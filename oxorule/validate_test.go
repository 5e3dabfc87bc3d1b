package oxorule

import (
	"testing"

	"github.com/sensepost/exconform/mapi"
	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bob() mapi.RecipientBlock {
	return mapi.RecipientBlock{PropertyValues: []mapi.TaggedPropertyValue{
		mapi.NewStringProp(mapi.PidTagDisplayName, "Bob"),
		mapi.NewStringProp(mapi.PidTagEmailAddress, "bob@example.com"),
		mapi.NewInt32Prop(mapi.PidTagRecipientType, 1),
	}}
}

func decode(t *testing.T, ra mapi.RuleAction, extended bool) *mapi.RuleAction {
	decoded, err := mapi.DecodeRuleAction(ra.Marshal(extended), extended)
	require.NoError(t, err)
	return decoded
}

func TestValidateStandardRuleAction(t *testing.T) {
	ra := mapi.NewRuleAction(
		mapi.NewActionBlock(mapi.OPMOVE, 0, mapi.MoveCopyActionData{FolderInThisStore: 1, StoreEID: []byte{}, FolderEID: mapi.NewServerEID(0x0100000000000001).Marshal()}),
		mapi.NewActionBlock(mapi.OPREPLY, mapi.FlavorNS, mapi.ReplyActionData{ReplyTemplateFID: make([]byte, 8), ReplyTemplateMID: make([]byte, 8), ReplyTemplateGUID: utils.NewGUID()}),
		mapi.NewActionBlock(mapi.OPFORWARD, mapi.FlavorPR, mapi.ForwardDelegateActionData{RecipientBlocks: []mapi.RecipientBlock{bob()}}),
		mapi.NewActionBlock(mapi.OPFORWARD, mapi.FlavorAT, mapi.ForwardDelegateActionData{RecipientBlocks: []mapi.RecipientBlock{bob()}}),
		mapi.NewActionBlock(mapi.OPBOUNCE, 0, mapi.BounceActionData{BounceCode: mapi.BounceMessageRejected}),
		mapi.NewActionBlock(mapi.OPMARKASREAD, 0, nil),
	)
	assert.NoError(t, ValidateRuleAction(decode(t, ra, false), false))
}

func TestValidateExtendedRuleAction(t *testing.T) {
	ltid := mapi.LongTermID{DatabaseGUID: utils.NewGUID(), GlobalCounter: []byte{0, 0, 0, 0, 0, 7}}
	mailbox := utils.NewGUID()
	ra := mapi.NewRuleAction(
		mapi.NewActionBlock(mapi.OPCOPY, 0, mapi.MoveCopyActionData{
			StoreEID:  mapi.NewStoreObjectEntryID("EXCH01", "/o=First/cn=alice").Marshal(),
			FolderEID: mapi.NewFolderEntryID(mailbox, ltid).Marshal(),
		}),
		mapi.NewActionBlock(mapi.OPOOFREPLY, 0, mapi.ReplyActionData{
			ReplyTemplateMessageEID: mapi.NewMessageEntryID(mailbox, ltid, ltid).Marshal(),
			ReplyTemplateGUID:       utils.NewGUID(),
		}),
		mapi.NewActionBlock(mapi.OPDELEGATE, 0, mapi.ForwardDelegateActionData{RecipientBlocks: []mapi.RecipientBlock{bob()}}),
	)
	assert.NoError(t, ValidateRuleAction(decode(t, ra, true), true))
}

func TestValidateRuleActionViolations(t *testing.T) {
	ra := decode(t, mapi.NewRuleAction(
		mapi.NewActionBlock(mapi.OPBOUNCE, mapi.FlavorNS, mapi.BounceActionData{BounceCode: 0x99}),
		mapi.NewActionBlock(mapi.OPFORWARD, mapi.FlavorAT|mapi.FlavorTM, mapi.ForwardDelegateActionData{RecipientBlocks: []mapi.RecipientBlock{bob()}}),
		mapi.NewActionBlock(mapi.OPREPLY, 0x10, mapi.ReplyActionData{ReplyTemplateFID: make([]byte, 8), ReplyTemplateMID: make([]byte, 8), ReplyTemplateGUID: make([]byte, 16)}),
	), false)
	ra.ActionBlocks[0].ActionFlags = 1
	ra.NoOfActions = 4

	err := ValidateRuleAction(ra, false)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"NoOfActions 4 but 3 ActionBlocks",
		"ActionFlags must be 0x00000000",
		"unknown BounceCode 0x00000099",
		"ActionFlavor 0x00000001 sets bits outside 0x00000000",
		"ActionFlavor 0x0000000C combines AT or TM with another flag",
		"ActionFlavor 0x00000010 sets bits outside 0x00000003",
		"ReplyTemplateGUID is all zero",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateForwardFlavors(t *testing.T) {
	for _, flavor := range []uint32{0, mapi.FlavorPR, mapi.FlavorNC, mapi.FlavorPR | mapi.FlavorNC, mapi.FlavorAT, mapi.FlavorTM} {
		ra := decode(t, mapi.NewRuleAction(mapi.NewActionBlock(mapi.OPFORWARD, flavor, mapi.ForwardDelegateActionData{RecipientBlocks: []mapi.RecipientBlock{bob()}})), false)
		assert.NoError(t, ValidateRuleAction(ra, false), "flavor 0x%X", flavor)
	}
	for _, flavor := range []uint32{0x5, 0x6, 0x9, 0xA, 0xC, 0xF} {
		ra := decode(t, mapi.NewRuleAction(mapi.NewActionBlock(mapi.OPFORWARD, flavor, mapi.ForwardDelegateActionData{RecipientBlocks: []mapi.RecipientBlock{bob()}})), false)
		err := ValidateRuleAction(ra, false)
		require.Error(t, err, "flavor 0x%X", flavor)
		assert.Contains(t, err.Error(), "combines AT or TM with another flag")
	}
}

func TestValidateRuleActionLengthAndTrailing(t *testing.T) {
	//ActionLength covers two bytes the OP_DELETE action does not use
	buf := []byte{0x01, 0x00, 0x0B, 0x00, 0x0A, 0, 0, 0, 0, 0, 0, 0, 0, 0xAA, 0xBB}
	ra, err := mapi.DecodeRuleAction(buf, false)
	require.NoError(t, err)
	err = ValidateRuleAction(ra, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 bytes after the action data")

	ra.ActionBlocks[0].Trailing = nil
	err = ValidateRuleAction(ra, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ActionLength 11, the fields that follow take 9 bytes")
}

func TestValidateMoveCopyEntryIDs(t *testing.T) {
	bad := mapi.ServerEID{Ours: 0, FolderID: 0, MessageID: 5}
	ra := decode(t, mapi.NewRuleAction(
		mapi.NewActionBlock(mapi.OPMOVE, 0, mapi.MoveCopyActionData{FolderInThisStore: 1, StoreEID: []byte{}, FolderEID: bad.Marshal()}),
	), false)
	err := ValidateRuleAction(ra, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ours must be 0x01")
	assert.Contains(t, err.Error(), "FolderId is zero")
	assert.Contains(t, err.Error(), "MessageId must be 0")

	ra = decode(t, mapi.NewRuleAction(
		mapi.NewActionBlock(mapi.OPMOVE, 0, mapi.MoveCopyActionData{StoreEID: []byte{1, 2}, FolderEID: make([]byte, 10)}),
	), true)
	err = ValidateRuleAction(ra, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, mapi.ErrShortBuffer)
}

func TestValidateRecipientBlock(t *testing.T) {
	rb := bob()
	rb.Reserved = 1
	rb.NoOfProperties = uint32(len(rb.PropertyValues))
	assert.NoError(t, ValidateRecipientBlock(rb, false))

	rb.Reserved = 0
	rb.PropertyValues = append(rb.PropertyValues, mapi.NewStringProp(mapi.PidTagDisplayName, "Bobby"))
	err := ValidateRecipientBlock(rb, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Reserved must be 0x01")
	assert.Contains(t, err.Error(), "NoOfProperties 3 but 4 values")
	assert.Contains(t, err.Error(), "appears more than once")

	noAddress := mapi.RecipientBlock{NoOfProperties: 1, PropertyValues: []mapi.TaggedPropertyValue{mapi.NewStringProp(mapi.PidTagDisplayName, "Bob")}}
	err = ValidateRecipientBlock(noAddress, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PidTagEntryID")
}

func TestValidateRecipientEntryID(t *testing.T) {
	eid := mapi.NewAddressBookEntryID("/o=First Organization/cn=Recipients/cn=bob")
	withEntryID := func(p mapi.TaggedPropertyValue) mapi.RecipientBlock {
		return mapi.RecipientBlock{Reserved: 1, NoOfProperties: 1, PropertyValues: []mapi.TaggedPropertyValue{p}}
	}
	assert.NoError(t, ValidateRecipientBlock(withEntryID(mapi.NewBinaryProp(mapi.PidTagEntryID, eid.Marshal())), false))
	assert.NoError(t, ValidateRecipientBlock(withEntryID(mapi.NewBinaryPropExt(mapi.PidTagEntryID, eid.Marshal())), true))

	//the COUNT width has to match the rule kind
	err := ValidateRecipientBlock(withEntryID(mapi.NewBinaryPropExt(mapi.PidTagEntryID, eid.Marshal())), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PidTagEntryID")
	assert.ErrorIs(t, err, mapi.ErrShortBuffer)

	bad := eid
	bad.Flags = 1
	bad.ProviderUID = utils.NewGUID()
	bad.Version = 0
	bad.X500DN = ""
	err = ValidateRecipientBlock(withEntryID(mapi.NewBinaryProp(mapi.PidTagEntryID, bad.Marshal())), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PidTagEntryID Flags must be 0x00000000, got 0x00000001")
	assert.Contains(t, err.Error(), "PidTagEntryID ProviderUID is not "+mapi.AddressBookProviderUID)
	assert.Contains(t, err.Error(), "PidTagEntryID Version must be 0x00000001")
	assert.Contains(t, err.Error(), "X500DN is empty")

	err = ValidateRecipientBlock(withEntryID(mapi.NewBinaryProp(mapi.PidTagEntryID, eid.Marshal()[:24])), false)
	assert.ErrorIs(t, err, mapi.ErrShortBuffer)
}

func TestValidateNamedPropertyInformation(t *testing.T) {
	npi := mapi.NewNamedPropertyInformation(
		[]uint16{0x8001, 0x8002},
		[]mapi.PropertyName{mapi.NewStringName(mapi.PSPublicStrings, "ExConform"), mapi.NewLIDName(mapi.PSMapi, 0x8501)},
	)
	decoded, err := mapi.DecodeNamedPropertyInformation(npi.Marshal())
	require.NoError(t, err)
	assert.NoError(t, ValidateNamedPropertyInformation(decoded))

	empty := mapi.NewNamedPropertyInformation(nil, nil)
	assert.NoError(t, ValidateNamedPropertyInformation(&empty))

	npi.PropIDs = []uint16{0x0017, 0x0017}
	npi.NamedPropertiesSize++
	npi.NamedProperties[0].Kind = 0x05
	err = ValidateNamedPropertyInformation(&npi)
	require.Error(t, err)
	for _, want := range []string{
		"PropID 0x0017 is below 0x8000",
		"PropID 0x0017 appears more than once",
		"NamedPropertiesSize",
		"Kind 0x05",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateExtendedRuleActions(t *testing.T) {
	npi := mapi.NewNamedPropertyInformation([]uint16{0x8001}, []mapi.PropertyName{mapi.NewStringName(mapi.PSPublicStrings, "ExConform")})
	tag := mapi.TagActionData{TaggedValue: mapi.NewInt32Prop(mapi.PropertyTag{PropertyType: mapi.PtypInteger32, PropertyID: 0x8001}, 1)}
	era := mapi.NewExtendedRuleActions(npi, mapi.NewRuleAction(mapi.NewActionBlock(mapi.OPTAG, 0, tag)))

	decoded, err := mapi.DecodeExtendedRuleActions(era.Marshal())
	require.NoError(t, err)
	assert.NoError(t, ValidateExtendedRuleActions(decoded))

	decoded.RuleVersion = 2
	decoded.NamedPropertyInformation = mapi.NewNamedPropertyInformation(nil, nil)
	err = ValidateExtendedRuleActions(decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RuleVersion must be 0x00000001")
	assert.Contains(t, err.Error(), "0x8001 is not in NamedPropertyInformation")
}

func TestValidateEntryIDs(t *testing.T) {
	mailbox := utils.NewGUID()
	ltid := mapi.LongTermID{DatabaseGUID: utils.NewGUID(), GlobalCounter: []byte{0, 0, 0, 0, 0, 9}}

	f := mapi.NewFolderEntryID(mailbox, ltid)
	assert.NoError(t, ValidateFolderEntryID(&f, mailbox))
	f.Pad = 1
	f.FolderType = 0x0002
	err := ValidateFolderEntryID(&f, utils.NewGUID())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pad must be 0x0000")
	assert.Contains(t, err.Error(), "FolderType 0x0002 is not PrivateFolder (0x0001) or PublicFolder (0x0003)")
	assert.Contains(t, err.Error(), "ProviderUID is not the mailbox GUID")

	m := mapi.NewMessageEntryID(mailbox, ltid, ltid)
	assert.NoError(t, ValidateMessageEntryID(&m, nil))
	m.Pad2 = 3
	m.MessageType = mapi.PrivateFolder
	err = ValidateMessageEntryID(&m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MessageType 0x0001 is not PrivateMessage (0x0007) or PublicMessage (0x0009)")
	assert.NotContains(t, err.Error(), "eitLT")

	s := mapi.NewStoreObjectEntryID("EXCH01", "/o=First/cn=alice")
	decoded, err := mapi.DecodeStoreObjectEntryID(s.Marshal())
	require.NoError(t, err)
	assert.NoError(t, ValidateStoreObjectEntryID(decoded))

	decoded.DLLFileName = []byte("msmdb.dll\x00\x00\x00\x00\x00")
	decoded.WrappedType = mapi.WrappedPublic
	decoded.ServerShortname = ""
	err = ValidateStoreObjectEntryID(decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `DLLFileName "msmdb.dll"`)
	assert.Contains(t, err.Error(), "for a mailbox store")
	assert.Contains(t, err.Error(), "ServerShortname is empty")

	seid := mapi.NewServerEID(0x42)
	assert.NoError(t, ValidateServerEID(&seid))
}
