package mapi

import (
	"errors"
	"testing"

	"github.com/sensepost/exconform/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleActionMarkAsReadVectors(t *testing.T) {
	ra := NewRuleAction(NewActionBlock(OPMARKASREAD, 0, nil))

	standard := []byte{0x01, 0x00, 0x09, 0x00, 0x0B, 0, 0, 0, 0, 0, 0, 0, 0}
	require.Equal(t, standard, ra.Marshal(false))

	extended := []byte{0x01, 0, 0, 0, 0x09, 0, 0, 0, 0x0B, 0, 0, 0, 0, 0, 0, 0, 0}
	require.Equal(t, extended, ra.Marshal(true))

	decoded, err := DecodeRuleAction(standard, false)
	require.NoError(t, err)
	require.Len(t, decoded.ActionBlocks, 1)
	assert.EqualValues(t, 9, decoded.ActionBlocks[0].ActionLength)
	assert.EqualValues(t, OPMARKASREAD, decoded.ActionBlocks[0].ActionType)
	assert.Nil(t, decoded.ActionBlocks[0].ActionData)
}

func TestRuleActionRoundTrip(t *testing.T) {
	recipient := RecipientBlock{PropertyValues: []TaggedPropertyValue{
		NewStringProp(PidTagDisplayName, "Bob"),
		NewStringProp(PidTagEmailAddress, "bob@example.com"),
		NewInt32Prop(PidTagRecipientType, 1),
	}}
	tag := TagActionData{TaggedValue: NewInt32Prop(PidTagImportance, 2)}

	for _, extended := range []bool{false, true} {
		move := MoveCopyActionData{FolderInThisStore: 1, StoreEID: []byte{}, FolderEID: NewServerEID(0x1122).Marshal()}
		if extended {
			move = MoveCopyActionData{StoreEID: NewStoreObjectEntryID("EXCH01", "/o=First/cn=bob").Marshal(), FolderEID: make([]byte, FolderEntryIDSize)}
		}
		ra := NewRuleAction(
			NewActionBlock(OPMOVE, 0, move),
			NewActionBlock(OPFORWARD, FlavorPR, ForwardDelegateActionData{RecipientBlocks: []RecipientBlock{recipient}}),
			NewActionBlock(OPBOUNCE, 0, BounceActionData{BounceCode: BounceAccessDenied}),
			NewActionBlock(OPTAG, 0, tag),
			NewActionBlock(OPDELETE, 0, nil),
		)
		buf := ra.Marshal(extended)
		decoded, err := DecodeRuleAction(buf, extended)
		require.NoError(t, err)
		require.EqualValues(t, 5, decoded.NoOfActions)

		for i, ab := range decoded.ActionBlocks {
			assert.EqualValues(t, ab.DataLength(extended), ab.ActionLength, "block %d", i)
			assert.Empty(t, ab.Trailing)
		}
		fwd := decoded.ActionBlocks[1].ActionData.(ForwardDelegateActionData)
		require.Len(t, fwd.RecipientBlocks, 1)
		name, ok := fwd.RecipientBlocks[0].Get(PidTagDisplayName)
		require.True(t, ok)
		assert.Equal(t, "Bob", name.Text())
		if !extended {
			assert.EqualValues(t, 1, fwd.RecipientBlocks[0].Reserved)
		}
		assert.Equal(t, BounceActionData{BounceCode: BounceAccessDenied}, decoded.ActionBlocks[2].ActionData)
		assert.Equal(t, uint32(2), decoded.ActionBlocks[3].ActionData.(TagActionData).TaggedValue.Uint32())

		//re-encoding the decoded structure gives the same bytes
		assert.Equal(t, buf, decoded.Marshal(extended))
	}
}

func TestRuleActionReplyLayouts(t *testing.T) {
	guid := utils.NewGUID()
	standard := NewRuleAction(NewActionBlock(OPREPLY, FlavorNS, ReplyActionData{
		ReplyTemplateFID:  make([]byte, 8),
		ReplyTemplateMID:  make([]byte, 8),
		ReplyTemplateGUID: guid,
	}))
	buf := standard.Marshal(false)
	//count(2) length(2) type(1) flavor(4) flags(4) fid(8) mid(8) guid(16)
	require.Len(t, buf, 2+2+9+32)

	decoded, err := DecodeRuleAction(buf, false)
	require.NoError(t, err)
	reply := decoded.ActionBlocks[0].ActionData.(ReplyActionData)
	assert.Equal(t, guid, reply.ReplyTemplateGUID)
	assert.EqualValues(t, FlavorNS, decoded.ActionBlocks[0].ActionFlavor)

	extended := NewRuleAction(NewActionBlock(OPOOFREPLY, 0, ReplyActionData{
		ReplyTemplateMessageEID: make([]byte, MessageEntryIDSize),
		ReplyTemplateGUID:       guid,
	}))
	decoded, err = DecodeRuleAction(extended.Marshal(true), true)
	require.NoError(t, err)
	assert.Len(t, decoded.ActionBlocks[0].ActionData.(ReplyActionData).ReplyTemplateMessageEID, MessageEntryIDSize)
}

func TestRuleActionErrors(t *testing.T) {
	buf := NewRuleAction(NewActionBlock(OPBOUNCE, 0, BounceActionData{BounceCode: BounceMessageSize})).Marshal(false)

	_, err := DecodeRuleAction(buf[:len(buf)-1], false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortBuffer))
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "RuleAction", de.Structure)

	unknown := []byte{0x01, 0x00, 0x09, 0x00, 0x42, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err = DecodeRuleAction(unknown, false)
	require.Error(t, err)
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "ActionType", de.Field)
}

func TestRuleActionTrailingBytes(t *testing.T) {
	//ActionLength claims two more bytes than OP_DELETE carries
	buf := []byte{0x01, 0x00, 0x0B, 0x00, 0x0A, 0, 0, 0, 0, 0, 0, 0, 0, 0xAA, 0xBB}
	decoded, err := DecodeRuleAction(buf, false)
	require.NoError(t, err)
	ab := decoded.ActionBlocks[0]
	assert.Equal(t, []byte{0xAA, 0xBB}, ab.Trailing)
	assert.EqualValues(t, 11, ab.ActionLength)
	assert.Equal(t, 11, ab.DataLength(false))
}

func TestNamedPropertyInformation(t *testing.T) {
	name := NewStringName(PSPublicStrings, "X")
	//"X" and its terminator
	require.EqualValues(t, 4, name.NameSize)
	require.Equal(t, 17+1+4, name.Size())
	assert.Equal(t, "X", name.String())
	assert.Equal(t, "00020329-0000-0000-c000-000000000046", name.SetGUID())

	lid := NewLIDName(PSMapi, 0x8501)
	npi := NewNamedPropertyInformation([]uint16{0x8001, 0x8002}, []PropertyName{name, lid})
	require.EqualValues(t, 22+21, npi.NamedPropertiesSize)

	buf := npi.Marshal()
	require.Len(t, buf, 2+4+4+43)
	decoded, err := DecodeNamedPropertyInformation(buf)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x8001, 0x8002}, decoded.PropIDs)
	assert.EqualValues(t, 0x8501, decoded.NamedProperties[1].LID)
	assert.Equal(t, npi.DerivedSize(), int(decoded.NamedPropertiesSize))

	found, ok := decoded.Lookup(0x8001)
	require.True(t, ok)
	assert.True(t, GUIDEqual(found.GUID, PSPublicStrings))

	empty := NewNamedPropertyInformation(nil, nil)
	assert.Equal(t, []byte{0x00, 0x00}, empty.Marshal())
}

func TestExtendedRuleActions(t *testing.T) {
	npi := NewNamedPropertyInformation([]uint16{0x8001}, []PropertyName{NewStringName(PSPublicStrings, "exconform")})
	tag := NewActionBlock(OPTAG, 0, TagActionData{TaggedValue: NewStringProp(PropertyTag{PtypString, 0x8001}, "tagged")})
	era := NewExtendedRuleActions(npi, NewRuleAction(tag))

	decoded, err := DecodeExtendedRuleActions(era.Marshal())
	require.NoError(t, err)
	assert.EqualValues(t, 1, decoded.RuleVersion)
	require.Len(t, decoded.RuleActionBuffer.ActionBlocks, 1)
	v := decoded.RuleActionBuffer.ActionBlocks[0].ActionData.(TagActionData).TaggedValue
	assert.Equal(t, "tagged", v.Text())
	assert.Equal(t, era.Marshal(), decoded.Marshal())
}

func TestExtendedRuleCondition(t *testing.T) {
	erc := ExtendedRuleCondition{
		NamedPropertyInformation: NewNamedPropertyInformation(nil, nil),
		RuleRestriction: ContentRestriction{
			RestrictType:  RestrictContent,
			FuzzyLevelLow: FLSUBSTRING,
			PropertyTag:   PidTagSubject,
			PropertyValue: NewStringProp(PidTagSubject, "token"),
		},
	}
	decoded, err := DecodeExtendedRuleCondition(erc.Marshal())
	require.NoError(t, err)
	cr, ok := decoded.RuleRestriction.(ContentRestriction)
	require.True(t, ok)
	assert.Equal(t, "token", cr.PropertyValue.Text())
}

func TestEntryIDs(t *testing.T) {
	mailbox := utils.NewGUID()
	ltid := LongTermID{DatabaseGUID: utils.NewGUID(), GlobalCounter: []byte{0, 0, 0, 0, 0x12, 0x34}}

	feid := NewFolderEntryID(mailbox, ltid)
	buf := feid.Marshal()
	require.Len(t, buf, FolderEntryIDSize)
	decoded, err := DecodeFolderEntryID(buf)
	require.NoError(t, err)
	assert.EqualValues(t, PrivateFolder, decoded.FolderType)
	assert.Equal(t, mailbox, decoded.ProviderUID)

	_, err = DecodeFolderEntryID(append(buf, 0x00))
	require.Error(t, err)
	_, err = DecodeFolderEntryID(buf[:40])
	require.ErrorIs(t, err, ErrShortBuffer)

	meid := NewMessageEntryID(mailbox, ltid, ltid)
	require.Len(t, meid.Marshal(), MessageEntryIDSize)
	m, err := DecodeMessageEntryID(meid.Marshal())
	require.NoError(t, err)
	assert.EqualValues(t, PrivateMessage, m.MessageType)

	seid := NewServerEID(0x0102030405060708)
	require.Len(t, seid.Marshal(), ServerEIDSize)
	s, err := DecodeServerEID(seid.Marshal())
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Ours)
	assert.EqualValues(t, 0x0102030405060708, s.FolderID)
}

func TestStoreObjectEntryID(t *testing.T) {
	store := NewStoreObjectEntryID("EXCH01", "/o=First Organization/cn=Recipients/cn=bob")
	buf := store.Marshal()
	assert.Equal(t, []byte{0x38, 0xA1, 0xBB, 0x10, 0x05, 0xE5, 0x10, 0x1A}, buf[4:12])

	decoded, err := DecodeStoreObjectEntryID(buf)
	require.NoError(t, err)
	assert.Equal(t, StoreDLLName, decoded.DLLName())
	assert.Len(t, decoded.DLLFileName, 14)
	assert.True(t, GUIDEqual(decoded.WrappedProviderUID, MailboxStoreUID))
	assert.EqualValues(t, WrappedMailbox, decoded.WrappedType)
	assert.Equal(t, "EXCH01", decoded.ServerShortname)
	assert.Equal(t, "/o=First Organization/cn=Recipients/cn=bob", decoded.MailboxDN)

	_, err = DecodeStoreObjectEntryID(append(buf, 0xFF, 0xEE))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "StoreObjectEntryID", de.Structure)
	assert.Equal(t, len(buf), de.Offset)
	assert.Contains(t, err.Error(), "2 trailing bytes")
}

func TestAddressBookEntryID(t *testing.T) {
	ab := NewAddressBookEntryID("/o=First/cn=bob")
	decoded := AddressBookEntryID{}
	n, err := decoded.Unmarshal(ab.Marshal())
	require.NoError(t, err)
	assert.Equal(t, len(ab.Marshal()), n)
	assert.EqualValues(t, 1, decoded.Version)
	assert.Equal(t, "/o=First/cn=bob", decoded.X500DN)

	d, err := DecodeAddressBookEntryID(ab.Marshal())
	require.NoError(t, err)
	assert.True(t, GUIDEqual(d.ProviderUID, AddressBookProviderUID))
	_, err = DecodeAddressBookEntryID(append(ab.Marshal(), 0x01))
	assert.Contains(t, err.Error(), "1 trailing bytes")
	_, err = DecodeAddressBookEntryID(ab.Marshal()[:20])
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestReadTaggedPropertyValue(t *testing.T) {
	cases := []TaggedPropertyValue{
		NewStringProp(PidTagSubject, "hello"),
		NewInt32Prop(PidTagImportance, 2),
		NewInt64Prop(PidTagRuleID, 0x42),
		NewBoolProp(PidTagDamBackPatched, true),
		NewBinaryProp(PidTagEntryID, []byte{1, 2, 3}),
		{PidTagRuleActions, NewRuleAction(NewActionBlock(OPDELETE, 0, nil)).Marshal(false)},
	}
	for _, c := range cases {
		buf := append(c.Marshal(), 0xFF)
		p, n, err := ReadTaggedPropertyValue(buf, false)
		require.NoError(t, err, c.PropertyTag.String())
		assert.Equal(t, len(buf)-1, n)
		assert.Equal(t, c, p)
	}

	_, _, err := ReadTaggedPropertyValue([]byte{0x0D, 0x00, 0x01, 0x00}, false)
	require.ErrorIs(t, err, ErrUnsupportedType)

	bin := NewBinaryPropExt(PidTagEntryID, []byte{9, 8})
	assert.Equal(t, []byte{9, 8}, bin.BinaryExt())
	assert.Nil(t, bin.Binary(), "4 byte COUNT read as 2 bytes")
	short := NewBinaryProp(PidTagEntryID, []byte{9, 8})
	assert.Equal(t, []byte{9, 8}, short.Binary())
	assert.Nil(t, short.BinaryExt())
}

func TestBinaryCountWidth(t *testing.T) {
	//0x0002 followed by 0x0000 reads as a 2 byte COUNT of 2 with 2 bytes left over
	//and as a 4 byte COUNT of 2 with exactly 2 bytes of data
	v := TaggedPropertyValue{PidTagEntryID, []byte{0x02, 0x00, 0x00, 0x00, 0xAA, 0xBB}}
	assert.Nil(t, v.Binary())
	assert.Equal(t, []byte{0xAA, 0xBB}, v.BinaryExt())

	v = TaggedPropertyValue{PidTagEntryID, []byte{0x04, 0x00, 0x00, 0x00, 0xAA, 0xBB}}
	assert.Equal(t, []byte{0x00, 0x00, 0xAA, 0xBB}, v.Binary())
	assert.Nil(t, v.BinaryExt())

	assert.Nil(t, TaggedPropertyValue{PidTagEntryID, []byte{0x05}}.Binary())
}

func TestReadPropertyRow(t *testing.T) {
	cols := []PropertyTag{PidTagSubject, PidTagImportance, PidTagMid}
	buf := []byte{0x01}
	buf = append(buf, 0x00)
	buf = append(buf, utils.UniString("subject")...)
	buf = append(buf, 0x0A, 0x0F, 0x01, 0x04, 0x80)
	buf = append(buf, 0x01)

	d := newDecoder("PropertyRow", buf)
	row := readPropertyRow(d, cols)
	require.NoError(t, d.err)
	require.Equal(t, len(buf), d.pos)

	subject, ok := row.Get(PidTagSubject)
	require.True(t, ok)
	assert.Equal(t, "subject", subject.Text())
	_, ok = row.Get(PidTagImportance)
	assert.False(t, ok)
	_, ok = row.Get(PidTagMid)
	assert.False(t, ok)
}

func TestRestrictionRoundTrip(t *testing.T) {
	r := AndRestriction{
		RestrictType: RestrictAnd,
		Restricts: []Restriction{
			ContentRestriction{RestrictType: RestrictContent, FuzzyLevelLow: FLSUBSTRING, FuzzyLevelHigh: FLIGNORECASE,
				PropertyTag: PidTagSubject, PropertyValue: NewStringProp(PidTagSubject, "token")},
			NotRestriction{RestrictType: RestrictNot, Restriction: ExistRestriction{RestrictType: RestrictExist, PropTag: PidTagImportance}},
		},
	}
	for _, extended := range []bool{false, true} {
		buf := MarshalRestriction(r, extended)
		decoded, n, err := UnmarshalRestriction(buf, extended)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		and := decoded.(AndRestriction)
		require.Len(t, and.Restricts, 2)
		assert.Equal(t, buf, MarshalRestriction(decoded, extended))
	}
}
