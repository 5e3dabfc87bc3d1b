package oxorule

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sensepost/exconform/mapi"
)

//violations collects every broken invariant of a structure
type violations struct {
	structure string
	errs      []error
}

func (v *violations) check(ok bool, format string, args ...interface{}) {
	if !ok {
		v.errs = append(v.errs, fmt.Errorf("%s: %s", v.structure, fmt.Sprintf(format, args...)))
	}
}

func (v *violations) add(err error) {
	if err != nil {
		v.errs = append(v.errs, fmt.Errorf("%s: %w", v.structure, err))
	}
}

func (v *violations) err() error {
	return errors.Join(v.errs...)
}

func zero(b []byte) bool {
	return len(bytes.Trim(b, "\x00")) == 0
}

func flavorMask(actionType uint8) uint32 {
	switch actionType {
	case mapi.OPREPLY, mapi.OPOOFREPLY:
		return mapi.FlavorNS | mapi.FlavorST
	case mapi.OPFORWARD:
		return mapi.FlavorPR | mapi.FlavorNC | mapi.FlavorAT | mapi.FlavorTM
	}
	return 0
}

//ValidateRuleAction checks the counts, lengths, flavors and action data of a RuleAction
func ValidateRuleAction(ra *mapi.RuleAction, extended bool) error {
	v := &violations{structure: "RuleAction"}
	v.check(ra.NoOfActions > 0, "NoOfActions must be at least 1")
	v.check(int(ra.NoOfActions) == len(ra.ActionBlocks), "NoOfActions %d but %d ActionBlocks", ra.NoOfActions, len(ra.ActionBlocks))
	for i, ab := range ra.ActionBlocks {
		v.add(validateActionBlock(i, ab, extended))
	}
	return v.err()
}

func validateActionBlock(i int, ab mapi.ActionBlock, extended bool) error {
	v := &violations{structure: fmt.Sprintf("ActionBlock[%d] %s", i, mapi.ActionName(ab.ActionType))}
	v.check(int(ab.ActionLength) == ab.DataLength(extended), "ActionLength %d, the fields that follow take %d bytes", ab.ActionLength, ab.DataLength(extended))
	v.check(ab.ActionFlags == 0, "ActionFlags must be 0x00000000, got 0x%08X", ab.ActionFlags)

	mask := flavorMask(ab.ActionType)
	v.check(ab.ActionFlavor&^mask == 0, "ActionFlavor 0x%08X sets bits outside 0x%08X", ab.ActionFlavor, mask)
	if ab.ActionType == mapi.OPFORWARD {
		//AT and TM stand alone
		if ab.ActionFlavor&(mapi.FlavorAT|mapi.FlavorTM) != 0 {
			v.check(ab.ActionFlavor == mapi.FlavorAT || ab.ActionFlavor == mapi.FlavorTM, "ActionFlavor 0x%08X combines AT or TM with another flag", ab.ActionFlavor)
		}
	}
	if ab.ActionType != mapi.OPDEFERACTION {
		v.check(len(ab.Trailing) == 0, "%d bytes after the action data", len(ab.Trailing))
	}

	switch data := ab.ActionData.(type) {
	case mapi.MoveCopyActionData:
		v.add(validateMoveCopy(data, extended))
	case mapi.ReplyActionData:
		if extended {
			m, err := mapi.DecodeMessageEntryID(data.ReplyTemplateMessageEID)
			v.add(err)
			if err == nil {
				v.add(ValidateMessageEntryID(m, nil))
			}
		}
		v.check(len(data.ReplyTemplateGUID) == 16, "ReplyTemplateGUID must be 16 bytes")
		v.check(!zero(data.ReplyTemplateGUID), "ReplyTemplateGUID is all zero")
	case mapi.BounceActionData:
		switch data.BounceCode {
		case mapi.BounceMessageSize, mapi.BounceMessageRejected, mapi.BounceAccessDenied:
		default:
			v.check(false, "unknown BounceCode 0x%08X", data.BounceCode)
		}
	case mapi.ForwardDelegateActionData:
		v.check(data.RecipientCount > 0, "RecipientCount must be at least 1")
		v.check(int(data.RecipientCount) == len(data.RecipientBlocks), "RecipientCount %d but %d RecipientBlocks", data.RecipientCount, len(data.RecipientBlocks))
		for _, rb := range data.RecipientBlocks {
			v.add(ValidateRecipientBlock(rb, extended))
		}
	case mapi.TagActionData:
		v.check(data.TaggedValue.PropertyTag.PropertyType != mapi.PtypUnspecified, "tagged value has no property type")
	case mapi.DeferredActionData:
	case nil:
		v.check(ab.ActionType == mapi.OPDELETE || ab.ActionType == mapi.OPMARKASREAD, "no action data")
	}
	return v.err()
}

func validateMoveCopy(m mapi.MoveCopyActionData, extended bool) error {
	v := &violations{structure: "MoveCopyActionData"}
	if !extended {
		v.check(m.FolderInThisStore <= 1, "FolderInThisStore must be 0x00 or 0x01, got 0x%02X", m.FolderInThisStore)
		if m.FolderInThisStore == 1 {
			s, err := mapi.DecodeServerEID(m.FolderEID)
			v.add(err)
			if err == nil {
				v.add(ValidateServerEID(s))
			}
			return v.err()
		}
	}
	store, err := mapi.DecodeStoreObjectEntryID(m.StoreEID)
	v.add(err)
	if err == nil {
		v.add(ValidateStoreObjectEntryID(store))
	}
	f, err := mapi.DecodeFolderEntryID(m.FolderEID)
	v.add(err)
	if err == nil {
		v.add(ValidateFolderEntryID(f, nil))
	}
	return v.err()
}

//ValidateRecipientBlock checks a forward or delegate recipient
func ValidateRecipientBlock(rb mapi.RecipientBlock, extended bool) error {
	v := &violations{structure: "RecipientBlock"}
	if !extended {
		v.check(rb.Reserved == 0x01, "Reserved must be 0x01, got 0x%02X", rb.Reserved)
	}
	v.check(rb.NoOfProperties > 0, "NoOfProperties must be at least 1")
	v.check(int(rb.NoOfProperties) == len(rb.PropertyValues), "NoOfProperties %d but %d values", rb.NoOfProperties, len(rb.PropertyValues))
	seen := map[mapi.PropertyTag]bool{}
	for _, p := range rb.PropertyValues {
		v.check(!seen[p.PropertyTag], "property %s appears more than once", p.PropertyTag)
		seen[p.PropertyTag] = true
	}
	eid, entry := rb.Get(mapi.PidTagEntryID)
	if entry {
		raw := eid.Binary()
		if extended {
			raw = eid.BinaryExt()
		}
		ab, err := mapi.DecodeAddressBookEntryID(raw)
		if err != nil {
			v.add(fmt.Errorf("PidTagEntryID: %w", err))
		} else {
			v.check(ab.Flags == 0, "PidTagEntryID Flags must be 0x00000000, got 0x%08X", ab.Flags)
			v.check(mapi.GUIDEqual(ab.ProviderUID, mapi.AddressBookProviderUID), "PidTagEntryID ProviderUID is not %s", mapi.AddressBookProviderUID)
			v.check(ab.Version == 1, "PidTagEntryID Version must be 0x00000001, got 0x%08X", ab.Version)
			v.check(ab.X500DN != "", "PidTagEntryID X500DN is empty")
		}
	}
	_, email := rb.Get(mapi.PidTagEmailAddress)
	_, smtp := rb.Get(mapi.PidTagSMTPAddress)
	v.check(entry || email || smtp, "no PidTagEntryID, PidTagEmailAddress or PidTagSmtpAddress")
	return v.err()
}

//ValidateNamedPropertyInformation checks counts, id ranges and the derived size
func ValidateNamedPropertyInformation(npi *mapi.NamedPropertyInformation) error {
	v := &violations{structure: "NamedPropertyInformation"}
	n := int(npi.NoOfNamedProps)
	v.check(len(npi.PropIDs) == n, "NoOfNamedProps %d but %d PropIDs", n, len(npi.PropIDs))
	v.check(len(npi.NamedProperties) == n, "NoOfNamedProps %d but %d NamedProperties", n, len(npi.NamedProperties))
	if n > 0 {
		v.check(int(npi.NamedPropertiesSize) == npi.DerivedSize(), "NamedPropertiesSize %d, the names take %d bytes", npi.NamedPropertiesSize, npi.DerivedSize())
	}
	seen := map[uint16]bool{}
	for _, id := range npi.PropIDs {
		v.check(id >= 0x8000, "PropID 0x%04X is below 0x8000", id)
		v.check(!seen[id], "PropID 0x%04X appears more than once", id)
		seen[id] = true
	}
	for i, pn := range npi.NamedProperties {
		v.check(len(pn.GUID) == 16, "PropertyName[%d] GUID must be 16 bytes", i)
		switch pn.Kind {
		case mapi.KindLID, mapi.KindNone:
		case mapi.KindString:
			v.check(int(pn.NameSize) == len(pn.Name), "PropertyName[%d] NameSize %d but the name is %d bytes", i, pn.NameSize, len(pn.Name))
			v.check(pn.NameSize >= 2 && pn.NameSize%2 == 0, "PropertyName[%d] NameSize %d is not a terminated UTF-16 string", i, pn.NameSize)
			v.check(len(pn.Name) < 2 || bytes.HasSuffix(pn.Name, []byte{0, 0}), "PropertyName[%d] Name is not null terminated", i)
		default:
			v.check(false, "PropertyName[%d] Kind 0x%02X is not 0x00, 0x01 or 0xFF", i, pn.Kind)
		}
	}
	return v.err()
}

//ValidateExtendedRuleActions checks the version, the named properties and the 4 byte RuleAction.
//Named property ids used by OP_TAG actions must be listed in the NamedPropertyInformation.
func ValidateExtendedRuleActions(era *mapi.ExtendedRuleActions) error {
	v := &violations{structure: "ExtendedRuleActions"}
	v.check(era.RuleVersion == 1, "RuleVersion must be 0x00000001, got 0x%08X", era.RuleVersion)
	v.add(ValidateNamedPropertyInformation(&era.NamedPropertyInformation))
	v.add(ValidateRuleAction(&era.RuleActionBuffer, true))
	for _, ab := range era.RuleActionBuffer.ActionBlocks {
		tag, ok := ab.ActionData.(mapi.TagActionData)
		if !ok {
			continue
		}
		id := tag.TaggedValue.PropertyTag.PropertyID
		if id >= 0x8000 {
			_, found := era.NamedPropertyInformation.Lookup(id)
			v.check(found, "OP_TAG property id 0x%04X is not in NamedPropertyInformation", id)
		}
	}
	return v.err()
}

//ValidateFolderEntryID checks a Folder EntryID, mailboxGUID is compared when not nil
func ValidateFolderEntryID(f *mapi.FolderEntryID, mailboxGUID []byte) error {
	v := &violations{structure: "FolderEntryID"}
	v.check(f.Flags == 0, "Flags must be 0x00000000, got 0x%08X", f.Flags)
	v.check(f.FolderType == mapi.PrivateFolder || f.FolderType == mapi.PublicFolder, "FolderType 0x%04X is not PrivateFolder (0x0001) or PublicFolder (0x0003)", f.FolderType)
	v.check(!zero(f.DatabaseGUID), "DatabaseGuid is all zero")
	v.check(len(f.GlobalCounter) == 6, "GlobalCounter must be 6 bytes")
	v.check(f.Pad == 0, "Pad must be 0x0000, got 0x%04X", f.Pad)
	if mailboxGUID != nil {
		v.check(bytes.Equal(f.ProviderUID, mailboxGUID), "ProviderUID is not the mailbox GUID")
	}
	return v.err()
}

//ValidateMessageEntryID checks a Message EntryID, mailboxGUID is compared when not nil
func ValidateMessageEntryID(m *mapi.MessageEntryID, mailboxGUID []byte) error {
	v := &violations{structure: "MessageEntryID"}
	v.check(m.Flags == 0, "Flags must be 0x00000000, got 0x%08X", m.Flags)
	v.check(m.MessageType == mapi.PrivateMessage || m.MessageType == mapi.PublicMessage, "MessageType 0x%04X is not PrivateMessage (0x0007) or PublicMessage (0x0009)", m.MessageType)
	v.check(!zero(m.FolderDatabaseGUID), "FolderDatabaseGuid is all zero")
	v.check(!zero(m.MessageDatabaseGUID), "MessageDatabaseGuid is all zero")
	v.check(m.Pad1 == 0, "Pad1 must be 0x0000, got 0x%04X", m.Pad1)
	v.check(m.Pad2 == 0, "Pad2 must be 0x0000, got 0x%04X", m.Pad2)
	if mailboxGUID != nil {
		v.check(bytes.Equal(m.ProviderUID, mailboxGUID), "ProviderUID is not the mailbox GUID")
	}
	return v.err()
}

//ValidateStoreObjectEntryID checks the fixed fields of a Store Object EntryID
func ValidateStoreObjectEntryID(s *mapi.StoreObjectEntryID) error {
	v := &violations{structure: "StoreObjectEntryID"}
	v.check(s.Flags == 0, "Flags must be 0x00000000, got 0x%08X", s.Flags)
	v.check(mapi.GUIDEqual(s.ProviderUID, mapi.StoreObjectProviderUID), "ProviderUID is not %s", mapi.StoreObjectProviderUID)
	v.check(s.Version == 0, "Version must be 0x00, got 0x%02X", s.Version)
	v.check(s.Flag == 0, "Flag must be 0x00, got 0x%02X", s.Flag)
	v.check(s.DLLName() == mapi.StoreDLLName, "DLLFileName %q is not %q", s.DLLName(), mapi.StoreDLLName)
	v.check(zero(s.DLLFileName[min(len(s.DLLFileName), len(mapi.StoreDLLName)):]), "DLLFileName padding is not zero")
	v.check(s.WrappedFlags == 0, "WrappedFlags must be 0x00000000, got 0x%08X", s.WrappedFlags)
	switch {
	case mapi.GUIDEqual(s.WrappedProviderUID, mapi.MailboxStoreUID):
		v.check(s.WrappedType == mapi.WrappedMailbox, "WrappedType 0x%08X for a mailbox store", s.WrappedType)
		v.check(s.MailboxDN != "", "MailboxDN is empty for a mailbox store")
	case mapi.GUIDEqual(s.WrappedProviderUID, mapi.PublicStoreUID):
		v.check(s.WrappedType == mapi.WrappedPublic, "WrappedType 0x%08X for a public store", s.WrappedType)
	default:
		v.check(false, "WrappedProviderUID is neither the mailbox nor the public store")
	}
	v.check(s.ServerShortname != "", "ServerShortname is empty")
	return v.err()
}

//ValidateServerEID checks a ServerEid referencing a folder in the same store
func ValidateServerEID(s *mapi.ServerEID) error {
	v := &violations{structure: "ServerEid"}
	v.check(s.Ours == 0x01, "Ours must be 0x01, got 0x%02X", s.Ours)
	v.check(s.FolderID != 0, "FolderId is zero")
	v.check(s.MessageID == 0, "MessageId must be 0, got 0x%016X", s.MessageID)
	v.check(s.Instance == 0, "Instance must be 0, got 0x%08X", s.Instance)
	return v.err()
}
