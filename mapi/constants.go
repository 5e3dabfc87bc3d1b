package mapi

const (
	uFlagsUser         = 0x00000000
	uFlagsAdmin        = 0x00000001
	uFlagsNotSpecified = 0x00008000
)

const (
	ropFlagsCompression = 0x0001
	ropFlagsXorMagic    = 0x0002
	ropFlagsChain       = 0x0004
)

//Execute request flags
const (
	execFlagsNoCompression = 0x00000001
	execFlagsNoXorMagic    = 0x00000002
)

//OpenFlags
const (
	UseAdminPrivilege       = 0x00000001
	Public                  = 0x00000002
	HomeLogon               = 0x00000004
	TakeOwnership           = 0x00000008
	AlternateServer         = 0x00000100
	IgnoreHomeMDB           = 0x00000200
	NoMail                  = 0x00000400
	UserPerMdbReplidMapping = 0x01000000
	SupportProgress         = 0x20000000
)

//Property Data types
const (
	PtypUnspecified       = 0x0000
	PtypNull              = 0x0001
	PtypInteger16         = 0x0002
	PtypInteger32         = 0x0003
	PtypFloating32        = 0x0004
	PtypFloating64        = 0x0005
	PtypCurrency          = 0x0006
	PtypFloatingTime      = 0x0007
	PtypErrorCode         = 0x000A
	PtypBoolean           = 0x000B
	PtypInteger64         = 0x0014
	PtypString8           = 0x001E
	PtypString            = 0x001F
	PtypTime              = 0x0040
	PtypGUID              = 0x0048
	PtypServerID          = 0x00FB
	PtypRestriction       = 0x00FD
	PtypRuleAction        = 0x00FE
	PtypBinary            = 0x0102
	PtypMultipleInteger16 = 0x1002
	PtypMultipleInteger32 = 0x1003
	PtypMultipleFloat32   = 0x1004
	PtypMultipleFloat64   = 0x1005
	PtypMultipleCurrency  = 0x1006
	PtypMultipleFloatTime = 0x1007
	PtypMultipleInteger64 = 0x1014
	PtypMultipleString8   = 0x101E
	PtypMultipleString    = 0x101F
	PtypMultipleTime      = 0x1040
	PtypMultipleGUID      = 0x1048
	PtypMultipleBinary    = 0x1102
)

//Folder id/locations, the order of the FolderIds returned by RopLogon for a private mailbox
const (
	TOP            = 0
	DEFERREDACTION = 1
	SPOOLERQ       = 2
	IPM            = 3
	INBOX          = 4
	OUTBOX         = 5
	SENT           = 6
	DELETED        = 7
	COMMON         = 8
	SCHEDULE       = 9
	FINDER         = 10
	VIEWS          = 11
	SHORTCUTS      = 12
)

//PidTagMessageFlags values
const (
	MSGFLAGREAD       = 0x00000001
	MSGFLAGUNMODIFIED = 0x00000002
	MSGFLAGSUBMIT     = 0x00000004
	MSGFLAGUNSENT     = 0x00000008
	MSGFLAGASSOCIATED = 0x00000040
)

//PidTagRuleState flags
const (
	STENABLED         = 0x00000001
	STERROR           = 0x00000002
	STONLYWHENOOF     = 0x00000004
	STKEEPOOFHIST     = 0x00000008
	STEXITLEVEL       = 0x00000010
	STSKIPIFSCLISSAFE = 0x00000020
	STRULEPARSEERROR  = 0x00000040
	STCLEAROOFHIST    = 0x80000000
)

//RuleData flags and RopModifyRules flags
const (
	ROWADD                 = 0x01
	ROWMODIFY              = 0x02
	ROWREMOVE              = 0x04
	MODIFYRULESFLAGREPLACE = 0x01
)

//TableFlags for RopGetContentsTable and RopGetRulesTable
const (
	TableAssociated = 0x02
	TableDeferred   = 0x08
	TableUseUnicode = 0x40
)

//Message classes used by the rules protocol
const (
	ExtendedRuleMessageClass = "IPM.ExtendedRule.Message"
	DAMMessageClass          = "IPC.Microsoft Exchange 4.0.Deferred Action"
	DEMMessageClass          = "IPC.Microsoft Exchange 4.0.Deferred Error"
	ReplyTemplateClass       = "IPM.Note.Rules.ReplyTemplate.Microsoft"
	OofTemplateClass         = "IPM.Note.Rules.OofTemplate.Microsoft"
)

//-------- TAGS -------

//Find these in [MS-OXPROPS]

//PidTagRuleID the TaggedPropertyValue for rule id
var PidTagRuleID = PropertyTag{PtypInteger64, 0x6674}

//PidTagRuleIDs concatenated rule ids on a DAM
var PidTagRuleIDs = PropertyTag{PtypBinary, 0x6675}

//PidTagRuleSequence the TaggedPropertyValue for rule sequence
var PidTagRuleSequence = PropertyTag{PtypInteger32, 0x6676}

//PidTagRuleState the TaggedPropertyValue for rule state
var PidTagRuleState = PropertyTag{PtypInteger32, 0x6677}

//PidTagRuleUserFlags opaque client flags
var PidTagRuleUserFlags = PropertyTag{PtypInteger32, 0x6678}

//PidTagRuleCondition the TaggedPropertyValue for rule condition
var PidTagRuleCondition = PropertyTag{PtypRestriction, 0x6679}

//PidTagRuleActions the TaggedPropertyValue for rule actions
var PidTagRuleActions = PropertyTag{PtypRuleAction, 0x6680}

//PidTagRuleProvider the TaggedPropertyValue for rule provider
var PidTagRuleProvider = PropertyTag{PtypString, 0x6681}

//PidTagRuleName the TaggedPropertyValue for rule name
var PidTagRuleName = PropertyTag{PtypString, 0x6682}

//PidTagRuleLevel the TaggedPropertyValue for rule level
var PidTagRuleLevel = PropertyTag{PtypInteger32, 0x6683}

//PidTagRuleProviderData the TaggedPropertyValue for rule provider data
var PidTagRuleProviderData = PropertyTag{PtypBinary, 0x6684}

//PidTagClientActions the actions a client has to run for a DAM
var PidTagClientActions = PropertyTag{PtypRuleAction, 0x6645}

//PidTagDamOriginalEntryID entry id of the message that triggered a DAM
var PidTagDamOriginalEntryID = PropertyTag{PtypBinary, 0x6646}

//PidTagDamBackPatched whether the DAM was updated by the server
var PidTagDamBackPatched = PropertyTag{PtypBoolean, 0x6647}

//PidTagReplyTemplateID the GUID of a reply template
var PidTagReplyTemplateID = PropertyTag{PtypBinary, 0x65C2}

//PidTagRuleMessageState extended rule state
var PidTagRuleMessageState = PropertyTag{PtypInteger32, 0x65E9}

//PidTagRuleMessageUserFlags extended rule user flags
var PidTagRuleMessageUserFlags = PropertyTag{PtypInteger32, 0x65F6}

//PidTagRuleMessageProvider extended rule provider
var PidTagRuleMessageProvider = PropertyTag{PtypString, 0x65EB}

//PidTagRuleMessageName extended rule name
var PidTagRuleMessageName = PropertyTag{PtypString, 0x65EC}

//PidTagRuleMessageLevel extended rule level
var PidTagRuleMessageLevel = PropertyTag{PtypInteger32, 0x65ED}

//PidTagRuleMessageProviderData extended rule provider data
var PidTagRuleMessageProviderData = PropertyTag{PtypBinary, 0x65EE}

//PidTagRuleMessageSequence extended rule sequence
var PidTagRuleMessageSequence = PropertyTag{PtypInteger32, 0x65F3}

//PidTagExtendedRuleMessageActions the ExtendedRuleActions buffer
var PidTagExtendedRuleMessageActions = PropertyTag{PtypBinary, 0x0E99}

//PidTagExtendedRuleMessageCondition the ExtendedRuleCondition buffer
var PidTagExtendedRuleMessageCondition = PropertyTag{PtypBinary, 0x0E9A}

//PidTagDisplayName display name
var PidTagDisplayName = PropertyTag{PtypString, 0x3001}

//PidTagEntryID entry id of an object
var PidTagEntryID = PropertyTag{PtypBinary, 0x0FFF}

//PidTagEmailAddress email address of a recipient
var PidTagEmailAddress = PropertyTag{PtypString, 0x3003}

//PidTagAddressType address type of a recipient
var PidTagAddressType = PropertyTag{PtypString, 0x3002}

//PidTagSMTPAddress used in recipient
var PidTagSMTPAddress = PropertyTag{PtypString, 0x39FE}

//PidTagRecipientType To, Cc or Bcc
var PidTagRecipientType = PropertyTag{PtypInteger32, 0x0C15}

//PidTagObjectType used in recipient
var PidTagObjectType = PropertyTag{PtypInteger32, 0x0FFE}

//PidTagDisplayType used in recipient
var PidTagDisplayType = PropertyTag{PtypInteger32, 0x3900}

//PidTagFolderID the ID of the folder
var PidTagFolderID = PropertyTag{PtypInteger64, 0x6748}

//PidTagMid is the message id of a message in a store
var PidTagMid = PropertyTag{PtypInteger64, 0x674A}

//PidTagMessageClass message class
var PidTagMessageClass = PropertyTag{PtypString, 0x001A}

//PidTagMessageFlags message status flags
var PidTagMessageFlags = PropertyTag{PtypInteger32, 0x0E07}

//PidTagSubject message subject
var PidTagSubject = PropertyTag{PtypString, 0x0037}

//PidTagImportance message importance, 2 is high
var PidTagImportance = PropertyTag{PtypInteger32, 0x0017}

//PidTagBody plain text body
var PidTagBody = PropertyTag{PtypString, 0x1000}

//PidTagMessageDeliveryTime time the message was delivered
var PidTagMessageDeliveryTime = PropertyTag{PtypTime, 0x0E06}
