package activesync

//Code pages used by the commands in this package, MS-ASWBXML section 2.1.2
const (
	PageAirSync          = 0
	PageEmail            = 2
	PageFolderHierarchy  = 7
	PageProvision        = 14
	PageSearch           = 15
	PageAirSyncBase      = 17
	PageSettings         = 18
	PageItemOperations   = 20
	PageComposeMail      = 21
	PageRightsManagement = 24
)

type codePage struct {
	name string
	tags map[byte]string
}

type tagRef struct {
	page  byte
	token byte
}

var codePages = map[byte]codePage{
	PageAirSync: {"AirSync", map[byte]string{
		0x05: "Sync", 0x06: "Responses", 0x07: "Add", 0x08: "Change", 0x09: "Delete",
		0x0A: "Fetch", 0x0B: "SyncKey", 0x0C: "ClientId", 0x0D: "ServerId", 0x0E: "Status",
		0x0F: "Collection", 0x10: "Class", 0x12: "CollectionId", 0x13: "GetChanges",
		0x14: "MoreAvailable", 0x15: "WindowSize", 0x16: "Commands", 0x17: "Options",
		0x18: "FilterType", 0x1B: "Conflict", 0x1C: "Collections", 0x1D: "ApplicationData",
		0x1E: "DeletesAsMoves", 0x20: "Supported", 0x21: "SoftDelete", 0x22: "MIMESupport",
		0x23: "MIMETruncation", 0x24: "Wait", 0x25: "Limit", 0x26: "Partial",
		0x27: "ConversationMode", 0x28: "MaxItems", 0x29: "HeartbeatInterval",
	}},
	PageEmail: {"Email", map[byte]string{
		0x0F: "DateReceived", 0x11: "DisplayTo", 0x12: "Importance", 0x13: "MessageClass",
		0x14: "Subject", 0x15: "Read", 0x16: "To", 0x17: "Cc", 0x18: "From", 0x19: "ReplyTo",
		0x1A: "AllDayEvent", 0x1B: "Categories", 0x1C: "Category", 0x1D: "DTStamp",
		0x1E: "EndTime", 0x1F: "InstanceType", 0x20: "BusyStatus", 0x21: "Location",
		0x22: "MeetingRequest", 0x23: "Organizer", 0x24: "RecurrenceId", 0x25: "Reminder",
		0x26: "ResponseRequested", 0x27: "Recurrences", 0x28: "Recurrence",
		0x31: "StartTime", 0x32: "Sensitivity", 0x33: "TimeZone", 0x34: "GlobalObjId",
		0x35: "ThreadTopic", 0x39: "InternetCPID", 0x3A: "Flag", 0x3B: "FlagStatus",
		0x3C: "ContentClass", 0x3D: "FlagType", 0x3E: "CompleteTime",
		0x3F: "DisallowNewTimeProposal",
	}},
	PageFolderHierarchy: {"FolderHierarchy", map[byte]string{
		0x07: "DisplayName", 0x08: "ServerId", 0x09: "ParentId", 0x0A: "Type",
		0x0C: "Status", 0x0E: "Changes", 0x0F: "Add", 0x10: "Delete", 0x11: "Update",
		0x12: "SyncKey", 0x13: "FolderCreate", 0x14: "FolderDelete", 0x15: "FolderUpdate",
		0x16: "FolderSync", 0x17: "Count",
	}},
	PageProvision: {"Provision", map[byte]string{
		0x05: "Provision", 0x06: "Policies", 0x07: "Policy", 0x08: "PolicyType",
		0x09: "PolicyKey", 0x0A: "Data", 0x0B: "Status", 0x0C: "RemoteWipe",
		0x0D: "EASProvisionDoc",
	}},
	PageSearch: {"Search", map[byte]string{
		0x05: "Search", 0x07: "Store", 0x08: "Name", 0x09: "Query", 0x0A: "Options",
		0x0B: "Range", 0x0C: "Status", 0x0D: "Response", 0x0E: "Result", 0x0F: "Properties",
		0x10: "Total", 0x11: "EqualTo", 0x12: "Value", 0x13: "And", 0x14: "Or",
		0x15: "FreeText", 0x17: "DeepTraversal", 0x18: "LongId", 0x19: "RebuildResults",
		0x1A: "LessThan", 0x1B: "GreaterThan", 0x1E: "UserName", 0x1F: "Password",
		0x20: "ConversationId",
	}},
	PageAirSyncBase: {"AirSyncBase", map[byte]string{
		0x05: "BodyPreference", 0x06: "Type", 0x07: "TruncationSize", 0x08: "AllOrNone",
		0x0A: "Body", 0x0B: "Data", 0x0C: "EstimatedDataSize", 0x0D: "Truncated",
		0x0E: "Attachments", 0x0F: "Attachment", 0x10: "DisplayName", 0x11: "FileReference",
		0x12: "Method", 0x13: "ContentId", 0x14: "ContentLocation", 0x15: "IsInline",
		0x16: "NativeBodyType", 0x17: "ContentType", 0x18: "Preview",
		0x19: "BodyPartPreference", 0x1A: "BodyPart", 0x1B: "Status",
	}},
	PageSettings: {"Settings", map[byte]string{
		0x05: "Settings", 0x06: "Status", 0x07: "Get", 0x08: "Set", 0x09: "Oof",
		0x0A: "OofState", 0x0B: "StartTime", 0x0C: "EndTime", 0x0D: "OofMessage",
		0x0E: "AppliesToInternal", 0x0F: "AppliesToExternalKnown",
		0x10: "AppliesToExternalUnknown", 0x11: "Enabled", 0x12: "ReplyMessage",
		0x13: "BodyType", 0x14: "DevicePassword", 0x15: "Password",
		0x16: "DeviceInformation", 0x17: "Model", 0x18: "IMEI", 0x19: "FriendlyName",
		0x1A: "OS", 0x1B: "OSLanguage", 0x1C: "PhoneNumber", 0x1D: "UserInformation",
		0x1E: "EmailAddresses", 0x1F: "SMTPAddress", 0x20: "UserAgent",
		0x21: "EnableOutboundSMS", 0x22: "MobileOperator", 0x23: "PrimarySmtpAddress",
		0x24: "Accounts", 0x25: "Account", 0x26: "AccountId", 0x27: "AccountName",
		0x28: "UserDisplayName", 0x29: "SendDisabled",
		0x2B: "RightsManagementInformation",
	}},
	PageItemOperations: {"ItemOperations", map[byte]string{
		0x05: "ItemOperations", 0x06: "Fetch", 0x07: "Store", 0x08: "Options",
		0x09: "Range", 0x0A: "Total", 0x0B: "Properties", 0x0C: "Data", 0x0D: "Status",
		0x0E: "Response", 0x0F: "Version", 0x10: "Schema", 0x11: "Part",
		0x12: "EmptyFolderContents", 0x13: "DeleteSubFolders", 0x14: "UserName",
		0x15: "Password", 0x16: "Move", 0x17: "DstFldId", 0x18: "ConversationId",
		0x19: "MoveAlways",
	}},
	PageComposeMail: {"ComposeMail", map[byte]string{
		0x05: "SendMail", 0x06: "SmartForward", 0x07: "SmartReply",
		0x08: "SaveInSentItems", 0x09: "ReplaceMime", 0x0B: "Source", 0x0C: "FolderId",
		0x0D: "ItemId", 0x0E: "LongId", 0x0F: "InstanceId", 0x10: "Mime",
		0x11: "ClientId", 0x12: "Status", 0x13: "AccountId",
	}},
	PageRightsManagement: {"RightsManagement", map[byte]string{
		0x05: "RightsManagementSupport", 0x06: "RightsManagementTemplates",
		0x07: "RightsManagementTemplate", 0x08: "RightsManagementLicense",
		0x09: "EditAllowed", 0x0A: "ReplyAllowed", 0x0B: "ReplyAllAllowed",
		0x0C: "ForwardAllowed", 0x0D: "ModifyRecipientsAllowed", 0x0E: "ExtractAllowed",
		0x0F: "PrintAllowed", 0x10: "ExportAllowed", 0x11: "ProgrammaticAccessAllowed",
		0x12: "Owner", 0x13: "ContentExpiryDate", 0x14: "TemplateID",
		0x15: "TemplateName", 0x16: "TemplateDescription", 0x17: "ContentOwner",
		0x18: "RemoveRightsManagementProtection",
	}},
}

var tagsByName = func() map[string]tagRef {
	m := make(map[string]tagRef)
	for page, cp := range codePages {
		for tok, name := range cp.tags {
			m[cp.name+":"+name] = tagRef{page: page, token: tok}
		}
	}
	return m
}()
