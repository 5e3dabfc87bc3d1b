package activesync

//License is a RightsManagementLicense attached to a protected item
type License struct {
	TemplateID                string
	TemplateName              string
	TemplateDescription       string
	Owner                     bool
	ContentOwner              string
	ContentExpiryDate         string
	EditAllowed               bool
	ReplyAllowed              bool
	ReplyAllAllowed           bool
	ForwardAllowed            bool
	ModifyRecipientsAllowed   bool
	ExtractAllowed            bool
	PrintAllowed              bool
	ExportAllowed             bool
	ProgrammaticAccessAllowed bool
}

//Item is an email as returned by Sync, ItemOperations and Search
type Item struct {
	CollectionID string
	ServerID     string
	LongID       string
	Class        string
	Subject      string
	From         string
	To           string
	Read         bool
	Body         string
	Attachments  []string
	License      *License
}

//Template is one entry of the RightsManagementTemplates list
type Template struct {
	ID          string
	Name        string
	Description string
}

const rmPrefix = "RightsManagement:"

func flag(n *Node, name string) bool {
	v := n.Value(name)
	return v == "1" || v == "true"
}

func parseLicense(n *Node) *License {
	if n == nil {
		return nil
	}
	return &License{
		TemplateID:                n.Value(rmPrefix + "TemplateID"),
		TemplateName:              n.Value(rmPrefix + "TemplateName"),
		TemplateDescription:       n.Value(rmPrefix + "TemplateDescription"),
		Owner:                     flag(n, rmPrefix+"Owner"),
		ContentOwner:              n.Value(rmPrefix + "ContentOwner"),
		ContentExpiryDate:         n.Value(rmPrefix + "ContentExpiryDate"),
		EditAllowed:               flag(n, rmPrefix+"EditAllowed"),
		ReplyAllowed:              flag(n, rmPrefix+"ReplyAllowed"),
		ReplyAllAllowed:           flag(n, rmPrefix+"ReplyAllAllowed"),
		ForwardAllowed:            flag(n, rmPrefix+"ForwardAllowed"),
		ModifyRecipientsAllowed:   flag(n, rmPrefix+"ModifyRecipientsAllowed"),
		ExtractAllowed:            flag(n, rmPrefix+"ExtractAllowed"),
		PrintAllowed:              flag(n, rmPrefix+"PrintAllowed"),
		ExportAllowed:             flag(n, rmPrefix+"ExportAllowed"),
		ProgrammaticAccessAllowed: flag(n, rmPrefix+"ProgrammaticAccessAllowed"),
	}
}

//parseItem reads the email properties of an ApplicationData or Properties element
func parseItem(props *Node) Item {
	it := Item{
		Subject: props.Value("Email:Subject"),
		From:    props.Value("Email:From"),
		To:      props.Value("Email:To"),
		Read:    flag(props, "Email:Read"),
		Body:    props.Value("AirSyncBase:Body", "AirSyncBase:Data"),
		License: parseLicense(props.Child(rmPrefix + "RightsManagementLicense")),
	}
	for _, a := range props.Find("AirSyncBase:Attachments").All("AirSyncBase:Attachment") {
		it.Attachments = append(it.Attachments, a.Value("AirSyncBase:DisplayName"))
	}
	return it
}

func parseTemplate(n *Node) Template {
	return Template{
		ID:          n.Value(rmPrefix + "TemplateID"),
		Name:        n.Value(rmPrefix + "TemplateName"),
		Description: n.Value(rmPrefix + "TemplateDescription"),
	}
}
