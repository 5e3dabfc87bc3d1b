package activesync

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sensepost/exconform/mailer"
)

//NewClientID returns a ClientId for SendMail, unique per message
func NewClientID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

//BuildMIME renders a plain text message suitable for the Mime element
func BuildMIME(from string, to []string, subject, body string, attachments ...mailer.Attachment) ([]byte, error) {
	msg, _, err := mailer.Compose(from, to, subject, body, attachments...)
	if err != nil {
		return nil, fmt.Errorf("mime: %w", err)
	}
	return msg, nil
}

//NewMail builds the ComposeRequest for a new message, protected with
//templateID when it is set
func NewMail(from string, to []string, subject, body, templateID string, attachments ...mailer.Attachment) (*ComposeRequest, error) {
	mime, err := BuildMIME(from, to, subject, body, attachments...)
	if err != nil {
		return nil, err
	}
	return &ComposeRequest{
		ClientID:        NewClientID(),
		MIME:            mime,
		SaveInSentItems: true,
		TemplateID:      templateID,
	}, nil
}
