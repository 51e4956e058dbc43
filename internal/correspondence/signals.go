package correspondence

import (
	"strings"
	"time"

	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/email"
)

const (
	TypeSendEmail        = "CORRESPONDENCE:SEND_EMAIL"
	TypeEmailStarted     = "CORRESPONDENCE:EMAIL_STARTED"
	TypeEmailSent        = "CORRESPONDENCE:EMAIL_SENT"
	TypeGenerateDocument = "CORRESPONDENCE:GENERATE_DOCUMENT"
	TypeDocumentStarted  = "CORRESPONDENCE:DOCUMENT_STARTED"
	TypeDocumentReady    = "CORRESPONDENCE:DOCUMENT_READY"
	TypeError            = "CORRESPONDENCE:ERROR"
)

// MaxRecipients bounds a single SEND_EMAIL.
const MaxRecipients = 50

type Email struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

type Receipt struct {
	MessageID  string    `json:"messageId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

type Document struct {
	ID          string `json:"id"`
	TemplateID  string `json:"templateId"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// SendEmail is also the Email handed to the Mailer once validated.
type SendEmail Email

// Validate normalises recipients in place.
func (p *SendEmail) Validate() error {
	to, err := email.ParseRecipients(p.To)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid recipient")
	}
	if len(to) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one recipient is required")
	}
	if len(to) > MaxRecipients {
		return dErrors.Newf(dErrors.CodeValidation, "at most %d recipients are allowed", MaxRecipients)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	p.To = to
	return nil
}

type EmailStarted struct {
	OriginalSignalID string   `json:"originalSignalId"`
	To               []string `json:"to"`
}

type EmailSent struct {
	OriginalSignalID string  `json:"originalSignalId"`
	Receipt          Receipt `json:"receipt"`
}

type GenerateDocument struct {
	TemplateID string            `json:"templateId"`
	Fields     map[string]string `json:"fields"`
}

func (p GenerateDocument) Validate() error {
	if strings.TrimSpace(p.TemplateID) == "" {
		return dErrors.New(dErrors.CodeValidation, "templateId is required")
	}
	return nil
}

type DocumentStarted struct {
	OriginalSignalID string `json:"originalSignalId"`
	TemplateID       string `json:"templateId"`
}

type DocumentReady struct {
	OriginalSignalID string `json:"originalSignalId"`
	DocumentID       string `json:"documentId"`
	TemplateID       string `json:"templateId"`
	URL              string `json:"url"`
}
