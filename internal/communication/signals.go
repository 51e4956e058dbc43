package communication

import (
	"strings"
	"time"
	"unicode/utf8"

	dErrors "civitas/pkg/domain-errors"
	pstrings "civitas/pkg/platform/strings"
)

const (
	TypeSendMessage        = "COMMUNICATION:SEND_MESSAGE"
	TypeSending            = "COMMUNICATION:SENDING"
	TypeMessageSent        = "COMMUNICATION:MESSAGE_SENT"
	TypeOpenConversation   = "COMMUNICATION:OPEN_CONVERSATION"
	TypeOpening            = "COMMUNICATION:OPENING"
	TypeConversationOpened = "COMMUNICATION:CONVERSATION_OPENED"
	TypeError              = "COMMUNICATION:ERROR"
)

// MaxContentLength bounds a single message, in runes.
const MaxContentLength = 4000

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

type SendMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

func (p SendMessage) Validate() error {
	if strings.TrimSpace(p.ConversationID) == "" {
		return dErrors.New(dErrors.CodeValidation, "conversationId is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return dErrors.New(dErrors.CodeValidation, "content is required")
	}
	if utf8.RuneCountInString(p.Content) > MaxContentLength {
		return dErrors.Newf(dErrors.CodeValidation, "content exceeds %d characters", MaxContentLength)
	}
	return nil
}

type Sending struct {
	OriginalSignalID string `json:"originalSignalId"`
	ConversationID   string `json:"conversationId"`
}

type MessageSent struct {
	OriginalSignalID string  `json:"originalSignalId"`
	Message          Message `json:"message"`
}

type OpenConversation struct {
	Participants []string `json:"participants"`
	Subject      string   `json:"subject"`
}

type Opening struct {
	OriginalSignalID string   `json:"originalSignalId"`
	Participants     []string `json:"participants"`
}

func (p *OpenConversation) Validate() error {
	p.Participants = pstrings.DedupeAndTrim(p.Participants)
	if len(p.Participants) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one participant is required")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	return nil
}

type ConversationOpened struct {
	OriginalSignalID string       `json:"originalSignalId"`
	Conversation     Conversation `json:"conversation"`
}
