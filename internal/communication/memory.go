package communication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "civitas/pkg/domain-errors"
)

// MemoryMessenger keeps conversations and messages in process.
type MemoryMessenger struct {
	mu            sync.Mutex
	now           func() time.Time
	conversations map[string]Conversation
	messages      map[string][]Message
}

func NewMemoryMessenger() *MemoryMessenger {
	return &MemoryMessenger{
		now:           time.Now,
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

func (m *MemoryMessenger) Open(_ context.Context, participants []string, subject string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := Conversation{
		ID:           uuid.NewString(),
		Subject:      subject,
		Participants: append([]string(nil), participants...),
		CreatedAt:    m.now(),
	}
	m.conversations[conv.ID] = conv
	return conv, nil
}

func (m *MemoryMessenger) Send(_ context.Context, conversationID, content string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conversationID]; !ok {
		return Message{}, dErrors.Newf(dErrors.CodeNotFound, "conversation %s does not exist", conversationID)
	}
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		SentAt:         m.now(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return msg, nil
}

// Messages returns the messages of a conversation in send order.
func (m *MemoryMessenger) Messages(conversationID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages[conversationID]...)
}
