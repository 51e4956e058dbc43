package communication

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Messenger

// Messenger is the messaging backend.
type Messenger interface {
	Send(ctx context.Context, conversationID, content string) (Message, error)
	Open(ctx context.Context, participants []string, subject string) (Conversation, error)
}
