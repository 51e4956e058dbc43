// Package communication answers messaging intents: sending a message into a
// conversation and opening a new conversation.
package communication

import (
	"context"
	"log/slog"

	"civitas/internal/actor"
	"civitas/internal/bus"
	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
)

const Name = "communication"

// State counts in-flight and completed operations.
type State struct {
	Pending            int
	Sent               int
	Opened             int
	LastConversationID string
}

type options struct {
	actorOpts []actor.Option
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.actorOpts = append(o.actorOpts, actor.WithLogger(l))
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.actorOpts = append(o.actorOpts, actor.WithMetrics(m))
	}
}

type Communication struct {
	*actor.Base[State]
	messenger Messenger
}

func New(b *bus.Bus, messenger Messenger, opts ...Option) *Communication {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Communication{messenger: messenger}
	c.Base = actor.NewBase(b, Name, State{},
		append(o.actorOpts, actor.WithInvalidPayload(c.reject))...)
	c.Start(c.initialize)
	return c
}

func (c *Communication) initialize() {
	actor.On(c.Base, TypeSendMessage, c.handleSend)
	actor.On(c.Base, TypeOpenConversation, c.handleOpen)
}

func (c *Communication) reject(ctx context.Context, sig signal.Signal, err error) {
	c.Fail(ctx, TypeError, sig, err)
}

func (c *Communication) handleSend(ctx context.Context, intent SendMessage, sig signal.Signal) error {
	c.UpdateState(func(s *State) { s.Pending++ })
	c.Emit(ctx, TypeSending, Sending{OriginalSignalID: sig.ID, ConversationID: intent.ConversationID},
		actor.WithPriority(signal.PriorityReflex))

	c.Go(ctx, func(ctx context.Context) {
		msg, err := c.messenger.Send(ctx, intent.ConversationID, intent.Content)
		if !c.Alive() {
			return
		}
		if err != nil {
			c.UpdateState(func(s *State) { s.Pending-- })
			c.Fail(ctx, TypeError, sig, err)
			return
		}
		c.UpdateState(func(s *State) {
			s.Pending--
			s.Sent++
			s.LastConversationID = msg.ConversationID
		})
		c.Succeed(ctx, TypeMessageSent, sig, MessageSent{OriginalSignalID: sig.ID, Message: msg})
	}, c.failOnPanic(sig))
	return nil
}

func (c *Communication) handleOpen(ctx context.Context, intent OpenConversation, sig signal.Signal) error {
	c.UpdateState(func(s *State) { s.Pending++ })
	c.Emit(ctx, TypeOpening, Opening{OriginalSignalID: sig.ID, Participants: intent.Participants},
		actor.WithPriority(signal.PriorityReflex))

	c.Go(ctx, func(ctx context.Context) {
		conv, err := c.messenger.Open(ctx, intent.Participants, intent.Subject)
		if !c.Alive() {
			return
		}
		if err != nil {
			c.UpdateState(func(s *State) { s.Pending-- })
			c.Fail(ctx, TypeError, sig, err)
			return
		}
		c.UpdateState(func(s *State) {
			s.Pending--
			s.Opened++
			s.LastConversationID = conv.ID
		})
		c.Succeed(ctx, TypeConversationOpened, sig, ConversationOpened{OriginalSignalID: sig.ID, Conversation: conv})
	}, c.failOnPanic(sig))
	return nil
}

// failOnPanic answers an intent whose collaborator call panicked.
func (c *Communication) failOnPanic(sig signal.Signal) actor.GoOption {
	return actor.OnPanic(func(ctx context.Context, err error) {
		c.UpdateState(func(s *State) { s.Pending-- })
		c.Fail(ctx, TypeError, sig, err)
	})
}
