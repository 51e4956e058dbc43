// Package correspondence answers outbound email and document generation
// intents.
package correspondence

import (
	"context"
	"log/slog"
	"maps"

	"civitas/internal/actor"
	"civitas/internal/bus"
	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
)

const Name = "correspondence"

type State struct {
	Pending   int
	Sent      int
	Generated int
	LastDocID string
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

type Correspondence struct {
	*actor.Base[State]
	mailer   Mailer
	renderer Renderer
}

func New(b *bus.Bus, mailer Mailer, renderer Renderer, opts ...Option) *Correspondence {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Correspondence{mailer: mailer, renderer: renderer}
	c.Base = actor.NewBase(b, Name, State{},
		append(o.actorOpts, actor.WithInvalidPayload(c.reject))...)
	c.Start(c.initialize)
	return c
}

func (c *Correspondence) initialize() {
	actor.On(c.Base, TypeSendEmail, c.handleSendEmail)
	actor.On(c.Base, TypeGenerateDocument, c.handleGenerate)
}

func (c *Correspondence) reject(ctx context.Context, sig signal.Signal, err error) {
	c.Fail(ctx, TypeError, sig, err)
}

func (c *Correspondence) handleSendEmail(ctx context.Context, intent SendEmail, sig signal.Signal) error {
	msg := Email(intent)
	c.UpdateState(func(s *State) { s.Pending++ })
	c.Emit(ctx, TypeEmailStarted, EmailStarted{OriginalSignalID: sig.ID, To: msg.To})

	c.Go(ctx, func(ctx context.Context) {
		receipt, err := c.mailer.Send(ctx, msg)
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
		})
		c.Succeed(ctx, TypeEmailSent, sig, EmailSent{OriginalSignalID: sig.ID, Receipt: receipt})
	}, c.failOnPanic(sig))
	return nil
}

func (c *Correspondence) handleGenerate(ctx context.Context, intent GenerateDocument, sig signal.Signal) error {
	fields := maps.Clone(intent.Fields)
	c.UpdateState(func(s *State) { s.Pending++ })
	c.Emit(ctx, TypeDocumentStarted, DocumentStarted{OriginalSignalID: sig.ID, TemplateID: intent.TemplateID},
		actor.WithPriority(signal.PriorityDream))

	c.Go(ctx, func(ctx context.Context) {
		doc, err := c.renderer.Render(ctx, intent.TemplateID, fields)
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
			s.Generated++
			s.LastDocID = doc.ID
		})
		c.Succeed(ctx, TypeDocumentReady, sig, DocumentReady{
			OriginalSignalID: sig.ID,
			DocumentID:       doc.ID,
			TemplateID:       doc.TemplateID,
			URL:              doc.URL,
		})
	}, c.failOnPanic(sig))
	return nil
}

// failOnPanic answers an intent whose collaborator call panicked.
func (c *Correspondence) failOnPanic(sig signal.Signal) actor.GoOption {
	return actor.OnPanic(func(ctx context.Context, err error) {
		c.UpdateState(func(s *State) { s.Pending-- })
		c.Fail(ctx, TypeError, sig, err)
	})
}
