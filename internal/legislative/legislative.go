// Package legislative answers proposal submission and attachment upload
// intents on behalf of the signed-in sponsor.
package legislative

import (
	"context"
	"errors"
	"log/slog"

	"civitas/internal/actor"
	"civitas/internal/bus"
	"civitas/internal/identity"
	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/platform/sentinel"
)

const Name = "legislative"

type State struct {
	Sponsor   Sponsor
	Pending   int
	Submitted int
	Uploaded  int
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

type Legislative struct {
	*actor.Base[State]
	registry Registry
	storage  Storage
}

// New subscribes the actor. Build it before the identity actor, or rely on
// identity re-emitting LOGIN_SUCCESS on rehydration, so the sponsor is known.
func New(b *bus.Bus, registry Registry, storage Storage, opts ...Option) *Legislative {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	l := &Legislative{registry: registry, storage: storage}
	l.Base = actor.NewBase(b, Name, State{},
		append(o.actorOpts, actor.WithInvalidPayload(l.reject))...)
	l.Start(l.initialize)
	return l
}

func (l *Legislative) initialize() {
	actor.On(l.Base, identity.TypeLoginSuccess, l.handleLogin)
	actor.On(l.Base, identity.TypeRoleSwitched, l.handleRoleSwitched)
	l.Listen(identity.TypeLogoutSuccess, l.handleLogout)

	actor.On(l.Base, TypeSubmitProposal, l.handleSubmit)
	actor.On(l.Base, TypeUploadAttachment, l.handleUpload)
}

func (l *Legislative) reject(ctx context.Context, sig signal.Signal, err error) {
	switch sig.Type {
	case TypeSubmitProposal, TypeUploadAttachment:
		l.Fail(ctx, TypeError, sig, err)
	default:
		l.Logger().WarnContext(ctx, "ignoring malformed identity signal", "signal_type", sig.Type, "error", err)
	}
}

// forged reports identity outcomes that did not come from the identity actor.
func (l *Legislative) forged(ctx context.Context, sig signal.Signal) bool {
	if identity.Emitted(sig) {
		return false
	}
	l.Logger().WarnContext(ctx, "ignoring identity signal from another source",
		"signal_type", sig.Type,
		"signal_source", sig.Source,
	)
	return true
}

func (l *Legislative) handleLogin(ctx context.Context, p identity.LoginSuccess, sig signal.Signal) error {
	if l.forged(ctx, sig) {
		return nil
	}
	l.UpdateState(func(s *State) {
		s.Sponsor = Sponsor{UserID: p.User.ID, Name: p.User.Name, Role: string(p.Role)}
	})
	return nil
}

func (l *Legislative) handleRoleSwitched(ctx context.Context, p identity.RoleSwitched, sig signal.Signal) error {
	if l.forged(ctx, sig) {
		return nil
	}
	l.UpdateState(func(s *State) {
		if s.Sponsor.Present() {
			s.Sponsor.Role = string(p.Role)
		}
	})
	return nil
}

func (l *Legislative) handleLogout(ctx context.Context, _ any, sig signal.Signal) error {
	if l.forged(ctx, sig) {
		return nil
	}
	l.UpdateState(func(s *State) { s.Sponsor = Sponsor{} })
	return nil
}

func (l *Legislative) handleSubmit(ctx context.Context, intent SubmitProposal, sig signal.Signal) error {
	sponsor := l.State().Sponsor
	if !sponsor.Present() {
		l.Fail(ctx, TypeError, sig, dErrors.New(dErrors.CodeUnauthorized, "sign in to submit a proposal"))
		return nil
	}
	proposal := Proposal{
		Title:       intent.Title,
		Summary:     intent.Summary,
		Category:    intent.Category,
		Tags:        intent.Tags,
		Kind:        sponsor.ProposalKind(),
		SponsorID:   sponsor.UserID,
		SponsorRole: sponsor.Role,
		Status:      StatusSubmitted,
	}

	l.UpdateState(func(s *State) { s.Pending++ })
	l.Emit(ctx, TypeSubmissionStarted, SubmissionStarted{
		OriginalSignalID: sig.ID,
		Title:            proposal.Title,
		Kind:             proposal.Kind,
	})

	l.Go(ctx, func(ctx context.Context) {
		created, err := l.registry.CreateProposal(ctx, proposal)
		if !l.Alive() {
			return
		}
		if err != nil {
			l.UpdateState(func(s *State) { s.Pending-- })
			l.Fail(ctx, TypeError, sig, translate(err))
			return
		}
		l.UpdateState(func(s *State) {
			s.Pending--
			s.Submitted++
		})
		l.Succeed(ctx, TypeProposalSubmitted, sig, ProposalSubmitted{OriginalSignalID: sig.ID, Proposal: created})
	}, l.failOnPanic(sig))
	return nil
}

func (l *Legislative) handleUpload(ctx context.Context, intent UploadAttachment, sig signal.Signal) error {
	if !l.State().Sponsor.Present() {
		l.Fail(ctx, TypeError, sig, dErrors.New(dErrors.CodeUnauthorized, "sign in to upload attachments"))
		return nil
	}
	attachment := Attachment{
		ProposalID:  intent.ProposalID,
		FileName:    intent.FileName,
		ContentType: intent.ContentType,
		Content:     intent.Content,
	}

	l.UpdateState(func(s *State) { s.Pending++ })
	l.Emit(ctx, TypeUploadStarted, UploadStarted{
		OriginalSignalID: sig.ID,
		ProposalID:       intent.ProposalID,
		FileName:         intent.FileName,
		Size:             len(intent.Content),
	}, actor.WithPriority(signal.PriorityReflex))

	l.Go(ctx, func(ctx context.Context) {
		stored, err := l.storage.Upload(ctx, attachment)
		if !l.Alive() {
			return
		}
		if err != nil {
			l.UpdateState(func(s *State) { s.Pending-- })
			l.Fail(ctx, TypeError, sig, translate(err))
			return
		}
		l.UpdateState(func(s *State) {
			s.Pending--
			s.Uploaded++
		})
		l.Succeed(ctx, TypeAttachmentUploaded, sig, AttachmentUploaded{OriginalSignalID: sig.ID, File: stored})
	}, l.failOnPanic(sig))
	return nil
}

// translate maps store sentinels to domain codes. Anything else is reported
// as the backend being unavailable.
func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "a proposal with this title already exists")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "proposal does not exist")
	case errors.Is(err, sentinel.ErrTooLarge):
		return dErrors.New(dErrors.CodeValidation, "attachment is too large")
	}
	return err
}

// failOnPanic answers an intent whose collaborator call panicked.
func (l *Legislative) failOnPanic(sig signal.Signal) actor.GoOption {
	return actor.OnPanic(func(ctx context.Context, err error) {
		l.UpdateState(func(s *State) { s.Pending-- })
		l.Fail(ctx, TypeError, sig, err)
	})
}
