// Package social answers directory search and follow intents for the
// signed-in viewer.
package social

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

const Name = "social"

type State struct {
	ViewerID  string
	Pending   int
	Following int
	LastQuery string
	LastCount int
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

type Social struct {
	*actor.Base[State]
	directory Directory
}

func New(b *bus.Bus, directory Directory, opts ...Option) *Social {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Social{directory: directory}
	s.Base = actor.NewBase(b, Name, State{},
		append(o.actorOpts, actor.WithInvalidPayload(s.reject))...)
	s.Start(s.initialize)
	return s
}

func (s *Social) initialize() {
	actor.On(s.Base, identity.TypeLoginSuccess, func(ctx context.Context, p identity.LoginSuccess, sig signal.Signal) error {
		if !identity.Emitted(sig) {
			s.Logger().WarnContext(ctx, "ignoring login from another source", "signal_source", sig.Source)
			return nil
		}
		return s.SetState(State{ViewerID: p.User.ID})
	})
	s.Listen(identity.TypeLogoutSuccess, func(ctx context.Context, _ any, sig signal.Signal) error {
		if !identity.Emitted(sig) {
			s.Logger().WarnContext(ctx, "ignoring logout from another source", "signal_source", sig.Source)
			return nil
		}
		s.UpdateState(func(st *State) { st.ViewerID = "" })
		return nil
	})

	actor.On(s.Base, TypeSearch, s.handleSearch)
	actor.On(s.Base, TypeFollow, s.handleFollow)
}

func (s *Social) reject(ctx context.Context, sig signal.Signal, err error) {
	switch sig.Type {
	case TypeSearch, TypeFollow:
		s.Fail(ctx, TypeError, sig, err)
	default:
		s.Logger().WarnContext(ctx, "ignoring malformed identity signal", "signal_type", sig.Type, "error", err)
	}
}

func (s *Social) handleSearch(ctx context.Context, intent Search, sig signal.Signal) error {
	s.UpdateState(func(st *State) { st.Pending++ })
	s.Emit(ctx, TypeSearchStarted, SearchStarted{OriginalSignalID: sig.ID, Query: intent.Query},
		actor.WithPriority(signal.PriorityReflex))

	s.Go(ctx, func(ctx context.Context) {
		results, err := s.directory.Search(ctx, intent.Query, intent.Limit)
		if !s.Alive() {
			return
		}
		if err != nil {
			s.UpdateState(func(st *State) { st.Pending-- })
			s.Fail(ctx, TypeError, sig, err)
			return
		}
		if results == nil {
			results = []Profile{}
		}
		s.UpdateState(func(st *State) {
			st.Pending--
			st.LastQuery = intent.Query
			st.LastCount = len(results)
		})
		s.Succeed(ctx, TypeSearchResults, sig, SearchResults{
			OriginalSignalID: sig.ID,
			Query:            intent.Query,
			Results:          results,
		})
	}, s.failOnPanic(sig))
	return nil
}

func (s *Social) handleFollow(ctx context.Context, intent FollowIntent, sig signal.Signal) error {
	viewer := s.State().ViewerID
	switch {
	case viewer == "":
		s.Fail(ctx, TypeError, sig, dErrors.New(dErrors.CodeUnauthorized, "sign in to follow users"))
		return nil
	case viewer == intent.UserID:
		s.Fail(ctx, TypeError, sig, dErrors.New(dErrors.CodeValidation, "you cannot follow yourself"))
		return nil
	}

	s.UpdateState(func(st *State) { st.Pending++ })
	s.Emit(ctx, TypeFollowStarted, FollowStarted{OriginalSignalID: sig.ID, UserID: intent.UserID},
		actor.WithPriority(signal.PriorityReflex))

	s.Go(ctx, func(ctx context.Context) {
		follow, err := s.directory.Follow(ctx, viewer, intent.UserID)
		if !s.Alive() {
			return
		}
		if err != nil {
			s.UpdateState(func(st *State) { st.Pending-- })
			s.Fail(ctx, TypeError, sig, translate(err))
			return
		}
		s.UpdateState(func(st *State) {
			st.Pending--
			st.Following++
		})
		s.Succeed(ctx, TypeFollowed, sig, Followed{OriginalSignalID: sig.ID, Follow: follow})
	}, s.failOnPanic(sig))
	return nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "already following this user")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "user does not exist")
	}
	return err
}

// failOnPanic answers an intent whose collaborator call panicked.
func (s *Social) failOnPanic(sig signal.Signal) actor.GoOption {
	return actor.OnPanic(func(ctx context.Context, err error) {
		s.UpdateState(func(st *State) { st.Pending-- })
		s.Fail(ctx, TypeError, sig, err)
	})
}
