// Package identity is the Prefrontal actor: it owns who is signed in and which
// role they are acting under, and announces every change on the bus.
//
// Other actors never read identity state directly. They listen for
// LOGIN_SUCCESS and LOGOUT_SUCCESS, which is why a restored session re-emits
// LOGIN_SUCCESS with Restored set.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"civitas/internal/actor"
	"civitas/internal/bus"
	"civitas/internal/platform/metrics"
	"civitas/internal/session"
	"civitas/internal/signal"
	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/platform/sentinel"
)

// Name is the source stamped on every signal this actor emits.
const Name = "identity"

// Session keys.
const (
	keyUser = "identity.user"
	keyRole = "identity.role"
)

type options struct {
	precedence []Role
	actorOpts  []actor.Option
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

// WithPrecedence replaces DefaultPrecedence.
func WithPrecedence(roles ...Role) Option {
	return func(o *options) {
		if len(roles) > 0 {
			o.precedence = roles
		}
	}
}

// Identity is the Anonymous/Authenticated state machine.
type Identity struct {
	*actor.Base[State]
	directory  Directory
	store      session.Store
	precedence []Role
}

// New builds the identity actor, subscribes it and rehydrates any persisted
// session before returning.
func New(b *bus.Bus, directory Directory, store session.Store, opts ...Option) *Identity {
	o := options{precedence: DefaultPrecedence}
	for _, opt := range opts {
		opt(&o)
	}
	id := &Identity{
		directory:  directory,
		store:      store,
		precedence: o.precedence,
	}
	id.Base = actor.NewBase(b, Name, anonymous(),
		append(o.actorOpts, actor.WithInvalidPayload(id.rejectIntent))...)
	id.Start(id.initialize)
	return id
}

func (i *Identity) initialize() {
	actor.On(i.Base, TypeLoginIntent, i.handleLogin)
	i.Listen(TypeLogoutIntent, i.handleLogout)
	actor.On(i.Base, TypeSwitchRoleIntent, i.handleSwitchRole)

	i.rehydrate(i.Context())
}

// rehydrate restores a persisted session. Missing or unreadable sessions leave
// the actor anonymous.
func (i *Identity) rehydrate(ctx context.Context) {
	user, role, err := i.loadSession(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return
	}
	if err != nil {
		i.Logger().WarnContext(ctx, "discarding unreadable session", "error", err)
		return
	}
	if !user.HasRole(role) {
		fallback, ok := HighestRole(user.Roles, i.precedence)
		if !ok {
			i.Logger().WarnContext(ctx, "discarding session without roles", "user_id", user.ID)
			return
		}
		role = fallback
	}

	i.ReplaceState(State{Status: StatusAuthenticated, User: user, Role: role})
	i.Logger().InfoContext(ctx, "session restored", "user_id", user.ID, "role", string(role))
	i.Emit(ctx, TypeLoginSuccess, LoginSuccess{User: user, Role: role, Restored: true},
		actor.WithPriority(signal.PriorityReflex))
}

func (i *Identity) handleLogin(ctx context.Context, intent LoginIntent, sig signal.Signal) error {
	i.Go(ctx, func(ctx context.Context) {
		user, err := i.directory.Resolve(ctx, intent.Phone, intent.AccountType)
		if !i.Alive() {
			return
		}
		if err != nil {
			i.loginFailed(ctx, sig, err)
			return
		}
		role, ok := HighestRole(user.Roles, i.precedence)
		if !ok {
			i.loginFailed(ctx, sig, dErrors.New(dErrors.CodeForbidden, "account has no roles"))
			return
		}

		if err := i.saveSession(ctx, user, role); err != nil {
			// Authentication stands; only restart survival is lost.
			i.Logger().ErrorContext(ctx, "failed to persist session", "user_id", user.ID, "error", err)
		}
		i.ReplaceState(State{Status: StatusAuthenticated, User: user, Role: role})
		i.Succeed(ctx, TypeLoginSuccess, sig, LoginSuccess{User: user, Role: role},
			actor.WithPriority(signal.PriorityReflex))
		i.emitStateChanged(ctx)
	}, i.failOnPanic(sig))
	return nil
}

func (i *Identity) failOnPanic(sig signal.Signal) actor.GoOption {
	return actor.OnPanic(func(ctx context.Context, err error) {
		i.loginFailed(ctx, sig, err)
	})
}

func (i *Identity) loginFailed(ctx context.Context, sig signal.Signal, err error) {
	i.Record("error")
	i.Logger().InfoContext(ctx, "login failed", "signal_id", sig.ID, "error", err)
	i.Emit(ctx, TypeLoginFailure, LoginFailure{
		OriginalSignalID: sig.ID,
		Code:             string(dErrors.CodeOf(err)),
		Reason:           err.Error(),
	}, actor.WithCorrelation(sig.ID), actor.WithPriority(signal.PriorityReflex))
}

func (i *Identity) handleLogout(ctx context.Context, _ any, sig signal.Signal) error {
	prev := i.State()
	for _, key := range []string{keyUser, keyRole} {
		if err := i.store.Remove(ctx, key); err != nil {
			i.Logger().WarnContext(ctx, "failed to clear session key", "key", key, "error", err)
		}
	}
	i.ReplaceState(anonymous())
	i.Succeed(ctx, TypeLogoutSuccess, sig, LogoutSuccess{UserID: prev.User.ID},
		actor.WithPriority(signal.PriorityReflex))
	i.emitStateChanged(ctx)
	return nil
}

// handleSwitchRole ignores roles the user does not hold without emitting.
func (i *Identity) handleSwitchRole(ctx context.Context, intent SwitchRoleIntent, sig signal.Signal) error {
	current := i.State()
	if !current.Authenticated() || !current.User.HasRole(intent.Role) {
		i.Logger().DebugContext(ctx, "ignoring role switch", "role", string(intent.Role), "signal_id", sig.ID)
		return nil
	}

	if err := i.store.Set(ctx, keyRole, []byte(intent.Role)); err != nil {
		i.Logger().ErrorContext(ctx, "failed to persist role", "role", string(intent.Role), "error", err)
	}
	if err := i.SetState(State{Role: intent.Role}); err != nil {
		return err
	}
	i.Succeed(ctx, TypeRoleSwitched, sig, RoleSwitched{Role: intent.Role, Previous: current.Role})
	i.emitStateChanged(ctx)
	return nil
}

// rejectIntent handles payloads that failed validation. A bad login is
// answered with LOGIN_FAILURE; a bad role switch is ignored like an unheld role.
func (i *Identity) rejectIntent(ctx context.Context, sig signal.Signal, err error) {
	if sig.Type == TypeLoginIntent {
		i.loginFailed(ctx, sig, err)
		return
	}
	i.Logger().DebugContext(ctx, "ignoring invalid intent", "signal_type", sig.Type, "error", err)
}

func (i *Identity) emitStateChanged(ctx context.Context) {
	st := i.State()
	i.Emit(ctx, TypeStateChanged, StateChanged{Status: st.Status, UserID: st.User.ID, Role: st.Role})
}

func (i *Identity) loadSession(ctx context.Context) (User, Role, error) {
	rawUser, err := i.store.Get(ctx, keyUser)
	if err != nil {
		return User{}, "", err
	}
	var user User
	if err := json.Unmarshal(rawUser, &user); err != nil {
		return User{}, "", fmt.Errorf("decode persisted user: %w", err)
	}
	rawRole, err := i.store.Get(ctx, keyRole)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return User{}, "", err
	}
	return user, Role(rawRole), nil
}

func (i *Identity) saveSession(ctx context.Context, user User, role Role) error {
	rawUser, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := i.store.Set(ctx, keyUser, rawUser); err != nil {
		return err
	}
	return i.store.Set(ctx, keyRole, []byte(role))
}
