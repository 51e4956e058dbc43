package actor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"civitas/internal/bus"
	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/testutil"
)

type owner struct {
	ID   string
	Name string
}

type counterState struct {
	Label   string
	Count   int
	Tags    []string
	Visible bool
	Owner   owner
	Meta    map[string]string
}

type ping struct {
	Label string `json:"label"`
}

func (p ping) Validate() error {
	if p.Label == "" {
		return errors.New("label is required")
	}
	return nil
}

type ActorSuite struct {
	suite.Suite
	ctx     context.Context
	bus     *bus.Bus
	rec     *testutil.Recorder
	metrics *metrics.Metrics
}

func TestActorSuite(t *testing.T) {
	suite.Run(t, new(ActorSuite))
}

func (s *ActorSuite) SetupTest() {
	s.ctx = context.Background()
	s.bus = bus.New()
	s.rec = testutil.Record(s.bus)
	s.metrics = metrics.New(prometheus.NewRegistry())
}

func (s *ActorSuite) newActor(opts ...Option) *Base[counterState] {
	opts = append([]Option{WithMetrics(s.metrics)}, opts...)
	return NewBase(s.bus, "counter", counterState{Label: "initial"}, opts...)
}

func (s *ActorSuite) TestLifecycle() {
	s.Run("listens only after start", func() {
		a := s.newActor()
		a.Listen("PING", func(context.Context, any, signal.Signal) error { return nil })
		s.Equal(0, s.bus.SubscriberCount("PING"))

		a.Start(func() {
			a.Listen("PING", func(context.Context, any, signal.Signal) error { return nil })
		})
		s.Equal(1, s.bus.SubscriberCount("PING"))
		s.True(a.Alive())
	})

	s.Run("start runs initialize once", func() {
		a := s.newActor()
		calls := 0
		a.Start(func() { calls++ })
		a.Start(func() { calls++ })
		s.Equal(1, calls)
	})

	s.Run("kill releases every subscription and is idempotent", func() {
		a := s.newActor()
		a.Start(func() {
			a.Listen("KILL_A", func(context.Context, any, signal.Signal) error { return nil })
			a.Listen("KILL_B", func(context.Context, any, signal.Signal) error { return nil })
		})
		s.Equal(1, s.bus.SubscriberCount("KILL_A"))

		a.Kill()
		a.Kill()

		s.False(a.Alive())
		s.Equal(0, s.bus.SubscriberCount("KILL_A"))
		s.Equal(0, s.bus.SubscriberCount("KILL_B"))
		s.Error(a.Context().Err())
	})
}

func (s *ActorSuite) TestEmit() {
	s.Run("sets source and defaults", func() {
		a := s.newActor()
		a.Start(nil)

		a.Emit(s.ctx, "COUNTER:TICK", ping{Label: "x"})

		sig, ok := s.rec.Last("COUNTER:TICK")
		s.Require().True(ok)
		s.Equal("counter", sig.Source)
		s.Equal(1.0, sig.Confidence)
		s.Equal(signal.PriorityCognitive, sig.Priority)
		s.Empty(sig.CorrelationID)
	})

	s.Run("options override defaults", func() {
		a := s.newActor()
		a.Start(nil)

		a.Emit(s.ctx, "COUNTER:TUNED", nil,
			WithPriority(signal.PriorityReflex),
			WithConfidence(0.25),
			WithCorrelation("abc"),
		)

		sig, ok := s.rec.Last("COUNTER:TUNED")
		s.Require().True(ok)
		s.Equal(signal.PriorityReflex, sig.Priority)
		s.Equal(0.25, sig.Confidence)
		s.Equal("abc", sig.CorrelationID)
	})

	s.Run("emits inside a handler are correlated to the trigger", func() {
		a := s.newActor()
		a.Start(func() {
			a.Listen("COUNTER:ASK", func(ctx context.Context, _ any, _ signal.Signal) error {
				a.Emit(ctx, "COUNTER:ANSWER", nil)
				return nil
			})
		})

		s.bus.Emit(s.ctx, "COUNTER:ASK", "test", nil)

		ask, _ := s.rec.Last("COUNTER:ASK")
		answer, ok := s.rec.Last("COUNTER:ANSWER")
		s.Require().True(ok)
		s.Equal(ask.ID, answer.CorrelationID)
	})

	s.Run("a killed actor emits nothing", func() {
		a := s.newActor()
		a.Start(nil)
		a.Kill()

		a.Emit(s.ctx, "COUNTER:GHOST", nil)

		s.Empty(s.rec.OfType("COUNTER:GHOST"))
	})
}

func (s *ActorSuite) TestOn() {
	s.Run("delivers decoded payloads", func() {
		a := s.newActor()
		var got ping
		a.Start(func() {
			On(a, "COUNTER:PING", func(_ context.Context, p ping, _ signal.Signal) error {
				got = p
				return nil
			})
		})

		s.bus.Emit(s.ctx, "COUNTER:PING", "test", map[string]any{"label": "hello"})

		s.Equal("hello", got.Label)
	})

	s.Run("invalid payloads go to the invalid callback", func() {
		var invalid []error
		a := s.newActor(WithInvalidPayload(func(_ context.Context, _ signal.Signal, err error) {
			invalid = append(invalid, err)
		}))
		called := false
		a.Start(func() {
			On(a, "COUNTER:PING", func(context.Context, ping, signal.Signal) error {
				called = true
				return nil
			})
		})

		s.bus.Emit(s.ctx, "COUNTER:PING", "test", map[string]any{})

		s.False(called)
		s.Require().Len(invalid, 1)
		s.EqualError(invalid[0], "malformed COUNTER:PING payload: label is required")
		s.True(dErrors.HasCode(invalid[0], dErrors.CodeValidation))
		s.Equal(1.0, promtest.ToFloat64(s.metrics.ActorOperations.WithLabelValues("counter", "rejected")))
	})
}

func (s *ActorSuite) TestState() {
	s.Run("set state merges non-zero fields", func() {
		a := s.newActor()
		s.Require().NoError(a.SetState(counterState{Count: 3, Tags: []string{"a"}}))

		st := a.State()
		s.Equal("initial", st.Label)
		s.Equal(3, st.Count)
		s.Equal([]string{"a"}, st.Tags)
	})

	s.Run("set state replaces nested values wholesale", func() {
		a := s.newActor()
		s.Require().NoError(a.SetState(counterState{
			Owner: owner{ID: "u1", Name: "Alice"},
			Meta:  map[string]string{"a": "1"},
		}))
		s.Require().NoError(a.SetState(counterState{
			Owner: owner{ID: "u2"},
			Meta:  map[string]string{"b": "2"},
		}))

		st := a.State()
		s.Equal(owner{ID: "u2"}, st.Owner)
		s.Equal(map[string]string{"b": "2"}, st.Meta)
		s.Equal("initial", st.Label)
	})

	s.Run("zero nested values keep the current ones", func() {
		a := s.newActor()
		s.Require().NoError(a.SetState(counterState{Owner: owner{ID: "u1", Name: "Alice"}}))
		s.Require().NoError(a.SetState(counterState{Count: 2}))
		s.Equal(owner{ID: "u1", Name: "Alice"}, a.State().Owner)
	})

	s.Run("update state can clear fields", func() {
		a := s.newActor()
		s.Require().NoError(a.SetState(counterState{Count: 3}))
		a.UpdateState(func(st *counterState) { st.Count = 0 })
		s.Equal(0, a.State().Count)
	})

	s.Run("replace state swaps everything", func() {
		a := s.newActor()
		a.ReplaceState(counterState{Visible: true})
		s.Equal(counterState{Visible: true}, a.State())
	})

	s.Run("set state emits nothing", func() {
		s.rec.Reset()
		a := s.newActor()
		a.Start(nil)
		s.Require().NoError(a.SetState(counterState{Count: 1}))
		s.Empty(s.rec.All())
	})
}

func (s *ActorSuite) TestContinuations() {
	s.Run("continuations outlive the triggering context", func() {
		a := s.newActor()
		a.Start(nil)
		ctx, cancel := context.WithCancel(s.ctx)
		var seen error
		release := make(chan struct{})

		a.Go(ctx, func(ctx context.Context) {
			<-release
			seen = ctx.Err()
		})
		cancel()
		close(release)
		a.Wait()

		s.NoError(seen)
	})

	s.Run("kill cancels in-flight continuations and silences them", func() {
		a := s.newActor()
		a.Start(nil)
		started := make(chan struct{})
		var seen error

		a.Go(s.ctx, func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			seen = ctx.Err()
			a.Emit(ctx, "COUNTER:LATE", nil)
		})
		<-started
		a.Kill()
		a.Wait()

		s.ErrorIs(seen, context.Canceled)
		s.Empty(s.rec.OfType("COUNTER:LATE"))
	})

	s.Run("continuations keep the cause for correlation", func() {
		a := s.newActor()
		a.Start(func() {
			a.Listen("COUNTER:SLOW", func(ctx context.Context, _ any, _ signal.Signal) error {
				a.Go(ctx, func(ctx context.Context) {
					a.Emit(ctx, "COUNTER:DONE", nil)
				})
				return nil
			})
		})

		s.bus.Emit(s.ctx, "COUNTER:SLOW", "test", nil)
		a.Wait()

		slow, _ := s.rec.Last("COUNTER:SLOW")
		done, ok := s.rec.Last("COUNTER:DONE")
		s.Require().True(ok)
		s.Equal(slow.ID, done.CorrelationID)
	})

	s.Run("panics in continuations are contained", func() {
		a := s.newActor()
		a.Start(nil)
		a.Go(s.ctx, func(context.Context) { panic("boom") })
		s.NotPanics(a.Wait)
	})

	s.Run("a panic is handed to the panic handler", func() {
		a := s.newActor()
		a.Start(nil)
		var got error
		a.Go(s.ctx, func(context.Context) { panic("boom") },
			OnPanic(func(_ context.Context, err error) { got = err }))
		a.Wait()

		s.Require().Error(got)
		s.True(dErrors.HasCode(got, dErrors.CodeInternal))
		s.Contains(got.Error(), "boom")
	})

	s.Run("a killed actor skips the panic handler", func() {
		a := s.newActor()
		a.Start(nil)
		started := make(chan struct{})
		called := false
		a.Go(s.ctx, func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			panic("late")
		}, OnPanic(func(context.Context, error) { called = true }))
		<-started
		a.Kill()
		a.Wait()
		s.False(called)
	})

	s.Run("no continuation starts on a dead actor", func() {
		a := s.newActor()
		a.Start(nil)
		a.Kill()
		ran := false
		a.Go(s.ctx, func(context.Context) { ran = true })
		a.Wait()
		s.False(ran)
	})
}

func (s *ActorSuite) TestOutcomes() {
	s.Run("fail emits a coded failure correlated to the intent", func() {
		a := s.newActor()
		a.Start(nil)
		cause := signal.Signal{ID: "intent-1", Type: "COUNTER:INCREMENT"}

		a.Fail(s.ctx, "COUNTER:ERROR", cause, dErrors.New(dErrors.CodeConflict, "already counted"))

		sig, ok := s.rec.Last("COUNTER:ERROR")
		s.Require().True(ok)
		s.Equal("intent-1", sig.CorrelationID)
		s.Equal(Failure{
			OriginalSignalID: "intent-1",
			Intent:           "COUNTER:INCREMENT",
			Code:             "conflict",
			Error:            "already counted",
		}, sig.Payload)
		s.Equal(1.0, promtest.ToFloat64(s.metrics.ActorOperations.WithLabelValues("counter", "error")))
	})

	s.Run("uncoded collaborator errors are reported as unavailable", func() {
		a := s.newActor()
		a.Start(nil)

		a.Fail(s.ctx, "COUNTER:ERROR", signal.Signal{ID: "intent-2"}, errors.New("timeout"))

		sig, _ := s.rec.Last("COUNTER:ERROR")
		s.Equal("unavailable", sig.Payload.(Failure).Code)
	})

	s.Run("succeed counts and correlates", func() {
		a := s.newActor()
		a.Start(nil)

		a.Succeed(s.ctx, "COUNTER:DONE", signal.Signal{ID: "intent-3"}, nil, WithPriority(signal.PriorityReflex))

		sig, ok := s.rec.Last("COUNTER:DONE")
		s.Require().True(ok)
		s.Equal("intent-3", sig.CorrelationID)
		s.Equal(signal.PriorityReflex, sig.Priority)
		s.Equal(1.0, promtest.ToFloat64(s.metrics.ActorOperations.WithLabelValues("counter", "success")))
	})
}

func TestConcurrentStateUpdates(t *testing.T) {
	a := NewBase(bus.New(), "counter", counterState{}, WithLogger(nil))
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.UpdateState(func(st *counterState) { st.Count++ })
		}()
	}
	wg.Wait()
	if got := a.State().Count; got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}
