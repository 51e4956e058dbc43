package httptransport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"civitas/internal/bus"
	"civitas/internal/identity"
	jwttoken "civitas/internal/jwt_token"
	"civitas/internal/platform/metrics"
	"civitas/internal/ratelimit"
	"civitas/internal/signal"
	httptransport "civitas/internal/transport/http"
	"civitas/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	bus     *bus.Bus
	rec     *testutil.Recorder
	router  http.Handler
	healthy error
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	reg := prometheus.NewRegistry()
	s.healthy = nil
	s.bus = bus.New(bus.WithMetrics(metrics.New(reg)))
	s.rec = testutil.Record(s.bus)
	s.router = httptransport.New(s.bus,
		httptransport.WithGatherer(reg),
		httptransport.WithHealthCheck("session", func(context.Context) error { return s.healthy }),
	).Router()
}

func (s *HandlerSuite) TestDispatch() {
	s.Run("accepts a signal and returns its id", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/signals", map[string]any{
			"type":          "LOGIN_INTENT",
			"source":        "login-form",
			"payload":       map[string]string{"phone": "+2348000000000", "accountType": "citizen"},
			"priority":      "reflex",
			"correlationId": "flow-1",
		}))

		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
		resp := testutil.UnmarshalResponse[httptransport.DispatchResponse](s.T(), rr)
		s.NotEmpty(resp.ID)

		sig, ok := s.rec.Last("LOGIN_INTENT")
		s.Require().True(ok)
		s.Equal(resp.ID, sig.ID)
		s.Equal("login-form", sig.Source)
		s.Equal(signal.PriorityReflex, sig.Priority)
		s.Equal(1.0, sig.Confidence)
		s.Equal("flow-1", sig.CorrelationID)
		s.JSONEq(`{"phone":"+2348000000000","accountType":"citizen"}`, string(sig.Payload.(json.RawMessage)))
	})

	s.Run("defaults source and priority", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/signals", map[string]any{
			"type": "LOGOUT_INTENT",
		}))
		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)

		sig, _ := s.rec.Last("LOGOUT_INTENT")
		s.Equal("http", sig.Source)
		s.Equal(signal.PriorityCognitive, sig.Priority)
		s.Nil(sig.Payload)
	})

	s.Run("rejects bad requests without dispatching", func() {
		s.rec.Reset()
		for name, body := range map[string]string{
			"malformed json":   `{"type":`,
			"missing type":     `{"source":"x"}`,
			"wildcard":         `{"type":"*"}`,
			"unknown priority": `{"type":"X","priority":"urgent"}`,
			"confidence range": `{"type":"X","confidence":1.5}`,
		} {
			rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/signals", body))
			s.Equal(http.StatusBadRequest, rr.Code, name)
			s.Equal("validation", testutil.UnmarshalErrorResponse(s.T(), rr)["error"], name)
		}
		s.Empty(s.rec.All())
	})
}

func (s *HandlerSuite) TestRateLimit() {
	router := httptransport.New(s.bus,
		httptransport.WithRateLimit(ratelimit.Middleware(ratelimit.NewMemory(1, time.Minute), nil)),
	).Router()
	post := func() *httptest.ResponseRecorder {
		req := testutil.NewSignalRequest(s.T(), map[string]string{"type": "PING"})
		req.RemoteAddr = "203.0.113.9:4000"
		return testutil.DoRequest(router, req)
	}

	testutil.AssertStatus(s.T(), post(), http.StatusAccepted)
	rr := post()
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	testutil.AssertJSONContains(s.T(), rr, "error", "rate_limited")
	s.NotEmpty(rr.Header().Get("Retry-After"))
	s.Len(s.rec.OfType("PING"), 1)

	rr = testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/signals/recent"))
	s.Equal(http.StatusOK, rr.Code, "reads are not limited")
}

func (s *HandlerSuite) TestRecent() {
	for _, typ := range []string{"A", "B", "A"} {
		s.bus.Emit(context.Background(), typ, "test", nil)
	}

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/signals/recent"))
	testutil.AssertStatusOK(s.T(), rr)
	all := *testutil.UnmarshalResponse[[]signal.Signal](s.T(), rr)
	s.Require().Len(all, 3)
	s.Equal([]string{"A", "B", "A"}, []string{all[2].Type, all[1].Type, all[0].Type})

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/signals/recent?type=A&limit=1"))
	filtered := *testutil.UnmarshalResponse[[]signal.Signal](s.T(), rr)
	s.Require().Len(filtered, 1)
	s.Equal(all[0].ID, filtered[0].ID)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/signals/recent?limit=-1"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
}

func (s *HandlerSuite) TestHealth() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(s.T(), rr)
	s.Equal(httptransport.HealthResponse{Status: "ok", Checks: map[string]string{"session": "ok"}},
		*testutil.UnmarshalResponse[httptransport.HealthResponse](s.T(), rr))

	s.healthy = errors.New("redis: connection refused")
	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(s.T(), rr, "status", "degraded")
}

func (s *HandlerSuite) TestMetrics() {
	s.bus.Emit(context.Background(), "A", "test", nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(s.T(), rr)
	s.True(strings.Contains(rr.Body.String(), `civitas_signals_dispatched_total{type="A"} 1`))
}

func (s *HandlerSuite) TestAuth() {
	tokens := jwttoken.NewService("intake-secret", "civitas", "civitas-intake")
	router := httptransport.New(s.bus, httptransport.WithAuth(tokens)).Router()
	issue := func(scopes ...string) string {
		t, err := tokens.Issue("ops-console", scopes, time.Hour)
		s.Require().NoError(err)
		return t
	}
	post := func(token string) *httptest.ResponseRecorder {
		req := testutil.NewSignalRequest(s.T(), map[string]string{"type": "PING"})
		return testutil.DoRequest(router, testutil.Bearer(req, token))
	}

	s.Run("missing token", func() {
		testutil.AssertStatusAndError(s.T(), post(""), http.StatusUnauthorized, "unauthorized")
	})
	s.Run("bad token", func() {
		testutil.AssertStatusAndError(s.T(), post("not-a-jwt"), http.StatusUnauthorized, "unauthorized")
	})
	s.Run("read scope cannot dispatch", func() {
		rr := post(issue(jwttoken.ScopeRead))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
		testutil.AssertErrorDescription(s.T(), rr, jwttoken.ScopeWrite)
		s.Empty(s.rec.OfType("PING"))
	})
	s.Run("write scope dispatches as the token subject", func() {
		testutil.AssertStatus(s.T(), post(issue(jwttoken.ScopeWrite)), http.StatusAccepted)
		sig, ok := s.rec.Last("PING")
		s.Require().True(ok)
		s.Equal("ops-console", sig.Source)
	})
	s.Run("recent needs read scope", func() {
		req := testutil.Bearer(testutil.NewRequest(s.T(), http.MethodGet, "/signals/recent"), issue(jwttoken.ScopeWrite))
		testutil.AssertStatus(s.T(), testutil.DoRequest(router, req), http.StatusForbidden)

		req = testutil.NewRequest(s.T(), http.MethodGet, "/signals/recent?access_token="+issue(jwttoken.ScopeRead))
		testutil.AssertStatusOK(s.T(), testutil.DoRequest(router, req))
	})
	s.Run("health stays open", func() {
		testutil.AssertStatusOK(s.T(), testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz")))
	})
}

func (s *HandlerSuite) TestReservedDispatch() {
	tokens := jwttoken.NewService("intake-secret", "civitas", "civitas-intake")
	router := httptransport.New(s.bus,
		httptransport.WithAuth(tokens),
		httptransport.WithReservedSources(identity.Name, "legislative"),
		httptransport.WithReservedTypes(identity.OutcomeTypes...),
	).Router()
	post := func(subject string, body map[string]any) *httptest.ResponseRecorder {
		token, err := tokens.Issue(subject, []string{jwttoken.ScopeWrite}, time.Hour)
		s.Require().NoError(err)
		return testutil.DoRequest(router, testutil.Bearer(testutil.NewSignalRequest(s.T(), body), token))
	}
	t := s.T()

	testutil.Given(t, "a client claiming to be the identity actor", func(t *testing.T) {
		rr := post("ops-console", map[string]any{
			"type":    identity.TypeLoginSuccess,
			"source":  identity.Name,
			"payload": map[string]any{"user": map[string]string{"id": "u-president"}, "role": "president"},
		})
		testutil.Then(t, "the forged login is refused and never dispatched", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
			testutil.AssertErrorDescription(t, rr, identity.TypeLoginSuccess)
			assert.Empty(t, s.rec.OfType(identity.TypeLoginSuccess))
		})
	})

	testutil.Given(t, "an identity outcome under a neutral source", func(t *testing.T) {
		rr := post("ops-console", map[string]any{"type": identity.TypeRoleSwitched, "source": "ui"})
		testutil.Then(t, "the type alone is refused", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
		})
	})

	testutil.Given(t, "a token whose subject is an actor name", func(t *testing.T) {
		rr := post("legislative", map[string]any{"type": "LEGISLATIVE:SUBMIT_PROPOSAL"})
		testutil.Then(t, "the derived source is refused", func(t *testing.T) {
			testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
			testutil.AssertErrorDescription(t, rr, `"legislative"`)
		})
	})

	testutil.Given(t, "an intent from an ordinary client", func(t *testing.T) {
		rr := post("ops-console", map[string]any{"type": identity.TypeLoginIntent, "source": "login-form"})
		testutil.Then(t, "it is dispatched", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusAccepted)
			_, ok := s.rec.Last(identity.TypeLoginIntent)
			assert.True(t, ok)
		})
	})
}
