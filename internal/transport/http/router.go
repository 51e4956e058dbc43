// Package httptransport is the inbound HTTP surface of the bus: UI clients
// post intents as signals and read back recent activity.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civitas/internal/bus"
	jwttoken "civitas/internal/jwt_token"
	"civitas/internal/platform/logger"
	"civitas/pkg/platform/middleware/auth"
	"civitas/pkg/platform/middleware/metadata"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler serves the signal endpoints.
type Handler struct {
	bus      *bus.Bus
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	stream   http.Handler
	limit    func(http.Handler) http.Handler
	auth     auth.Validator
	reserved reserved
	timeout  time.Duration
}

// reserved names the sources and types a client may not claim.
type reserved struct {
	sources map[string]struct{}
	types   map[string]struct{}
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithGatherer exposes the registry on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

// WithHealthCheck adds a named dependency check to GET /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// WithStream mounts the live signal stream on GET /signals/stream.
func WithStream(stream http.Handler) Option {
	return func(h *Handler) {
		h.stream = stream
	}
}

// WithRateLimit guards POST /signals.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.limit = mw
	}
}

// WithAuth requires a bearer token on every /signals route: signals:write to
// dispatch, signals:read to list or stream.
func WithAuth(v auth.Validator) Option {
	return func(h *Handler) {
		h.auth = v
	}
}

// WithReservedSources refuses dispatches whose source, given or taken from
// the token subject, is one of names. Actors register their own names here so
// a client cannot speak for them.
func WithReservedSources(names ...string) Option {
	return func(h *Handler) {
		for _, n := range names {
			h.reserved.sources[n] = struct{}{}
		}
	}
}

// WithReservedTypes refuses dispatches of outcome types that only an actor
// may emit.
func WithReservedTypes(types ...string) Option {
	return func(h *Handler) {
		for _, t := range types {
			h.reserved.types[t] = struct{}{}
		}
	}
}

func New(b *bus.Bus, opts ...Option) *Handler {
	h := &Handler{
		bus:    b,
		checks: make(map[string]HealthCheck),
		reserved: reserved{
			sources: make(map[string]struct{}),
			types:   make(map[string]struct{}),
		},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Discard()
	}
	return h
}

// Router builds the chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", h.handleHealth)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/signals", func(r chi.Router) {
		if h.auth != nil {
			r.Use(auth.RequireAuth(h.auth, h.logger))
		}
		// The stream is long-lived and must not inherit the request timeout.
		if h.stream != nil {
			r.With(h.scope(jwttoken.ScopeRead)...).Handle("/stream", h.stream)
		}
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(h.timeout))
			r.Use(h.requestLogger)

			dispatch := h.scope(jwttoken.ScopeWrite)
			if h.limit != nil {
				dispatch = append(dispatch, h.limit)
			}
			r.With(dispatch...).Post("/", h.handleDispatch)
			r.With(h.scope(jwttoken.ScopeRead)...).Get("/recent", h.handleRecent)
		})
	})
	return r
}

func (h *Handler) scope(scope string) []func(http.Handler) http.Handler {
	if h.auth == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{auth.RequireScope(scope)}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
			"client_ip", metadata.GetClientIP(r.Context()),
		)
	})
}
