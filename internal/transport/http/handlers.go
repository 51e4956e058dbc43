package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"civitas/internal/signal"
	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/platform/httputil"
	"civitas/pkg/platform/middleware/auth"
	"civitas/pkg/platform/middleware/metadata"
)

const maxBodyBytes = 16 << 20

// DispatchRequest is the body of POST /signals. Source defaults to "http" and
// confidence to 1.
type DispatchRequest struct {
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      string          `json:"priority,omitempty"`
	Confidence    *float64        `json:"confidence,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func (r DispatchRequest) Validate() error {
	typ := strings.TrimSpace(r.Type)
	switch {
	case typ == "":
		return dErrors.New(dErrors.CodeValidation, "type is required")
	case typ == signal.Wildcard:
		return dErrors.New(dErrors.CodeValidation, "type must not be the wildcard key")
	case r.Priority != "" && !signal.Priority(r.Priority).Valid():
		return dErrors.Newf(dErrors.CodeValidation, "unknown priority %q", r.Priority)
	case r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1):
		return dErrors.New(dErrors.CodeValidation, "confidence must be between 0 and 1")
	}
	return nil
}

// signal builds the bus signal. An empty source falls back to the
// authenticated caller, then to "http".
func (r DispatchRequest) signal(subject string) signal.Signal {
	source := strings.TrimSpace(r.Source)
	if source == "" {
		source = subject
	}
	if source == "" {
		source = "http"
	}
	sig := signal.New(strings.TrimSpace(r.Type), source, nil)
	sig.ID = uuid.NewString()
	if len(r.Payload) > 0 && string(r.Payload) != "null" {
		sig.Payload = r.Payload
	}
	if r.Priority != "" {
		sig.Priority = signal.Priority(r.Priority)
	}
	if r.Confidence != nil {
		sig.Confidence = *r.Confidence
	}
	sig.CorrelationID = r.CorrelationID
	return sig
}

func (r reserved) check(sig signal.Signal) error {
	if _, ok := r.types[sig.Type]; ok {
		return dErrors.Newf(dErrors.CodeForbidden, "%s is emitted by the server only", sig.Type)
	}
	if _, ok := r.sources[sig.Source]; ok {
		return dErrors.Newf(dErrors.CodeForbidden, "source %q is reserved", sig.Source)
	}
	return nil
}

type DispatchResponse struct {
	ID string `json:"id"`
}

// handleDispatch delivers the signal synchronously; anything slow that a
// subscriber starts continues after the response is written.
func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req DispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid dispatch request",
			"client_ip", metadata.GetClientIP(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	sig := req.signal(auth.GetSubject(ctx))
	if err := h.reserved.check(sig); err != nil {
		h.logger.WarnContext(ctx, "refused dispatch",
			"signal_type", sig.Type,
			"signal_source", sig.Source,
			"client_ip", metadata.GetClientIP(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	h.bus.Dispatch(ctx, sig)
	httputil.WriteJSON(w, http.StatusAccepted, DispatchResponse{ID: sig.ID})
}

// handleRecent returns the activity log, most recent first, optionally
// filtered by ?type= and truncated by ?limit=.
func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	recent := h.bus.RecentActivity()

	if typ := r.URL.Query().Get("type"); typ != "" {
		filtered := recent[:0]
		for _, sig := range recent {
			if sig.Type == typ {
				filtered = append(filtered, sig)
			}
		}
		recent = filtered
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer"))
			return
		}
		if limit < len(recent) {
			recent = recent[:limit]
		}
	}
	httputil.WriteJSON(w, http.StatusOK, recent)
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}
