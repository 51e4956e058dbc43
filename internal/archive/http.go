package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/platform/httputil"
)

// Lister reads archived entries back.
type Lister interface {
	List(ctx context.Context, q Query) ([]Entry, error)
}

// MaxQueryLimit caps the limit query parameter.
const MaxQueryLimit = 1000

type entryView struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Priority      string          `json:"priority"`
	Confidence    float64         `json:"confidence"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Partition     int32           `json:"partition"`
	Offset        int64           `json:"offset"`
}

// Routes mounts GET / with optional type, correlationId and limit filters.
func Routes(l Lister) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		q := Query{
			Type:          req.URL.Query().Get("type"),
			CorrelationID: req.URL.Query().Get("correlationId"),
		}
		if raw := req.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > MaxQueryLimit {
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeValidation, "limit must be between 1 and %d", MaxQueryLimit))
				return
			}
			q.Limit = n
		}
		entries, err := l.List(req.Context(), q)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "list archive"))
			return
		}
		views := make([]entryView, len(entries))
		for i, e := range entries {
			views[i] = entryView{
				ID:            e.ID,
				Type:          e.Type,
				Source:        e.Source,
				Timestamp:     e.Timestamp,
				Priority:      string(e.Priority),
				Confidence:    e.Confidence,
				CorrelationID: e.CorrelationID,
				Payload:       e.Payload,
				Partition:     e.Partition,
				Offset:        e.Offset,
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"signals": views})
	})
	return r
}
