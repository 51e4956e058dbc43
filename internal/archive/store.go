package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"civitas/internal/signal"
	"civitas/pkg/platform/tx"
)

// Memory is an in-process Store, used in tests and when no database is set.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	seen    map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Append(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, dup := m.seen[e.ID]; dup {
			continue
		}
		m.seen[e.ID] = struct{}{}
		m.entries = append(m.entries, e)
	}
	return nil
}

// List returns matching entries, newest first.
func (m *Memory) List(_ context.Context, q Query) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0)
	for i := len(m.entries) - 1; i >= 0 && len(out) < q.limit(); i-- {
		e := m.entries[i]
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Postgres stores entries in the signal_archive table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS signal_archive (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	source         TEXT NOT NULL,
	emitted_at     TIMESTAMPTZ NOT NULL,
	priority       TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	correlation_id TEXT,
	payload        JSONB,
	kafka_partition INTEGER NOT NULL,
	kafka_offset    BIGINT NOT NULL,
	archived_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS signal_archive_type_idx ON signal_archive (type, emitted_at DESC);
CREATE INDEX IF NOT EXISTS signal_archive_correlation_idx ON signal_archive (correlation_id)
	WHERE correlation_id IS NOT NULL;
`

// Migrate creates the archive table. Safe to run on every start.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, archiveSchema); err != nil {
		return fmt.Errorf("migrate signal archive: %w", err)
	}
	return nil
}

// Append writes entries in one transaction. Already archived ids are skipped.
func (p *Postgres) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.Run(ctx, p.db, func(ctx context.Context) error {
		q := tx.Querier(ctx, p.db)
		for _, e := range entries {
			_, err := q.ExecContext(ctx, `
				INSERT INTO signal_archive (id, type, source, emitted_at, priority, confidence,
					correlation_id, payload, kafka_partition, kafka_offset)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO NOTHING`,
				e.ID, e.Type, e.Source, e.Timestamp, string(e.Priority), e.Confidence,
				nullString(e.CorrelationID), nullJSON(e.Payload), e.Partition, e.Offset,
			)
			if err != nil {
				return fmt.Errorf("archive signal %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// List returns matching entries, newest first.
func (p *Postgres) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		args = append(args, q.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if q.CorrelationID != "" {
		args = append(args, q.CorrelationID)
		where = append(where, fmt.Sprintf("correlation_id = $%d", len(args)))
	}
	query := `SELECT id, type, source, emitted_at, priority, confidence,
		COALESCE(correlation_id, ''), payload, kafka_partition, kafka_offset
		FROM signal_archive`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, q.limit())
	query += fmt.Sprintf(" ORDER BY emitted_at DESC, kafka_offset DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signal archive: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e        Entry
			priority string
			payload  []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.Timestamp, &priority, &e.Confidence,
			&e.CorrelationID, &payload, &e.Partition, &e.Offset); err != nil {
			return nil, fmt.Errorf("scan archived signal: %w", err)
		}
		e.Priority = signal.Priority(priority)
		e.Timestamp = e.Timestamp.UTC()
		if len(payload) > 0 {
			e.Payload = json.RawMessage(slices.Clone(payload))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal archive: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}
