package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"civitas/internal/legislative"
	"civitas/pkg/platform/sentinel"
	"civitas/pkg/platform/tx"
)

const uniqueViolation = pq.ErrorCode("23505")

const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id           UUID PRIMARY KEY,
	title        TEXT NOT NULL,
	summary      TEXT NOT NULL,
	category     TEXT NOT NULL,
	tags         TEXT[] NOT NULL DEFAULT '{}',
	kind         TEXT NOT NULL,
	sponsor_id   TEXT NOT NULL,
	sponsor_role TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS proposals_sponsor_title_key ON proposals (sponsor_id, lower(title));
CREATE TABLE IF NOT EXISTS proposal_attachments (
	id           UUID PRIMARY KEY,
	proposal_id  UUID NOT NULL REFERENCES proposals (id) ON DELETE CASCADE,
	file_name    TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         BIGINT NOT NULL,
	content      BYTEA NOT NULL,
	uploaded_at  TIMESTAMPTZ NOT NULL
);
`

// Postgres implements legislative.Registry and legislative.Storage on
// PostgreSQL.
type Postgres struct {
	db      *sql.DB
	maxSize int
	clock   func() time.Time
}

type PostgresOption func(*Postgres)

func WithPostgresClock(clock func() time.Time) PostgresOption {
	return func(s *Postgres) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithPostgresMaxSize(n int) PostgresOption {
	return func(s *Postgres) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	s := &Postgres{
		db:      db,
		maxSize: legislative.MaxAttachmentSize,
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate proposals schema: %w", err)
	}
	return nil
}

func (s *Postgres) CreateProposal(ctx context.Context, p legislative.Proposal) (legislative.Proposal, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = s.clock().UTC()
	if p.Tags == nil {
		p.Tags = []string{}
	}
	query := `
		INSERT INTO proposals (id, title, summary, category, tags, kind, sponsor_id, sponsor_role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Title, p.Summary, p.Category, pq.Array(p.Tags),
		p.Kind, p.SponsorID, p.SponsorRole, p.Status, p.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return legislative.Proposal{}, fmt.Errorf("proposal %q: %w", p.Title, sentinel.ErrConflict)
		}
		return legislative.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	return p, nil
}

// FindProposal loads one proposal by id.
func (s *Postgres) FindProposal(ctx context.Context, id string) (legislative.Proposal, error) {
	var p legislative.Proposal
	query := `
		SELECT id, title, summary, category, tags, kind, sponsor_id, sponsor_role, status, created_at
		FROM proposals WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Summary, &p.Category, pq.Array(&p.Tags),
		&p.Kind, &p.SponsorID, &p.SponsorRole, &p.Status, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return legislative.Proposal{}, sentinel.ErrNotFound
	}
	if err != nil {
		return legislative.Proposal{}, fmt.Errorf("find proposal: %w", err)
	}
	return p, nil
}

// Upload stores the attachment after locking the parent proposal row, so a
// concurrent delete cannot orphan it.
func (s *Postgres) Upload(ctx context.Context, a legislative.Attachment) (legislative.StoredFile, error) {
	if len(a.Content) > s.maxSize {
		return legislative.StoredFile{}, fmt.Errorf("attachment %s: %w", a.FileName, sentinel.ErrTooLarge)
	}
	if _, err := uuid.Parse(a.ProposalID); err != nil {
		return legislative.StoredFile{}, fmt.Errorf("proposal %s: %w", a.ProposalID, sentinel.ErrNotFound)
	}

	file := legislative.StoredFile{
		ID:          uuid.NewString(),
		ProposalID:  a.ProposalID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        int64(len(a.Content)),
		UploadedAt:  s.clock().UTC(),
	}
	file.URL = attachmentURL(file)

	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		q := tx.Querier(ctx, s.db)
		var locked string
		err := q.QueryRowContext(ctx, `SELECT id FROM proposals WHERE id = $1 FOR UPDATE`, a.ProposalID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("proposal %s: %w", a.ProposalID, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock proposal: %w", err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO proposal_attachments (id, proposal_id, file_name, content_type, size, content, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, file.ID, file.ProposalID, file.FileName, file.ContentType, file.Size, a.Content, file.UploadedAt)
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		return nil
	})
	if err != nil {
		return legislative.StoredFile{}, err
	}
	return file, nil
}

// Attachments lists the files stored for a proposal in upload order.
func (s *Postgres) Attachments(ctx context.Context, proposalID string) ([]legislative.StoredFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, file_name, content_type, size, uploaded_at
		FROM proposal_attachments WHERE proposal_id = $1 ORDER BY uploaded_at, id
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []legislative.StoredFile
	for rows.Next() {
		var f legislative.StoredFile
		if err := rows.Scan(&f.ID, &f.ProposalID, &f.FileName, &f.ContentType, &f.Size, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		f.URL = attachmentURL(f)
		out = append(out, f)
	}
	return out, rows.Err()
}
