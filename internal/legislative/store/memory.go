// Package store holds the proposal registry and attachment storage adapters.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"civitas/internal/legislative"
	"civitas/pkg/platform/sentinel"
)

// Memory implements legislative.Registry and legislative.Storage.
type Memory struct {
	mu          sync.RWMutex
	proposals   map[string]legislative.Proposal
	titles      map[string]string // sponsor/lower(title) -> proposal id
	attachments map[string][]storedAttachment
	maxSize     int
	now         func() time.Time
}

type storedAttachment struct {
	file    legislative.StoredFile
	content []byte
}

type MemoryOption func(*Memory)

// WithMaxSize caps a single attachment in bytes.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		proposals:   make(map[string]legislative.Proposal),
		titles:      make(map[string]string),
		attachments: make(map[string][]storedAttachment),
		maxSize:     legislative.MaxAttachmentSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func titleKey(sponsorID, title string) string {
	return sponsorID + "/" + strings.ToLower(strings.TrimSpace(title))
}

func (m *Memory) CreateProposal(_ context.Context, p legislative.Proposal) (legislative.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := titleKey(p.SponsorID, p.Title)
	if _, taken := m.titles[key]; taken {
		return legislative.Proposal{}, fmt.Errorf("proposal %q: %w", p.Title, sentinel.ErrConflict)
	}
	p.ID = uuid.NewString()
	p.CreatedAt = m.now()
	p.Tags = append([]string(nil), p.Tags...)
	m.proposals[p.ID] = p
	m.titles[key] = p.ID
	return p, nil
}

// FindProposal returns a stored proposal.
func (m *Memory) FindProposal(_ context.Context, id string) (legislative.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return legislative.Proposal{}, sentinel.ErrNotFound
	}
	return p, nil
}

func (m *Memory) Upload(_ context.Context, a legislative.Attachment) (legislative.StoredFile, error) {
	if len(a.Content) > m.maxSize {
		return legislative.StoredFile{}, fmt.Errorf("attachment %s: %w", a.FileName, sentinel.ErrTooLarge)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[a.ProposalID]; !ok {
		return legislative.StoredFile{}, fmt.Errorf("proposal %s: %w", a.ProposalID, sentinel.ErrNotFound)
	}
	file := legislative.StoredFile{
		ID:          uuid.NewString(),
		ProposalID:  a.ProposalID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        int64(len(a.Content)),
		UploadedAt:  m.now(),
	}
	file.URL = attachmentURL(file)
	m.attachments[a.ProposalID] = append(m.attachments[a.ProposalID], storedAttachment{
		file:    file,
		content: append([]byte(nil), a.Content...),
	})
	return file, nil
}

// Attachments lists the files stored for a proposal in upload order.
func (m *Memory) Attachments(_ context.Context, proposalID string) ([]legislative.StoredFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.attachments[proposalID]
	out := make([]legislative.StoredFile, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.file)
	}
	return out, nil
}

func attachmentURL(f legislative.StoredFile) string {
	return "/proposals/" + f.ProposalID + "/attachments/" + f.ID
}
