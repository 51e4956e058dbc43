package legislative

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Registry,Storage

// Registry records proposals. Implementations return sentinel.ErrConflict when
// the sponsor already filed a proposal with the same title.
type Registry interface {
	CreateProposal(ctx context.Context, p Proposal) (Proposal, error)
}

// Storage keeps proposal attachments. Implementations return
// sentinel.ErrNotFound for unknown proposals and sentinel.ErrTooLarge when the
// file exceeds their limit.
type Storage interface {
	Upload(ctx context.Context, a Attachment) (StoredFile, error)
}
