package social

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Directory

// Directory searches public profiles and records follows. Follow returns
// sentinel.ErrConflict when the relation already exists and
// sentinel.ErrNotFound for unknown users.
type Directory interface {
	Search(ctx context.Context, query string, limit int) ([]Profile, error)
	Follow(ctx context.Context, followerID, followeeID string) (Follow, error)
}
