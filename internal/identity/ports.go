package identity

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Directory

// Directory resolves a phone number and account type to a user. A number
// with no account yields a not_found domain error.
type Directory interface {
	Resolve(ctx context.Context, phone, accountType string) (User, error)
}
