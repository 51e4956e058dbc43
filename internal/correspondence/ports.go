package correspondence

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Mailer,Renderer

// Mailer dispatches an email. Recipients are already validated.
type Mailer interface {
	Send(ctx context.Context, msg Email) (Receipt, error)
}

// Renderer produces a document from a template and field values.
type Renderer interface {
	Render(ctx context.Context, templateID string, fields map[string]string) (Document, error)
}
