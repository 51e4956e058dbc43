package correspondence

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"

	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/email"
)

// LogMailer records outgoing mail and logs it instead of delivering it.
type LogMailer struct {
	logger *slog.Logger
	mu     sync.Mutex
	outbox []Email
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Email) (Receipt, error) {
	m.mu.Lock()
	m.outbox = append(m.outbox, msg)
	m.mu.Unlock()

	names := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		names = append(names, email.DisplayName(to))
	}
	receipt := Receipt{MessageID: uuid.NewString(), AcceptedAt: time.Now()}
	m.logger.InfoContext(ctx, "email accepted",
		"message_id", receipt.MessageID,
		"recipients", names,
		"subject", msg.Subject,
	)
	return receipt, nil
}

// Outbox returns every email accepted so far.
func (m *LogMailer) Outbox() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.outbox...)
}

// TemplateRenderer renders registered text/template templates and keeps the
// output in memory, addressed by a memory:// URL.
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	documents map[string][]byte
}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		templates: make(map[string]*template.Template),
		documents: make(map[string][]byte),
	}
}

// Register parses text as the template id. Missing fields render as errors,
// not as "<no value>".
func (r *TemplateRenderer) Register(id, text string) error {
	tmpl, err := template.New(id).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[id] = tmpl
	return nil
}

func (r *TemplateRenderer) Render(_ context.Context, templateID string, fields map[string]string) (Document, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[templateID]
	r.mu.RUnlock()
	if !ok {
		return Document{}, dErrors.Newf(dErrors.CodeNotFound, "template %s does not exist", templateID)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, fields); err != nil {
		return Document{}, dErrors.Wrap(err, dErrors.CodeValidation, "template fields incomplete")
	}

	doc := Document{
		ID:          uuid.NewString(),
		TemplateID:  templateID,
		ContentType: "text/plain; charset=utf-8",
	}
	doc.URL = "memory://documents/" + doc.ID

	r.mu.Lock()
	r.documents[doc.ID] = buf.Bytes()
	r.mu.Unlock()
	return doc, nil
}

// Content returns a rendered document body.
func (r *TemplateRenderer) Content(documentID string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.documents[documentID]
	return b, ok
}
