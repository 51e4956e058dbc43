package actor

import (
	"context"
	"errors"

	dErrors "civitas/pkg/domain-errors"

	"civitas/internal/signal"
)

// Failure is the payload of every *_ERROR signal.
type Failure struct {
	OriginalSignalID string `json:"originalSignalId"`
	Intent           string `json:"intent"`
	Code             string `json:"code"`
	Error            string `json:"error"`
}

// Fail emits typ with a Failure describing err, correlated to cause, and
// records the outcome. Collaborator errors that carry no domain code are
// reported as "unavailable".
func (a *Base[S]) Fail(ctx context.Context, typ string, cause signal.Signal, err error) {
	code := dErrors.CodeUnavailable
	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
	}
	a.Record("error")
	a.logger.WarnContext(ctx, "intent failed",
		"intent", cause.Type,
		"signal_id", cause.ID,
		"code", string(code),
		"error", err,
	)
	a.Emit(ctx, typ, Failure{
		OriginalSignalID: cause.ID,
		Intent:           cause.Type,
		Code:             string(code),
		Error:            err.Error(),
	}, WithCorrelation(cause.ID))
}

// Succeed records a successful collaborator operation and emits typ.
func (a *Base[S]) Succeed(ctx context.Context, typ string, cause signal.Signal, payload any, opts ...EmitOption) {
	a.Record("success")
	a.Emit(ctx, typ, payload, append([]EmitOption{WithCorrelation(cause.ID)}, opts...)...)
}
