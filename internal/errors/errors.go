// Package errors provides application error construction shared by the CLI
// and the status server.
//
// Errors cross the HTTP boundary as gofulmen error envelopes so every
// surface emits the same {code, message, details} JSON shape.
package errors

import (
	"context"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Stable application error codes.
const (
	CodeInternal           = "INTERNAL_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPErrorResponse is the JSON body for error responses.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// HTTPErrorBody carries the envelope fields surfaced to HTTP clients.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type requestIDKey struct{}

// ContextWithRequestID attaches a request correlation id to the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request correlation id, if any.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewExternalServiceError builds an envelope for failures of an external
// collaborator (git, a provider CLI, object storage).
func NewExternalServiceError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeExternalService, message)
}

// NewNotFoundError builds an envelope for missing resources.
func NewNotFoundError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeNotFound, message)
}

// NewValidationError builds an envelope for rejected input.
func NewValidationError(message string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(CodeValidation, message)
}

// WrapInternal wraps an unexpected error into an internal-error envelope.
// The underlying error text travels in the envelope context rather than
// the client-facing message; a request id from the context is attached
// as the correlation id when present.
func WrapInternal(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(CodeInternal, message)
	if id := RequestIDFromContext(ctx); id != "" {
		env = env.WithCorrelationID(id)
	}
	if err != nil {
		if withCtx, cerr := env.WithContext(map[string]any{"cause": err.Error()}); cerr == nil {
			env = withCtx
		}
	}
	return env
}
