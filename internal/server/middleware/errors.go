// Package middleware provides HTTP middleware for the status server:
// request correlation ids, panic recovery, and the standard error
// response shape.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	apperrors "github.com/3leaps/dxrunner/internal/errors"
)

// RequestIDHeader is the inbound/outbound correlation header.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the JSON error body every surface emits.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error envelope fields.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// RequestID attaches a correlation id to every request: the inbound
// X-Request-ID when present, a fresh uuid otherwise. The id is echoed
// on the response and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := apperrors.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recovery converts handler panics into 500 responses with the
// standard error body instead of tearing down the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				env := gferrors.NewErrorEnvelope(
					apperrors.CodeInternal,
					fmt.Sprintf("panic: %v", rec),
				)
				if id := apperrors.RequestIDFromContext(r.Context()); id != "" {
					env = env.WithCorrelationID(id)
				}
				writeErrorResponse(w, env, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name the router wiring uses.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse serializes a gofulmen envelope as the standard
// error body.
func writeErrorResponse(w http.ResponseWriter, env *gferrors.ErrorEnvelope, statusCode int) {
	body := ErrorResponse{
		Error: ErrorBody{
			Code:      env.Code,
			Message:   env.Message,
			RequestID: env.CorrelationID,
			Details:   env.Context,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
