package handlers

import (
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/3leaps/dxrunner/internal/errors"
)

// HTTPErrorResponder writes an error to an HTTP response. Handlers call
// respondWithError rather than shaping bodies themselves so the error
// surface can be swapped in one place (and stubbed in tests).
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// httpErrorResponder is the active responder.
var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder installs a custom responder. Nil resets to the
// default.
func SetHTTPErrorResponder(responder HTTPErrorResponder) {
	if responder == nil {
		httpErrorResponder = defaultErrorResponder
		return
	}
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// defaultErrorResponder maps an error to the standard envelope body.
// Envelopes pass through with their own code; everything else becomes
// an internal error carrying the request id.
func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	var env *gferrors.ErrorEnvelope
	status := http.StatusInternalServerError

	if e, ok := err.(*gferrors.ErrorEnvelope); ok {
		env = e
		switch e.Code {
		case apperrors.CodeNotFound:
			status = http.StatusNotFound
		case apperrors.CodeValidation:
			status = http.StatusBadRequest
		case apperrors.CodeServiceUnavailable:
			status = http.StatusServiceUnavailable
		}
	} else {
		env = apperrors.WrapInternal(r.Context(), err, "request failed")
	}

	writeEnvelope(w, env, status)
}
