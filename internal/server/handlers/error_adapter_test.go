package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/dxrunner/internal/errors"
)

func resetResponder(t *testing.T) {
	t.Helper()
	original := httpErrorResponder
	t.Cleanup(func() { httpErrorResponder = original })
}

func TestDefaultResponderMapsDomainCodes(t *testing.T) {
	resetResponder(t)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown job is 404",
			err:        apperrors.NewNotFoundError("no job ccglm/gt-4"),
			wantStatus: http.StatusNotFound,
			wantCode:   apperrors.CodeNotFound,
		},
		{
			name:       "rejected job key is 400",
			err:        apperrors.NewValidationError("task must be path-safe"),
			wantStatus: http.StatusBadRequest,
			wantCode:   apperrors.CodeValidation,
		},
		{
			name:       "degraded store is 503",
			err:        gferrors.NewErrorEnvelope(apperrors.CodeServiceUnavailable, "artifact root unreadable"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   apperrors.CodeServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/ccglm/gt-4", nil)
			rec := httptest.NewRecorder()

			respondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
}

func TestDefaultResponderWrapsPlainErrors(t *testing.T) {
	resetResponder(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req = req.WithContext(apperrors.ContextWithRequestID(req.Context(), "snapshot-91"))
	rec := httptest.NewRecorder()

	respondWithError(rec, req, errors.New("meta.json: permission denied"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeInternal, body.Error.Code)
	assert.Equal(t, "snapshot-91", body.Error.RequestID)
	// The raw cause travels in details, never in the client message.
	assert.NotContains(t, body.Error.Message, "permission denied")
	assert.Equal(t, "meta.json: permission denied", body.Error.Details["cause"])
}

func TestSetHTTPErrorResponderSwapsAndResets(t *testing.T) {
	resetResponder(t)

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusBadGateway)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil), assert.AnError)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, assert.AnError, captured)

	// Nil restores the default mapping.
	SetHTTPErrorResponder(nil)
	rec = httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil), apperrors.NewNotFoundError("gone"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// ResetHTTPErrorResponder does the same after another swap.
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusTeapot)
	})
	ResetHTTPErrorResponder()
	rec = httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil), apperrors.NewValidationError("bad"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
