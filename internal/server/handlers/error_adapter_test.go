package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fathomtel/callsight/internal/errors"
	"github.com/fathomtel/callsight/pkg/analysis"
	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/jobstore"
	"github.com/fathomtel/callsight/pkg/llm"
)

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "job not found", err: fmt.Errorf("wrap: %w", analysis.ErrJobNotFound), want: apperrors.CodeNotFound},
		{name: "call not found", err: analysis.ErrCallNotFound, want: apperrors.CodeNotFound},
		{name: "store record missing", err: jobstore.ErrNotFound, want: apperrors.CodeNotFound},
		{name: "job not complete", err: analysis.ErrJobNotComplete, want: apperrors.CodeJobNotComplete},
		{name: "store unavailable", err: jobstore.ErrUnavailable, want: apperrors.CodeServiceUnavailable},
		{name: "llm not configured", err: llm.ErrNotConfigured, want: apperrors.CodeServiceUnavailable},
		{name: "upstream failure", err: fmt.Errorf("list calls: %w: status 503: maintenance", callsource.ErrUpstream), want: apperrors.CodeUpstreamUnavailable},
		{name: "anything else", err: errors.New("boom"), want: apperrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codeFor(tt.err))
		})
	}
}

func TestRespondWithErrorWritesEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job_x", nil)
	rec := httptest.NewRecorder()

	respondWithError(rec, req, fmt.Errorf("%w: job_x", analysis.ErrJobNotFound))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.Contains(t, body.Error.Message, "job_x")
}

func TestRespondValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
	rec := httptest.NewRecorder()

	respondValidation(rec, req, "from_date is malformed")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeValidation, body.Error.Code)
	assert.Contains(t, body.Error.Message, "from_date")
}
