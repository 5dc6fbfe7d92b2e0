package handlers

import (
	"errors"
	"net/http"

	apperrors "github.com/fathomtel/callsight/internal/errors"
	"github.com/fathomtel/callsight/internal/server/middleware"
	"github.com/fathomtel/callsight/pkg/analysis"
	"github.com/fathomtel/callsight/pkg/callsource"
	"github.com/fathomtel/callsight/pkg/jobstore"
	"github.com/fathomtel/callsight/pkg/llm"
)

// codeFor maps service errors to stable API error codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, analysis.ErrJobNotFound),
		errors.Is(err, analysis.ErrCallNotFound),
		errors.Is(err, jobstore.ErrNotFound):
		return apperrors.CodeNotFound
	case errors.Is(err, analysis.ErrJobNotComplete):
		return apperrors.CodeJobNotComplete
	case errors.Is(err, jobstore.ErrUnavailable):
		return apperrors.CodeServiceUnavailable
	case errors.Is(err, llm.ErrNotConfigured),
		errors.Is(err, callsource.ErrNotConfigured):
		return apperrors.CodeServiceUnavailable
	case errors.Is(err, callsource.ErrUpstream):
		return apperrors.CodeUpstreamUnavailable
	default:
		return apperrors.CodeInternal
	}
}

// respondWithError writes the envelope for a service error, attaching the
// request id when present.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := codeFor(err)
	apperrors.WriteDetailed(w, apperrors.StatusFor(code), apperrors.HTTPError{
		Code:      code,
		Message:   err.Error(),
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// respondValidation writes a VALIDATION envelope for malformed input.
func respondValidation(w http.ResponseWriter, r *http.Request, message string) {
	apperrors.WriteDetailed(w, http.StatusBadRequest, apperrors.HTTPError{
		Code:      apperrors.CodeValidation,
		Message:   message,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}
