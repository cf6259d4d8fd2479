package httpadapter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/docsense/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrSessionNotFound), domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInferenceTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrResourceExhausted),
		domain.IsKind(err, domain.ErrStoreUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	kind := domain.Kind(err)
	message := err.Error()
	if status == http.StatusRequestEntityTooLarge {
		kind = domain.KindValidation
	}
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"kind", kind,
		"error", err,
	}
	if status >= 500 {
		slog.Error("request_failed", attrs...)
	} else {
		slog.Warn("request_failed", attrs...)
	}
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
