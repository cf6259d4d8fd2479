package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrSessionNotFound   = errors.New("session not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrResourceExhausted = errors.New("inference resources exhausted")
	ErrInferenceTimeout  = errors.New("inference timed out")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrTemporary         = errors.New("temporary failure")
)

// Stable machine-readable kinds surfaced to clients.
const (
	KindValidation        = "validation_error"
	KindSessionNotFound   = "session_not_found"
	KindDocumentNotFound  = "document_not_found"
	KindResourceExhausted = "resource_exhausted"
	KindInferenceTimeout  = "inference_timeout"
	KindStoreUnavailable  = "store_unavailable"
	KindTemporary         = "temporary_failure"
	KindInternal          = "internal_error"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Kind reports the first matching semantic kind of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrDocumentNotFound):
		return KindDocumentNotFound
	case errors.Is(err, ErrInferenceTimeout):
		return KindInferenceTimeout
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrTemporary):
		return KindTemporary
	default:
		return KindInternal
	}
}
