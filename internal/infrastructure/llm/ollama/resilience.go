package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx reply from the Ollama API with a bounded body excerpt.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, body)
}

// Ollama reports GPU and host memory pressure in free text.
var exhaustionMarkers = []string{
	"out of memory",
	"cuda error",
	"insufficient memory",
	"oom",
	"requires more system memory",
	"server busy",
}

func (e *HTTPStatusError) exhausted() bool {
	if e.StatusCode == http.StatusServiceUnavailable {
		return true
	}
	body := strings.ToLower(e.Body)
	for _, marker := range exhaustionMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// normalizeOllamaError attaches a domain kind to a raw transport failure. Everything the
// executor may retry ends up as ErrTemporary.
func normalizeOllamaError(operation string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch sc := statusErr.StatusCode; {
		case statusErr.exhausted():
			return domain.WrapError(domain.ErrResourceExhausted, operation, err)
		case sc == http.StatusBadRequest:
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		case sc == http.StatusRequestTimeout, sc == http.StatusTooManyRequests, sc >= 500:
			return domain.WrapError(domain.ErrTemporary, operation, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

// classifyOllamaError differs from the domain default in one place: a plain 4xx other
// than 400 is the caller's problem and stays out of the breaker.
func classifyOllamaError(err error) resilience.ErrorClassification {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < 500 && domain.Kind(err) == domain.KindInternal {
		return resilience.ErrorClassification{}
	}
	return resilience.DomainClassifier(err)
}
