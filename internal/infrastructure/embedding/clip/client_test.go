package clip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/infrastructure/resilience"
	"github.com/kirillkom/docsense/internal/observability/logging"
)

func TestEmbedTextAndImageRoutes(t *testing.T) {
	var textInput []string
	var imageInput []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch r.URL.Path {
		case "/embed/text":
			textInput = payload["input"]
			_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
		case "/embed/image":
			imageInput = payload["images"]
			_, _ = w.Write([]byte(`{"embeddings":[[0.3,0.2,0.1]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", nil, logging.Discard())

	vec, err := c.EmbedText(context.Background(), "  "+strings.Repeat("가", 400)+"  ")
	if err != nil {
		t.Fatalf("EmbedText() error = %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if len([]rune(textInput[0])) != defaultMaxTextRunes {
		t.Fatalf("expected text truncated to %d runes, got %d", defaultMaxTextRunes, len([]rune(textInput[0])))
	}

	vec, err = c.EmbedImage(context.Background(), domain.VisualFeatures{Encoded: "aW1n"})
	if err != nil {
		t.Fatalf("EmbedImage() error = %v", err)
	}
	if vec[0] != 0.3 || len(imageInput) != 1 || imageInput[0] != "aW1n" {
		t.Fatalf("unexpected image call: vec=%v input=%v", vec, imageInput)
	}
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	}, logging.Discard())
	vec, err := NewClient(server.URL, exec, logging.Discard()).EmbedText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedText() error = %v", err)
	}
	if calls != 2 || len(vec) != 2 {
		t.Fatalf("expected one retry, calls=%d vec=%v", calls, vec)
	}
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	c := NewClient("http://unused", nil, logging.Discard())
	if _, err := c.EmbedText(context.Background(), "   "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.EmbedImage(context.Background(), domain.VisualFeatures{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
