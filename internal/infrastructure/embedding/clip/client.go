package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/infrastructure/resilience"
)

// CLIP text towers truncate around 77 tokens; longer inputs only waste bandwidth.
const defaultMaxTextRunes = 300

// Client calls a CLIP embedding sidecar. Text and image vectors share one space.
//
//	POST /embed/text  {"input":["..."]}   -> {"embeddings":[[...]]}
//	POST /embed/image {"images":["b64"]}  -> {"embeddings":[[...]]}
type Client struct {
	baseURL      string
	httpClient   *http.Client
	executor     *resilience.Executor
	maxTextRunes int
	logger       *slog.Logger
}

func NewClient(baseURL string, executor *resilience.Executor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		executor:     executor,
		maxTextRunes: defaultMaxTextRunes,
		logger:       logger.With("component", "clip_client"),
	}
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}
	if runes := []rune(text); len(runes) > c.maxTextRunes {
		text = string(runes[:c.maxTextRunes])
	}
	return c.embed(ctx, "/embed/text", map[string]any{"input": []string{text}}, "clip_embed_text")
}

func (c *Client) EmbedImage(ctx context.Context, features domain.VisualFeatures) ([]float32, error) {
	if features.Empty() {
		return nil, fmt.Errorf("%w: empty image features", domain.ErrInvalidInput)
	}
	return c.embed(ctx, "/embed/image", map[string]any{"images": []string{features.Encoded}}, "clip_embed_image")
}

func (c *Client) embed(ctx context.Context, path string, payload any, operation string) ([]float32, error) {
	var vector []float32
	call := func(ctx context.Context) error {
		var resp embedResponse
		if err := c.postJSON(ctx, path, payload, &resp); err != nil {
			return err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
			return fmt.Errorf("clip %s: empty embedding result", path)
		}
		vector = resp.Embeddings[0]
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, nil)
	} else {
		err = call(ctx)
	}
	if err != nil {
		c.logger.Debug("embedding failed", "operation", operation, "error", err)
		return nil, err
	}
	return vector, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "clip request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("clip status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.WrapError(domain.ErrTemporary, "clip request", err)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode embed response: %w", err)
	}
	return nil
}
