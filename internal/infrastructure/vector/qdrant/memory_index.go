package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docsense/internal/core/domain"
)

// MemoryIndex stores memory records in a Qdrant collection over REST.
type MemoryIndex struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func NewMemoryIndex(baseURL, collection string) *MemoryIndex {
	return &MemoryIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *MemoryIndex) Add(ctx context.Context, record domain.MemoryRecord) error {
	if len(record.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", domain.ErrInvalidInput)
	}
	if err := c.ensureCollection(ctx, len(record.Embedding)); err != nil {
		return err
	}
	if record.Metadata.CreatedAt.IsZero() {
		record.Metadata.CreatedAt = time.Now().UTC()
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate point id: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"points": []map[string]any{
			{
				"id":     id.String(),
				"vector": record.Embedding,
				"payload": map[string]any{
					"owner_id":       record.Metadata.OwnerID,
					"provenance":     string(record.Metadata.Provenance),
					"kind":           string(record.Metadata.Kind),
					"document_id":    record.Metadata.DocumentID,
					"content_handle": record.Metadata.ContentHandle,
					"created_at":     record.Metadata.CreatedAt.UTC().Format(time.RFC3339Nano),
					"text":           record.Payload,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal memory upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPut, url, body, nil); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "memory upsert", err)
	}
	return nil
}

// Search is unfiltered; owner scoping happens in the caller.
func (c *MemoryIndex) Search(ctx context.Context, vector []float32, limit int) ([]domain.MemoryHit, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]any{
		"query":        vector,
		"limit":        limit,
		"with_payload": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal memory query body: %w", err)
	}

	var resp queryResponse
	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, body, &resp); err != nil {
		if isMissingCollection(err) {
			return nil, nil
		}
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "memory query", err)
	}

	out := make([]domain.MemoryHit, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		createdAt, _ := time.Parse(time.RFC3339Nano, getStringPayload(p.Payload, "created_at"))
		out = append(out, domain.MemoryHit{
			Payload: getStringPayload(p.Payload, "text"),
			Score:   p.Score,
			Metadata: domain.MemoryMetadata{
				OwnerID:       getStringPayload(p.Payload, "owner_id"),
				Provenance:    domain.Provenance(getStringPayload(p.Payload, "provenance")),
				Kind:          domain.MemoryKind(getStringPayload(p.Payload, "kind")),
				DocumentID:    getStringPayload(p.Payload, "document_id"),
				ContentHandle: getStringPayload(p.Payload, "content_handle"),
				CreatedAt:     createdAt,
			},
		})
	}
	return out, nil
}

type queryResponse struct {
	Result struct {
		Points []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("qdrant status %d", e.status)
	}
	return fmt.Sprintf("qdrant status %d: %s", e.status, e.msg)
}

func isMissingCollection(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (c *MemoryIndex) do(ctx context.Context, method, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.StatusCode, msg: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}

func (c *MemoryIndex) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal memory ensure collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPut, url, body, nil); err != nil {
		// 409 if the collection already exists (depends on version/config).
		if se, ok := err.(*statusError); !ok || se.status != http.StatusConflict {
			return domain.WrapError(domain.ErrStoreUnavailable, "memory ensure collection", err)
		}
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
