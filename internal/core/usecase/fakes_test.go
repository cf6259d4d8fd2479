package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
	deleted []string
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = raw
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: content %s", domain.ErrDocumentNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *storageFake) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *storageFake) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type logFake struct {
	mu       sync.Mutex
	messages []domain.ConversationMessage
}

func (l *logFake) Append(_ context.Context, msg domain.ConversationMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	return nil
}

func (l *logFake) List(_ context.Context, ownerID, documentID string) ([]domain.ConversationMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.ConversationMessage
	for _, m := range l.messages {
		if m.OwnerID == ownerID && m.DocumentID == documentID {
			out = append(out, m)
		}
	}
	return out, nil
}

type indexFake struct {
	mu      sync.Mutex
	records []domain.DocumentRecord
}

func (x *indexFake) Upsert(_ context.Context, r domain.DocumentRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	kept := make([]domain.DocumentRecord, 0, len(x.records)+1)
	for _, existing := range x.records {
		if existing.OwnerID != r.OwnerID || existing.DocumentID != r.DocumentID {
			kept = append(kept, existing)
		}
	}
	x.records = append(kept, r)
	sort.SliceStable(x.records, func(i, j int) bool { return x.records[i].LastModified.After(x.records[j].LastModified) })
	return nil
}

func (x *indexFake) List(_ context.Context, ownerID string, limit int) ([]domain.DocumentRecord, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []domain.DocumentRecord
	for _, r := range x.records {
		if r.OwnerID == ownerID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (x *indexFake) Delete(_ context.Context, ownerID, documentID string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, r := range x.records {
		if r.OwnerID == ownerID && r.DocumentID == documentID {
			x.records = append(x.records[:i], x.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (x *indexFake) find(match func(domain.DocumentRecord) bool, ref string) (*domain.DocumentRecord, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range x.records {
		if match(r) {
			r := r
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, ref)
}

func (x *indexFake) GetByOwnerAndID(_ context.Context, ownerID, documentID string) (*domain.DocumentRecord, error) {
	return x.find(func(r domain.DocumentRecord) bool { return r.OwnerID == ownerID && r.DocumentID == documentID }, documentID)
}

func (x *indexFake) GetByID(_ context.Context, documentID string) (*domain.DocumentRecord, error) {
	return x.find(func(r domain.DocumentRecord) bool { return r.DocumentID == documentID }, documentID)
}

func (x *indexFake) Latest(_ context.Context, ownerID string) (*domain.DocumentRecord, error) {
	return x.find(func(r domain.DocumentRecord) bool { return r.OwnerID == ownerID }, ownerID)
}

type extractorFake struct {
	storage *storageFake
}

func (e extractorFake) Extract(ctx context.Context, handle string) (domain.VisualFeatures, error) {
	rc, err := e.storage.Open(ctx, handle)
	if err != nil {
		return domain.VisualFeatures{}, err
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	return domain.VisualFeatures{ContentHandle: handle, MimeType: "image/png", Encoded: fmt.Sprintf("%x", raw)}, nil
}

type classifierFake struct{ category domain.Category }

func (c classifierFake) Classify(context.Context, domain.VisualFeatures) domain.Category {
	return c.category
}

type modelFake struct {
	mu       sync.Mutex
	requests []domain.InferenceRequest
	reply    func(domain.InferenceRequest) string
	err      error
}

func (m *modelFake) Generate(_ context.Context, req domain.InferenceRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if m.reply != nil {
		return m.reply(req), nil
	}
	return fmt.Sprintf("reply %d", len(m.requests)), nil
}

func (m *modelFake) last() domain.InferenceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

type embedderFake struct {
	err error
}

// EmbedText maps text onto a tiny deterministic vector so related strings land close together.
func (e *embedderFake) EmbedText(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)%7 + 1), float32(strings.Count(text, " ") + 1), 1}, nil
}

func (e *embedderFake) EmbedImage(_ context.Context, features domain.VisualFeatures) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 1, float32(len(features.Encoded)%5 + 1)}, nil
}

type memoryIndexFake struct {
	mu      sync.Mutex
	records []domain.MemoryRecord
	err     error
}

func (m *memoryIndexFake) Add(_ context.Context, r domain.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memoryIndexFake) Search(_ context.Context, _ []float32, limit int) ([]domain.MemoryHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.MemoryHit
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, domain.MemoryHit{Payload: m.records[i].Payload, Metadata: m.records[i].Metadata})
	}
	return out, nil
}

func (m *memoryIndexFake) byProvenance(p domain.Provenance) []domain.MemoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MemoryRecord
	for _, r := range m.records {
		if r.Metadata.Provenance == p {
			out = append(out, r)
		}
	}
	return out
}

type telemetryFake struct {
	mu       sync.Mutex
	failures []string
}

func (t *telemetryFake) RecordSessionCreated(domain.Category) {}
func (t *telemetryFake) RecordRecovery(string, bool) {}
func (t *telemetryFake) RecordMemoryHits(int) {}
func (t *telemetryFake) RecordInference(string, time.Duration, error) {}
func (t *telemetryFake) RecordBestEffortFailure(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, op)
}
