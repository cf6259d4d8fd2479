package chromem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kirillkom/docsense/internal/core/domain"
)

const collectionName = "document_memory"

// Store is an embedded vector index persisted as a single file.
// Every Add rewrites the whole file through a temp file and rename, so the
// vector, payload and metadata of a record are always flushed together.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	db  *chromem.DB
	col *chromem.Collection
	seq int
}

// Open loads the index at path. A missing file yields an empty store; an
// unreadable one is moved aside and the store starts empty.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vector index dir: %w", err)
		}
	}

	s := &Store{path: path, logger: logger}
	db, err := s.load()
	if err != nil {
		return nil, err
	}
	col := db.GetCollection(collectionName, nil)
	if col == nil {
		col, err = db.CreateCollection(collectionName, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}
	s.db = db
	s.col = col
	s.seq = col.Count()
	return s, nil
}

func (s *Store) load() (*chromem.DB, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return chromem.NewDB(), nil
		}
		return nil, fmt.Errorf("stat vector index: %w", err)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(s.path, ""); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		s.logger.Warn("vector_index_unreadable", "path", s.path, "moved_to", aside, "error", err)
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			return nil, fmt.Errorf("move unreadable vector index aside: %w", renameErr)
		}
		return chromem.NewDB(), nil
	}
	return db, nil
}

func (s *Store) Add(ctx context.Context, record domain.MemoryRecord) error {
	if len(record.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", domain.ErrInvalidInput)
	}
	if record.Metadata.CreatedAt.IsZero() {
		record.Metadata.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	position := s.seq
	doc := chromem.Document{
		ID:        fmt.Sprintf("%012d", position),
		Content:   record.Payload,
		Embedding: record.Embedding,
		Metadata:  encodeMetadata(record.Metadata, position),
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "add memory record", err)
	}
	s.seq++

	if err := s.persist(); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "persist vector index", err)
	}
	return nil
}

// Search returns up to limit nearest records across all owners.
func (s *Store) Search(ctx context.Context, vector []float32, limit int) ([]domain.MemoryHit, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := s.col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "query vector index", err)
	}

	out := make([]domain.MemoryHit, 0, len(results))
	for _, r := range results {
		out = append(out, domain.MemoryHit{
			Payload:  r.Content,
			Metadata: decodeMetadata(r.Metadata),
			Score:    float64(r.Similarity),
		})
	}
	return out, nil
}

func (s *Store) Count() int {
	return s.col.Count()
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	if err := s.db.ExportToFile(tmp, false, ""); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("export vector index: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace vector index: %w", err)
	}
	return nil
}

func encodeMetadata(meta domain.MemoryMetadata, position int) map[string]string {
	return map[string]string{
		"owner_id":       meta.OwnerID,
		"provenance":     string(meta.Provenance),
		"kind":           string(meta.Kind),
		"document_id":    meta.DocumentID,
		"content_handle": meta.ContentHandle,
		"created_at":     meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		"position":       strconv.Itoa(position),
	}
}

func decodeMetadata(raw map[string]string) domain.MemoryMetadata {
	createdAt, _ := time.Parse(time.RFC3339Nano, raw["created_at"])
	return domain.MemoryMetadata{
		OwnerID:       raw["owner_id"],
		Provenance:    domain.Provenance(raw["provenance"]),
		Kind:          domain.MemoryKind(raw["kind"]),
		DocumentID:    raw["document_id"],
		ContentHandle: raw["content_handle"],
		CreatedAt:     createdAt,
	}
}
