// Package memory embeds conversation artifacts into the vector index and recalls them per owner.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strings"
	"time"

	"github.com/kirillkom/docsense/internal/core/besteffort"
	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/ports"
)

type Config struct {
	ContextSnippets int
	SnippetChars    int
	SummaryChars    int
	SearchFanout    int
}

func DefaultConfig() Config {
	return Config{ContextSnippets: 5, SnippetChars: 160, SummaryChars: 200, SearchFanout: 20}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.ContextSnippets <= 0 {
		c.ContextSnippets = def.ContextSnippets
	}
	if c.SnippetChars <= 0 {
		c.SnippetChars = def.SnippetChars
	}
	if c.SummaryChars <= 0 {
		c.SummaryChars = def.SummaryChars
	}
	if c.SearchFanout < c.ContextSnippets {
		c.SearchFanout = max(def.SearchFanout, c.ContextSnippets)
	}
	return c
}

// Snippet is one recalled memory prepared for prompt augmentation.
type Snippet struct {
	Kind       domain.MemoryKind
	Text       string
	DocumentID string
	Score      float64
}

type Service struct {
	embedder  ports.Embedder
	index     ports.MemoryIndex
	cfg       Config
	telemetry ports.Telemetry
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(embedder ports.Embedder, index ports.MemoryIndex, cfg Config, telemetry ports.Telemetry, logger *slog.Logger) *Service {
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:  embedder,
		index:     index,
		cfg:       cfg.normalize(),
		telemetry: telemetry,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EmbedText returns a unit-length vector for text.
func (s *Service) EmbedText(ctx context.Context, text string) besteffort.Result[[]float32] {
	return besteffort.Run(ctx, "memory_embed_text", func(ctx context.Context) ([]float32, error) {
		vec, err := s.embedder.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		return Normalize(vec)
	})
}

// RememberImage stores the image embedding of an uploaded document.
func (s *Service) RememberImage(ctx context.Context, ownerID, documentID string, features domain.VisualFeatures) besteffort.Result[struct{}] {
	return besteffort.Do(ctx, "memory_store_image", func(ctx context.Context) error {
		vec, err := s.embedder.EmbedImage(ctx, features)
		if err != nil {
			return err
		}
		vec, err = Normalize(vec)
		if err != nil {
			return err
		}
		return s.index.Add(ctx, domain.MemoryRecord{
			Embedding: vec,
			Metadata: domain.MemoryMetadata{
				OwnerID:       ownerID,
				Provenance:    domain.ProvenanceImage,
				Kind:          domain.MemoryKindImage,
				DocumentID:    documentID,
				ContentHandle: features.ContentHandle,
				CreatedAt:     s.now(),
			},
		})
	})
}

// RememberText stores text under provenance. A non-nil vector is reused instead of embedding again.
func (s *Service) RememberText(
	ctx context.Context,
	ownerID, documentID string,
	provenance domain.Provenance,
	text string,
	vector []float32,
) besteffort.Result[struct{}] {
	return besteffort.Do(ctx, "memory_store_"+string(provenance), func(ctx context.Context) error {
		text = strings.TrimSpace(text)
		if text == "" {
			return fmt.Errorf("%w: empty memory text", domain.ErrInvalidInput)
		}
		vec := vector
		if vec == nil {
			raw, err := s.embedder.EmbedText(ctx, text)
			if err != nil {
				return err
			}
			if vec, err = Normalize(raw); err != nil {
				return err
			}
		}
		return s.index.Add(ctx, domain.MemoryRecord{
			Embedding: vec,
			Payload:   text,
			Metadata: domain.MemoryMetadata{
				OwnerID:    ownerID,
				Provenance: provenance,
				Kind:       domain.MemoryKindText,
				DocumentID: documentID,
				CreatedAt:  s.now(),
			},
		})
	})
}

// Recall searches unfiltered, then keeps the owner's own hits, skipping the echo of question.
func (s *Service) Recall(ctx context.Context, ownerID, question string, vector []float32) besteffort.Result[[]Snippet] {
	return besteffort.Run(ctx, "memory_recall", func(ctx context.Context) ([]Snippet, error) {
		if vector == nil {
			return nil, fmt.Errorf("%w: missing query vector", domain.ErrInvalidInput)
		}
		hits, err := s.index.Search(ctx, vector, s.cfg.SearchFanout)
		if err != nil {
			return nil, err
		}
		question = strings.TrimSpace(question)
		out := make([]Snippet, 0, s.cfg.ContextSnippets)
		for _, hit := range hits {
			if len(out) == s.cfg.ContextSnippets {
				break
			}
			if hit.Metadata.OwnerID != ownerID {
				continue
			}
			switch hit.Metadata.Kind {
			case domain.MemoryKindImage:
				name := path.Base(hit.Metadata.ContentHandle)
				if hit.Metadata.ContentHandle == "" {
					name = "(unknown file)"
				}
				out = append(out, Snippet{Kind: domain.MemoryKindImage, Text: name, DocumentID: hit.Metadata.DocumentID, Score: hit.Score})
			default:
				payload := strings.TrimSpace(hit.Payload)
				if payload == "" || payload == question {
					continue
				}
				out = append(out, Snippet{
					Kind:       domain.MemoryKindText,
					Text:       Truncate(payload, s.cfg.SnippetChars),
					DocumentID: hit.Metadata.DocumentID,
					Score:      hit.Score,
				})
			}
		}
		s.telemetry.RecordMemoryHits(len(out))
		return out, nil
	})
}

// SummarySnippet caps an opening summary for storage.
func (s *Service) SummarySnippet(summary string) string {
	return Truncate(summary, s.cfg.SummaryChars)
}

// AnswerSnippet caps an answer for storage.
func (s *Service) AnswerSnippet(answer string) string {
	return Truncate(answer, s.cfg.SnippetChars)
}

const contextHeader = "Earlier related information from your own history. Use it to keep the answer connected when it helps:"

// Compose prepends the context block to question. Without snippets the question is returned unchanged.
func Compose(question string, snippets []Snippet) string {
	if len(snippets) == 0 {
		return question
	}
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, sn := range snippets {
		b.WriteString("\n")
		if sn.Kind == domain.MemoryKindImage {
			b.WriteString("- Earlier document image: ")
		} else {
			b.WriteString("- Earlier note: ")
		}
		b.WriteString(sn.Text)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// Truncate cuts text to limit runes, marking the cut with an ellipsis.
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// Normalize scales v to unit length so Euclidean search ranks like cosine similarity.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if len(v) == 0 || sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: embedding cannot be normalized", domain.ErrInvalidInput)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}
