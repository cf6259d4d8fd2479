package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
)

// ObjectStorage stores uploaded document images under opaque content handles.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ConversationLog is the durable append-only message log partitioned by (owner, document).
type ConversationLog interface {
	Append(ctx context.Context, message domain.ConversationMessage) error
	List(ctx context.Context, ownerID, documentID string) ([]domain.ConversationMessage, error)
}

// RecentDocumentIndex is the durable per-owner list of recently summarized documents.
type RecentDocumentIndex interface {
	Upsert(ctx context.Context, record domain.DocumentRecord) error
	List(ctx context.Context, ownerID string, limit int) ([]domain.DocumentRecord, error)
	Delete(ctx context.Context, ownerID, documentID string) (bool, error)
	GetByOwnerAndID(ctx context.Context, ownerID, documentID string) (*domain.DocumentRecord, error)
	GetByID(ctx context.Context, documentID string) (*domain.DocumentRecord, error)
	Latest(ctx context.Context, ownerID string) (*domain.DocumentRecord, error)
}

// FeatureExtractor turns a content handle into cached visual features.
type FeatureExtractor interface {
	Extract(ctx context.Context, contentHandle string) (domain.VisualFeatures, error)
}

// VisionModel runs one vision-language generation.
type VisionModel interface {
	Generate(ctx context.Context, req domain.InferenceRequest) (string, error)
}

// DocumentClassifier assigns a category to document features. It never fails.
type DocumentClassifier interface {
	Classify(ctx context.Context, features domain.VisualFeatures) domain.Category
}

// PromptRouter maps a category to its opening instruction.
type PromptRouter interface {
	PromptFor(category domain.Category) string
}

// Embedder builds vectors for text and images in one shared space.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, features domain.VisualFeatures) ([]float32, error)
}

// MemoryIndex stores memory records and performs unfiltered similarity search.
type MemoryIndex interface {
	Add(ctx context.Context, record domain.MemoryRecord) error
	Search(ctx context.Context, vector []float32, limit int) ([]domain.MemoryHit, error)
}

// FeedbackStore persists user feedback on generated outputs.
type FeedbackStore interface {
	Create(ctx context.Context, feedback *domain.Feedback) error
	GetByID(ctx context.Context, id string) (*domain.Feedback, error)
	SaveImproved(ctx context.Context, id, improved string) error
}

// FeedbackQueue publishes/consumes improvement requests.
type FeedbackQueue interface {
	PublishFeedback(ctx context.Context, feedbackID string) error
	SubscribeFeedback(ctx context.Context, handler func(context.Context, string) error) error
}

// DatasetWriter appends fine-tuning rows.
type DatasetWriter interface {
	AppendSFT(ctx context.Context, feedback domain.Feedback) error
	AppendDPO(ctx context.Context, feedback domain.Feedback) error
}

// Telemetry receives domain-level observations.
type Telemetry interface {
	RecordSessionCreated(category domain.Category)
	RecordRecovery(strategy string, recovered bool)
	RecordInference(operation string, duration time.Duration, err error)
	RecordMemoryHits(hits int)
	RecordBestEffortFailure(operation string)
}

type NopTelemetry struct{}

func (NopTelemetry) RecordSessionCreated(domain.Category) {}
func (NopTelemetry) RecordRecovery(string, bool) {}
func (NopTelemetry) RecordInference(string, time.Duration, error) {}
func (NopTelemetry) RecordMemoryHits(int) {}
func (NopTelemetry) RecordBestEffortFailure(string) {}
