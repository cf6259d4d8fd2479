package domain

import "time"

type Provenance string

const (
	ProvenanceImage          Provenance = "image"
	ProvenanceSummary        Provenance = "summary"
	ProvenanceQuestion       Provenance = "qa_question"
	ProvenanceAnswer         Provenance = "qa_answer"
	ProvenanceSummarySnippet Provenance = "summary_snippet"
	ProvenanceManual         Provenance = "manual"
)

type MemoryKind string

const (
	MemoryKindImage MemoryKind = "image"
	MemoryKindText  MemoryKind = "text"
)

type MemoryMetadata struct {
	OwnerID       string     `json:"owner_id"`
	Provenance    Provenance `json:"provenance"`
	Kind          MemoryKind `json:"kind"`
	DocumentID    string     `json:"document_id,omitempty"`
	ContentHandle string     `json:"path,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MemoryRecord keeps vector, payload and metadata together as one unit.
type MemoryRecord struct {
	Embedding []float32      `json:"-"`
	Payload   string         `json:"payload"`
	Metadata  MemoryMetadata `json:"metadata"`
}

type MemoryHit struct {
	Payload  string         `json:"payload"`
	Metadata MemoryMetadata `json:"metadata"`
	Score    float64        `json:"score"`
}
