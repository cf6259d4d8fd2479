package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one append-only entry of an (owner, document) conversation.
type ConversationMessage struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	DocumentID string    `json:"document_id"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"ts"`
}

// VisualFeatures is the cached, model-ready encoding of one document image.
type VisualFeatures struct {
	ContentHandle string
	MimeType      string
	Encoded       string
}

func (f VisualFeatures) Empty() bool {
	return f.Encoded == ""
}

// SessionContext is the volatile per-owner working state of an active document conversation.
type SessionContext struct {
	OwnerID       string
	DocumentID    string
	ContentHandle string
	Category      Category
	Features      VisualFeatures
	OpeningPrompt string
	Messages      []ConversationMessage
}

// InferenceRequest is a single call to the vision-language model.
type InferenceRequest struct {
	Features    VisualFeatures
	Instruction string
	History     []ConversationMessage
	Prompt      string
	MaxTokens   int
}

type UploadResult struct {
	DocumentID string   `json:"document_id"`
	OwnerID    string   `json:"owner_id"`
	Category   Category `json:"category"`
	Summary    string   `json:"answer"`
	Path       string   `json:"path"`
}

type AskResult struct {
	Answer     string `json:"answer"`
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	Recovered  bool   `json:"recovered"`
}

type DeleteResult struct {
	Removed     bool `json:"removed"`
	FileRemoved bool `json:"file_removed"`
}

type FeedbackResult struct {
	Status string `json:"status"`
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
}
