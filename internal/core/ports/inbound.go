package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docsense/internal/core/domain"
)

// UploadRequest carries one document image upload.
type UploadRequest struct {
	OwnerID  string
	Filename string
	Body     io.Reader
}

// AskRequest carries one follow-up question. DocumentID is optional.
type AskRequest struct {
	OwnerID    string
	DocumentID string
	Question   string
}

// DeleteRequest removes a document from the recent list. Path is optional.
type DeleteRequest struct {
	OwnerID    string
	DocumentID string
	Path       string
}

// FeedbackRequest captures a verdict on one generated output.
type FeedbackRequest struct {
	OwnerID    string
	DocumentID string
	Prompt     string
	Output     string
	Verdict    string
	Note       string
	Regenerate bool
}

// CompanionService is the inbound contract for the document conversation flow.
type CompanionService interface {
	StartSession(ctx context.Context, req UploadRequest) (*domain.UploadResult, error)
	Ask(ctx context.Context, req AskRequest) (*domain.AskResult, error)
	Conversation(ctx context.Context, ownerID, documentID string) ([]domain.ConversationMessage, error)
	RecentDocuments(ctx context.Context, ownerID string) ([]domain.DocumentRecord, error)
	DeleteDocument(ctx context.Context, req DeleteRequest) (*domain.DeleteResult, error)
	OpenContent(ctx context.Context, contentHandle string) (io.ReadCloser, error)
	SaveNote(ctx context.Context, ownerID, text string) error
}

// FeedbackService is the inbound contract for feedback capture.
type FeedbackService interface {
	Submit(ctx context.Context, req FeedbackRequest) (*domain.FeedbackResult, error)
}

// FeedbackImprover is the inbound contract for asynchronous output improvement.
type FeedbackImprover interface {
	ImproveByID(ctx context.Context, feedbackID string) (domain.ImproveOutcome, error)
}
