package usecase

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/kirillkom/docsense/internal/core/besteffort"
	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/memory"
	"github.com/kirillkom/docsense/internal/core/ports"
	"github.com/kirillkom/docsense/internal/core/session"
)

const DefaultRecentLimit = 20

// CompanionUseCase orchestrates uploads and questions around the session manager and vector memory.
type CompanionUseCase struct {
	sessions      *session.Manager
	memory        *memory.Service
	storage       ports.ObjectStorage
	conversations ports.ConversationLog
	documents     ports.RecentDocumentIndex
	telemetry     ports.Telemetry
	logger        *slog.Logger
	recentLimit   int
}

func NewCompanionUseCase(
	sessions *session.Manager,
	mem *memory.Service,
	storage ports.ObjectStorage,
	conversations ports.ConversationLog,
	documents ports.RecentDocumentIndex,
	telemetry ports.Telemetry,
	logger *slog.Logger,
	recentLimit int,
) *CompanionUseCase {
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &CompanionUseCase{
		sessions:      sessions,
		memory:        mem,
		storage:       storage,
		conversations: conversations,
		documents:     documents,
		telemetry:     telemetry,
		logger:        logger,
		recentLimit:   recentLimit,
	}
}

func (uc *CompanionUseCase) StartSession(ctx context.Context, req ports.UploadRequest) (*domain.UploadResult, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner identity is required", domain.ErrInvalidInput)
	}
	if req.Body == nil {
		return nil, fmt.Errorf("%w: image is required", domain.ErrInvalidInput)
	}

	body := bufio.NewReaderSize(req.Body, 3072)
	head, err := body.Peek(3072)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidInput, err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: image is empty", domain.ErrInvalidInput)
	}
	mt := mimetype.Detect(head)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: %s is not an image (%s)", domain.ErrInvalidInput, filepath.Base(req.Filename), mt.String())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate document id: %w", err)
	}
	documentID := id.String()
	key := fmt.Sprintf("%s_%s%s", sanitizeKeyPart(req.OwnerID), documentID, mt.Extension())

	if err := uc.storage.Save(ctx, key, body); err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "save document image", err)
	}

	created, err := uc.sessions.Create(ctx, session.CreateRequest{
		OwnerID:       req.OwnerID,
		DocumentID:    documentID,
		ContentHandle: key,
	})
	if err != nil {
		uc.discard(besteffort.Do(ctx, "cleanup_upload", func(ctx context.Context) error {
			return uc.storage.Delete(ctx, key)
		}))
		return nil, err
	}

	uc.discard(uc.memory.RememberImage(ctx, req.OwnerID, documentID, created.Features))
	if snippet := uc.memory.SummarySnippet(created.Summary); snippet != "" {
		uc.discard(uc.memory.RememberText(ctx, req.OwnerID, documentID, domain.ProvenanceSummary, snippet, nil))
	}

	return &domain.UploadResult{
		DocumentID: documentID,
		OwnerID:    req.OwnerID,
		Category:   created.Category,
		Summary:    created.Summary,
		Path:       key,
	}, nil
}

func (uc *CompanionUseCase) Ask(ctx context.Context, req ports.AskRequest) (*domain.AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner identity is missing", domain.ErrSessionNotFound)
	}

	documentHint := req.DocumentID
	if documentHint == "" {
		documentHint, _ = uc.sessions.ActiveDocument(req.OwnerID)
	}

	prompt := question
	vector := uc.memory.EmbedText(ctx, question)
	uc.discard(vector)
	if vector.OK() {
		uc.discard(uc.memory.RememberText(ctx, req.OwnerID, documentHint, domain.ProvenanceQuestion, question, vector.Value))
		recalled := uc.memory.Recall(ctx, req.OwnerID, question, vector.Value)
		uc.discard(recalled)
		prompt = memory.Compose(question, recalled.OrElse(nil))
	}

	answered, err := uc.sessions.Ask(ctx, session.AskRequest{
		OwnerID:    req.OwnerID,
		DocumentID: req.DocumentID,
		Question:   question,
		Prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	if answered.Answer != "" {
		uc.discard(uc.memory.RememberText(ctx, answered.OwnerID, answered.DocumentID, domain.ProvenanceAnswer, answered.Answer, nil))
		uc.discard(uc.memory.RememberText(ctx, answered.OwnerID, answered.DocumentID, domain.ProvenanceSummarySnippet, uc.memory.AnswerSnippet(answered.Answer), nil))
	}

	return &domain.AskResult{
		Answer:     answered.Answer,
		DocumentID: answered.DocumentID,
		OwnerID:    answered.OwnerID,
		Recovered:  answered.Recovered,
	}, nil
}

// Conversation lists a document's messages oldest first. Missing identifiers yield an empty list.
func (uc *CompanionUseCase) Conversation(ctx context.Context, ownerID, documentID string) ([]domain.ConversationMessage, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(documentID) == "" {
		return []domain.ConversationMessage{}, nil
	}
	messages, err := uc.conversations.List(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.ConversationMessage{}
	}
	return messages, nil
}

func (uc *CompanionUseCase) RecentDocuments(ctx context.Context, ownerID string) ([]domain.DocumentRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return []domain.DocumentRecord{}, nil
	}
	records, err := uc.documents.List(ctx, ownerID, uc.recentLimit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.DocumentRecord{}
	}
	return records, nil
}

// DeleteDocument removes the index entry and evicts a live session on it. Stored content is removed
// only when the caller names the record's own content handle and that content still exists.
func (uc *CompanionUseCase) DeleteDocument(ctx context.Context, req ports.DeleteRequest) (*domain.DeleteResult, error) {
	if strings.TrimSpace(req.DocumentID) == "" {
		return nil, fmt.Errorf("%w: document_id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner identity is missing", domain.ErrSessionNotFound)
	}

	record, err := uc.documents.GetByOwnerAndID(ctx, req.OwnerID, req.DocumentID)
	if err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, err
	}
	removed, err := uc.documents.Delete(ctx, req.OwnerID, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if _, err := uc.sessions.EvictDocument(ctx, req.OwnerID, req.DocumentID); err != nil {
		return nil, err
	}

	result := &domain.DeleteResult{Removed: removed}
	if record != nil && req.Path != "" && req.Path == record.ContentHandle {
		res := besteffort.Run(ctx, "delete_document_content", func(ctx context.Context) (bool, error) {
			exists, err := uc.storage.Exists(ctx, record.ContentHandle)
			if err != nil || !exists {
				return false, err
			}
			if err := uc.storage.Delete(ctx, record.ContentHandle); err != nil {
				return false, err
			}
			return true, nil
		})
		uc.discard(res)
		result.FileRemoved = res.OrElse(false)
	}
	return result, nil
}

func (uc *CompanionUseCase) OpenContent(ctx context.Context, contentHandle string) (io.ReadCloser, error) {
	if strings.TrimSpace(contentHandle) == "" {
		return nil, fmt.Errorf("%w: path is required", domain.ErrInvalidInput)
	}
	return uc.storage.Open(ctx, contentHandle)
}

// SaveNote stores free text in the owner's memory. Here the vector write is the primary result.
func (uc *CompanionUseCase) SaveNote(ctx context.Context, ownerID, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: owner identity is required", domain.ErrInvalidInput)
	}
	res := uc.memory.RememberText(ctx, ownerID, "", domain.ProvenanceManual, text, nil)
	if res.Err == nil {
		return nil
	}
	if domain.Kind(res.Err) == domain.KindInternal || domain.IsKind(res.Err, domain.ErrTemporary) {
		return domain.WrapError(domain.ErrStoreUnavailable, "save note", res.Err)
	}
	return res.Err
}

type outcome interface {
	Outcome() (string, error)
}

// discard logs and counts a failed best-effort result; the primary flow continues regardless.
func (uc *CompanionUseCase) discard(res outcome) {
	op, err := res.Outcome()
	if err == nil {
		return
	}
	uc.telemetry.RecordBestEffortFailure(op)
	uc.logger.Warn("best_effort_failed", "operation", op, "error_kind", domain.Kind(err), "error", err)
}

func sanitizeKeyPart(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, value)
}
