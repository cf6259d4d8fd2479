package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docsense/internal/core/besteffort"
	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/ports"
)

// FeedbackUseCase records verdicts on generated outputs and routes them to the dataset or the
// improvement queue.
type FeedbackUseCase struct {
	store     ports.FeedbackStore
	documents ports.RecentDocumentIndex
	dataset   ports.DatasetWriter
	queue     ports.FeedbackQueue
	logger    *slog.Logger
}

// NewFeedbackUseCase builds the service. A nil queue disables asynchronous improvement.
func NewFeedbackUseCase(
	store ports.FeedbackStore,
	documents ports.RecentDocumentIndex,
	dataset ports.DatasetWriter,
	queue ports.FeedbackQueue,
	logger *slog.Logger,
) *FeedbackUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackUseCase{store: store, documents: documents, dataset: dataset, queue: queue, logger: logger}
}

func NormalizeVerdict(raw string) domain.FeedbackVerdict {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "good", "positive", "up", "👍":
		return domain.VerdictGood
	default:
		return domain.VerdictBad
	}
}

func (uc *FeedbackUseCase) Submit(ctx context.Context, req ports.FeedbackRequest) (*domain.FeedbackResult, error) {
	if strings.TrimSpace(req.Prompt) == "" || strings.TrimSpace(req.Output) == "" {
		return nil, fmt.Errorf("%w: prompt and output are required", domain.ErrInvalidInput)
	}

	fb := &domain.Feedback{
		OwnerID:    req.OwnerID,
		DocumentID: req.DocumentID,
		Prompt:     req.Prompt,
		Output:     req.Output,
		Verdict:    NormalizeVerdict(req.Verdict),
		Note:       req.Note,
	}
	if req.DocumentID != "" && uc.documents != nil {
		if record, err := uc.documents.GetByID(ctx, req.DocumentID); err == nil {
			fb.ContentHandle = record.ContentHandle
		} else if !domain.IsKind(err, domain.ErrDocumentNotFound) {
			uc.logger.Warn("feedback_document_lookup_failed", "document_id", req.DocumentID, "error", err)
		}
	}

	if err := uc.store.Create(ctx, fb); err != nil {
		return nil, err
	}

	result := &domain.FeedbackResult{Status: "ok", ID: fb.ID}
	switch fb.Verdict {
	case domain.VerdictGood:
		if uc.dataset != nil {
			besteffort.Do(ctx, "append_sft", func(ctx context.Context) error {
				return uc.dataset.AppendSFT(ctx, *fb)
			}).Log(uc.logger)
		}
	case domain.VerdictBad:
		if req.Regenerate && uc.queue != nil {
			published := besteffort.Do(ctx, "publish_feedback", func(ctx context.Context) error {
				return uc.queue.PublishFeedback(ctx, fb.ID)
			}).Log(uc.logger)
			result.Queued = published.OK()
		}
	}
	return result, nil
}

const improveInstruction = "Here is an instruction and a draft answer about the document in the image. " +
	"Rewrite the draft so it is shorter, more accurate and easy for an older reader to follow. " +
	"Reply with the improved answer only."

// FeedbackImprover regenerates rejected outputs and appends preference rows.
type FeedbackImprover struct {
	store     ports.FeedbackStore
	extractor ports.FeatureExtractor
	model     ports.VisionModel
	dataset   ports.DatasetWriter
	maxTokens int
	logger    *slog.Logger
}

func NewFeedbackImprover(
	store ports.FeedbackStore,
	extractor ports.FeatureExtractor,
	model ports.VisionModel,
	dataset ports.DatasetWriter,
	maxTokens int,
	logger *slog.Logger,
) *FeedbackImprover {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackImprover{store: store, extractor: extractor, model: model, dataset: dataset, maxTokens: maxTokens, logger: logger}
}

func (uc *FeedbackImprover) ImproveByID(ctx context.Context, feedbackID string) (domain.ImproveOutcome, error) {
	fb, err := uc.store.GetByID(ctx, feedbackID)
	if err != nil {
		return "", fmt.Errorf("load feedback: %w", err)
	}
	if fb.Verdict != domain.VerdictBad {
		return domain.ImproveNotRejected, nil
	}
	if fb.Improved != "" {
		uc.logger.Info("feedback_already_improved", "feedback_id", fb.ID)
		return domain.ImproveAlreadyDone, nil
	}

	outcome := domain.ImproveDone
	var features domain.VisualFeatures
	if fb.ContentHandle != "" {
		features, err = uc.extractor.Extract(ctx, fb.ContentHandle)
		if err != nil {
			if !domain.IsKind(err, domain.ErrDocumentNotFound) {
				return "", fmt.Errorf("extract features: %w", err)
			}
			uc.logger.Warn("feedback_image_missing", "feedback_id", fb.ID, "content_handle", fb.ContentHandle)
		}
	}
	if features.Empty() {
		outcome = domain.ImproveDoneTextOnly
	}

	improved, err := uc.model.Generate(ctx, domain.InferenceRequest{
		Features:    features,
		Instruction: improveInstruction,
		Prompt:      fmt.Sprintf("[Instruction]\n%s\n\n[Draft]\n%s", fb.Prompt, fb.Output),
		MaxTokens:   uc.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate improvement: %w", err)
	}
	improved = strings.TrimSpace(improved)
	if improved == "" {
		return domain.ImproveEmptyOutput, nil
	}

	if err := uc.store.SaveImproved(ctx, fb.ID, improved); err != nil {
		return "", fmt.Errorf("save improvement: %w", err)
	}
	fb.Improved = improved
	if err := uc.dataset.AppendDPO(ctx, *fb); err != nil {
		return "", fmt.Errorf("append dpo row: %w", err)
	}
	return outcome, nil
}
