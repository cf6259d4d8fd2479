package routing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/ports"
)

const DefaultClassifyMaxTokens = 16

const classifyInstruction = "Which kind of document is shown in this image? " +
	"Answer with exactly one label: bill, health-notice, life-notice, finance-notice, other."

// labelMatchers is ordered by priority: the first category whose marker appears wins.
var labelMatchers = []struct {
	category domain.Category
	markers  []string
}{
	{domain.CategoryBill, []string{"bill", "고지서"}},
	{domain.CategoryHealthNotice, []string{"health", "건강"}},
	{domain.CategoryLifeNotice, []string{"life", "생활"}},
	{domain.CategoryFinanceNotice, []string{"finance", "금융"}},
}

// Normalize maps a raw model label onto the closed category set.
func Normalize(raw string) domain.Category {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		return domain.CategoryOther
	}
	for _, m := range labelMatchers {
		for _, marker := range m.markers {
			if strings.Contains(label, marker) {
				return m.category
			}
		}
	}
	return domain.CategoryOther
}

// Router classifies documents through the vision model. It never returns an error.
type Router struct {
	model     ports.VisionModel
	maxTokens int
	logger    *slog.Logger
}

func NewRouter(model ports.VisionModel, maxTokens int, logger *slog.Logger) *Router {
	if maxTokens <= 0 {
		maxTokens = DefaultClassifyMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{model: model, maxTokens: maxTokens, logger: logger}
}

func (r *Router) Classify(ctx context.Context, features domain.VisualFeatures) domain.Category {
	if r.model == nil || features.Empty() {
		return domain.CategoryOther
	}
	label, err := r.model.Generate(ctx, domain.InferenceRequest{
		Features:  features,
		Prompt:    classifyInstruction,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		r.logger.Warn("classification_failed",
			"content_handle", features.ContentHandle,
			"error_kind", domain.Kind(err),
			"error", err,
		)
		return domain.CategoryOther
	}
	category := Normalize(label)
	r.logger.Debug("document_classified", "content_handle", features.ContentHandle, "label", label, "category", category)
	return category
}
