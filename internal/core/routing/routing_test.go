package routing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/observability/logging"
)

type fakeModel struct {
	label string
	err   error
	last  domain.InferenceRequest
	calls int
}

func (f *fakeModel) Generate(_ context.Context, req domain.InferenceRequest) (string, error) {
	f.calls++
	f.last = req
	return f.label, f.err
}

var testFeatures = domain.VisualFeatures{ContentHandle: "u_1.png", MimeType: "image/png", Encoded: "aW1n"}

func TestNormalizePriorityAndFallback(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.Category
	}{
		{"bill", domain.CategoryBill},
		{"  Label: Health-Notice.", domain.CategoryHealthNotice},
		{"life-notice", domain.CategoryLifeNotice},
		{"finance-notice", domain.CategoryFinanceNotice},
		{"고지서", domain.CategoryBill},
		{"안내문-건강", domain.CategoryHealthNotice},
		{"안내문-생활", domain.CategoryLifeNotice},
		{"안내문-금융", domain.CategoryFinanceNotice},
		{"bill or finance, unsure", domain.CategoryBill},
		{"a finance notice about life", domain.CategoryLifeNotice},
		{"receipt", domain.CategoryOther},
		{"", domain.CategoryOther},
	}
	for _, tc := range cases {
		if got := Normalize(tc.raw); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestClassifyUsesShortBudget(t *testing.T) {
	model := &fakeModel{label: "health-notice"}
	router := NewRouter(model, 0, logging.Discard())

	got := router.Classify(context.Background(), testFeatures)
	if got != domain.CategoryHealthNotice {
		t.Fatalf("Classify() = %q", got)
	}
	if model.last.MaxTokens != DefaultClassifyMaxTokens {
		t.Fatalf("expected max tokens %d, got %d", DefaultClassifyMaxTokens, model.last.MaxTokens)
	}
	if model.last.Features.Encoded != testFeatures.Encoded || model.last.Prompt == "" {
		t.Fatalf("unexpected inference request %+v", model.last)
	}
}

func TestClassifyFallsBackToOtherOnAnyError(t *testing.T) {
	for _, err := range []error{
		errors.New("boom"),
		domain.WrapError(domain.ErrResourceExhausted, "generate", errors.New("cuda out of memory")),
		domain.WrapError(domain.ErrInferenceTimeout, "generate", context.DeadlineExceeded),
	} {
		router := NewRouter(&fakeModel{label: "bill", err: err}, 16, logging.Discard())
		if got := router.Classify(context.Background(), testFeatures); got != domain.CategoryOther {
			t.Fatalf("Classify() with error %v = %q, want other", err, got)
		}
	}
}

func TestClassifyWithoutFeaturesSkipsModel(t *testing.T) {
	model := &fakeModel{label: "bill"}
	if got := NewRouter(model, 16, logging.Discard()).Classify(context.Background(), domain.VisualFeatures{}); got != domain.CategoryOther {
		t.Fatalf("Classify() = %q", got)
	}
	if model.calls != 0 {
		t.Fatalf("expected no model calls, got %d", model.calls)
	}
}

func TestPromptTableIsTotal(t *testing.T) {
	table := DefaultPromptTable()
	for _, c := range domain.Categories() {
		if strings.TrimSpace(table.PromptFor(c)) == "" {
			t.Fatalf("empty prompt for %q", c)
		}
	}
	if table.PromptFor("unknown") != table.PromptFor(domain.CategoryOther) {
		t.Fatalf("unknown category should map to the other template")
	}
}

func TestLoadPromptTableOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("bill: \"Read the bill slowly.\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := LoadPromptTable(path)
	if err != nil {
		t.Fatalf("LoadPromptTable() error = %v", err)
	}
	if got := table.PromptFor(domain.CategoryBill); got != "Read the bill slowly." {
		t.Fatalf("override not applied: %q", got)
	}
	if table.PromptFor(domain.CategoryHealthNotice) != defaultPrompts[domain.CategoryHealthNotice] {
		t.Fatalf("categories absent from the file must keep defaults")
	}
}

func TestLoadPromptTableRejectsUnknownCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("receipt: \"x\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPromptTable(path); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
