package routing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docsense/internal/core/domain"
)

var defaultPrompts = map[domain.Category]string{
	domain.CategoryBill: "This image is a bill. Explain it to an older reader in short, friendly sentences: " +
		"what the bill is for, the amount to pay, the payment deadline, and what happens if it is paid late. " +
		"Do not guess numbers that are not printed.",
	domain.CategoryHealthNotice: "This image is a health notice. Explain it to an older reader in short, friendly sentences: " +
		"what the check-up or program is, who it is for, when and where it happens, and how to apply.",
	domain.CategoryLifeNotice: "This image is a notice about daily life. Explain it to an older reader in short, friendly sentences: " +
		"what is happening, the dates, the place, and anything they need to do.",
	domain.CategoryFinanceNotice: "This image is a financial notice. Explain it to an older reader in short, friendly sentences: " +
		"what it offers or requires, the amounts, the deadline, and which documents to prepare.",
	domain.CategoryOther: "Explain this document to an older reader in short, friendly sentences. " +
		"Start with what it is, then list only the important details such as dates, amounts, and what to do next.",
}

// PromptTable maps every category to its opening instruction.
type PromptTable struct {
	prompts map[domain.Category]string
}

func DefaultPromptTable() *PromptTable {
	prompts := make(map[domain.Category]string, len(defaultPrompts))
	for k, v := range defaultPrompts {
		prompts[k] = v
	}
	return &PromptTable{prompts: prompts}
}

// LoadPromptTable overlays YAML overrides on the defaults. An empty path yields the defaults.
//
//	bill: "..."
//	health-notice: "..."
func LoadPromptTable(path string) (*PromptTable, error) {
	table := DefaultPromptTable()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}
	for key, prompt := range overrides {
		category := domain.ParseCategory(key)
		if category == domain.CategoryOther && !strings.EqualFold(strings.TrimSpace(key), string(domain.CategoryOther)) {
			return nil, fmt.Errorf("%w: unknown prompt category %q", domain.ErrInvalidInput, key)
		}
		if prompt == "" {
			continue
		}
		table.prompts[category] = prompt
	}
	return table, nil
}

func (t *PromptTable) PromptFor(category domain.Category) string {
	if prompt, ok := t.prompts[category]; ok {
		return prompt
	}
	return t.prompts[domain.CategoryOther]
}
