// Package jsonl appends fine-tuning rows to line-delimited JSON files.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
)

const (
	sftFile = "sft_train/sft.jsonl"
	dpoFile = "dpo_train/dpo_dataset.jsonl"
)

type sftRow struct {
	Image       string `json:"image,omitempty"`
	Instruction string `json:"instruction"`
	Output      string `json:"output"`
	OwnerID     string `json:"owner_id,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
	TS          string `json:"ts"`
}

type dpoRow struct {
	ImagePath    string `json:"image_path,omitempty"`
	Prompt       string `json:"prompt"`
	Chosen       string `json:"chosen"`
	Rejected     string `json:"rejected"`
	OwnerID      string `json:"owner_id,omitempty"`
	DocumentID   string `json:"document_id,omitempty"`
	ChosenSource string `json:"chosen_source"`
	TS           string `json:"ts"`
}

type Writer struct {
	dir          string
	chosenSource string
	mu           sync.Mutex
	now          func() time.Time
}

func NewWriter(dir, chosenSource string) *Writer {
	if chosenSource == "" {
		chosenSource = "vision_model"
	}
	return &Writer{dir: dir, chosenSource: chosenSource, now: func() time.Time { return time.Now().UTC() }}
}

func (w *Writer) AppendSFT(_ context.Context, fb domain.Feedback) error {
	return w.append(sftFile, sftRow{
		Image:       fb.ContentHandle,
		Instruction: fb.Prompt,
		Output:      fb.Output,
		OwnerID:     fb.OwnerID,
		DocumentID:  fb.DocumentID,
		TS:          w.now().Format(time.RFC3339),
	})
}

func (w *Writer) AppendDPO(_ context.Context, fb domain.Feedback) error {
	if fb.Improved == "" {
		return fmt.Errorf("%w: dpo row needs an improved output", domain.ErrInvalidInput)
	}
	return w.append(dpoFile, dpoRow{
		ImagePath:    fb.ContentHandle,
		Prompt:       fb.Prompt,
		Chosen:       fb.Improved,
		Rejected:     fb.Output,
		OwnerID:      fb.OwnerID,
		DocumentID:   fb.DocumentID,
		ChosenSource: w.chosenSource,
		TS:           w.now().Format(time.RFC3339),
	})
}

func (w *Writer) append(name string, row any) error {
	line, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal dataset row: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "create dataset dir", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "open dataset file", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "append dataset row", err)
	}
	return nil
}
