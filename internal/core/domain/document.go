package domain

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryBill          Category = "bill"
	CategoryHealthNotice  Category = "health-notice"
	CategoryLifeNotice    Category = "life-notice"
	CategoryFinanceNotice Category = "finance-notice"
	CategoryOther         Category = "other"
)

// Categories lists every category in classification priority order.
func Categories() []Category {
	return []Category{CategoryBill, CategoryHealthNotice, CategoryLifeNotice, CategoryFinanceNotice, CategoryOther}
}

// ParseCategory maps a stored value back to a Category, defaulting to other.
func ParseCategory(raw string) Category {
	value := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, c := range Categories() {
		if c == value {
			return c
		}
	}
	return CategoryOther
}

// DocumentRecord is the durable per-owner entry of the recent-document index.
type DocumentRecord struct {
	DocumentID    string    `json:"document_id"`
	OwnerID       string    `json:"owner_id"`
	ContentHandle string    `json:"path"`
	Category      Category  `json:"category"`
	Title         string    `json:"title"`
	LastModified  time.Time `json:"last_modified"`
}

type FeedbackVerdict string

const (
	VerdictGood FeedbackVerdict = "good"
	VerdictBad  FeedbackVerdict = "bad"
)

// ImproveOutcome says what the worker did with one rejected output.
type ImproveOutcome string

const (
	ImproveDone         ImproveOutcome = "improved"
	ImproveDoneTextOnly ImproveOutcome = "improved_text_only"
	ImproveAlreadyDone  ImproveOutcome = "already_improved"
	ImproveNotRejected  ImproveOutcome = "not_rejected"
	ImproveEmptyOutput  ImproveOutcome = "empty_output"
)

type Feedback struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	DocumentID    string          `json:"document_id,omitempty"`
	ContentHandle string          `json:"path,omitempty"`
	Prompt        string          `json:"prompt"`
	Output        string          `json:"output"`
	Verdict       FeedbackVerdict `json:"verdict"`
	Improved      string          `json:"improved,omitempty"`
	Note          string          `json:"note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
