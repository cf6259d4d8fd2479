package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docsense/internal/core/besteffort"
	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/ports"
)

type Config struct {
	SummaryMaxTokens int
	AnswerMaxTokens  int
	HistoryMessages  int
}

func DefaultConfig() Config {
	return Config{SummaryMaxTokens: 512, AnswerMaxTokens: 256, HistoryMessages: 12}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = def.SummaryMaxTokens
	}
	if c.AnswerMaxTokens <= 0 {
		c.AnswerMaxTokens = def.AnswerMaxTokens
	}
	if c.HistoryMessages <= 0 {
		c.HistoryMessages = def.HistoryMessages
	}
	return c
}

// Deps are the collaborators of a Manager. Summarizer and Answerer may be the same model.
type Deps struct {
	Registry      *Registry
	Extractor     ports.FeatureExtractor
	Classifier    ports.DocumentClassifier
	Prompts       ports.PromptRouter
	Summarizer    ports.VisionModel
	Answerer      ports.VisionModel
	Conversations ports.ConversationLog
	Documents     ports.RecentDocumentIndex
	Telemetry     ports.Telemetry
	Logger        *slog.Logger
}

type Manager struct {
	registry      *Registry
	locks         *ownerLocks
	extractor     ports.FeatureExtractor
	classifier    ports.DocumentClassifier
	prompts       ports.PromptRouter
	summarizer    ports.VisionModel
	answerer      ports.VisionModel
	conversations ports.ConversationLog
	documents     ports.RecentDocumentIndex
	telemetry     ports.Telemetry
	logger        *slog.Logger
	cfg           Config
	now           func() time.Time
}

func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Answerer == nil {
		deps.Answerer = deps.Summarizer
	}
	if deps.Telemetry == nil {
		deps.Telemetry = ports.NopTelemetry{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		registry:      deps.Registry,
		locks:         newOwnerLocks(),
		extractor:     deps.Extractor,
		classifier:    deps.Classifier,
		prompts:       deps.Prompts,
		summarizer:    deps.Summarizer,
		answerer:      deps.Answerer,
		conversations: deps.Conversations,
		documents:     deps.Documents,
		telemetry:     deps.Telemetry,
		logger:        deps.Logger,
		cfg:           cfg.normalize(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	OwnerID       string
	DocumentID    string
	ContentHandle string
}

type CreateResult struct {
	DocumentID string
	Category   domain.Category
	Summary    string
	Features   domain.VisualFeatures
}

// Create summarizes a freshly stored document and makes it the owner's active session.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.ContentHandle) == "" {
		return nil, fmt.Errorf("%w: owner, document id and content handle are required", domain.ErrInvalidInput)
	}
	unlock, err := m.locks.lock(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	features, err := m.extractor.Extract(ctx, req.ContentHandle)
	if err != nil {
		return nil, err
	}
	category := m.classifier.Classify(ctx, features)
	prompt := m.prompts.PromptFor(category)

	summary, err := m.summarizer.Generate(ctx, domain.InferenceRequest{
		Features:  features,
		Prompt:    prompt,
		MaxTokens: m.cfg.SummaryMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)

	now := m.now()
	opening := domain.ConversationMessage{
		OwnerID:    req.OwnerID,
		DocumentID: req.DocumentID,
		Role:       domain.RoleAssistant,
		Text:       summary,
		Timestamp:  now,
	}
	if err := m.documents.Upsert(ctx, domain.DocumentRecord{
		DocumentID:    req.DocumentID,
		OwnerID:       req.OwnerID,
		ContentHandle: req.ContentHandle,
		Category:      category,
		Title:         titleFrom(summary),
		LastModified:  now,
	}); err != nil {
		return nil, err
	}
	if err := m.conversations.Append(ctx, opening); err != nil {
		// The caller drops the stored content, so the index entry must go too.
		besteffort.Do(ctx, "rollback_document_record", func(ctx context.Context) error {
			_, err := m.documents.Delete(ctx, req.OwnerID, req.DocumentID)
			return err
		}).Log(m.logger)
		return nil, err
	}

	m.registry.Put(&domain.SessionContext{
		OwnerID:       req.OwnerID,
		DocumentID:    req.DocumentID,
		ContentHandle: req.ContentHandle,
		Category:      category,
		Features:      features,
		OpeningPrompt: prompt,
		Messages:      []domain.ConversationMessage{opening},
	})
	m.telemetry.RecordSessionCreated(category)
	m.logger.Info("session_created",
		"owner_id", req.OwnerID,
		"document_id", req.DocumentID,
		"category", category,
		"active_sessions", m.registry.Len(),
	)

	return &CreateResult{DocumentID: req.DocumentID, Category: category, Summary: summary, Features: features}, nil
}

type AskRequest struct {
	OwnerID    string
	DocumentID string
	// Question is what gets recorded; Prompt is what the model sees. Empty Prompt means Question.
	Question string
	Prompt   string
}

type AskResult struct {
	Answer     string
	OwnerID    string
	DocumentID string
	Recovered  bool
	Strategy   string
}

// Ask answers one question against the owner's context, recovering it when it is missing or
// bound to another document. Messages are appended only after the model has answered.
func (m *Manager) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner identity is missing", domain.ErrSessionNotFound)
	}
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}
	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = question
	}

	unlock, err := m.locks.lock(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &AskResult{}
	sc, ok := m.registry.Get(req.OwnerID)
	if !ok || (req.DocumentID != "" && sc.DocumentID != req.DocumentID) {
		rec, err := m.recover(ctx, req.OwnerID, req.DocumentID)
		if err != nil {
			return nil, err
		}
		sc = rec.Context
		result.Recovered = true
		result.Strategy = rec.Strategy
	}

	answer, err := m.answerer.Generate(ctx, domain.InferenceRequest{
		Features:    sc.Features,
		Instruction: sc.OpeningPrompt,
		History:     window(sc.Messages, m.cfg.HistoryMessages),
		Prompt:      prompt,
		MaxTokens:   m.cfg.AnswerMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)

	userMsg := domain.ConversationMessage{
		OwnerID:    sc.OwnerID,
		DocumentID: sc.DocumentID,
		Role:       domain.RoleUser,
		Text:       question,
		Timestamp:  m.now(),
	}
	if err := m.conversations.Append(ctx, userMsg); err != nil {
		return nil, err
	}
	replyMsg := domain.ConversationMessage{
		OwnerID:    sc.OwnerID,
		DocumentID: sc.DocumentID,
		Role:       domain.RoleAssistant,
		Text:       answer,
		Timestamp:  m.now(),
	}
	if err := m.conversations.Append(ctx, replyMsg); err != nil {
		return nil, err
	}
	sc.Messages = window(append(sc.Messages, userMsg, replyMsg), m.cfg.HistoryMessages)

	result.Answer = answer
	result.OwnerID = sc.OwnerID
	result.DocumentID = sc.DocumentID
	return result, nil
}

// ActiveDocument reports the document bound to the owner's registered context.
func (m *Manager) ActiveDocument(ownerID string) (string, bool) {
	sc, ok := m.registry.Get(ownerID)
	if !ok {
		return "", false
	}
	return sc.DocumentID, true
}

// EvictDocument drops the owner's context if it is bound to documentID.
func (m *Manager) EvictDocument(ctx context.Context, ownerID, documentID string) (bool, error) {
	unlock, err := m.locks.lock(ctx, ownerID)
	if err != nil {
		return false, err
	}
	defer unlock()
	return m.registry.EvictDocument(ownerID, documentID), nil
}

func window(messages []domain.ConversationMessage, limit int) []domain.ConversationMessage {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	out := make([]domain.ConversationMessage, limit)
	copy(out, messages[len(messages)-limit:])
	return out
}

const titleRunes = 40

func titleFrom(summary string) string {
	line := strings.TrimSpace(summary)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	runes := []rune(line)
	if len(runes) == 0 {
		return "Document"
	}
	if len(runes) > titleRunes {
		return string(runes[:titleRunes]) + "…"
	}
	return line
}
