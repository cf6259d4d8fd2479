package session

import (
	"context"
	"fmt"

	"github.com/kirillkom/docsense/internal/core/domain"
)

const (
	StrategyScoped   = "scoped"
	StrategyUnscoped = "unscoped"
	StrategyLatest   = "latest"
)

// Recovery is a context rebuilt from durable stores.
type Recovery struct {
	Context  *domain.SessionContext
	Strategy string
	// Registered is false when the document belongs to another owner; the turn is served without
	// taking over that owner's registry slot.
	Registered bool
}

type lookupStrategy struct {
	name   string
	lookup func(ctx context.Context) (*domain.DocumentRecord, error)
}

// strategies returns the ordered lookup policy: with a document id scoped then unscoped,
// otherwise the owner's latest document.
func (m *Manager) strategies(ownerID, documentID string) []lookupStrategy {
	if documentID != "" {
		return []lookupStrategy{
			{StrategyScoped, func(ctx context.Context) (*domain.DocumentRecord, error) {
				return m.documents.GetByOwnerAndID(ctx, ownerID, documentID)
			}},
			{StrategyUnscoped, func(ctx context.Context) (*domain.DocumentRecord, error) {
				return m.documents.GetByID(ctx, documentID)
			}},
		}
	}
	return []lookupStrategy{
		{StrategyLatest, func(ctx context.Context) (*domain.DocumentRecord, error) {
			return m.documents.Latest(ctx, ownerID)
		}},
	}
}

// Recover rebuilds the owner's context from the recent-document index and conversation log.
func (m *Manager) Recover(ctx context.Context, ownerID, documentID string) (*Recovery, error) {
	unlock, err := m.locks.lock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return m.recover(ctx, ownerID, documentID)
}

func (m *Manager) recover(ctx context.Context, ownerID, documentID string) (*Recovery, error) {
	for _, s := range m.strategies(ownerID, documentID) {
		record, err := s.lookup(ctx)
		if err != nil {
			if domain.IsKind(err, domain.ErrDocumentNotFound) {
				continue
			}
			m.telemetry.RecordRecovery(s.name, false)
			return nil, err
		}

		sc, err := m.rebuild(ctx, record)
		if err != nil {
			m.telemetry.RecordRecovery(s.name, false)
			return nil, err
		}
		rec := &Recovery{Context: sc, Strategy: s.name, Registered: sc.OwnerID == ownerID}
		if rec.Registered {
			m.registry.Put(sc)
		}
		m.telemetry.RecordRecovery(s.name, true)
		m.logger.Info("session_recovered",
			"owner_id", ownerID,
			"record_owner_id", sc.OwnerID,
			"document_id", sc.DocumentID,
			"strategy", s.name,
			"registered", rec.Registered,
		)
		return rec, nil
	}

	m.telemetry.RecordRecovery("none", false)
	if documentID != "" {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "recover", fmt.Errorf("no document %q for owner", documentID))
	}
	return nil, domain.WrapError(domain.ErrSessionNotFound, "recover", fmt.Errorf("owner has no documents"))
}

func (m *Manager) rebuild(ctx context.Context, record *domain.DocumentRecord) (*domain.SessionContext, error) {
	features, err := m.extractor.Extract(ctx, record.ContentHandle)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "recover", err)
		}
		return nil, err
	}
	history, err := m.conversations.List(ctx, record.OwnerID, record.DocumentID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionContext{
		OwnerID:       record.OwnerID,
		DocumentID:    record.DocumentID,
		ContentHandle: record.ContentHandle,
		Category:      record.Category,
		Features:      features,
		OpeningPrompt: m.prompts.PromptFor(record.Category),
		Messages:      window(history, m.cfg.HistoryMessages),
	}, nil
}
