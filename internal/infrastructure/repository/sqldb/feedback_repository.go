package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docsense/internal/core/domain"
)

type FeedbackRepository struct {
	db *DB
}

func NewFeedbackRepository(db *DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

func (r *FeedbackRepository) Create(ctx context.Context, feedback *domain.Feedback) error {
	if feedback.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate feedback id: %w", err)
		}
		feedback.ID = id.String()
	}
	now := time.Now().UTC()
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = now
	}
	feedback.UpdatedAt = feedback.CreatedAt

	_, err := r.db.sql.ExecContext(ctx, r.db.rebind(`
INSERT INTO feedback (
	id, owner_id, document_id, content_handle, prompt, output, verdict, improved, note, created_at_ns, updated_at_ns
) VALUES (?,?,?,?,?,?,?,?,?,?,?)
`),
		feedback.ID, feedback.OwnerID, feedback.DocumentID, feedback.ContentHandle, feedback.Prompt, feedback.Output,
		string(feedback.Verdict), feedback.Improved, feedback.Note, toNanos(feedback.CreatedAt), toNanos(feedback.UpdatedAt),
	)
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "insert feedback", err)
	}
	return nil
}

func (r *FeedbackRepository) GetByID(ctx context.Context, id string) (*domain.Feedback, error) {
	row := r.db.sql.QueryRowContext(ctx, r.db.rebind(`
SELECT id, owner_id, document_id, content_handle, prompt, output, verdict, improved, note, created_at_ns, updated_at_ns
FROM feedback
WHERE id = ?
`), id)

	var (
		fb               domain.Feedback
		verdict          string
		created, updated int64
	)
	err := row.Scan(
		&fb.ID, &fb.OwnerID, &fb.DocumentID, &fb.ContentHandle, &fb.Prompt, &fb.Output,
		&verdict, &fb.Improved, &fb.Note, &created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: feedback %s", domain.ErrDocumentNotFound, id)
		}
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "scan feedback", err)
	}
	fb.Verdict = domain.FeedbackVerdict(verdict)
	fb.CreatedAt = fromNanos(created)
	fb.UpdatedAt = fromNanos(updated)
	return &fb, nil
}

func (r *FeedbackRepository) SaveImproved(ctx context.Context, id, improved string) error {
	res, err := r.db.sql.ExecContext(ctx, r.db.rebind(`
UPDATE feedback
SET improved = ?, updated_at_ns = ?
WHERE id = ?
`), improved, toNanos(time.Now()), id)
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "update feedback improved output", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "update feedback rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: feedback %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}
