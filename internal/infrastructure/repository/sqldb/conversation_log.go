package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docsense/internal/core/domain"
)

// ConversationLog is the append-only message log keyed by (owner, document).
type ConversationLog struct {
	db  *DB
	now func() time.Time
}

func NewConversationLog(db *DB) *ConversationLog {
	return &ConversationLog{db: db, now: time.Now}
}

func (l *ConversationLog) Append(ctx context.Context, message domain.ConversationMessage) error {
	if strings.TrimSpace(message.DocumentID) == "" {
		return fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	if message.Role != domain.RoleUser && message.Role != domain.RoleAssistant {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, message.Role)
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = l.now().UTC()
	}
	if message.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		message.ID = id.String()
	}

	_, err := l.db.sql.ExecContext(ctx, l.db.rebind(`
INSERT INTO conversation_messages (id, owner_id, document_id, role, body, created_at_ns)
VALUES (?,?,?,?,?,?)
`), message.ID, message.OwnerID, message.DocumentID, string(message.Role), message.Text, toNanos(message.Timestamp))
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "append conversation message", err)
	}
	return nil
}

// List returns the whole partition, oldest first. Equal timestamps keep insertion order.
func (l *ConversationLog) List(ctx context.Context, ownerID, documentID string) ([]domain.ConversationMessage, error) {
	rows, err := l.db.sql.QueryContext(ctx, l.db.rebind(`
SELECT id, owner_id, document_id, role, body, created_at_ns
FROM conversation_messages
WHERE owner_id = ? AND document_id = ?
ORDER BY created_at_ns ASC, id ASC
`), ownerID, documentID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "list conversation messages", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationMessage, 0)
	for rows.Next() {
		var (
			msg  domain.ConversationMessage
			role string
			ts   int64
		)
		if err := rows.Scan(&msg.ID, &msg.OwnerID, &msg.DocumentID, &role, &msg.Text, &ts); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "scan conversation message", err)
		}
		msg.Role = domain.Role(role)
		msg.Timestamp = fromNanos(ts)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "iterate conversation messages", err)
	}
	return out, nil
}
