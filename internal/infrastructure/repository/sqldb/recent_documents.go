package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/docsense/internal/core/domain"
)

const DefaultRetention = 100

// RecentDocumentIndex keeps at most `retention` records per owner, newest first.
type RecentDocumentIndex struct {
	db        *DB
	retention int
	now       func() time.Time
}

func NewRecentDocumentIndex(db *DB, retention int) *RecentDocumentIndex {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RecentDocumentIndex{db: db, retention: retention, now: time.Now}
}

// Upsert rewrites the owner's whole partition in one transaction.
func (r *RecentDocumentIndex) Upsert(ctx context.Context, record domain.DocumentRecord) error {
	if strings.TrimSpace(record.DocumentID) == "" {
		return fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	if record.LastModified.IsZero() {
		record.LastModified = r.now().UTC()
	}
	if record.Category == "" {
		record.Category = domain.CategoryOther
	}

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "begin recent documents tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := r.listPartition(ctx, tx, record.OwnerID)
	if err != nil {
		return err
	}

	partition := make([]domain.DocumentRecord, 0, len(existing)+1)
	for _, item := range existing {
		if item.DocumentID == record.DocumentID {
			continue
		}
		partition = append(partition, item)
	}
	partition = append(partition, record)
	sortNewestFirst(partition)
	if len(partition) > r.retention {
		partition = partition[:r.retention]
	}

	if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM recent_documents WHERE owner_id = ?`), record.OwnerID); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "clear recent documents partition", err)
	}
	insert := r.db.rebind(`
INSERT INTO recent_documents (owner_id, document_id, content_handle, category, title, last_modified_ns)
VALUES (?,?,?,?,?,?)
`)
	for _, item := range partition {
		if _, err := tx.ExecContext(ctx, insert,
			item.OwnerID, item.DocumentID, item.ContentHandle, string(item.Category), item.Title, toNanos(item.LastModified),
		); err != nil {
			return domain.WrapError(domain.ErrStoreUnavailable, "insert recent document", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "commit recent documents tx", err)
	}
	return nil
}

func (r *RecentDocumentIndex) List(ctx context.Context, ownerID string, limit int) ([]domain.DocumentRecord, error) {
	if limit <= 0 || limit > r.retention {
		limit = r.retention
	}
	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(`
SELECT owner_id, document_id, content_handle, category, title, last_modified_ns
FROM recent_documents
WHERE owner_id = ?
ORDER BY last_modified_ns DESC, document_id DESC
LIMIT ?
`), ownerID, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "list recent documents", err)
	}
	return scanRecords(rows)
}

func (r *RecentDocumentIndex) Delete(ctx context.Context, ownerID, documentID string) (bool, error) {
	res, err := r.db.sql.ExecContext(ctx, r.db.rebind(`
DELETE FROM recent_documents WHERE owner_id = ? AND document_id = ?
`), ownerID, documentID)
	if err != nil {
		return false, domain.WrapError(domain.ErrStoreUnavailable, "delete recent document", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.WrapError(domain.ErrStoreUnavailable, "delete recent document rows affected", err)
	}
	return affected > 0, nil
}

func (r *RecentDocumentIndex) GetByOwnerAndID(ctx context.Context, ownerID, documentID string) (*domain.DocumentRecord, error) {
	row := r.db.sql.QueryRowContext(ctx, r.db.rebind(`
SELECT owner_id, document_id, content_handle, category, title, last_modified_ns
FROM recent_documents
WHERE owner_id = ? AND document_id = ?
`), ownerID, documentID)
	return scanRecord(row, documentID)
}

// GetByID looks a document up across owners; the most recently modified wins.
func (r *RecentDocumentIndex) GetByID(ctx context.Context, documentID string) (*domain.DocumentRecord, error) {
	row := r.db.sql.QueryRowContext(ctx, r.db.rebind(`
SELECT owner_id, document_id, content_handle, category, title, last_modified_ns
FROM recent_documents
WHERE document_id = ?
ORDER BY last_modified_ns DESC
LIMIT 1
`), documentID)
	return scanRecord(row, documentID)
}

func (r *RecentDocumentIndex) Latest(ctx context.Context, ownerID string) (*domain.DocumentRecord, error) {
	row := r.db.sql.QueryRowContext(ctx, r.db.rebind(`
SELECT owner_id, document_id, content_handle, category, title, last_modified_ns
FROM recent_documents
WHERE owner_id = ?
ORDER BY last_modified_ns DESC, document_id DESC
LIMIT 1
`), ownerID)
	return scanRecord(row, "latest for owner")
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *RecentDocumentIndex) listPartition(ctx context.Context, q queryer, ownerID string) ([]domain.DocumentRecord, error) {
	rows, err := q.QueryContext(ctx, r.db.rebind(`
SELECT owner_id, document_id, content_handle, category, title, last_modified_ns
FROM recent_documents
WHERE owner_id = ?
`), ownerID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "read recent documents partition", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]domain.DocumentRecord, error) {
	defer rows.Close()

	out := make([]domain.DocumentRecord, 0)
	for rows.Next() {
		var (
			rec      domain.DocumentRecord
			category string
			modified int64
		)
		if err := rows.Scan(&rec.OwnerID, &rec.DocumentID, &rec.ContentHandle, &category, &rec.Title, &modified); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "scan recent document", err)
		}
		rec.Category = domain.ParseCategory(category)
		rec.LastModified = fromNanos(modified)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "iterate recent documents", err)
	}
	return out, nil
}

func scanRecord(row *sql.Row, ref string) (*domain.DocumentRecord, error) {
	var (
		rec      domain.DocumentRecord
		category string
		modified int64
	)
	if err := row.Scan(&rec.OwnerID, &rec.DocumentID, &rec.ContentHandle, &category, &rec.Title, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, ref)
		}
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "scan recent document", err)
	}
	rec.Category = domain.ParseCategory(category)
	rec.LastModified = fromNanos(modified)
	return &rec, nil
}

func sortNewestFirst(records []domain.DocumentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].LastModified.Equal(records[j].LastModified) {
			return records[i].DocumentID > records[j].DocumentID
		}
		return records[i].LastModified.After(records[j].LastModified)
	})
}
