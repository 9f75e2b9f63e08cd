package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/storage"
)

func (s *Store) PutEnvelope(ctx context.Context, env envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(env.ID) == "" {
		return fmt.Errorf("envelope id is required")
	}
	if strings.TrimSpace(env.OwnerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	if strings.TrimSpace(env.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if env.Status == envelope.StatusUnspecified {
		return fmt.Errorf("status is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO envelopes (
	id, tenant_id, owner_id, owner_email, title, status, decline_reason, created_at, updated_at, sent_at, completed_at, finalized_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	tenant_id = excluded.tenant_id,
	owner_id = excluded.owner_id,
	owner_email = excluded.owner_email,
	title = excluded.title,
	status = excluded.status,
	decline_reason = excluded.decline_reason,
	updated_at = excluded.updated_at,
	sent_at = excluded.sent_at,
	completed_at = excluded.completed_at,
	finalized_at = excluded.finalized_at
`,
		env.ID,
		env.TenantID,
		env.OwnerID,
		env.OwnerEmail,
		env.Title,
		envelope.StatusLabel(env.Status),
		env.DeclineReason,
		toMillis(env.CreatedAt),
		toMillis(env.UpdatedAt),
		toNullMillis(env.SentAt),
		toNullMillis(env.CompletedAt),
		toNullMillis(env.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("put envelope: %w", err)
	}
	return nil
}

const envelopeColumns = `id, tenant_id, owner_id, owner_email, title, status, decline_reason, created_at, updated_at, sent_at, completed_at, finalized_at`

type envelopeScanner interface {
	Scan(dest ...any) error
}

func scanEnvelopeRow(row envelopeScanner) (envelope.Envelope, error) {
	var (
		env         envelope.Envelope
		status      string
		createdAt   int64
		updatedAt   int64
		sentAt      sql.NullInt64
		completedAt sql.NullInt64
		finalizedAt sql.NullInt64
	)
	if err := row.Scan(
		&env.ID,
		&env.TenantID,
		&env.OwnerID,
		&env.OwnerEmail,
		&env.Title,
		&status,
		&env.DeclineReason,
		&createdAt,
		&updatedAt,
		&sentAt,
		&completedAt,
		&finalizedAt,
	); err != nil {
		return envelope.Envelope{}, err
	}
	env.Status = envelope.StatusFromLabel(status)
	env.CreatedAt = fromMillis(createdAt)
	env.UpdatedAt = fromMillis(updatedAt)
	env.SentAt = fromNullMillis(sentAt)
	env.CompletedAt = fromNullMillis(completedAt)
	env.FinalizedAt = fromNullMillis(finalizedAt)
	return env, nil
}

// GetEnvelope fetches an envelope by ID.
func (s *Store) GetEnvelope(ctx context.Context, envelopeID string) (envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return envelope.Envelope{}, err
	}
	if s == nil || s.sqlDB == nil {
		return envelope.Envelope{}, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+envelopeColumns+`
FROM envelopes
WHERE id = ?
`, envelopeID)

	env, err := scanEnvelopeRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return envelope.Envelope{}, storage.ErrNotFound
		}
		return envelope.Envelope{}, fmt.Errorf("get envelope: %w", err)
	}
	return env, nil
}

// ListEnvelopesByOwner returns a page of envelopes for one owner.
func (s *Store) ListEnvelopesByOwner(ctx context.Context, ownerID string, pageSize int, pageToken string, filter storage.EnvelopeFilter) (storage.EnvelopePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EnvelopePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EnvelopePage{}, fmt.Errorf("storage is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return storage.EnvelopePage{}, fmt.Errorf("owner id is required")
	}
	if pageSize <= 0 {
		return storage.EnvelopePage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	// Owner scope always leads the WHERE clause so filters can only narrow
	// the caller's own visibility.
	whereParts := []string{"owner_id = ?"}
	args := []any{ownerID}
	if filter.Status != envelope.StatusUnspecified {
		whereParts = append(whereParts, "status = ?")
		args = append(args, envelope.StatusLabel(filter.Status))
	}
	if token := strings.TrimSpace(pageToken); token != "" {
		whereParts = append(whereParts, "id > ?")
		args = append(args, token)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT %s
FROM envelopes
WHERE %s
ORDER BY id
LIMIT ?
`, envelopeColumns, strings.Join(whereParts, " AND "))
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.EnvelopePage{}, fmt.Errorf("list envelopes by owner: %w", err)
	}
	defer rows.Close()

	page := storage.EnvelopePage{Envelopes: make([]envelope.Envelope, 0, pageSize)}
	for rows.Next() {
		env, err := scanEnvelopeRow(rows)
		if err != nil {
			return storage.EnvelopePage{}, fmt.Errorf("scan envelope row: %w", err)
		}
		page.Envelopes = append(page.Envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return storage.EnvelopePage{}, fmt.Errorf("iterate envelope rows: %w", err)
	}
	if len(page.Envelopes) > pageSize {
		page.NextPageToken = page.Envelopes[pageSize-1].ID
		page.Envelopes = page.Envelopes[:pageSize]
	}
	return page, nil
}

// UpdateEnvelopeStatus writes the envelope only when the stored status still
// matches expected, so concurrent lifecycle writers lose cleanly instead of
// clobbering each other.
func (s *Store) UpdateEnvelopeStatus(ctx context.Context, updated envelope.Envelope, expected envelope.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(updated.ID) == "" {
		return fmt.Errorf("envelope id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE envelopes
SET status = ?, decline_reason = ?, updated_at = ?, sent_at = ?, completed_at = ?, finalized_at = ?
WHERE id = ? AND status = ?
`,
		envelope.StatusLabel(updated.Status),
		updated.DeclineReason,
		toMillis(updated.UpdatedAt),
		toNullMillis(updated.SentAt),
		toNullMillis(updated.CompletedAt),
		toNullMillis(updated.FinalizedAt),
		updated.ID,
		envelope.StatusLabel(expected),
	)
	if err != nil {
		return fmt.Errorf("update envelope status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update envelope status rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrStaleWrite
	}
	return nil
}

// PutDocument persists a document attached to an envelope.
func (s *Store) PutDocument(ctx context.Context, doc envelope.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(doc.EnvelopeID) == "" {
		return fmt.Errorf("envelope id is required")
	}
	if strings.TrimSpace(doc.Name) == "" {
		return fmt.Errorf("document name is required")
	}
	if doc.Digest.Algorithm == "" || doc.Digest.Value == "" {
		return fmt.Errorf("document digest is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO documents (
	id, envelope_id, name, content_type, storage_key, digest_algorithm, digest_value, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	content_type = excluded.content_type,
	storage_key = excluded.storage_key,
	digest_algorithm = excluded.digest_algorithm,
	digest_value = excluded.digest_value
`,
		doc.ID,
		doc.EnvelopeID,
		doc.Name,
		doc.ContentType,
		doc.StorageKey,
		doc.Digest.Algorithm,
		doc.Digest.Value,
		toMillis(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// ListDocuments returns every document attached to an envelope.
func (s *Store) ListDocuments(ctx context.Context, envelopeID string) ([]envelope.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return nil, fmt.Errorf("envelope id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, envelope_id, name, content_type, storage_key, digest_algorithm, digest_value, created_at
FROM documents
WHERE envelope_id = ?
ORDER BY created_at, id
`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var documents []envelope.Document
	for rows.Next() {
		var doc envelope.Document
		var createdAt int64
		if err := rows.Scan(
			&doc.ID,
			&doc.EnvelopeID,
			&doc.Name,
			&doc.ContentType,
			&doc.StorageKey,
			&doc.Digest.Algorithm,
			&doc.Digest.Value,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		doc.CreatedAt = fromMillis(createdAt)
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return documents, nil
}
