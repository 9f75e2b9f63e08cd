package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signethq/signet/internal/party"
	"github.com/signethq/signet/internal/storage"
)

func (s *Store) PutParty(ctx context.Context, p party.Party) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("party id is required")
	}
	if strings.TrimSpace(p.EnvelopeID) == "" {
		return fmt.Errorf("envelope id is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("party email is required")
	}
	if p.Role == party.RoleUnspecified {
		return fmt.Errorf("party role is required")
	}
	if p.Status == party.StatusUnspecified {
		return fmt.Errorf("party status is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO parties (
	id, envelope_id, email, name, role, status, sequence, consented_at, signed_at, declined_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	email = excluded.email,
	name = excluded.name,
	role = excluded.role,
	status = excluded.status,
	sequence = excluded.sequence,
	consented_at = excluded.consented_at,
	signed_at = excluded.signed_at,
	declined_at = excluded.declined_at,
	updated_at = excluded.updated_at
`,
		p.ID,
		p.EnvelopeID,
		p.Email,
		p.Name,
		party.RoleLabel(p.Role),
		party.StatusLabel(p.Status),
		p.Sequence,
		toNullMillis(p.ConsentedAt),
		toNullMillis(p.SignedAt),
		toNullMillis(p.DeclinedAt),
		toMillis(p.CreatedAt),
		toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put party: %w", err)
	}
	return nil
}

const partyColumns = `id, envelope_id, email, name, role, status, sequence, consented_at, signed_at, declined_at, created_at, updated_at`

type partyScanner interface {
	Scan(dest ...any) error
}

func scanPartyRow(row partyScanner) (party.Party, error) {
	var (
		p           party.Party
		role        string
		status      string
		consentedAt sql.NullInt64
		signedAt    sql.NullInt64
		declinedAt  sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(
		&p.ID,
		&p.EnvelopeID,
		&p.Email,
		&p.Name,
		&role,
		&status,
		&p.Sequence,
		&consentedAt,
		&signedAt,
		&declinedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return party.Party{}, err
	}
	p.Role = party.RoleFromLabel(role)
	p.Status = party.StatusFromLabel(status)
	p.ConsentedAt = fromNullMillis(consentedAt)
	p.SignedAt = fromNullMillis(signedAt)
	p.DeclinedAt = fromNullMillis(declinedAt)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

// GetParty fetches a party by ID.
func (s *Store) GetParty(ctx context.Context, partyID string) (party.Party, error) {
	if err := ctx.Err(); err != nil {
		return party.Party{}, err
	}
	if s == nil || s.sqlDB == nil {
		return party.Party{}, fmt.Errorf("storage is not configured")
	}
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return party.Party{}, fmt.Errorf("party id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+partyColumns+`
FROM parties
WHERE id = ?
`, partyID)

	p, err := scanPartyRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return party.Party{}, storage.ErrNotFound
		}
		return party.Party{}, fmt.Errorf("get party: %w", err)
	}
	return p, nil
}

// ListParties returns every party attached to an envelope in signing order.
func (s *Store) ListParties(ctx context.Context, envelopeID string) ([]party.Party, error) {
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
SELECT `+partyColumns+`
FROM parties
WHERE envelope_id = ?
ORDER BY sequence, id
`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	var parties []party.Party
	for rows.Next() {
		p, err := scanPartyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan party row: %w", err)
		}
		parties = append(parties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate party rows: %w", err)
	}
	return parties, nil
}

// UpdatePartyStatus writes the party only when the stored status still
// matches expected. ErrStaleWrite reports a lost race.
func (s *Store) UpdatePartyStatus(ctx context.Context, updated party.Party, expected party.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(updated.ID) == "" {
		return fmt.Errorf("party id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE parties
SET status = ?, consented_at = ?, signed_at = ?, declined_at = ?, updated_at = ?
WHERE id = ? AND status = ?
`,
		party.StatusLabel(updated.Status),
		toNullMillis(updated.ConsentedAt),
		toNullMillis(updated.SignedAt),
		toNullMillis(updated.DeclinedAt),
		toMillis(updated.UpdatedAt),
		updated.ID,
		party.StatusLabel(expected),
	)
	if err != nil {
		return fmt.Errorf("update party status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update party status rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrStaleWrite
	}
	return nil
}

// RecordPartyConsent stamps consent only when no consent exists yet, which
// keeps repeat consent calls idempotent without a read-modify-write cycle.
func (s *Store) RecordPartyConsent(ctx context.Context, partyID string, consentedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return fmt.Errorf("party id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE parties
SET consented_at = ?, updated_at = ?
WHERE id = ? AND consented_at IS NULL
`,
		toMillis(consentedAt),
		toMillis(consentedAt),
		partyID,
	)
	if err != nil {
		return fmt.Errorf("record party consent: %w", err)
	}
	return nil
}
