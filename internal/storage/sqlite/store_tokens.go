package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signethq/signet/internal/storage"
	"github.com/signethq/signet/internal/token"
)

func (s *Store) PutToken(ctx context.Context, t token.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("token id is required")
	}
	if strings.TrimSpace(t.SecretHash) == "" {
		return fmt.Errorf("token secret hash is required")
	}
	if t.Status == token.StatusUnspecified {
		return fmt.Errorf("token status is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO invitation_tokens (
	id, envelope_id, party_id, email, secret_hash, status, issued_at, expires_at, used_at, bound_ip, bound_user_agent, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	used_at = excluded.used_at,
	bound_ip = excluded.bound_ip,
	bound_user_agent = excluded.bound_user_agent,
	updated_at = excluded.updated_at
`,
		t.ID,
		t.EnvelopeID,
		t.PartyID,
		t.Email,
		t.SecretHash,
		token.StatusLabel(t.Status),
		toMillis(t.IssuedAt),
		toMillis(t.ExpiresAt),
		toNullMillis(t.UsedAt),
		t.BoundIP,
		t.BoundUserAgent,
		toMillis(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

const tokenColumns = `id, envelope_id, party_id, email, secret_hash, status, issued_at, expires_at, used_at, bound_ip, bound_user_agent, updated_at`

type tokenScanner interface {
	Scan(dest ...any) error
}

func scanTokenRow(row tokenScanner) (token.Token, error) {
	var (
		t         token.Token
		status    string
		issuedAt  int64
		expiresAt int64
		usedAt    sql.NullInt64
		updatedAt int64
	)
	if err := row.Scan(
		&t.ID,
		&t.EnvelopeID,
		&t.PartyID,
		&t.Email,
		&t.SecretHash,
		&status,
		&issuedAt,
		&expiresAt,
		&usedAt,
		&t.BoundIP,
		&t.BoundUserAgent,
		&updatedAt,
	); err != nil {
		return token.Token{}, err
	}
	t.Status = token.StatusFromLabel(status)
	t.IssuedAt = fromMillis(issuedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.UsedAt = fromNullMillis(usedAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

// GetTokenBySecretHash fetches a token by the hash of its presented secret.
func (s *Store) GetTokenBySecretHash(ctx context.Context, secretHash string) (token.Token, error) {
	if err := ctx.Err(); err != nil {
		return token.Token{}, err
	}
	if s == nil || s.sqlDB == nil {
		return token.Token{}, fmt.Errorf("storage is not configured")
	}
	secretHash = strings.TrimSpace(secretHash)
	if secretHash == "" {
		return token.Token{}, fmt.Errorf("secret hash is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+tokenColumns+`
FROM invitation_tokens
WHERE secret_hash = ?
`, secretHash)

	t, err := scanTokenRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.Token{}, storage.ErrNotFound
		}
		return token.Token{}, fmt.Errorf("get token by secret hash: %w", err)
	}
	return t, nil
}

// SupersedeActiveTokens retires every active token for a party.
func (s *Store) SupersedeActiveTokens(ctx context.Context, partyID string, supersededAt time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return 0, fmt.Errorf("party id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE invitation_tokens
SET status = ?, updated_at = ?
WHERE party_id = ? AND status = ?
`,
		token.StatusLabel(token.StatusSuperseded),
		toMillis(supersededAt),
		partyID,
		token.StatusLabel(token.StatusActive),
	)
	if err != nil {
		return 0, fmt.Errorf("supersede active tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("supersede active tokens rows affected: %w", err)
	}
	return int(affected), nil
}

// BindTokenContext records consent-time client context. First write wins;
// a token already bound is left untouched.
func (s *Store) BindTokenContext(ctx context.Context, tokenID string, ip string, userAgent string, boundAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}
	if ip == "" && userAgent == "" {
		return nil
	}

	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE invitation_tokens
SET bound_ip = ?, bound_user_agent = ?, updated_at = ?
WHERE id = ? AND bound_ip = '' AND bound_user_agent = ''
`,
		ip,
		userAgent,
		toMillis(boundAt),
		tokenID,
	)
	if err != nil {
		return fmt.Errorf("bind token context: %w", err)
	}
	return nil
}
