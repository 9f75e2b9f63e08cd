package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signethq/signet/internal/completion"
	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/party"
	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/storage"
	"github.com/signethq/signet/internal/token"
)

// ApplySigning commits a signature as one transaction: consume the token,
// move the party to signed, recompute envelope progress from the committed
// party set, and advance the envelope status. Conditional UPDATEs carry the
// concurrency checks, so two racing redemptions of the same token see
// exactly one winner.
func (s *Store) ApplySigning(ctx context.Context, input storage.ApplySigningInput) (storage.ApplySigningResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.ApplySigningResult{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ApplySigningResult{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(input.EnvelopeID) == "" {
		return storage.ApplySigningResult{}, fmt.Errorf("envelope id is required")
	}
	if strings.TrimSpace(input.PartyID) == "" {
		return storage.ApplySigningResult{}, fmt.Errorf("party id is required")
	}
	if input.SignedAt.IsZero() {
		return storage.ApplySigningResult{}, fmt.Errorf("signed at is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("begin signing transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if input.TokenID != "" {
		if err := consumeToken(ctx, tx, input.TokenID, input.SignedAt); err != nil {
			return storage.ApplySigningResult{}, err
		}
	}

	signedAt := toMillis(input.SignedAt)
	result, err := tx.ExecContext(ctx, `
UPDATE parties
SET status = ?, signed_at = ?, updated_at = ?
WHERE id = ? AND envelope_id = ? AND status = ?
`,
		party.StatusLabel(party.StatusSigned),
		signedAt,
		signedAt,
		input.PartyID,
		input.EnvelopeID,
		party.StatusLabel(party.StatusInvited),
	)
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("mark party signed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("mark party signed rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ApplySigningResult{}, partyWriteConflict(ctx, tx, input.PartyID)
	}

	out, err := recomputeEnvelope(ctx, tx, input.EnvelopeID, input.SignedAt.UTC(), "")
	if err != nil {
		return storage.ApplySigningResult{}, err
	}
	for _, member := range out.Parties {
		if member.ID == input.PartyID {
			out.Party = member
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("commit signing transaction: %w", err)
	}
	return out, nil
}

// ApplyDecline commits a decline as one transaction. A single decline halts
// the whole envelope, so the envelope row moves to declined together with
// the party row.
func (s *Store) ApplyDecline(ctx context.Context, input storage.ApplyDeclineInput) (storage.ApplySigningResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.ApplySigningResult{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ApplySigningResult{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(input.EnvelopeID) == "" {
		return storage.ApplySigningResult{}, fmt.Errorf("envelope id is required")
	}
	if strings.TrimSpace(input.PartyID) == "" {
		return storage.ApplySigningResult{}, fmt.Errorf("party id is required")
	}
	if input.DeclinedAt.IsZero() {
		return storage.ApplySigningResult{}, fmt.Errorf("declined at is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("begin decline transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if input.TokenID != "" {
		if err := consumeToken(ctx, tx, input.TokenID, input.DeclinedAt); err != nil {
			return storage.ApplySigningResult{}, err
		}
	}

	declinedAt := toMillis(input.DeclinedAt)
	result, err := tx.ExecContext(ctx, `
UPDATE parties
SET status = ?, declined_at = ?, updated_at = ?
WHERE id = ? AND envelope_id = ? AND status IN (?, ?)
`,
		party.StatusLabel(party.StatusDeclined),
		declinedAt,
		declinedAt,
		input.PartyID,
		input.EnvelopeID,
		party.StatusLabel(party.StatusPending),
		party.StatusLabel(party.StatusInvited),
	)
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("mark party declined: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("mark party declined rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ApplySigningResult{}, partyWriteConflict(ctx, tx, input.PartyID)
	}

	out, err := recomputeEnvelope(ctx, tx, input.EnvelopeID, input.DeclinedAt.UTC(), input.Reason)
	if err != nil {
		return storage.ApplySigningResult{}, err
	}
	for _, member := range out.Parties {
		if member.ID == input.PartyID {
			out.Party = member
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("commit decline transaction: %w", err)
	}
	return out, nil
}

// consumeToken flips an active token to used. Exactly one caller can win
// the conditional UPDATE; losers are told why they lost.
func consumeToken(ctx context.Context, tx *sql.Tx, tokenID string, usedAt time.Time) error {
	usedAtMillis := toMillis(usedAt)
	result, err := tx.ExecContext(ctx, `
UPDATE invitation_tokens
SET status = ?, used_at = ?, updated_at = ?
WHERE id = ? AND status = ?
`,
		token.StatusLabel(token.StatusUsed),
		usedAtMillis,
		usedAtMillis,
		tokenID,
		token.StatusLabel(token.StatusActive),
	)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume token rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	row := tx.QueryRowContext(ctx, `SELECT status FROM invitation_tokens WHERE id = ?`, tokenID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token.ErrNotFound
		}
		return fmt.Errorf("inspect token after conflict: %w", err)
	}
	if token.StatusFromLabel(status) == token.StatusUsed {
		return token.ErrAlreadyUsed
	}
	return token.ErrNotActive
}

// partyWriteConflict explains why a conditional party UPDATE touched no rows.
func partyWriteConflict(ctx context.Context, tx *sql.Tx, partyID string) error {
	var status string
	row := tx.QueryRowContext(ctx, `SELECT status FROM parties WHERE id = ?`, partyID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("inspect party after conflict: %w", err)
	}
	switch party.StatusFromLabel(status) {
	case party.StatusSigned:
		return party.ErrAlreadySigned
	case party.StatusDeclined:
		return party.ErrAlreadyDeclined
	default:
		return storage.ErrStaleWrite
	}
}

// recomputeEnvelope derives the envelope status from the committed party
// set and advances the envelope row when progress moved it.
func recomputeEnvelope(ctx context.Context, tx *sql.Tx, envelopeID string, at time.Time, declineReason string) (storage.ApplySigningResult, error) {
	row := tx.QueryRowContext(ctx, `
SELECT `+envelopeColumns+`
FROM envelopes
WHERE id = ?
`, envelopeID)
	env, err := scanEnvelopeRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ApplySigningResult{}, storage.ErrNotFound
		}
		return storage.ApplySigningResult{}, fmt.Errorf("load envelope: %w", err)
	}
	if !envelope.IsSignable(env.Status) {
		return storage.ApplySigningResult{}, apperrors.WithMetadata(
			apperrors.CodeEnvelopeStatusDisallowsOp,
			"envelope is not accepting signatures",
			map[string]string{"Status": envelope.StatusLabel(env.Status)},
		)
	}

	rows, err := tx.QueryContext(ctx, `
SELECT `+partyColumns+`
FROM parties
WHERE envelope_id = ?
ORDER BY sequence, id
`, envelopeID)
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("load parties: %w", err)
	}
	defer rows.Close()

	var parties []party.Party
	for rows.Next() {
		p, err := scanPartyRow(rows)
		if err != nil {
			return storage.ApplySigningResult{}, fmt.Errorf("scan party row: %w", err)
		}
		parties = append(parties, p)
	}
	if err := rows.Err(); err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("iterate party rows: %w", err)
	}

	out := storage.ApplySigningResult{
		Parties:        parties,
		Envelope:       env,
		PreviousStatus: env.Status,
	}

	nextStatus := completion.NextStatus(parties)
	if nextStatus == env.Status {
		return out, nil
	}
	if !envelope.IsTransitionAllowed(env.Status, nextStatus) {
		return out, nil
	}

	updated, err := envelope.Transition(env, nextStatus, func() time.Time { return at })
	if err != nil {
		return storage.ApplySigningResult{}, err
	}
	if nextStatus == envelope.StatusDeclined {
		updated.DeclineReason = declineReason
	}

	result, err := tx.ExecContext(ctx, `
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
		envelope.StatusLabel(env.Status),
	)
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("advance envelope status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.ApplySigningResult{}, fmt.Errorf("advance envelope status rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ApplySigningResult{}, storage.ErrStaleWrite
	}

	out.Envelope = updated
	out.EnvelopeMoved = true
	return out, nil
}
