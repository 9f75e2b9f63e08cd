package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/signethq/signet/internal/storage"
)

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(encoded), nil
}

func decodeMetadata(value string) (map[string]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(value), &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func (s *Store) PutAuditEvent(ctx context.Context, event storage.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(event.EventName) == "" {
		return fmt.Errorf("event name is required")
	}
	if strings.TrimSpace(event.Outcome) == "" {
		return fmt.Errorf("outcome is required")
	}
	if event.CreatedAt.IsZero() {
		return fmt.Errorf("created at is required")
	}

	metadata, err := encodeMetadata(event.Metadata)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_events (
	id, event_name, envelope_id, party_id, actor_email, outcome, metadata, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		strings.TrimSpace(event.ID),
		strings.TrimSpace(event.EventName),
		strings.TrimSpace(event.EnvelopeID),
		strings.TrimSpace(event.PartyID),
		strings.TrimSpace(event.ActorEmail),
		strings.TrimSpace(event.Outcome),
		metadata,
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put audit event: %w", err)
	}
	return nil
}

// ListAuditEventsByEnvelope returns a page of audit events for one envelope
// in append order.
func (s *Store) ListAuditEventsByEnvelope(ctx context.Context, envelopeID string, pageSize int, pageToken string) (storage.AuditEventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.AuditEventPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AuditEventPage{}, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return storage.AuditEventPage{}, fmt.Errorf("envelope id is required")
	}
	if pageSize <= 0 {
		return storage.AuditEventPage{}, fmt.Errorf("page size must be greater than zero")
	}

	limit := pageSize + 1
	whereParts := []string{"envelope_id = ?"}
	args := []any{envelopeID}
	if token := strings.TrimSpace(pageToken); token != "" {
		tokenValue, parseErr := strconv.ParseInt(token, 10, 64)
		if parseErr != nil || tokenValue < 0 {
			return storage.AuditEventPage{}, fmt.Errorf("invalid page token")
		}
		whereParts = append(whereParts, "row_id > ?")
		args = append(args, tokenValue)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT row_id, id, event_name, envelope_id, party_id, actor_email, outcome, metadata, created_at
FROM audit_events
WHERE %s
ORDER BY row_id
LIMIT ?
`, strings.Join(whereParts, " AND "))
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.AuditEventPage{}, fmt.Errorf("list audit events by envelope: %w", err)
	}
	defer rows.Close()

	page := storage.AuditEventPage{AuditEvents: make([]storage.AuditEvent, 0, pageSize)}
	var lastRowID int64
	for rows.Next() {
		var (
			rowID        int64
			event        storage.AuditEvent
			metadataRaw  string
			createdAtRaw int64
		)
		if err := rows.Scan(
			&rowID,
			&event.ID,
			&event.EventName,
			&event.EnvelopeID,
			&event.PartyID,
			&event.ActorEmail,
			&event.Outcome,
			&metadataRaw,
			&createdAtRaw,
		); err != nil {
			return storage.AuditEventPage{}, fmt.Errorf("scan audit event row: %w", err)
		}
		metadata, err := decodeMetadata(metadataRaw)
		if err != nil {
			return storage.AuditEventPage{}, err
		}
		event.Metadata = metadata
		event.CreatedAt = fromMillis(createdAtRaw)
		page.AuditEvents = append(page.AuditEvents, event)
		if len(page.AuditEvents) == pageSize {
			lastRowID = rowID
		}
	}
	if err := rows.Err(); err != nil {
		return storage.AuditEventPage{}, fmt.Errorf("iterate audit event rows: %w", err)
	}
	if len(page.AuditEvents) > pageSize {
		page.NextPageToken = strconv.FormatInt(lastRowID, 10)
		page.AuditEvents = page.AuditEvents[:pageSize]
	}
	return page, nil
}
