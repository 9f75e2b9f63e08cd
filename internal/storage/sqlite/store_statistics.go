package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/storage"
)

// EnvelopeStatisticsByOwner aggregates envelope counts by status for one
// owner.
func (s *Store) EnvelopeStatisticsByOwner(ctx context.Context, ownerID string) (storage.EnvelopeStatistics, error) {
	if err := ctx.Err(); err != nil {
		return storage.EnvelopeStatistics{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EnvelopeStatistics{}, fmt.Errorf("storage is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return storage.EnvelopeStatistics{}, fmt.Errorf("owner id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT status, COUNT(*)
FROM envelopes
WHERE owner_id = ?
GROUP BY status
`, ownerID)
	if err != nil {
		return storage.EnvelopeStatistics{}, fmt.Errorf("envelope statistics by owner: %w", err)
	}
	defer rows.Close()

	stats := storage.EnvelopeStatistics{ByStatus: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return storage.EnvelopeStatistics{}, fmt.Errorf("scan statistics row: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		switch envelope.StatusFromLabel(status) {
		case envelope.StatusCompleted, envelope.StatusFinalized:
			stats.Completed += count
		case envelope.StatusDeclined:
			stats.Declined += count
		}
	}
	if err := rows.Err(); err != nil {
		return storage.EnvelopeStatistics{}, fmt.Errorf("iterate statistics rows: %w", err)
	}
	return stats, nil
}
