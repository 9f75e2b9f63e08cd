// Package envelope provides the envelope aggregate and its lifecycle rules.
package envelope

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/platform/id"
)

// Status describes the lifecycle of an envelope.
type Status int

const (
	// StatusUnspecified represents an invalid envelope status value.
	StatusUnspecified Status = iota
	// StatusDraft indicates the envelope is being assembled and is not yet visible to parties.
	StatusDraft
	// StatusSent indicates the envelope has been sent and no signer has signed yet.
	StatusSent
	// StatusInProgress indicates at least one signer has signed but not all.
	StatusInProgress
	// StatusCompleted indicates every required signer has signed.
	StatusCompleted
	// StatusFinalized indicates completion artifacts have been generated.
	StatusFinalized
	// StatusCancelled indicates the owner cancelled the envelope.
	StatusCancelled
	// StatusDeclined indicates a party declined and halted the envelope.
	StatusDeclined
)

var (
	// ErrEmptyTitle indicates a missing envelope title.
	ErrEmptyTitle = apperrors.New(apperrors.CodeEnvelopeTitleEmpty, "envelope title is required")
	// ErrOwnerMissing indicates a missing envelope owner.
	ErrOwnerMissing = apperrors.New(apperrors.CodeEnvelopeOwnerMissing, "envelope owner is required")
	// ErrTenantMissing indicates a missing tenant.
	ErrTenantMissing = apperrors.New(apperrors.CodeEnvelopeTenantMissing, "envelope tenant is required")
	// ErrInvalidStatusTransition indicates a disallowed envelope status change.
	ErrInvalidStatusTransition = apperrors.New(apperrors.CodeEnvelopeInvalidStatusTransition, "envelope status transition is not allowed")
)

// allowedTransitions is the single auditable source of truth for the
// envelope state machine. A status missing from the map is terminal.
var allowedTransitions = map[Status][]Status{
	StatusDraft:      {StatusSent},
	StatusSent:       {StatusInProgress, StatusCompleted, StatusCancelled, StatusDeclined},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusDeclined},
	StatusCompleted:  {StatusFinalized},
}

// Envelope represents the signable unit grouping documents and parties.
type Envelope struct {
	ID       string
	TenantID string
	OwnerID  string
	// OwnerEmail is the email the owner authenticates with; used for
	// owner-path authorization checks.
	OwnerEmail    string
	Title         string
	Status        Status
	DeclineReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
	CompletedAt   *time.Time
	FinalizedAt   *time.Time
}

// CreateInput describes the metadata needed to create an envelope.
type CreateInput struct {
	TenantID   string
	OwnerID    string
	OwnerEmail string
	Title      string
}

// Create creates a new draft envelope with a generated ID and timestamps.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Envelope, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return Envelope{}, err
	}

	envelopeID, err := idGenerator()
	if err != nil {
		return Envelope{}, fmt.Errorf("generate envelope id: %w", err)
	}

	createdAt := now().UTC()
	return Envelope{
		ID:         envelopeID,
		TenantID:   normalized.TenantID,
		OwnerID:    normalized.OwnerID,
		OwnerEmail: normalized.OwnerEmail,
		Title:      normalized.Title,
		Status:     StatusDraft,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

// NormalizeCreateInput trims and validates envelope input metadata.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.TenantID = strings.TrimSpace(input.TenantID)
	if input.TenantID == "" {
		return CreateInput{}, ErrTenantMissing
	}
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	if input.OwnerID == "" {
		return CreateInput{}, ErrOwnerMissing
	}
	input.OwnerEmail = strings.TrimSpace(input.OwnerEmail)
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return CreateInput{}, ErrEmptyTitle
	}
	return input, nil
}

// Transition applies a status transition and updates timestamps.
func Transition(env Envelope, target Status, now func() time.Time) (Envelope, error) {
	if now == nil {
		now = time.Now
	}
	if !IsTransitionAllowed(env.Status, target) {
		fromStatus := StatusLabel(env.Status)
		toStatus := StatusLabel(target)
		return Envelope{}, apperrors.WithMetadata(
			apperrors.CodeEnvelopeInvalidStatusTransition,
			fmt.Sprintf("envelope status transition not allowed: %s -> %s", fromStatus, toStatus),
			map[string]string{"FromStatus": fromStatus, "ToStatus": toStatus},
		)
	}

	updated := env
	updated.Status = target
	updatedAt := now().UTC()
	updated.UpdatedAt = updatedAt
	switch target {
	case StatusSent:
		if updated.SentAt == nil {
			updated.SentAt = &updatedAt
		}
	case StatusCompleted:
		if updated.CompletedAt == nil {
			updated.CompletedAt = &updatedAt
		}
	case StatusFinalized:
		if updated.FinalizedAt == nil {
			updated.FinalizedAt = &updatedAt
		}
	}
	return updated, nil
}

// IsTransitionAllowed reports whether a status transition is permitted.
func IsTransitionAllowed(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further signing activity.
// Finalized, cancelled, and declined envelopes never mutate again; completed
// envelopes accept only artifact finalization.
func IsTerminal(status Status) bool {
	switch status {
	case StatusFinalized, StatusCancelled, StatusDeclined:
		return true
	default:
		return false
	}
}

// IsSignable reports whether parties may still sign in this status.
func IsSignable(status Status) bool {
	return status == StatusSent || status == StatusInProgress
}

// IsDownloadable reports whether the owner may download signed artifacts.
func IsDownloadable(status Status) bool {
	return status == StatusCompleted || status == StatusFinalized
}

// StatusLabel returns a stable label for an envelope status.
func StatusLabel(status Status) string {
	switch status {
	case StatusDraft:
		return "DRAFT"
	case StatusSent:
		return "SENT"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFinalized:
		return "FINALIZED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusDeclined:
		return "DECLINED"
	default:
		return "UNSPECIFIED"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "DRAFT":
		return StatusDraft
	case "SENT":
		return StatusSent
	case "IN_PROGRESS":
		return StatusInProgress
	case "COMPLETED":
		return StatusCompleted
	case "FINALIZED":
		return StatusFinalized
	case "CANCELLED":
		return StatusCancelled
	case "DECLINED":
		return StatusDeclined
	default:
		return StatusUnspecified
	}
}
