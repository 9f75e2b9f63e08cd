// Package party provides signing-party state and lifecycle rules.
package party

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/platform/id"
)

// Role describes how a party participates in an envelope.
type Role int

const (
	// RoleUnspecified represents an invalid role value.
	RoleUnspecified Role = iota
	// RoleSigner indicates the party must sign for the envelope to complete.
	RoleSigner
	// RoleViewer indicates the party may view but never signs.
	RoleViewer
)

// Status describes the lifecycle of a party.
type Status int

const (
	// StatusUnspecified represents an invalid party status value.
	StatusUnspecified Status = iota
	// StatusPending indicates the party has been added but not yet invited.
	StatusPending
	// StatusInvited indicates an invitation token has been issued.
	StatusInvited
	// StatusSigned indicates the party has signed. Terminal.
	StatusSigned
	// StatusDeclined indicates the party has declined. Terminal.
	StatusDeclined
)

var (
	// ErrEmptyEnvelopeID indicates a missing envelope reference.
	ErrEmptyEnvelopeID = apperrors.New(apperrors.CodePartyEmptyEnvelopeID, "envelope id is required")
	// ErrEmptyEmail indicates a missing party email.
	ErrEmptyEmail = apperrors.New(apperrors.CodePartyEmptyEmail, "party email is required")
	// ErrInvalidRole indicates a missing or invalid party role.
	ErrInvalidRole = apperrors.New(apperrors.CodePartyInvalidRole, "party role is required")
	// ErrAlreadySigned indicates the party has already signed.
	ErrAlreadySigned = apperrors.New(apperrors.CodePartyAlreadySigned, "party has already signed")
	// ErrAlreadyDeclined indicates the party has already declined.
	ErrAlreadyDeclined = apperrors.New(apperrors.CodePartyAlreadyDeclined, "party has already declined")
	// ErrInvalidStatusTransition indicates a disallowed party status change.
	ErrInvalidStatusTransition = apperrors.New(apperrors.CodePartyInvalidStatusTransition, "party status transition is not allowed")
)

// allowedTransitions is the auditable party state machine. Signed and
// declined are terminal; invited never returns to pending.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusInvited, StatusDeclined},
	StatusInvited: {StatusSigned, StatusDeclined},
}

// Party represents a signer or viewer participant attached to an envelope.
type Party struct {
	ID         string
	EnvelopeID string
	Email      string
	Name       string
	Role       Role
	Status     Status
	// Sequence is the signing order hint. Lower values sign first.
	Sequence    int
	ConsentedAt *time.Time
	SignedAt    *time.Time
	DeclinedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput describes the metadata needed to add a party.
type CreateInput struct {
	EnvelopeID string
	Email      string
	Name       string
	Role       Role
	Sequence   int
}

// Create creates a new pending party with a generated ID and timestamps.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Party, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInput(input)
	if err != nil {
		return Party{}, err
	}

	partyID, err := idGenerator()
	if err != nil {
		return Party{}, fmt.Errorf("generate party id: %w", err)
	}

	createdAt := now().UTC()
	return Party{
		ID:         partyID,
		EnvelopeID: normalized.EnvelopeID,
		Email:      normalized.Email,
		Name:       normalized.Name,
		Role:       normalized.Role,
		Status:     StatusPending,
		Sequence:   normalized.Sequence,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

// NormalizeCreateInput trims and validates party input metadata. Email is
// trimmed but case is preserved: signing authorization compares the stored
// value verbatim.
func NormalizeCreateInput(input CreateInput) (CreateInput, error) {
	input.EnvelopeID = strings.TrimSpace(input.EnvelopeID)
	if input.EnvelopeID == "" {
		return CreateInput{}, ErrEmptyEnvelopeID
	}
	input.Email = strings.TrimSpace(input.Email)
	if input.Email == "" {
		return CreateInput{}, ErrEmptyEmail
	}
	if input.Role != RoleSigner && input.Role != RoleViewer {
		return CreateInput{}, ErrInvalidRole
	}
	input.Name = strings.TrimSpace(input.Name)
	return input, nil
}

// Transition applies a status transition and updates timestamps.
func Transition(p Party, target Status, now func() time.Time) (Party, error) {
	if now == nil {
		now = time.Now
	}
	if !IsTransitionAllowed(p.Status, target) {
		if p.Status == StatusSigned {
			return Party{}, ErrAlreadySigned
		}
		if p.Status == StatusDeclined {
			return Party{}, ErrAlreadyDeclined
		}
		fromStatus := StatusLabel(p.Status)
		toStatus := StatusLabel(target)
		return Party{}, apperrors.WithMetadata(
			apperrors.CodePartyInvalidStatusTransition,
			fmt.Sprintf("party status transition not allowed: %s -> %s", fromStatus, toStatus),
			map[string]string{"FromStatus": fromStatus, "ToStatus": toStatus},
		)
	}

	updated := p
	updated.Status = target
	updatedAt := now().UTC()
	updated.UpdatedAt = updatedAt
	switch target {
	case StatusSigned:
		if updated.SignedAt == nil {
			updated.SignedAt = &updatedAt
		}
	case StatusDeclined:
		if updated.DeclinedAt == nil {
			updated.DeclinedAt = &updatedAt
		}
	}
	return updated, nil
}

// IsTransitionAllowed reports whether a party status transition is permitted.
func IsTransitionAllowed(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a party status admits no further changes.
func IsTerminal(status Status) bool {
	return status == StatusSigned || status == StatusDeclined
}

// RecordConsent stamps the consent timestamp. Recording consent twice is a
// no-op so retries carry no observable cost.
func RecordConsent(p Party, now func() time.Time) (Party, bool, error) {
	if IsTerminal(p.Status) {
		if p.Status == StatusSigned {
			return Party{}, false, ErrAlreadySigned
		}
		return Party{}, false, ErrAlreadyDeclined
	}
	if p.ConsentedAt != nil {
		return p, false, nil
	}

	updated := p
	consentedAt := nowOrDefault(now)
	updated.ConsentedAt = &consentedAt
	updated.UpdatedAt = consentedAt
	return updated, true, nil
}

func nowOrDefault(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

// RoleLabel returns the string label for a party role.
func RoleLabel(role Role) string {
	switch role {
	case RoleSigner:
		return "SIGNER"
	case RoleViewer:
		return "VIEWER"
	default:
		return "UNSPECIFIED"
	}
}

// RoleFromLabel converts a role label to a Role value.
func RoleFromLabel(label string) Role {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "SIGNER":
		return RoleSigner
	case "VIEWER":
		return RoleViewer
	default:
		return RoleUnspecified
	}
}

// StatusLabel returns the string label for a party status.
func StatusLabel(status Status) string {
	switch status {
	case StatusPending:
		return "PENDING"
	case StatusInvited:
		return "INVITED"
	case StatusSigned:
		return "SIGNED"
	case StatusDeclined:
		return "DECLINED"
	default:
		return "UNSPECIFIED"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PENDING":
		return StatusPending
	case "INVITED":
		return StatusInvited
	case "SIGNED":
		return StatusSigned
	case "DECLINED":
		return StatusDeclined
	default:
		return StatusUnspecified
	}
}
