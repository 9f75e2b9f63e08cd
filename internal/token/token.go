// Package token implements the invitation-token protocol: opaque secrets
// handed to signing parties, stored hashed, single-use and time-bound.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/platform/id"
)

// Status describes the lifecycle of an invitation token.
type Status int

const (
	// StatusUnspecified represents an invalid token status value.
	StatusUnspecified Status = iota
	// StatusActive indicates the token can still be validated and redeemed.
	StatusActive
	// StatusUsed indicates the token has been redeemed. Terminal.
	StatusUsed
	// StatusSuperseded indicates a newer token replaced this one. Terminal.
	StatusSuperseded
	// StatusRevoked indicates the token was withdrawn before use. Terminal.
	StatusRevoked
)

// secretBytes is the entropy of a token secret before encoding.
const secretBytes = 32

// DefaultTTL applies when issuance does not specify a lifetime.
const DefaultTTL = 7 * 24 * time.Hour

// MaxTTL bounds how long an invitation may stay redeemable.
const MaxTTL = 30 * 24 * time.Hour

var (
	// ErrNotFound indicates no token matches the presented secret.
	ErrNotFound = apperrors.New(apperrors.CodeTokenNotFound, "invitation token not found")
	// ErrExpired indicates the token lifetime has elapsed.
	ErrExpired = apperrors.New(apperrors.CodeTokenExpired, "invitation token has expired")
	// ErrAlreadyUsed indicates the token was already redeemed.
	ErrAlreadyUsed = apperrors.New(apperrors.CodeTokenAlreadyUsed, "invitation token has already been used")
	// ErrNotActive indicates the token was superseded or revoked.
	ErrNotActive = apperrors.New(apperrors.CodeTokenNotActive, "invitation token is no longer active")
	// ErrEmptyEmail indicates issuance without a recipient email.
	ErrEmptyEmail = apperrors.New(apperrors.CodeTokenEmptyEmail, "token recipient email is required")
	// ErrInvalidTTL indicates a non-positive or excessive token lifetime.
	ErrInvalidTTL = apperrors.New(apperrors.CodeTokenInvalidTTL, "token ttl must be positive and within the allowed maximum")
)

// Token is the stored record of an invitation. The secret itself is never
// persisted, only its hash.
type Token struct {
	ID         string
	EnvelopeID string
	PartyID    string
	Email      string
	SecretHash string
	Status     Status
	IssuedAt   time.Time
	ExpiresAt  time.Time
	UsedAt     *time.Time
	// BoundIP and BoundUserAgent are captured when consent is recorded
	// through the token. Later redemptions must present the same context.
	BoundIP        string
	BoundUserAgent string
	UpdatedAt      time.Time
}

// IssueInput describes the metadata needed to issue an invitation token.
type IssueInput struct {
	EnvelopeID string
	PartyID    string
	Email      string
	// TTL of zero selects DefaultTTL.
	TTL time.Duration
}

// Issue mints a new active token. The returned secret is shown to the
// recipient exactly once; the Token carries only its hash.
func Issue(input IssueInput, now func() time.Time, idGenerator func() (string, error)) (Token, string, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.EnvelopeID = strings.TrimSpace(input.EnvelopeID)
	if input.EnvelopeID == "" {
		return Token{}, "", apperrors.New(apperrors.CodePartyEmptyEnvelopeID, "envelope id is required")
	}
	input.PartyID = strings.TrimSpace(input.PartyID)
	if input.PartyID == "" {
		return Token{}, "", apperrors.New(apperrors.CodeTokenPartyMismatch, "party id is required")
	}
	input.Email = strings.TrimSpace(input.Email)
	if input.Email == "" {
		return Token{}, "", ErrEmptyEmail
	}
	if input.TTL == 0 {
		input.TTL = DefaultTTL
	}
	if input.TTL < 0 || input.TTL > MaxTTL {
		return Token{}, "", ErrInvalidTTL
	}

	tokenID, err := idGenerator()
	if err != nil {
		return Token{}, "", fmt.Errorf("generate token id: %w", err)
	}

	secret, err := NewSecret()
	if err != nil {
		return Token{}, "", fmt.Errorf("generate token secret: %w", err)
	}

	issuedAt := now().UTC()
	return Token{
		ID:         tokenID,
		EnvelopeID: input.EnvelopeID,
		PartyID:    input.PartyID,
		Email:      input.Email,
		SecretHash: HashSecret(secret),
		Status:     StatusActive,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(input.TTL),
		UpdatedAt:  issuedAt,
	}, secret, nil
}

// NewSecret generates an opaque URL-safe token secret.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the hex SHA-256 digest stored in place of the secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// MatchesSecret reports whether the presented secret hashes to this token.
func (t Token) MatchesSecret(secret string) bool {
	presented := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(t.SecretHash)) == 1
}

// Validate checks the token lifecycle without consuming it. Expiry is
// evaluated against the supplied clock so callers see a stable answer
// within a single operation.
func Validate(t Token, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	switch t.Status {
	case StatusUsed:
		return ErrAlreadyUsed
	case StatusSuperseded, StatusRevoked:
		return ErrNotActive
	case StatusActive:
	default:
		return ErrNotActive
	}
	if !now().UTC().Before(t.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// CheckBinding verifies the token belongs to the given envelope and party.
// A token that validates but targets the wrong aggregate is treated as an
// attack, not a user mistake, so mismatches carry their own codes.
func CheckBinding(t Token, envelopeID, partyID string) error {
	if t.EnvelopeID != envelopeID {
		return apperrors.WithMetadata(apperrors.CodeTokenEnvelopeMismatch,
			"invitation token is bound to a different envelope",
			map[string]string{"EnvelopeID": envelopeID})
	}
	if t.PartyID != partyID {
		return apperrors.WithMetadata(apperrors.CodeTokenPartyMismatch,
			"invitation token is bound to a different party",
			map[string]string{"PartyID": partyID})
	}
	return nil
}

// BindContext records the request context seen at consent time. Binding is
// first-write-wins: an already bound token is returned unchanged.
func BindContext(t Token, ip, userAgent string, now func() time.Time) (Token, bool) {
	if t.BoundIP != "" || t.BoundUserAgent != "" {
		return t, false
	}
	if ip == "" && userAgent == "" {
		return t, false
	}
	updated := t
	updated.BoundIP = ip
	updated.BoundUserAgent = userAgent
	updated.UpdatedAt = nowOrDefault(now)
	return updated, true
}

// CheckContext verifies a redemption arrives from the context bound at
// consent time. Unbound tokens accept any context.
func CheckContext(t Token, ip, userAgent string) error {
	if t.BoundIP == "" && t.BoundUserAgent == "" {
		return nil
	}
	if t.BoundIP != ip || t.BoundUserAgent != userAgent {
		return apperrors.New(apperrors.CodeTokenContextMismatch,
			"invitation token was consented from a different client")
	}
	return nil
}

// MarkUsed consumes an active token. Storage enforces the same rule
// conditionally; this form serves in-memory flows and tests.
func MarkUsed(t Token, now func() time.Time) (Token, error) {
	if err := Validate(t, now); err != nil {
		return Token{}, err
	}
	updated := t
	updated.Status = StatusUsed
	usedAt := nowOrDefault(now)
	updated.UsedAt = &usedAt
	updated.UpdatedAt = usedAt
	return updated, nil
}

// Supersede retires a still-active token in favor of a newer one.
func Supersede(t Token, now func() time.Time) Token {
	if t.Status != StatusActive {
		return t
	}
	updated := t
	updated.Status = StatusSuperseded
	updated.UpdatedAt = nowOrDefault(now)
	return updated
}

func nowOrDefault(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

// StatusLabel returns the string label for a token status.
func StatusLabel(status Status) string {
	switch status {
	case StatusActive:
		return "ACTIVE"
	case StatusUsed:
		return "USED"
	case StatusSuperseded:
		return "SUPERSEDED"
	case StatusRevoked:
		return "REVOKED"
	default:
		return "UNSPECIFIED"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "ACTIVE":
		return StatusActive
	case "USED":
		return StatusUsed
	case "SUPERSEDED":
		return StatusSuperseded
	case "REVOKED":
		return StatusRevoked
	default:
		return StatusUnspecified
	}
}
