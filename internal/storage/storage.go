// Package storage defines persistence contracts for the signing platform.
// Implementations live in subpackages; domain packages never import them.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/party"
	"github.com/signethq/signet/internal/token"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrStaleWrite indicates a conditional write lost to a concurrent update.
var ErrStaleWrite = errors.New("stale write")

// EnvelopePage is a paged set of envelopes.
type EnvelopePage struct {
	Envelopes     []envelope.Envelope
	NextPageToken string
}

// EnvelopeFilter narrows owner-scoped envelope listing.
//
// Owner scope is mandatory and enforced separately; filter fields can only
// reduce result visibility.
type EnvelopeFilter struct {
	Status envelope.Status
}

// EnvelopeStore persists envelopes and their documents.
type EnvelopeStore interface {
	PutEnvelope(ctx context.Context, env envelope.Envelope) error
	GetEnvelope(ctx context.Context, envelopeID string) (envelope.Envelope, error)
	ListEnvelopesByOwner(ctx context.Context, ownerID string, pageSize int, pageToken string, filter EnvelopeFilter) (EnvelopePage, error)
	// UpdateEnvelopeStatus writes the envelope row only when the stored
	// status still equals expected. ErrStaleWrite reports a lost race.
	UpdateEnvelopeStatus(ctx context.Context, updated envelope.Envelope, expected envelope.Status) error

	PutDocument(ctx context.Context, doc envelope.Document) error
	ListDocuments(ctx context.Context, envelopeID string) ([]envelope.Document, error)
}

// PartyStore persists signing parties.
type PartyStore interface {
	PutParty(ctx context.Context, p party.Party) error
	GetParty(ctx context.Context, partyID string) (party.Party, error)
	ListParties(ctx context.Context, envelopeID string) ([]party.Party, error)
	// UpdatePartyStatus writes the party row only when the stored status
	// still equals expected. ErrStaleWrite reports a lost race.
	UpdatePartyStatus(ctx context.Context, updated party.Party, expected party.Status) error
	// RecordPartyConsent stamps consent only when no consent exists yet.
	// Recording twice returns nil without touching the row.
	RecordPartyConsent(ctx context.Context, partyID string, consentedAt time.Time) error
}

// TokenStore persists invitation tokens keyed by secret hash.
type TokenStore interface {
	PutToken(ctx context.Context, t token.Token) error
	GetTokenBySecretHash(ctx context.Context, secretHash string) (token.Token, error)
	// SupersedeActiveTokens retires every active token for a party and
	// returns how many rows it touched.
	SupersedeActiveTokens(ctx context.Context, partyID string, supersededAt time.Time) (int, error)
	// BindTokenContext records the consent-time client context. Binding is
	// first-write-wins: an already bound token is left untouched.
	BindTokenContext(ctx context.Context, tokenID string, ip string, userAgent string, boundAt time.Time) error
}

// AuditEvent stores one append-only platform audit event.
type AuditEvent struct {
	ID string

	EventName string

	EnvelopeID string
	PartyID    string
	ActorEmail string

	Outcome  string
	Metadata map[string]string

	CreatedAt time.Time
}

// AuditEventPage is a paged set of audit events.
type AuditEventPage struct {
	AuditEvents   []AuditEvent
	NextPageToken string
}

// AuditEventStore persists append-only audit events.
type AuditEventStore interface {
	PutAuditEvent(ctx context.Context, event AuditEvent) error
	ListAuditEventsByEnvelope(ctx context.Context, envelopeID string, pageSize int, pageToken string) (AuditEventPage, error)
}

// EnvelopeStatistics summarizes an owner's envelopes by status.
type EnvelopeStatistics struct {
	Total     int
	ByStatus  map[string]int
	Completed int
	Declined  int
}

// StatisticsStore aggregates envelope counts for dashboards.
type StatisticsStore interface {
	EnvelopeStatisticsByOwner(ctx context.Context, ownerID string) (EnvelopeStatistics, error)
}

// ApplySigningInput carries everything the signing transaction needs. The
// orchestrator validates digests and authorization first; storage only
// enforces the concurrent-safety conditions.
type ApplySigningInput struct {
	EnvelopeID string
	PartyID    string
	// TokenID is the invitation token to consume. Empty means the signer
	// was authorized by session instead of token.
	TokenID  string
	SignedAt time.Time
}

// ApplySigningResult reports the state produced by the signing transaction.
type ApplySigningResult struct {
	Party          party.Party
	Parties        []party.Party
	Envelope       envelope.Envelope
	EnvelopeMoved  bool
	PreviousStatus envelope.Status
}

// SigningStore applies a signature as one atomic unit: consume the token,
// move the party to signed, recompute envelope progress, and update the
// envelope status. Either every step commits or none do.
type SigningStore interface {
	ApplySigning(ctx context.Context, input ApplySigningInput) (ApplySigningResult, error)
	// ApplyDecline moves the party to declined and halts the envelope in
	// the same transaction.
	ApplyDecline(ctx context.Context, input ApplyDeclineInput) (ApplySigningResult, error)
}

// ApplyDeclineInput carries the decline transaction parameters.
type ApplyDeclineInput struct {
	EnvelopeID string
	PartyID    string
	TokenID    string
	Reason     string
	DeclinedAt time.Time
}

// Store aggregates every persistence contract the platform needs.
type Store interface {
	EnvelopeStore
	PartyStore
	TokenStore
	AuditEventStore
	StatisticsStore
	SigningStore

	Close() error
}
