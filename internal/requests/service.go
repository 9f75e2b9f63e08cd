// Package requests implements the owner-facing request lifecycle: assembling
// draft envelopes, sending them, inviting and reminding parties, and closing
// envelopes out. Signing itself lives in the signing package.
package requests

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/signethq/signet/internal/audit"
	"github.com/signethq/signet/internal/audit/events"
	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/party"
	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/platform/id"
	"github.com/signethq/signet/internal/ratelimit"
	"github.com/signethq/signet/internal/sharelink"
	"github.com/signethq/signet/internal/signing"
	"github.com/signethq/signet/internal/storage"
	"github.com/signethq/signet/internal/token"
)

// Store is the persistence surface the request service needs.
type Store interface {
	storage.EnvelopeStore
	storage.PartyStore
	storage.TokenStore
	storage.AuditEventStore
	storage.StatisticsStore
}

// Lifecycle operations are owner-triggered and drive outbound notifications,
// so each carries a fixed-window budget.
const (
	inviteLimit  = 20
	inviteWindow = time.Minute

	remindLimit  = 3
	remindWindow = 15 * time.Minute

	cancelLimit  = 10
	cancelWindow = time.Minute

	finalizeLimit  = 10
	finalizeWindow = time.Minute
)

// Service drives the envelope request lifecycle.
type Service struct {
	store       Store
	emitter     *audit.Emitter
	limiter     *ratelimit.Limiter
	grants      sharelink.Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService wires the request service. The emitter may be nil; lifecycle
// operations then proceed without audit.
func NewService(store Store, emitter *audit.Emitter, grants sharelink.Config) *Service {
	return &Service{
		store:       store,
		emitter:     emitter,
		limiter:     ratelimit.NewLimiter(),
		grants:      grants,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithIDGenerator overrides ID generation. Intended for tests.
func (s *Service) WithIDGenerator(idGenerator func() (string, error)) *Service {
	s.idGenerator = idGenerator
	return s
}

// WithLimiter replaces the lifecycle limiter, letting the platform share one
// limiter across services so a single prune loop covers every window.
func (s *Service) WithLimiter(limiter *ratelimit.Limiter) *Service {
	if limiter != nil {
		s.limiter = limiter
	}
	return s
}

// Invitation is the one-time delivery payload for an issued token. The
// secret exists only here; storage keeps its hash.
type Invitation struct {
	TokenID   string
	PartyID   string
	Email     string
	Secret    string
	ExpiresAt time.Time
}

// CreateEnvelope creates a draft envelope.
func (s *Service) CreateEnvelope(ctx context.Context, input envelope.CreateInput) (envelope.Envelope, error) {
	env, err := envelope.Create(input, s.clock, s.idGenerator)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := s.store.PutEnvelope(ctx, env); err != nil {
		return envelope.Envelope{}, fmt.Errorf("put envelope: %w", err)
	}
	s.emit(ctx, storage.AuditEvent{
		EventName:  events.EnvelopeCreated,
		EnvelopeID: env.ID,
		ActorEmail: env.OwnerEmail,
	})
	return env, nil
}

// AddDocument attaches a document to a draft envelope. The digest recorded
// here is what signers are later matched against.
func (s *Service) AddDocument(ctx context.Context, actor signing.Actor, input envelope.AddDocumentInput) (envelope.Document, error) {
	env, err := s.ownedEnvelope(ctx, input.EnvelopeID, actor)
	if err != nil {
		return envelope.Document{}, err
	}
	if env.Status != envelope.StatusDraft {
		return envelope.Document{}, statusDisallows(env.Status, "documents can only be added to draft envelopes")
	}

	doc, err := envelope.AddDocument(input, s.clock, s.idGenerator)
	if err != nil {
		return envelope.Document{}, err
	}
	if err := s.store.PutDocument(ctx, doc); err != nil {
		return envelope.Document{}, fmt.Errorf("put document: %w", err)
	}
	s.emit(ctx, storage.AuditEvent{
		EventName:  events.DocumentAdded,
		EnvelopeID: env.ID,
		ActorEmail: actor.Email,
		Metadata:   map[string]string{"DocumentID": doc.ID, "Name": doc.Name, "DigestAlgorithm": doc.Digest.Algorithm},
	})
	return doc, nil
}

// InviteParty adds a party to an envelope. Parties added to a draft stay
// pending until the envelope is sent; parties added to a live envelope are
// invited immediately, signers with a fresh token.
func (s *Service) InviteParty(ctx context.Context, actor signing.Actor, input party.CreateInput) (party.Party, *Invitation, error) {
	if err := s.limiter.Allow("invite:"+input.EnvelopeID, inviteLimit, inviteWindow); err != nil {
		return party.Party{}, nil, err
	}
	env, err := s.ownedEnvelope(ctx, input.EnvelopeID, actor)
	if err != nil {
		return party.Party{}, nil, err
	}
	if env.Status != envelope.StatusDraft && !envelope.IsSignable(env.Status) {
		return party.Party{}, nil, statusDisallows(env.Status, "parties cannot be added in this envelope status")
	}

	p, err := party.Create(input, s.clock, s.idGenerator)
	if err != nil {
		return party.Party{}, nil, err
	}

	var invitation *Invitation
	if envelope.IsSignable(env.Status) {
		p, err = party.Transition(p, party.StatusInvited, s.clock)
		if err != nil {
			return party.Party{}, nil, err
		}
	}
	if err := s.store.PutParty(ctx, p); err != nil {
		return party.Party{}, nil, fmt.Errorf("put party: %w", err)
	}
	if p.Status == party.StatusInvited && p.Role == party.RoleSigner {
		issued, err := s.issueInvitation(ctx, p)
		if err != nil {
			return party.Party{}, nil, err
		}
		invitation = &issued
	}

	s.emit(ctx, storage.AuditEvent{
		EventName:  events.PartyInvited,
		EnvelopeID: env.ID,
		PartyID:    p.ID,
		ActorEmail: actor.Email,
		Metadata:   map[string]string{"Email": p.Email, "Role": party.RoleLabel(p.Role)},
	})
	return p, invitation, nil
}

// SendEnvelope moves a draft to sent, invites every pending party, and
// issues one invitation token per signer. The returned invitations carry
// the only copies of the token secrets.
func (s *Service) SendEnvelope(ctx context.Context, actor signing.Actor, envelopeID string) (envelope.Envelope, []Invitation, error) {
	env, err := s.ownedEnvelope(ctx, envelopeID, actor)
	if err != nil {
		return envelope.Envelope{}, nil, err
	}
	if env.Status != envelope.StatusDraft {
		return envelope.Envelope{}, nil, statusDisallows(env.Status, "only draft envelopes can be sent")
	}

	parties, err := s.store.ListParties(ctx, envelopeID)
	if err != nil {
		return envelope.Envelope{}, nil, fmt.Errorf("list parties: %w", err)
	}
	signers := 0
	for _, p := range parties {
		if p.Role == party.RoleSigner {
			signers++
		}
	}
	if signers == 0 {
		return envelope.Envelope{}, nil, apperrors.New(apperrors.CodeEnvelopeNoSigners, "envelope needs at least one signer before sending")
	}
	documents, err := s.store.ListDocuments(ctx, envelopeID)
	if err != nil {
		return envelope.Envelope{}, nil, fmt.Errorf("list documents: %w", err)
	}
	if len(documents) == 0 {
		return envelope.Envelope{}, nil, apperrors.New(apperrors.CodeEnvelopeNoDocuments, "envelope needs at least one document before sending")
	}

	moved, err := envelope.Transition(env, envelope.StatusSent, s.clock)
	if err != nil {
		return envelope.Envelope{}, nil, err
	}
	if err := s.store.UpdateEnvelopeStatus(ctx, moved, envelope.StatusDraft); err != nil {
		return envelope.Envelope{}, nil, err
	}

	var invitations []Invitation
	for _, p := range parties {
		if p.Status != party.StatusPending {
			continue
		}
		invited, err := party.Transition(p, party.StatusInvited, s.clock)
		if err != nil {
			return envelope.Envelope{}, nil, err
		}
		if err := s.store.UpdatePartyStatus(ctx, invited, party.StatusPending); err != nil {
			return envelope.Envelope{}, nil, err
		}
		if invited.Role != party.RoleSigner {
			continue
		}
		invitation, err := s.issueInvitation(ctx, invited)
		if err != nil {
			return envelope.Envelope{}, nil, err
		}
		invitations = append(invitations, invitation)
	}

	s.emit(ctx, storage.AuditEvent{
		EventName:  events.EnvelopeSent,
		EnvelopeID: envelopeID,
		ActorEmail: actor.Email,
		Metadata: map[string]string{
			"Signers":   strconv.Itoa(signers),
			"Documents": strconv.Itoa(len(documents)),
		},
	})
	return moved, invitations, nil
}

// RemindParty supersedes the party's outstanding tokens and issues a fresh
// one. Reminders are budgeted per envelope and party.
func (s *Service) RemindParty(ctx context.Context, actor signing.Actor, envelopeID, partyID string) (Invitation, error) {
	if err := s.limiter.Allow("remind:"+envelopeID+":"+partyID, remindLimit, remindWindow); err != nil {
		return Invitation{}, err
	}
	env, err := s.ownedEnvelope(ctx, envelopeID, actor)
	if err != nil {
		return Invitation{}, err
	}
	if err := signing.AssertSignable(env.Status); err != nil {
		return Invitation{}, err
	}

	p, err := s.store.GetParty(ctx, partyID)
	if err != nil {
		return Invitation{}, err
	}
	if p.EnvelopeID != envelopeID {
		return Invitation{}, storage.ErrNotFound
	}
	if p.Role != party.RoleSigner {
		return Invitation{}, apperrors.New(apperrors.CodePartyNotSigner, "reminders only apply to signers")
	}
	switch p.Status {
	case party.StatusSigned:
		return Invitation{}, party.ErrAlreadySigned
	case party.StatusDeclined:
		return Invitation{}, party.ErrAlreadyDeclined
	}

	return s.issueInvitation(ctx, p)
}

// CancelEnvelope halts a live envelope. Cancelled envelopes are retained;
// the platform never hard-deletes a sent envelope.
func (s *Service) CancelEnvelope(ctx context.Context, actor signing.Actor, envelopeID, reason string) (envelope.Envelope, error) {
	if err := s.limiter.Allow("cancel:"+envelopeID, cancelLimit, cancelWindow); err != nil {
		return envelope.Envelope{}, err
	}
	env, err := s.ownedEnvelope(ctx, envelopeID, actor)
	if err != nil {
		return envelope.Envelope{}, err
	}

	moved, err := envelope.Transition(env, envelope.StatusCancelled, s.clock)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := s.store.UpdateEnvelopeStatus(ctx, moved, env.Status); err != nil {
		return envelope.Envelope{}, err
	}

	metadata := map[string]string{}
	if reason != "" {
		metadata["Reason"] = reason
	}
	s.emit(ctx, storage.AuditEvent{
		EventName:  events.EnvelopeCancelled,
		EnvelopeID: envelopeID,
		ActorEmail: actor.Email,
		Metadata:   metadata,
	})
	return moved, nil
}

// FinalizeEnvelope marks a completed envelope's artifacts as generated.
func (s *Service) FinalizeEnvelope(ctx context.Context, actor signing.Actor, envelopeID string) (envelope.Envelope, error) {
	if err := s.limiter.Allow("finalize:"+envelopeID, finalizeLimit, finalizeWindow); err != nil {
		return envelope.Envelope{}, err
	}
	env, err := s.ownedEnvelope(ctx, envelopeID, actor)
	if err != nil {
		return envelope.Envelope{}, err
	}

	moved, err := envelope.Transition(env, envelope.StatusFinalized, s.clock)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if err := s.store.UpdateEnvelopeStatus(ctx, moved, env.Status); err != nil {
		return envelope.Envelope{}, err
	}

	s.emit(ctx, storage.AuditEvent{
		EventName:  events.EnvelopeFinalized,
		EnvelopeID: envelopeID,
		ActorEmail: actor.Email,
	})
	return moved, nil
}

// IssueShareLink mints a signed view grant for an envelope the actor owns.
// The grant is later exchanged for a viewer party via AddViewer.
func (s *Service) IssueShareLink(ctx context.Context, actor signing.Actor, envelopeID, email string, ttl time.Duration) (string, error) {
	env, err := s.ownedEnvelope(ctx, envelopeID, actor)
	if err != nil {
		return "", err
	}
	if env.Status == envelope.StatusDraft {
		return "", statusDisallows(env.Status, "draft envelopes cannot be shared")
	}

	grant, err := sharelink.Issue(envelopeID, email, ttl, s.grants)
	if err != nil {
		return "", err
	}
	s.emit(ctx, storage.AuditEvent{
		EventName:  events.ShareLinkIssued,
		EnvelopeID: envelopeID,
		ActorEmail: actor.Email,
		Metadata:   map[string]string{"Email": email},
	})
	return grant, nil
}

// AddViewer exchanges a validated share grant for a viewer party. Viewers
// never block completion.
func (s *Service) AddViewer(ctx context.Context, grant, envelopeID, name string) (party.Party, error) {
	claims, err := sharelink.Validate(grant, sharelink.Expectation{EnvelopeID: envelopeID}, s.grants)
	if err != nil {
		return party.Party{}, err
	}
	env, err := s.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return party.Party{}, err
	}
	if envelope.IsTerminal(env.Status) {
		return party.Party{}, statusDisallows(env.Status, "viewers cannot join a closed envelope")
	}

	p, err := party.Create(party.CreateInput{
		EnvelopeID: envelopeID,
		Email:      claims.Email,
		Name:       name,
		Role:       party.RoleViewer,
	}, s.clock, s.idGenerator)
	if err != nil {
		return party.Party{}, err
	}
	if env.Status != envelope.StatusDraft {
		p, err = party.Transition(p, party.StatusInvited, s.clock)
		if err != nil {
			return party.Party{}, err
		}
	}
	if err := s.store.PutParty(ctx, p); err != nil {
		return party.Party{}, fmt.Errorf("put party: %w", err)
	}

	s.emit(ctx, storage.AuditEvent{
		EventName:  events.PartyInvited,
		EnvelopeID: envelopeID,
		PartyID:    p.ID,
		ActorEmail: claims.Email,
		Metadata:   map[string]string{"Email": p.Email, "Role": party.RoleLabel(p.Role), "GrantID": claims.JWTID},
	})
	return p, nil
}

// ListEnvelopes pages through the actor's envelopes.
func (s *Service) ListEnvelopes(ctx context.Context, actor signing.Actor, pageSize int, pageToken string, filter storage.EnvelopeFilter) (storage.EnvelopePage, error) {
	return s.store.ListEnvelopesByOwner(ctx, actor.UserID, pageSize, pageToken, filter)
}

// AuditTrail pages through an owned envelope's audit events.
func (s *Service) AuditTrail(ctx context.Context, actor signing.Actor, envelopeID string, pageSize int, pageToken string) (storage.AuditEventPage, error) {
	if _, err := s.ownedEnvelope(ctx, envelopeID, actor); err != nil {
		return storage.AuditEventPage{}, err
	}
	return s.store.ListAuditEventsByEnvelope(ctx, envelopeID, pageSize, pageToken)
}

// Statistics aggregates the actor's envelopes by status.
func (s *Service) Statistics(ctx context.Context, actor signing.Actor) (storage.EnvelopeStatistics, error) {
	return s.store.EnvelopeStatisticsByOwner(ctx, actor.UserID)
}

// issueInvitation retires the party's outstanding tokens and mints a new
// one, emitting supersede and issue events.
func (s *Service) issueInvitation(ctx context.Context, p party.Party) (Invitation, error) {
	superseded, err := s.store.SupersedeActiveTokens(ctx, p.ID, s.now())
	if err != nil {
		return Invitation{}, fmt.Errorf("supersede tokens: %w", err)
	}
	if superseded > 0 {
		s.emit(ctx, storage.AuditEvent{
			EventName:  events.TokenSuperseded,
			EnvelopeID: p.EnvelopeID,
			PartyID:    p.ID,
			Metadata:   map[string]string{"Count": strconv.Itoa(superseded)},
		})
	}

	tok, secret, err := token.Issue(token.IssueInput{
		EnvelopeID: p.EnvelopeID,
		PartyID:    p.ID,
		Email:      p.Email,
	}, s.clock, s.idGenerator)
	if err != nil {
		return Invitation{}, err
	}
	if err := s.store.PutToken(ctx, tok); err != nil {
		return Invitation{}, fmt.Errorf("put token: %w", err)
	}

	s.emit(ctx, storage.AuditEvent{
		EventName:  events.TokenIssued,
		EnvelopeID: p.EnvelopeID,
		PartyID:    p.ID,
		ActorEmail: p.Email,
		Metadata:   map[string]string{"TokenID": tok.ID},
	})
	return Invitation{
		TokenID:   tok.ID,
		PartyID:   p.ID,
		Email:     p.Email,
		Secret:    secret,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

func (s *Service) ownedEnvelope(ctx context.Context, envelopeID string, actor signing.Actor) (envelope.Envelope, error) {
	env, err := s.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if env.OwnerID != actor.UserID {
		return envelope.Envelope{}, apperrors.New(apperrors.CodeNotEnvelopeOwner, "actor does not own this envelope")
	}
	return env, nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) emit(ctx context.Context, event storage.AuditEvent) {
	if err := s.emitter.Emit(ctx, event); err != nil {
		log.Printf("audit emit %s failed: %v", event.EventName, err)
	}
}

func statusDisallows(status envelope.Status, message string) error {
	return apperrors.WithMetadata(apperrors.CodeEnvelopeStatusDisallowsOp, message,
		map[string]string{"Status": envelope.StatusLabel(status)})
}
