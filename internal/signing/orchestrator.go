package signing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/signethq/signet/internal/audit"
	"github.com/signethq/signet/internal/audit/events"
	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/objectstore"
	"github.com/signethq/signet/internal/party"
	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/ratelimit"
	"github.com/signethq/signet/internal/signer"
	"github.com/signethq/signet/internal/storage"
	"github.com/signethq/signet/internal/token"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	storage.EnvelopeStore
	storage.PartyStore
	storage.TokenStore
	storage.SigningStore
}

// Default decline throttle: declines carry user-entered reasons and drive
// notifications, so they are bounded per party.
const (
	declineLimit  = 5
	declineWindow = time.Minute
)

// Orchestrator drives the signing state machine. The session path and the
// invitation-token path are two entry points into the same transitions.
type Orchestrator struct {
	store             Store
	signer            signer.Signer
	presigner         objectstore.Presigner
	emitter           *audit.Emitter
	limiter           *ratelimit.Limiter
	allowedAlgorithms []string
	clock             func() time.Time
}

// NewOrchestrator wires the orchestrator's collaborators. The emitter may be
// nil; signing then proceeds without audit.
func NewOrchestrator(store Store, sg signer.Signer, presigner objectstore.Presigner, emitter *audit.Emitter, allowedAlgorithms []string) *Orchestrator {
	return &Orchestrator{
		store:             store,
		signer:            sg,
		presigner:         presigner,
		emitter:           emitter,
		limiter:           ratelimit.NewLimiter(),
		allowedAlgorithms: allowedAlgorithms,
		clock:             time.Now,
	}
}

// WithClock overrides the orchestrator clock. Intended for tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// WithLimiter replaces the decline limiter, letting the platform share one
// limiter across services so a single prune loop covers every window.
func (o *Orchestrator) WithLimiter(limiter *ratelimit.Limiter) *Orchestrator {
	if limiter != nil {
		o.limiter = limiter
	}
	return o
}

// Result reports a completed signature.
type Result struct {
	Completed      bool
	CompletedAt    time.Time
	Signature      signer.Signature
	EnvelopeStatus envelope.Status
	// AuditRecorded reports whether the completion audit write succeeded.
	// An audit failure never fails the signing itself, but callers and
	// tests can observe it here.
	AuditRecorded bool
}

// TokenInfo is the read-only view returned by token validation.
type TokenInfo struct {
	Token    token.Token
	Party    party.Party
	Envelope envelope.Envelope
}

// CompleteSigningInput carries a session-authorized signing attempt.
type CompleteSigningInput struct {
	EnvelopeID string
	PartyID    string
	Digest     envelope.Digest
	Algorithm  string
	KeyID      string
	Actor      Actor
}

// RecordConsent stamps the party's consent timestamp. Repeat calls succeed
// without re-emitting the audit event.
func (o *Orchestrator) RecordConsent(ctx context.Context, envelopeID, partyID string, actor Actor) error {
	env, p, err := o.loadEnvelopeParty(ctx, envelopeID, partyID)
	if err != nil {
		return err
	}
	if err := AssertSignable(env.Status); err != nil {
		return err
	}
	if err := AssertPartyAuthorized(p, actor); err != nil {
		return err
	}
	return o.recordConsent(ctx, p, actor)
}

// RecordConsentWithToken is the unauthenticated entry to consent: the token
// substitutes for session authorization and the request context is bound to
// the token for later redemption checks.
func (o *Orchestrator) RecordConsentWithToken(ctx context.Context, secret string, actor Actor) error {
	info, err := o.resolveToken(ctx, secret, actor)
	if err != nil {
		return err
	}
	if err := AssertSignable(info.Envelope.Status); err != nil {
		return err
	}
	if err := o.store.BindTokenContext(ctx, info.Token.ID, actor.IP, actor.UserAgent, o.now()); err != nil {
		return fmt.Errorf("bind token context: %w", err)
	}
	return o.recordConsent(ctx, info.Party, actor)
}

func (o *Orchestrator) recordConsent(ctx context.Context, p party.Party, actor Actor) error {
	switch p.Status {
	case party.StatusSigned:
		return party.ErrAlreadySigned
	case party.StatusDeclined:
		return party.ErrAlreadyDeclined
	}
	if p.ConsentedAt != nil {
		return nil
	}
	if err := o.store.RecordPartyConsent(ctx, p.ID, o.now()); err != nil {
		return fmt.Errorf("record party consent: %w", err)
	}
	o.emit(ctx, storage.AuditEvent{
		EventName:  events.ConsentRecorded,
		EnvelopeID: p.EnvelopeID,
		PartyID:    p.ID,
		ActorEmail: p.Email,
		Metadata:   requestMetadata(actor),
	})
	return nil
}

// CompleteSigning applies a session-authorized signature.
func (o *Orchestrator) CompleteSigning(ctx context.Context, input CompleteSigningInput) (Result, error) {
	env, p, err := o.loadEnvelopeParty(ctx, input.EnvelopeID, input.PartyID)
	if err != nil {
		return Result{}, err
	}
	if err := AssertPartyAuthorized(p, input.Actor); err != nil {
		return Result{}, err
	}
	return o.completeSigning(ctx, env, p, input, "")
}

// CompleteSigningWithToken applies a token-authorized signature. The token
// is redeemed in the same transaction that marks the party signed. When the
// input names a target envelope or party, it must match the token's binding:
// a token minted for one envelope never signs another.
func (o *Orchestrator) CompleteSigningWithToken(ctx context.Context, secret string, input CompleteSigningInput, actor Actor) (Result, error) {
	info, err := o.resolveToken(ctx, secret, actor)
	if err != nil {
		return Result{}, err
	}
	claimedEnvelope := input.EnvelopeID
	if claimedEnvelope == "" {
		claimedEnvelope = info.Token.EnvelopeID
	}
	claimedParty := input.PartyID
	if claimedParty == "" {
		claimedParty = info.Token.PartyID
	}
	if err := token.CheckBinding(info.Token, claimedEnvelope, claimedParty); err != nil {
		return Result{}, err
	}
	input.EnvelopeID = info.Token.EnvelopeID
	input.PartyID = info.Token.PartyID
	input.Actor = actor
	return o.completeSigning(ctx, info.Envelope, info.Party, input, info.Token.ID)
}

// completeSigning is the single signing path both entries share. Rules run
// in a fixed order: envelope state, party state, digest match, algorithm
// allow-list, and only then the cryptographic signer. The signer must never
// see a digest the platform could not match to a stored document.
func (o *Orchestrator) completeSigning(ctx context.Context, env envelope.Envelope, p party.Party, input CompleteSigningInput, tokenID string) (Result, error) {
	if err := AssertSignable(env.Status); err != nil {
		return Result{}, err
	}
	if err := AssertPartyCanSign(p); err != nil {
		return Result{}, err
	}

	documents, err := o.store.ListDocuments(ctx, env.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list documents: %w", err)
	}
	doc, err := AssertDigestMatches(documents, input.Digest)
	if err != nil {
		o.emitRejected(ctx, env.ID, p, input.Actor, "digest_mismatch")
		return Result{}, err
	}
	if err := AssertAlgorithmAllowed(input.Algorithm, o.allowedAlgorithms); err != nil {
		o.emitRejected(ctx, env.ID, p, input.Actor, "algorithm_not_allowed")
		return Result{}, err
	}
	if input.KeyID != "" && input.KeyID != o.signer.KeyID() {
		o.emitRejected(ctx, env.ID, p, input.Actor, "key_unknown")
		return Result{}, apperrors.WithMetadata(apperrors.CodeSigningKeyUnknown,
			"requested signing key is not available",
			map[string]string{"KeyID": input.KeyID})
	}

	digestBytes, err := hex.DecodeString(doc.Digest.Value)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeDigestMalformed, "decode stored digest", err)
	}
	sig, err := o.signer.Sign(ctx, digestBytes)
	if err != nil {
		return Result{}, err
	}

	signedAt := o.now()
	applied, err := o.store.ApplySigning(ctx, storage.ApplySigningInput{
		EnvelopeID: env.ID,
		PartyID:    p.ID,
		TokenID:    tokenID,
		SignedAt:   signedAt,
	})
	if err != nil {
		return Result{}, err
	}

	metadata := requestMetadata(input.Actor)
	metadata["Algorithm"] = sig.Algorithm
	metadata["KeyID"] = sig.KeyID
	audited := o.emit(ctx, storage.AuditEvent{
		EventName:  events.SigningCompleted,
		EnvelopeID: env.ID,
		PartyID:    p.ID,
		ActorEmail: p.Email,
		Metadata:   metadata,
	})
	if tokenID != "" {
		o.emit(ctx, storage.AuditEvent{
			EventName:  events.TokenRedeemed,
			EnvelopeID: env.ID,
			PartyID:    p.ID,
			ActorEmail: p.Email,
			Metadata:   requestMetadata(input.Actor),
		})
	}

	return Result{
		Completed:      true,
		CompletedAt:    signedAt,
		Signature:      sig,
		EnvelopeStatus: applied.Envelope.Status,
		AuditRecorded:  audited,
	}, nil
}

// DeclineSigning moves the party to declined and halts the envelope. One
// decliner stops the whole envelope.
func (o *Orchestrator) DeclineSigning(ctx context.Context, envelopeID, partyID, reason string, actor Actor) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperrors.New(apperrors.CodeDeclineReasonRequired, "a decline reason is required")
	}
	if err := o.limiter.Allow("decline:"+envelopeID+":"+partyID, declineLimit, declineWindow); err != nil {
		return err
	}

	env, p, err := o.loadEnvelopeParty(ctx, envelopeID, partyID)
	if err != nil {
		return err
	}
	if err := AssertSignable(env.Status); err != nil {
		return err
	}
	if err := AssertPartyAuthorized(p, actor); err != nil {
		return err
	}

	_, err = o.store.ApplyDecline(ctx, storage.ApplyDeclineInput{
		EnvelopeID: envelopeID,
		PartyID:    partyID,
		Reason:     reason,
		DeclinedAt: o.now(),
	})
	if err != nil {
		return err
	}

	metadata := requestMetadata(actor)
	metadata["Reason"] = reason
	o.emit(ctx, storage.AuditEvent{
		EventName:  events.SigningDeclined,
		EnvelopeID: envelopeID,
		PartyID:    partyID,
		ActorEmail: p.Email,
		Metadata:   metadata,
	})
	return nil
}

// ValidateInvitationToken checks a presented secret without consuming it,
// so status endpoints can poll before committing to an action.
func (o *Orchestrator) ValidateInvitationToken(ctx context.Context, secret string, actor Actor) (TokenInfo, error) {
	return o.resolveToken(ctx, secret, actor)
}

// PresignUpload validates ownership and upload policy, then delegates to
// the object store. Only draft envelopes accept new documents.
func (o *Orchestrator) PresignUpload(ctx context.Context, envelopeID string, actor Actor, input objectstore.UploadInput) (objectstore.PresignedURL, error) {
	env, err := o.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return objectstore.PresignedURL{}, err
	}
	if err := assertOwner(env, actor); err != nil {
		return objectstore.PresignedURL{}, err
	}
	if env.Status != envelope.StatusDraft {
		return objectstore.PresignedURL{}, apperrors.WithMetadata(apperrors.CodeEnvelopeStatusDisallowsOp,
			"documents can only be uploaded to draft envelopes",
			map[string]string{"Status": envelope.StatusLabel(env.Status)})
	}
	return o.presigner.PresignUpload(ctx, input)
}

// DownloadSignedDocument validates download eligibility and returns a
// presigned URL for the stored object.
func (o *Orchestrator) DownloadSignedDocument(ctx context.Context, envelopeID, documentID string, actor Actor) (objectstore.PresignedURL, error) {
	env, err := o.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return objectstore.PresignedURL{}, err
	}
	if err := assertOwner(env, actor); err != nil {
		return objectstore.PresignedURL{}, err
	}
	if err := AssertDownloadAllowed(env.Status); err != nil {
		return objectstore.PresignedURL{}, err
	}

	documents, err := o.store.ListDocuments(ctx, envelopeID)
	if err != nil {
		return objectstore.PresignedURL{}, fmt.Errorf("list documents: %w", err)
	}
	var found *envelope.Document
	for i := range documents {
		if documents[i].ID == documentID {
			found = &documents[i]
			break
		}
	}
	if found == nil {
		return objectstore.PresignedURL{}, storage.ErrNotFound
	}

	presigned, err := o.presigner.PresignDownload(ctx, found.StorageKey, 0)
	if err != nil {
		return objectstore.PresignedURL{}, err
	}
	o.emit(ctx, storage.AuditEvent{
		EventName:  events.DocumentDownloaded,
		EnvelopeID: envelopeID,
		ActorEmail: actor.Email,
		Metadata:   map[string]string{"DocumentID": documentID},
	})
	return presigned, nil
}

// resolveToken loads and validates a token read-only, including the request
// context captured at consent time. The envelope and party come from the
// token's own bindings; callers that accept a target assert it against the
// token themselves.
func (o *Orchestrator) resolveToken(ctx context.Context, secret string, actor Actor) (TokenInfo, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return TokenInfo{}, token.ErrNotFound
	}

	tok, err := o.store.GetTokenBySecretHash(ctx, token.HashSecret(secret))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TokenInfo{}, token.ErrNotFound
		}
		return TokenInfo{}, fmt.Errorf("load token: %w", err)
	}
	if err := token.Validate(tok, o.clock); err != nil {
		return TokenInfo{}, err
	}
	if err := token.CheckContext(tok, actor.IP, actor.UserAgent); err != nil {
		return TokenInfo{}, err
	}

	env, p, err := o.loadEnvelopeParty(ctx, tok.EnvelopeID, tok.PartyID)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{Token: tok, Party: p, Envelope: env}, nil
}

func (o *Orchestrator) loadEnvelopeParty(ctx context.Context, envelopeID, partyID string) (envelope.Envelope, party.Party, error) {
	env, err := o.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return envelope.Envelope{}, party.Party{}, err
	}
	p, err := o.store.GetParty(ctx, partyID)
	if err != nil {
		return envelope.Envelope{}, party.Party{}, err
	}
	if p.EnvelopeID != env.ID {
		return envelope.Envelope{}, party.Party{}, storage.ErrNotFound
	}
	return env, p, nil
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock().UTC()
}

// emit records an audit event and reports whether the write succeeded.
// Failures are logged and never fail the parent operation: a signature
// must not be lost to a broken audit sink.
func (o *Orchestrator) emit(ctx context.Context, event storage.AuditEvent) bool {
	if err := o.emitter.Emit(ctx, event); err != nil {
		log.Printf("audit emit %s failed: %v", event.EventName, err)
		return false
	}
	return true
}

func (o *Orchestrator) emitRejected(ctx context.Context, envelopeID string, p party.Party, actor Actor, reason string) {
	metadata := requestMetadata(actor)
	metadata["Reason"] = reason
	o.emit(ctx, storage.AuditEvent{
		EventName:  events.SigningRejected,
		EnvelopeID: envelopeID,
		PartyID:    p.ID,
		ActorEmail: p.Email,
		Outcome:    audit.OutcomeDenied,
		Metadata:   metadata,
	})
}

func requestMetadata(actor Actor) map[string]string {
	metadata := make(map[string]string)
	if actor.IP != "" {
		metadata["IP"] = actor.IP
	}
	if actor.UserAgent != "" {
		metadata["UserAgent"] = actor.UserAgent
	}
	return metadata
}

func assertOwner(env envelope.Envelope, actor Actor) error {
	if env.OwnerID != actor.UserID {
		return apperrors.New(apperrors.CodeNotEnvelopeOwner, "actor does not own this envelope")
	}
	return nil
}
