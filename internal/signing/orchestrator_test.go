package signing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signethq/signet/internal/audit"
	"github.com/signethq/signet/internal/audit/events"
	"github.com/signethq/signet/internal/completion"
	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/objectstore"
	"github.com/signethq/signet/internal/party"
	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/signer"
	"github.com/signethq/signet/internal/storage"
	"github.com/signethq/signet/internal/token"
)

func fixedClock() func() time.Time {
	at := time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time { return at }
}

// fakeStore is an in-memory Store for orchestrator tests. ApplySigning and
// ApplyDecline reproduce the conditional-write semantics of the sqlite
// store: terminal records diagnose the same errors and nothing is written
// on failure.
type fakeStore struct {
	envelopes map[string]envelope.Envelope
	parties   map[string]party.Party
	tokens    map[string]token.Token
	documents map[string][]envelope.Document

	auditEvents []storage.AuditEvent
	auditErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		envelopes: make(map[string]envelope.Envelope),
		parties:   make(map[string]party.Party),
		tokens:    make(map[string]token.Token),
		documents: make(map[string][]envelope.Document),
	}
}

func (s *fakeStore) PutEnvelope(_ context.Context, env envelope.Envelope) error {
	s.envelopes[env.ID] = env
	return nil
}

func (s *fakeStore) GetEnvelope(_ context.Context, envelopeID string) (envelope.Envelope, error) {
	env, ok := s.envelopes[envelopeID]
	if !ok {
		return envelope.Envelope{}, storage.ErrNotFound
	}
	return env, nil
}

func (s *fakeStore) ListEnvelopesByOwner(_ context.Context, _ string, _ int, _ string, _ storage.EnvelopeFilter) (storage.EnvelopePage, error) {
	return storage.EnvelopePage{}, nil
}

func (s *fakeStore) UpdateEnvelopeStatus(_ context.Context, updated envelope.Envelope, expected envelope.Status) error {
	current, ok := s.envelopes[updated.ID]
	if !ok || current.Status != expected {
		return storage.ErrStaleWrite
	}
	s.envelopes[updated.ID] = updated
	return nil
}

func (s *fakeStore) PutDocument(_ context.Context, doc envelope.Document) error {
	s.documents[doc.EnvelopeID] = append(s.documents[doc.EnvelopeID], doc)
	return nil
}

func (s *fakeStore) ListDocuments(_ context.Context, envelopeID string) ([]envelope.Document, error) {
	return s.documents[envelopeID], nil
}

func (s *fakeStore) PutParty(_ context.Context, p party.Party) error {
	s.parties[p.ID] = p
	return nil
}

func (s *fakeStore) GetParty(_ context.Context, partyID string) (party.Party, error) {
	p, ok := s.parties[partyID]
	if !ok {
		return party.Party{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) ListParties(_ context.Context, envelopeID string) ([]party.Party, error) {
	var parties []party.Party
	for _, p := range s.parties {
		if p.EnvelopeID == envelopeID {
			parties = append(parties, p)
		}
	}
	return parties, nil
}

func (s *fakeStore) UpdatePartyStatus(_ context.Context, updated party.Party, expected party.Status) error {
	current, ok := s.parties[updated.ID]
	if !ok || current.Status != expected {
		return storage.ErrStaleWrite
	}
	s.parties[updated.ID] = updated
	return nil
}

func (s *fakeStore) RecordPartyConsent(_ context.Context, partyID string, consentedAt time.Time) error {
	p, ok := s.parties[partyID]
	if !ok {
		return storage.ErrNotFound
	}
	if p.ConsentedAt != nil {
		return nil
	}
	p.ConsentedAt = &consentedAt
	s.parties[partyID] = p
	return nil
}

func (s *fakeStore) PutToken(_ context.Context, t token.Token) error {
	s.tokens[t.ID] = t
	return nil
}

func (s *fakeStore) GetTokenBySecretHash(_ context.Context, secretHash string) (token.Token, error) {
	for _, t := range s.tokens {
		if t.SecretHash == secretHash {
			return t, nil
		}
	}
	return token.Token{}, storage.ErrNotFound
}

func (s *fakeStore) SupersedeActiveTokens(_ context.Context, partyID string, supersededAt time.Time) (int, error) {
	count := 0
	for id, t := range s.tokens {
		if t.PartyID == partyID && t.Status == token.StatusActive {
			t.Status = token.StatusSuperseded
			t.UpdatedAt = supersededAt
			s.tokens[id] = t
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) BindTokenContext(_ context.Context, tokenID string, ip string, userAgent string, boundAt time.Time) error {
	t, ok := s.tokens[tokenID]
	if !ok {
		return storage.ErrNotFound
	}
	if t.BoundIP != "" || t.BoundUserAgent != "" {
		return nil
	}
	t.BoundIP = ip
	t.BoundUserAgent = userAgent
	t.UpdatedAt = boundAt
	s.tokens[tokenID] = t
	return nil
}

func (s *fakeStore) ApplySigning(ctx context.Context, input storage.ApplySigningInput) (storage.ApplySigningResult, error) {
	if input.TokenID != "" {
		t, ok := s.tokens[input.TokenID]
		if !ok {
			return storage.ApplySigningResult{}, token.ErrNotFound
		}
		switch t.Status {
		case token.StatusActive:
		case token.StatusUsed:
			return storage.ApplySigningResult{}, token.ErrAlreadyUsed
		default:
			return storage.ApplySigningResult{}, token.ErrNotActive
		}
		usedAt := input.SignedAt
		t.Status = token.StatusUsed
		t.UsedAt = &usedAt
		t.UpdatedAt = usedAt
		s.tokens[input.TokenID] = t
	}

	p, ok := s.parties[input.PartyID]
	if !ok || p.EnvelopeID != input.EnvelopeID {
		return storage.ApplySigningResult{}, storage.ErrNotFound
	}
	switch p.Status {
	case party.StatusSigned:
		return storage.ApplySigningResult{}, party.ErrAlreadySigned
	case party.StatusDeclined:
		return storage.ApplySigningResult{}, party.ErrAlreadyDeclined
	}
	signedAt := input.SignedAt
	p.Status = party.StatusSigned
	p.SignedAt = &signedAt
	p.UpdatedAt = signedAt
	s.parties[input.PartyID] = p

	return s.recompute(ctx, input.EnvelopeID, p, signedAt)
}

func (s *fakeStore) ApplyDecline(ctx context.Context, input storage.ApplyDeclineInput) (storage.ApplySigningResult, error) {
	p, ok := s.parties[input.PartyID]
	if !ok || p.EnvelopeID != input.EnvelopeID {
		return storage.ApplySigningResult{}, storage.ErrNotFound
	}
	switch p.Status {
	case party.StatusSigned:
		return storage.ApplySigningResult{}, party.ErrAlreadySigned
	case party.StatusDeclined:
		return storage.ApplySigningResult{}, party.ErrAlreadyDeclined
	}
	declinedAt := input.DeclinedAt
	p.Status = party.StatusDeclined
	p.DeclinedAt = &declinedAt
	p.UpdatedAt = declinedAt
	s.parties[input.PartyID] = p

	env := s.envelopes[input.EnvelopeID]
	env.DeclineReason = input.Reason
	s.envelopes[input.EnvelopeID] = env

	return s.recompute(ctx, input.EnvelopeID, p, declinedAt)
}

func (s *fakeStore) recompute(ctx context.Context, envelopeID string, p party.Party, at time.Time) (storage.ApplySigningResult, error) {
	env, ok := s.envelopes[envelopeID]
	if !ok {
		return storage.ApplySigningResult{}, storage.ErrNotFound
	}
	parties, _ := s.ListParties(ctx, envelopeID)
	previous := env.Status
	next := completion.NextStatus(parties)

	result := storage.ApplySigningResult{
		Party:          p,
		Parties:        parties,
		Envelope:       env,
		PreviousStatus: previous,
	}
	if next == previous {
		return result, nil
	}
	moved, err := envelope.Transition(env, next, func() time.Time { return at })
	if err != nil {
		return storage.ApplySigningResult{}, err
	}
	s.envelopes[envelopeID] = moved
	result.Envelope = moved
	result.EnvelopeMoved = true
	return result, nil
}

func (s *fakeStore) PutAuditEvent(_ context.Context, event storage.AuditEvent) error {
	if s.auditErr != nil {
		return s.auditErr
	}
	s.auditEvents = append(s.auditEvents, event)
	return nil
}

func (s *fakeStore) ListAuditEventsByEnvelope(_ context.Context, _ string, _ int, _ string) (storage.AuditEventPage, error) {
	return storage.AuditEventPage{AuditEvents: s.auditEvents}, nil
}

func (s *fakeStore) eventNames() []string {
	names := make([]string, 0, len(s.auditEvents))
	for _, event := range s.auditEvents {
		names = append(names, event.EventName)
	}
	return names
}

func (s *fakeStore) hasEvent(name string) bool {
	for _, event := range s.auditEvents {
		if event.EventName == name {
			return true
		}
	}
	return false
}

// fakeSigner counts invocations so tests can prove the signer never sees
// an unmatched digest.
type fakeSigner struct {
	calls int
	err   error
}

func (f *fakeSigner) Sign(_ context.Context, digest []byte) (signer.Signature, error) {
	f.calls++
	if f.err != nil {
		return signer.Signature{}, f.err
	}
	return signer.Signature{
		Algorithm: signer.AlgorithmECDSAP256,
		KeyID:     "key-1",
		Value:     "deadbeef",
	}, nil
}

func (f *fakeSigner) KeyID() string { return "key-1" }

const (
	testDigestValue  = "ab"
	testTokenSecret  = "test-secret-value"
	testSignerEmail  = "ana@example.com"
	testOwnerID      = "owner-1"
	allowedAlgorithm = signer.AlgorithmECDSAP256
)

func testDigest() envelope.Digest {
	return envelope.Digest{Algorithm: "sha-256", Value: strings.Repeat(testDigestValue, 32)}
}

type fixture struct {
	store        *fakeStore
	signer       *fakeSigner
	orchestrator *Orchestrator
}

// newFixture seeds a sent envelope with one consented invited signer, one
// document, and one active invitation token whose secret is testTokenSecret.
func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := fixedClock()
	now := clock()
	store := newFakeStore()

	sentAt := now.Add(-time.Hour)
	store.envelopes["env-1"] = envelope.Envelope{
		ID:         "env-1",
		TenantID:   "tenant-1",
		OwnerID:    testOwnerID,
		OwnerEmail: "owner@example.com",
		Title:      "Service Agreement",
		Status:     envelope.StatusSent,
		CreatedAt:  sentAt,
		UpdatedAt:  sentAt,
		SentAt:     &sentAt,
	}
	consentedAt := now.Add(-time.Minute)
	store.parties["party-1"] = party.Party{
		ID:          "party-1",
		EnvelopeID:  "env-1",
		Email:       testSignerEmail,
		Name:        "Ana",
		Role:        party.RoleSigner,
		Status:      party.StatusInvited,
		Sequence:    1,
		ConsentedAt: &consentedAt,
		CreatedAt:   sentAt,
		UpdatedAt:   sentAt,
	}
	store.documents["env-1"] = []envelope.Document{{
		ID:          "doc-1",
		EnvelopeID:  "env-1",
		Name:        "agreement.pdf",
		ContentType: "application/pdf",
		StorageKey:  "tenant-1/env-1/agreement.pdf",
		Digest:      testDigest(),
		CreatedAt:   sentAt,
	}}
	store.tokens["token-1"] = token.Token{
		ID:         "token-1",
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Email:      testSignerEmail,
		SecretHash: token.HashSecret(testTokenSecret),
		Status:     token.StatusActive,
		IssuedAt:   sentAt,
		ExpiresAt:  now.Add(24 * time.Hour),
		UpdatedAt:  sentAt,
	}

	sg := &fakeSigner{}
	emitter := audit.NewEmitter(store).WithClock(clock)
	presigner, err := objectstore.NewLocal("https://objects.local", []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("new presigner: %v", err)
	}
	orchestrator := NewOrchestrator(store, sg, presigner, emitter, []string{allowedAlgorithm}).WithClock(clock)
	return fixture{store: store, signer: sg, orchestrator: orchestrator}
}

func signerActor() Actor {
	return Actor{Email: testSignerEmail, IP: "203.0.113.9", UserAgent: "agent/1.0"}
}

func TestCompleteSigningSessionPath(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
		Actor:      signerActor(),
	})
	if err != nil {
		t.Fatalf("complete signing: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected completed result")
	}
	if result.EnvelopeStatus != envelope.StatusCompleted {
		t.Fatalf("expected envelope status COMPLETED, got %s", envelope.StatusLabel(result.EnvelopeStatus))
	}
	if result.Signature.Algorithm != allowedAlgorithm {
		t.Fatalf("unexpected signature algorithm %q", result.Signature.Algorithm)
	}
	if fx.signer.calls != 1 {
		t.Fatalf("expected signer called once, got %d", fx.signer.calls)
	}
	if !result.AuditRecorded {
		t.Fatal("expected the completion audit write to be recorded")
	}
	if !fx.store.hasEvent(events.SigningCompleted) {
		t.Fatalf("expected %s event, got %v", events.SigningCompleted, fx.store.eventNames())
	}
	if fx.store.hasEvent(events.TokenRedeemed) {
		t.Fatal("session path must not emit a token redemption event")
	}

	env := fx.store.envelopes["env-1"]
	if env.CompletedAt == nil {
		t.Fatal("expected CompletedAt stamped")
	}
}

func TestCompleteSigningDigestMismatchSkipsSigner(t *testing.T) {
	fx := newFixture(t)

	wrong := testDigest()
	wrong.Value = strings.Repeat("cd", 32)
	_, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     wrong,
		Algorithm:  allowedAlgorithm,
		Actor:      signerActor(),
	})
	if !apperrors.IsCode(err, apperrors.CodeDigestMismatch) {
		t.Fatalf("expected DIGEST_MISMATCH, got %v", err)
	}
	if fx.signer.calls != 0 {
		t.Fatalf("signer must not run on digest mismatch, got %d calls", fx.signer.calls)
	}
	if !fx.store.hasEvent(events.SigningRejected) {
		t.Fatalf("expected %s event, got %v", events.SigningRejected, fx.store.eventNames())
	}
	if p := fx.store.parties["party-1"]; p.Status != party.StatusInvited {
		t.Fatalf("party must stay invited, got %s", party.StatusLabel(p.Status))
	}
}

func TestCompleteSigningAlgorithmNotAllowed(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  signer.AlgorithmED25519,
		Actor:      signerActor(),
	})
	if !apperrors.IsCode(err, apperrors.CodeAlgorithmNotAllowed) {
		t.Fatalf("expected ALGORITHM_NOT_ALLOWED, got %v", err)
	}
	if fx.signer.calls != 0 {
		t.Fatalf("signer must not run for a disallowed algorithm, got %d calls", fx.signer.calls)
	}
}

func TestCompleteSigningRejectsUnknownKeyID(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
		KeyID:      "key-unknown",
		Actor:      signerActor(),
	})
	if !apperrors.IsCode(err, apperrors.CodeSigningKeyUnknown) {
		t.Fatalf("expected SIGNING_KEY_UNKNOWN, got %v", err)
	}
	if fx.signer.calls != 0 {
		t.Fatal("signer must not run for an unknown key id")
	}

	result, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
		KeyID:      "key-1",
		Actor:      signerActor(),
	})
	if err != nil {
		t.Fatalf("matching key id must sign: %v", err)
	}
	if result.Signature.KeyID != "key-1" {
		t.Fatalf("unexpected signature key id %q", result.Signature.KeyID)
	}
}

func TestCompleteSigningRequiresConsent(t *testing.T) {
	fx := newFixture(t)
	p := fx.store.parties["party-1"]
	p.ConsentedAt = nil
	fx.store.parties["party-1"] = p

	_, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
		Actor:      signerActor(),
	})
	if !apperrors.IsCode(err, apperrors.CodePartyConsentRequired) {
		t.Fatalf("expected PARTY_CONSENT_REQUIRED, got %v", err)
	}
}

func TestCompleteSigningEmailMismatch(t *testing.T) {
	fx := newFixture(t)

	actor := signerActor()
	actor.Email = "Ana@example.com" // stored email is lowercase
	_, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
		Actor:      actor,
	})
	if !apperrors.IsCode(err, apperrors.CodePartyEmailMismatch) {
		t.Fatalf("expected PARTY_EMAIL_MISMATCH, got %v", err)
	}
}

func TestCompleteSigningAuditFailureIsNotFatal(t *testing.T) {
	fx := newFixture(t)
	fx.store.auditErr = errors.New("audit sink down")

	result, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
		Actor:      signerActor(),
	})
	if err != nil {
		t.Fatalf("signing must survive audit failure: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected completed result")
	}
	if result.AuditRecorded {
		t.Fatal("expected the audit failure to be observable on the result")
	}
}

func TestCompleteSigningWithTokenRedeemsToken(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		Digest:    testDigest(),
		Algorithm: allowedAlgorithm,
	}, signerActor())
	if err != nil {
		t.Fatalf("complete signing with token: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected completed result")
	}
	if tok := fx.store.tokens["token-1"]; tok.Status != token.StatusUsed {
		t.Fatalf("expected token used, got %s", token.StatusLabel(tok.Status))
	}
	if !fx.store.hasEvent(events.TokenRedeemed) {
		t.Fatalf("expected %s event, got %v", events.TokenRedeemed, fx.store.eventNames())
	}
}

func TestCompleteSigningWithTokenRejectsSecondUse(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		Digest:    testDigest(),
		Algorithm: allowedAlgorithm,
	}, signerActor()); err != nil {
		t.Fatalf("first signing: %v", err)
	}

	_, err := fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		Digest:    testDigest(),
		Algorithm: allowedAlgorithm,
	}, signerActor())
	if !errors.Is(err, token.ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
}

func TestCompleteSigningWithTokenBoundContextMismatch(t *testing.T) {
	fx := newFixture(t)
	tok := fx.store.tokens["token-1"]
	tok.BoundIP = "198.51.100.7"
	tok.BoundUserAgent = "agent/1.0"
	fx.store.tokens["token-1"] = tok

	_, err := fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		Digest:    testDigest(),
		Algorithm: allowedAlgorithm,
	}, signerActor())
	if !apperrors.IsCode(err, apperrors.CodeTokenContextMismatch) {
		t.Fatalf("expected TOKEN_CONTEXT_MISMATCH, got %v", err)
	}
	if fx.signer.calls != 0 {
		t.Fatal("signer must not run for a context mismatch")
	}
}

func TestCompleteSigningWithTokenRejectsMismatchedTarget(t *testing.T) {
	fx := newFixture(t)
	now := fixedClock()()
	sentAt := now.Add(-time.Hour)
	fx.store.envelopes["env-2"] = envelope.Envelope{
		ID:         "env-2",
		TenantID:   "tenant-1",
		OwnerID:    testOwnerID,
		OwnerEmail: "owner@example.com",
		Title:      "Second Agreement",
		Status:     envelope.StatusSent,
		CreatedAt:  sentAt,
		UpdatedAt:  sentAt,
		SentAt:     &sentAt,
	}
	fx.store.parties["party-2"] = party.Party{
		ID:         "party-2",
		EnvelopeID: "env-2",
		Email:      "bo@example.com",
		Name:       "Bo",
		Role:       party.RoleSigner,
		Status:     party.StatusInvited,
		Sequence:   1,
		CreatedAt:  sentAt,
		UpdatedAt:  sentAt,
	}

	// The token belongs to env-1/party-1; redeeming it against another
	// envelope must fail without touching either envelope.
	_, err := fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		EnvelopeID: "env-2",
		PartyID:    "party-2",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
	}, signerActor())
	if !apperrors.IsCode(err, apperrors.CodeTokenEnvelopeMismatch) {
		t.Fatalf("expected TOKEN_ENVELOPE_MISMATCH, got %v", err)
	}

	_, err = fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-2",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
	}, signerActor())
	if !apperrors.IsCode(err, apperrors.CodeTokenPartyMismatch) {
		t.Fatalf("expected TOKEN_PARTY_MISMATCH, got %v", err)
	}

	if fx.signer.calls != 0 {
		t.Fatalf("signer must not run for a mismatched target, got %d calls", fx.signer.calls)
	}
	if got := fx.store.envelopes["env-1"].Status; got != envelope.StatusSent {
		t.Fatalf("env-1 mutated: %s", envelope.StatusLabel(got))
	}
	if got := fx.store.envelopes["env-2"].Status; got != envelope.StatusSent {
		t.Fatalf("env-2 mutated: %s", envelope.StatusLabel(got))
	}
	if got := fx.store.parties["party-1"].Status; got != party.StatusInvited {
		t.Fatalf("party-1 mutated: %s", party.StatusLabel(got))
	}
	if tok := fx.store.tokens["token-1"]; tok.Status != token.StatusActive {
		t.Fatalf("token consumed on rejected redemption: %s", token.StatusLabel(tok.Status))
	}

	// Naming the token's own bindings explicitly is still a valid redemption.
	result, err := fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
	}, signerActor())
	if err != nil {
		t.Fatalf("matching target must redeem: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected completed result")
	}
}

func TestValidateInvitationTokenIsReadOnly(t *testing.T) {
	fx := newFixture(t)

	for i := 0; i < 3; i++ {
		info, err := fx.orchestrator.ValidateInvitationToken(context.Background(), testTokenSecret, signerActor())
		if err != nil {
			t.Fatalf("validate attempt %d: %v", i+1, err)
		}
		if info.Party.ID != "party-1" || info.Envelope.ID != "env-1" {
			t.Fatalf("unexpected token info: party %q envelope %q", info.Party.ID, info.Envelope.ID)
		}
	}
	if tok := fx.store.tokens["token-1"]; tok.Status != token.StatusActive {
		t.Fatalf("validation must not consume the token, got %s", token.StatusLabel(tok.Status))
	}
}

func TestValidateInvitationTokenExpired(t *testing.T) {
	fx := newFixture(t)
	tok := fx.store.tokens["token-1"]
	tok.ExpiresAt = fixedClock()().Add(-time.Minute)
	fx.store.tokens["token-1"] = tok

	_, err := fx.orchestrator.ValidateInvitationToken(context.Background(), testTokenSecret, signerActor())
	if !errors.Is(err, token.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateInvitationTokenUnknownSecret(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orchestrator.ValidateInvitationToken(context.Background(), "no-such-secret", signerActor())
	if !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordConsentIdempotent(t *testing.T) {
	fx := newFixture(t)
	p := fx.store.parties["party-1"]
	p.ConsentedAt = nil
	fx.store.parties["party-1"] = p

	if err := fx.orchestrator.RecordConsent(context.Background(), "env-1", "party-1", signerActor()); err != nil {
		t.Fatalf("first consent: %v", err)
	}
	if fx.store.parties["party-1"].ConsentedAt == nil {
		t.Fatal("expected consent stamped")
	}
	if err := fx.orchestrator.RecordConsent(context.Background(), "env-1", "party-1", signerActor()); err != nil {
		t.Fatalf("repeat consent: %v", err)
	}

	count := 0
	for _, event := range fx.store.auditEvents {
		if event.EventName == events.ConsentRecorded {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one consent event, got %d", count)
	}
}

func TestRecordConsentWithTokenBindsContext(t *testing.T) {
	fx := newFixture(t)
	p := fx.store.parties["party-1"]
	p.ConsentedAt = nil
	fx.store.parties["party-1"] = p

	if err := fx.orchestrator.RecordConsentWithToken(context.Background(), testTokenSecret, signerActor()); err != nil {
		t.Fatalf("consent with token: %v", err)
	}
	tok := fx.store.tokens["token-1"]
	if tok.BoundIP != "203.0.113.9" || tok.BoundUserAgent != "agent/1.0" {
		t.Fatalf("expected token bound to consent context, got %q %q", tok.BoundIP, tok.BoundUserAgent)
	}

	other := Actor{Email: testSignerEmail, IP: "198.51.100.7", UserAgent: "agent/2.0"}
	_, err := fx.orchestrator.CompleteSigningWithToken(context.Background(), testTokenSecret, CompleteSigningInput{
		Digest:    testDigest(),
		Algorithm: allowedAlgorithm,
	}, other)
	if !apperrors.IsCode(err, apperrors.CodeTokenContextMismatch) {
		t.Fatalf("expected TOKEN_CONTEXT_MISMATCH from new context, got %v", err)
	}
}

func TestDeclineSigningRequiresReason(t *testing.T) {
	fx := newFixture(t)

	err := fx.orchestrator.DeclineSigning(context.Background(), "env-1", "party-1", "   ", signerActor())
	if !apperrors.IsCode(err, apperrors.CodeDeclineReasonRequired) {
		t.Fatalf("expected DECLINE_REASON_REQUIRED, got %v", err)
	}
}

func TestDeclineSigningHaltsEnvelope(t *testing.T) {
	fx := newFixture(t)

	if err := fx.orchestrator.DeclineSigning(context.Background(), "env-1", "party-1", "terms unacceptable", signerActor()); err != nil {
		t.Fatalf("decline: %v", err)
	}

	env := fx.store.envelopes["env-1"]
	if env.Status != envelope.StatusDeclined {
		t.Fatalf("expected envelope declined, got %s", envelope.StatusLabel(env.Status))
	}
	if env.DeclineReason != "terms unacceptable" {
		t.Fatalf("unexpected decline reason %q", env.DeclineReason)
	}
	if !fx.store.hasEvent(events.SigningDeclined) {
		t.Fatalf("expected %s event, got %v", events.SigningDeclined, fx.store.eventNames())
	}
}

func TestDeclineSigningRateLimited(t *testing.T) {
	fx := newFixture(t)

	var err error
	for i := 0; i <= declineLimit; i++ {
		err = fx.orchestrator.DeclineSigning(context.Background(), "missing-env", "party-x", "reason", signerActor())
	}
	if !apperrors.IsCode(err, apperrors.CodeRateLimited) {
		t.Fatalf("expected RATE_LIMITED after %d attempts, got %v", declineLimit+1, err)
	}
}

func TestPresignUploadDraftOnly(t *testing.T) {
	fx := newFixture(t)
	owner := Actor{UserID: testOwnerID, Email: "owner@example.com"}
	input := objectstore.UploadInput{
		Key:         "tenant-1/env-1/agreement.pdf",
		ContentType: "application/pdf",
		SizeBytes:   1024,
	}

	_, err := fx.orchestrator.PresignUpload(context.Background(), "env-1", owner, input)
	if !apperrors.IsCode(err, apperrors.CodeEnvelopeStatusDisallowsOp) {
		t.Fatalf("expected upload rejected on sent envelope, got %v", err)
	}

	env := fx.store.envelopes["env-1"]
	env.Status = envelope.StatusDraft
	fx.store.envelopes["env-1"] = env

	presigned, err := fx.orchestrator.PresignUpload(context.Background(), "env-1", owner, input)
	if err != nil {
		t.Fatalf("presign upload: %v", err)
	}
	if presigned.URL == "" || presigned.Method != "PUT" {
		t.Fatalf("unexpected presigned URL %+v", presigned)
	}
}

func TestPresignUploadRejectsNonOwner(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.orchestrator.PresignUpload(context.Background(), "env-1", Actor{UserID: "intruder"}, objectstore.UploadInput{
		Key:         "tenant-1/env-1/agreement.pdf",
		ContentType: "application/pdf",
		SizeBytes:   1024,
	})
	if !apperrors.IsCode(err, apperrors.CodeNotEnvelopeOwner) {
		t.Fatalf("expected NOT_ENVELOPE_OWNER, got %v", err)
	}
}

func TestDownloadSignedDocument(t *testing.T) {
	fx := newFixture(t)
	owner := Actor{UserID: testOwnerID, Email: "owner@example.com"}

	_, err := fx.orchestrator.DownloadSignedDocument(context.Background(), "env-1", "doc-1", owner)
	if !apperrors.IsCode(err, apperrors.CodeEnvelopeNotDownloadable) {
		t.Fatalf("expected download rejected before completion, got %v", err)
	}

	if _, err := fx.orchestrator.CompleteSigning(context.Background(), CompleteSigningInput{
		EnvelopeID: "env-1",
		PartyID:    "party-1",
		Digest:     testDigest(),
		Algorithm:  allowedAlgorithm,
		Actor:      signerActor(),
	}); err != nil {
		t.Fatalf("complete signing: %v", err)
	}

	presigned, err := fx.orchestrator.DownloadSignedDocument(context.Background(), "env-1", "doc-1", owner)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if presigned.URL == "" || presigned.Method != "GET" {
		t.Fatalf("unexpected presigned URL %+v", presigned)
	}
	if !fx.store.hasEvent(events.DocumentDownloaded) {
		t.Fatalf("expected %s event, got %v", events.DocumentDownloaded, fx.store.eventNames())
	}

	_, err = fx.orchestrator.DownloadSignedDocument(context.Background(), "env-1", "doc-missing", owner)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown document, got %v", err)
	}
}
