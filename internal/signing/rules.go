// Package signing implements the orchestration core: consent, signature
// completion, decline, and the authorization rules shared by the session
// path and the invitation-token path.
package signing

import (
	"strings"

	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/party"
	apperrors "github.com/signethq/signet/internal/platform/errors"
)

// Actor identifies who is attempting an operation and from where.
type Actor struct {
	UserID    string
	Email     string
	IP        string
	UserAgent string
}

// AssertAlgorithmAllowed checks a signing algorithm against the configured
// allow-list. It fails closed: an empty allow-list rejects everything.
func AssertAlgorithmAllowed(algorithm string, allowList []string) error {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		return apperrors.New(apperrors.CodeAlgorithmNotAllowed, "signing algorithm is required")
	}
	for _, allowed := range allowList {
		if strings.ToLower(strings.TrimSpace(allowed)) == algorithm {
			return nil
		}
	}
	return apperrors.WithMetadata(apperrors.CodeAlgorithmNotAllowed,
		"signing algorithm is not in the allow-list",
		map[string]string{"Algorithm": algorithm})
}

// AssertDigestMatches locates the document whose recorded digest equals the
// presented digest byte for byte. An envelope with no matching document
// hard-fails before the signer is ever invoked: the digest is the only
// evidence the signer is about to sign the exact bytes the platform stored.
func AssertDigestMatches(documents []envelope.Document, presented envelope.Digest) (envelope.Document, error) {
	normalized, err := envelope.NormalizeDigest(presented)
	if err != nil {
		return envelope.Document{}, err
	}
	doc, ok := envelope.FindByDigest(documents, normalized)
	if !ok {
		return envelope.Document{}, apperrors.WithMetadata(apperrors.CodeDigestMismatch,
			"no document digest matches the presented digest",
			map[string]string{"Algorithm": normalized.Algorithm})
	}
	return doc, nil
}

// AssertDownloadAllowed permits downloads only for completed or finalized
// envelopes.
func AssertDownloadAllowed(status envelope.Status) error {
	if envelope.IsDownloadable(status) {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeEnvelopeNotDownloadable,
		"envelope documents are not downloadable in this status",
		map[string]string{"Status": envelope.StatusLabel(status)})
}

// AssertSignable rejects operations against envelopes outside the signing
// window.
func AssertSignable(status envelope.Status) error {
	if envelope.IsSignable(status) {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeEnvelopeStatusDisallowsOp,
		"envelope is not accepting signing operations",
		map[string]string{"Status": envelope.StatusLabel(status)})
}

// AssertPartyAuthorized compares the actor's email to the party's bound
// email, case-sensitive against the stored value. A mismatch is a
// permission failure, never a not-found, so probing cannot distinguish
// the two.
func AssertPartyAuthorized(p party.Party, actor Actor) error {
	if p.Email != strings.TrimSpace(actor.Email) {
		return apperrors.New(apperrors.CodePartyEmailMismatch,
			"actor email does not match the invited party")
	}
	return nil
}

// AssertPartyCanSign enforces the preconditions for signature completion:
// the party is an invited signer, not already terminal, and has recorded
// consent. Storage repeats the invited-status rule in its conditional write;
// checking it here keeps the signer from being invoked for an attempt that
// cannot commit.
func AssertPartyCanSign(p party.Party) error {
	if p.Role != party.RoleSigner {
		return apperrors.New(apperrors.CodePartyNotSigner, "party is not a signer on this envelope")
	}
	switch p.Status {
	case party.StatusSigned:
		return party.ErrAlreadySigned
	case party.StatusDeclined:
		return party.ErrAlreadyDeclined
	}
	if p.Status != party.StatusInvited {
		return apperrors.WithMetadata(apperrors.CodePartyNotInvited,
			"party has not been invited to sign",
			map[string]string{"Status": party.StatusLabel(p.Status)})
	}
	if p.ConsentedAt == nil {
		return apperrors.New(apperrors.CodePartyConsentRequired,
			"party must record consent before signing")
	}
	return nil
}
