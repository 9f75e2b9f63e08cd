// Package events defines canonical envelope audit event names.
//
// The names intentionally remain stable (`envelope.*`, `token.*`,
// `signing.*`) because operational consumers rely on these values.
package events

const (
	// EnvelopeCreated captures envelope creation.
	EnvelopeCreated = "envelope.created"
	// EnvelopeSent captures the draft to sent transition.
	EnvelopeSent = "envelope.sent"
	// EnvelopeCancelled captures owner-initiated cancellation.
	EnvelopeCancelled = "envelope.cancelled"
	// EnvelopeFinalized captures sealing of a completed envelope.
	EnvelopeFinalized = "envelope.finalized"
	// DocumentAdded captures a document attached to a draft envelope.
	DocumentAdded = "document.added"

	// PartyInvited captures a party invitation.
	PartyInvited = "party.invited"

	// TokenIssued captures invitation token issuance.
	TokenIssued = "token.issued"
	// TokenRedeemed captures a token consumed by a completed signature.
	TokenRedeemed = "token.redeemed"
	// TokenSuperseded captures a token retired by a reminder reissue.
	TokenSuperseded = "token.superseded"

	// ConsentRecorded captures a party's signing consent.
	ConsentRecorded = "consent.recorded"
	// SigningCompleted captures a successful signature.
	SigningCompleted = "signing.completed"
	// SigningDeclined captures a party declining to sign.
	SigningDeclined = "signing.declined"
	// SigningRejected captures a denied signing attempt, for example a
	// digest mismatch or an email that does not match the invited party.
	SigningRejected = "signing.rejected"

	// ShareLinkIssued captures a read-only share grant.
	ShareLinkIssued = "sharelink.issued"
	// DocumentDownloaded captures a signed document download.
	DocumentDownloaded = "document.downloaded"
)
