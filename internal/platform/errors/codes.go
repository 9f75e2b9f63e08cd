// Package errors provides structured error handling with stable machine codes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Envelope errors
	CodeEnvelopeTitleEmpty              Code = "ENVELOPE_TITLE_EMPTY"
	CodeEnvelopeOwnerMissing            Code = "ENVELOPE_OWNER_MISSING"
	CodeEnvelopeTenantMissing           Code = "ENVELOPE_TENANT_MISSING"
	CodeEnvelopeInvalidStatusTransition Code = "ENVELOPE_INVALID_STATUS_TRANSITION"
	CodeEnvelopeStatusDisallowsOp       Code = "ENVELOPE_STATUS_DISALLOWS_OPERATION"
	CodeEnvelopeNotDownloadable         Code = "ENVELOPE_NOT_DOWNLOADABLE"
	CodeEnvelopeNoSigners               Code = "ENVELOPE_NO_SIGNERS"
	CodeEnvelopeNoDocuments             Code = "ENVELOPE_NO_DOCUMENTS"

	// Document errors
	CodeDocumentEmptyEnvelopeID Code = "DOCUMENT_EMPTY_ENVELOPE_ID"
	CodeDocumentNameEmpty       Code = "DOCUMENT_NAME_EMPTY"

	// Party errors
	CodePartyEmptyEnvelopeID         Code = "PARTY_EMPTY_ENVELOPE_ID"
	CodePartyEmptyEmail              Code = "PARTY_EMPTY_EMAIL"
	CodePartyInvalidRole             Code = "PARTY_INVALID_ROLE"
	CodePartyInvalidStatusTransition Code = "PARTY_INVALID_STATUS_TRANSITION"
	CodePartyAlreadySigned           Code = "PARTY_ALREADY_SIGNED"
	CodePartyAlreadyDeclined         Code = "PARTY_ALREADY_DECLINED"
	CodePartyEmailMismatch           Code = "PARTY_EMAIL_MISMATCH"
	CodePartyNotSigner               Code = "PARTY_NOT_SIGNER"
	CodePartyNotInvited              Code = "PARTY_NOT_INVITED"
	CodePartyConsentRequired         Code = "PARTY_CONSENT_REQUIRED"

	// Invitation token errors
	CodeTokenNotFound         Code = "TOKEN_NOT_FOUND"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed      Code = "TOKEN_ALREADY_USED"
	CodeTokenNotActive        Code = "TOKEN_NOT_ACTIVE"
	CodeTokenEnvelopeMismatch Code = "TOKEN_ENVELOPE_MISMATCH"
	CodeTokenPartyMismatch    Code = "TOKEN_PARTY_MISMATCH"
	CodeTokenContextMismatch  Code = "TOKEN_CONTEXT_MISMATCH"
	CodeTokenEmptyEmail       Code = "TOKEN_EMPTY_EMAIL"
	CodeTokenInvalidTTL       Code = "TOKEN_INVALID_TTL"

	// Digest and signing errors
	CodeDigestMalformed       Code = "DIGEST_MALFORMED"
	CodeDigestMismatch        Code = "DIGEST_MISMATCH"
	CodeAlgorithmNotAllowed   Code = "ALGORITHM_NOT_ALLOWED"
	CodeSigningKeyUnknown     Code = "SIGNING_KEY_UNKNOWN"
	CodeDeclineReasonRequired Code = "DECLINE_REASON_REQUIRED"

	// Upload policy errors
	CodeUploadContentTypeNotAllowed Code = "UPLOAD_CONTENT_TYPE_NOT_ALLOWED"
	CodeUploadTooLarge              Code = "UPLOAD_TOO_LARGE"

	// Share-link grant errors
	CodeShareGrantInvalid Code = "SHARE_GRANT_INVALID"
	CodeShareGrantExpired Code = "SHARE_GRANT_EXPIRED"

	// Authorization errors
	CodeNotEnvelopeOwner Code = "NOT_ENVELOPE_OWNER"

	// Storage errors
	CodeNotFound   Code = "NOT_FOUND"
	CodeStaleWrite Code = "STALE_WRITE"

	// Collaborator errors
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeSignerUnavailable  Code = "SIGNER_UNAVAILABLE"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEnvelopeTitleEmpty,
		CodeEnvelopeOwnerMissing,
		CodeEnvelopeTenantMissing,
		CodeDocumentEmptyEnvelopeID,
		CodeDocumentNameEmpty,
		CodePartyEmptyEnvelopeID,
		CodePartyEmptyEmail,
		CodePartyInvalidRole,
		CodeTokenEmptyEmail,
		CodeTokenInvalidTTL,
		CodeDigestMalformed,
		CodeAlgorithmNotAllowed,
		CodeSigningKeyUnknown,
		CodeDeclineReasonRequired,
		CodeUploadContentTypeNotAllowed,
		CodeUploadTooLarge:
		return codes.InvalidArgument

	// FailedPrecondition - current state does not allow the operation
	case CodeEnvelopeInvalidStatusTransition,
		CodeEnvelopeStatusDisallowsOp,
		CodeEnvelopeNotDownloadable,
		CodeEnvelopeNoSigners,
		CodeEnvelopeNoDocuments,
		CodePartyInvalidStatusTransition,
		CodePartyAlreadySigned,
		CodePartyAlreadyDeclined,
		CodePartyNotSigner,
		CodePartyNotInvited,
		CodePartyConsentRequired,
		CodeTokenExpired,
		CodeTokenAlreadyUsed,
		CodeTokenNotActive,
		CodeDigestMismatch:
		return codes.FailedPrecondition

	// PermissionDenied - actor/binding mismatches
	case CodePartyEmailMismatch,
		CodeTokenEnvelopeMismatch,
		CodeTokenPartyMismatch,
		CodeTokenContextMismatch,
		CodeShareGrantInvalid,
		CodeShareGrantExpired,
		CodeNotEnvelopeOwner:
		return codes.PermissionDenied

	// NotFound - missing records
	case CodeNotFound,
		CodeTokenNotFound:
		return codes.NotFound

	// Aborted - retryable write conflicts
	case CodeStaleWrite:
		return codes.Aborted

	// ResourceExhausted - rate limits
	case CodeRateLimited:
		return codes.ResourceExhausted

	// Unavailable - collaborator failures
	case CodeSignerUnavailable,
		CodeStorageUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
