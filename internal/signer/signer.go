// Package signer produces platform signatures over document digests.
//
// The local implementation keeps its keyset in memory behind Tink
// primitives. Production deployments swap in a KMS-backed Signer through
// the same interface.
package signer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/tink/go/keyset"
	"github.com/google/tink/go/signature"
	"github.com/google/tink/go/tink"

	apperrors "github.com/signethq/signet/internal/platform/errors"
)

// Algorithm names accepted by the local signer.
const (
	AlgorithmECDSAP256 = "ecdsa-p256-sha256"
	AlgorithmED25519   = "ed25519"
)

// ErrUnavailable indicates the signing backend cannot serve requests.
var ErrUnavailable = apperrors.New(apperrors.CodeSignerUnavailable, "signing backend is unavailable")

// Signature is the result of signing a document digest.
type Signature struct {
	Algorithm string
	KeyID     string
	// Value is the raw signature bytes, hex encoded for storage and audit.
	Value string
}

// Signer signs canonical digest bytes on behalf of the platform.
type Signer interface {
	Sign(ctx context.Context, digest []byte) (Signature, error)
	// KeyID identifies the key the next Sign call will use.
	KeyID() string
}

// Verifier checks platform signatures. The local signer implements both
// sides so completed envelopes can be re-verified without key export.
type Verifier interface {
	Verify(ctx context.Context, digest []byte, sig Signature) error
}

// Local is an in-process Tink-backed signer.
type Local struct {
	mu        sync.Mutex
	algorithm string
	keyID     string
	signer    tink.Signer
	verifier  tink.Verifier
}

// NewLocal creates a signer with a fresh keyset for the given algorithm.
func NewLocal(algorithm string) (*Local, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))

	var handle *keyset.Handle
	var err error
	switch algorithm {
	case AlgorithmECDSAP256, "":
		algorithm = AlgorithmECDSAP256
		handle, err = keyset.NewHandle(signature.ECDSAP256KeyTemplate())
	case AlgorithmED25519:
		handle, err = keyset.NewHandle(signature.ED25519KeyTemplate())
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeAlgorithmNotAllowed,
			"signing algorithm is not supported",
			map[string]string{"Algorithm": algorithm})
	}
	if err != nil {
		return nil, fmt.Errorf("create keyset handle: %w", err)
	}

	tinkSigner, err := signature.NewSigner(handle)
	if err != nil {
		return nil, fmt.Errorf("create signer primitive: %w", err)
	}
	public, err := handle.Public()
	if err != nil {
		return nil, fmt.Errorf("derive public keyset: %w", err)
	}
	tinkVerifier, err := signature.NewVerifier(public)
	if err != nil {
		return nil, fmt.Errorf("create verifier primitive: %w", err)
	}

	keyID := fmt.Sprintf("local-%d", handle.KeysetInfo().GetPrimaryKeyId())
	return &Local{
		algorithm: algorithm,
		keyID:     keyID,
		signer:    tinkSigner,
		verifier:  tinkVerifier,
	}, nil
}

// Algorithm returns the signer's algorithm name.
func (l *Local) Algorithm() string {
	return l.algorithm
}

// KeyID returns the identifier of the signer's primary key.
func (l *Local) KeyID() string {
	if l == nil {
		return ""
	}
	return l.keyID
}

// Sign signs the digest bytes.
func (l *Local) Sign(ctx context.Context, digest []byte) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	if l == nil || l.signer == nil {
		return Signature{}, ErrUnavailable
	}
	if len(digest) == 0 {
		return Signature{}, apperrors.New(apperrors.CodeDigestMalformed, "digest bytes are required")
	}

	l.mu.Lock()
	raw, err := l.signer.Sign(digest)
	l.mu.Unlock()
	if err != nil {
		return Signature{}, apperrors.Wrap(apperrors.CodeSignerUnavailable, "sign digest", err)
	}

	return Signature{
		Algorithm: l.algorithm,
		KeyID:     l.keyID,
		Value:     hex.EncodeToString(raw),
	}, nil
}

// Verify checks a signature produced by this signer's keyset.
func (l *Local) Verify(ctx context.Context, digest []byte, sig Signature) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l == nil || l.verifier == nil {
		return ErrUnavailable
	}
	raw, err := hex.DecodeString(sig.Value)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDigestMalformed, "decode signature", err)
	}
	if err := l.verifier.Verify(raw, digest); err != nil {
		return apperrors.Wrap(apperrors.CodeDigestMismatch, "signature does not verify", err)
	}
	return nil
}
