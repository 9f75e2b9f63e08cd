package envelope

import (
	"crypto/subtle"
	"fmt"
	"strings"

	apperrors "github.com/signethq/signet/internal/platform/errors"
)

// Digest is a cryptographic hash of exact document bytes. It is the only
// evidence that a signer is about to sign the bytes the platform rendered,
// so comparisons are structural and never coerce across algorithms.
type Digest struct {
	Algorithm string
	Value     string
}

// hexLengths maps supported hash algorithms to their lowercase-hex value length.
var hexLengths = map[string]int{
	"sha-256": 64,
	"sha-384": 96,
	"sha-512": 128,
}

// NormalizeDigest validates format and returns the canonical representation:
// lowercase algorithm name, lowercase hex value of the expected length.
func NormalizeDigest(d Digest) (Digest, error) {
	algorithm := strings.ToLower(strings.TrimSpace(d.Algorithm))
	value := strings.ToLower(strings.TrimSpace(d.Value))

	wantLen, ok := hexLengths[algorithm]
	if !ok {
		return Digest{}, apperrors.WithMetadata(
			apperrors.CodeDigestMalformed,
			fmt.Sprintf("unsupported digest algorithm: %q", d.Algorithm),
			map[string]string{"Algorithm": d.Algorithm},
		)
	}
	if len(value) != wantLen {
		return Digest{}, apperrors.WithMetadata(
			apperrors.CodeDigestMalformed,
			fmt.Sprintf("digest value must be %d hex characters for %s", wantLen, algorithm),
			map[string]string{"Algorithm": algorithm},
		)
	}
	for _, r := range value {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return Digest{}, apperrors.New(apperrors.CodeDigestMalformed, "digest value is not lowercase hex")
		}
	}

	return Digest{Algorithm: algorithm, Value: value}, nil
}

// Equal reports byte-exact structural equality of two digests. An algorithm
// mismatch is a mismatch, never a coercion.
func (d Digest) Equal(other Digest) bool {
	if d.Algorithm != other.Algorithm {
		return false
	}
	if len(d.Value) != len(other.Value) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(d.Value), []byte(other.Value)) == 1
}
