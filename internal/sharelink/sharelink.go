// Package sharelink issues and verifies read-only view grants for completed
// envelopes. Grants are EdDSA-signed JWTs so a viewer link carries no
// database state until it is presented.
package sharelink

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/platform/id"
)

// DefaultTTL applies when issuance does not specify a grant lifetime.
const DefaultTTL = 72 * time.Hour

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string `env:"SIGNET_SHARE_GRANT_ISSUER"`
	Audience   string `env:"SIGNET_SHARE_GRANT_AUDIENCE"`
	PrivateKey string `env:"SIGNET_SHARE_GRANT_PRIVATE_KEY"`
	PublicKey  string `env:"SIGNET_SHARE_GRANT_PUBLIC_KEY"`
}

// Config defines how share grants are issued and verified.
type Config struct {
	Issuer   string
	Audience string
	// PrivateKey is required for issuing. Verification-only deployments
	// may leave it nil and set only PublicKey.
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Now        func() time.Time
}

// Expectation defines the envelope a presented grant must reference.
type Expectation struct {
	EnvelopeID string
}

// Claims captures validated share grant claims.
type Claims struct {
	Issuer     string
	Audience   []string
	ExpiresAt  time.Time
	IssuedAt   time.Time
	JWTID      string
	EnvelopeID string
	Email      string
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	EnvelopeID string `json:"envelope_id"`
	Email      string `json:"email,omitempty"`
}

// LoadConfigFromEnv reads share grant configuration. A private key implies
// the matching public key; setting only the public key yields a
// verification-only config.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse share grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return Config{}, fmt.Errorf("SIGNET_SHARE_GRANT_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("SIGNET_SHARE_GRANT_AUDIENCE is required")
	}
	if now == nil {
		now = time.Now
	}
	cfg := Config{Issuer: issuer, Audience: audience, Now: now}

	if privateKey := strings.TrimSpace(raw.PrivateKey); privateKey != "" {
		keyBytes, err := decodeBase64(privateKey)
		if err != nil {
			return Config{}, fmt.Errorf("decode share grant private key: %w", err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return Config{}, fmt.Errorf("share grant private key must be %d bytes", ed25519.PrivateKeySize)
		}
		cfg.PrivateKey = ed25519.PrivateKey(keyBytes)
		cfg.PublicKey = cfg.PrivateKey.Public().(ed25519.PublicKey)
		return cfg, nil
	}

	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return Config{}, fmt.Errorf("SIGNET_SHARE_GRANT_PRIVATE_KEY or SIGNET_SHARE_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode share grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("share grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	cfg.PublicKey = ed25519.PublicKey(keyBytes)
	return cfg, nil
}

// Issue mints a view grant for one envelope. TTL of zero selects DefaultTTL.
func Issue(envelopeID, email string, ttl time.Duration, cfg Config) (string, error) {
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return "", apperrors.New(apperrors.CodeShareGrantInvalid, "envelope id is required")
	}
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return "", errors.New("share grant issuer is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	grantID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate grant id: %w", err)
	}

	now := cfg.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        grantID,
		},
		EnvelopeID: envelopeID,
		Email:      strings.TrimSpace(email),
	}

	grant, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign share grant: %w", err)
	}
	return grant, nil
}

// Validate verifies a share grant and checks it references the expected
// envelope.
func Validate(grant string, expected Expectation, cfg Config) (Claims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return Claims{}, apperrors.New(apperrors.CodeShareGrantInvalid, "share grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.PublicKey) != ed25519.PublicKeySize {
		return Claims{}, errors.New("share grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeShareGrantInvalid,
			"share grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeShareGrantInvalid,
			"share grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeShareGrantInvalid, "share grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeShareGrantInvalid, "share grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeShareGrantExpired, "share grant is expired")
	}

	if strings.TrimSpace(parsed.EnvelopeID) == "" || parsed.EnvelopeID != expected.EnvelopeID {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeShareGrantInvalid,
			"share grant envelope mismatch",
			map[string]string{"Field": "envelope_id"},
		)
	}

	claims := Claims{
		Issuer:     parsed.Issuer,
		Audience:   []string(parsed.Audience),
		ExpiresAt:  exp,
		JWTID:      parsed.ID,
		EnvelopeID: parsed.EnvelopeID,
		Email:      parsed.Email,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeShareGrantInvalid, "share grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeShareGrantInvalid, "share grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeShareGrantInvalid, "share grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
