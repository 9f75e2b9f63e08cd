// Package objectstore issues presigned URLs for document upload and
// download. The local implementation signs URLs with an HMAC key the way a
// blob gateway would; swapping in a cloud bucket only replaces the Presigner.
package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/signethq/signet/internal/platform/errors"
)

// DefaultURLTTL applies when a presign request does not specify a lifetime.
const DefaultURLTTL = 15 * time.Minute

// MaxUploadBytes bounds a single document upload.
const MaxUploadBytes = 25 << 20

// allowedContentTypes is the closed set of document types signers may
// upload. Unknown types are rejected, never passed through.
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
}

// PresignedURL is a time-bound capability to read or write one object.
type PresignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// UploadInput describes the object an upload URL must accept.
type UploadInput struct {
	Key         string
	ContentType string
	// SizeBytes of zero skips the size check; callers that know the size
	// up front pass it so oversized uploads fail before any transfer.
	SizeBytes int64
	TTL       time.Duration
}

// Presigner issues upload and download URLs.
type Presigner interface {
	PresignUpload(ctx context.Context, input UploadInput) (PresignedURL, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (PresignedURL, error)
}

// Local signs URLs against a shared HMAC key.
type Local struct {
	baseURL string
	key     []byte
	clock   func() time.Time
}

// NewLocal creates a presigner rooted at baseURL.
func NewLocal(baseURL string, key []byte) (*Local, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	return &Local{baseURL: baseURL, key: key, clock: time.Now}, nil
}

// WithClock overrides the presigner clock. Intended for tests.
func (l *Local) WithClock(clock func() time.Time) *Local {
	l.clock = clock
	return l
}

// PresignUpload validates the upload policy and issues a PUT URL.
func (l *Local) PresignUpload(ctx context.Context, input UploadInput) (PresignedURL, error) {
	if err := ctx.Err(); err != nil {
		return PresignedURL{}, err
	}
	if l == nil {
		return PresignedURL{}, apperrors.New(apperrors.CodeStorageUnavailable, "object store is not configured")
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		return PresignedURL{}, fmt.Errorf("object key is required")
	}
	contentType := strings.ToLower(strings.TrimSpace(input.ContentType))
	if !allowedContentTypes[contentType] {
		return PresignedURL{}, apperrors.WithMetadata(apperrors.CodeUploadContentTypeNotAllowed,
			"content type is not allowed for upload",
			map[string]string{"ContentType": contentType})
	}
	if input.SizeBytes > MaxUploadBytes {
		return PresignedURL{}, apperrors.WithMetadata(apperrors.CodeUploadTooLarge,
			"upload exceeds the maximum document size",
			map[string]string{"SizeBytes": strconv.FormatInt(input.SizeBytes, 10)})
	}

	return l.sign("PUT", key, input.TTL), nil
}

// PresignDownload issues a GET URL for an existing object.
func (l *Local) PresignDownload(ctx context.Context, key string, ttl time.Duration) (PresignedURL, error) {
	if err := ctx.Err(); err != nil {
		return PresignedURL{}, err
	}
	if l == nil {
		return PresignedURL{}, apperrors.New(apperrors.CodeStorageUnavailable, "object store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return PresignedURL{}, fmt.Errorf("object key is required")
	}

	return l.sign("GET", key, ttl), nil
}

// VerifyURL checks a presented presigned URL: signature first, then expiry.
func (l *Local) VerifyURL(rawURL string) error {
	if l == nil {
		return apperrors.New(apperrors.CodeStorageUnavailable, "object store is not configured")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse presigned url: %w", err)
	}
	query := parsed.Query()
	method := query.Get("method")
	expires := query.Get("expires")
	presented := query.Get("signature")
	if method == "" || expires == "" || presented == "" {
		return fmt.Errorf("presigned url is missing signature parameters")
	}

	expected := l.signature(method, strings.TrimPrefix(parsed.Path, "/"), expires)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return fmt.Errorf("presigned url signature mismatch")
	}

	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("parse presigned url expiry: %w", err)
	}
	if !l.clock().UTC().Before(time.Unix(expiresAt, 0).UTC()) {
		return fmt.Errorf("presigned url has expired")
	}
	return nil
}

func (l *Local) sign(method, key string, ttl time.Duration) PresignedURL {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	expiresAt := l.clock().UTC().Add(ttl)
	expires := strconv.FormatInt(expiresAt.Unix(), 10)

	query := url.Values{}
	query.Set("method", method)
	query.Set("expires", expires)
	query.Set("signature", l.signature(method, key, expires))

	return PresignedURL{
		URL:       l.baseURL + "/" + key + "?" + query.Encode(),
		Method:    method,
		ExpiresAt: expiresAt,
	}
}

func (l *Local) signature(method, key, expires string) string {
	mac := hmac.New(sha256.New, l.key)
	fmt.Fprintf(mac, "%s\n%s\n%s", method, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
