package objectstore

import (
	"context"
	"strings"
	"testing"
	"time"

	apperrors "github.com/signethq/signet/internal/platform/errors"
)

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	}
}

func testPresigner(t *testing.T) *Local {
	t.Helper()
	local, err := NewLocal("https://blobs.internal/signet", []byte("test-signing-key"))
	if err != nil {
		t.Fatalf("new local presigner: %v", err)
	}
	return local.WithClock(fixedClock())
}

func TestPresignUploadAndVerify(t *testing.T) {
	local := testPresigner(t)

	presigned, err := local.PresignUpload(context.Background(), UploadInput{
		Key:         "env-1/doc-1",
		ContentType: "application/pdf",
		SizeBytes:   1 << 20,
	})
	if err != nil {
		t.Fatalf("presign upload: %v", err)
	}
	if presigned.Method != "PUT" {
		t.Errorf("Method = %q, want PUT", presigned.Method)
	}
	if !strings.HasPrefix(presigned.URL, "https://blobs.internal/signet/env-1/doc-1?") {
		t.Errorf("URL = %q", presigned.URL)
	}
	if !presigned.ExpiresAt.Equal(fixedClock()().Add(DefaultURLTTL)) {
		t.Errorf("ExpiresAt = %v", presigned.ExpiresAt)
	}

	if err := local.VerifyURL(presigned.URL); err != nil {
		t.Fatalf("verify url: %v", err)
	}
}

func TestPresignUploadRejectsContentType(t *testing.T) {
	local := testPresigner(t)

	_, err := local.PresignUpload(context.Background(), UploadInput{
		Key:         "env-1/doc-1",
		ContentType: "application/x-msdownload",
	})
	if !apperrors.IsCode(err, apperrors.CodeUploadContentTypeNotAllowed) {
		t.Fatalf("expected content type code, got %v", err)
	}
}

func TestPresignUploadRejectsOversize(t *testing.T) {
	local := testPresigner(t)

	_, err := local.PresignUpload(context.Background(), UploadInput{
		Key:         "env-1/doc-1",
		ContentType: "application/pdf",
		SizeBytes:   MaxUploadBytes + 1,
	})
	if !apperrors.IsCode(err, apperrors.CodeUploadTooLarge) {
		t.Fatalf("expected too large code, got %v", err)
	}
}

func TestVerifyURLRejectsTampering(t *testing.T) {
	local := testPresigner(t)

	presigned, err := local.PresignDownload(context.Background(), "env-1/doc-1", time.Hour)
	if err != nil {
		t.Fatalf("presign download: %v", err)
	}

	tampered := strings.Replace(presigned.URL, "doc-1", "doc-2", 1)
	if err := local.VerifyURL(tampered); err == nil {
		t.Fatal("expected signature mismatch for tampered key")
	}
}

func TestVerifyURLRejectsExpired(t *testing.T) {
	local := testPresigner(t)

	presigned, err := local.PresignDownload(context.Background(), "env-1/doc-1", time.Minute)
	if err != nil {
		t.Fatalf("presign download: %v", err)
	}

	local.WithClock(func() time.Time { return fixedClock()().Add(time.Hour) })
	if err := local.VerifyURL(presigned.URL); err == nil {
		t.Fatal("expected expired url to fail verification")
	}
}

func TestNewLocalValidation(t *testing.T) {
	if _, err := NewLocal("", []byte("key")); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := NewLocal("https://blobs.internal", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
}
