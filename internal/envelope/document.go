package envelope

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/signethq/signet/internal/platform/errors"
	"github.com/signethq/signet/internal/platform/id"
)

// Document represents one signable document inside an envelope. The digest
// is recorded when the document is attached and is immutable afterwards.
type Document struct {
	ID          string
	EnvelopeID  string
	Name        string
	ContentType string
	StorageKey  string
	Digest      Digest
	CreatedAt   time.Time
}

// AddDocumentInput describes the metadata needed to attach a document.
type AddDocumentInput struct {
	EnvelopeID  string
	Name        string
	ContentType string
	StorageKey  string
	Digest      Digest
}

// AddDocument creates a document record with a generated ID and a
// canonicalized digest.
func AddDocument(input AddDocumentInput, now func() time.Time, idGenerator func() (string, error)) (Document, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.EnvelopeID = strings.TrimSpace(input.EnvelopeID)
	if input.EnvelopeID == "" {
		return Document{}, apperrors.New(apperrors.CodeDocumentEmptyEnvelopeID, "envelope id is required")
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Document{}, apperrors.New(apperrors.CodeDocumentNameEmpty, "document name is required")
	}

	digest, err := NormalizeDigest(input.Digest)
	if err != nil {
		return Document{}, err
	}

	documentID, err := idGenerator()
	if err != nil {
		return Document{}, fmt.Errorf("generate document id: %w", err)
	}

	return Document{
		ID:          documentID,
		EnvelopeID:  input.EnvelopeID,
		Name:        input.Name,
		ContentType: strings.TrimSpace(input.ContentType),
		StorageKey:  strings.TrimSpace(input.StorageKey),
		Digest:      digest,
		CreatedAt:   now().UTC(),
	}, nil
}

// FindByDigest locates the document whose recorded digest equals the
// submitted digest. The boolean reports whether a match was found.
func FindByDigest(documents []Document, digest Digest) (Document, bool) {
	for _, doc := range documents {
		if doc.Digest.Equal(digest) {
			return doc, true
		}
	}
	return Document{}, false
}
