package models

import (
	"fmt"

	"github.com/brahmalabs/baman-engine/pkg/apperrors"
	"github.com/brahmalabs/baman-engine/pkg/jsonutil"
)

// Digest is one extracted chunk of a content artifact, produced entirely by
// the digestion backend.
type Digest struct {
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	ShortSummary string   `json:"short_summary"`
	Topics       []string `json:"topics"`
	Keywords     []string `json:"keywords"`
	Questions    []string `json:"questions"`
}

// ContentArtifact is a digested unit of source material.
// It belongs to exactly one corpus of exactly one assistant.
type ContentArtifact struct {
	ID           jsonutil.FlexibleString `json:"id"`
	Title        string                  `json:"title"`
	Content      string                  `json:"content"`
	ShortSummary string                  `json:"short_summary"`
	LongSummary  string                  `json:"long_summary"`
	Topics       []string                `json:"topics"`
	Keywords     []string                `json:"keywords"`
	Questions    []string                `json:"questions"`
	SourceURL    string                  `json:"source_url"`

	// Digests is nil when the backend omitted the list, which marks the
	// artifact as malformed. An empty non-nil slice is valid.
	Digests []Digest `json:"digests"`
}

// Validate checks the artifact as returned by the digestion endpoint.
func (a *ContentArtifact) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: empty response", apperrors.ErrMalformed)
	}
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", apperrors.ErrMalformed)
	}
	if a.Digests == nil {
		return fmt.Errorf("%w: missing digest list", apperrors.ErrMalformed)
	}
	return nil
}

// ArtifactID returns the normalised identifier.
func (a *ContentArtifact) ArtifactID() string {
	return a.ID.String()
}
