package document

import (
	"fmt"
	"regexp"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// MaxTextSize is the maximum document text size in bytes.
const MaxTextSize = 163840 // 160KB

// MaxIDLength is the maximum document ID length.
const MaxIDLength = 256

// Document is a knowledge-corpus entry (immutable value object).
type Document struct {
	id        string
	text      string
	sourceTag string
	vector    []float32
}

// ValidateID checks the ID format: ^[a-zA-Z0-9_.:-]+$, 1-256 chars.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("document ID is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("document ID too long (max %d)", MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("document ID must be alphanumeric with underscores, dots, colons and hyphens")
	}
	return nil
}

// New validates and creates a Document without a vector.
// Text: non-empty, max 160KB. The source tag is free-form provenance.
func New(id, text, sourceTag string) (Document, error) {
	if err := ValidateID(id); err != nil {
		return Document{}, err
	}
	if text == "" {
		return Document{}, fmt.Errorf("text is required")
	}
	if len(text) > MaxTextSize {
		return Document{}, fmt.Errorf("text too large (max %d bytes)", MaxTextSize)
	}
	return Document{id: id, text: text, sourceTag: sourceTag}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id, text, sourceTag string, vector []float32) Document {
	return Document{id: id, text: text, sourceTag: sourceTag, vector: vector}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Text returns the document text.
func (d *Document) Text() string { return d.text }

// SourceTag returns the provenance tag.
func (d *Document) SourceTag() string { return d.sourceTag }

// Vector returns the embedding vector.
func (d *Document) Vector() []float32 { return d.vector }

// WithVector returns a copy with the given vector set.
func (d *Document) WithVector(v []float32) Document {
	return Document{id: d.id, text: d.text, sourceTag: d.sourceTag, vector: v}
}
