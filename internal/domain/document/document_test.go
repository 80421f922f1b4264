package document

import (
	"strings"
	"testing"
)

func TestNew_Valid(t *testing.T) {
	doc, err := New("kb:mri.001", "MRI scan shows no anomaly", "radiology-notes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID() != "kb:mri.001" {
		t.Errorf("ID() = %q", doc.ID())
	}
	if doc.Text() != "MRI scan shows no anomaly" {
		t.Errorf("Text() = %q", doc.Text())
	}
	if doc.SourceTag() != "radiology-notes" {
		t.Errorf("SourceTag() = %q", doc.SourceTag())
	}
	if doc.Vector() != nil {
		t.Errorf("Vector() should be nil for new document")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		text string
	}{
		{"empty id", "", "text"},
		{"id with space", "doc 1", "text"},
		{"id with slash", "a/b", "text"},
		{"id too long", strings.Repeat("a", 257), "text"},
		{"empty text", "doc-1", ""},
		{"text too large", "doc-1", strings.Repeat("x", MaxTextSize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.id, tt.text, ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_Boundaries(t *testing.T) {
	if _, err := New(strings.Repeat("a", 256), "t", ""); err != nil {
		t.Errorf("256-char ID should be valid: %v", err)
	}
	if _, err := New("d", strings.Repeat("x", MaxTextSize), ""); err != nil {
		t.Errorf("max-size text should be valid: %v", err)
	}
}

func TestWithVector(t *testing.T) {
	doc, _ := New("doc-1", "text", "src")
	withVec := doc.WithVector([]float32{1, 2, 3})

	if doc.Vector() != nil {
		t.Error("original document must not be modified")
	}
	if len(withVec.Vector()) != 3 {
		t.Errorf("Vector() = %v", withVec.Vector())
	}
	if withVec.ID() != "doc-1" || withVec.SourceTag() != "src" {
		t.Error("WithVector must preserve fields")
	}
}

func TestReconstruct(t *testing.T) {
	doc := Reconstruct("id", "text", "tag", []float32{0.5})
	if doc.ID() != "id" || doc.Text() != "text" || doc.SourceTag() != "tag" || len(doc.Vector()) != 1 {
		t.Errorf("Reconstruct lost fields: %+v", doc)
	}
}
