package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	calibrationuc "github.com/kailas-cloud/flowbot/internal/usecase/calibration"
)

func TestReadJSONL(t *testing.T) {
	in := `{"id":"a","text":"alpha","source_tag":"runbook"}

{"id":"b","text":"beta"}
`
	got, err := readJSONL[ingestRecord](strings.NewReader(in))
	if err != nil {
		t.Fatalf("readJSONL: %v", err)
	}
	want := []ingestRecord{
		{ID: "a", Text: "alpha", SourceTag: "runbook"},
		{ID: "b", Text: "beta"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReadJSONL_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"malformed", "{\"id\":\"a\"}\n{oops\n", "line 2"},
		{"unknown field", `{"id":"a","txt":"typo"}`, "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readJSONL[ingestRecord](strings.NewReader(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadJSONLFile_Samples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	data := "{\"raw_scores\":[0.9,0.1],\"label\":0}\n{\"raw_scores\":[0.2,0.8],\"label\":1}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readJSONLFile[calibrationuc.Sample](path)
	if err != nil {
		t.Fatalf("readJSONLFile: %v", err)
	}
	want := []calibrationuc.Sample{
		{RawScores: []float64{0.9, 0.1}, Label: 0},
		{RawScores: []float64{0.2, 0.8}, Label: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}

	if _, err := readJSONLFile[calibrationuc.Sample](filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDocumentsFromRecords(t *testing.T) {
	docs, err := documentsFromRecords([]ingestRecord{{ID: "a", Text: "x"}, {ID: "b", Text: "y", SourceTag: "t"}})
	if err != nil {
		t.Fatalf("documentsFromRecords: %v", err)
	}
	if len(docs) != 2 || docs[1].SourceTag() != "t" {
		t.Errorf("docs = %+v", docs)
	}

	if _, err := documentsFromRecords([]ingestRecord{{ID: "a", Text: "x"}, {ID: "a", Text: "y"}}); err == nil {
		t.Error("expected duplicate id error")
	}
	if _, err := documentsFromRecords([]ingestRecord{{ID: "a"}}); err == nil {
		t.Error("expected missing text error")
	}
}
