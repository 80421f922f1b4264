package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	domdoc "github.com/kailas-cloud/flowbot/internal/domain/document"
)

var ingestFlags struct {
	batchSize int
}

// ingestRecord is one line of an ingest file.
type ingestRecord struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SourceTag string `json:"source_tag,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>",
	Short: "Embed and index documents from a JSONL file",
	Long: `Ingest reads one {"id","text","source_tag"} object per line, embeds the
documents and indexes them in the active generation. The index snapshot is
written to the configured key-value store, so a redis driver is needed for a
running server to pick the documents up.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestFlags.batchSize, "batch-size", 100, "Documents per ingest call")
}

func runIngest(cmd *cobra.Command, args []string) error {
	records, err := readJSONLFile[ingestRecord](args[0])
	if err != nil {
		return err
	}
	docs, err := documentsFromRecords(records)
	if err != nil {
		return err
	}

	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.Database.Driver == "memory" {
		a.logger.Warn("Memory driver: ingested documents are lost when the command exits")
	}

	batch := ingestFlags.batchSize
	if batch <= 0 {
		batch = len(docs)
	}
	total := 0
	for start := 0; start < len(docs); start += batch {
		end := min(start+batch, len(docs))
		n, err := a.retrieval.IngestDocuments(cmd.Context(), docs[start:end])
		total += n
		if err != nil {
			return fmt.Errorf("ingest documents %d-%d: %w", start, end-1, err)
		}
		a.logger.Info("Batch ingested", zap.Int("from", start), zap.Int("count", n))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents (embedding version %s, index size %d)\n",
		total, a.index.Version(), a.index.Len())
	return nil
}

func documentsFromRecords(records []ingestRecord) ([]domdoc.Document, error) {
	docs := make([]domdoc.Document, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("record %d: duplicate id %q", i+1, r.ID)
		}
		seen[r.ID] = struct{}{}
		d, err := domdoc.New(r.ID, r.Text, r.SourceTag)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}
