package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/document"
	"github.com/kailas-cloud/flowbot/internal/usecase/store"
)

var vocabulary = []string{"anomaly", "mri", "scan", "lesion", "weather", "audio"}

// keywordEmbedder counts vocabulary words plus a small bias dimension.
type keywordEmbedder struct {
	mu       sync.Mutex
	versions []string
	calls    atomic.Int32
}

func (k *keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(vocabulary)+1)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, "?.,!")
		for i, voc := range vocabulary {
			if w == voc {
				v[i]++
			}
		}
	}
	v[len(vocabulary)] = 0.1
	return v
}

func (k *keywordEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	k.calls.Add(1)
	k.mu.Lock()
	k.versions = append(k.versions, domain.EmbeddingVersionFromContext(ctx))
	k.mu.Unlock()
	return domain.EmbeddingResult{Embedding: k.vector(text), TotalTokens: 1}, nil
}

// flakyEmbedder fails the first failures calls with err.
type flakyEmbedder struct {
	inner    domain.Embedder
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if f.calls.Add(1) <= f.failures {
		return domain.EmbeddingResult{}, f.err
	}
	return f.inner.Embed(ctx, text)
}

func dim() int { return len(vocabulary) + 1 }

func newEngine(t *testing.T, emb domain.Embedder) (*Engine, *store.Store) {
	t.Helper()
	st := store.New("v1", dim(), store.FlatFactory(), nil, zap.NewNop())
	cfg := DefaultConfig()
	cfg.RetryBackoff = 0
	return New(st, emb, emb, cfg, zap.NewNop()), st
}

func mustDoc(t *testing.T, id, text string) document.Document {
	t.Helper()
	d, err := document.New(id, text, "test")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	return d
}

func TestRetrieve_AnomalyScenario(t *testing.T) {
	e, _ := newEngine(t, &keywordEmbedder{})
	ctx := context.Background()
	if _, err := e.IngestDocuments(ctx, []document.Document{mustDoc(t, "1", "MRI scan shows no anomaly")}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	res, err := e.Retrieve(ctx, "is there an anomaly?", 1, 0.3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if res.Degraded {
		t.Fatal("unexpected degraded result")
	}
	if len(res.Hits) != 1 || res.Hits[0].Document.ID() != "1" {
		t.Fatalf("expected [1], got %+v", res.Hits)
	}
}

func TestRetrieve_FiltersAndOrders(t *testing.T) {
	e, _ := newEngine(t, &keywordEmbedder{})
	ctx := context.Background()
	docs := []document.Document{
		mustDoc(t, "b", "anomaly lesion"),
		mustDoc(t, "a", "anomaly lesion"),
		mustDoc(t, "c", "anomaly"),
		mustDoc(t, "w", "weather report"),
	}
	if _, err := e.IngestDocuments(ctx, docs); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	res, err := e.Retrieve(ctx, "lesion anomaly", 3, 0.5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	var ids []string
	for _, h := range res.Hits {
		ids = append(ids, h.Document.ID())
		if h.Similarity < 0.5 {
			t.Errorf("hit %s below floor: %v", h.Document.ID(), h.Similarity)
		}
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("order = %v, want a,b,c", ids)
	}
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	e, _ := newEngine(t, &keywordEmbedder{})
	res, err := e.Retrieve(context.Background(), "anomaly", 5, 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Hits) != 0 || res.Degraded {
		t.Errorf("expected empty, non-degraded result: %+v", res)
	}
}

func TestRetrieve_RetriesTransientErrors(t *testing.T) {
	flaky := &flakyEmbedder{inner: &keywordEmbedder{}, failures: 2, err: domain.ErrEmbeddingProviderError}
	e, st := newEngine(t, flaky)
	d := mustDoc(t, "1", "x")
	_ = st.Insert(context.Background(), "v1", d.WithVector((&keywordEmbedder{}).vector("anomaly")))

	res, err := e.Retrieve(context.Background(), "anomaly", 1, 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Hits) != 1 {
		t.Errorf("expected a hit after retries, got %+v", res)
	}
	if got := flaky.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetrieve_DegradesAfterRetries(t *testing.T) {
	flaky := &flakyEmbedder{inner: &keywordEmbedder{}, failures: 100, err: domain.ErrBackendTimeout}
	e, _ := newEngine(t, flaky)

	res, err := e.Retrieve(context.Background(), "anomaly", 3, 0)
	if err != nil {
		t.Fatalf("degraded retrieval must not error: %v", err)
	}
	if !res.Degraded || len(res.Hits) != 0 {
		t.Errorf("expected degraded empty result, got %+v", res)
	}
	if got := flaky.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", got)
	}
}

func TestRetrieve_NoRetryOnQuota(t *testing.T) {
	flaky := &flakyEmbedder{inner: &keywordEmbedder{}, failures: 100, err: domain.ErrQuotaExceeded}
	e, _ := newEngine(t, flaky)

	_, err := e.Retrieve(context.Background(), "anomaly", 3, 0)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if got := flaky.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRetrieve_NoRetryOnCancel(t *testing.T) {
	flaky := &flakyEmbedder{inner: &keywordEmbedder{}, failures: 100, err: domain.ErrBackendUnavailable}
	e, _ := newEngine(t, flaky)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Retrieve(ctx, "anomaly", 3, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := flaky.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: f.vec}, nil
}

func TestRetrieve_EmptyIndexIgnoresQueryDimension(t *testing.T) {
	e, _ := newEngine(t, fixedEmbedder{vec: []float32{1, 2}})
	res, err := e.Retrieve(context.Background(), "q", 3, 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if res.Hits == nil || len(res.Hits) != 0 || res.Degraded {
		t.Errorf("expected an empty, non-nil, non-degraded result: %+v", res)
	}
}

func TestRetrieve_DimensionMismatch(t *testing.T) {
	e, st := newEngine(t, fixedEmbedder{vec: []float32{1, 2}})
	d := mustDoc(t, "1", "x")
	_ = st.Insert(context.Background(), "v1", d.WithVector((&keywordEmbedder{}).vector("anomaly")))
	_, err := e.Retrieve(context.Background(), "q", 1, 0)
	var dm *domain.DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.Want != dim() || dm.Got != 2 {
		t.Errorf("mismatch = %+v", dm)
	}
}

func TestRetrieve_InvalidTopK(t *testing.T) {
	e, _ := newEngine(t, &keywordEmbedder{})
	if _, err := e.Retrieve(context.Background(), "q", 0, 0); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestIngest_ParallelBatches(t *testing.T) {
	emb := &keywordEmbedder{}
	st := store.New("v1", dim(), store.FlatFactory(), nil, zap.NewNop())
	cfg := DefaultConfig()
	cfg.IngestBatchSize = 3
	cfg.IngestParallelism = 4
	e := New(st, emb, emb, cfg, zap.NewNop())

	docs := make([]document.Document, 50)
	for i := range docs {
		docs[i] = mustDoc(t, fmt.Sprintf("d%02d", i), "anomaly scan "+vocabulary[i%len(vocabulary)])
	}
	n, err := e.IngestDocuments(context.Background(), docs)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if n != 50 || st.Len() != 50 {
		t.Errorf("ingested %d, store has %d", n, st.Len())
	}
	for _, v := range emb.versions {
		if v != "v1" {
			t.Fatalf("embedding calls must carry the active version, got %q", v)
		}
	}
}

func TestIngest_ErrorStopsBeforeInsert(t *testing.T) {
	flaky := &flakyEmbedder{inner: &keywordEmbedder{}, failures: 100, err: domain.ErrQuotaExceeded}
	e, st := newEngine(t, flaky)
	_, err := e.IngestDocuments(context.Background(), []document.Document{mustDoc(t, "1", "anomaly")})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if st.Len() != 0 {
		t.Error("nothing should be indexed")
	}
}

func TestReindex_SwapsVersion(t *testing.T) {
	emb := &keywordEmbedder{}
	e, st := newEngine(t, emb)
	ctx := context.Background()
	_, _ = e.IngestDocuments(ctx, []document.Document{
		mustDoc(t, "1", "MRI scan shows no anomaly"),
		mustDoc(t, "2", "weather"),
	})

	n, err := e.Reindex(ctx, "v2")
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if n != 2 || st.Version() != "v2" || st.Len() != 2 {
		t.Errorf("after reindex: n=%d version=%s len=%d", n, st.Version(), st.Len())
	}
	last := emb.versions[len(emb.versions)-1]
	if last != "v2" {
		t.Errorf("reindex must embed under the new version, got %q", last)
	}

	res, err := e.Retrieve(ctx, "anomaly", 1, 0.3)
	if err != nil || len(res.Hits) != 1 || res.Hits[0].Document.ID() != "1" {
		t.Errorf("retrieve after reindex: %+v, %v", res, err)
	}
}

func TestReindex_RequiresVersion(t *testing.T) {
	e, _ := newEngine(t, &keywordEmbedder{})
	if _, err := e.Reindex(context.Background(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRemoveDocument(t *testing.T) {
	e, st := newEngine(t, &keywordEmbedder{})
	ctx := context.Background()
	_, _ = e.IngestDocuments(ctx, []document.Document{mustDoc(t, "1", "anomaly")})

	if err := e.RemoveDocument(ctx, "1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if st.Len() != 0 {
		t.Error("document still indexed")
	}
	if err := e.RemoveDocument(ctx, "1"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}
