// Package index provides in-process nearest-neighbor search over dense
// float32 vectors.
//
// Vectors are unit-normalized on insert and similarity is the inner product,
// so scores are cosine similarities in [-1, 1]. Implementations allow
// concurrent Search calls; writes must be serialized by the caller.
package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/flowbot/internal/domain"
)

// Index is an ANN index keyed by string IDs.
type Index interface {
	// Insert adds or replaces the vector for id.
	Insert(id string, vector []float32) error
	// Remove deletes id. Unknown ids are ignored.
	Remove(id string)
	// Search returns up to k matches, most similar first, ties by id.
	Search(query []float32, k int) ([]Match, error)
	// Len returns the number of live vectors.
	Len() int
	// Dim returns the vector dimension.
	Dim() int
	// Entries returns every live vector ordered by id.
	Entries() []Entry
}

// Entry is a stored vector.
type Entry struct {
	ID     string
	Vector []float32
}

// Match is a single search result.
type Match struct {
	ID         string
	Similarity float64
}

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: vector contains non-finite values", domain.ErrInvalidInput)
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: zero-norm vector", domain.ErrInvalidInput)
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}

// Dot is the inner product accumulated in float64.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Cosine returns the cosine similarity of two vectors of equal length.
// Zero-norm inputs yield 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

func checkDim(want int, v []float32) error {
	if len(v) != want {
		return domain.NewDimensionMismatch(want, len(v))
	}
	return nil
}

func sortMatches(m []Match) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Similarity != m[j].Similarity {
			return m[i].Similarity > m[j].Similarity
		}
		return m[i].ID < m[j].ID
	})
}

func sortEntries(e []Entry) {
	sort.Slice(e, func(i, j int) bool { return e[i].ID < e[j].ID })
}
