package index

import "fmt"

// Flat is an exact brute-force index.
type Flat struct {
	dim     int
	vectors map[string][]float32
}

// NewFlat creates an empty exact index.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim, vectors: make(map[string][]float32)}
}

// Insert adds or replaces a vector.
func (f *Flat) Insert(id string, vector []float32) error {
	if err := checkDim(f.dim, vector); err != nil {
		return fmt.Errorf("insert %s: %w", id, err)
	}
	v, err := Normalize(vector)
	if err != nil {
		return fmt.Errorf("insert %s: %w", id, err)
	}
	f.vectors[id] = v
	return nil
}

// Remove deletes a vector.
func (f *Flat) Remove(id string) { delete(f.vectors, id) }

// Search scores every vector.
func (f *Flat) Search(query []float32, k int) ([]Match, error) {
	if err := checkDim(f.dim, query); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if k <= 0 || len(f.vectors) == 0 {
		return []Match{}, nil
	}
	q, err := Normalize(query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]Match, 0, len(f.vectors))
	for id, v := range f.vectors {
		out = append(out, Match{ID: id, Similarity: Dot(q, v)})
	}
	sortMatches(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len returns the number of vectors.
func (f *Flat) Len() int { return len(f.vectors) }

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Entries returns all vectors ordered by id.
func (f *Flat) Entries() []Entry {
	out := make([]Entry, 0, len(f.vectors))
	for id, v := range f.vectors {
		out = append(out, Entry{ID: id, Vector: v})
	}
	sortEntries(out)
	return out
}
