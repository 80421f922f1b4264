package index

import "container/heap"

type candidate struct {
	node int32
	sim  float64
}

// nearest pops the most similar candidate first.
type nearest []candidate

func (h nearest) Len() int           { return len(h) }
func (h nearest) Less(i, j int) bool { return h[i].sim > h[j].sim }
func (h nearest) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nearest) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *nearest) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

// furthest pops the least similar candidate first.
type furthest []candidate

func (h furthest) Len() int           { return len(h) }
func (h furthest) Less(i, j int) bool { return h[i].sim < h[j].sim }
func (h furthest) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *furthest) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *furthest) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

func (h furthest) worst() float64 { return h[0].sim }

var (
	_ heap.Interface = (*nearest)(nil)
	_ heap.Interface = (*furthest)(nil)
)
