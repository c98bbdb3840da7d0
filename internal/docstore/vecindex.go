package docstore

import (
	"container/heap"
	"sync"

	"tacita/pkg/domain"
)

// VecIndex is the in-memory similarity index over chunk embeddings. It is a
// derived, rebuildable cache: the durable store is always written first, and
// on startup the index is rebuilt from it, so a crash between the two leaves
// at worst an unindexed durable chunk, never a dangling search result.
//
// Brute-force cosine over normalized vectors; exact results, sub-millisecond
// at the store's capacity ceiling.
type VecIndex struct {
	mu      sync.RWMutex
	vectors map[ChunkRef][]float32
}

func NewVecIndex() *VecIndex {
	return &VecIndex{vectors: make(map[ChunkRef][]float32)}
}

// AddDocument indexes all chunks of one document. Vectors must already be
// normalized.
func (ix *VecIndex) AddDocument(id domain.DocumentID, chunks []Chunk) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, c := range chunks {
		ix.vectors[ChunkRef{DocumentID: id, Index: c.Index}] = c.Embedding
	}
}

// RemoveDocument drops every chunk of a document from the index.
func (ix *VecIndex) RemoveDocument(id domain.DocumentID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for ref := range ix.vectors {
		if ref.DocumentID == id {
			delete(ix.vectors, ref)
		}
	}
}

// Len returns the number of indexed chunks.
func (ix *VecIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

type scored struct {
	ref   ChunkRef
	score float64
}

// Search returns the top-k chunks by cosine similarity to the normalized
// query vector, best first. A min-heap tracks only the current top-k.
func (ix *VecIndex) Search(query []float32, k int) []scoredHit {
	if k <= 0 {
		k = 10
	}

	ix.mu.RLock()
	h := &minHeap{}
	heap.Init(h)
	for ref, vec := range ix.vectors {
		if len(vec) != len(query) {
			continue
		}
		s := dotProduct(query, vec)
		if h.Len() < k {
			heap.Push(h, scored{ref: ref, score: s})
		} else if s > (*h)[0].score {
			(*h)[0] = scored{ref: ref, score: s}
			heap.Fix(h, 0)
		}
	}
	ix.mu.RUnlock()

	out := make([]scoredHit, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		sc := heap.Pop(h).(scored)
		out[i] = scoredHit{Ref: sc.ref, Score: sc.score}
	}
	return out
}

type scoredHit struct {
	Ref   ChunkRef
	Score float64
}

// minHeap implements heap.Interface for top-k selection (min at root).
type minHeap []scored

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
