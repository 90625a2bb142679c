// Package queue provides the ordered queues used during graph construction
// and search: distance-ordered heaps over (node id, distance) pairs and a
// generic keyed min-heap.
package queue

import (
	"cmp"
	"container/heap"
)

// Item pairs a node id with its distance to some query point.
type Item struct {
	Id   int32
	Dist float32
}

// CloserFirst is a min-heap by distance; the top is the closest item.
// It is used for expansion frontiers. Use with container/heap.
type CloserFirst []Item

func (q CloserFirst) Len() int { return len(q) }
func (q CloserFirst) Less(i, j int) bool { return q[i].Dist < q[j].Dist }
func (q CloserFirst) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *CloserFirst) Push(x any) { *q = append(*q, x.(Item)) }
func (q *CloserFirst) Pop() any { old := *q; n := len(old); x := old[n-1]; *q = old[:n-1]; return x }

// Top returns the closest item without removing it.
func (q CloserFirst) Top() Item { return q[0] }

// FurtherFirst is a max-heap by distance; the top is the farthest item.
// It bounds the best-so-far result set. Use with container/heap.
type FurtherFirst []Item

func (q FurtherFirst) Len() int { return len(q) }
func (q FurtherFirst) Less(i, j int) bool { return q[i].Dist > q[j].Dist }
func (q FurtherFirst) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *FurtherFirst) Push(x any) { *q = append(*q, x.(Item)) }
func (q *FurtherFirst) Pop() any { old := *q; n := len(old); x := old[n-1]; *q = old[:n-1]; return x }

// Top returns the farthest item without removing it.
func (q FurtherFirst) Top() Item { return q[0] }

// FloatMaxHeap is a max-heap of bare distances. Use with container/heap.
type FloatMaxHeap []float32

func (q FloatMaxHeap) Len() int { return len(q) }
func (q FloatMaxHeap) Less(i, j int) bool { return q[i] > q[j] }
func (q FloatMaxHeap) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *FloatMaxHeap) Push(x any) { *q = append(*q, x.(float32)) }
func (q *FloatMaxHeap) Pop() any { old := *q; n := len(old); x := old[n-1]; *q = old[:n-1]; return x }

// Top returns the largest distance without removing it.
func (q FloatMaxHeap) Top() float32 { return q[0] }

// MinItem is an entry of a MinHeap.
type MinItem[K cmp.Ordered, D any] struct {
	Key  K
	Data D
}

// MinHeap is a generic min-heap ordered by Key.
type MinHeap[K cmp.Ordered, D any] struct {
	items minItems[K, D]
}

type minItems[K cmp.Ordered, D any] []MinItem[K, D]

func (s minItems[K, D]) Len() int { return len(s) }
func (s minItems[K, D]) Less(i, j int) bool { return s[i].Key < s[j].Key }
func (s minItems[K, D]) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s *minItems[K, D]) Push(x any) { *s = append(*s, x.(MinItem[K, D])) }
func (s *minItems[K, D]) Pop() any { old := *s; n := len(old); x := old[n-1]; *s = old[:n-1]; return x }

// Push inserts an entry.
func (h *MinHeap[K, D]) Push(key K, data D) {
	heap.Push(&h.items, MinItem[K, D]{Key: key, Data: data})
}

// Top returns the entry with the smallest key. The heap must not be empty.
func (h *MinHeap[K, D]) Top() MinItem[K, D] { return h.items[0] }

// Pop removes the entry with the smallest key.
func (h *MinHeap[K, D]) Pop() { heap.Pop(&h.items) }

// Len returns the number of entries.
func (h *MinHeap[K, D]) Len() int { return len(h.items) }
