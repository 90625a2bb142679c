package graph

import (
	"container/heap"

	"github.com/liliang-cn/hnsw/internal/queue"
)

// SelectPolicy chooses how candidate neighbors are pruned to the degree cap.
type SelectPolicy int

const (
	// SelectHeuristic keeps candidates that are closer to the insertion
	// point than to any already-kept candidate (HNSW Algorithm 4).
	SelectHeuristic SelectPolicy = iota
	// SelectHeuristicSaveRemains is SelectHeuristic, topping the result up
	// with the nearest skipped candidates when fewer than m survive.
	SelectHeuristicSaveRemains
	// SelectNaive keeps the m nearest candidates.
	SelectNaive
)

// String returns the configuration name of the policy.
func (p SelectPolicy) String() string {
	switch p {
	case SelectHeuristicSaveRemains:
		return "heuristic_save_remains"
	case SelectNaive:
		return "naive"
	default:
		return "heuristic"
	}
}

// selectNeighbors prunes result in place to at most m survivors using the
// given policy. Candidate distances in result are relative to the
// insertion point the queue was collected for.
func (b *Builder) selectNeighbors(result *queue.FurtherFirst, m int, policy SelectPolicy, nnPrefix bool) {
	switch policy {
	case SelectNaive:
		for result.Len() > m {
			heap.Pop(result)
		}
	case SelectHeuristicSaveRemains:
		b.heuristicSelect(result, m, true, nnPrefix)
	default:
		b.heuristicSelect(result, m, false, nnPrefix)
	}
}

// heuristicSelect implements Algorithm 4 of the HNSW paper. Candidates are
// considered nearest-first; one is picked iff it is closer to the insertion
// point than to every already-picked candidate. With saveRemains, leftover
// slots are filled from the skipped candidates in nearest-first order.
// With nnPrefix, the first m/4 slots go to the unconditional nearest
// candidates, which improves recall of near-duplicates.
func (b *Builder) heuristicSelect(result *queue.FurtherFirst, m int, saveRemains, nnPrefix bool) {
	if result.Len() < m {
		return
	}

	// Drain furthest-first; the tail of neighbors is the nearest candidate.
	neighbors := make([]queue.Item, 0, result.Len())
	for result.Len() > 0 {
		neighbors = append(neighbors, heap.Pop(result).(queue.Item))
	}

	nn := 0
	if nnPrefix {
		nn = m / 4
	}

	picked := make([]queue.Item, 0, m)
	var skipped queue.MinHeap[float32, int32]
	for i := len(neighbors) - 1; i >= 0; i-- {
		c := neighbors[i]
		if len(picked) < nn {
			picked = append(picked, c)
			if len(picked) == m {
				break
			}
			continue
		}

		keep := true
		cvec := b.nodes[c.Id].vec
		for _, p := range picked {
			if b.dist(cvec, b.nodes[p.Id].vec) < c.Dist {
				keep = false
				break
			}
		}
		if keep {
			picked = append(picked, c)
		} else if saveRemains {
			skipped.Push(c.Dist, c.Id)
		}
		if len(picked) == m {
			break
		}
	}

	for _, p := range picked {
		heap.Push(result, p)
	}
	if saveRemains {
		for result.Len() < m && skipped.Len() > 0 {
			it := skipped.Top()
			skipped.Pop()
			heap.Push(result, queue.Item{Id: it.Data, Dist: it.Key})
		}
	}
}
