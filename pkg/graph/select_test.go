package graph

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/hnsw/internal/queue"
	"github.com/liliang-cn/hnsw/pkg/distance"
)

// selectorFixture builds a bare builder whose nodes sit on a line, so the
// heuristic's occlusion test is easy to reason about: point i is at (i, 0).
func selectorFixture(t *testing.T, coords []float32) *Builder {
	t.Helper()
	b, err := NewBuilder(2, distance.L2, nopLog{})
	require.NoError(t, err)
	b.nodes = make([]*Node, len(coords))
	for i, x := range coords {
		b.nodes[i] = newNode(int32(i), []float32{x, 0}, 0, b.params.MaxM, b.params.MaxM0)
	}
	return b
}

type nopLog struct{}

func (nopLog) Debug(string, ...any) {}
func (nopLog) Info(string, ...any)  {}

// candidatesFor fills a FurtherFirst with distances from the query point
// (qx, 0) to every node.
func candidatesFor(b *Builder, qx float32) queue.FurtherFirst {
	var q queue.FurtherFirst
	for _, n := range b.nodes {
		d := distance.L2Distance([]float32{qx, 0}, n.vec)
		heap.Push(&q, queue.Item{Id: n.id, Dist: d})
	}
	return q
}

func drain(q *queue.FurtherFirst) []int32 {
	var ids []int32
	for q.Len() > 0 {
		ids = append(ids, heap.Pop(q).(queue.Item).Id)
	}
	return ids
}

func TestNaiveSelectKeepsNearest(t *testing.T) {
	b := selectorFixture(t, []float32{1, 2, 3, 4, 5, 6})
	cands := candidatesFor(b, 0)
	b.selectNeighbors(&cands, 3, SelectNaive, false)

	ids := drain(&cands)
	assert.ElementsMatch(t, []int32{0, 1, 2}, ids)
}

func TestHeuristicOcclusionSkipsChains(t *testing.T) {
	// Points 1, 2, 3 on a line from the query at 0: point at x=2 is closer
	// to the picked x=1 than to the query, so it is occluded; same for 3.
	b := selectorFixture(t, []float32{1, 2, 3})
	cands := candidatesFor(b, 0)
	b.selectNeighbors(&cands, 2, SelectHeuristic, false)

	ids := drain(&cands)
	assert.Equal(t, []int32{0}, ids, "only the nearest survives occlusion")
}

func TestHeuristicSaveRemainsFillsToM(t *testing.T) {
	b := selectorFixture(t, []float32{1, 2, 3, 4})
	cands := candidatesFor(b, 0)
	b.selectNeighbors(&cands, 3, SelectHeuristicSaveRemains, false)

	ids := drain(&cands)
	require.Len(t, ids, 3, "save-remains tops the selection up to m")
	assert.Contains(t, ids, int32(0))
	// Fill order is nearest-first among the skipped.
	assert.ElementsMatch(t, []int32{2, 1, 0}, ids)
}

func TestHeuristicSmallInputUntouched(t *testing.T) {
	b := selectorFixture(t, []float32{1, 5})
	cands := candidatesFor(b, 0)
	b.selectNeighbors(&cands, 5, SelectHeuristic, false)
	assert.Equal(t, 2, cands.Len())
}

func TestHeuristicOutputSizeExactlyM(t *testing.T) {
	coords := make([]float32, 40)
	for i := range coords {
		coords[i] = float32(i + 1)
	}
	b := selectorFixture(t, coords)

	for _, m := range []int{1, 4, 10} {
		cands := candidatesFor(b, 0)
		b.selectNeighbors(&cands, m, SelectHeuristicSaveRemains, false)
		assert.Equal(t, m, cands.Len(), "m=%d", m)
	}
}

func TestHeuristicNnPrefixKeepsDuplicates(t *testing.T) {
	// Two candidates at the same spot as the nearest: plain heuristic
	// occludes them, the nn prefix admits m/4 nearest unconditionally.
	b, err := NewBuilder(2, distance.L2, nopLog{})
	require.NoError(t, err)
	coords := [][]float32{{1, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}, {6, 0}, {7, 0}}
	b.nodes = make([]*Node, len(coords))
	for i, v := range coords {
		b.nodes[i] = newNode(int32(i), v, 0, b.params.MaxM, b.params.MaxM0)
	}

	var cands queue.FurtherFirst
	for _, n := range b.nodes {
		heap.Push(&cands, queue.Item{Id: n.id, Dist: distance.L2Distance([]float32{0, 0}, n.vec)})
	}
	b.selectNeighbors(&cands, 8, SelectHeuristic, true)

	ids := drain(&cands)
	assert.Contains(t, ids, int32(0))
	assert.Contains(t, ids, int32(1), "duplicate of the nearest survives via the nn prefix")
}
