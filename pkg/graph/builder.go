// Package graph builds the multi-layer proximity graph: parallel insertion
// with per-node locking, degree-capped linking, and the optional
// reverse-order rebuild that merges level-0 edges.
package graph

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/hnsw/internal/queue"
	"github.com/liliang-cn/hnsw/internal/visited"
	"github.com/liliang-cn/hnsw/pkg/distance"
	"github.com/liliang-cn/hnsw/pkg/model"
)

// MergePolicy selects the post-processing applied after the first build.
type MergePolicy int

const (
	// MergeSkip performs no post-processing.
	MergeSkip MergePolicy = iota
	// MergeLevel0 rebuilds the graph in reverse insertion order and merges
	// the level-0 edges of both graphs. Doubles build time; typically
	// improves recall on smaller datasets.
	MergeLevel0
)

// String returns the configuration name of the policy.
func (p MergePolicy) String() string {
	if p == MergeLevel0 {
		return "merge_level0"
	}
	return "skip"
}

// Params are the tunables of a build. Non-positive numeric fields passed to
// Builder.Configure keep their current values, except Mult, which is then
// re-derived as 1/ln(M); the two policy fields always replace the current
// ones.
type Params struct {
	M                 int
	MaxM              int
	MaxM0             int
	EfConstruction    int
	NumThreads        int
	Mult              float64
	NeighborSelecting SelectPolicy
	GraphMerging      MergePolicy
}

// DefaultParams returns the builder defaults.
func DefaultParams() Params {
	return Params{
		M:              12,
		MaxM:           12,
		MaxM0:          24,
		EfConstruction: 150,
		NumThreads:     runtime.GOMAXPROCS(0),
		Mult:           1 / math.Log(12),
	}
}

// Logger is the subset of the facade logger the builder reports through.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
}

// Builder accumulates vectors and constructs the graph. It is not safe for
// concurrent use: the caller serializes AddData with Build.
type Builder struct {
	dim    int
	metric distance.Metric
	dist   distance.Func
	params Params
	logger Logger

	data  [][]float32
	nodes []*Node

	// maxLevel and enterpoint are written under maxLevelMu; lock-free
	// readers may see a slightly stale pair, which the top-down descent
	// self-corrects.
	maxLevel   atomic.Int32
	enterpoint atomic.Int32
	maxLevelMu sync.Mutex
}

// NewBuilder creates a builder for dim-dimensional vectors under the given
// metric with default parameters.
func NewBuilder(dim int, metric distance.Metric, logger Logger) (*Builder, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("invalid distance metric %d", metric)
	}
	return &Builder{
		dim:    dim,
		metric: metric,
		dist:   distance.FuncFor(metric),
		params: DefaultParams(),
		logger: logger,
	}, nil
}

// Configure overrides the build parameters. Non-positive numeric fields
// keep their current values; M also sets MaxM, and a non-positive Mult is
// re-derived as 1/ln(M).
func (b *Builder) Configure(p Params) {
	if p.M > 0 {
		b.params.M = p.M
		b.params.MaxM = p.M
	}
	if p.MaxM0 > 0 {
		b.params.MaxM0 = p.MaxM0
	}
	if p.EfConstruction > 0 {
		b.params.EfConstruction = p.EfConstruction
	}
	if p.NumThreads > 0 {
		b.params.NumThreads = p.NumThreads
	}
	if p.Mult > 0 {
		b.params.Mult = p.Mult
	} else {
		b.params.Mult = 1 / math.Log(float64(b.params.M))
	}
	b.params.NeighborSelecting = p.NeighborSelecting
	b.params.GraphMerging = p.GraphMerging
}

// Params returns the effective build parameters.
func (b *Builder) Params() Params { return b.params }

// AddData appends a vector. For angular indexes the vector is stored
// unit-normalized.
func (b *Builder) AddData(vec []float32) error {
	if len(vec) != b.dim {
		return fmt.Errorf("invalid dimension %d, index dimension is %d", len(vec), b.dim)
	}
	if b.metric == distance.Angular {
		b.data = append(b.data, distance.Normalize(vec))
		return nil
	}
	owned := make([]float32, len(vec))
	copy(owned, vec)
	b.data = append(b.data, owned)
	return nil
}

// NumData returns the number of vectors added so far.
func (b *Builder) NumData() int { return len(b.data) }

// Build constructs the graph over all added vectors and serializes it into
// an immutable model. The builder's nodes and data are released afterwards.
func (b *Builder) Build() (*model.Model, error) {
	if len(b.data) == 0 {
		return nil, fmt.Errorf("no data to fit")
	}

	if err := b.buildGraph(false); err != nil {
		return nil, err
	}
	if b.params.GraphMerging == MergeLevel0 {
		b.logger.Info("graph post processing", "mode", MergeLevel0.String())
		backup := b.nodes
		b.nodes = nil
		if err := b.buildGraph(true); err != nil {
			return nil, err
		}
		if err := b.mergeEdges(backup); err != nil {
			return nil, err
		}
	}

	b.logger.Debug("finalizing model",
		"nodes", len(b.nodes), "maxLevel", b.maxLevel.Load(), "enterpoint", b.enterpoint.Load())

	modelNodes := make([]model.Node, len(b.nodes))
	for i, n := range b.nodes {
		modelNodes[i] = n
	}
	m, err := model.Generate(modelNodes, b.enterpoint.Load(), b.params.MaxM, b.params.MaxM0,
		b.metric, int(b.maxLevel.Load()), b.dim)
	if err != nil {
		return nil, err
	}

	b.nodes = nil
	b.data = nil
	return m, nil
}

// scheduling chunk for the parallel insertion loop.
const buildChunk = 128

// buildGraph inserts every vector. With reverse set, ids are inserted in
// descending order (used by the merge_level0 rebuild, which draws a fresh
// random level sequence).
func (b *Builder) buildGraph(reverse bool) error {
	n := len(b.data)
	b.nodes = make([]*Node, n)
	rngs := b.workerRngs()

	level := b.randomLevel(rngs[0])
	first := newNode(0, b.data[0], level, b.params.MaxM, b.params.MaxM0)
	b.nodes[0] = first
	b.maxLevel.Store(int32(level))
	b.enterpoint.Store(0)
	if n == 1 {
		return nil
	}

	var next atomic.Int64
	var g errgroup.Group
	for w := 0; w < b.params.NumThreads; w++ {
		rng := rngs[w]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("insertion worker failed: %v", r)
				}
			}()
			vl := visited.NewList(n)
			for {
				start := int(next.Add(buildChunk)) - buildChunk
				if start >= n-1 {
					return nil
				}
				end := min(start+buildChunk, n-1)
				for k := start; k < end; k++ {
					id := int32(1 + k)
					if reverse {
						id = int32(n - 1 - k)
					}
					level := b.randomLevel(rng)
					qnode := newNode(id, b.data[id], level, b.params.MaxM, b.params.MaxM0)
					b.nodes[id] = qnode
					b.insertNode(qnode, vl)
				}
			}
		})
	}
	return g.Wait()
}

// workerRngs returns one RNG per worker, seeded from a fixed LCG chain
// over the worker index so single-threaded builds are reproducible.
func (b *Builder) workerRngs() []*rand.Rand {
	rngs := make([]*rand.Rand, b.params.NumThreads)
	g := int32(17)
	for i := range rngs {
		g = 214013*g + 2531011
		rngs[i] = rand.New(rand.NewSource(int64((g >> 16) & 0x7fff)))
	}
	return rngs
}

// randomLevel draws a node level from the exponential distribution
// floor(-ln(r) * mult), with an epsilon floor so r never reaches log(0).
func (b *Builder) randomLevel(rng *rand.Rand) int {
	r := rng.Float64()
	if r < 2.220446049250313e-16 {
		r = 1.0
	}
	return int(-math.Log(r) * b.params.Mult)
}

// insertNode wires qnode into every layer from min(maxLevel, its level)
// down to 0. Insertions that raise the graph's max level hold the global
// max-level lock for their whole duration.
func (b *Builder) insertNode(qnode *Node, vl *visited.List) {
	curLevel := qnode.level

	locked := false
	if curLevel > int(b.maxLevel.Load()) {
		b.maxLevelMu.Lock()
		locked = true
	}

	maxLevelCopy := int(b.maxLevel.Load())
	ep := b.nodes[b.enterpoint.Load()]

	if curLevel < maxLevelCopy {
		ep = b.greedyDescend(qnode.vec, ep, maxLevelCopy, curLevel)
	}

	for i := min(maxLevelCopy, curLevel); i >= 0; i-- {
		result := b.searchAtLayer(qnode.vec, ep, i, vl)
		b.selectNeighbors(&result, b.params.M, b.params.NeighborSelecting, false)
		for result.Len() > 0 {
			top := heap.Pop(&result).(queue.Item)
			b.link(b.nodes[top.Id], qnode, i)
			b.link(qnode, b.nodes[top.Id], i)
		}
	}

	if curLevel > int(b.maxLevel.Load()) {
		b.enterpoint.Store(qnode.id)
		b.maxLevel.Store(int32(curLevel))
	}
	if locked {
		b.maxLevelMu.Unlock()
	}
}

// greedyDescend walks from ep down to level lowest+1, at each level moving
// to any neighbor closer to qvec until no improvement remains.
func (b *Builder) greedyDescend(qvec []float32, ep *Node, top, lowest int) *Node {
	cur := ep
	curDist := b.dist(qvec, cur.vec)
	scratch := make([]int32, 0, b.params.MaxM+1)
	for i := top; i > lowest; i-- {
		for changed := true; changed; {
			changed = false
			scratch = cur.friendsSnapshot(i, scratch)
			for _, fid := range scratch {
				d := b.dist(qvec, b.nodes[fid].vec)
				if d < curDist {
					curDist = d
					cur = b.nodes[fid]
					changed = true
				}
			}
		}
	}
	return cur
}

// searchAtLayer runs the ef-construction beam search at one layer and
// returns the bounded best-so-far set.
func (b *Builder) searchAtLayer(qvec []float32, ep *Node, level int, vl *visited.List) queue.FurtherFirst {
	ef := b.params.EfConstruction
	var result queue.FurtherFirst
	var candidates queue.CloserFirst

	d := b.dist(qvec, ep.vec)
	heap.Push(&result, queue.Item{Id: ep.id, Dist: d})
	heap.Push(&candidates, queue.Item{Id: ep.id, Dist: d})

	vl.Reset()
	vl.MarkVisited(ep.id)

	scratch := make([]int32, 0, b.params.MaxM0+1)
	for candidates.Len() > 0 {
		c := candidates.Top()
		if c.Dist > result.Top().Dist {
			break
		}
		heap.Pop(&candidates)

		scratch = b.nodes[c.Id].friendsSnapshot(level, scratch)
		for _, fid := range scratch {
			if vl.Visited(fid) {
				continue
			}
			vl.MarkVisited(fid)
			d := b.dist(qvec, b.nodes[fid].vec)
			if result.Len() < ef || result.Top().Dist > d {
				heap.Push(&result, queue.Item{Id: fid, Dist: d})
				heap.Push(&candidates, queue.Item{Id: fid, Dist: d})
				if result.Len() > ef {
					heap.Pop(&result)
				}
			}
		}
	}
	return result
}

// link appends tgt to src's adjacency at level and shrinks the list back
// under its cap when it overflows. The shrink removes at least one entry:
// naive selection drops the single farthest neighbor, the heuristics
// reselect to one fewer than the overflowed size.
func (b *Builder) link(src, tgt *Node, level int) {
	src.mu.Lock()
	defer src.mu.Unlock()

	friends := append(src.friends[level], tgt.id)
	src.friends[level] = friends

	limit := b.params.MaxM
	if level == 0 {
		limit = b.params.MaxM0
	}
	if len(friends) <= limit {
		return
	}

	if b.params.NeighborSelecting == SelectNaive {
		maxI := 0
		maxD := b.dist(src.vec, b.nodes[friends[0]].vec)
		for i := 1; i < len(friends); i++ {
			d := b.dist(src.vec, b.nodes[friends[i]].vec)
			if d > maxD {
				maxD = d
				maxI = i
			}
		}
		src.friends[level] = append(friends[:maxI], friends[maxI+1:]...)
		return
	}

	var pruned queue.FurtherFirst
	for _, fid := range friends {
		heap.Push(&pruned, queue.Item{Id: fid, Dist: b.dist(src.vec, b.nodes[fid].vec)})
	}
	b.selectNeighbors(&pruned, pruned.Len()-1, b.params.NeighborSelecting, false)
	friends = friends[:0]
	for pruned.Len() > 0 {
		friends = append(friends, heap.Pop(&pruned).(queue.Item).Id)
	}
	src.friends[level] = friends
}

// mergeEdges replaces every node's level-0 adjacency with the best MaxM0
// edges from the union of the current graph and prev, scored by distance
// to the node's vector. The selection runs save-remains with the
// nearest-neighbor prefix so exact duplicates survive the prune.
func (b *Builder) mergeEdges(prev []*Node) error {
	n := len(b.data)
	var next atomic.Int64
	var g errgroup.Group
	for w := 0; w < b.params.NumThreads; w++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("merge worker failed: %v", r)
				}
			}()
			seen := make(map[int32]struct{}, 2*b.params.MaxM0)
			union := make([]int32, 0, 2*b.params.MaxM0)
			for {
				start := int(next.Add(buildChunk)) - buildChunk
				if start >= n {
					return nil
				}
				end := min(start+buildChunk, n)
				for k := start; k < end; k++ {
					id := k
					clear(seen)
					union = union[:0]
					for _, fid := range b.nodes[id].friends[0] {
						if _, dup := seen[fid]; !dup {
							seen[fid] = struct{}{}
							union = append(union, fid)
						}
					}
					for _, fid := range prev[id].friends[0] {
						if _, dup := seen[fid]; !dup {
							seen[fid] = struct{}{}
							union = append(union, fid)
						}
					}

					var merged queue.FurtherFirst
					for _, fid := range union {
						heap.Push(&merged, queue.Item{Id: fid, Dist: b.dist(b.data[fid], b.data[id])})
					}
					b.selectNeighbors(&merged, b.params.MaxM0, SelectHeuristicSaveRemains, true)

					friends := make([]int32, 0, merged.Len())
					for merged.Len() > 0 {
						friends = append(friends, heap.Pop(&merged).(queue.Item).Id)
					}
					b.nodes[id].friends[0] = friends
				}
			}
		})
	}
	return g.Wait()
}
