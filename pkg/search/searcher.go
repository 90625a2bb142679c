// Package search implements the hierarchical search procedure over a
// sealed model: greedy descent through the upper layers followed by a
// bounded beam search at level 0, with an optional ensure-k fallback that
// replays the recorded descent path.
package search

import (
	"container/heap"

	"github.com/liliang-cn/hnsw/internal/queue"
	"github.com/liliang-cn/hnsw/internal/visited"
	"github.com/liliang-cn/hnsw/pkg/distance"
	"github.com/liliang-cn/hnsw/pkg/model"
)

// Result is one search hit. For the dot metric Distance is the true inner
// product (negated back at the API boundary); for L2 and angular it is the
// raw distance.
type Result struct {
	Id       int32
	Distance float32
}

// Searcher runs queries against one model. A Searcher is single-threaded:
// it owns per-search scratch state and must never be shared across
// concurrent queries. Batch callers take independent instances from a Pool.
type Searcher struct {
	model  *model.Model
	metric distance.Metric
	dist   distance.Func

	vl         *visited.List
	normalized []float32
	path       []queue.Item // ensure-k greedy-descent entries
}

// NewSearcher creates a searcher bound to the model.
func NewSearcher(m *model.Model) *Searcher {
	return &Searcher{
		model:      m,
		metric:     m.Metric(),
		dist:       distance.FuncFor(m.Metric()),
		vl:         visited.NewList(m.NumNodes()),
		normalized: make([]float32, m.Dim()),
	}
}

// SearchByVector returns up to k hits for the query vector. A negative ef
// defaults to 50*k. With ensureK the searcher retries from recorded
// descent entries until k results are found or the path is exhausted.
func (s *Searcher) SearchByVector(qvec []float32, k, ef int, ensureK bool) []Result {
	if ef < 0 {
		ef = 50 * k
	}
	if ensureK && ef < k {
		// The ensure-k contract is exactly k results whenever k vectors are
		// reachable; the narrow V1 sweep cannot honor it, so the beam is
		// widened to k. Without ensureK the V1 path stays as-is.
		ef = k
	}

	qraw := qvec
	if s.metric == distance.Angular {
		distance.NormalizeInto(s.normalized, qvec)
		qraw = s.normalized
	}

	cur := s.model.EnterpointId()
	curDist := s.dist(qraw, s.model.Vector(cur))

	if ensureK {
		s.path = append(s.path[:0], queue.Item{Id: cur, Dist: curDist})
	}

	for level := s.model.MaxLevel(); level > 0; level-- {
		s.vl.Reset()
		s.vl.MarkVisited(cur)
		for changed := true; changed; {
			changed = false
			for _, fid := range s.model.HigherFriends(cur, level) {
				if s.vl.Visited(fid) {
					continue
				}
				s.vl.MarkVisited(fid)
				d := s.dist(qraw, s.model.Vector(fid))
				if d < curDist {
					curDist = d
					cur = fid
					changed = true
					if ensureK {
						s.path = append(s.path, queue.Item{Id: cur, Dist: curDist})
					}
				}
			}
		}
	}

	var out []Result
	if ensureK {
		for len(out) < k && len(s.path) > 0 {
			seed := s.path[len(s.path)-1]
			s.path = s.path[:len(s.path)-1]
			out = s.searchFrom(seed.Id, seed.Dist, qraw, k, ef, true, out)
		}
	} else {
		out = s.searchFrom(cur, curDist, qraw, k, ef, false, nil)
	}
	return s.finish(out)
}

// SearchById returns up to k hits for the stored vector with the given id.
// A negative ef defaults to 50*k. The ensure-k fallback does not apply to
// id queries.
func (s *Searcher) SearchById(id int32, k, ef int) []Result {
	if ef < 0 {
		ef = 50 * k
	}
	out := s.searchFrom(id, 0.0, s.model.Vector(id), k, ef, false, nil)
	return s.finish(out)
}

// finish converts distances back to caller units at the API boundary.
func (s *Searcher) finish(out []Result) []Result {
	if s.metric == distance.Dot {
		for i := range out {
			out[i].Distance = -out[i].Distance
		}
	}
	return out
}

// searchFrom runs the level-0 search seeded at (seed, seedDist). The V1
// variant serves ef < k and may return fewer than k results even when more
// exist; V2 is the standard beam search. Prior results (ensure-k replays)
// are folded into the visited set so replays cannot produce duplicates.
func (s *Searcher) searchFrom(seed int32, seedDist float32, qraw []float32, k, ef int,
	ensureK bool, prior []Result) []Result {
	if ef < k {
		return s.searchV1(seed, seedDist, qraw, k, ef, ensureK, prior)
	}
	return s.searchV2(seed, seedDist, qraw, k, ef, ensureK, prior)
}

func (s *Searcher) searchV2(seed int32, seedDist float32, qraw []float32, k, ef int,
	ensureK bool, prior []Result) []Result {
	var candidates, visitedNodes queue.CloserFirst
	var found queue.FloatMaxHeap

	heap.Push(&candidates, queue.Item{Id: seed, Dist: seedDist})
	heap.Push(&found, seedDist)

	s.vl.Reset()
	s.vl.MarkVisited(seed)

	if ensureK && len(prior) > 0 {
		rest, ok := s.seedFromPrior(seed, prior, &visitedNodes)
		if !ok {
			return rest
		}
		prior = rest
	}

	for candidates.Len() > 0 {
		c := candidates.Top()
		if c.Dist > found.Top() {
			break
		}
		heap.Pop(&candidates)
		heap.Push(&visitedNodes, c)

		for _, fid := range s.model.Friends(c.Id) {
			if s.vl.Visited(fid) {
				continue
			}
			s.vl.MarkVisited(fid)
			d := s.dist(qraw, s.model.Vector(fid))
			if d < found.Top() || found.Len() < ef {
				heap.Push(&candidates, queue.Item{Id: fid, Dist: d})
				heap.Push(&found, d)
				if found.Len() > ef {
					heap.Pop(&found)
				}
			}
		}
	}

	return mergeResults(k, &candidates, &visitedNodes, prior)
}

func (s *Searcher) searchV1(seed int32, seedDist float32, qraw []float32, k, ef int,
	ensureK bool, prior []Result) []Result {
	var candidates, visitedNodes queue.CloserFirst

	heap.Push(&candidates, queue.Item{Id: seed, Dist: seedDist})

	s.vl.Reset()
	s.vl.MarkVisited(seed)

	if ensureK && len(prior) > 0 {
		rest, ok := s.seedFromPrior(seed, prior, &visitedNodes)
		if !ok {
			return rest
		}
		prior = rest
	}

	farthest := seedDist
	foundCnt := 1
	visitedCnt := 0

	for candidates.Len() > 0 && visitedCnt < ef {
		c := heap.Pop(&candidates).(queue.Item)
		heap.Push(&visitedNodes, c)
		visitedCnt++

		minDist := farthest
		for _, fid := range s.model.Friends(c.Id) {
			if s.vl.Visited(fid) {
				continue
			}
			s.vl.MarkVisited(fid)
			d := s.dist(qraw, s.model.Vector(fid))
			if d < minDist || foundCnt < ef {
				heap.Push(&candidates, queue.Item{Id: fid, Dist: d})
				if d > farthest {
					farthest = d
				}
				foundCnt++
			}
		}
	}

	return mergeResults(k, &candidates, &visitedNodes, prior)
}

// seedFromPrior folds the previous replay's results into visitedNodes and
// the visit marker. When the new seed already appears among them the replay
// is pointless: the prior results come back unchanged with ok=false.
func (s *Searcher) seedFromPrior(seed int32, prior []Result, visitedNodes *queue.CloserFirst) ([]Result, bool) {
	for _, r := range prior {
		if r.Id == seed {
			return prior, false
		}
	}
	for _, r := range prior {
		s.vl.MarkVisited(r.Id)
		heap.Push(visitedNodes, queue.Item{Id: r.Id, Dist: r.Distance})
	}
	return prior[:0], true
}

// mergeResults drains the two min-heaps in ascending distance order,
// appending to out until k results are collected.
func mergeResults(k int, candidates, visitedNodes *queue.CloserFirst, out []Result) []Result {
	for len(out) < k {
		switch {
		case candidates.Len() > 0 && visitedNodes.Len() > 0:
			if candidates.Top().Dist < visitedNodes.Top().Dist {
				c := heap.Pop(candidates).(queue.Item)
				out = append(out, Result{Id: c.Id, Distance: c.Dist})
			} else {
				v := heap.Pop(visitedNodes).(queue.Item)
				out = append(out, Result{Id: v.Id, Distance: v.Dist})
			}
		case candidates.Len() > 0:
			c := heap.Pop(candidates).(queue.Item)
			out = append(out, Result{Id: c.Id, Distance: c.Dist})
		case visitedNodes.Len() > 0:
			v := heap.Pop(visitedNodes).(queue.Item)
			out = append(out, Result{Id: v.Id, Distance: v.Dist})
		default:
			return out
		}
	}
	return out
}
