package search

import (
	"sync"

	"github.com/liliang-cn/hnsw/pkg/model"
)

// Pool hands out Searcher instances for batch queries. Each concurrent
// query needs its own instance; returning one makes its scratch state
// reusable by the next caller.
type Pool struct {
	mu    sync.Mutex
	model *model.Model
	free  []*Searcher
}

// NewPool creates an empty pool over the model.
func NewPool(m *model.Model) *Pool {
	return &Pool{model: m}
}

// Get returns a free searcher, creating one when the pool is empty.
func (p *Pool) Get() *Searcher {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return s
	}
	p.mu.Unlock()
	return NewSearcher(p.model)
}

// Put returns a searcher to the pool.
func (p *Pool) Put(s *Searcher) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
}

// Clear drops all pooled searchers.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.free = nil
	p.mu.Unlock()
}
