package hnsw

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/hnsw/pkg/distance"
	"github.com/liliang-cn/hnsw/pkg/graph"
	"github.com/liliang-cn/hnsw/pkg/model"
	"github.com/liliang-cn/hnsw/pkg/search"
)

// Result is one search hit: a node id and its distance to the query.
type Result = search.Result

// Hnsw is the index facade. It moves through a small lifecycle: vectors
// are accepted until Build or Fit seals the index into an immutable model;
// a sealed index only searches and saves. LoadModel produces a sealed
// index directly.
//
// AddData, SetConfigs and Build must be serialized by the caller. Single
// searches run on the facade's own searcher and must also be serialized;
// batch searches fan out over an internal pool and may be as wide as the
// caller likes.
type Hnsw struct {
	dim     int
	metric  distance.Metric
	ensureK bool

	builder  *graph.Builder
	model    *model.Model
	searcher *search.Searcher
	pool     *search.Pool

	logger Logger
}

// New creates an index over dim-dimensional vectors. metric is one of
// "angular", "L2" (alias "euclidean") or "dot".
func New(dim int, metric string) (*Hnsw, error) {
	m, err := distance.Parse(metric)
	if err != nil {
		return nil, wrapError("new", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return &Hnsw{dim: dim, metric: m, logger: NewStdLogger(LevelWarn)}, nil
}

// SetLogger replaces the index logger. The default logs warnings and
// errors to stderr.
func (h *Hnsw) SetLogger(l Logger) {
	if l == nil {
		l = NopLogger()
	}
	h.logger = l
}

// ensureBuilder lazily creates the builder; it fails once a model exists.
func (h *Hnsw) ensureBuilder() (*graph.Builder, error) {
	if h.model != nil {
		return nil, ErrIndexSealed
	}
	if h.builder == nil {
		b, err := graph.NewBuilder(h.dim, h.metric, h.logger.With("component", "builder"))
		if err != nil {
			return nil, err
		}
		h.builder = b
	}
	return h.builder, nil
}

// AddData appends a vector to the index. For the angular metric the
// vector is stored unit-normalized. Fails once the index is sealed or when
// the vector length differs from the index dimension.
func (h *Hnsw) AddData(vec []float32) error {
	b, err := h.ensureBuilder()
	if err != nil {
		return wrapError("add data", err)
	}
	if len(vec) != h.dim {
		return wrapError("add data",
			fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(vec), h.dim))
	}
	return wrapError("add data", b.AddData(vec))
}

// Build seals the index: it constructs the graph over all added vectors
// and replaces the builder with the immutable model. opts overrides the
// configured parameters when non-nil.
func (h *Hnsw) Build(opts *BuildOptions) error {
	if h.model != nil {
		return wrapError("build", ErrIndexSealed)
	}
	if h.builder == nil || h.builder.NumData() == 0 {
		return wrapError("build", ErrNoData)
	}
	if opts != nil {
		h.builder.Configure(graph.Params{
			M:                 opts.M,
			MaxM0:             opts.MaxM0,
			EfConstruction:    opts.EfConstruction,
			NumThreads:        opts.NumThreads,
			Mult:              opts.Mult,
			NeighborSelecting: opts.NeighborSelecting,
			GraphMerging:      opts.GraphMerging,
		})
		h.ensureK = opts.EnsureK
	}

	m, err := h.builder.Build()
	if err != nil {
		return wrapError("build", err)
	}
	h.model = m
	h.searcher = search.NewSearcher(m)
	h.pool = search.NewPool(m)
	h.builder = nil
	return nil
}

// Fit is Build with the parameters previously given to SetConfigs.
func (h *Hnsw) Fit() error {
	return h.Build(nil)
}

// SaveModel writes the sealed model to the named file.
func (h *Hnsw) SaveModel(path string) error {
	if h.model == nil {
		return wrapError("save model", ErrNoModel)
	}
	h.logger.Debug("saving model", "path", path, "bytes", len(h.model.Bytes()))
	return wrapError("save model", h.model.Save(path))
}

// LoadModel opens a model file, sealing the index. With useMmap the model
// reads directly from a read-only file mapping, so large indexes open
// without copying their bulk into memory.
func (h *Hnsw) LoadModel(path string, useMmap bool) error {
	m, err := model.Load(path, useMmap, h.dim)
	if err != nil {
		return wrapError("load model", err)
	}
	if old := h.model; old != nil {
		old.Unload()
	}
	h.logger.With("path", path).Debug("loaded model",
		"nodes", m.NumNodes(), "dimension", m.Dim(), "metric", m.Metric(), "mmap", useMmap)
	h.dim = m.Dim()
	h.metric = m.Metric()
	h.model = m
	h.searcher = search.NewSearcher(m)
	h.pool = search.NewPool(m)
	h.builder = nil
	return nil
}

// UnloadModel releases the model buffer and the searchers holding it.
// Only Load or a fresh build make the index searchable again.
func (h *Hnsw) UnloadModel() {
	if h.pool != nil {
		h.pool.Clear()
		h.pool = nil
	}
	h.searcher = nil
	if h.model != nil {
		h.model.Unload()
		h.model = nil
	}
}

// SearchByVector returns up to k nearest neighbors of q. A negative ef
// defaults to 50*k. With the EnsureK configuration and at least k indexed
// vectors, exactly k results come back.
func (h *Hnsw) SearchByVector(q []float32, k, ef int) ([]Result, error) {
	if h.model == nil {
		return nil, wrapError("search", ErrNoModel)
	}
	if len(q) != h.dim {
		return nil, wrapError("search",
			fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(q), h.dim))
	}
	return h.searcher.SearchByVector(q, k, ef, h.ensureK), nil
}

// SearchById returns up to k nearest neighbors of the stored vector id.
func (h *Hnsw) SearchById(id int32, k, ef int) ([]Result, error) {
	if h.model == nil {
		return nil, wrapError("search", ErrNoModel)
	}
	if id < 0 || int(id) >= h.model.NumNodes() {
		return nil, wrapError("search", fmt.Errorf("%w: %d", ErrInvalidNodeId, id))
	}
	return h.searcher.SearchById(id, k, ef), nil
}

// BatchSearchByVectors runs SearchByVector for every query across
// numThreads independent searchers. The returned slice is index-aligned
// with qs.
func (h *Hnsw) BatchSearchByVectors(qs [][]float32, k, ef, numThreads int) ([][]Result, error) {
	if h.model == nil {
		return nil, wrapError("batch search", ErrNoModel)
	}
	for i, q := range qs {
		if len(q) != h.dim {
			return nil, wrapError("batch search",
				fmt.Errorf("%w: query %d: got %d, want %d", ErrInvalidDimension, i, len(q), h.dim))
		}
	}
	out := make([][]Result, len(qs))
	h.batch(len(qs), numThreads, func(i int, s *search.Searcher) {
		out[i] = s.SearchByVector(qs[i], k, ef, h.ensureK)
	})
	return out, nil
}

// BatchSearchByIds runs SearchById for every id across numThreads
// independent searchers. The returned slice is index-aligned with ids.
func (h *Hnsw) BatchSearchByIds(ids []int32, k, ef, numThreads int) ([][]Result, error) {
	if h.model == nil {
		return nil, wrapError("batch search", ErrNoModel)
	}
	for _, id := range ids {
		if id < 0 || int(id) >= h.model.NumNodes() {
			return nil, wrapError("batch search", fmt.Errorf("%w: %d", ErrInvalidNodeId, id))
		}
	}
	out := make([][]Result, len(ids))
	h.batch(len(ids), numThreads, func(i int, s *search.Searcher) {
		out[i] = s.SearchById(ids[i], k, ef)
	})
	return out, nil
}

// batch fans n work items out over numThreads pooled searchers.
func (h *Hnsw) batch(n, numThreads int, fn func(i int, s *search.Searcher)) {
	if numThreads <= 0 {
		numThreads = 1
	}
	var g errgroup.Group
	g.SetLimit(numThreads)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			s := h.pool.Get()
			defer h.pool.Put(s)
			fn(i, s)
			return nil
		})
	}
	g.Wait()
}

// PrintDegreeDist logs the level-0 degree histogram of the sealed model.
func (h *Hnsw) PrintDegreeDist() error {
	if h.model == nil {
		return wrapError("degree dist", ErrNoModel)
	}
	hist := make([]int, h.model.MaxM0()+1)
	for id := int32(0); int(id) < h.model.NumNodes(); id++ {
		hist[len(h.model.Friends(id))]++
	}
	for degree, count := range hist {
		if count > 0 {
			h.logger.Info("degree distribution", "degree", degree, "nodes", count)
		}
	}
	return nil
}

// PrintConfigs logs the effective configuration.
func (h *Hnsw) PrintConfigs() error {
	if h.builder != nil {
		p := h.builder.Params()
		h.logger.Info("build configuration",
			"M", p.M, "MaxM0", p.MaxM0, "efConstruction", p.EfConstruction,
			"NumThread", p.NumThreads, "Mult", p.Mult,
			"NeighborSelecting", p.NeighborSelecting, "GraphMerging", p.GraphMerging,
			"EnsureK", h.ensureK)
		return nil
	}
	if h.model != nil {
		h.logger.Info("model configuration",
			"dimension", h.model.Dim(), "metric", h.model.Metric(),
			"nodes", h.model.NumNodes(), "maxLevel", h.model.MaxLevel(),
			"MaxM", h.model.MaxM(), "MaxM0", h.model.MaxM0(), "EnsureK", h.ensureK)
		return nil
	}
	return wrapError("print configs", ErrNoModel)
}

// Dim returns the index dimension.
func (h *Hnsw) Dim() int { return h.dim }

// Metric returns the index distance metric.
func (h *Hnsw) Metric() distance.Metric { return h.metric }

// NumData returns the number of vectors: added so far while accepting, or
// indexed once sealed.
func (h *Hnsw) NumData() int {
	if h.model != nil {
		return h.model.NumNodes()
	}
	if h.builder != nil {
		return h.builder.NumData()
	}
	return 0
}
