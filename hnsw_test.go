package hnsw

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dim int, metric string) *Hnsw {
	t.Helper()
	h, err := New(dim, metric)
	require.NoError(t, err)
	h.SetLogger(NopLogger())
	return h
}

// Three vectors under angular distance; ids 0 and 2 are identical.
func threeVectorAngular(t *testing.T) *Hnsw {
	t.Helper()
	h := newTestIndex(t, 3, "angular")
	require.NoError(t, h.AddData([]float32{0, 0, 1}))
	require.NoError(t, h.AddData([]float32{0, 1, 0}))
	require.NoError(t, h.AddData([]float32{0, 0, 1}))
	require.NoError(t, h.Build(&BuildOptions{M: 5, MaxM0: 10}))
	return h
}

func TestThreeVectorAngular(t *testing.T) {
	h := threeVectorAngular(t)

	res, err := h.SearchByVector([]float32{3, 2, 1}, 3, 30)
	require.NoError(t, err)
	require.Len(t, res, 3)

	// The query leans most toward [0,1,0]; the two identical [0,0,1]
	// vectors tie and fill the remaining ranks in either order.
	assert.Equal(t, int32(1), res[0].Id)
	assert.ElementsMatch(t, []int32{0, 2}, []int32{res[1].Id, res[2].Id})
	assert.Equal(t, res[1].Distance, res[2].Distance, "identical vectors tie")
}

func TestSelfQueryL2(t *testing.T) {
	h := newTestIndex(t, 3, "L2")
	require.NoError(t, h.AddData([]float32{2, 1, 0}))
	require.NoError(t, h.AddData([]float32{1, 2, 0}))
	require.NoError(t, h.AddData([]float32{0, 0, 1}))
	require.NoError(t, h.Build(&BuildOptions{M: 5, MaxM0: 10, EfConstruction: 150, NumThreads: 1}))

	res, err := h.SearchById(0, 3, 30)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2}, resultIds(res))

	res, err = h.SearchById(1, 3, 30)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 0, 2}, resultIds(res))
}

func resultIds(rs []Result) []int32 {
	out := make([]int32, len(rs))
	for i, r := range rs {
		out[i] = r.Id
	}
	return out
}

func TestPersistenceRoundTrip(t *testing.T) {
	h := threeVectorAngular(t)
	want, err := h.SearchByVector([]float32{3, 2, 1}, 3, 30)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "t.hnsw")
	require.NoError(t, h.SaveModel(path))

	fresh := newTestIndex(t, 0, "angular")
	require.NoError(t, fresh.LoadModel(path, true))

	got, err := fresh.SearchByVector([]float32{3, 2, 1}, 3, 30)
	require.NoError(t, err)
	assert.Equal(t, want, got, "loaded index must answer bitwise-identically")

	fresh.UnloadModel()
	_, err = fresh.SearchByVector([]float32{3, 2, 1}, 3, 30)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestRoundTripManyQueries(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h := newTestIndex(t, 4, "L2")
	for i := 0; i < 250; i++ {
		require.NoError(t, h.AddData([]float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}))
	}
	require.NoError(t, h.Build(&BuildOptions{M: 6, MaxM0: 12, EfConstruction: 60, NumThreads: 4}))

	path := filepath.Join(t.TempDir(), "many.hnsw")
	require.NoError(t, h.SaveModel(path))

	for _, useMmap := range []bool{false, true} {
		fresh := newTestIndex(t, 0, "L2")
		require.NoError(t, fresh.LoadModel(path, useMmap))
		qrng := rand.New(rand.NewSource(2))
		for i := 0; i < 25; i++ {
			q := []float32{qrng.Float32(), qrng.Float32(), qrng.Float32(), qrng.Float32()}
			want, err := h.SearchByVector(q, 5, 50)
			require.NoError(t, err)
			got, err := fresh.SearchByVector(q, 5, 50)
			require.NoError(t, err)
			assert.Equal(t, want, got, "query %d mmap=%v", i, useMmap)
		}
		fresh.UnloadModel()
	}
}

func TestEnsureKBoundary(t *testing.T) {
	h := newTestIndex(t, 2, "L2")
	require.NoError(t, h.AddData([]float32{1, 0}))
	require.NoError(t, h.AddData([]float32{0, 1}))
	require.NoError(t, h.SetConfigs(map[string]string{"EnsureK": "true"}))
	require.NoError(t, h.Build(&BuildOptions{M: 5, MaxM0: 10, EnsureK: true}))

	res, err := h.SearchByVector([]float32{1, 1}, 5, 1)
	require.NoError(t, err)
	assert.Len(t, res, 2, "capped at N")
}

func TestDimensionMismatch(t *testing.T) {
	h := newTestIndex(t, 3, "L2")
	err := h.AddData([]float32{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestStateMachine(t *testing.T) {
	h := threeVectorAngular(t)

	// Sealed: no more data, no second build.
	assert.ErrorIs(t, h.AddData([]float32{1, 0, 0}), ErrIndexSealed)
	assert.ErrorIs(t, h.Build(nil), ErrIndexSealed)

	// Fresh index: no data to fit, nothing to search or save.
	empty := newTestIndex(t, 3, "L2")
	assert.ErrorIs(t, empty.Fit(), ErrNoData)
	_, err := empty.SearchByVector([]float32{1, 2, 3}, 1, 10)
	assert.ErrorIs(t, err, ErrNoModel)
	assert.ErrorIs(t, empty.SaveModel("x"), ErrNoModel)
}

func TestSearchByIdOutOfRange(t *testing.T) {
	h := threeVectorAngular(t)
	_, err := h.SearchById(99, 1, 10)
	assert.ErrorIs(t, err, ErrInvalidNodeId)
	_, err = h.SearchById(-1, 1, 10)
	assert.ErrorIs(t, err, ErrInvalidNodeId)
}

func TestSetConfigs(t *testing.T) {
	h := newTestIndex(t, 3, "L2")
	require.NoError(t, h.SetConfigs(map[string]string{
		"M":                 "8",
		"MaxM0":             "16",
		"efConstruction":    "100",
		"NumThread":         "2",
		"Mult":              "0.5",
		"NeighborSelecting": "heuristic_save_remains",
		"GraphMerging":      "merge_level0",
		"EnsureK":           "false",
	}))

	tests := []map[string]string{
		{"Unknown": "1"},
		{"M": "twelve"},
		{"NeighborSelecting": "closest"},
		{"GraphMerging": "merge_all"},
		{"Mult": "fast"},
	}
	for _, cfg := range tests {
		assert.ErrorIs(t, h.SetConfigs(cfg), ErrInvalidConfig, "%v", cfg)
	}
}

func TestFitUsesConfigs(t *testing.T) {
	h := newTestIndex(t, 2, "L2")
	require.NoError(t, h.SetConfigs(map[string]string{
		"M": "4", "MaxM0": "8", "efConstruction": "40", "NumThread": "1",
	}))
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 50; i++ {
		require.NoError(t, h.AddData([]float32{rng.Float32(), rng.Float32()}))
	}
	require.NoError(t, h.Fit())

	res, err := h.SearchByVector([]float32{0.5, 0.5}, 3, 30)
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

func TestInvalidMetric(t *testing.T) {
	_, err := New(3, "cosine")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBatchSearchByVectors(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	h := newTestIndex(t, 3, "L2")
	for i := 0; i < 200; i++ {
		require.NoError(t, h.AddData([]float32{rng.Float32(), rng.Float32(), rng.Float32()}))
	}
	require.NoError(t, h.Build(&BuildOptions{M: 6, MaxM0: 12, EfConstruction: 60, NumThreads: 2}))

	queries := make([][]float32, 40)
	for i := range queries {
		queries[i] = []float32{rng.Float32(), rng.Float32(), rng.Float32()}
	}
	batch, err := h.BatchSearchByVectors(queries, 5, 50, 4)
	require.NoError(t, err)
	require.Len(t, batch, len(queries))

	for i, q := range queries {
		want, err := h.SearchByVector(q, 5, 50)
		require.NoError(t, err)
		assert.Equal(t, want, batch[i], "query %d", i)
	}
}

func TestBatchSearchByIds(t *testing.T) {
	h := threeVectorAngular(t)
	batch, err := h.BatchSearchByIds([]int32{0, 1, 2}, 2, 30, 2)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, res := range batch {
		require.NotEmpty(t, res, "id %d", i)
		// ids 0 and 2 are identical vectors; either is a valid top hit for
		// the other, id 1 must hit itself.
		if i == 1 {
			assert.Equal(t, int32(1), res[0].Id)
		} else {
			assert.Contains(t, []int32{0, 2}, res[0].Id)
		}
	}

	_, err = h.BatchSearchByIds([]int32{0, 7}, 2, 30, 2)
	assert.ErrorIs(t, err, ErrInvalidNodeId)
}

func TestBatchSearchDimensionError(t *testing.T) {
	h := threeVectorAngular(t)
	_, err := h.BatchSearchByVectors([][]float32{{1, 0, 0}, {1, 0}}, 2, 30, 2)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestPrintOperations(t *testing.T) {
	h := threeVectorAngular(t)
	assert.NoError(t, h.PrintDegreeDist())
	assert.NoError(t, h.PrintConfigs())

	empty := newTestIndex(t, 2, "L2")
	assert.Error(t, empty.PrintDegreeDist())
}

func TestLoadDimensionGuard(t *testing.T) {
	h := threeVectorAngular(t)
	path := filepath.Join(t.TempDir(), "angular.hnsw")
	require.NoError(t, h.SaveModel(path))

	wrong := newTestIndex(t, 7, "angular")
	assert.Error(t, wrong.LoadModel(path, false))

	right := newTestIndex(t, 3, "angular")
	assert.NoError(t, right.LoadModel(path, false))
	assert.Equal(t, 3, right.NumData())
}
