package graph

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/hnsw/pkg/distance"
	"github.com/liliang-cn/hnsw/pkg/model"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func buildModel(t *testing.T, metric distance.Metric, vectors [][]float32, p Params) *model.Model {
	t.Helper()
	b, err := NewBuilder(len(vectors[0]), metric, nopLog{})
	require.NoError(t, err)
	b.Configure(p)
	for _, v := range vectors {
		require.NoError(t, b.AddData(v))
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

// checkModelInvariants verifies the universal invariants of a built model:
// ids in range, degrees under their caps, enterpoint at the top level and
// every level below a node's level present.
func checkModelInvariants(t *testing.T, m *model.Model) {
	t.Helper()
	n := m.NumNodes()

	require.GreaterOrEqual(t, m.EnterpointId(), int32(0))
	require.Less(t, int(m.EnterpointId()), n)

	maxSeen := 0
	for id := int32(0); int(id) < n; id++ {
		friends := m.Friends(id)
		assert.LessOrEqual(t, len(friends), m.MaxM0(), "level-0 degree of %d", id)
		for _, fid := range friends {
			assert.GreaterOrEqual(t, fid, int32(0))
			assert.Less(t, int(fid), n, "neighbor of %d", id)
		}

		// Walk this node's levels; the higher offset plus level count of
		// the previous nodes bounds the level of this one.
		level := nodeLevel(m, id)
		if level > maxSeen {
			maxSeen = level
		}
		for l := 1; l <= level; l++ {
			hf := m.HigherFriends(id, l)
			assert.LessOrEqual(t, len(hf), m.MaxM(), "level-%d degree of %d", l, id)
			for _, fid := range hf {
				assert.GreaterOrEqual(t, fid, int32(0))
				assert.Less(t, int(fid), n)
			}
		}
	}

	assert.Equal(t, maxSeen, m.MaxLevel(), "max level matches the highest node level")
	assert.Equal(t, m.MaxLevel(), nodeLevel(m, m.EnterpointId()), "enterpoint has the top level")
}

// nodeLevel recovers a node's level from the higher-level offsets: it is
// the gap to the next node's offset (or to the block end for the last id).
func nodeLevel(m *model.Model, id int32) int {
	if int(id)+1 < m.NumNodes() {
		return int(m.HigherOffset(id+1) - m.HigherOffset(id))
	}
	// For the last node, the block end bounds its levels.
	bytesPerRec := uint64(4 * (1 + m.MaxM()))
	blockRecs := (uint64(len(m.Bytes())) - modelHigherStart(m)) / bytesPerRec
	return int(blockRecs) - int(m.HigherOffset(id))
}

func modelHigherStart(m *model.Model) uint64 {
	perNode := uint64(4*(2+m.MaxM0()) + 4*m.Dim())
	return 104 + perNode*uint64(m.NumNodes())
}

func TestBuildInvariantsL2(t *testing.T) {
	vectors := randomVectors(300, 8, 42)
	m := buildModel(t, distance.L2, vectors, Params{M: 6, MaxM0: 12, EfConstruction: 60, NumThreads: 4})
	assert.Equal(t, 300, m.NumNodes())
	checkModelInvariants(t, m)
}

func TestBuildInvariantsAngularWithMerge(t *testing.T) {
	vectors := randomVectors(200, 6, 7)
	m := buildModel(t, distance.Angular, vectors,
		Params{M: 5, MaxM0: 10, EfConstruction: 50, NumThreads: 4, GraphMerging: MergeLevel0})
	checkModelInvariants(t, m)

	// Angular vectors are stored unit-normalized.
	for id := int32(0); int(id) < m.NumNodes(); id++ {
		var sum float64
		for _, x := range m.Vector(id) {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, sum, 1e-4, "norm of %d", id)
	}
}

func TestBuildNaivePolicy(t *testing.T) {
	vectors := randomVectors(120, 4, 3)
	m := buildModel(t, distance.L2, vectors,
		Params{M: 4, MaxM0: 8, EfConstruction: 40, NumThreads: 2, NeighborSelecting: SelectNaive})
	checkModelInvariants(t, m)
}

func TestSingleThreadDeterminism(t *testing.T) {
	vectors := randomVectors(150, 5, 99)
	p := Params{M: 5, MaxM0: 10, EfConstruction: 50, NumThreads: 1}

	m1 := buildModel(t, distance.L2, vectors, p)
	m2 := buildModel(t, distance.L2, vectors, p)
	assert.True(t, bytes.Equal(m1.Bytes(), m2.Bytes()),
		"single-threaded builds over identical input differ")
}

func TestBuildSingleVector(t *testing.T) {
	m := buildModel(t, distance.L2, [][]float32{{1, 2, 3}}, Params{M: 5, MaxM0: 10})
	assert.Equal(t, 1, m.NumNodes())
	assert.Equal(t, int32(0), m.EnterpointId())
	assert.Empty(t, m.Friends(0))
}

func TestBuildNoData(t *testing.T) {
	b, err := NewBuilder(3, distance.L2, nopLog{})
	require.NoError(t, err)
	_, err = b.Build()
	assert.Error(t, err)
}

func TestAddDataDimensionMismatch(t *testing.T) {
	b, err := NewBuilder(3, distance.L2, nopLog{})
	require.NoError(t, err)
	assert.Error(t, b.AddData([]float32{1, 2, 3, 4}))
	assert.NoError(t, b.AddData([]float32{1, 2, 3}))
}

func TestConfigureDerivesMult(t *testing.T) {
	b, err := NewBuilder(3, distance.L2, nopLog{})
	require.NoError(t, err)
	b.Configure(Params{M: 20})
	p := b.Params()
	assert.Equal(t, 20, p.M)
	assert.Equal(t, 20, p.MaxM, "M sets MaxM")
	assert.InDelta(t, 0.3338, p.Mult, 1e-3)
}
