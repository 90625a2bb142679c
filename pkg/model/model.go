// Package model holds the immutable post-build index representation: a
// single contiguous byte buffer laid out for cache-friendly search, backed
// either by process memory or by a read-only file mapping.
package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/liliang-cn/hnsw/pkg/distance"
)

// ErrBadFormat is returned when a model file cannot be parsed.
var ErrBadFormat = errors.New("malformed model file")

// Node is the view of a finished build-time node the model serializes.
type Node interface {
	Level() int
	Friends(level int) []int32
	Vector() []float32
}

// Buffer layout. Offsets are from the start of the model.
//
//	[0,36)    reserved legacy builder parameters: four 8-byte words
//	          (m, max_m, max_m0, ef_construction) and one float
//	          (level_mult). Written as zeros, skipped on read.
//	[36,40)   max_level    int32
//	[40,44)   enterpoint   int32
//	[44,48)   num_nodes    int32
//	[48,52)   metric       int32 (angular=0, L2=1, dot=2)
//	[52,60)   data_dim     uint64
//	[60,68)   memory_per_data               uint64
//	[68,76)   memory_per_link_level0        uint64
//	[76,84)   memory_per_node_level0        uint64
//	[84,92)   memory_per_node_higher_level  uint64
//	[92,104)  reserved legacy region offsets, zero. The historic size
//	          accounting counted two 8-byte offsets minus the width of the
//	          metric word, so exactly 12 bytes of padding survive here.
//	[104,..)  level-0 block: num_nodes records of memory_per_node_level0
//	          bytes, each [higher_offset i32][degree i32][ids i32*max_m0]
//	          [vector f32*dim]
//	[...,EOF) higher-level block: one [degree i32][ids i32*max_m] record
//	          per (node, level>0) pair in id-major order
//
// All fields little-endian; the format is not cross-endian portable.
const (
	reservedHeadSize = 4*8 + 4
	reservedTailSize = 12
	headerSize       = reservedHeadSize + 4*4 + 8 + 4*8 + reservedTailSize
)

// Model is the sealed, searchable index. All methods other than Unload are
// read-only and safe for concurrent use.
type Model struct {
	buf    []byte
	closer interface{ Close() error } // non-nil when mmap-backed

	maxLevel     int32
	enterpointId int32
	numNodes     int32
	metric       distance.Metric
	dim          int

	memPerData   uint64
	memPerLinkL0 uint64
	memPerNodeL0 uint64
	memPerNodeHL uint64

	level0 []byte
	higher []byte
}

// Generate lays the finished graph out into a fresh model buffer.
func Generate(nodes []Node, enterpointId int32, maxM, maxM0 int, metric distance.Metric,
	maxLevel, dim int) (*Model, error) {

	var totalLevel uint64
	for _, n := range nodes {
		totalLevel += uint64(n.Level())
	}

	m := &Model{
		maxLevel:     int32(maxLevel),
		enterpointId: enterpointId,
		numNodes:     int32(len(nodes)),
		metric:       metric,
		dim:          dim,
		memPerData:   4 * uint64(dim),
		memPerLinkL0: 4 * uint64(2+maxM0),
		memPerNodeHL: 4 * uint64(1+maxM),
	}
	m.memPerNodeL0 = m.memPerLinkL0 + m.memPerData

	level0Size := m.memPerNodeL0 * uint64(len(nodes))
	higherSize := m.memPerNodeHL * totalLevel
	total := headerSize + level0Size + higherSize
	if total > uint64(math.MaxInt) {
		return nil, fmt.Errorf("failed to allocate model buffer (size: %d MBytes)", total/(1024*1024))
	}

	m.buf = make([]byte, total)
	m.level0 = m.buf[headerSize : headerSize+level0Size]
	m.higher = m.buf[headerSize+level0Size:]
	m.writeHeader()

	higherOffset := int32(0)
	for i, n := range nodes {
		rec := m.level0[uint64(i)*m.memPerNodeL0:]
		le.PutUint32(rec, uint32(higherOffset))
		writeLinks(rec[4:], n.Friends(0))
		vec := rec[m.memPerLinkL0 : m.memPerLinkL0+m.memPerData]
		copy(vec, f32bytes(n.Vector()))

		for level := 1; level <= n.Level(); level++ {
			hrec := m.higher[(uint64(higherOffset)+uint64(level-1))*m.memPerNodeHL:]
			writeLinks(hrec, n.Friends(level))
		}
		higherOffset += int32(n.Level())
	}
	return m, nil
}

var le = binary.LittleEndian

func writeLinks(rec []byte, friends []int32) {
	le.PutUint32(rec, uint32(len(friends)))
	for j, fid := range friends {
		le.PutUint32(rec[4+4*j:], uint32(fid))
	}
}

func (m *Model) writeHeader() {
	b := m.buf[reservedHeadSize:]
	le.PutUint32(b[0:], uint32(m.maxLevel))
	le.PutUint32(b[4:], uint32(m.enterpointId))
	le.PutUint32(b[8:], uint32(m.numNodes))
	le.PutUint32(b[12:], uint32(m.metric))
	le.PutUint64(b[16:], uint64(m.dim))
	le.PutUint64(b[24:], m.memPerData)
	le.PutUint64(b[32:], m.memPerLinkL0)
	le.PutUint64(b[40:], m.memPerNodeL0)
	le.PutUint64(b[48:], m.memPerNodeHL)
}

// parse recovers the header fields and region slices from m.buf. wantDim,
// when positive, is validated against the stored dimension.
func (m *Model) parse(wantDim int) error {
	if len(m.buf) < headerSize {
		return fmt.Errorf("%w: file smaller than header (%d bytes)", ErrBadFormat, len(m.buf))
	}
	b := m.buf[reservedHeadSize:]
	m.maxLevel = int32(le.Uint32(b[0:]))
	m.enterpointId = int32(le.Uint32(b[4:]))
	m.numNodes = int32(le.Uint32(b[8:]))
	m.metric = distance.Metric(int32(le.Uint32(b[12:])))
	if !m.metric.Valid() {
		return fmt.Errorf("%w: unknown distance metric %d", ErrBadFormat, m.metric)
	}
	m.dim = int(le.Uint64(b[16:]))
	if wantDim > 0 && m.dim != wantDim {
		return fmt.Errorf("%w: index dimension(%d) != model dimension(%d)", ErrBadFormat, wantDim, m.dim)
	}
	m.memPerData = le.Uint64(b[24:])
	m.memPerLinkL0 = le.Uint64(b[32:])
	m.memPerNodeL0 = le.Uint64(b[40:])
	m.memPerNodeHL = le.Uint64(b[48:])

	level0Size := m.memPerNodeL0 * uint64(m.numNodes)
	if uint64(len(m.buf)) < headerSize+level0Size {
		return fmt.Errorf("%w: file truncated (%d bytes, need %d)",
			ErrBadFormat, len(m.buf), headerSize+level0Size)
	}
	m.level0 = m.buf[headerSize : headerSize+level0Size]
	m.higher = m.buf[headerSize+level0Size:]
	return nil
}

// NumNodes returns the number of indexed vectors.
func (m *Model) NumNodes() int { return int(m.numNodes) }

// EnterpointId returns the id of the node every search starts from.
func (m *Model) EnterpointId() int32 { return m.enterpointId }

// MaxLevel returns the top layer of the graph.
func (m *Model) MaxLevel() int { return int(m.maxLevel) }

// Dim returns the vector dimension.
func (m *Model) Dim() int { return m.dim }

// Metric returns the distance metric the index was built with.
func (m *Model) Metric() distance.Metric { return m.metric }

// Bytes returns the raw model buffer. It must not be modified.
func (m *Model) Bytes() []byte { return m.buf }

// MaxM0 returns the level-0 degree cap implied by the record layout.
func (m *Model) MaxM0() int { return int(m.memPerLinkL0/4) - 2 }

// MaxM returns the higher-level degree cap implied by the record layout.
func (m *Model) MaxM() int { return int(m.memPerNodeHL/4) - 1 }

// Vector returns a zero-copy view of node id's stored vector.
func (m *Model) Vector(id int32) []float32 {
	off := uint64(id)*m.memPerNodeL0 + m.memPerLinkL0
	return f32view(m.level0[off:], m.dim)
}

// Friends returns a zero-copy view of node id's level-0 neighbor ids.
func (m *Model) Friends(id int32) []int32 {
	rec := m.level0[uint64(id)*m.memPerNodeL0+4:]
	degree := int(int32(le.Uint32(rec)))
	return i32view(rec[4:], degree)
}

// HigherOffset returns node id's record index into the higher-level block.
func (m *Model) HigherOffset(id int32) int32 {
	return int32(le.Uint32(m.level0[uint64(id)*m.memPerNodeL0:]))
}

// HigherFriends returns a zero-copy view of node id's neighbor ids at the
// given level (level >= 1). The node must reach that level.
func (m *Model) HigherFriends(id int32, level int) []int32 {
	off := m.HigherOffset(id)
	rec := m.higher[(uint64(off)+uint64(level-1))*m.memPerNodeHL:]
	degree := int(int32(le.Uint32(rec)))
	return i32view(rec[4:], degree)
}

// The model buffer is accessed through zero-copy views: both the heap
// buffer and the mapping are 4-byte aligned and every record offset is a
// multiple of 4.

func f32view(b []byte, n int) []float32 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}

func i32view(b []byte, n int) []int32 {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), n)
}

func f32bytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), 4*len(v))
}
