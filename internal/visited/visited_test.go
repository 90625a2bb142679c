package visited

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkAndReset(t *testing.T) {
	l := NewList(8)

	assert.False(t, l.Visited(3))
	l.MarkVisited(3)
	assert.True(t, l.Visited(3))
	assert.False(t, l.Visited(4))

	l.Reset()
	assert.False(t, l.Visited(3))

	l.MarkVisited(3)
	l.MarkVisited(7)
	assert.True(t, l.Visited(3))
	assert.True(t, l.Visited(7))
}

func TestMarkWraparound(t *testing.T) {
	l := NewList(4)
	l.MarkVisited(0)

	// Force the mark to wrap; all slots must read unvisited afterwards.
	l.mark = ^uint32(0)
	l.marks[1] = l.mark
	assert.True(t, l.Visited(1))

	l.Reset()
	assert.Equal(t, uint32(1), l.mark)
	for id := int32(0); id < 4; id++ {
		assert.False(t, l.Visited(id), "id %d", id)
	}
}
