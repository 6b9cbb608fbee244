package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkWriteTracksLocations(t *testing.T) {
	var c Chunk
	c.Write(byte(OpConstant), 1, 0)
	c.Write(0, 1, 0)
	c.Write(byte(OpReturn), 2, 4)

	assert.Equal(t, 3, c.Count())
	assert.Equal(t, []int{1, 1, 2}, c.Lines)
	assert.Equal(t, []int{0, 0, 4}, c.Columns)
	assert.Equal(t, OpCode(c.Code[2]), OpReturn)
}

func TestChunkGrowthPolicy(t *testing.T) {
	var c Chunk
	c.Write(0, 1, 0)
	assert.Equal(t, 8, cap(c.Code), "first growth allocates eight slots")

	for i := 0; i < 8; i++ {
		c.Write(byte(i), 1, i)
	}
	assert.Equal(t, 16, cap(c.Code), "capacity doubles")
	assert.Equal(t, 9, c.Count())

	// the parallel arrays stay in lockstep
	assert.Equal(t, c.Count(), len(c.Lines))
	assert.Equal(t, c.Count(), len(c.Columns))
}

func TestAddConstant(t *testing.T) {
	h := NewHeap()
	var c Chunk

	idx := c.AddConstant(h, NumberValue(1.5))
	assert.Equal(t, 0, idx)
	idx = c.AddConstant(h, NumberValue(2.5))
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1.5, c.Constants[0].AsNumber())
	assert.Equal(t, 2.5, c.Constants[1].AsNumber())
}
