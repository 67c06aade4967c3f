package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/personamem-go/pkg/arena"
)

func TestAllocateWriteRead(t *testing.T) {
	a := arena.New(1, 4)
	slot, err := a.Allocate()
	require.NoError(t, err)

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	meta := arena.Metadata{PersonaID: "p1", MemoryType: "fact", Importance: 0.5, IsActive: true}
	require.NoError(t, a.Write(slot, vec, meta))

	gotVec, gotMeta, err := a.Read(slot)
	require.NoError(t, err)
	assert.Equal(t, vec, gotVec)
	assert.Equal(t, meta, gotMeta)
}

func TestWriteDimensionMismatch(t *testing.T) {
	a := arena.New(1, 4)
	slot, err := a.Allocate()
	require.NoError(t, err)
	err = a.Write(slot, []float32{1, 2}, arena.Metadata{})
	assert.ErrorIs(t, err, arena.ErrDimensionMismatch)
}

func TestFreeThenReadFails(t *testing.T) {
	a := arena.New(1, 4)
	slot, err := a.Allocate()
	require.NoError(t, err)
	require.NoError(t, a.Write(slot, []float32{1, 2, 3, 4}, arena.Metadata{}))
	require.NoError(t, a.Free(slot))

	_, _, err = a.Read(slot)
	assert.ErrorIs(t, err, arena.ErrInvalidSlot)
}

func TestCapacityFull(t *testing.T) {
	// tiny budget -> capacity should clamp to at least 1 slot.
	a := arena.New(1, 1024*1024)
	assert.GreaterOrEqual(t, a.Capacity(), 1)

	for i := 0; i < a.Capacity(); i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}
	_, err := a.Allocate()
	assert.ErrorIs(t, err, arena.ErrFull)
}

func TestFreeListNoDuplicates(t *testing.T) {
	a := arena.New(1, 8)
	var slots []int
	for i := 0; i < a.Capacity(); i++ {
		s, err := a.Allocate()
		require.NoError(t, err)
		slots = append(slots, s)
	}
	seen := make(map[int]bool)
	for _, s := range slots {
		assert.False(t, seen[s], "slot %d allocated twice", s)
		seen[s] = true
	}
}
