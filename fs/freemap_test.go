package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduk/defs"
)

func TestFreemap_ReservesFixedLowSectors(t *testing.T) {
	fm := NewFreemap(256)
	assert.True(t, fm.IsAllocated(defs.FREEMAP_SECTOR))
	assert.True(t, fm.IsAllocated(defs.ROOT_SECTOR))
}

func TestFreemap_AllocDoesNotReuseAllocatedSector(t *testing.T) {
	fm := NewFreemap(256)
	seen := make(map[uint32]bool)
	for i := 0; i < 20; i++ {
		s, err := fm.Alloc()
		require.Zero(t, err)
		assert.False(t, seen[s], "sector %d allocated twice", s)
		seen[s] = true
	}
}

func TestFreemap_FreeThenReallocate(t *testing.T) {
	fm := NewFreemap(256)
	s, err := fm.Alloc()
	require.Zero(t, err)
	fm.Free(s)
	assert.False(t, fm.IsAllocated(s))

	s2, err := fm.Alloc()
	require.Zero(t, err)
	assert.Equal(t, s, s2, "first-free-bit scan should reclaim the just-freed sector")
}

func TestFreemap_DoubleFreePanics(t *testing.T) {
	fm := NewFreemap(256)
	s, err := fm.Alloc()
	require.Zero(t, err)
	fm.Free(s)
	assert.Panics(t, func() { fm.Free(s) })
}

func TestFreemap_ExhaustionReturnsENOSPC(t *testing.T) {
	fm := NewFreemap(16)
	for {
		_, err := fm.Alloc()
		if err != 0 {
			assert.Equal(t, defs.ENOSPC, err)
			return
		}
	}
}

func TestFreemap_FlushAndLoadRoundTrip(t *testing.T) {
	disk := NewMemDisk(64, RoleFilesys)
	c := NewCache(disk)
	fm := NewFreemap(64)
	allocated := []uint32{}
	for i := 0; i < 5; i++ {
		s, err := fm.Alloc()
		require.Zero(t, err)
		allocated = append(allocated, s)
	}
	require.Zero(t, fm.Flush(c))
	require.Zero(t, c.Flush())

	loaded, err := LoadFreemap(c, 64)
	require.Zero(t, err)
	for _, s := range allocated {
		assert.True(t, loaded.IsAllocated(s))
	}
	assert.Equal(t, fm.Count(), loaded.Count())
}
