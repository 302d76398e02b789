package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduk/defs"
	"eduk/fs"
)

func TestSwap_EvictThenReclaimRoundTrips(t *testing.T) {
	disk := fs.NewMemDisk(defs.PageSectors*4, fs.RoleSwap)
	s := New(disk)

	var page [defs.PGSIZE]byte
	for i := range page {
		page[i] = byte(i)
	}

	slot, err := s.Evict(&page)
	require.Zero(t, err)

	var out [defs.PGSIZE]byte
	require.Zero(t, s.Reclaim(slot, &out))
	assert.Equal(t, page, out)
}

func TestSwap_ReclaimFreesTheSlotForReuse(t *testing.T) {
	disk := fs.NewMemDisk(defs.PageSectors*2, fs.RoleSwap)
	s := New(disk)

	var page [defs.PGSIZE]byte
	slot, err := s.Evict(&page)
	require.Zero(t, err)

	var out [defs.PGSIZE]byte
	require.Zero(t, s.Reclaim(slot, &out))

	slot2, err := s.Evict(&page)
	require.Zero(t, err)
	assert.Equal(t, slot, slot2)
}

func TestSwap_ExhaustionReturnsENOSPC(t *testing.T) {
	disk := fs.NewMemDisk(defs.PageSectors*1, fs.RoleSwap)
	s := New(disk)

	var page [defs.PGSIZE]byte
	_, err := s.Evict(&page)
	require.Zero(t, err)

	_, err = s.Evict(&page)
	assert.Equal(t, defs.ENOSPC, err)
}

func TestSwap_FreeWithoutReclaimAllowsReuse(t *testing.T) {
	disk := fs.NewMemDisk(defs.PageSectors*1, fs.RoleSwap)
	s := New(disk)

	var page [defs.PGSIZE]byte
	slot, err := s.Evict(&page)
	require.Zero(t, err)
	s.Free(slot)

	slot2, err := s.Evict(&page)
	require.Zero(t, err)
	assert.Equal(t, slot, slot2)
}
