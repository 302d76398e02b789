package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduk/defs"
	"eduk/fs"
	"eduk/mmu"
	"eduk/swap"
)

func newTestSpTable(t *testing.T, nframes uint) (*Table_t, *mmu.Soft_t) {
	t.Helper()
	pool := NewPool(nframes)
	m := mmu.New()
	disk := fs.NewMemDisk(defs.PageSectors*8, fs.RoleSwap)
	sw := swap.New(disk)
	ft := NewTable(pool, m, sw)
	pd := m.CreatePagedir()
	return NewSpTable(pd, nil, ft, sw, m), m
}

func TestSpTable_PullOnUnmappedNonStackAddrFaults(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	_, err := spt.Pull(0xc0000000, 0x1000, false)
	assert.Equal(t, defs.EFAULT, err)
}

func TestSpTable_PullGrowsTheStackOnACandidateFault(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	esp := defs.StackLimit + 0x2000
	uaddr := esp - 4

	spte, err := spt.Pull(esp, uaddr, true)
	require.Zero(t, err)
	assert.Equal(t, LocMemory, spte.Location())
}

func TestSpTable_PullResolvesZeroPageToMemory(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	_, err := spt.MarkZero(0x1000, true)
	require.Zero(t, err)

	spte, err := spt.Pull(0, 0x1000, false)
	require.Zero(t, err)
	assert.Equal(t, LocMemory, spte.Location())
}

func TestSpTable_PullOnResidentMemoryIsANoop(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	_, err := spt.Alloc(0x1000, true)
	require.Zero(t, err)

	spte, err := spt.Pull(0, 0x1000, false)
	require.Zero(t, err)
	assert.Equal(t, LocMemory, spte.Location())
}

func TestSpTable_PullReclaimsFromSwap(t *testing.T) {
	spt, m := newTestSpTable(t, 1)
	spte1, err := spt.Alloc(0x1000, true)
	require.Zero(t, err)
	spte1.frame.mem[0] = 0x42
	m.SetAccessed(spt.pd, 0x1000, false)

	_, err = spt.Alloc(0x2000, true) // forces spte1 out to swap
	require.Zero(t, err)
	require.Equal(t, LocSwap, spte1.Location())

	m.SetAccessed(spt.pd, 0x2000, false)
	spte, err := spt.Pull(0, 0x1000, false)
	require.Zero(t, err)
	assert.Equal(t, LocMemory, spte.Location())
	assert.Equal(t, byte(0x42), spte.frame.mem[0])
}

func TestSpTable_PullLoadsExecPageThenPromotesToMemory(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	disk := fs.NewMemDisk(64, fs.RoleFilesys)
	require.Zero(t, fs.Format(disk))
	fsys, err := fs.Mount(disk)
	require.Zero(t, err)
	defer fsys.Shutdown()
	require.Zero(t, fsys.Create("/bin", 0, nil))
	ino, err := fsys.Open("/bin", nil)
	require.Zero(t, err)
	defer fsys.Close(ino)
	_, werr := ino.WriteAt([]byte("text-segment-bytes"), 0)
	require.Zero(t, werr)

	_, err = spt.MapFile(0x1000, ino, 0, 18, defs.PGSIZE-18, false, true)
	require.Zero(t, err)

	spte, err := spt.Pull(0, 0x1000, false)
	require.Zero(t, err)
	assert.Equal(t, LocMemory, spte.Location(), "a loaded exec page is promoted to ordinary memory")
	assert.Equal(t, byte('t'), spte.frame.mem[0])
}

func TestSpTable_PullLoadsFilesysPageAsMmapped(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	disk := fs.NewMemDisk(64, fs.RoleFilesys)
	require.Zero(t, fs.Format(disk))
	fsys, err := fs.Mount(disk)
	require.Zero(t, err)
	defer fsys.Shutdown()
	require.Zero(t, fsys.Create("/mapped", 0, nil))
	ino, err := fsys.Open("/mapped", nil)
	require.Zero(t, err)
	defer fsys.Close(ino)
	_, werr := ino.WriteAt([]byte("mapped-bytes"), 0)
	require.Zero(t, werr)

	_, err = spt.MapFile(0x1000, ino, 0, 12, defs.PGSIZE-12, true, false)
	require.Zero(t, err)

	spte, err := spt.Pull(0, 0x1000, false)
	require.Zero(t, err)
	assert.Equal(t, LocMmapped, spte.Location())
}

func TestSpTable_PullRejectsWriteToReadOnlyPage(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	_, err := spt.MarkZero(0x1000, false)
	require.Zero(t, err)

	_, err = spt.Pull(0, 0x1000, true)
	assert.Equal(t, defs.EFAULT, err)
}

func TestSpTable_OverlapsDetectsAnExistingPage(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	_, err := spt.MarkZero(0x2000, true)
	require.Zero(t, err)

	assert.True(t, spt.Overlaps(0x1000, 3*defs.PGSIZE))
	assert.False(t, spt.Overlaps(0x5000, defs.PGSIZE))
}

func TestSpTable_RemoveFreesASwapSlot(t *testing.T) {
	spt, m := newTestSpTable(t, 1)
	spte1, err := spt.Alloc(0x1000, true)
	require.Zero(t, err)
	m.SetAccessed(spt.pd, 0x1000, false)
	_, err = spt.Alloc(0x2000, true)
	require.Zero(t, err)
	require.Equal(t, LocSwap, spte1.Location())

	spt.Remove(0x1000)
	_, ok := spt.Find(0x1000)
	assert.False(t, ok)
}

func TestSpTable_DestroyWritesBackMmappedPages(t *testing.T) {
	spt, _ := newTestSpTable(t, 4)
	disk := fs.NewMemDisk(64, fs.RoleFilesys)
	require.Zero(t, fs.Format(disk))
	fsys, err := fs.Mount(disk)
	require.Zero(t, err)
	defer fsys.Shutdown()
	require.Zero(t, fsys.Create("/mapped", 0, nil))
	ino, err := fsys.Open("/mapped", nil)
	require.Zero(t, err)
	defer fsys.Close(ino)

	_, err = spt.MapFile(0x1000, ino, 0, defs.PGSIZE, 0, true, false)
	require.Zero(t, err)
	spte, err := spt.Pull(0, 0x1000, true)
	require.Zero(t, err)
	spte.frame.mem[0] = 0x7

	spt.Destroy()
	buf := make([]byte, 1)
	_, rerr := ino.ReadAt(buf, 0)
	require.Zero(t, rerr)
	assert.Equal(t, byte(0x7), buf[0])
}
