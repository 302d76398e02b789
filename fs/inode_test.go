package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduk/defs"
)

func newTestInodes(t *testing.T, sectors uint32) *Inodes_t {
	t.Helper()
	disk := NewMemDisk(sectors, RoleFilesys)
	cache := NewCache(disk)
	fmap := NewFreemap(sectors)
	return NewInodes(cache, fmap)
}

func TestInodes_CreateIsAHoleUntilWritten(t *testing.T) {
	e := newTestInodes(t, 4096)
	sector, err := e.fmap.Alloc()
	require.Zero(t, err)
	require.Zero(t, e.Create(sector, 4096, defs.KindFile))

	ino, err := e.Open(sector)
	require.Zero(t, err)
	defer e.Close(ino)

	buf := make([]byte, 4096)
	n, rerr := ino.ReadAt(buf, 0)
	require.Zero(t, rerr)
	assert.Equal(t, 4096, n)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}

	// a hole allocates nothing: only the inode record sector itself, plus
	// whatever the fixed low sectors already claimed.
	assert.False(t, e.fmap.IsAllocated(sector+1))
}

func TestInodes_WriteFarPastEndGrowsLazily(t *testing.T) {
	e := newTestInodes(t, 1<<16)
	sector, err := e.fmap.Alloc()
	require.Zero(t, err)
	require.Zero(t, e.Create(sector, 0, defs.KindFile))

	ino, err := e.Open(sector)
	require.Zero(t, err)
	defer e.Close(ino)

	const farOffset = 4 * 1024 * 1024
	n, werr := ino.WriteAt([]byte{0x7a}, farOffset)
	require.Zero(t, werr)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(farOffset+1), ino.Length())

	// the gap reads back as zero without having allocated every sector in
	// between.
	buf := make([]byte, 512)
	_, rerr := ino.ReadAt(buf, farOffset-1024)
	require.Zero(t, rerr)
	for _, b := range buf[:511] {
		assert.Equal(t, byte(0), b)
	}
}

func TestInodes_ReadPastEndOfFileIsShort(t *testing.T) {
	e := newTestInodes(t, 4096)
	sector, err := e.fmap.Alloc()
	require.Zero(t, err)
	require.Zero(t, e.Create(sector, 0, defs.KindFile))
	ino, err := e.Open(sector)
	require.Zero(t, err)
	defer e.Close(ino)

	n, werr := ino.WriteAt([]byte("hello"), 0)
	require.Zero(t, werr)
	require.Equal(t, 5, n)

	buf := make([]byte, 100)
	rn, rerr := ino.ReadAt(buf, 0)
	require.Zero(t, rerr)
	assert.Equal(t, 5, rn)
	assert.Equal(t, "hello", string(buf[:rn]))
}

func TestInodes_RemoveDefersDeleteUntilLastClose(t *testing.T) {
	e := newTestInodes(t, 4096)
	sector, err := e.fmap.Alloc()
	require.Zero(t, err)
	require.Zero(t, e.Create(sector, 512, defs.KindFile))

	ino1, err := e.Open(sector)
	require.Zero(t, err)
	ino2, err := e.Open(sector)
	require.Zero(t, err)
	assert.Same(t, ino1, ino2, "the same sector must map to one in-memory inode")

	e.Remove(ino1)
	assert.Zero(t, e.Close(ino1))
	assert.True(t, e.fmap.IsAllocated(sector), "sector must survive while still open")

	assert.Zero(t, e.Close(ino2))
	assert.False(t, e.fmap.IsAllocated(sector), "last close of a removed inode frees its sector")
}

func TestInodes_DenyWriteRejectsWrites(t *testing.T) {
	e := newTestInodes(t, 4096)
	sector, err := e.fmap.Alloc()
	require.Zero(t, err)
	require.Zero(t, e.Create(sector, 0, defs.KindFile))
	ino, err := e.Open(sector)
	require.Zero(t, err)
	defer e.Close(ino)

	e.DenyWrite(ino)
	_, werr := ino.WriteAt([]byte("x"), 0)
	assert.Equal(t, defs.EPERM, werr)
	e.AllowWrite(ino)
}

func TestInodes_LargeWriteCrossesIndirectBoundary(t *testing.T) {
	e := newTestInodes(t, 1<<18)
	sector, err := e.fmap.Alloc()
	require.Zero(t, err)
	require.Zero(t, e.Create(sector, 0, defs.KindFile))
	ino, err := e.Open(sector)
	require.Zero(t, err)
	defer e.Close(ino)

	// N_DIRECT direct blocks cover N_DIRECT*512 bytes; write just past
	// that boundary to force the first indirect index sector into being.
	offset := int64(defs.N_DIRECT * defs.SECTOR_SIZE)
	data := []byte("indirect-block-data")
	n, werr := ino.WriteAt(data, offset)
	require.Zero(t, werr)
	require.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	rn, rerr := ino.ReadAt(buf, offset)
	require.Zero(t, rerr)
	assert.Equal(t, len(data), rn)
	assert.Equal(t, data, buf)
}
