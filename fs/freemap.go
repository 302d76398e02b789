package fs

import (
	"sync"

	"eduk/defs"
)

// / Freemap_t is the persistent free-sector bitmap. It lives in memory for
// / the lifetime of the mount and is written back to its reserved sectors
// / when a volume is formatted and when the mount is shut down. Its own
// / sectors and the root directory's sector are reserved fixed low sectors.
type Freemap_t struct {
	mu    sync.Mutex
	bits  []byte // one bit per data sector; bit=1 means allocated
	total uint32

	startSector uint32 // first sector holding the serialized bitmap
	nsectors    uint32 // sectors occupied by the serialized bitmap
}

func bitmapSectors(total uint32) uint32 {
	bytes := (total + 7) / 8
	return (bytes + defs.SECTOR_SIZE - 1) / defs.SECTOR_SIZE
}

// / NewFreemap allocates an all-free bitmap sized for total sectors,
// / reserving its own sectors plus sector defs.ROOT_SECTOR as already
// / allocated -- the fixed low sectors invariant.
func NewFreemap(total uint32) *Freemap_t {
	fm := &Freemap_t{
		total:       total,
		bits:        make([]byte, (total+7)/8),
		startSector: defs.ROOT_SECTOR + 1,
	}
	fm.nsectors = bitmapSectors(total)
	// reserve every sector up to the end of the bitmap: the freemap's own
	// record sector, the root directory's sector, and the serialized-bitmap
	// sectors that follow the root.
	for s := uint32(defs.FREEMAP_SECTOR); s < fm.startSector+fm.nsectors; s++ {
		fm.markLocked(s, true)
	}
	return fm
}

func (fm *Freemap_t) markLocked(sector uint32, used bool) {
	if used {
		fm.bits[sector/8] |= 1 << (sector % 8)
	} else {
		fm.bits[sector/8] &^= 1 << (sector % 8)
	}
}

func (fm *Freemap_t) testLocked(sector uint32) bool {
	return fm.bits[sector/8]&(1<<(sector%8)) != 0
}

// / Alloc reserves and returns the lowest-numbered free sector, or
// / ENOSPC if the device is full.
func (fm *Freemap_t) Alloc() (uint32, defs.Err_t) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for s := uint32(0); s < fm.total; s++ {
		if !fm.testLocked(s) {
			fm.markLocked(s, true)
			return s, 0
		}
	}
	return defs.SECTOR_NONE, defs.ENOSPC
}

// / Free releases sector back to the pool. Freeing an already-free sector
// / is a programming error and panics, ASSERT-style,
// / invariant enforcement for kernel-internal bugs.
func (fm *Freemap_t) Free(sector uint32) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if !fm.testLocked(sector) {
		panic("fs: double free of sector")
	}
	fm.markLocked(sector, false)
}

// / IsAllocated reports whether sector is currently allocated.
func (fm *Freemap_t) IsAllocated(sector uint32) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.testLocked(sector)
}

// / Count returns the number of allocated sectors, for testing invariants.
func (fm *Freemap_t) Count() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	n := 0
	for s := uint32(0); s < fm.total; s++ {
		if fm.testLocked(s) {
			n++
		}
	}
	return n
}

// / Flush serializes the bitmap into its reserved sectors through the
// / cache. Called by Format and at shutdown.
func (fm *Freemap_t) Flush(c *Cache_t) defs.Err_t {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i := uint32(0); i < fm.nsectors; i++ {
		var buf [defs.SECTOR_SIZE]byte
		lo := i * defs.SECTOR_SIZE
		hi := lo + defs.SECTOR_SIZE
		if hi > uint32(len(fm.bits)) {
			hi = uint32(len(fm.bits))
		}
		if lo < hi {
			copy(buf[:], fm.bits[lo:hi])
		}
		if err := c.Write(fm.startSector+i, &buf); err != 0 {
			return err
		}
	}
	return 0
}

// / LoadFreemap reconstructs the bitmap from its reserved sectors, for
// / mounting an existing volume.
func LoadFreemap(c *Cache_t, total uint32) (*Freemap_t, defs.Err_t) {
	fm := &Freemap_t{total: total, bits: make([]byte, (total+7)/8), startSector: defs.ROOT_SECTOR + 1}
	fm.nsectors = bitmapSectors(total)
	for i := uint32(0); i < fm.nsectors; i++ {
		var buf [defs.SECTOR_SIZE]byte
		if err := c.Read(fm.startSector+i, &buf); err != 0 {
			return nil, err
		}
		lo := i * defs.SECTOR_SIZE
		hi := lo + defs.SECTOR_SIZE
		if hi > uint32(len(fm.bits)) {
			hi = uint32(len(fm.bits))
		}
		if lo < hi {
			copy(fm.bits[lo:hi], buf[:hi-lo])
		}
	}
	return fm, 0
}
