package fs

import (
	"sync"

	"eduk/defs"
)

// Byte offsets within the 512-byte on-disk inode record:
// {u32 length, u32 blocks[12], u32 kind, u32 magic}.
const (
	offLength = 0
	offBlocks = 4
	offKind   = offBlocks + 12*4
	offMagic  = offKind + 4
)

// blocksPerIndirect is the pointer count in one indirect or
// double-indirect index sector.
const blocksPerIndirect = defs.SECTOR_SIZE / 4

// diskInode_t is the decoded form of one on-disk inode record. Field
// access goes through defs.ReadField32/WriteField32, the fixed-width u32
// codec every on-disk inode and index record is serialized with.
type diskInode_t struct {
	length  uint32
	direct  [defs.N_DIRECT]uint32
	indir   [defs.N_INDIRECT]uint32
	dindir  [defs.N_DOUBLE]uint32
	kind    defs.InodeKind
	magic   uint32
}

func decodeInode(buf *[defs.SECTOR_SIZE]byte) diskInode_t {
	var d diskInode_t
	b := buf[:]
	d.length = defs.ReadField32(b, offLength)
	for i := 0; i < defs.N_DIRECT; i++ {
		d.direct[i] = defs.ReadField32(b, offBlocks+i*4)
	}
	d.indir[0] = defs.ReadField32(b, offBlocks+defs.N_DIRECT*4)
	d.dindir[0] = defs.ReadField32(b, offBlocks+(defs.N_DIRECT+1)*4)
	d.kind = defs.InodeKind(defs.ReadField32(b, offKind))
	d.magic = defs.ReadField32(b, offMagic)
	return d
}

func (d *diskInode_t) encode(buf *[defs.SECTOR_SIZE]byte) {
	b := buf[:]
	defs.WriteField32(b, offLength, d.length)
	for i := 0; i < defs.N_DIRECT; i++ {
		defs.WriteField32(b, offBlocks+i*4, d.direct[i])
	}
	defs.WriteField32(b, offBlocks+defs.N_DIRECT*4, d.indir[0])
	defs.WriteField32(b, offBlocks+(defs.N_DIRECT+1)*4, d.dindir[0])
	defs.WriteField32(b, offKind, uint32(d.kind))
	defs.WriteField32(b, offMagic, d.magic)
}

// / Inode_t is an in-memory inode. At most one Inode_t exists
// / per disk sector at a time -- enforced by Inodes_t's open table.
type Inode_t struct {
	eng          *Inodes_t
	sector       uint32
	mu           sync.Mutex // serializes index-tree mutation and disk copy access
	openCnt      int
	denyWriteCnt int
	removed      bool
	disk         diskInode_t
}

// / Sector returns the inode's disk sector number (its inumber).
func (ino *Inode_t) Sector() uint32 { return ino.sector }

// / IsDir reports whether the inode is a directory.
func (ino *Inode_t) IsDir() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.disk.kind == defs.KindDir
}

// / Length returns the inode's current length in bytes.
func (ino *Inode_t) Length() int64 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return int64(ino.disk.length)
}

// / Inodes_t is the inode engine: the open-inode table, growth
// / policy, and index-tree read/write paths. It is the only component
// / that walks inode index blocks.
type Inodes_t struct {
	tblmu sync.Mutex // serializes the open-inode table
	table map[uint32]*Inode_t

	cache *Cache_t
	fmap  *Freemap_t
}

// / NewInodes constructs an inode engine over cache and fmap.
func NewInodes(cache *Cache_t, fmap *Freemap_t) *Inodes_t {
	return &Inodes_t{table: make(map[uint32]*Inode_t), cache: cache, fmap: fmap}
}

// / Create initializes a fresh inode of the given kind and logical length
// / at sector. No data sectors are allocated yet: growth --
// / and therefore data-sector allocation -- happens lazily in WriteAt, so a
// / freshly created file of nonzero length is a hole read back as zeros.
func (e *Inodes_t) Create(sector uint32, length int64, kind defs.InodeKind) defs.Err_t {
	d := diskInode_t{length: uint32(length), kind: kind, magic: defs.INODE_MAGIC}
	for i := range d.direct {
		d.direct[i] = defs.SECTOR_NONE
	}
	d.indir[0] = defs.SECTOR_NONE
	d.dindir[0] = defs.SECTOR_NONE
	var buf [defs.SECTOR_SIZE]byte
	d.encode(&buf)
	return e.cache.Write(sector, &buf)
}

// / Open returns the in-memory inode for sector, reading it from disk on
// / first open and bumping open_cnt on subsequent opens (the uniqueness
// / invariant).
func (e *Inodes_t) Open(sector uint32) (*Inode_t, defs.Err_t) {
	e.tblmu.Lock()
	if ino, ok := e.table[sector]; ok {
		ino.openCnt++
		e.tblmu.Unlock()
		return ino, 0
	}
	e.tblmu.Unlock()

	var buf [defs.SECTOR_SIZE]byte
	if err := e.cache.Read(sector, &buf); err != 0 {
		return nil, err
	}
	d := decodeInode(&buf)
	if d.magic != defs.INODE_MAGIC {
		return nil, defs.EIO
	}
	ino := &Inode_t{eng: e, sector: sector, openCnt: 1, disk: d}

	e.tblmu.Lock()
	if existing, ok := e.table[sector]; ok {
		// lost the race with a concurrent Open; use the winner.
		existing.openCnt++
		e.tblmu.Unlock()
		return existing, 0
	}
	e.table[sector] = ino
	e.tblmu.Unlock()
	return ino, 0
}

// / Reopen bumps ino's open count and returns ino, for convenience at call
// / sites that hold a reference and want another.
func (e *Inodes_t) Reopen(ino *Inode_t) *Inode_t {
	e.tblmu.Lock()
	ino.openCnt++
	e.tblmu.Unlock()
	return ino
}

// / Remove marks ino for deletion; the on-disk delete is deferred to the
// / last Close (removing a file whose inode is still open
// / is legal").
func (e *Inodes_t) Remove(ino *Inode_t) {
	ino.mu.Lock()
	ino.removed = true
	ino.mu.Unlock()
}

// / DenyWrite forbids writes to ino (used by the ELF loader on a running
// / executable). 0 <= deny_write_cnt <= open_cnt always.
func (e *Inodes_t) DenyWrite(ino *Inode_t) {
	e.tblmu.Lock()
	defer e.tblmu.Unlock()
	ino.denyWriteCnt++
	if ino.denyWriteCnt > ino.openCnt {
		panic("fs: deny_write_cnt exceeds open_cnt")
	}
}

// / AllowWrite re-enables writes previously denied by DenyWrite.
func (e *Inodes_t) AllowWrite(ino *Inode_t) {
	e.tblmu.Lock()
	defer e.tblmu.Unlock()
	if ino.denyWriteCnt <= 0 {
		panic("fs: allow_write without matching deny_write")
	}
	ino.denyWriteCnt--
}

// / Close drops one reference to ino. At open_cnt==0 it is dropped from
// / the table; if it was also removed, every sector it owns -- data,
// / index blocks, and the inode record itself -- is released to the free
// / map.
func (e *Inodes_t) Close(ino *Inode_t) defs.Err_t {
	e.tblmu.Lock()
	ino.openCnt--
	last := ino.openCnt == 0
	if last {
		delete(e.table, ino.sector)
	}
	e.tblmu.Unlock()

	if !last {
		return 0
	}
	if !ino.removed {
		return 0
	}
	return e.deleteAll(ino)
}

func (e *Inodes_t) deleteAll(ino *Inode_t) defs.Err_t {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	d := &ino.disk

	for _, s := range d.direct {
		e.freeIfAllocated(s)
	}
	if d.indir[0] != defs.SECTOR_NONE {
		e.deleteIndirect(d.indir[0])
	}
	if d.dindir[0] != defs.SECTOR_NONE {
		e.deleteDouble(d.dindir[0])
	}
	e.freeIfAllocated(ino.sector)
	return 0
}

func (e *Inodes_t) deleteIndirect(sector uint32) {
	ptrs := e.readPointers(sector)
	for _, s := range ptrs {
		e.freeIfAllocated(s)
	}
	e.freeIfAllocated(sector)
}

func (e *Inodes_t) deleteDouble(sector uint32) {
	ptrs := e.readPointers(sector)
	for _, s := range ptrs {
		if s != defs.SECTOR_NONE {
			e.deleteIndirect(s)
		}
	}
	e.freeIfAllocated(sector)
}

func (e *Inodes_t) freeIfAllocated(sector uint32) {
	if sector != defs.SECTOR_NONE {
		e.fmap.Free(sector)
	}
}

func (e *Inodes_t) readPointers(sector uint32) [blocksPerIndirect]uint32 {
	var buf [defs.SECTOR_SIZE]byte
	e.cache.Read(sector, &buf)
	var ptrs [blocksPerIndirect]uint32
	for i := range ptrs {
		ptrs[i] = defs.ReadField32(buf[:], i*4)
	}
	return ptrs
}

func (e *Inodes_t) writePointers(sector uint32, ptrs *[blocksPerIndirect]uint32) defs.Err_t {
	var buf [defs.SECTOR_SIZE]byte
	for i, p := range ptrs {
		defs.WriteField32(buf[:], i*4, p)
	}
	return e.cache.Write(sector, &buf)
}

func newIndexSector(e *Inodes_t) (uint32, [blocksPerIndirect]uint32, defs.Err_t) {
	s, err := e.fmap.Alloc()
	if err != 0 {
		return defs.SECTOR_NONE, [blocksPerIndirect]uint32{}, err
	}
	var ptrs [blocksPerIndirect]uint32
	for i := range ptrs {
		ptrs[i] = defs.SECTOR_NONE
	}
	if err := e.writePointers(s, &ptrs); err != 0 {
		e.fmap.Free(s)
		return defs.SECTOR_NONE, ptrs, err
	}
	return s, ptrs, 0
}

// blockForRead returns the data sector holding logical block blockIdx, or
// SECTOR_NONE if it was never allocated (a hole).
// It never allocates.
func (ino *Inode_t) blockForRead(blockIdx uint32) uint32 {
	d := &ino.disk
	switch {
	case blockIdx < defs.N_DIRECT:
		return d.direct[blockIdx]
	case blockIdx < defs.N_DIRECT+blocksPerIndirect:
		if d.indir[0] == defs.SECTOR_NONE {
			return defs.SECTOR_NONE
		}
		ptrs := ino.eng.readPointers(d.indir[0])
		return ptrs[blockIdx-defs.N_DIRECT]
	default:
		if d.dindir[0] == defs.SECTOR_NONE {
			return defs.SECTOR_NONE
		}
		r := blockIdx - defs.N_DIRECT - blocksPerIndirect
		outer := ino.eng.readPointers(d.dindir[0])
		indSec := outer[r/blocksPerIndirect]
		if indSec == defs.SECTOR_NONE {
			return defs.SECTOR_NONE
		}
		inner := ino.eng.readPointers(indSec)
		return inner[r%blocksPerIndirect]
	}
}

// blockForWrite is blockForRead but allocates any missing index blocks
// and, finally, the leaf data sector, lazily and in place -- index
// blocks are allocated only on first use, with all their
// slots initialized to SECTOR_NONE". ino.mu and the inode record must be
// persisted by the caller after this returns.
func (ino *Inode_t) blockForWrite(blockIdx uint32) (uint32, defs.Err_t) {
	e := ino.eng
	d := &ino.disk

	allocLeaf := func() (uint32, defs.Err_t) {
		s, err := e.fmap.Alloc()
		if err != 0 {
			return defs.SECTOR_NONE, err
		}
		var zero [defs.SECTOR_SIZE]byte
		if err := e.cache.Write(s, &zero); err != 0 {
			e.fmap.Free(s)
			return defs.SECTOR_NONE, err
		}
		return s, 0
	}

	switch {
	case blockIdx < defs.N_DIRECT:
		if d.direct[blockIdx] == defs.SECTOR_NONE {
			s, err := allocLeaf()
			if err != 0 {
				return defs.SECTOR_NONE, err
			}
			d.direct[blockIdx] = s
		}
		return d.direct[blockIdx], 0

	case blockIdx < defs.N_DIRECT+blocksPerIndirect:
		if d.indir[0] == defs.SECTOR_NONE {
			s, _, err := newIndexSector(e)
			if err != 0 {
				return defs.SECTOR_NONE, err
			}
			d.indir[0] = s
		}
		ptrs := e.readPointers(d.indir[0])
		j := blockIdx - defs.N_DIRECT
		if ptrs[j] == defs.SECTOR_NONE {
			s, err := allocLeaf()
			if err != 0 {
				return defs.SECTOR_NONE, err
			}
			ptrs[j] = s
			if err := e.writePointers(d.indir[0], &ptrs); err != 0 {
				return defs.SECTOR_NONE, err
			}
		}
		return ptrs[j], 0

	default:
		if d.dindir[0] == defs.SECTOR_NONE {
			s, _, err := newIndexSector(e)
			if err != 0 {
				return defs.SECTOR_NONE, err
			}
			d.dindir[0] = s
		}
		outer := e.readPointers(d.dindir[0])
		r := blockIdx - defs.N_DIRECT - blocksPerIndirect
		oi := r / blocksPerIndirect
		if outer[oi] == defs.SECTOR_NONE {
			s, _, err := newIndexSector(e)
			if err != 0 {
				return defs.SECTOR_NONE, err
			}
			outer[oi] = s
			if err := e.writePointers(d.dindir[0], &outer); err != 0 {
				return defs.SECTOR_NONE, err
			}
		}
		inner := e.readPointers(outer[oi])
		ii := r % blocksPerIndirect
		if inner[ii] == defs.SECTOR_NONE {
			s, err := allocLeaf()
			if err != 0 {
				return defs.SECTOR_NONE, err
			}
			inner[ii] = s
			if err := e.writePointers(outer[oi], &inner); err != 0 {
				return defs.SECTOR_NONE, err
			}
		}
		return inner[ii], 0
	}
}

// / ReadAt copies up to len(buf) bytes from ino starting at offset. It
// / returns a short count at end-of-file, and reads holes (unallocated
// / blocks within length) as zeros without touching the cache.
func (ino *Inode_t) ReadAt(buf []byte, offset int64) (int, defs.Err_t) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	length := int64(ino.disk.length)
	if offset >= length {
		return 0, 0
	}
	if offset+int64(len(buf)) > length {
		buf = buf[:length-offset]
	}

	n := 0
	for n < len(buf) {
		pos := offset + int64(n)
		blockIdx := uint32(pos / defs.SECTOR_SIZE)
		sectorOff := int(pos % defs.SECTOR_SIZE)
		chunk := defs.SECTOR_SIZE - sectorOff
		if rem := len(buf) - n; chunk > rem {
			chunk = rem
		}

		sec := ino.blockForRead(blockIdx)
		if sec == defs.SECTOR_NONE {
			for i := 0; i < chunk; i++ {
				buf[n+i] = 0
			}
		} else if sectorOff == 0 && chunk == defs.SECTOR_SIZE {
			var full [defs.SECTOR_SIZE]byte
			if err := ino.eng.cache.Read(sec, &full); err != 0 {
				return n, err
			}
			copy(buf[n:n+chunk], full[:])
		} else {
			var bounce [defs.SECTOR_SIZE]byte
			if err := ino.eng.cache.Read(sec, &bounce); err != 0 {
				return n, err
			}
			copy(buf[n:n+chunk], bounce[sectorOff:sectorOff+chunk])
		}
		n += chunk
	}
	return n, 0
}

// / WriteAt writes buf into ino starting at offset, growing the inode's
// / length and lazily allocating any sectors the write touches. A failed
// / allocation partway through aborts growth early and returns a short
// / count; sectors already allocated are not rolled back.
func (ino *Inode_t) WriteAt(buf []byte, offset int64) (int, defs.Err_t) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	if ino.denyWriteCnt > 0 {
		return 0, defs.EPERM
	}

	n := 0
	var writeErr defs.Err_t
	for n < len(buf) {
		pos := offset + int64(n)
		blockIdx := uint32(pos / defs.SECTOR_SIZE)
		sectorOff := int(pos % defs.SECTOR_SIZE)
		chunk := defs.SECTOR_SIZE - sectorOff
		if rem := len(buf) - n; chunk > rem {
			chunk = rem
		}

		sec, err := ino.blockForWrite(blockIdx)
		if err != 0 {
			writeErr = err
			break
		}

		if sectorOff == 0 && chunk == defs.SECTOR_SIZE {
			var full [defs.SECTOR_SIZE]byte
			copy(full[:], buf[n:n+chunk])
			if err := ino.eng.cache.Write(sec, &full); err != 0 {
				writeErr = err
				break
			}
		} else {
			var bounce [defs.SECTOR_SIZE]byte
			if err := ino.eng.cache.Read(sec, &bounce); err != 0 {
				writeErr = err
				break
			}
			copy(bounce[sectorOff:sectorOff+chunk], buf[n:n+chunk])
			if err := ino.eng.cache.Write(sec, &bounce); err != 0 {
				writeErr = err
				break
			}
		}
		n += chunk

		if pos+int64(chunk) > int64(ino.disk.length) {
			ino.disk.length = uint32(pos + int64(chunk))
		}
	}

	ino.persistLocked()
	if n == 0 && writeErr != 0 {
		return 0, writeErr
	}
	return n, 0
}

// persistLocked writes the inode record (length + index-block pointers)
// back through the cache. Caller must hold ino.mu.
func (ino *Inode_t) persistLocked() defs.Err_t {
	var buf [defs.SECTOR_SIZE]byte
	ino.disk.encode(&buf)
	return ino.eng.cache.Write(ino.sector, &buf)
}
