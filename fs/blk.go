package fs

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/detailyang/go-fallocate"
	"golang.org/x/sys/unix"

	"eduk/defs"
)

// / Role names a block device's purpose.
type Role int

const (
	RoleFilesys Role = iota
	RoleSwap
)

// / Disk_i is the block device facade consumed by the cache and the swap
// / store: byte-addressable 512-byte sector read/write plus a size
// / query and a role tag. Ownership of durability past Write is the
// / caller's: the facade itself does not buffer.
type Disk_i interface {
	Size() uint32 // sectors
	Read(sector uint32, out *[defs.SECTOR_SIZE]byte) defs.Err_t
	Write(sector uint32, in *[defs.SECTOR_SIZE]byte) defs.Err_t
	Role() Role
	Stats() string
}

// / MemDisk_t is an in-memory Disk_i, for fast unit tests. Grounded on the
// / teacher's ufs "ahci" simulated disk, but backed by a flat byte slice
// / instead of an OS file.
type MemDisk_t struct {
	mu     sync.Mutex
	data   []byte
	role   Role
	nread  int64
	nwrite int64
}

// / NewMemDisk allocates a zero-filled disk of the given sector count.
func NewMemDisk(sectors uint32, role Role) *MemDisk_t {
	return &MemDisk_t{data: make([]byte, int(sectors)*defs.SECTOR_SIZE), role: role}
}

func (d *MemDisk_t) Size() uint32 { return uint32(len(d.data) / defs.SECTOR_SIZE) }

func (d *MemDisk_t) Read(sector uint32, out *[defs.SECTOR_SIZE]byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	atomic.AddInt64(&d.nread, 1)
	off := int(sector) * defs.SECTOR_SIZE
	if off+defs.SECTOR_SIZE > len(d.data) {
		return defs.EIO
	}
	copy(out[:], d.data[off:off+defs.SECTOR_SIZE])
	return 0
}

func (d *MemDisk_t) Write(sector uint32, in *[defs.SECTOR_SIZE]byte) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	atomic.AddInt64(&d.nwrite, 1)
	off := int(sector) * defs.SECTOR_SIZE
	if off+defs.SECTOR_SIZE > len(d.data) {
		return defs.EIO
	}
	copy(d.data[off:off+defs.SECTOR_SIZE], in[:])
	return 0
}

func (d *MemDisk_t) Role() Role { return d.role }

func (d *MemDisk_t) Stats() string {
	return fmt.Sprintf("memdisk: %d reads, %d writes", atomic.LoadInt64(&d.nread), atomic.LoadInt64(&d.nwrite))
}

// / FileDisk_t is a file-backed Disk_i. Unlike a driver that
// / which serializes Seek+Read/Write under one lock, this uses positioned
// / pread/pwrite (golang.org/x/sys/unix) so concurrent sector I/O doesn't
// / need to serialize on a shared file offset.
type FileDisk_t struct {
	f      *os.File
	role   Role
	sectors uint32
	nread  int64
	nwrite int64
}

// / OpenFileDisk opens (creating if needed) a file-backed disk of the
// / given sector count, preallocating its extent with fallocate so every
// / sector genuinely exists on disk rather than being a sparse-file hole.
// / If fallocate fails, the file is sized with Truncate instead, which may
// / leave it sparse.
func OpenFileDisk(path string, sectors uint32, role Role) (*FileDisk_t, defs.Err_t) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, defs.EIO
	}
	size := int64(sectors) * defs.SECTOR_SIZE
	if err := fallocate.Fallocate(f, 0, size); err != nil {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, defs.EIO
		}
	}
	return &FileDisk_t{f: f, role: role, sectors: sectors}, 0
}

func (d *FileDisk_t) Size() uint32 { return d.sectors }

func (d *FileDisk_t) Read(sector uint32, out *[defs.SECTOR_SIZE]byte) defs.Err_t {
	if sector >= d.sectors {
		return defs.EIO
	}
	atomic.AddInt64(&d.nread, 1)
	n, err := unix.Pread(int(d.f.Fd()), out[:], int64(sector)*defs.SECTOR_SIZE)
	if err != nil || n != defs.SECTOR_SIZE {
		return defs.EIO
	}
	return 0
}

func (d *FileDisk_t) Write(sector uint32, in *[defs.SECTOR_SIZE]byte) defs.Err_t {
	if sector >= d.sectors {
		return defs.EIO
	}
	atomic.AddInt64(&d.nwrite, 1)
	n, err := unix.Pwrite(int(d.f.Fd()), in[:], int64(sector)*defs.SECTOR_SIZE)
	if err != nil || n != defs.SECTOR_SIZE {
		return defs.EIO
	}
	return 0
}

func (d *FileDisk_t) Role() Role { return d.role }

func (d *FileDisk_t) Stats() string {
	return fmt.Sprintf("filedisk(%s): %d reads, %d writes", d.f.Name(), atomic.LoadInt64(&d.nread), atomic.LoadInt64(&d.nwrite))
}

// / Close releases the backing file.
func (d *FileDisk_t) Close() error { return d.f.Close() }
