// Package thread is the process-facing glue the rest of the kernel core
// doesn't own: a tagged-union file descriptor table, the memory-mapped
// region list, and the current-working-directory pointer that sit on top
// of one address space's supplemental page table.
package thread

import (
	"sync"

	"eduk/defs"
	"eduk/fs"
	"eduk/mmu"
	"eduk/vm"
)

// / FdKind tags what a file descriptor slot holds.
type FdKind int

const (
	FdFile FdKind = iota
	FdDir
)

// / Fd_t is one open file descriptor: either a file (with a byte
// / position) or a directory handle.
type Fd_t struct {
	kind FdKind
	ino  *fs.Inode_t // the open file, for FdFile
	pos  int64
	dir  *fs.Dir_t // for FdDir
}

// / Region_t is one mmap'd region: the file it maps, its first user
// / address, and how many pages it spans.
type Region_t struct {
	id     int
	uaddr  uintptr
	npages int
	ino    *fs.Inode_t
}

// / Process_t is one address space's process-level state: descriptors,
// / mmap regions, and CWD, layered over a Table_t fault resolver.
type Process_t struct {
	mu sync.Mutex

	pid int
	fds map[int]*Fd_t
	nextFd int

	mmaps     map[int]*Region_t
	nextMapid int

	cwd *fs.Inode_t

	fsys *fs.Fs_t
	spt  *vm.Table_t
	pd   any
	mmu  mmu.Mmu_i
}

// / New constructs a process over fsys, with its own fault resolver spt
// / and hardware address space pd, rooted at cwd.
func New(pid int, fsys *fs.Fs_t, spt *vm.Table_t, pd any, m mmu.Mmu_i, cwd *fs.Inode_t) *Process_t {
	return &Process_t{
		pid: pid, fds: make(map[int]*Fd_t), nextFd: 2,
		mmaps: make(map[int]*Region_t), nextMapid: 1,
		cwd: cwd, fsys: fsys, spt: spt, pd: pd, mmu: m,
	}
}

// / Pid returns the process's identifier.
func (p *Process_t) Pid() int { return p.pid }

// / Cwd returns the process's current directory inode.
func (p *Process_t) Cwd() *fs.Inode_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// / Chdir replaces the process's CWD with the directory at path, closing
// / the old one only after the new one resolves successfully.
func (p *Process_t) Chdir(path string) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := p.fsys.Chdir(path, p.cwd)
	if err != 0 {
		return err
	}
	p.fsys.Close(p.cwd)
	p.cwd = next
	return 0
}

func (p *Process_t) allocFd() int {
	fd := p.nextFd
	p.nextFd++
	return fd
}

// / Open opens path relative to the CWD and installs it as a new file
// / descriptor.
func (p *Process_t) Open(path string) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ino, err := p.fsys.Open(path, p.cwd)
	if err != 0 {
		return -1, err
	}
	fd := p.allocFd()
	p.fds[fd] = &Fd_t{kind: FdFile, ino: ino}
	return fd, 0
}

// / Opendir opens path as a directory descriptor.
func (p *Process_t) Opendir(path string) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.fsys.Opendir(path, p.cwd)
	if err != 0 {
		return -1, err
	}
	fd := p.allocFd()
	p.fds[fd] = &Fd_t{kind: FdDir, dir: d}
	return fd, 0
}

// / Read reads from fd at its current position, advancing it.
func (p *Process_t) Read(fd int, buf []byte) (int, defs.Err_t) {
	p.mu.Lock()
	f, ok := p.fds[fd]
	p.mu.Unlock()
	if !ok || f.kind != FdFile {
		return 0, defs.EINVAL
	}
	n, err := f.ino.ReadAt(buf, f.pos)
	if err == 0 {
		p.mu.Lock()
		f.pos += int64(n)
		p.mu.Unlock()
	}
	return n, err
}

// / Write writes to fd at its current position, advancing it.
func (p *Process_t) Write(fd int, buf []byte) (int, defs.Err_t) {
	p.mu.Lock()
	f, ok := p.fds[fd]
	p.mu.Unlock()
	if !ok || f.kind != FdFile {
		return 0, defs.EINVAL
	}
	n, err := f.ino.WriteAt(buf, f.pos)
	if err == 0 {
		p.mu.Lock()
		f.pos += int64(n)
		p.mu.Unlock()
	}
	return n, err
}

// / Readdir advances fd's directory cursor to the next visible name.
func (p *Process_t) Readdir(fd int) (string, bool, defs.Err_t) {
	p.mu.Lock()
	f, ok := p.fds[fd]
	p.mu.Unlock()
	if !ok || f.kind != FdDir {
		return "", false, defs.EINVAL
	}
	name, present := p.fsys.Readdir(f.dir)
	return name, present, 0
}

// / Close releases fd, whichever kind it holds.
func (p *Process_t) Close(fd int) defs.Err_t {
	p.mu.Lock()
	f, ok := p.fds[fd]
	if ok {
		delete(p.fds, fd)
	}
	p.mu.Unlock()
	if !ok {
		return defs.EINVAL
	}
	if f.kind == FdFile {
		return p.fsys.Close(f.ino)
	}
	return p.fsys.CloseDir(f.dir)
}

// / Mmap maps fd's file into the address space starting at uaddr,
// / rejecting a zero-length file, a non-page-aligned address, or an
// / address range that overlaps any existing mapping.
func (p *Process_t) Mmap(fd int, uaddr uintptr) (int, defs.Err_t) {
	p.mu.Lock()
	f, ok := p.fds[fd]
	p.mu.Unlock()
	if !ok || f.kind != FdFile {
		return -1, defs.EINVAL
	}
	if !defs.PageAligned(uaddr) || uaddr == 0 {
		return -1, defs.EINVAL
	}

	length := f.ino.Length()
	if length == 0 {
		return -1, defs.EINVAL
	}

	npages := int((length + defs.PGSIZE - 1) / defs.PGSIZE)
	if p.spt.Overlaps(uaddr, uintptr(npages)*defs.PGSIZE) {
		return -1, defs.EINVAL
	}

	for i := 0; i < npages; i++ {
		pageUaddr := uaddr + uintptr(i)*defs.PGSIZE
		offset := int64(i) * defs.PGSIZE
		remaining := length - offset
		readBytes := int(remaining)
		if readBytes > defs.PGSIZE {
			readBytes = defs.PGSIZE
		}
		zeroBytes := defs.PGSIZE - readBytes
		if _, err := p.spt.MapFile(pageUaddr, f.ino, offset, readBytes, zeroBytes, true, false); err != 0 {
			for j := 0; j < i; j++ {
				p.spt.Remove(uaddr + uintptr(j)*defs.PGSIZE)
			}
			return -1, err
		}
	}

	p.mu.Lock()
	mapid := p.nextMapid
	p.nextMapid++
	p.mmaps[mapid] = &Region_t{id: mapid, uaddr: uaddr, npages: npages, ino: f.ino}
	p.mu.Unlock()
	return mapid, 0
}

// / Munmap writes back any dirty pages of mapid's region and tears it
// / down.
func (p *Process_t) Munmap(mapid int) defs.Err_t {
	p.mu.Lock()
	r, ok := p.mmaps[mapid]
	if ok {
		delete(p.mmaps, mapid)
	}
	p.mu.Unlock()
	if !ok {
		return defs.EINVAL
	}

	for i := 0; i < r.npages; i++ {
		p.spt.Remove(r.uaddr + uintptr(i)*defs.PGSIZE)
	}
	return 0
}

// / Fault resolves a page fault at uaddr with the thread's current stack
// / pointer esp, the entry point the trap handler calls into.
func (p *Process_t) Fault(esp, uaddr uintptr, isWrite bool) defs.Err_t {
	_, err := p.spt.Pull(esp, uaddr, isWrite)
	return err
}

// / Exit releases every resource the process owns: its mmap regions
// / (unmapped first through Munmap, which writes resident pages back), then
// / open descriptors, the supplemental page table, the CWD reference, and
// / the hardware address space.
func (p *Process_t) Exit() {
	p.mu.Lock()
	mapids := make([]int, 0, len(p.mmaps))
	for id := range p.mmaps {
		mapids = append(mapids, id)
	}
	fds := make([]int, 0, len(p.fds))
	for fd := range p.fds {
		fds = append(fds, fd)
	}
	p.mu.Unlock()

	for _, id := range mapids {
		p.Munmap(id)
	}
	for _, fd := range fds {
		p.Close(fd)
	}

	p.spt.Destroy()
	p.fsys.Close(p.cwd)
	p.mmu.DestroyPagedir(p.pd)
}
