package vm

import (
	"sync"

	"eduk/defs"
	"eduk/fs"
	"eduk/mmu"
	"eduk/swap"
)

// / Location is the state a supplemental page table entry occupies in the
// / location state machine.
type Location int

const (
	LocZero    Location = iota // lazily zero-filled, not yet backed by a frame
	LocMemory                  // resident, backed by an anonymous frame
	LocSwap                    // not resident, contents live in a swap slot
	LocExec                    // not yet loaded, backed by a read-only executable segment
	LocFilesys                 // not resident, backed by a mapped file region
	LocMmapped                 // resident, backed by a mapped file region
	LocError                   // terminal: a prior operation on this page failed
)

// / Spte_t is one supplemental page table entry.
type Spte_t struct {
	mu       sync.Mutex
	uaddr    uintptr
	location Location
	writable bool

	frame *Entry_t // valid iff location is MEMORY or MMAPPED

	swapSlot uint // valid iff location is SWAP

	ino        *fs.Inode_t // valid iff location is EXEC, FILESYS, or MMAPPED
	fileOffset int64
	readBytes  int
	zeroBytes  int
}

// / Uaddr returns the page-aligned user virtual address this entry covers.
func (s *Spte_t) Uaddr() uintptr { return s.uaddr }

// / Location returns the entry's current state, for tests and diagnostics.
func (s *Spte_t) Location() Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// isStackVaddr: a fault below the
// mapped region but within StackGrowSlack bytes of esp, and above
// StackLimit, is a stack-growth candidate rather than a segfault.
func isStackVaddr(esp, uaddr uintptr) bool {
	return uaddr >= defs.StackLimit && uaddr+defs.StackGrowSlack >= esp
}

// / Table_t is one address space's supplemental page table: every page the
// / address space has registered, resident or not, keyed by its
// / page-aligned user address.
type Table_t struct {
	mu      sync.RWMutex
	entries map[uintptr]*Spte_t

	pd    any
	owner any
	ft    *FrameTable_t
	sw    *swap.Swap_t
	m     mmu.Mmu_i
}

// NewSpTable constructs an empty supplemental page table for one address
// space. owner is an opaque identity threaded through to frame-table
// entries for diagnostics.
func NewSpTable(pd any, owner any, ft *FrameTable_t, sw *swap.Swap_t, m mmu.Mmu_i) *Table_t {
	return &Table_t{entries: make(map[uintptr]*Spte_t), pd: pd, owner: owner, ft: ft, sw: sw, m: m}
}

func (t *Table_t) insert(spte *Spte_t) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[spte.uaddr]; ok {
		return false
	}
	t.entries[spte.uaddr] = spte
	return true
}

// / Find returns the entry covering uaddr's page, if any.
func (t *Table_t) Find(uaddr uintptr) (*Spte_t, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[defs.PageRounddown(uaddr)]
	return e, ok
}

// / Overlaps reports whether any page in [uaddr, uaddr+size) already has
// / an entry, the check mmap uses to reject an overlapping request.
func (t *Table_t) Overlaps(uaddr uintptr, size uintptr) bool {
	end := uaddr + size
	for p := defs.PageRounddown(uaddr); p < end; p += defs.PGSIZE {
		if _, ok := t.Find(p); ok {
			return true
		}
	}
	return false
}

// / Alloc creates a fresh anonymous page at uaddr and eagerly backs it
// / with a zeroed frame, the path a stack-growth fault takes.
func (t *Table_t) Alloc(uaddr uintptr, writable bool) (*Spte_t, defs.Err_t) {
	spte := &Spte_t{uaddr: defs.PageRounddown(uaddr), location: LocMemory, writable: writable}
	fte, err := t.ft.Alloc(spte, t.pd, t.owner, spte.uaddr, writable)
	if err != 0 {
		return nil, err
	}
	spte.frame = fte
	if !t.insert(spte) {
		t.ft.Free(fte)
		return nil, defs.EINVAL
	}
	return spte, 0
}

// / MarkZero registers a lazily zero-filled page (e.g. a BSS page) that
// / gets its frame on first touch.
func (t *Table_t) MarkZero(uaddr uintptr, writable bool) (*Spte_t, defs.Err_t) {
	spte := &Spte_t{uaddr: defs.PageRounddown(uaddr), location: LocZero, writable: writable}
	if !t.insert(spte) {
		return nil, defs.EINVAL
	}
	return spte, 0
}

// / MapFile registers a page backed by ino at fileOffset: readBytes come
// / from the file and the remaining zeroBytes are zero-filled on load.
// / exec marks a read-only executable segment page (which, once loaded,
// / behaves like ordinary anonymous memory for eviction purposes) versus
// / an mmap'd region (which writes back to ino on eviction).
func (t *Table_t) MapFile(uaddr uintptr, ino *fs.Inode_t, fileOffset int64, readBytes, zeroBytes int, writable, exec bool) (*Spte_t, defs.Err_t) {
	loc := LocFilesys
	if exec {
		loc = LocExec
	}
	spte := &Spte_t{
		uaddr: defs.PageRounddown(uaddr), location: loc, writable: writable,
		ino: ino, fileOffset: fileOffset, readBytes: readBytes, zeroBytes: zeroBytes,
	}
	if !t.insert(spte) {
		return nil, defs.EINVAL
	}
	return spte, 0
}

// / Pull resolves a fault at uaddr against esp (the faulting thread's
// / user stack pointer, needed to tell a legitimate stack-growth access
// / from a wild pointer) and isWrite (a write to a read-only page is
// / rejected instead of serviced), the central dispatch of the location
// / state machine.
func (t *Table_t) Pull(esp, uaddr uintptr, isWrite bool) (*Spte_t, defs.Err_t) {
	spte, ok := t.Find(uaddr)
	if !ok {
		if !isStackVaddr(esp, uaddr) {
			return nil, defs.EFAULT
		}
		return t.Alloc(uaddr, true)
	}

	if isWrite && !spte.writable {
		return nil, defs.EFAULT
	}

	spte.mu.Lock()
	defer spte.mu.Unlock()

	switch spte.location {
	case LocZero:
		fte, err := t.ft.Alloc(spte, t.pd, t.owner, spte.uaddr, spte.writable)
		if err != 0 {
			return nil, err
		}
		spte.frame = fte
		spte.location = LocMemory

	case LocMemory, LocMmapped:
		// already resident

	case LocSwap:
		fte, err := t.ft.Alloc(spte, t.pd, t.owner, spte.uaddr, spte.writable)
		if err != 0 {
			return nil, err
		}
		if err := t.sw.Reclaim(spte.swapSlot, fte.mem); err != 0 {
			t.ft.Free(fte)
			return nil, err
		}
		spte.swapSlot = defs.SwapNone
		spte.frame = fte
		spte.location = LocMemory

	case LocExec, LocFilesys:
		fte, err := t.ft.Alloc(spte, t.pd, t.owner, spte.uaddr, spte.writable)
		if err != 0 {
			return nil, err
		}
		if _, rerr := spte.ino.ReadAt(fte.mem[:spte.readBytes], spte.fileOffset); rerr != 0 {
			t.ft.Free(fte)
			return nil, rerr
		}
		for i := spte.readBytes; i < spte.readBytes+spte.zeroBytes; i++ {
			fte.mem[i] = 0
		}
		spte.frame = fte
		if spte.location == LocExec {
			spte.location = LocMemory
		} else {
			spte.location = LocMmapped
		}

	default:
		return nil, defs.EFAULT
	}
	return spte, 0
}

// / Writeback writes an MMAPPED entry's frame back to its file, then frees
// / the frame and leaves the entry FILESYS; the munmap path.
func (t *Table_t) Writeback(spte *Spte_t) defs.Err_t {
	spte.mu.Lock()
	defer spte.mu.Unlock()
	if spte.location != LocMmapped {
		return 0
	}
	_, err := spte.ino.WriteAt(spte.frame.mem[:spte.readBytes], spte.fileOffset)
	if err != 0 {
		return err
	}
	t.ft.Free(spte.frame)
	spte.frame = nil
	spte.location = LocFilesys
	return 0
}

// / Remove releases uaddr's entry's resources per its location and drops
// / it from the table: a swap slot is freed, a resident frame is freed
// / (tearing down its MMU mapping), a mapped file's frame (if still
// / resident) is written back first. Zero, exec-not-loaded, and
// / filesys-not-resident entries own nothing extra to release.
func (t *Table_t) Remove(uaddr uintptr) {
	t.mu.Lock()
	spte, ok := t.entries[uaddr]
	if ok {
		delete(t.entries, uaddr)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	spte.mu.Lock()
	switch spte.location {
	case LocSwap:
		t.sw.Free(spte.swapSlot)
	case LocMemory:
		t.ft.Free(spte.frame)
	case LocMmapped:
		spte.mu.Unlock()
		t.Writeback(spte)
		spte.mu.Lock()
	}
	spte.mu.Unlock()
}

// / Destroy releases every entry's resources, the process-exit path.
func (t *Table_t) Destroy() {
	t.mu.RLock()
	uaddrs := make([]uintptr, 0, len(t.entries))
	for u := range t.entries {
		uaddrs = append(uaddrs, u)
	}
	t.mu.RUnlock()
	for _, u := range uaddrs {
		t.Remove(u)
	}
}
