// Package vm is the demand-paging core: a pool of physical page frames,
// a frame table doing clock eviction over them, and a per-address-space
// supplemental page table resolving faults against memory, swap, the
// executable, or a mapped file.
package vm

import (
	"sync"

	"eduk/defs"
	"eduk/mmu"
	"eduk/swap"
)

// / Pool_t is the physical frame allocator: a fixed number of PGSIZE
// / buffers, handed out zeroed and tracked by a bitmap, the user-pool
// / analogue of palloc_get_page(PAL_USER | PAL_ZERO).
type Pool_t struct {
	mu     sync.Mutex
	bits   []byte
	pages  [][defs.PGSIZE]byte
	nframe uint
}

// / NewPool reserves n physical frames.
func NewPool(n uint) *Pool_t {
	return &Pool_t{
		bits:   make([]byte, (n+7)/8),
		pages:  make([][defs.PGSIZE]byte, n),
		nframe: n,
	}
}

// / Get hands out a zeroed frame, returning its index (the kaddr the MMU
// / facade is told about) and a pointer to its storage.
func (p *Pool_t) Get() (uint, *[defs.PGSIZE]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := uint(0); i < p.nframe; i++ {
		if p.bits[i/8]&(1<<(i%8)) == 0 {
			p.bits[i/8] |= 1 << (i % 8)
			p.pages[i] = [defs.PGSIZE]byte{}
			return i, &p.pages[i], true
		}
	}
	return 0, nil, false
}

// / Put releases frame idx back to the pool.
func (p *Pool_t) Put(idx uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bits[idx/8] &^= 1 << (idx % 8)
}

// / Entry_t is a frame-table entry: one resident physical frame and the
// / supplemental page table entry it backs. Iff an SPTE's location is
// / MEMORY or MMAPPED, exactly one Entry_t refers to it and the MMU maps
// / uaddr to this frame with the matching writable bit.
type Entry_t struct {
	idx   uint
	mem   *[defs.PGSIZE]byte
	pd    any
	uaddr uintptr
	owner any // opaque thread/process identity, for diagnostics only
	spte  *Spte_t
}

// / Mem returns the frame's backing storage.
func (e *Entry_t) Mem() *[defs.PGSIZE]byte { return e.mem }

// / FrameTable_t is the frame table: the list of resident frames plus the
// / eviction policy over them. One Table_t is shared by every address
// / space in the system, matching a single global user frame pool.
type FrameTable_t struct {
	mu      sync.Mutex
	entries []*Entry_t
	pool    *Pool_t
	mmu     mmu.Mmu_i
	swap    *swap.Swap_t
}

// / NewTable constructs a frame table over pool, backed by sw for
// / eviction of anonymous frames and driving pd mappings through m.
func NewTable(pool *Pool_t, m mmu.Mmu_i, sw *swap.Swap_t) *FrameTable_t {
	return &FrameTable_t{pool: pool, mmu: m, swap: sw}
}

// / Alloc obtains a zeroed frame for spte, installs the uaddr -> frame
// / mapping in pd, and records the frame-table entry. If the pool is
// / exhausted it evicts one resident frame first.
func (t *FrameTable_t) Alloc(spte *Spte_t, pd any, owner any, uaddr uintptr, writable bool) (*Entry_t, defs.Err_t) {
	idx, mem, ok := t.pool.Get()
	if !ok {
		if err := t.evict(); err != 0 {
			return nil, err
		}
		idx, mem, ok = t.pool.Get()
		if !ok {
			return nil, defs.ENOMEM
		}
	}

	if !t.mmu.Install(pd, uaddr, uintptr(idx), writable) {
		t.pool.Put(idx)
		return nil, defs.ENOMEM
	}

	fte := &Entry_t{idx: idx, mem: mem, pd: pd, uaddr: uaddr, owner: owner, spte: spte}
	t.mu.Lock()
	t.entries = append(t.entries, fte)
	t.mu.Unlock()
	return fte, 0
}

// / Free tears down fte's mapping and returns its frame to the pool.
func (t *FrameTable_t) Free(fte *Entry_t) {
	t.mu.Lock()
	t.removeLocked(fte)
	t.mu.Unlock()

	t.mmu.Clear(fte.pd, fte.uaddr)
	t.pool.Put(fte.idx)
}

func (t *FrameTable_t) removeLocked(fte *Entry_t) {
	for i, e := range t.entries {
		if e == fte {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// evict picks a victim with the clock algorithm, releases the frame
// table lock, and then sends the victim's contents to swap (anonymous
// memory) or back to its file (a mapped region), matching the split in
// the original eviction routine this is ported from: finding a victim and acting on it never
// overlap with another allocation's view of the table.
func (t *FrameTable_t) evict() defs.Err_t {
	t.mu.Lock()
	victim := t.findVictimLocked()
	if victim == nil {
		t.mu.Unlock()
		return defs.ENOMEM
	}
	t.removeLocked(victim)
	t.mu.Unlock()

	spte := victim.spte
	spte.mu.Lock()
	defer spte.mu.Unlock()

	switch spte.location {
	case LocMemory:
		slot, err := t.swap.Evict(victim.mem)
		if err != 0 {
			return err
		}
		t.mmu.Clear(victim.pd, victim.uaddr)
		t.pool.Put(victim.idx)
		spte.swapSlot = slot
		spte.location = LocSwap
		spte.frame = nil
	case LocMmapped:
		if _, err := spte.ino.WriteAt(victim.mem[:spte.readBytes], spte.fileOffset); err != 0 {
			return err
		}
		t.mmu.Clear(victim.pd, victim.uaddr)
		t.pool.Put(victim.idx)
		spte.location = LocFilesys
		spte.frame = nil
	default:
		panic("vm: eviction victim in an unexpected location")
	}
	return 0
}

// findVictimLocked must be called with t.mu held. Clock/second-chance:
// skip and clear any frame the MMU reports accessed, take the first one
// that isn't; if every frame has been touched this round, take the one
// at the front (the oldest allocation still resident).
func (t *FrameTable_t) findVictimLocked() *Entry_t {
	for _, e := range t.entries {
		if t.mmu.IsAccessed(e.pd, e.uaddr) {
			t.mmu.SetAccessed(e.pd, e.uaddr, false)
			continue
		}
		return e
	}
	if len(t.entries) == 0 {
		return nil
	}
	return t.entries[0]
}
