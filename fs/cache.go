package fs

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"eduk/defs"
	"eduk/klog"
)

// FlushInterval is how often the write-behind daemon fires.
const FlushInterval = 3 * time.Second

// raQueueCap bounds the read-ahead FIFO; a hint that doesn't fit is simply
// dropped (a hint that can't be queued is simply
// drops the hint").
const raQueueCap = 32

// entry_t is one sector-cache slot. sector/valid/dirty/accessed/pinned are
// the cache directory's metadata, protected by Cache_t.dirmu; data is
// protected by the entry's own mutex so a reader copying bytes out doesn't
// race a concurrent Write's copy in.
type entry_t struct {
	mu   sync.Mutex
	data [defs.SECTOR_SIZE]byte

	sector   uint32
	valid    bool
	dirty    bool
	accessed bool
	pinned   bool // in-flight I/O; skipped by eviction
}

// / Cache_t is the fixed 64-entry write-back sector cache. It is
// / the only gateway to the underlying Disk_i.
type Cache_t struct {
	dirmu   sync.Mutex // cache-directory lock
	entries [defs.CACHE_SIZE]*entry_t
	disk    Disk_i

	sf singleflight.Group // collapses concurrent misses on one sector

	raMu    sync.Mutex
	raCond  *sync.Cond
	raQueue []uint32
	raTerm  bool

	wbTerm chan struct{} // single-slot terminate signal

	eg       *errgroup.Group
	started  bool
	shutOnce sync.Once
}

// / NewCache constructs a cache over disk with all entries empty.
func NewCache(disk Disk_i) *Cache_t {
	c := &Cache_t{disk: disk, wbTerm: make(chan struct{}, 1)}
	for i := range c.entries {
		c.entries[i] = &entry_t{sector: defs.SECTOR_NONE}
	}
	c.raCond = sync.NewCond(&c.raMu)
	return c
}

// / Start launches the read-ahead and write-behind daemons under an
// / errgroup that Shutdown waits on. Neither daemon returns an error.
func (c *Cache_t) Start() {
	if c.started {
		return
	}
	c.started = true
	c.eg = &errgroup.Group{}
	c.eg.Go(c.readAheadDaemon)
	c.eg.Go(c.writeBehindDaemon)
}

// / Read ensures sector is resident and copies its contents into out.
func (c *Cache_t) Read(sector uint32, out *[defs.SECTOR_SIZE]byte) defs.Err_t {
	e, err := c.pull(sector)
	if err != 0 {
		return err
	}
	e.mu.Lock()
	*out = e.data
	e.mu.Unlock()
	return 0
}

// / Write ensures sector is resident, overwrites it, and marks it dirty.
func (c *Cache_t) Write(sector uint32, in *[defs.SECTOR_SIZE]byte) defs.Err_t {
	e, err := c.pull(sector)
	if err != 0 {
		return err
	}
	e.mu.Lock()
	e.data = *in
	e.mu.Unlock()

	c.dirmu.Lock()
	e.dirty = true
	e.accessed = true
	c.dirmu.Unlock()
	return 0
}

// / Flush writes every dirty, valid entry back to disk and clears dirty.
// / It is a barrier: on return, every write issued before the call is
// / durable.
func (c *Cache_t) Flush() defs.Err_t {
	c.dirmu.Lock()
	defer c.dirmu.Unlock()
	var first defs.Err_t
	for _, e := range c.entries {
		if !e.valid || !e.dirty {
			continue
		}
		e.mu.Lock()
		data := e.data
		e.mu.Unlock()
		if err := c.disk.Write(e.sector, &data); err != 0 {
			klog.Errorf(err, "cache: flush write failed", "sector", e.sector)
			if first == 0 {
				first = err
			}
			continue
		}
		e.dirty = false
	}
	return first
}

// / ReadAhead enqueues a non-blocking residency hint for sector. It never
// / blocks the caller and silently drops the hint if the queue is full.
func (c *Cache_t) ReadAhead(sector uint32) {
	c.raMu.Lock()
	defer c.raMu.Unlock()
	if c.raTerm || len(c.raQueue) >= raQueueCap {
		return
	}
	c.raQueue = append(c.raQueue, sector)
	c.raCond.Signal()
}

// / Shutdown stops both daemons and flushes all dirty entries, guaranteeing
// / they reach disk before the caller (typically filesys_done) proceeds.
func (c *Cache_t) Shutdown() defs.Err_t {
	var ret defs.Err_t
	c.shutOnce.Do(func() {
		if c.started {
			// terminate write-behind, then read-ahead
			select {
			case c.wbTerm <- struct{}{}:
			default:
			}
			c.raMu.Lock()
			c.raTerm = true
			c.raCond.Signal()
			c.raMu.Unlock()
			if err := c.eg.Wait(); err != nil {
				klog.Errorf(err, "cache: daemon exited with error")
				ret = defs.EIO
			}
		}
		if err := c.Flush(); err != 0 && ret == 0 {
			ret = err
		}
	})
	return ret
}

func (c *Cache_t) readAheadDaemon() error {
	for {
		c.raMu.Lock()
		for len(c.raQueue) == 0 && !c.raTerm {
			c.raCond.Wait()
		}
		if c.raTerm && len(c.raQueue) == 0 {
			c.raMu.Unlock()
			return nil
		}
		sector := c.raQueue[0]
		c.raQueue = c.raQueue[1:]
		c.raMu.Unlock()

		if _, err := c.pull(sector); err != 0 {
			klog.Debug("cache: read-ahead miss", "sector", sector, "err", err)
		}
	}
}

func (c *Cache_t) writeBehindDaemon() error {
	t := time.NewTicker(FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-c.wbTerm:
			return nil
		case <-t.C:
			c.Flush()
		}
	}
}

// pull ensures sector is resident, returning its entry. It is the single
// entry point for both Read and Write.
func (c *Cache_t) pull(sector uint32) (*entry_t, defs.Err_t) {
	if e := c.lookup(sector); e != nil {
		return e, 0
	}
	key := sectorKey(sector)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.fetch(sector)
	})
	if err != nil {
		return nil, err.(defs.Err_t)
	}
	return v.(*entry_t), 0
}

func (c *Cache_t) lookup(sector uint32) *entry_t {
	c.dirmu.Lock()
	defer c.dirmu.Unlock()
	for _, e := range c.entries {
		// A pinned entry is mid-eviction: its sector/valid/data fields are
		// being rewritten outside dirmu by fetch's own I/O phase, so it must
		// not be handed out as a hit here. Treating it as a miss routes the
		// caller back through fetch's singleflight-keyed path instead of
		// racing fetch's writeback/read/overwrite sequence directly.
		if e.pinned {
			continue
		}
		if e.valid && e.sector == sector {
			e.accessed = true
			return e
		}
	}
	return nil
}

// fetch installs sector into a victim slot, evicting (and writing back if
// dirty) whatever was there. The directory lock is held only for metadata
// bookkeeping; the device I/O for writeback and the fetch itself happens
// outside it, which is why the victim is pinned while busy and why
// singleflight keys fetches by sector, since any cache miss may block
// on device I/O.
func (c *Cache_t) fetch(sector uint32) (*entry_t, error) {
	if e := c.lookup(sector); e != nil {
		return e, nil
	}

	c.dirmu.Lock()
	victim := c.findVictimLocked()
	wasValid, wasDirty, oldSector := victim.valid, victim.dirty, victim.sector
	victim.pinned = true
	c.dirmu.Unlock()

	if wasValid && wasDirty {
		victim.mu.Lock()
		snapshot := victim.data
		victim.mu.Unlock()
		if err := c.disk.Write(oldSector, &snapshot); err != 0 {
			klog.Errorf(err, "cache: eviction writeback failed", "sector", oldSector)
		}
	}

	var buf [defs.SECTOR_SIZE]byte
	if err := c.disk.Read(sector, &buf); err != 0 {
		c.dirmu.Lock()
		victim.pinned = false
		c.dirmu.Unlock()
		return nil, err
	}

	victim.mu.Lock()
	victim.data = buf
	victim.mu.Unlock()

	c.dirmu.Lock()
	victim.sector = sector
	victim.valid = true
	victim.dirty = false
	victim.accessed = true
	victim.pinned = false
	c.dirmu.Unlock()
	return victim, nil
}

// findVictimLocked must be called with dirmu held. It prefers an invalid
// slot, else runs a clock (second-chance) sweep over the entries, skipping
// any slot already pinned by another in-flight eviction.
func (c *Cache_t) findVictimLocked() *entry_t {
	for _, e := range c.entries {
		if !e.valid && !e.pinned {
			return e
		}
	}
	for _, e := range c.entries {
		if e.pinned {
			continue
		}
		if e.accessed {
			e.accessed = false
			continue
		}
		return e
	}
	for _, e := range c.entries {
		if !e.pinned {
			return e
		}
	}
	// every entry pinned: degenerate, but never reached in practice since
	// only a fetch's own victim is ever pinned at a time under dirmu.
	return c.entries[0]
}

func sectorKey(sector uint32) string {
	const hex = "0123456789abcdef"
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = hex[(sector>>(4*i))&0xf]
	}
	return string(b[:])
}
