package fs

import (
	"eduk/defs"
	"eduk/klog"
)

// / Format writes a fresh volume onto disk: an empty free map (with its own
// / sectors, the free-map record sector, and the root directory's sector
// / reserved) and a root directory inode initialized with "." and ".." both
// / pointing at itself.
func Format(disk Disk_i) defs.Err_t {
	total := disk.Size()
	cache := NewCache(disk)

	fmap := NewFreemap(total)
	inodes := NewInodes(cache, fmap)

	if err := inodes.Create(defs.ROOT_SECTOR, 0, defs.KindDir); err != 0 {
		return err
	}
	root, err := inodes.Open(defs.ROOT_SECTOR)
	if err != 0 {
		return err
	}
	if err := InitDirEntries(root, defs.ROOT_SECTOR, defs.ROOT_SECTOR); err != 0 {
		return err
	}
	if err := inodes.Close(root); err != 0 {
		return err
	}
	if err := fmap.Flush(cache); err != 0 {
		return err
	}
	return cache.Flush()
}

// / Mount brings up an Fs_t over an already-formatted disk: loads the free
// / map, opens the root directory, and starts the cache's read-ahead and
// / write-behind daemons.
func Mount(disk Disk_i) (*Fs_t, defs.Err_t) {
	cache := NewCache(disk)
	cache.Start()

	fmap, err := LoadFreemap(cache, disk.Size())
	if err != 0 {
		return nil, err
	}
	inodes := NewInodes(cache, fmap)

	root, err := inodes.Open(defs.ROOT_SECTOR)
	if err != 0 {
		return nil, err
	}
	resolver := NewResolver(inodes, root)

	klog.Info("fs: mounted", "sectors", disk.Size(), "allocated", fmap.Count())
	return &Fs_t{
		cache:    cache,
		fmap:     fmap,
		inodes:   inodes,
		resolver: resolver,
		root:     root,
	}, 0
}

// / Shutdown tears down the mount in the fixed order: stop the write-behind
// / daemon, stop the read-ahead daemon, flush every dirty cache entry, and
// / only then serialize the free map back to its reserved sectors.
func (fs *Fs_t) Shutdown() defs.Err_t {
	fs.inodes.Close(fs.root)

	if err := fs.cache.Shutdown(); err != 0 {
		klog.Errorf(err, "fs: cache shutdown failed")
		return err
	}
	// the free map's serialized form goes through the same cache, so it
	// needs one more flush pass once the daemons are down and it has been
	// written into cache entries.
	if err := fs.fmap.Flush(fs.cache); err != 0 {
		klog.Errorf(err, "fs: free map flush failed")
		return err
	}
	if err := fs.cache.Flush(); err != 0 {
		klog.Errorf(err, "fs: final flush failed")
		return err
	}
	klog.Info("fs: unmounted")
	return 0
}
