package fs

import (
	"eduk/defs"
)

// / Fs_t is the file-system API: create/open/remove/chdir/mkdir/
// / opendir/readdir/exists/isdir, built over the resolver, directory
// / engine, inode engine, free map, and sector cache.
type Fs_t struct {
	cache    *Cache_t
	fmap     *Freemap_t
	inodes   *Inodes_t
	resolver *Resolver_t
	root     *Inode_t
}

// / Root returns the mount's root directory inode (not reference-counted
// / for the caller; do not Close it).
func (fs *Fs_t) Root() *Inode_t { return fs.root }

// resolveExisting is the shared Resolve-then-unwrap path for operations
// that require the target to already exist (Open, Chdir, Opendir).
func (fs *Fs_t) resolveExisting(path string, cwd *Inode_t) (*Inode_t, defs.Err_t) {
	inode, parent, _, err := fs.resolver.Resolve(path, cwd)
	if parent != nil {
		fs.inodes.Close(parent)
	}
	if err != 0 {
		return nil, err
	}
	return inode, 0
}

// / Create makes a new file of the given initial size at path. Fails if
// / the parent doesn't exist, the final component already exists, or the
// / name is empty or longer than NAME_MAX.
func (fs *Fs_t) Create(path string, size int64, cwd *Inode_t) defs.Err_t {
	return fs.createAt(path, size, defs.KindFile, cwd)
}

// / Mkdir makes a new, empty directory at path, initializing "." and ".."
// / initializing "." and "..".
func (fs *Fs_t) Mkdir(path string, cwd *Inode_t) defs.Err_t {
	return fs.createAt(path, 0, defs.KindDir, cwd)
}

func (fs *Fs_t) createAt(path string, size int64, kind defs.InodeKind, cwd *Inode_t) defs.Err_t {
	inode, parent, name, err := fs.resolver.Resolve(path, cwd)
	if err == 0 {
		if inode != nil {
			fs.inodes.Close(inode)
		}
		if parent != nil {
			fs.inodes.Close(parent)
		}
		return defs.EEXIST
	}
	if parent == nil {
		return err
	}
	defer fs.inodes.Close(parent)

	sector, aerr := fs.fmap.Alloc()
	if aerr != 0 {
		return aerr
	}
	if cerr := fs.inodes.Create(sector, size, kind); cerr != 0 {
		fs.fmap.Free(sector)
		return cerr
	}

	ino, operr := fs.inodes.Open(sector)
	if operr != 0 {
		fs.fmap.Free(sector)
		return operr
	}

	if kind == defs.KindDir {
		if ierr := InitDirEntries(ino, sector, parent.Sector()); ierr != 0 {
			fs.inodes.Remove(ino)
			fs.inodes.Close(ino)
			return ierr
		}
	}

	pdir := OpenDir(parent)
	if derr := pdir.Add(name, sector); derr != 0 {
		fs.inodes.Remove(ino)
		fs.inodes.Close(ino)
		return derr
	}

	fs.inodes.Close(ino)
	return 0
}

// / Open returns the inode at path with a +1 reference the caller must
// / Close.
func (fs *Fs_t) Open(path string, cwd *Inode_t) (*Inode_t, defs.Err_t) {
	return fs.resolveExisting(path, cwd)
}

// / Remove unlinks path. Removing a directory fails if it is non-empty or
// / is the root. Removing a file whose inode is still open is legal: the
// / on-disk delete is deferred to last close.
func (fs *Fs_t) Remove(path string, cwd *Inode_t) defs.Err_t {
	inode, parent, name, err := fs.resolver.Resolve(path, cwd)
	if err != 0 {
		if parent != nil {
			fs.inodes.Close(parent)
		}
		return err
	}
	if parent == nil {
		// path resolved to "/" itself: the root has no parent to unlink
		// it from, and removing the root is forbidden regardless.
		fs.inodes.Close(inode)
		return defs.EINVAL
	}

	if inode.IsDir() {
		d := OpenDir(inode)
		if !d.IsEmpty() {
			fs.inodes.Close(inode)
			fs.inodes.Close(parent)
			return defs.ENOTEMPTY
		}
		_ = name
	}

	pdir := OpenDir(parent)
	if derr := pdir.Remove(name); derr != 0 {
		fs.inodes.Close(inode)
		fs.inodes.Close(parent)
		return derr
	}

	fs.inodes.Remove(inode)
	fs.inodes.Close(inode)
	fs.inodes.Close(parent)
	return 0
}

// / Chdir resolves path and returns the directory inode to install as the
// / new CWD; the caller is responsible for closing the old CWD.
func (fs *Fs_t) Chdir(path string, cwd *Inode_t) (*Inode_t, defs.Err_t) {
	inode, err := fs.resolveExisting(path, cwd)
	if err != 0 {
		return nil, err
	}
	if !inode.IsDir() {
		fs.inodes.Close(inode)
		return nil, defs.ENOTDIR
	}
	return inode, 0
}

// / Opendir returns a directory handle for path.
func (fs *Fs_t) Opendir(path string, cwd *Inode_t) (*Dir_t, defs.Err_t) {
	inode, err := fs.resolveExisting(path, cwd)
	if err != 0 {
		return nil, err
	}
	if !inode.IsDir() {
		fs.inodes.Close(inode)
		return nil, defs.ENOTDIR
	}
	return OpenDir(inode), 0
}

// / Readdir advances handle's cursor to the next visible name.
func (fs *Fs_t) Readdir(handle *Dir_t) (string, bool) {
	return handle.Readdir()
}

// / CloseDir releases a directory handle's backing inode reference.
func (fs *Fs_t) CloseDir(handle *Dir_t) defs.Err_t {
	return fs.inodes.Close(handle.Ino)
}

// / Exists reports whether path names a live file or directory.
func (fs *Fs_t) Exists(path string, cwd *Inode_t) bool {
	inode, parent, _, err := fs.resolver.Resolve(path, cwd)
	if parent != nil {
		fs.inodes.Close(parent)
	}
	if err != 0 {
		return false
	}
	fs.inodes.Close(inode)
	return true
}

// / Isdir reports whether path names a directory.
func (fs *Fs_t) Isdir(path string, cwd *Inode_t) bool {
	inode, parent, _, err := fs.resolver.Resolve(path, cwd)
	if parent != nil {
		fs.inodes.Close(parent)
	}
	if err != 0 {
		return false
	}
	isdir := inode.IsDir()
	fs.inodes.Close(inode)
	return isdir
}

// / Close releases an open file or directory inode's reference, per
// / (used by fd close paths in the process/mmap glue).
func (fs *Fs_t) Close(ino *Inode_t) defs.Err_t {
	return fs.inodes.Close(ino)
}
