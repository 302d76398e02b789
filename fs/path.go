package fs

import (
	"strings"

	"eduk/defs"
)

// / Resolver_t is the path resolver: string path to inode,
// / absolute or CWD-relative.
type Resolver_t struct {
	inodes *Inodes_t
	root   *Inode_t
}

// / NewResolver builds a resolver rooted at root (the volume's root
// / directory inode, held open for the mount's lifetime).
func NewResolver(inodes *Inodes_t, root *Inode_t) *Resolver_t {
	return &Resolver_t{inodes: inodes, root: root}
}

func splitPath(path string) []string {
	var out []string
	for _, tok := range strings.Split(path, "/") {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// / Resolve walks path starting from root (if path is absolute) or cwd
// / (otherwise). On full success it returns the target
// / inode and its parent directory's inode, both with a +1 reference the
// / caller must Close. When only the final component is missing, it
// / returns a nil inode alongside the parent and the missing name, so the
// / caller can create the entry there; any other failure (a missing or
// / non-directory intermediate component, or an over-long token) returns
// / both nil with the failure's Err_t.
func (r *Resolver_t) Resolve(path string, cwd *Inode_t) (inode, parent *Inode_t, last string, err defs.Err_t) {
	tokens := splitPath(path)

	var cur *Inode_t
	if strings.HasPrefix(path, "/") || cwd == nil {
		cur = r.inodes.Reopen(r.root)
	} else {
		cur = r.inodes.Reopen(cwd)
	}

	if len(tokens) == 0 {
		// "/" or "" resolves to cur itself; no parent to report.
		return cur, nil, "", 0
	}

	for i, tok := range tokens {
		if len(tok) > defs.NAME_MAX {
			r.inodes.Close(cur)
			return nil, nil, "", defs.EINVAL
		}
		dir := OpenDir(cur)
		sector, ok := dir.Lookup(tok)
		isLast := i == len(tokens)-1

		if !ok {
			if isLast {
				return nil, cur, tok, defs.ENOENT
			}
			r.inodes.Close(cur)
			return nil, nil, "", defs.ENOENT
		}

		next, nerr := r.inodes.Open(sector)
		if nerr != 0 {
			r.inodes.Close(cur)
			return nil, nil, "", nerr
		}

		if isLast {
			return next, cur, tok, 0
		}

		r.inodes.Close(cur)
		if !next.IsDir() {
			r.inodes.Close(next)
			return nil, nil, "", defs.ENOTDIR
		}
		cur = next
	}

	panic("unreachable")
}
