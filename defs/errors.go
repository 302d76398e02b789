// Package defs holds constants and types shared across the kernel core:
// on-disk format numbers, VM geometry, and the error-kind type returned by
// nearly every core operation.
package defs

import "fmt"

// / Err_t is a kernel error kind. Zero is success; negative values name a
// / kind from the table below. Functions that can fail return Err_t as
// / their last result, following the convention of testing
// / "if err != 0" on the hot path rather than an idiomatic nil-error check.
type Err_t int

// Error kinds. Names are negative so "err != 0" remains the
// fast-path test; Error() lets Err_t satisfy the standard error interface
// for composition with fmt.Errorf/errors.Is at package boundaries.
const (
	ENOSPC   Err_t = -1 // free map or swap full
	ENOMEM   Err_t = -2 // kernel allocator exhausted
	ENOENT   Err_t = -3 // path or directory entry not found
	EEXIST   Err_t = -4 // duplicate name
	EISDIR   Err_t = -5 // expected a file, found a directory
	ENOTDIR  Err_t = -6 // expected a directory, found a file
	ENOTEMPTY Err_t = -7 // rmdir on a non-empty directory
	EIO      Err_t = -8  // device I/O error
	EPERM    Err_t = -9  // write to a deny-written executable, or unwritable page
	EINVAL   Err_t = -10 // bad argument: name too long, misaligned mmap, nil pointer
	EFAULT   Err_t = -11 // user pointer does not resolve to a mapped, permitted page
)

var names = map[Err_t]string{
	ENOSPC:    "no space left on device",
	ENOMEM:    "out of memory",
	ENOENT:    "no such file or directory",
	EEXIST:    "file exists",
	EISDIR:    "is a directory",
	ENOTDIR:   "not a directory",
	ENOTEMPTY: "directory not empty",
	EIO:       "input/output error",
	EPERM:     "operation not permitted",
	EINVAL:    "invalid argument",
	EFAULT:    "bad address",
}

// / Error satisfies the standard error interface so Err_t composes with
// / fmt.Errorf("opening %s: %w", path, err) at package boundaries.
func (e Err_t) Error() string {
	if e == 0 {
		return "success"
	}
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("err_t(%d)", int(e))
}

// / Ok reports whether e denotes success.
func (e Err_t) Ok() bool {
	return e == 0
}
