package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduk/defs"
)

func mountedTestFs(t *testing.T) *Fs_t {
	t.Helper()
	disk := NewMemDisk(1<<16, RoleFilesys)
	require.Zero(t, Format(disk))
	fsys, err := Mount(disk)
	require.Zero(t, err)
	t.Cleanup(func() { fsys.Shutdown() })
	return fsys
}

func TestFs_CreateOpenWriteRead(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Create("/a.txt", 0, nil))

	ino, err := fsys.Open("/a.txt", nil)
	require.Zero(t, err)
	defer fsys.Close(ino)

	n, werr := ino.WriteAt([]byte("hello world"), 0)
	require.Zero(t, werr)
	require.Equal(t, 11, n)

	buf := make([]byte, 11)
	rn, rerr := ino.ReadAt(buf, 0)
	require.Zero(t, rerr)
	assert.Equal(t, "hello world", string(buf[:rn]))
}

func TestFs_CreateFailsIfAlreadyExists(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Create("/dup.txt", 0, nil))
	assert.Equal(t, defs.EEXIST, fsys.Create("/dup.txt", 0, nil))
}

func TestFs_CreateFailsIfParentMissing(t *testing.T) {
	fsys := mountedTestFs(t)
	assert.Equal(t, defs.ENOENT, fsys.Create("/missing/a.txt", 0, nil))
}

func TestFs_MkdirAndChdirAndRelativePaths(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Mkdir("/sub", nil))

	sub, err := fsys.Chdir("/sub", nil)
	require.Zero(t, err)
	defer fsys.Close(sub)

	require.Zero(t, fsys.Create("rel.txt", 0, sub))
	assert.True(t, fsys.Exists("/sub/rel.txt", nil))
	assert.True(t, fsys.Exists("rel.txt", sub))
}

func TestFs_MkdirTreeAndReaddir(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Mkdir("/a", nil))
	require.Zero(t, fsys.Mkdir("/a/b", nil))
	require.Zero(t, fsys.Create("/a/b/f1", 0, nil))
	require.Zero(t, fsys.Create("/a/b/f2", 0, nil))

	assert.True(t, fsys.Isdir("/a/b", nil))
	assert.False(t, fsys.Isdir("/a/b/f1", nil))

	d, err := fsys.Opendir("/a/b", nil)
	require.Zero(t, err)
	defer fsys.CloseDir(d)

	var names []string
	for {
		name, ok := fsys.Readdir(d)
		if !ok {
			break
		}
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"f1", "f2"}, names)
}

func TestFs_RemoveRejectsNonEmptyDirectory(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Mkdir("/d", nil))
	require.Zero(t, fsys.Create("/d/f", 0, nil))
	assert.Equal(t, defs.ENOTEMPTY, fsys.Remove("/d", nil))
}

func TestFs_RemoveRejectsRoot(t *testing.T) {
	fsys := mountedTestFs(t)
	assert.Equal(t, defs.EINVAL, fsys.Remove("/", nil))
}

func TestFs_RemoveWhileOpenDefersDelete(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Create("/doomed.txt", 0, nil))

	ino, err := fsys.Open("/doomed.txt", nil)
	require.Zero(t, err)

	require.Zero(t, fsys.Remove("/doomed.txt", nil))
	assert.False(t, fsys.Exists("/doomed.txt", nil), "name disappears immediately")

	n, werr := ino.WriteAt([]byte("still usable"), 0)
	require.Zero(t, werr)
	assert.Equal(t, 12, n, "the open inode stays usable until the last close")

	require.Zero(t, fsys.Close(ino))
}

func TestFs_OpendirOnAFileFails(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Create("/f", 0, nil))
	_, err := fsys.Opendir("/f", nil)
	assert.Equal(t, defs.ENOTDIR, err)
}

func TestFs_GrowthAcrossAFourMegabyteGap(t *testing.T) {
	fsys := mountedTestFs(t)
	require.Zero(t, fsys.Create("/big", 0, nil))
	ino, err := fsys.Open("/big", nil)
	require.Zero(t, err)
	defer fsys.Close(ino)

	n, werr := ino.WriteAt([]byte{1}, 4*1024*1024)
	require.Zero(t, werr)
	require.Equal(t, 1, n)
	assert.Equal(t, int64(4*1024*1024+1), ino.Length())
}
