package fd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rvos/pkg/abi"
	"rvos/pkg/vfs"
	"rvos/pkg/vfs/devfs"
	"rvos/pkg/vfs/memfs"
)

type closeCounter struct {
	*memfs.File
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func newTable(t *testing.T, max int) *Table {
	t.Helper()
	c := devfs.NewConsole(nil, nil, nil)
	return NewTable(c.Stdin, c.Stdout, c.Stderr, max)
}

func openFile(t *testing.T, tbl *Table, n vfs.INode, flags abi.OpenFlags) int {
	t.Helper()
	fd, err := tbl.Alloc(NewDescriptor(NewOpenFile("/f", n, flags), flags))
	require.NoError(t, err)
	return fd
}

func TestStandardSlots(t *testing.T) {
	tbl := newTable(t, 0)
	assert.Equal(t, 3, tbl.Len())

	in, err := tbl.Get(0)
	require.NoError(t, err)
	assert.True(t, in.Readable)
	assert.False(t, in.Writable)

	out, err := tbl.Get(1)
	require.NoError(t, err)
	assert.True(t, out.Writable)
	assert.Equal(t, "/dev/stdout", out.File.Path())

	_, err = tbl.Get(3)
	assert.ErrorIs(t, err, abi.EBADF)
}

func TestDupSharesCursor(t *testing.T) {
	tbl := newTable(t, 0)
	f := memfs.NewFile(nil)
	fd := openFile(t, tbl, f, abi.O_RDWR)

	nfd, err := tbl.Dup(fd)
	require.NoError(t, err)
	assert.NotEqual(t, fd, nfd)

	d, _ := tbl.Get(nfd)
	_, err = d.File.Write([]byte("abc"))
	require.NoError(t, err)

	orig, _ := tbl.Get(fd)
	assert.Equal(t, int64(3), orig.File.Offset())
	assert.Equal(t, int64(2), orig.File.Refs())
}

func TestDupReusesLowestClosedSlot(t *testing.T) {
	tbl := newTable(t, 0)
	a := openFile(t, tbl, memfs.NewFile(nil), abi.O_RDONLY)
	b := openFile(t, tbl, memfs.NewFile(nil), abi.O_RDONLY)
	require.NoError(t, tbl.Close(a))
	require.NoError(t, tbl.Close(1))

	nfd, err := tbl.Dup(b)
	require.NoError(t, err)
	assert.Equal(t, 1, nfd)
	nfd, err = tbl.Dup(b)
	require.NoError(t, err)
	assert.Equal(t, a, nfd)
	nfd, err = tbl.Dup(b)
	require.NoError(t, err)
	assert.Equal(t, 5, nfd)

	_, err = tbl.Dup(99)
	assert.ErrorIs(t, err, abi.EBADF)
}

func TestCloseIsIdempotent(t *testing.T) {
	tbl := newTable(t, 0)
	n := &closeCounter{File: memfs.NewFile(nil)}
	fd := openFile(t, tbl, n, abi.O_RDONLY)

	require.NoError(t, tbl.Close(fd))
	require.NoError(t, tbl.Close(fd))
	assert.Equal(t, 1, n.closes)
	assert.ErrorIs(t, tbl.Close(fd+1), abi.EBADF)
	assert.ErrorIs(t, tbl.Close(-1), abi.EBADF)

	_, err := tbl.Get(fd)
	assert.ErrorIs(t, err, abi.EBADF)
}

func TestDup3GrowsTable(t *testing.T) {
	tbl := newTable(t, 0)
	fd := openFile(t, tbl, memfs.NewFile(nil), abi.O_WRONLY)

	got, err := tbl.Dup3(fd, 10, abi.O_CLOEXEC)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.Equal(t, 11, tbl.Len())
	for i := 4; i < 10; i++ {
		d, ok := tbl.Slot(i)
		require.True(t, ok)
		assert.True(t, d.Closed(), "slot %d", i)
	}
	d, err := tbl.Get(10)
	require.NoError(t, err)
	assert.True(t, d.CloseOnExec)

	// Growth placeholders are reusable by dup.
	nfd, err := tbl.Dup(fd)
	require.NoError(t, err)
	assert.Equal(t, 4, nfd)

	_, err = tbl.Dup3(fd, DefaultMaxFiles, 0)
	assert.ErrorIs(t, err, abi.EBADF)
}

func TestDup3ReplacesOpenSlot(t *testing.T) {
	tbl := newTable(t, 0)
	victim := &closeCounter{File: memfs.NewFile(nil)}
	a := openFile(t, tbl, memfs.NewFile(nil), abi.O_RDONLY)
	b := openFile(t, tbl, victim, abi.O_RDONLY)

	_, err := tbl.Dup3(a, b, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, victim.closes)
	da, _ := tbl.Get(a)
	db, _ := tbl.Get(b)
	assert.Same(t, da.File, db.File)
}

func TestDup3OntoItself(t *testing.T) {
	tbl := newTable(t, 0)
	f := &closeCounter{File: memfs.NewFile(nil)}
	fd := openFile(t, tbl, f, abi.O_RDWR)

	got, err := tbl.Dup3(fd, fd, abi.O_CLOEXEC)
	require.NoError(t, err)
	assert.Equal(t, fd, got)
	assert.Zero(t, f.closes)
	d, err := tbl.Get(fd)
	require.NoError(t, err)
	assert.True(t, d.Readable)
	assert.True(t, d.CloseOnExec)

	require.NoError(t, tbl.Close(fd))
	assert.Equal(t, 1, f.closes)
}

func TestTableLimit(t *testing.T) {
	tbl := newTable(t, 4)
	openFile(t, tbl, memfs.NewFile(nil), abi.O_RDONLY)
	_, err := tbl.Alloc(NewDescriptor(NewOpenFile("/g", memfs.NewFile(nil), 0), 0))
	assert.ErrorIs(t, err, abi.EMFILE)
	_, err = tbl.Dup(0)
	assert.ErrorIs(t, err, abi.EMFILE)
}

func TestCloneAndShare(t *testing.T) {
	tbl := newTable(t, 0)
	n := &closeCounter{File: memfs.NewFile(nil)}
	fd := openFile(t, tbl, n, abi.O_RDONLY)

	clone := tbl.Clone()
	require.NoError(t, clone.Close(fd))
	assert.Equal(t, 0, n.closes)
	_, err := tbl.Get(fd)
	assert.NoError(t, err)

	shared := tbl.Share()
	shared.Release()
	_, err = tbl.Get(fd)
	assert.NoError(t, err, "table still has a user")

	tbl.Release()
	assert.Equal(t, 1, n.closes)
	clone.Release()
}

func TestCloseOnExec(t *testing.T) {
	tbl := newTable(t, 0)
	keep := openFile(t, tbl, memfs.NewFile(nil), abi.O_RDONLY)
	drop := openFile(t, tbl, memfs.NewFile(nil), abi.O_RDONLY|abi.O_CLOEXEC)
	tbl.CloseOnExec()
	_, err := tbl.Get(keep)
	assert.NoError(t, err)
	_, err = tbl.Get(drop)
	assert.ErrorIs(t, err, abi.EBADF)
}

func TestFind(t *testing.T) {
	tbl := newTable(t, 0)
	n := memfs.NewFile(nil)
	fd := openFile(t, tbl, n, abi.O_RDONLY)
	got, ok := tbl.Find(n)
	assert.True(t, ok)
	assert.Equal(t, fd, got)
	_, ok = tbl.Find(memfs.NewFile(nil))
	assert.False(t, ok)
}

func TestOpenFileAppend(t *testing.T) {
	n := memfs.NewFile([]byte("xy"))
	f := NewOpenFile("/a", n, abi.O_WRONLY|abi.O_APPEND)
	_, err := f.Write([]byte("z"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(n.Bytes()))
	assert.Equal(t, int64(3), f.Offset())

	r := NewOpenFile("/a", n, abi.O_RDONLY)
	buf := make([]byte, 2)
	k, err := r.Read(nil, buf)
	require.NoError(t, err)
	assert.Equal(t, "xy", string(buf[:k]))
	k, _ = r.Read(nil, buf)
	assert.Equal(t, "z", string(buf[:k]))
	k, _ = r.Read(nil, buf)
	assert.Equal(t, 0, k)
}

func TestReadDir(t *testing.T) {
	inodes := vfs.NewInodeTable()
	dir := memfs.NewDir()
	require.NoError(t, dir.Link("bin", memfs.NewDir()))
	require.NoError(t, dir.Link("init", memfs.NewFile(nil)))

	f := NewOpenFile("/", dir, abi.O_RDONLY|abi.O_DIRECTORY)
	first := (&abi.Dirent64{Name: "bin"}).RecLen()

	// Only one record fits.
	b, err := f.ReadDir(inodes, first)
	require.NoError(t, err)
	assert.Len(t, b, first)
	assert.Equal(t, "bin", string(b[19:22]))
	assert.Equal(t, uint8(abi.DT_DIR), b[18])

	b, err = f.ReadDir(inodes, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint8(abi.DT_REG), b[18])

	b, err = f.ReadDir(inodes, 4096)
	require.NoError(t, err)
	assert.Empty(t, b)

	_, err = NewOpenFile("/", dir, 0).ReadDir(inodes, 8)
	assert.ErrorIs(t, err, abi.EINVAL)
}

func TestReadDirFallsBackToDot(t *testing.T) {
	inodes := vfs.NewInodeTable()
	f := NewOpenFile("/f", memfs.NewFile(nil), abi.O_RDONLY)
	b, err := f.ReadDir(inodes, 4096)
	require.NoError(t, err)
	require.NotEmpty(t, b)
	assert.Equal(t, byte('.'), b[19])
	assert.Equal(t, byte(0), b[20])

	b, err = f.ReadDir(inodes, 4096)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestStat(t *testing.T) {
	inodes := vfs.NewInodeTable()
	n := memfs.NewFile([]byte("hello"))
	st := NewOpenFile("/a", n, 0).Stat(inodes)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, uint32(abi.S_IFREG|0o644), st.Mode)
	assert.Equal(t, uint64(1), st.Ino)
	assert.Len(t, st.Encode(), abi.StatSize)
}

func TestOpenFileTable(t *testing.T) {
	o := NewOpenFileTable()
	f := NewOpenFile("/x", memfs.NewFile(nil), 0)
	o.Insert(f)
	got, ok := o.Get("/x")
	assert.True(t, ok)
	assert.Same(t, f, got)
	o.Remove("/x")
	assert.Equal(t, 0, o.Len())
}
