package memfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfs "rvos/pkg/vfs"
)

func TestFileReadWrite(t *testing.T) {
	f := NewFile([]byte("hello"))

	buf := make([]byte, 3)
	n, err := f.ReadAt(1, buf)
	require.NoError(t, err)
	assert.Equal(t, "ell", string(buf[:n]))

	n, err = f.ReadAt(5, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.WriteAt(7, []byte("!"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\x00\x00!"), f.Bytes())
	assert.Equal(t, int64(8), f.Metadata().Size)

	require.NoError(t, f.Truncate(2))
	assert.Equal(t, "he", string(f.Bytes()))
}

func TestFileIsNotADirectory(t *testing.T) {
	f := NewFile(nil)
	_, err := f.List()
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
	_, err = f.Find("x")
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
	assert.False(t, f.IsPipe())
	assert.Equal(t, vfs.RegularFile, f.Metadata().Type)
}

func TestDirLinkUnlink(t *testing.T) {
	d := NewDir()
	f := NewFile(nil)
	require.NoError(t, d.Link("b", f))
	require.NoError(t, d.Link("a", NewDir()))
	assert.ErrorIs(t, d.Link("b", f), vfs.ErrExist)

	names, err := d.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	got, err := d.Find("b")
	require.NoError(t, err)
	assert.Same(t, f, got)

	require.NoError(t, d.Unlink("b"))
	assert.ErrorIs(t, d.Unlink("b"), vfs.ErrNotFound)
	_, err = d.Find("b")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestPopulateDentryCache(t *testing.T) {
	dc := vfs.NewDentryCache()
	root := Root(dc)
	assert.Same(t, root, Root(dc))

	f, err := WriteFile(dc, "/usr/bin/true", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/usr", "/usr/bin", "/usr/bin/true"}, dc.Paths())

	bin, ok := dc.Get("/usr/bin")
	require.True(t, ok)
	got, err := bin.Find("true")
	require.NoError(t, err)
	assert.Same(t, f, got)

	// Replacing a file relinks the new inode.
	f2, err := WriteFile(dc, "/usr/bin/true", []byte("y"))
	require.NoError(t, err)
	got, _ = bin.Find("true")
	assert.Same(t, f2, got)

	_, err = MkdirAll(dc, "/usr/bin/true/sub")
	assert.ErrorIs(t, err, vfs.ErrNotDir)

	UnlinkParent(dc, "/usr/bin/true")
	_, err = bin.Find("true")
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	assert.ErrorIs(t, LinkParent(dc, "/nope/x", NewFile(nil)), ErrNoParent)
}
