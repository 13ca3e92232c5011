package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyAcrossPages(t *testing.T) {
	as := NewMemorySet(&FrameAllocator{})
	require.NoError(t, as.InsertMappedRegion(0x1000, 0x3000, PermR|PermW|PermU))

	msg := []byte("straddles a page boundary")
	va := uint64(0x2000 - 5)
	require.NoError(t, CopyOut(as, va, msg))

	bufs, err := TranslatedByteBuffer(as, va, len(msg), PermR)
	require.NoError(t, err)
	assert.Len(t, bufs, 2)
	assert.Len(t, bufs[0], 5)

	got := make([]byte, len(msg))
	require.NoError(t, CopyIn(as, va, got))
	assert.Equal(t, msg, got)
}

func TestTranslateStr(t *testing.T) {
	as := NewMemorySet(nil)
	require.NoError(t, as.InsertMappedRegion(0x1000, 0x3000, PermR|PermW|PermU))
	require.NoError(t, CopyOut(as, 0x1ffe, []byte("/bin/sh\x00")))

	s, err := TranslateStr(as, 0x1ffe)
	require.NoError(t, err)
	assert.Equal(t, "/bin/sh", s)

	_, err = TranslateStr(as, 0x9000)
	assert.ErrorIs(t, err, ErrUnmapped)
}

func TestPermissionsChecked(t *testing.T) {
	as := NewMemorySet(nil)
	require.NoError(t, as.InsertMappedRegion(0x1000, 0x2000, PermR|PermU))
	assert.ErrorIs(t, CopyOut(as, 0x1000, []byte{1}), ErrPermission)
	assert.ErrorIs(t, as.InsertMappedRegion(0x1800, 0x2800, PermR), ErrOverlap)
}

func TestCloneIsIndependent(t *testing.T) {
	alloc := &FrameAllocator{}
	parent := NewMemorySet(alloc)
	require.NoError(t, parent.InsertMappedRegion(0x1000, 0x2000, PermR|PermW|PermU))
	require.NoError(t, WriteU64(parent, 0x1008, 7))

	child := parent.CloneFromExisting()
	assert.NotEqual(t, parent.Token(), child.Token())
	require.NoError(t, WriteU64(child, 0x1008, 9))

	v, err := ReadU64(parent, 0x1008)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
	v, err = ReadU64(child, 0x1008)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)

	assert.Equal(t, int64(2), alloc.InUse())
	child.Release()
	parent.Release()
	assert.Zero(t, alloc.InUse())
}

func TestRemoveRegion(t *testing.T) {
	as := NewMemorySet(&FrameAllocator{})
	require.NoError(t, as.InsertMappedRegion(0x4000, 0x6000, PermR|PermU))
	assert.Equal(t, uint64(0x6000), as.End(0x10000))
	require.NoError(t, as.RemoveRegion(0x4000))
	assert.Zero(t, as.Pages())
	assert.ErrorIs(t, as.RemoveRegion(0x4000), ErrUnmapped)
}

func TestKernelStacksDoNotAlias(t *testing.T) {
	s1, e1 := KernelStackRange(1)
	s2, e2 := KernelStackRange(2)
	assert.Equal(t, KernelStackSize, e1-s1)
	assert.Equal(t, s1, e2)
	assert.Less(t, s2, e2)
}
