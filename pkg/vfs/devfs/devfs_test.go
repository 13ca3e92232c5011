package devfs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfs "rvos/pkg/vfs"
)

func TestConsole(t *testing.T) {
	var out, errOut bytes.Buffer
	c := NewConsole(strings.NewReader("ls\n"), &out, &errOut)

	buf := make([]byte, 16)
	n, err := c.Stdin.ReadAt(99, buf)
	require.NoError(t, err)
	assert.Equal(t, "ls\n", string(buf[:n]))

	n, err = c.Stdin.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "end of input reads zero bytes")

	_, err = c.Stdout.WriteAt(0, []byte("hi"))
	require.NoError(t, err)
	_, err = c.Stderr.WriteAt(0, []byte("oops"))
	require.NoError(t, err)
	assert.Equal(t, "hi", out.String())
	assert.Equal(t, "oops", errOut.String())

	n, err = c.Stdout.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, vfs.Terminal, c.Stdout.Metadata().Type)
	_, err = c.Stdout.List()
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
}
