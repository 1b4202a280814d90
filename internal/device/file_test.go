//go:build linux || darwin

package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.img")

	dev, err := OpenFile(path, FileOptions{Create: true})
	require.NoError(t, err)
	defer dev.Close()
	assert.False(t, dev.IsBlockDevice())

	require.NoError(t, dev.Truncate(64*1024))
	size, err := dev.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), size)

	require.NoError(t, WriteFull(dev, []byte("sandbox"), 60000, DefaultWriteRetries))
	require.NoError(t, dev.Sync())

	buf := make([]byte, 7)
	require.NoError(t, ReadFull(dev, buf, 60000))
	assert.Equal(t, "sandbox", string(buf))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), st.Size())

	require.NoError(t, dev.Truncate(4096))
	err = ReadFull(dev, buf, 60000)
	assert.Error(t, err)
}

func TestFileDeviceLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.img")

	first, err := OpenFile(path, FileOptions{Create: true})
	require.NoError(t, err)

	_, err = OpenFile(path, FileOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, first.Close())
	second, err := OpenFile(path, FileOptions{})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestFileDeviceMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.img"), FileOptions{})
	assert.Error(t, err)
}
