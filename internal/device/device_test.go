package device

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

func TestWriteFull(t *testing.T) {
	tests := []struct {
		name        string
		shortWrites int
		failAfter   int
		retries     int
		wantErr     bool
	}{
		{"plain write", 0, -1, 3, false},
		{"short writes within budget", 2, -1, 3, false},
		{"short writes exhaust retries", 5, -1, 3, true},
		{"hard failure", 0, 0, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := NewMemory(4096)
			dev.ShortWrites(tt.shortWrites)
			dev.FailWritesAfter(tt.failAfter)

			payload := bytes.Repeat([]byte{0xAB}, 1024)
			err := WriteFull(dev, payload, 512, tt.retries)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrDeviceIO))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, payload, dev.Bytes()[512:1536])
		})
	}
}

func TestReadFull(t *testing.T) {
	dev := NewMemory(1024)
	require.NoError(t, WriteFull(dev, []byte("ntfs"), 1020, 0))

	buf := make([]byte, 4)
	require.NoError(t, ReadFull(dev, buf, 1020))
	assert.Equal(t, []byte("ntfs"), buf)

	err := ReadFull(dev, make([]byte, 8), 1020)
	assert.True(t, errors.Is(err, types.ErrDeviceIO))
}

func TestZero(t *testing.T) {
	dev := NewMemory(8192)
	require.NoError(t, WriteFull(dev, bytes.Repeat([]byte{0xFF}, 8192), 0, 0))
	require.NoError(t, Zero(dev, 1000, 3000, 0))

	data := dev.Bytes()
	assert.Equal(t, byte(0xFF), data[999])
	assert.Equal(t, make([]byte, 3000), data[1000:4000])
	assert.Equal(t, byte(0xFF), data[4000])
}

func TestMemoryTruncate(t *testing.T) {
	dev := NewMemory(100)
	require.NoError(t, WriteFull(dev, []byte{1, 2, 3}, 97, 0))

	require.NoError(t, dev.Truncate(98))
	size, err := dev.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(98), size)

	require.NoError(t, dev.Truncate(200))
	data := dev.Bytes()
	assert.Len(t, data, 200)
	assert.Equal(t, byte(1), data[97])
	assert.Equal(t, byte(0), data[98], "bytes cut by a shrink stay zero after growing")
}
