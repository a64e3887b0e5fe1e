package compression

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePage(size int) []byte {
	page := make([]byte, size)
	for i := range page {
		page[i] = byte(i % 17)
	}
	return page
}

func TestCodecs(t *testing.T) {
	for _, name := range []string{"zlib", "snappy", "lz4"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			src := samplePage(16384)
			compressed, err := codec.Compress(src)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(src))

			dst := make([]byte, len(src))
			require.NoError(t, codec.Decompress(compressed, dst))
			assert.Equal(t, src, dst)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := NewCodec("brotli")
		assert.True(t, errors.Is(err, ErrUnknownCodec))
	})
}

func TestPageCodec(t *testing.T) {
	codec, err := NewCodec("snappy")
	require.NoError(t, err)
	pc := NewPageCodec(codec)

	t.Run("encode and decode", func(t *testing.T) {
		frame := samplePage(16384)
		zip := make([]byte, 4096)
		require.NoError(t, pc.Encode(frame, zip))

		out := make([]byte, len(frame))
		require.NoError(t, pc.Decode(zip, out))
		assert.Equal(t, frame, out)
	})

	t.Run("zero image decodes to zero frame", func(t *testing.T) {
		out := samplePage(16384)
		require.NoError(t, pc.Decode(make([]byte, 1024), out))
		assert.Equal(t, make([]byte, 16384), out)
	})

	t.Run("overflow", func(t *testing.T) {
		frame := make([]byte, 16384)
		rand.New(rand.NewSource(1)).Read(frame)
		err := pc.Encode(frame, make([]byte, 1024))
		assert.True(t, errors.Is(err, ErrZipOverflow))
		assert.Equal(t, uint64(1), pc.Stats().FailureCount)
	})

	t.Run("corrupted image", func(t *testing.T) {
		zip := make([]byte, 1024)
		zip[0] = 0xFF
		err := pc.Decode(zip, make([]byte, 16384))
		assert.True(t, errors.Is(err, ErrBadZipImage))
	})

	t.Run("image written by another codec", func(t *testing.T) {
		other, err := NewCodec("lz4")
		require.NoError(t, err)
		frame := samplePage(16384)
		zip := make([]byte, 4096)
		require.NoError(t, NewPageCodec(other).Encode(frame, zip))

		out := make([]byte, len(frame))
		require.NoError(t, pc.Decode(zip, out))
		assert.Equal(t, frame, out)
	})
}
