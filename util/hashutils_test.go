package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashCode(t *testing.T) {
	assert.Equal(t, HashCode([]byte("788788")), HashCode([]byte("788788")))
	assert.NotEqual(t, HashCode([]byte("1")), HashCode([]byte("2")))
}

func TestPageFold(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, PageFold(3, 7), PageFold(3, 7))
	})

	t.Run("space and page are not interchangeable", func(t *testing.T) {
		assert.NotEqual(t, PageFold(3, 7), PageFold(7, 3))
	})

	t.Run("matches HashCode over big endian key", func(t *testing.T) {
		key := []byte{0, 0, 0, 3, 0, 0, 0, 7}
		assert.Equal(t, HashCode(key), PageFold(3, 7))
	})
}
