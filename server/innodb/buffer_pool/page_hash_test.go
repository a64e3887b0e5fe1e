package buffer_pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageHash(t *testing.T) {
	a := newArena(64, 4, 16)
	h := newPageHash(a, 4)
	// 桶很少，强制链地址冲突
	require.Len(t, h.buckets, 8)

	for i := 1; i <= 40; i++ {
		a.page(pageRef(i)).setIdentity(uint32(i%3), uint32(i))
		require.True(t, h.insert(pageRef(i)))
	}
	assert.Equal(t, 40, h.len())

	t.Run("lookup", func(t *testing.T) {
		for i := 1; i <= 40; i++ {
			assert.Equal(t, pageRef(i), h.lookup(uint32(i%3), uint32(i)))
		}
		assert.Equal(t, nilRef, h.lookup(9, 9))
	})

	t.Run("duplicate key", func(t *testing.T) {
		a.page(41).setIdentity(uint32(7%3), 7)
		assert.False(t, h.insert(41))
		assert.False(t, h.insert(7))
	})

	t.Run("remove", func(t *testing.T) {
		assert.True(t, h.remove(10))
		assert.False(t, h.remove(10))
		assert.Equal(t, nilRef, h.lookup(1, 10))
		assert.Equal(t, 39, h.len())
	})

	t.Run("replace keeps chain", func(t *testing.T) {
		zref := pageRef(65)
		a.page(zref).copyFrom(a.page(20))
		require.True(t, h.replace(20, zref))
		assert.Equal(t, zref, h.lookup(2, 20))
		assert.False(t, a.page(20).inHash)
		n := 0
		h.forEach(func(pageRef) { n++ })
		assert.Equal(t, 39, n)
	})
}
