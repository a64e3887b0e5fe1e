package util

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// PageFold 计算 (spaceId, pageNo) 的折叠值，page hash 用它选择链表槽位
func PageFold(spaceID uint32, pageNo uint32) uint64 {
	var key [8]byte
	binary.BigEndian.PutUint32(key[:4], spaceID)
	binary.BigEndian.PutUint32(key[4:], pageNo)
	return xxhash.Checksum64(key[:])
}
