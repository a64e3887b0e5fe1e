package fil

import (
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-bufferpool/util"
)

// IOStats 物理读写计数
type IOStats struct {
	Reads  uint64
	Writes uint64
}

type ioCounters struct {
	reads  uint64
	writes uint64
}

func (c *ioCounters) read()  { atomic.AddUint64(&c.reads, 1) }
func (c *ioCounters) write() { atomic.AddUint64(&c.writes, 1) }

func (c *ioCounters) stats() IOStats {
	return IOStats{Reads: atomic.LoadUint64(&c.reads), Writes: atomic.LoadUint64(&c.writes)}
}

// physicalSize 表空间的物理页大小：压缩表空间是 zip size，否则是页大小
func physicalSize(pageSize, zipSize int) int {
	if zipSize > 0 {
		return zipSize
	}
	return pageSize
}

func checkLen(spaceID, pageNo uint32, buf []byte, want int) error {
	if len(buf) != want {
		return errors.NotValidf("buffer of %d bytes for page %d:%d (physical size %d)", len(buf), spaceID, pageNo, want)
	}
	return nil
}

func validZipSize(pageSize, zipSize int) error {
	if zipSize < 0 || zipSize > pageSize || (zipSize > 0 && zipSize&(zipSize-1) != 0) {
		return errors.NotValidf("zip size %d", zipSize)
	}
	return nil
}

// pageKey (spaceId, pageNo) 的存储键
func pageKey(spaceID, pageNo uint32) []byte {
	key := make([]byte, 0, 9)
	key = append(key, 'p')
	key = util.WriteUB4(key, spaceID)
	return util.WriteUB4(key, pageNo)
}

func spacePrefix(spaceID uint32) []byte {
	return util.WriteUB4([]byte{'p'}, spaceID)
}

func spaceKey(spaceID uint32) []byte {
	return util.WriteUB4([]byte{'s'}, spaceID)
}
