package buffer_pool

//go:generate mockgen -source=interfaces.go -destination=interfaces_mocks.go -package=buffer_pool

// FileIO 页面文件读写层。压缩表空间读写的是 ZipSize 大小的压缩镜像
type FileIO interface {
	ReadPage(spaceID, pageNo uint32, buf []byte) error
	WritePage(spaceID, pageNo uint32, buf []byte) error
	// ZipSize 表空间的压缩页大小，0 表示不压缩
	ZipSize(spaceID uint32) int
}

// AdaptiveHashIndex 自适应哈希索引的维护方。帧复用之前必须删除建在它上面的索引
type AdaptiveHashIndex interface {
	// DropPageHashBatch 批量删除一个表空间若干页面的索引项，调用时不持有缓冲池的锁
	DropPageHashBatch(spaceID uint32, zipSize int, pageNos []uint32)
	// DropPageHash 删除单个帧上的索引项，调用时不持有缓冲池的锁
	DropPageHash(block *BufferBlock)
}

type noopHashIndex struct{}

func (noopHashIndex) DropPageHashBatch(uint32, int, []uint32) {}

func (noopHashIndex) DropPageHash(*BufferBlock) {}
