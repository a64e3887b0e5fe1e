package compression

import (
	"bytes"
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"
)

// 压缩页镜像格式: [magic 4][method 1][payload len 4][payload][0 填充到 zip size]
const PAGE_ZIP_HEADER_SIZE = 9

// 页面头部魔数
var compressedPageMagic = []byte{0xC0, 0x4D, 0x50, 0x52} // "CMPR"

var (
	ErrZipOverflow = errors.New("compressed page does not fit into zip size")
	ErrBadZipImage = errors.New("corrupted compressed page image")
)

// CompressionStats 表示压缩统计信息
type CompressionStats struct {
	Compressed     uint64 // 压缩次数
	Decompressed   uint64 // 解压次数
	TotalSize      uint64 // 原始总大小
	CompressedSize uint64 // 压缩后大小
	FailureCount   uint64 // 压缩失败次数(放不进 zip size)
}

// PageCodec 把一个页面帧编码进固定大小的压缩页镜像
type PageCodec struct {
	codec Codec

	compressed     uint64
	decompressed   uint64
	totalSize      uint64
	compressedSize uint64
	failures       uint64
}

func NewPageCodec(codec Codec) *PageCodec {
	return &PageCodec{codec: codec}
}

// Codec 返回底层压缩算法
func (pc *PageCodec) Codec() Codec {
	return pc.codec
}

// Encode 压缩 frame，写入 zip。len(zip) 即压缩页大小
func (pc *PageCodec) Encode(frame []byte, zip []byte) error {
	payload, err := pc.codec.Compress(frame)
	if err != nil {
		atomic.AddUint64(&pc.failures, 1)
		return err
	}
	if PAGE_ZIP_HEADER_SIZE+len(payload) > len(zip) {
		atomic.AddUint64(&pc.failures, 1)
		return errors.Wrapf(ErrZipOverflow, "%s payload %d bytes, zip size %d", pc.codec.Name(), len(payload), len(zip))
	}

	copy(zip, compressedPageMagic)
	zip[4] = pc.codec.Method()
	binary.BigEndian.PutUint32(zip[5:9], uint32(len(payload)))
	n := copy(zip[PAGE_ZIP_HEADER_SIZE:], payload)
	tail := zip[PAGE_ZIP_HEADER_SIZE+n:]
	for i := range tail {
		tail[i] = 0
	}

	atomic.AddUint64(&pc.compressed, 1)
	atomic.AddUint64(&pc.totalSize, uint64(len(frame)))
	atomic.AddUint64(&pc.compressedSize, uint64(len(payload)))
	return nil
}

// Decode 解压 zip 镜像到 frame。全零镜像是从未写过的页，解出全零帧
func (pc *PageCodec) Decode(zip []byte, frame []byte) error {
	if len(zip) < PAGE_ZIP_HEADER_SIZE {
		return errors.Wrapf(ErrBadZipImage, "image of %d bytes", len(zip))
	}
	if isZero(zip[:PAGE_ZIP_HEADER_SIZE]) {
		for i := range frame {
			frame[i] = 0
		}
		return nil
	}
	if !bytes.Equal(zip[:4], compressedPageMagic) {
		return errors.Wrap(ErrBadZipImage, "bad magic")
	}

	codec := pc.codec
	if zip[4] != codec.Method() {
		var err error
		if codec, err = CodecByMethod(zip[4]); err != nil {
			return errors.Wrap(ErrBadZipImage, err.Error())
		}
	}
	n := binary.BigEndian.Uint32(zip[5:9])
	if int(n) > len(zip)-PAGE_ZIP_HEADER_SIZE {
		return errors.Wrapf(ErrBadZipImage, "payload length %d exceeds image", n)
	}
	if err := codec.Decompress(zip[PAGE_ZIP_HEADER_SIZE:PAGE_ZIP_HEADER_SIZE+int(n)], frame); err != nil {
		return errors.Wrap(ErrBadZipImage, err.Error())
	}
	atomic.AddUint64(&pc.decompressed, 1)
	return nil
}

// Stats 返回统计快照
func (pc *PageCodec) Stats() CompressionStats {
	return CompressionStats{
		Compressed:     atomic.LoadUint64(&pc.compressed),
		Decompressed:   atomic.LoadUint64(&pc.decompressed),
		TotalSize:      atomic.LoadUint64(&pc.totalSize),
		CompressedSize: atomic.LoadUint64(&pc.compressedSize),
		FailureCount:   atomic.LoadUint64(&pc.failures),
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
