package compression

import (
	"bytes"
	"compress/zlib"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// 压缩方法常量
const (
	COMPRESSION_NONE uint8 = iota // 不压缩
	COMPRESSION_ZLIB              // zlib压缩
	COMPRESSION_SNAPPY
	COMPRESSION_LZ4
)

// 压缩级别常量
const (
	COMPRESSION_LEVEL_FASTEST = 1
	COMPRESSION_LEVEL_DEFAULT = 6
	COMPRESSION_LEVEL_BEST    = 9
)

var (
	ErrUnknownCodec    = errors.New("unknown compression codec")
	ErrIncompressible  = errors.New("data is incompressible")
	ErrShortDecompress = errors.New("decompressed size mismatch")
)

// Codec 页面压缩算法
type Codec interface {
	Method() uint8
	Name() string
	// Compress 返回新分配的压缩结果
	Compress(src []byte) ([]byte, error)
	// Decompress 解压到 dst，dst 的长度就是原始长度
	Decompress(src []byte, dst []byte) error
}

// NewCodec 按名字创建压缩算法: zlib, snappy, lz4
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zlib", "":
		return NewZlibCodec(COMPRESSION_LEVEL_DEFAULT), nil
	case "snappy":
		return snappyCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownCodec, "codec %q", name)
	}
}

// CodecByMethod 按页面头里记录的方法号创建压缩算法
func CodecByMethod(method uint8) (Codec, error) {
	switch method {
	case COMPRESSION_ZLIB:
		return NewZlibCodec(COMPRESSION_LEVEL_DEFAULT), nil
	case COMPRESSION_SNAPPY:
		return snappyCodec{}, nil
	case COMPRESSION_LZ4:
		return lz4Codec{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownCodec, "method %d", method)
	}
}

// ZlibCodec zlib 压缩，复用 bytes.Buffer
type ZlibCodec struct {
	level      int
	bufferPool sync.Pool
}

func NewZlibCodec(level int) *ZlibCodec {
	return &ZlibCodec{
		level: level,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func (z *ZlibCodec) Method() uint8 { return COMPRESSION_ZLIB }

func (z *ZlibCodec) Name() string { return "zlib" }

func (z *ZlibCodec) Compress(src []byte) ([]byte, error) {
	buf := z.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer z.bufferPool.Put(buf)

	writer, err := zlib.NewWriterLevel(buf, z.level)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := writer.Write(src); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := writer.Close(); err != nil {
		return nil, errors.WithStack(err)
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func (z *ZlibCodec) Decompress(src []byte, dst []byte) error {
	reader, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return errors.WithStack(err)
	}
	defer reader.Close()

	if _, err := io.ReadFull(reader, dst); err != nil {
		return errors.Wrap(ErrShortDecompress, err.Error())
	}
	return nil
}

type snappyCodec struct{}

func (snappyCodec) Method() uint8 { return COMPRESSION_SNAPPY }

func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decompress(src []byte, dst []byte) error {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return errors.WithStack(err)
	}
	if n != len(dst) {
		return errors.Wrapf(ErrShortDecompress, "snappy: got %d want %d", n, len(dst))
	}
	// 长度一致时 snappy 直接解压到 dst
	if _, err := snappy.Decode(dst, src); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

type lz4Codec struct{}

func (lz4Codec) Method() uint8 { return COMPRESSION_LZ4 }

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if n == 0 {
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

func (lz4Codec) Decompress(src []byte, dst []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return errors.WithStack(err)
	}
	if n != len(dst) {
		return errors.Wrapf(ErrShortDecompress, "lz4: got %d want %d", n, len(dst))
	}
	return nil
}
