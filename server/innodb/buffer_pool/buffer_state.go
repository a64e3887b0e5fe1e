package buffer_pool

// BufferPageState 页面控制体状态
//
//	NOT_USED -> READY_FOR_USE -> FILE_PAGE <-> ZIP_PAGE / ZIP_DIRTY
//	FILE_PAGE / ZIP_* -> REMOVE_HASH -> NOT_USED
type BufferPageState uint8

const (
	// 控制体空闲，不属于任何页面
	BUF_BLOCK_NOT_USED BufferPageState = iota

	// 从 Free List 取出，还没有挂到任何链表上。短暂状态
	BUF_BLOCK_READY_FOR_USE

	// 正常使用的数据页，带解压帧，可能同时带压缩副本
	BUF_BLOCK_FILE_PAGE

	// 只有干净的压缩副本，没有解压帧
	BUF_BLOCK_ZIP_PAGE

	// 只有压缩副本且在 flush list 中
	BUF_BLOCK_ZIP_DIRTY

	// 已从 page hash 和 LRU 摘除，帧还没回到 Free List。短暂状态
	BUF_BLOCK_REMOVE_HASH
)

func (s BufferPageState) String() string {
	switch s {
	case BUF_BLOCK_NOT_USED:
		return "NOT_USED"
	case BUF_BLOCK_READY_FOR_USE:
		return "READY_FOR_USE"
	case BUF_BLOCK_FILE_PAGE:
		return "FILE_PAGE"
	case BUF_BLOCK_ZIP_PAGE:
		return "ZIP_PAGE"
	case BUF_BLOCK_ZIP_DIRTY:
		return "ZIP_DIRTY"
	case BUF_BLOCK_REMOVE_HASH:
		return "REMOVE_HASH"
	default:
		return "UNKNOWN"
	}
}

// inPageHash 该状态的页面必须在 page hash 和 LRU 中各出现一次
func (s BufferPageState) inPageHash() bool {
	return s == BUF_BLOCK_FILE_PAGE || s == BUF_BLOCK_ZIP_PAGE || s == BUF_BLOCK_ZIP_DIRTY
}

func (s BufferPageState) compressedOnly() bool {
	return s == BUF_BLOCK_ZIP_PAGE || s == BUF_BLOCK_ZIP_DIRTY
}

//enum buf_io_fix {
//BUF_IO_NONE = 0,		/**< no pending I/O */
//BUF_IO_READ,			/**< read pending */
//BUF_IO_WRITE,			/**< write pending */
//BUF_IO_PIN			/**< disallow relocation of
//block and its removal of from
//the flush_list */
//};

type buffer_io_fix uint8

const (
	BUF_IO_NONE buffer_io_fix = iota
	BUF_IO_READ
	BUF_IO_WRITE
	BUF_IO_PIN // sticky 标记，长扫描释放锁期间固定页面位置
)

func (f buffer_io_fix) String() string {
	switch f {
	case BUF_IO_NONE:
		return "none"
	case BUF_IO_READ:
		return "read"
	case BUF_IO_WRITE:
		return "write"
	case BUF_IO_PIN:
		return "pin"
	default:
		return "unknown"
	}
}

// RemoveMode 表空间失效方式
type RemoveMode uint8

const (
	// 从缓冲池删除表空间的全部页面，不写盘
	BUF_REMOVE_ALL_NO_WRITE RemoveMode = iota
	// 只从 flush list 摘除，不写盘，页面留在 LRU 中自然淘汰
	BUF_REMOVE_FLUSH_NO_WRITE
	// 把脏页写盘，不从缓冲池删除
	BUF_REMOVE_FLUSH_WRITE
)

func (m RemoveMode) String() string {
	switch m {
	case BUF_REMOVE_ALL_NO_WRITE:
		return "remove_all_no_write"
	case BUF_REMOVE_FLUSH_NO_WRITE:
		return "remove_flush_no_write"
	case BUF_REMOVE_FLUSH_WRITE:
		return "remove_flush_write"
	default:
		return "unknown"
	}
}
