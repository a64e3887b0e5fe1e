package common

// UNIV_PAGE_SIZE 默认页面大小
const UNIV_PAGE_SIZE = 16384

// UNIV_ZIP_SIZE_MIN 压缩页最小尺寸
const UNIV_ZIP_SIZE_MIN = 1024

const PAGE_SIZE = UNIV_PAGE_SIZE

// LSNT 日志序列号
type LSNT uint64

// LSN_CLEAN 表示页面没有未写入的修改
const LSN_CLEAN LSNT = 0
