package fil

import (
	"sync"

	"github.com/juju/errors"
)

type memKey struct {
	space uint32
	page  uint32
}

// MemoryFileIO 内存中的页面存储，测试和演示使用
type MemoryFileIO struct {
	mu       sync.RWMutex
	pageSize int
	spaces   map[uint32]int // spaceId -> zip size
	pages    map[memKey][]byte
	ioCounters
}

func NewMemoryFileIO(pageSize int) *MemoryFileIO {
	return &MemoryFileIO{
		pageSize: pageSize,
		spaces:   make(map[uint32]int),
		pages:    make(map[memKey][]byte),
	}
}

// CreateSpace 注册表空间，zipSize 为 0 表示不压缩
func (m *MemoryFileIO) CreateSpace(spaceID uint32, zipSize int) error {
	if err := validZipSize(m.pageSize, zipSize); err != nil {
		return errors.Trace(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spaces[spaceID]; ok {
		return errors.AlreadyExistsf("space %d", spaceID)
	}
	m.spaces[spaceID] = zipSize
	return nil
}

// DropSpace 删除表空间及其全部页面
func (m *MemoryFileIO) DropSpace(spaceID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spaces[spaceID]; !ok {
		return errors.NotFoundf("space %d", spaceID)
	}
	delete(m.spaces, spaceID)
	for k := range m.pages {
		if k.space == spaceID {
			delete(m.pages, k)
		}
	}
	return nil
}

func (m *MemoryFileIO) ZipSize(spaceID uint32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spaces[spaceID]
}

// ReadPage 读取页面。从未写过的页面读出全零
func (m *MemoryFileIO) ReadPage(spaceID, pageNo uint32, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	zipSize, ok := m.spaces[spaceID]
	if !ok {
		return errors.NotFoundf("space %d", spaceID)
	}
	if err := checkLen(spaceID, pageNo, buf, physicalSize(m.pageSize, zipSize)); err != nil {
		return err
	}
	m.read()
	data, ok := m.pages[memKey{spaceID, pageNo}]
	if !ok {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	copy(buf, data)
	return nil
}

func (m *MemoryFileIO) WritePage(spaceID, pageNo uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zipSize, ok := m.spaces[spaceID]
	if !ok {
		return errors.NotFoundf("space %d", spaceID)
	}
	if err := checkLen(spaceID, pageNo, buf, physicalSize(m.pageSize, zipSize)); err != nil {
		return err
	}
	m.write()
	data := make([]byte, len(buf))
	copy(data, buf)
	m.pages[memKey{spaceID, pageNo}] = data
	return nil
}

// Stats 返回读写计数
func (m *MemoryFileIO) Stats() IOStats {
	return m.stats()
}
