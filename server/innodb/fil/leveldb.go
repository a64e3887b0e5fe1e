package fil

import (
	"sync"

	"github.com/juju/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	lutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/zhukovaskychina/xmysql-bufferpool/util"
)

// LevelDBFileIO 基于 leveldb 的页面存储，每个页面一个 key
type LevelDBFileIO struct {
	db       *leveldb.DB
	pageSize int

	mu       sync.RWMutex
	zipSizes map[uint32]int
	ioCounters
}

// OpenLevelDB 打开目录下的页面存储
func OpenLevelDB(path string, pageSize int) (*LevelDBFileIO, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Annotatef(err, "open page store %s", path)
	}
	return newLevelDBFileIO(db, pageSize)
}

// OpenLevelDBStorage 在给定的 storage 上打开，测试里用 storage.NewMemStorage()
func OpenLevelDBStorage(stor storage.Storage, pageSize int) (*LevelDBFileIO, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, errors.Annotate(err, "open page store")
	}
	return newLevelDBFileIO(db, pageSize)
}

func newLevelDBFileIO(db *leveldb.DB, pageSize int) (*LevelDBFileIO, error) {
	l := &LevelDBFileIO{db: db, pageSize: pageSize, zipSizes: make(map[uint32]int)}

	// 加载已有表空间的 zip size
	iter := db.NewIterator(lutil.BytesPrefix([]byte{'s'}), nil)
	defer iter.Release()
	for iter.Next() {
		_, spaceID := util.ReadUB4(iter.Key(), 1)
		_, zipSize := util.ReadUB4(iter.Value(), 0)
		l.zipSizes[spaceID] = int(zipSize)
	}
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "load space directory")
	}
	return l, nil
}

func (l *LevelDBFileIO) CreateSpace(spaceID uint32, zipSize int) error {
	if err := validZipSize(l.pageSize, zipSize); err != nil {
		return errors.Trace(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.zipSizes[spaceID]; ok {
		return errors.AlreadyExistsf("space %d", spaceID)
	}
	if err := l.db.Put(spaceKey(spaceID), util.ConvertUInt4Bytes(uint32(zipSize)), nil); err != nil {
		return errors.Annotatef(err, "create space %d", spaceID)
	}
	l.zipSizes[spaceID] = zipSize
	return nil
}

// DropSpace 批量删除表空间的所有页面
func (l *LevelDBFileIO) DropSpace(spaceID uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.zipSizes[spaceID]; !ok {
		return errors.NotFoundf("space %d", spaceID)
	}

	batch := new(leveldb.Batch)
	iter := l.db.NewIterator(lutil.BytesPrefix(spacePrefix(spaceID)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Annotatef(err, "scan space %d", spaceID)
	}
	batch.Delete(spaceKey(spaceID))
	if err := l.db.Write(batch, nil); err != nil {
		return errors.Annotatef(err, "drop space %d", spaceID)
	}
	delete(l.zipSizes, spaceID)
	return nil
}

func (l *LevelDBFileIO) ZipSize(spaceID uint32) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zipSizes[spaceID]
}

func (l *LevelDBFileIO) physical(spaceID uint32) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	zipSize, ok := l.zipSizes[spaceID]
	if !ok {
		return 0, errors.NotFoundf("space %d", spaceID)
	}
	return physicalSize(l.pageSize, zipSize), nil
}

// ReadPage 读取页面。从未写过的页面读出全零
func (l *LevelDBFileIO) ReadPage(spaceID, pageNo uint32, buf []byte) error {
	size, err := l.physical(spaceID)
	if err != nil {
		return err
	}
	if err := checkLen(spaceID, pageNo, buf, size); err != nil {
		return err
	}
	l.read()
	data, err := l.db.Get(pageKey(spaceID, pageNo), nil)
	if err == leveldb.ErrNotFound {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "read page %d:%d", spaceID, pageNo)
	}
	if len(data) != size {
		return errors.NotValidf("stored page %d:%d has %d bytes", spaceID, pageNo, len(data))
	}
	copy(buf, data)
	return nil
}

func (l *LevelDBFileIO) WritePage(spaceID, pageNo uint32, buf []byte) error {
	size, err := l.physical(spaceID)
	if err != nil {
		return err
	}
	if err := checkLen(spaceID, pageNo, buf, size); err != nil {
		return err
	}
	l.write()
	if err := l.db.Put(pageKey(spaceID, pageNo), buf, nil); err != nil {
		return errors.Annotatef(err, "write page %d:%d", spaceID, pageNo)
	}
	return nil
}

// SpacePages 统计表空间中写过的页面数
func (l *LevelDBFileIO) SpacePages(spaceID uint32) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.zipSizes[spaceID]; !ok {
		return 0, errors.NotFoundf("space %d", spaceID)
	}
	n := 0
	iter := l.db.NewIterator(lutil.BytesPrefix(spacePrefix(spaceID)), nil)
	for iter.Next() {
		n++
	}
	iter.Release()
	return n, errors.Trace(iter.Error())
}

func (l *LevelDBFileIO) Stats() IOStats {
	return l.stats()
}

func (l *LevelDBFileIO) Close() error {
	return errors.Trace(l.db.Close())
}
