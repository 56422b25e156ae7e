package storage

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/kv/util"
	"github.com/eepycrawl/flamekv/kv/util/codec"
	"github.com/pierrec/lz4"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	// Encoded names at least this long are sharded into a subdirectory
	// named after their first shardPrefixLen characters.
	shardNameLen   = 6
	shardPrefixLen = 2
	shardDirPrefix = "__"
)

// lz4FrameMagic starts every lz4 frame, little endian 0x184D2204.
var lz4FrameMagic = []byte{0x04, 0x22, 0x4d, 0x18}

// FileStorage stores one file per row under dir/<table>/. Writes to a row
// are serialized by a striped lock; table level operations exclude all row
// writes.
type FileStorage struct {
	dir      string
	compress bool

	tableMu sync.RWMutex
	rowMu   rowLocks
}

func NewFileStorage(dir string, compress bool) (*FileStorage, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir, compress: compress}, nil
}

func (s *FileStorage) tableDir(table string) string {
	return filepath.Join(s.dir, table)
}

func (s *FileStorage) rowPath(table, key string) string {
	name := codec.EncodeFileName(key)
	if len(name) >= shardNameLen {
		return filepath.Join(s.tableDir(table), shardDirPrefix+name[:shardPrefixLen], name)
	}
	return filepath.Join(s.tableDir(table), name)
}

func (s *FileStorage) lockRow(table, key string) func() {
	return s.rowMu.lock(table, key)
}

func (s *FileStorage) readRow(path string) (*row.Row, error) {
	data, err := util.ReadFileIfExists(path)
	if err != nil || data == nil {
		return nil, err
	}
	if bytes.HasPrefix(data, lz4FrameMagic) {
		data, err = ioutil.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, errors.Annotatef(err, "decompress %s", path)
		}
	}
	r, err := row.Decode(data)
	return r, errors.Annotatef(err, "decode %s", path)
}

// writeRow refuses the empty key, whose path would be the table directory.
func (s *FileStorage) writeRow(table string, r *row.Row) error {
	if r.Key() == "" {
		return EmptyRowKeyErr{Table: table}
	}
	path := s.rowPath(table, r.Key())
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data := r.Encode()
	if s.compress {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return errors.WithStack(err)
		}
		if err := zw.Close(); err != nil {
			return errors.WithStack(err)
		}
		data = buf.Bytes()
	}
	return util.WriteFileAtomic(path, data)
}

// modify runs a read-modify-write of one row under its stripe lock.
func (s *FileStorage) modify(table, key string, fn func(r *row.Row)) (int, error) {
	if key == "" {
		return 0, EmptyRowKeyErr{Table: table}
	}
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	unlock := s.lockRow(table, key)
	defer unlock()

	r, err := s.readRow(s.rowPath(table, key))
	if err != nil {
		return 0, err
	}
	if r == nil {
		r = row.New(key)
	}
	fn(r)
	return 1, s.writeRow(table, r)
}

func (s *FileStorage) Put(table, key, column string, value []byte) (int, error) {
	return s.modify(table, key, func(r *row.Row) {
		r.Put(column, value)
	})
}

func (s *FileStorage) PutRow(table string, r *row.Row) (int, error) {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	unlock := s.lockRow(table, r.Key())
	defer unlock()
	return 1, s.writeRow(table, r)
}

func (s *FileStorage) Append(table, key, column string, value []byte, delimiter string) (int, error) {
	return s.modify(table, key, func(r *row.Row) {
		r.Put(column, appendValue(r.GetBytes(column), r.Has(column), value, delimiter))
	})
}

func (s *FileStorage) Get(table, key string) (*row.Row, error) {
	if key == "" {
		return nil, nil
	}
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	return s.readRow(s.rowPath(table, key))
}

// GetVersion ignores version, rows on disk keep no history.
func (s *FileStorage) GetVersion(table, key string, _ int) (*row.Row, error) {
	return s.Get(table, key)
}

func (s *FileStorage) Version(table, key string) int {
	if key != "" && util.FileExists(s.rowPath(table, key)) {
		return 1
	}
	return 0
}

// rowFiles lists the row files of a table with their decoded keys, sorted
// by key.
func (s *FileStorage) rowFiles(table string) ([]rowFile, error) {
	dir := s.tableDir(table)
	if !util.DirExists(dir) {
		return nil, TableNotFoundErr{Table: table}
	}
	var files []rowFile
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && !strings.HasPrefix(info.Name(), shardDirPrefix) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		key, err := codec.DecodeFileName(info.Name())
		if err != nil {
			log.Warn("skip unknown file in table directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		files = append(files, rowFile{key: key, path: path})
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].key < files[j].key })
	return files, nil
}

type rowFile struct {
	key  string
	path string
}

func (s *FileStorage) Tables() (map[string]int, error) {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	infos, err := ioutil.ReadDir(s.dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tables := make(map[string]int)
	for _, info := range infos {
		if !info.IsDir() || CheckTableName(info.Name()) != nil {
			continue
		}
		files, err := s.rowFiles(info.Name())
		if err != nil {
			return nil, err
		}
		tables[info.Name()] = len(files)
	}
	return tables, nil
}

func (s *FileStorage) Rows(table, fromKey string, limit int) ([]*row.Row, error) {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	files, err := s.rowFiles(table)
	if err != nil {
		return nil, err
	}
	var rows []*row.Row
	for _, f := range files {
		if f.key < fromKey {
			continue
		}
		if len(rows) > limit {
			break
		}
		r, err := s.readRow(f.path)
		if err != nil {
			return nil, err
		}
		if r != nil {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

// Scan lists the range up front and reads each row file lazily.
func (s *FileStorage) Scan(table, fromKey, toKeyExclusive string) (RowIterator, error) {
	s.tableMu.RLock()
	files, err := s.rowFiles(table)
	s.tableMu.RUnlock()
	if err != nil {
		return nil, err
	}
	inside := files[:0]
	for _, f := range files {
		if inRange(f.key, fromKey, toKeyExclusive) {
			inside = append(inside, f)
		}
	}
	it := &fileIterator{s: s, files: inside}
	it.load()
	return it, nil
}

type fileIterator struct {
	s     *FileStorage
	files []rowFile
	pos   int
	cur   *row.Row
	err   error
}

// load reads rows from pos on until one exists; files deleted since the
// listing are skipped.
func (it *fileIterator) load() {
	it.cur = nil
	for ; it.pos < len(it.files) && it.err == nil; it.pos++ {
		r, err := it.s.readRow(it.files[it.pos].path)
		if err != nil {
			it.err = err
			return
		}
		if r != nil {
			it.cur = r
			return
		}
	}
}

func (it *fileIterator) Valid() bool { return it.cur != nil }

func (it *fileIterator) Row() *row.Row { return it.cur }

func (it *fileIterator) Next() {
	it.pos++
	it.load()
}

func (it *fileIterator) Err() error { return it.err }

func (it *fileIterator) Close() {}

func (s *FileStorage) Delete(table string) error {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	dir := s.tableDir(table)
	if !util.DirExists(dir) {
		return TableNotFoundErr{Table: table}
	}
	return errors.WithStack(os.RemoveAll(dir))
}

func (s *FileStorage) Rename(table, newName string) error {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	dir := s.tableDir(table)
	if !util.DirExists(dir) {
		return TableNotFoundErr{Table: table}
	}
	newDir := s.tableDir(newName)
	if util.DirExists(newDir) {
		return TableExistsErr{Table: newName}
	}
	return errors.WithStack(os.Rename(dir, newDir))
}

func (s *FileStorage) Count(table string) int {
	s.tableMu.RLock()
	defer s.tableMu.RUnlock()
	files, err := s.rowFiles(table)
	if err != nil {
		return -1
	}
	return len(files)
}

func (s *FileStorage) FromRows(table string, rows []*row.Row) error {
	if err := util.EnsureDir(s.tableDir(table)); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := s.PutRow(table, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStorage) Close() error {
	return nil
}
