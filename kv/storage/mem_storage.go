package storage

import (
	"sync"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/google/btree"
)

const (
	defaultBTreeDegree = 32
	// maxRowVersions bounds the history kept per row.
	maxRowVersions = 8
)

// MemStorage keeps tables in memory, each an ordered btree of rows with a
// short version history.
type MemStorage struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// memItem is one row key and its versions, oldest first. base is the number
// of versions dropped from the front of the history.
type memItem struct {
	key      string
	versions []*row.Row
	base     int
}

var _ btree.Item = &memItem{}

func (i *memItem) Less(other btree.Item) bool {
	return i.key < other.(*memItem).key
}

func (i *memItem) latest() *row.Row {
	return i.versions[len(i.versions)-1]
}

func (i *memItem) version() int {
	return i.base + len(i.versions)
}

func (i *memItem) push(r *row.Row) int {
	i.versions = append(i.versions, r)
	if len(i.versions) > maxRowVersions {
		i.versions = i.versions[1:]
		i.base++
	}
	return i.version()
}

func NewMemStorage() *MemStorage {
	return &MemStorage{tables: make(map[string]*memTable)}
}

func newMemTable() *memTable {
	return &memTable{tree: btree.New(defaultBTreeDegree)}
}

func (s *MemStorage) table(name string) *memTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[name]
}

func (s *MemStorage) tableOrCreate(name string) *memTable {
	if t := s.table(name); t != nil {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = newMemTable()
		s.tables[name] = t
	}
	return t
}

func (t *memTable) item(key string) *memItem {
	i := t.tree.Get(&memItem{key: key})
	if i == nil {
		return nil
	}
	return i.(*memItem)
}

// update derives the next version of a row from the latest one.
func (t *memTable) update(key string, fn func(r *row.Row)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := t.item(key)
	var next *row.Row
	if item == nil {
		item = &memItem{key: key}
		t.tree.ReplaceOrInsert(item)
		next = row.New(key)
	} else {
		next = item.latest().Clone()
	}
	fn(next)
	return item.push(next)
}

func (s *MemStorage) Put(table, key, column string, value []byte) (int, error) {
	v := append([]byte(nil), value...)
	return s.tableOrCreate(table).update(key, func(r *row.Row) {
		r.Put(column, v)
	}), nil
}

func (s *MemStorage) PutRow(table string, r *row.Row) (int, error) {
	t := s.tableOrCreate(table)
	fresh := r.Clone()
	t.mu.Lock()
	defer t.mu.Unlock()
	item := t.item(r.Key())
	if item == nil {
		item = &memItem{key: r.Key()}
		t.tree.ReplaceOrInsert(item)
	}
	return item.push(fresh), nil
}

func (s *MemStorage) Append(table, key, column string, value []byte, delimiter string) (int, error) {
	return s.tableOrCreate(table).update(key, func(r *row.Row) {
		old := r.GetBytes(column)
		r.Put(column, appendValue(old, r.Has(column), value, delimiter))
	}), nil
}

func (s *MemStorage) Get(table, key string) (*row.Row, error) {
	t := s.table(table)
	if t == nil {
		return nil, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.item(key)
	if item == nil {
		return nil, nil
	}
	return item.latest(), nil
}

func (s *MemStorage) GetVersion(table, key string, version int) (*row.Row, error) {
	t := s.table(table)
	if t == nil {
		return nil, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.item(key)
	if item == nil || version <= item.base || version > item.version() {
		return nil, nil
	}
	return item.versions[version-item.base-1], nil
}

func (s *MemStorage) Version(table, key string) int {
	t := s.table(table)
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.item(key)
	if item == nil {
		return 0
	}
	return item.version()
}

func (s *MemStorage) Tables() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables := make(map[string]int, len(s.tables))
	for name, t := range s.tables {
		t.mu.RLock()
		tables[name] = t.tree.Len()
		t.mu.RUnlock()
	}
	return tables, nil
}

// ascend collects latest rows from fromKey while keep returns true.
func (t *memTable) ascend(fromKey string, keep func(r *row.Row, n int) bool) []*row.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rows []*row.Row
	t.tree.AscendGreaterOrEqual(&memItem{key: fromKey}, func(i btree.Item) bool {
		r := i.(*memItem).latest()
		if !keep(r, len(rows)) {
			return false
		}
		rows = append(rows, r)
		return true
	})
	return rows
}

func (s *MemStorage) Rows(table, fromKey string, limit int) ([]*row.Row, error) {
	t := s.table(table)
	if t == nil {
		return nil, TableNotFoundErr{Table: table}
	}
	return t.ascend(fromKey, func(_ *row.Row, n int) bool {
		return n <= limit
	}), nil
}

// Scan snapshots the range; rows are immutable once stored so the snapshot
// shares them.
func (s *MemStorage) Scan(table, fromKey, toKeyExclusive string) (RowIterator, error) {
	t := s.table(table)
	if t == nil {
		return nil, TableNotFoundErr{Table: table}
	}
	rows := t.ascend(fromKey, func(r *row.Row, _ int) bool {
		return toKeyExclusive == "" || r.Key() < toKeyExclusive
	})
	return newSliceIterator(rows), nil
}

func (s *MemStorage) Delete(table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; !ok {
		return TableNotFoundErr{Table: table}
	}
	delete(s.tables, table)
	return nil
}

func (s *MemStorage) Rename(table, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return TableNotFoundErr{Table: table}
	}
	if _, ok := s.tables[newName]; ok {
		return TableExistsErr{Table: newName}
	}
	s.tables[newName] = t
	delete(s.tables, table)
	return nil
}

func (s *MemStorage) Count(table string) int {
	t := s.table(table)
	if t == nil {
		return -1
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

func (s *MemStorage) FromRows(table string, rows []*row.Row) error {
	for _, r := range rows {
		if _, err := s.PutRow(table, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStorage) Close() error {
	return nil
}
