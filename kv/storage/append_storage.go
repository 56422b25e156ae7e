package storage

import (
	"bytes"

	"github.com/coocood/badger"
	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/kv/util"
	"github.com/eepycrawl/flamekv/kv/util/codec"
	"github.com/pingcap/errors"
)

const (
	// batchSize bounds the writes of one transaction when a whole table is
	// moved or dropped.
	batchSize = 1000

	maxConflictRetries = 10
)

// AppendStorage keeps every table in one badger LSM. A row is stored under
// memcomparable(table) + rowKey so each table is a contiguous key range.
// Read-modify-writes of a row are serialized by a striped lock and retried
// when they conflict with a table level transaction.
type AppendStorage struct {
	db    *badger.DB
	rowMu rowLocks
}

func NewAppendStorage(dir string) (*AppendStorage, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open append store at %s", dir)
	}
	return &AppendStorage{db: db}, nil
}

func tablePrefix(table string) []byte {
	return codec.EncodeBytes([]byte(table))
}

func rowDBKey(table, key string) []byte {
	return append(tablePrefix(table), key...)
}

func getRowFromTxn(txn *badger.Txn, dbKey []byte) (*row.Row, error) {
	item, err := txn.Get(dbKey)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	val, err := item.Value()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return row.Decode(val)
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *AppendStorage) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if err = s.db.Update(fn); err != badger.ErrConflict {
			return err
		}
		conflictRetryCounter.Inc()
	}
	return err
}

func (s *AppendStorage) modify(table, key string, fn func(r *row.Row)) (int, error) {
	unlock := s.rowMu.lock(table, key)
	defer unlock()

	dbKey := rowDBKey(table, key)
	err := s.update(func(txn *badger.Txn) error {
		r, err := getRowFromTxn(txn, dbKey)
		if err != nil {
			return err
		}
		if r == nil {
			r = row.New(key)
		}
		fn(r)
		return txn.Set(dbKey, r.Encode())
	})
	return 1, errors.WithStack(err)
}

func (s *AppendStorage) Put(table, key, column string, value []byte) (int, error) {
	return s.modify(table, key, func(r *row.Row) {
		r.Put(column, value)
	})
}

func (s *AppendStorage) PutRow(table string, r *row.Row) (int, error) {
	unlock := s.rowMu.lock(table, r.Key())
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		return txn.Set(rowDBKey(table, r.Key()), r.Encode())
	})
	return 1, errors.WithStack(err)
}

func (s *AppendStorage) Append(table, key, column string, value []byte, delimiter string) (int, error) {
	return s.modify(table, key, func(r *row.Row) {
		r.Put(column, appendValue(r.GetBytes(column), r.Has(column), value, delimiter))
	})
}

func (s *AppendStorage) Get(table, key string) (*row.Row, error) {
	var r *row.Row
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRowFromTxn(txn, rowDBKey(table, key))
		return err
	})
	return r, err
}

func (s *AppendStorage) GetVersion(table, key string, _ int) (*row.Row, error) {
	return s.Get(table, key)
}

func (s *AppendStorage) Version(table, key string) int {
	r, err := s.Get(table, key)
	if err != nil || r == nil {
		return 0
	}
	return 1
}

// keys lists the stored keys of a table.
func (s *AppendStorage) keys(table string) ([][]byte, error) {
	prefix := tablePrefix(table)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, errors.WithStack(err)
}

func (s *AppendStorage) Tables() (map[string]int, error) {
	tables := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			_, name, err := codec.DecodeBytes(it.Item().Key())
			if err != nil {
				return err
			}
			tables[string(name)]++
		}
		return nil
	})
	return tables, errors.WithStack(err)
}

func (s *AppendStorage) Rows(table, fromKey string, limit int) ([]*row.Row, error) {
	it, err := s.Scan(table, fromKey, "")
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var rows []*row.Row
	for ; it.Valid() && len(rows) <= limit; it.Next() {
		rows = append(rows, it.Row())
	}
	return rows, it.Err()
}

// Scan holds a read transaction open until the iterator is closed.
func (s *AppendStorage) Scan(table, fromKey, toKeyExclusive string) (RowIterator, error) {
	prefix := tablePrefix(table)
	txn := s.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		it.Close()
		txn.Discard()
		return nil, TableNotFoundErr{Table: table}
	}
	bi := &badgerRowIterator{txn: txn, iter: it, prefix: prefix, to: toKeyExclusive}
	it.Seek(append(append([]byte(nil), prefix...), fromKey...))
	bi.load()
	return bi, nil
}

type badgerRowIterator struct {
	txn    *badger.Txn
	iter   *badger.Iterator
	prefix []byte
	to     string
	cur    *row.Row
	err    error
	closed bool
}

func (it *badgerRowIterator) load() {
	it.cur = nil
	if it.err != nil || !it.iter.ValidForPrefix(it.prefix) {
		return
	}
	item := it.iter.Item()
	key := string(item.Key()[len(it.prefix):])
	if it.to != "" && key >= it.to {
		return
	}
	val, err := item.Value()
	if err != nil {
		it.err = errors.WithStack(err)
		return
	}
	it.cur, it.err = row.Decode(val)
}

func (it *badgerRowIterator) Valid() bool { return it.cur != nil }

func (it *badgerRowIterator) Row() *row.Row { return it.cur }

func (it *badgerRowIterator) Next() {
	it.iter.Next()
	it.load()
}

func (it *badgerRowIterator) Err() error { return it.err }

func (it *badgerRowIterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.iter.Close()
	it.txn.Discard()
}

func (s *AppendStorage) Delete(table string) error {
	keys, err := s.keys(table)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return TableNotFoundErr{Table: table}
	}
	return s.writeBatches(len(keys), func(txn *badger.Txn, i int) error {
		return txn.Delete(keys[i])
	})
}

// Rename copies every row under the new prefix, then drops the old keys.
// It is not atomic across batches.
func (s *AppendStorage) Rename(table, newName string) error {
	keys, err := s.keys(table)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return TableNotFoundErr{Table: table}
	}
	existing, err := s.keys(newName)
	if err != nil {
		return err
	}
	if len(existing) != 0 {
		return TableExistsErr{Table: newName}
	}
	oldPrefix, newPrefix := tablePrefix(table), tablePrefix(newName)
	err = s.writeBatches(len(keys), func(txn *badger.Txn, i int) error {
		item, err := txn.Get(keys[i])
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		newKey := append(append([]byte(nil), newPrefix...), bytes.TrimPrefix(keys[i], oldPrefix)...)
		return txn.Set(newKey, val)
	})
	if err != nil {
		return err
	}
	return s.writeBatches(len(keys), func(txn *badger.Txn, i int) error {
		return txn.Delete(keys[i])
	})
}

func (s *AppendStorage) writeBatches(n int, fn func(txn *badger.Txn, i int) error) error {
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		err := s.update(func(txn *badger.Txn) error {
			for i := start; i < end; i++ {
				if err := fn(txn, i); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (s *AppendStorage) Count(table string) int {
	keys, err := s.keys(table)
	if err != nil || len(keys) == 0 {
		return -1
	}
	return len(keys)
}

func (s *AppendStorage) FromRows(table string, rows []*row.Row) error {
	return s.writeBatches(len(rows), func(txn *badger.Txn, i int) error {
		return txn.Set(rowDBKey(table, rows[i].Key()), rows[i].Encode())
	})
}

func (s *AppendStorage) Close() error {
	return errors.WithStack(s.db.Close())
}
