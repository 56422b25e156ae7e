package storage

import (
	"path/filepath"
	"strings"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// appendDirName is the subdirectory of the data dir holding the LSM backend.
const appendDirName = "__append"

// Container routes each table to a backend by name prefix and implements
// moves between backends on rename.
type Container struct {
	mem        *MemStorage
	persistent *FileStorage
	appendOnly *AppendStorage
}

var _ Datastore = (*Container)(nil)

// NewContainer opens the on-disk backends under dataDir.
func NewContainer(dataDir string, compressRows bool) (*Container, error) {
	fs, err := NewFileStorage(dataDir, compressRows)
	if err != nil {
		return nil, err
	}
	as, err := NewAppendStorage(filepath.Join(dataDir, appendDirName))
	if err != nil {
		return nil, err
	}
	return &Container{mem: NewMemStorage(), persistent: fs, appendOnly: as}, nil
}

func (c *Container) backend(table string) Datastore {
	switch {
	case strings.HasPrefix(table, PersistentPrefix):
		return c.persistent
	case strings.HasPrefix(table, AppendOnlyPrefix):
		return c.appendOnly
	}
	return c.mem
}

func (c *Container) Put(table, key, column string, value []byte) (int, error) {
	if err := CheckTableName(table); err != nil {
		return 0, err
	}
	return c.backend(table).Put(table, key, column, value)
}

func (c *Container) PutRow(table string, r *row.Row) (int, error) {
	if err := CheckTableName(table); err != nil {
		return 0, err
	}
	return c.backend(table).PutRow(table, r)
}

func (c *Container) Append(table, key, column string, value []byte, delimiter string) (int, error) {
	if err := CheckTableName(table); err != nil {
		return 0, err
	}
	return c.backend(table).Append(table, key, column, value, delimiter)
}

func (c *Container) Get(table, key string) (*row.Row, error) {
	if CheckTableName(table) != nil {
		return nil, nil
	}
	return c.backend(table).Get(table, key)
}

func (c *Container) GetVersion(table, key string, version int) (*row.Row, error) {
	if CheckTableName(table) != nil {
		return nil, nil
	}
	return c.backend(table).GetVersion(table, key, version)
}

func (c *Container) Version(table, key string) int {
	if CheckTableName(table) != nil {
		return 0
	}
	return c.backend(table).Version(table, key)
}

func (c *Container) Tables() (map[string]int, error) {
	tables, err := c.mem.Tables()
	if err != nil {
		return nil, err
	}
	for _, ds := range []Datastore{c.persistent, c.appendOnly} {
		more, err := ds.Tables()
		if err != nil {
			return nil, err
		}
		for name, n := range more {
			tables[name] = n
		}
	}
	return tables, nil
}

func (c *Container) Rows(table, fromKey string, limit int) ([]*row.Row, error) {
	if err := CheckTableName(table); err != nil {
		return nil, TableNotFoundErr{Table: table}
	}
	return c.backend(table).Rows(table, fromKey, limit)
}

func (c *Container) Scan(table, fromKey, toKeyExclusive string) (RowIterator, error) {
	if err := CheckTableName(table); err != nil {
		return nil, TableNotFoundErr{Table: table}
	}
	return c.backend(table).Scan(table, fromKey, toKeyExclusive)
}

func (c *Container) Delete(table string) error {
	if err := CheckTableName(table); err != nil {
		return TableNotFoundErr{Table: table}
	}
	return c.backend(table).Delete(table)
}

// Rename within a backend is delegated. A memory table may move to any
// backend; tables on disk may only be renamed within their own backend.
func (c *Container) Rename(table, newName string) error {
	if err := CheckTableName(table); err != nil {
		return TableNotFoundErr{Table: table}
	}
	if err := CheckTableName(newName); err != nil {
		return err
	}
	from, to := c.backend(table), c.backend(newName)
	if from == to {
		return from.Rename(table, newName)
	}
	if from != Datastore(c.mem) {
		return WrongNameFormatErr{Table: newName, Reason: "tables on disk cannot move to another backend"}
	}
	if c.mem.Count(table) < 0 {
		return TableNotFoundErr{Table: table}
	}
	if to.Count(newName) >= 0 {
		return TableExistsErr{Table: newName}
	}
	it, err := c.mem.Scan(table, "", "")
	if err != nil {
		return err
	}
	rows, err := CollectRows(it)
	if err != nil {
		return err
	}
	if err = to.FromRows(newName, rows); err != nil {
		return errors.Annotatef(err, "migrate %s to %s", table, newName)
	}
	log.Info("table migrated", zap.String("from", table), zap.String("to", newName), zap.Int("rows", len(rows)))
	return c.mem.Delete(table)
}

func (c *Container) Count(table string) int {
	if CheckTableName(table) != nil {
		return -1
	}
	return c.backend(table).Count(table)
}

func (c *Container) FromRows(table string, rows []*row.Row) error {
	if err := CheckTableName(table); err != nil {
		return err
	}
	return c.backend(table).FromRows(table, rows)
}

func (c *Container) Close() error {
	return c.appendOnly.Close()
}
