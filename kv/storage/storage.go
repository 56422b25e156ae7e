// Package storage holds the per-worker table stores. A table lives in one of
// three backends chosen by its name prefix: memory, files on disk, or an LSM
// tree for append-heavy tables.
package storage

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/pingcap/errcode"
	"github.com/pingcap/errors"
)

const (
	// PersistentPrefix marks tables stored one file per row.
	PersistentPrefix = "pt-"
	// AppendOnlyPrefix marks tables stored in the LSM backend.
	AppendOnlyPrefix = "at-"
)

// Datastore is a set of named tables of rows ordered by key.
//
// Range bounds are strings; an empty toKeyExclusive means unbounded.
type Datastore interface {
	// Put sets one cell, creating the table and row as needed, and returns
	// the row's new version.
	Put(table, key, column string, value []byte) (int, error)
	// PutRow replaces a whole row.
	PutRow(table string, r *row.Row) (int, error)
	// Append adds value to the cell, separated from the old value by
	// delimiter, or sets it when the cell is empty.
	Append(table, key, column string, value []byte, delimiter string) (int, error)
	// Get returns nil, nil when the table or row is missing.
	Get(table, key string) (*row.Row, error)
	// GetVersion returns a historical version of a row where the backend
	// keeps history, the latest row otherwise.
	GetVersion(table, key string, version int) (*row.Row, error)
	// Version returns the latest version of a row, 0 when missing.
	Version(table, key string) int
	// Tables maps table names to row counts.
	Tables() (map[string]int, error)
	// Rows returns up to limit+1 rows with key >= fromKey so that a caller
	// paging by limit can tell whether a next page exists.
	Rows(table, fromKey string, limit int) ([]*row.Row, error)
	Scan(table, fromKey, toKeyExclusive string) (RowIterator, error)
	Delete(table string) error
	Rename(table, newName string) error
	// Count returns -1 when the table is missing.
	Count(table string) int
	// FromRows loads rows into a table, used when a table moves between backends.
	FromRows(table string, rows []*row.Row) error
	Close() error
}

// RowIterator walks rows in key order.
type RowIterator interface {
	Valid() bool
	Row() *row.Row
	Next()
	// Err returns the first error hit while iterating.
	Err() error
	Close()
}

var (
	TableNotFoundCode   = errcode.NotFoundCode.Child("missing.table")
	TableExistsCode     = errcode.StateCode.Child("state.table_exists").SetHTTP(http.StatusConflict)
	WrongNameFormatCode = errcode.InvalidInputCode.Child("input.table_name")
	EmptyRowKeyCode     = errcode.InvalidInputCode.Child("input.row_key")
)

var _ errcode.ErrorCode = (*TableNotFoundErr)(nil)   // assert implements interface
var _ errcode.ErrorCode = (*TableExistsErr)(nil)     // assert implements interface
var _ errcode.ErrorCode = (*WrongNameFormatErr)(nil) // assert implements interface
var _ errcode.ErrorCode = (*EmptyRowKeyErr)(nil)     // assert implements interface

type TableNotFoundErr struct {
	Table string `json:"table"`
}

func (e TableNotFoundErr) Error() string {
	return fmt.Sprintf("table %s not found", e.Table)
}

func (e TableNotFoundErr) Code() errcode.Code { return TableNotFoundCode }

type TableExistsErr struct {
	Table string `json:"table"`
}

func (e TableExistsErr) Error() string {
	return fmt.Sprintf("table %s already exists", e.Table)
}

func (e TableExistsErr) Code() errcode.Code { return TableExistsCode }

type WrongNameFormatErr struct {
	Table  string `json:"table"`
	Reason string `json:"reason"`
}

func (e WrongNameFormatErr) Error() string {
	return fmt.Sprintf("invalid table name %q: %s", e.Table, e.Reason)
}

func (e WrongNameFormatErr) Code() errcode.Code { return WrongNameFormatCode }

// EmptyRowKeyErr is returned by backends that cannot store a row with an
// empty key.
type EmptyRowKeyErr struct {
	Table string `json:"table"`
}

func (e EmptyRowKeyErr) Error() string {
	return fmt.Sprintf("empty row key in table %s", e.Table)
}

func (e EmptyRowKeyErr) Code() errcode.Code { return EmptyRowKeyCode }

func IsTableNotFound(err error) bool {
	_, ok := errors.Cause(err).(TableNotFoundErr)
	return ok
}

func IsTableExists(err error) bool {
	_, ok := errors.Cause(err).(TableExistsErr)
	return ok
}

func IsWrongNameFormat(err error) bool {
	_, ok := errors.Cause(err).(WrongNameFormatErr)
	return ok
}

// CheckTableName rejects names that cannot be stored as a directory or that
// collide with internal directories.
func CheckTableName(table string) error {
	switch {
	case table == "":
		return WrongNameFormatErr{Table: table, Reason: "empty name"}
	case strings.ContainsAny(table, "/\\ \n"):
		return WrongNameFormatErr{Table: table, Reason: "contains a separator"}
	case strings.HasPrefix(table, ".") || strings.HasPrefix(table, "__"):
		return WrongNameFormatErr{Table: table, Reason: "reserved prefix"}
	}
	return nil
}

// inRange reports whether key lies in [from, to); an empty to is unbounded.
func inRange(key, from, to string) bool {
	return key >= from && (to == "" || key < to)
}

// sliceIterator iterates a snapshot of rows.
type sliceIterator struct {
	rows []*row.Row
	pos  int
}

func newSliceIterator(rows []*row.Row) *sliceIterator {
	return &sliceIterator{rows: rows}
}

func (it *sliceIterator) Valid() bool { return it.pos < len(it.rows) }

func (it *sliceIterator) Row() *row.Row { return it.rows[it.pos] }

func (it *sliceIterator) Next() { it.pos++ }

func (it *sliceIterator) Err() error { return nil }

func (it *sliceIterator) Close() {}

// CollectRows drains an iterator.
func CollectRows(it RowIterator) ([]*row.Row, error) {
	defer it.Close()
	var rows []*row.Row
	for ; it.Valid(); it.Next() {
		rows = append(rows, it.Row())
	}
	return rows, it.Err()
}

func appendValue(old []byte, exists bool, value []byte, delimiter string) []byte {
	if !exists {
		return append([]byte(nil), value...)
	}
	merged := make([]byte, 0, len(old)+len(delimiter)+len(value))
	merged = append(merged, old...)
	merged = append(merged, delimiter...)
	return append(merged, value...)
}
