package storage

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "flamekv-storage")
	require.Nil(t, err)
	return dir
}

func cleanUpTestData(dir string) error {
	return os.RemoveAll(dir)
}

type backendCase struct {
	name  string
	table string
	open  func(t *testing.T, dir string) Datastore
}

func backends() []backendCase {
	return []backendCase{
		{"memory", "t1", func(t *testing.T, dir string) Datastore { return NewMemStorage() }},
		{"file", "pt-t1", func(t *testing.T, dir string) Datastore {
			s, err := NewFileStorage(dir, false)
			require.Nil(t, err)
			return s
		}},
		{"file-lz4", "pt-t1", func(t *testing.T, dir string) Datastore {
			s, err := NewFileStorage(dir, true)
			require.Nil(t, err)
			return s
		}},
		{"append", "at-t1", func(t *testing.T, dir string) Datastore {
			s, err := NewAppendStorage(filepath.Join(dir, "lsm"))
			require.Nil(t, err)
			return s
		}},
	}
}

func keysOf(rows []*row.Row) []string {
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key())
	}
	return keys
}

func TestBackendPutGet(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			dir := newTestDir(t)
			defer cleanUpTestData(dir)
			ds := bc.open(t, dir)
			defer ds.Close()

			r, err := ds.Get(bc.table, "missing")
			require.Nil(t, err)
			assert.Nil(t, r)
			assert.Equal(t, -1, ds.Count(bc.table))

			v, err := ds.Put(bc.table, "row/1", "col", []byte("v1"))
			require.Nil(t, err)
			assert.True(t, v >= 1)
			_, err = ds.Put(bc.table, "row/1", "other", []byte("x y"))
			require.Nil(t, err)

			r, err = ds.Get(bc.table, "row/1")
			require.Nil(t, err)
			require.NotNil(t, r)
			assert.Equal(t, []byte("v1"), r.GetBytes("col"))
			assert.Equal(t, []byte("x y"), r.GetBytes("other"))
			assert.True(t, ds.Version(bc.table, "row/1") >= 1)
			assert.Equal(t, 0, ds.Version(bc.table, "nope"))

			// Reads are idempotent.
			again, err := ds.Get(bc.table, "row/1")
			require.Nil(t, err)
			assert.Equal(t, r.Encode(), again.Encode())

			_, err = ds.Append(bc.table, "row/1", "col", []byte("v2"), ",")
			require.Nil(t, err)
			_, err = ds.Append(bc.table, "row/2", "col", []byte("first"), ",")
			require.Nil(t, err)
			r, _ = ds.Get(bc.table, "row/1")
			assert.Equal(t, "v1,v2", string(r.GetBytes("col")))
			r, _ = ds.Get(bc.table, "row/2")
			assert.Equal(t, "first", string(r.GetBytes("col")))

			whole := row.New("row/1")
			whole.PutString("only", "this")
			_, err = ds.PutRow(bc.table, whole)
			require.Nil(t, err)
			r, _ = ds.Get(bc.table, "row/1")
			assert.Equal(t, []string{"only"}, r.Columns())

			assert.Equal(t, 2, ds.Count(bc.table))
			tables, err := ds.Tables()
			require.Nil(t, err)
			assert.Equal(t, 2, tables[bc.table])
		})
	}
}

func TestBackendScan(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			dir := newTestDir(t)
			defer cleanUpTestData(dir)
			ds := bc.open(t, dir)
			defer ds.Close()

			_, err := ds.Scan(bc.table, "", "")
			assert.True(t, IsTableNotFound(err))
			_, err = ds.Rows(bc.table, "", 10)
			assert.True(t, IsTableNotFound(err))

			for _, k := range []string{"e", "a", "c", "b", "d", "aaaaaaaaa"} {
				_, err := ds.Put(bc.table, k, "value", []byte(k))
				require.Nil(t, err)
			}

			it, err := ds.Scan(bc.table, "", "")
			require.Nil(t, err)
			rows, err := CollectRows(it)
			require.Nil(t, err)
			assert.Equal(t, []string{"a", "aaaaaaaaa", "b", "c", "d", "e"}, keysOf(rows))

			it, err = ds.Scan(bc.table, "b", "d")
			require.Nil(t, err)
			rows, err = CollectRows(it)
			require.Nil(t, err)
			assert.Equal(t, []string{"b", "c"}, keysOf(rows))

			it, err = ds.Scan(bc.table, "zz", "")
			require.Nil(t, err)
			rows, err = CollectRows(it)
			require.Nil(t, err)
			assert.Empty(t, rows)

			rows, err = ds.Rows(bc.table, "b", 2)
			require.Nil(t, err)
			assert.Equal(t, []string{"b", "c", "d"}, keysOf(rows))
			rows, err = ds.Rows(bc.table, "d", 2)
			require.Nil(t, err)
			assert.Equal(t, []string{"d", "e"}, keysOf(rows))
		})
	}
}

func TestBackendRenameDelete(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			dir := newTestDir(t)
			defer cleanUpTestData(dir)
			ds := bc.open(t, dir)
			defer ds.Close()

			renamed := bc.table + "-renamed"
			other := bc.table + "-other"
			assert.True(t, IsTableNotFound(ds.Rename(bc.table, renamed)))
			assert.True(t, IsTableNotFound(ds.Delete(bc.table)))

			for i := 0; i < 5; i++ {
				_, err := ds.Put(bc.table, fmt.Sprintf("k%d", i), "c", []byte("v"))
				require.Nil(t, err)
			}
			_, err := ds.Put(other, "k", "c", []byte("v"))
			require.Nil(t, err)

			assert.True(t, IsTableExists(ds.Rename(bc.table, other)))
			require.Nil(t, ds.Rename(bc.table, renamed))
			assert.Equal(t, -1, ds.Count(bc.table))
			assert.Equal(t, 5, ds.Count(renamed))
			r, err := ds.Get(renamed, "k3")
			require.Nil(t, err)
			require.NotNil(t, r)

			require.Nil(t, ds.Delete(renamed))
			assert.Equal(t, -1, ds.Count(renamed))
			assert.Equal(t, 1, ds.Count(other))
		})
	}
}

func TestMemVersions(t *testing.T) {
	s := NewMemStorage()
	for i := 1; i <= maxRowVersions+2; i++ {
		v, err := s.Put("t", "k", "c", []byte(fmt.Sprintf("v%d", i)))
		require.Nil(t, err)
		assert.Equal(t, i, v)
	}
	latest := maxRowVersions + 2
	assert.Equal(t, latest, s.Version("t", "k"))

	r, err := s.GetVersion("t", "k", latest-1)
	require.Nil(t, err)
	assert.Equal(t, fmt.Sprintf("v%d", latest-1), string(r.GetBytes("c")))

	// The oldest versions were dropped from the history.
	r, err = s.GetVersion("t", "k", 1)
	require.Nil(t, err)
	assert.Nil(t, r)
	r, err = s.GetVersion("t", "k", latest+1)
	require.Nil(t, err)
	assert.Nil(t, r)
}

func TestFileConcurrentAppend(t *testing.T) {
	dir := newTestDir(t)
	defer cleanUpTestData(dir)
	s, err := NewFileStorage(dir, false)
	require.Nil(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append("pt-c", "row", "col", []byte("x"), "")
			assert.Nil(t, err)
		}(i)
	}
	wg.Wait()
	r, err := s.Get("pt-c", "row")
	require.Nil(t, err)
	assert.Len(t, r.GetBytes("col"), 20)
}

func TestAppendConcurrentWrites(t *testing.T) {
	dir := newTestDir(t)
	defer cleanUpTestData(dir)
	s, err := NewAppendStorage(filepath.Join(dir, "lsm"))
	require.Nil(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append("at-idx", "word", "urls", []byte("u"), ",")
			assert.Nil(t, err)
			_, err = s.Put("at-idx", "word", fmt.Sprintf("c%d", i), []byte("v"))
			assert.Nil(t, err)
		}(i)
	}
	wg.Wait()
	r, err := s.Get("at-idx", "word")
	require.Nil(t, err)
	assert.Len(t, strings.Split(string(r.GetBytes("urls")), ","), 64)
	assert.Equal(t, 65, r.Len())
}

func TestFileEmptyRowKey(t *testing.T) {
	dir := newTestDir(t)
	defer cleanUpTestData(dir)
	s, err := NewFileStorage(dir, false)
	require.Nil(t, err)

	_, err = s.Put("pt-e", "", "c", []byte("v"))
	assert.IsType(t, EmptyRowKeyErr{}, errors.Cause(err))
	_, err = s.PutRow("pt-e", row.New(""))
	assert.IsType(t, EmptyRowKeyErr{}, errors.Cause(err))
	_, err = os.Stat(filepath.Join(dir, "pt-e"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.Put("pt-e", "k", "c", []byte("v"))
	require.Nil(t, err)
	_, err = s.Append("pt-e", "", "c", []byte("v"), "")
	assert.IsType(t, EmptyRowKeyErr{}, errors.Cause(err))
	r, err := s.Get("pt-e", "")
	require.Nil(t, err)
	assert.Nil(t, r)
	assert.Equal(t, 0, s.Version("pt-e", ""))
	assert.Equal(t, 1, s.Count("pt-e"))
}

func TestFileLayout(t *testing.T) {
	dir := newTestDir(t)
	defer cleanUpTestData(dir)
	s, err := NewFileStorage(dir, false)
	require.Nil(t, err)

	_, err = s.Put("pt-l", "abc", "c", []byte("v"))
	require.Nil(t, err)
	_, err = s.Put("pt-l", "abcdefgh", "c", []byte("v"))
	require.Nil(t, err)
	assert.FileExists(t, filepath.Join(dir, "pt-l", "abc"))
	assert.FileExists(t, filepath.Join(dir, "pt-l", "__ab", "abcdefgh"))

	// Uncompressed files stay readable by a store that compresses.
	lz, err := NewFileStorage(dir, true)
	require.Nil(t, err)
	r, err := lz.Get("pt-l", "abcdefgh")
	require.Nil(t, err)
	assert.Equal(t, "v", string(r.GetBytes("c")))
}

func TestContainer(t *testing.T) {
	dir := newTestDir(t)
	defer cleanUpTestData(dir)
	c, err := NewContainer(dir, false)
	require.Nil(t, err)
	defer c.Close()

	for _, table := range []string{"mem", "pt-disk", "at-log"} {
		_, err := c.Put(table, "k", "c", []byte(table))
		require.Nil(t, err)
	}
	tables, err := c.Tables()
	require.Nil(t, err)
	assert.Equal(t, map[string]int{"mem": 1, "pt-disk": 1, "at-log": 1}, tables)

	_, err = c.Put("bad/name", "k", "c", nil)
	assert.True(t, IsWrongNameFormat(err))
	_, err = c.Put("__append", "k", "c", nil)
	assert.True(t, IsWrongNameFormat(err))

	// Memory tables migrate to disk and disappear from memory.
	require.Nil(t, c.Rename("mem", "pt-moved"))
	assert.Equal(t, -1, c.Count("mem"))
	r, err := c.Get("pt-moved", "k")
	require.Nil(t, err)
	assert.Equal(t, "mem", string(r.GetBytes("c")))

	assert.True(t, IsWrongNameFormat(c.Rename("pt-disk", "mem2")))
	assert.True(t, IsWrongNameFormat(c.Rename("at-log", "pt-log")))
	assert.True(t, IsTableExists(c.Rename("pt-moved", "pt-disk")))
	assert.True(t, IsTableNotFound(c.Rename("nothing", "pt-x")))

	_, err = c.Put("m2", "k", "c", []byte("v"))
	require.Nil(t, err)
	assert.True(t, IsTableExists(c.Rename("m2", "at-log")))
	require.Nil(t, c.Rename("m2", "at-m2"))
	assert.Equal(t, 1, c.Count("at-m2"))
}
