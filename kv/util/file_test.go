package util

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir, err := ioutil.TempDir("", "flamekv-util")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "sub", "f")
	require.Nil(t, EnsureDir(filepath.Dir(path)))
	assert.True(t, DirExists(filepath.Dir(path)))
	assert.False(t, FileExists(path))

	data, err := ReadFileIfExists(path)
	require.Nil(t, err)
	assert.Nil(t, data)

	require.Nil(t, WriteFileAtomic(path, []byte("one")))
	require.Nil(t, WriteFileAtomic(path, []byte("two")))
	data, err = ReadFileIfExists(path)
	require.Nil(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := ioutil.ReadDir(filepath.Dir(path))
	require.Nil(t, err)
	assert.Len(t, entries, 1)
}
