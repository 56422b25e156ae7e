package util

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pingcap/errors"
)

func FileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !fi.IsDir()
}

func DirExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// EnsureDir creates path and its parents if missing.
func EnsureDir(path string) error {
	return errors.WithStack(os.MkdirAll(path, os.ModePerm))
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := ioutil.TempFile(dir, ".tmp-")
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := f.Name()
	if _, err = f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	return nil
}

// ReadFileIfExists returns nil, nil when path does not exist.
func ReadFileIfExists(path string) ([]byte, error) {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}
