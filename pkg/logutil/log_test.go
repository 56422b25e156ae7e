package logutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pingcap/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerToFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "flamekv-log")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	cfg := &log.Config{Level: "debug", Format: "text"}
	cfg.File.Filename = filepath.Join(dir, "test.log")
	require.Nil(t, InitLogger(cfg))
	log.Info("hello from test")
	log.Sync()

	data, err := ioutil.ReadFile(cfg.File.Filename)
	require.Nil(t, err)
	assert.Contains(t, string(data), "hello from test")

	require.Nil(t, InitLogger(&log.Config{Level: "info"}))
}

func TestInitLoggerBadLevel(t *testing.T) {
	assert.NotNil(t, InitLogger(&log.Config{Level: "loud"}))
}
