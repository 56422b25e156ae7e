// Package testcluster starts an in-process KVS cluster for tests: one
// coordinator and a set of workers with fixed IDs.
package testcluster

import (
	"context"
	"io/ioutil"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/eepycrawl/flamekv/kv/server"
	"github.com/eepycrawl/flamekv/pkg/testutil"
	"github.com/stretchr/testify/require"
)

type KVSCluster struct {
	Coordinator *coordinator.Server
	Workers     []*server.Server

	coordSrv *httptest.Server
	ids      []string
	dirs     []string
}

// DataDir is the storage directory of the worker with the given ID.
func (c *KVSCluster) DataDir(id string) string {
	for i, wid := range c.ids {
		if wid == id {
			return c.dirs[i]
		}
	}
	return ""
}

// CoordinatorAddr is the host:port of the coordinator.
func (c *KVSCluster) CoordinatorAddr() string {
	return strings.TrimPrefix(c.coordSrv.URL, "http://")
}

// StartKVS starts a worker per id and waits until all of them have pinged
// the coordinator.
func StartKVS(t *testing.T, ids []string, replicas int) *KVSCluster {
	c := &KVSCluster{Coordinator: coordinator.NewServer("kvs-coordinator", time.Minute)}
	c.coordSrv = httptest.NewServer(c.Coordinator.Handler())

	for _, id := range ids {
		dir, err := ioutil.TempDir("", "flamekv-cluster")
		require.Nil(t, err)
		c.ids = append(c.ids, id)
		c.dirs = append(c.dirs, dir)
		require.Nil(t, ioutil.WriteFile(filepath.Join(dir, "id"), []byte(id), 0644))

		cfg := config.NewTestConfig()
		cfg.Storage.DataDir = dir
		cfg.Storage.Replicas = replicas
		cfg.Server.Coordinator = c.CoordinatorAddr()
		s, err := server.NewServer(cfg)
		require.Nil(t, err)
		require.Nil(t, s.Run(context.Background()))
		c.Workers = append(c.Workers, s)
	}
	testutil.WaitUntil(t, func() bool {
		return c.Coordinator.Membership().Len() == len(ids)
	})
	return c
}

func (c *KVSCluster) Close() {
	for _, s := range c.Workers {
		s.Close()
	}
	c.coordSrv.Close()
	for _, dir := range c.dirs {
		os.RemoveAll(dir)
	}
}
