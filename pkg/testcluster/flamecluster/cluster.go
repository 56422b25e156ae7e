// Package flamecluster starts an in-process Flame cluster on top of a KVS
// test cluster: a Flame coordinator and a set of Flame workers.
package flamecluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eepycrawl/flamekv/flame"
	"github.com/eepycrawl/flamekv/flame/coordinator"
	"github.com/eepycrawl/flamekv/flame/worker"
	"github.com/eepycrawl/flamekv/kv/client"
	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/eepycrawl/flamekv/pkg/testcluster"
	"github.com/eepycrawl/flamekv/pkg/testutil"
	"github.com/stretchr/testify/require"
)

type Cluster struct {
	KVS         *testcluster.KVSCluster
	Coordinator *coordinator.Server
	Workers     []*worker.Server

	coordSrv *httptest.Server
}

// Start runs kvsIDs KVS workers and n Flame workers and waits until every
// worker has pinged its coordinator.
func Start(t *testing.T, kvsIDs []string, n int) *Cluster {
	c := &Cluster{KVS: testcluster.StartKVS(t, kvsIDs, 0)}

	cfg := config.NewTestConfig()
	cfg.Flame.KVSCoordinator = c.KVS.CoordinatorAddr()
	c.Coordinator = coordinator.NewServer(cfg)
	c.coordSrv = httptest.NewServer(c.Coordinator.Handler())

	for i := 0; i < n; i++ {
		wcfg := config.NewTestConfig()
		wcfg.Server.Coordinator = c.CoordinatorAddr()
		w := worker.NewServer(wcfg)
		require.Nil(t, w.Run(context.Background()))
		c.Workers = append(c.Workers, w)
	}
	testutil.WaitUntil(t, func() bool {
		return c.Coordinator.Membership().Len() == n
	})
	return c
}

// CoordinatorAddr is the host:port of the Flame coordinator.
func (c *Cluster) CoordinatorAddr() string {
	return strings.TrimPrefix(c.coordSrv.URL, "http://")
}

// NewContext returns a driver context for job bound to this cluster.
func (c *Cluster) NewContext(job string) *flame.Context {
	kvs := client.New(c.KVS.CoordinatorAddr())
	return flame.NewContext(job, kvs, flame.CoordinatorWorkers(&http.Client{}, c.CoordinatorAddr()))
}

func (c *Cluster) Close() {
	for _, w := range c.Workers {
		w.Close()
	}
	c.coordSrv.Close()
	c.KVS.Close()
}
