package server

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/eepycrawl/flamekv/kv/util/worker"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ReplicaParam marks a request that is itself a replica write and must not
// be forwarded again.
const ReplicaParam = "replica"

const forwardTimeout = 10 * time.Second

// forwardTask is a write to repeat on every replica.
type forwardTask struct {
	method string
	path   string
	query  url.Values
	body   []byte
}

// replicaManager keeps the replica set fresh from the coordinator and sends
// forwarded writes to it from a single background worker.
type replicaManager struct {
	selfID      string
	n           int
	interval    time.Duration
	coordinator string
	hc          *http.Client

	mu    sync.RWMutex
	peers []coordinator.Worker

	worker  *worker.Worker
	wg      sync.WaitGroup
	started bool
}

func newReplicaManager(selfID string, cfg *config.Config, hc *http.Client) *replicaManager {
	m := &replicaManager{
		selfID:      selfID,
		n:           cfg.Storage.Replicas,
		interval:    cfg.Storage.ReplicaRefreshInterval.Duration,
		coordinator: cfg.Server.Coordinator,
		hc:          hc,
	}
	m.worker = worker.NewWorkerWithCapacity("replica-forwarder", cfg.Storage.ForwardQueueSize, &m.wg)
	return m
}

// chooseReplicas picks up to n peers: the nearest lower IDs in descending
// order, wrapping around to the highest IDs.
func chooseReplicas(workers []coordinator.Worker, selfID string, n int) []coordinator.Worker {
	sorted := append([]coordinator.Worker(nil), workers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })
	var lower, higher []coordinator.Worker
	for _, w := range sorted {
		switch {
		case w.ID < selfID:
			lower = append(lower, w)
		case w.ID > selfID:
			higher = append(higher, w)
		}
	}
	candidates := append(lower, higher...)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

func (m *replicaManager) Replicas() []coordinator.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]coordinator.Worker(nil), m.peers...)
}

func (m *replicaManager) refresh(ctx context.Context) error {
	workers, err := coordinator.FetchWorkers(ctx, m.hc, m.coordinator)
	if err != nil {
		return err
	}
	peers := chooseReplicas(workers, m.selfID, m.n)
	m.mu.Lock()
	m.peers = peers
	m.mu.Unlock()
	return nil
}

func (m *replicaManager) start(ctx context.Context, wg *sync.WaitGroup) {
	if m.n == 0 {
		return
	}
	m.started = true
	m.worker.Start(m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			if err := m.refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn("refresh replicas failed", zap.String("coordinator", m.coordinator), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *replicaManager) stop() {
	if !m.started {
		return
	}
	m.worker.Stop()
	m.wg.Wait()
}

// forward queues a copy of a successful write unless replication is off or
// the request is already a replica write.
func (m *replicaManager) forward(r *http.Request, body []byte) {
	if !m.started || r.URL.Query().Get(ReplicaParam) == "true" {
		return
	}
	query := r.URL.Query()
	query.Set(ReplicaParam, "true")
	m.worker.Schedule(forwardTask{
		method: r.Method,
		path:   r.URL.EscapedPath(),
		query:  query,
		body:   body,
	})
}

func (m *replicaManager) Handle(t worker.Task) {
	task := t.(forwardTask)
	for _, peer := range m.Replicas() {
		err := m.send(peer, task)
		if err != nil {
			replicaForwardCounter.WithLabelValues("fail").Inc()
			log.Warn("forward to replica failed",
				zap.String("replica", peer.ID),
				zap.String("addr", peer.Addr),
				zap.String("path", task.path),
				zap.Error(err))
			continue
		}
		replicaForwardCounter.WithLabelValues("ok").Inc()
	}
}

func (m *replicaManager) send(peer coordinator.Worker, task forwardTask) error {
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	u := "http://" + peer.Addr + task.path + "?" + task.query.Encode()
	req, err := http.NewRequest(task.method, u, bytes.NewReader(task.body))
	if err != nil {
		return errors.WithStack(err)
	}
	resp, err := m.hc.Do(req.WithContext(ctx))
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()
	msg, _ := ioutil.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("replica returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
