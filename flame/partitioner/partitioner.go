// Package partitioner splits the KVS key space into ranges and assigns each
// range to a Flame worker, preferring a worker on the host that stores it.
package partitioner

import (
	"net"
	"sort"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/pingcap/errors"
)

var (
	ErrNoKVSWorkers   = errors.New("partitioner: no kvs workers")
	ErrNoFlameWorkers = errors.New("partitioner: no flame workers")
)

// Partition is one key range and the Flame worker that processes it. A nil
// bound is unbounded.
type Partition struct {
	KVSWorker      string
	FromKey        *string
	ToKeyExclusive *string
	FlameWorker    string
}

type kvsRange struct {
	addr string
	from *string
	to   *string
}

type Partitioner struct {
	ranges []kvsRange
	flame  []string
}

func New() *Partitioner {
	return &Partitioner{}
}

// AddKVSWorker adds a range stored by the KVS worker at addr.
func (p *Partitioner) AddKVSWorker(addr string, from, toExclusive *string) {
	p.ranges = append(p.ranges, kvsRange{addr: addr, from: from, to: toExclusive})
}

func (p *Partitioner) AddFlameWorker(addr string) {
	p.flame = append(p.flame, addr)
}

func host(addr string) string {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return h
}

// AssignPartitions gives every range to the least loaded Flame worker on the
// same host as its KVS worker, or to the least loaded worker overall when no
// worker shares the host. Ties go to the lowest address.
func (p *Partitioner) AssignPartitions() ([]Partition, error) {
	if len(p.ranges) == 0 {
		return nil, ErrNoKVSWorkers
	}
	if len(p.flame) == 0 {
		return nil, ErrNoFlameWorkers
	}
	workers := append([]string(nil), p.flame...)
	sort.Strings(workers)
	load := make(map[string]int, len(workers))

	pick := func(candidates []string) string {
		best := ""
		for _, w := range candidates {
			if best == "" || load[w] < load[best] {
				best = w
			}
		}
		return best
	}

	partitions := make([]Partition, 0, len(p.ranges))
	for _, r := range p.ranges {
		var local []string
		for _, w := range workers {
			if host(w) == host(r.addr) {
				local = append(local, w)
			}
		}
		chosen := pick(local)
		if chosen == "" {
			chosen = pick(workers)
		}
		load[chosen]++
		partitions = append(partitions, Partition{
			KVSWorker:      r.addr,
			FromKey:        r.from,
			ToKeyExclusive: r.to,
			FlameWorker:    chosen,
		})
	}
	return partitions, nil
}

func strPtr(s string) *string {
	return &s
}

// ForCluster builds the partitions of a cluster. kvsWorkers must be sorted
// by ID. Worker i owns [id_i, id_i+1); the last worker owns both
// [id_last, +inf) and (-inf, id_0).
func ForCluster(kvsWorkers []coordinator.Worker, flameWorkers []string) ([]Partition, error) {
	p := New()
	for i, w := range kvsWorkers {
		var to *string
		if i+1 < len(kvsWorkers) {
			to = strPtr(kvsWorkers[i+1].ID)
		}
		p.AddKVSWorker(w.Addr, strPtr(w.ID), to)
		if i == len(kvsWorkers)-1 {
			p.AddKVSWorker(w.Addr, nil, strPtr(kvsWorkers[0].ID))
		}
	}
	for _, addr := range flameWorkers {
		p.AddFlameWorker(addr)
	}
	return p.AssignPartitions()
}
