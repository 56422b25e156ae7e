// Package coordinator tracks live workers from their heartbeats and serves
// the membership list that clients and drivers route by.
package coordinator

import (
	"sort"
	"sync"
	"time"
)

// Worker is one live member as reported by /workers.
type Worker struct {
	ID   string
	Addr string
}

type member struct {
	addr     string
	lastPing time.Time
}

// Membership is the worker table of a coordinator. Records older than the
// TTL are evicted before every read.
type Membership struct {
	mu      sync.Mutex
	ttl     time.Duration
	members map[string]*member
	now     func() time.Time
}

func NewMembership(ttl time.Duration) *Membership {
	return &Membership{
		ttl:     ttl,
		members: make(map[string]*member),
		now:     time.Now,
	}
}

// Ping records a heartbeat, registering the worker if it is new. A worker
// that comes back with a new address replaces its old record.
func (m *Membership) Ping(id, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[id] = &member{addr: addr, lastPing: m.now()}
}

func (m *Membership) evictLocked() {
	deadline := m.now().Add(-m.ttl)
	for id, mem := range m.members {
		if mem.lastPing.Before(deadline) {
			delete(m.members, id)
		}
	}
}

// Workers returns the live workers sorted by ID.
func (m *Membership) Workers() []Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	workers := make([]Worker, 0, len(m.members))
	for id, mem := range m.members {
		workers = append(workers, Worker{ID: id, Addr: mem.addr})
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers
}

func (m *Membership) Len() int {
	return len(m.Workers())
}
