package storage

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const rowLockStripes = 256

// rowLocks serializes read-modify-write cycles on a row. Rows hash onto a
// fixed set of stripes.
type rowLocks [rowLockStripes]sync.Mutex

func (l *rowLocks) lock(table, key string) func() {
	h := xxhash.New()
	h.WriteString(table)
	h.Write([]byte{0})
	h.WriteString(key)
	mu := &l[h.Sum64()%rowLockStripes]
	mu.Lock()
	return mu.Unlock
}
