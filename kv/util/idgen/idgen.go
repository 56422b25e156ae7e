// Package idgen generates worker identities.
package idgen

import (
	"math/rand"
	"sync"
	"time"
)

// IDLength is the length of a worker ID.
const IDLength = 5

var (
	mu  sync.Mutex
	rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// LowerCase returns n random letters in [a-z].
func LowerCase(n int) string {
	mu.Lock()
	defer mu.Unlock()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('a' + rnd.Intn(26))
	}
	return string(buf)
}

// NewWorkerID returns a fresh worker ID.
func NewWorkerID() string {
	return LowerCase(IDLength)
}

// Valid reports whether id looks like a worker ID.
func Valid(id string) bool {
	if len(id) == 0 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 'a' || id[i] > 'z' {
			return false
		}
	}
	return true
}
