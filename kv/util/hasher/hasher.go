// Package hasher maps strings onto the lowercase-letter key space the KVS
// worker IDs live in, so hashed row keys spread evenly across workers.
package hasher

import (
	farm "github.com/dgryski/go-farm"
)

// hashLen letters of base 26 fit in 64 bits without bias on any position.
const hashLen = 13

// Hash returns a stable lowercase-letter digest of s.
func Hash(s string) string {
	h := farm.Fingerprint64([]byte(s))
	buf := make([]byte, hashLen)
	for i := range buf {
		buf[i] = byte('a' + h%26)
		h /= 26
	}
	return string(buf)
}
