package keymutex

import (
	"hash/fnv"
	"sync"
)

// KeyMutex serializes work per string key using a fixed set of striped
// locks. Two distinct keys may share a stripe; that only costs
// throughput, never correctness.
type KeyMutex struct {
	stripes []sync.Mutex
}

// New creates a KeyMutex with the given stripe count (rounded up to at
// least 1).
func New(stripes int) *KeyMutex {
	if stripes < 1 {
		stripes = 1
	}
	return &KeyMutex{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe owning key
func (m *KeyMutex) Lock(key string) {
	m.stripes[m.index(key)].Lock()
}

// Unlock releases the stripe owning key
func (m *KeyMutex) Unlock(key string) {
	m.stripes[m.index(key)].Unlock()
}

func (m *KeyMutex) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}
