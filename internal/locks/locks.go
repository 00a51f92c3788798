// Package locks provides per-key mutual exclusion so fusion and decay never
// interleave mutations of the same claim.
package locks

import "sync"

// PerKey hands out an exclusive lock per string key. Entries are reference
// counted and removed once the last holder releases, so the map does not
// grow with the claim population.
type PerKey struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewPerKey creates an empty per-key lock set.
func NewPerKey() *PerKey {
	return &PerKey{locks: make(map[string]*keyLock)}
}

// Lock acquires the exclusive lock for key, blocking until available.
func (p *PerKey) Lock(key string) {
	p.mu.Lock()
	kl, ok := p.locks[key]
	if !ok {
		kl = &keyLock{}
		p.locks[key] = kl
	}
	kl.refs++
	p.mu.Unlock()

	kl.mu.Lock()
}

// Unlock releases the exclusive lock for key.
func (p *PerKey) Unlock(key string) {
	p.mu.Lock()
	kl, ok := p.locks[key]
	if ok {
		kl.refs--
		if kl.refs == 0 {
			delete(p.locks, key)
		}
	}
	p.mu.Unlock()

	if ok {
		kl.mu.Unlock()
	}
}
