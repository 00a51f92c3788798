package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	p := NewPerKey()
	const workers = 20

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Lock("claim-1")
			counter++
			p.Unlock("claim-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	p := NewPerKey()
	p.Lock("a")

	done := make(chan struct{})
	go func() {
		p.Lock("b")
		p.Unlock("b")
		close(done)
	}()

	<-done
	p.Unlock("a")
}

func TestEntriesAreReleased(t *testing.T) {
	p := NewPerKey()
	for i := 0; i < 100; i++ {
		p.Lock("k")
		p.Unlock("k")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.locks)
}
