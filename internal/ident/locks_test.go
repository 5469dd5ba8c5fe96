package ident

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservationLocksSerializeSameObservation(t *testing.T) {
	t.Parallel()
	locks := newObservationLocks()

	const goroutines = 32
	const iterations = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				locks.lock(7)
				counter++
				locks.unlock(7)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}

func TestObservationLocksIndependentObservations(t *testing.T) {
	t.Parallel()
	locks := newObservationLocks()

	// Holding one observation's lock must not block another's.
	locks.lock(1)
	locks.lock(2)
	locks.unlock(2)
	locks.unlock(1)
}

func TestObservationLocksReleaseEntries(t *testing.T) {
	t.Parallel()
	locks := newObservationLocks()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		id := int64(i % 4)
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.lock(id)
			locks.unlock(id)
		}()
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.entries)
}
