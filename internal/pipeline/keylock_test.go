package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var n int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("cig:A000000001")
			n++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, n)
}

func TestKeyedMutexEvictsReleasedKeys(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("cig:A000000001")
	unlockB := k.Lock("cig:B000000002")
	k.mu.Lock()
	assert.Len(t, k.locks, 2)
	k.mu.Unlock()

	unlockA()
	unlockB()
	k.mu.Lock()
	assert.Empty(t, k.locks)
	k.mu.Unlock()
}

func TestKeyedMutexEvictsOnlyAfterLastHolder(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock("cig:A000000001")
	acquired := make(chan func())
	go func() {
		acquired <- k.Lock("cig:A000000001")
	}()

	unlock()
	second := <-acquired
	k.mu.Lock()
	assert.Len(t, k.locks, 1)
	k.mu.Unlock()

	second()
	k.mu.Lock()
	assert.Empty(t, k.locks)
	k.mu.Unlock()
}
