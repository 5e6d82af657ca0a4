package decision

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	const workers = 20
	var counter int
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := km.Lock("dev-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("expected %d increments, got %d", workers, counter)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("a")
	// A held lock on "a" must not block "b".
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestKeyedMutexCleansUpEntries(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.Lock("ephemeral")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.locks) != 0 {
		t.Errorf("expected lock table to be empty, has %d entries", len(km.locks))
	}
}
