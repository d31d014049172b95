package service

import (
	"sync"
	"testing"
)

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	kl := newKeyLocks()

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kl.Lock("patient/42")
			defer kl.Unlock("patient/42")

			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("expected at most one holder of the same key, saw %d", maxInFlight)
	}
}

func TestKeyLocks_ReleasesUnusedKeys(t *testing.T) {
	kl := newKeyLocks()

	kl.Lock("patient/1")
	kl.Unlock("patient/1")
	kl.Lock("appointment/2")
	kl.Unlock("appointment/2")

	kl.mu.Lock()
	n := len(kl.locks)
	kl.mu.Unlock()

	if n != 0 {
		t.Errorf("expected lock map to be empty after release, has %d entries", n)
	}
}

func TestKeyLocks_IndependentKeysDoNotBlock(t *testing.T) {
	kl := newKeyLocks()

	kl.Lock("patient/1")
	done := make(chan struct{})
	go func() {
		kl.Lock("caregiver/9")
		kl.Unlock("caregiver/9")
		close(done)
	}()

	<-done // would deadlock if unrelated keys shared a mutex
	kl.Unlock("patient/1")
}

func TestEntityKey(t *testing.T) {
	if entityKey("patient", 42) != "patient/42" {
		t.Errorf("unexpected key: %s", entityKey("patient", 42))
	}
}
