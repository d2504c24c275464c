package matcher

import (
	"testing"
	"time"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

func TestKeyedMutexForget(t *testing.T) {
	var km keyedMutex
	key := domain.MarketKey{EventID: 1, BetType: domain.BetMatchWinner}
	other := domain.MarketKey{EventID: 2, BetType: domain.BetMatchWinner}

	unlock := km.lock(key)

	// A held key survives forget; an unknown key is a no-op.
	km.forget([]domain.MarketKey{key, other})
	if _, ok := km.locks[key]; !ok {
		t.Fatal("held key was dropped by forget")
	}
	unlock()

	km.forget([]domain.MarketKey{key})
	if len(km.locks) != 0 {
		t.Fatalf("len(locks) = %d after release and forget, want 0", len(km.locks))
	}
}

func TestKeyedMutexForgetSkipsWaiters(t *testing.T) {
	var km keyedMutex
	key := domain.MarketKey{EventID: 7, BetType: domain.BetOverUnder}

	unlock := km.lock(key)

	acquired := make(chan func())
	go func() { acquired <- km.lock(key) }()

	// Wait until the second caller has registered its reference.
	for {
		km.mu.Lock()
		refs := km.locks[key].refs
		km.mu.Unlock()
		if refs == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	km.forget([]domain.MarketKey{key})
	km.mu.Lock()
	_, ok := km.locks[key]
	km.mu.Unlock()
	if !ok {
		t.Fatal("key with a queued waiter was dropped by forget")
	}

	unlock()
	release := <-acquired
	release()

	km.forget([]domain.MarketKey{key})
	if len(km.locks) != 0 {
		t.Fatalf("len(locks) = %d after both releases, want 0", len(km.locks))
	}
}
