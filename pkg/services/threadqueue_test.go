package services

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestThreadQueuesCloseDuringSubmits(t *testing.T) {
	q := newThreadQueues()
	var ran atomic.Int64

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.submit(uint(g%4+1), 1, func() { ran.Add(1) })
			}
		}(g)
	}
	// close races the submitters; neither side may panic, and every
	// submitted turn still runs exactly once
	q.close()
	wg.Wait()
	q.close()

	if got := ran.Load(); got != 16*50 {
		t.Fatalf("expected all 800 turns to run, got %d", got)
	}
}

func TestThreadQueuesCloseDrainsPendingTurns(t *testing.T) {
	q := newThreadQueues()
	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		q.submit(1, 2, func() { ran.Add(1) })
	}
	q.close()
	if got := ran.Load(); got != 20 {
		t.Fatalf("expected all 20 turns drained, got %d", got)
	}
}
