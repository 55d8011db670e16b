package services

import (
	"fmt"
	"sync"
)

// threadQueues serializes turns within one (user, textbook) thread so
// answers are persisted and delivered in arrival order, while turns in
// different threads run concurrently. Each thread gets a lazily started
// worker draining a FIFO channel; enqueue order is arrival order because the
// transport read loop enqueues synchronously.
type threadQueues struct {
	mu     sync.Mutex
	queues map[string]chan func()
	wg     sync.WaitGroup
}

const threadQueueDepth = 64

func newThreadQueues() *threadQueues {
	return &threadQueues{queues: make(map[string]chan func())}
}

// submit schedules fn on the thread's worker. Blocks only when the thread
// already has threadQueueDepth turns pending. The send happens under the
// mutex so close cannot close the channel between lookup and send; the
// worker drains without the mutex, so a full queue still makes progress.
func (t *threadQueues) submit(userID, textbookID uint, fn func()) {
	key := fmt.Sprintf("%d:%d", userID, textbookID)
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queues[key]
	if q == nil {
		q = make(chan func(), threadQueueDepth)
		t.queues[key] = q
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			for fn := range q {
				fn()
			}
		}()
	}
	q <- fn
}

// close stops all workers after draining. Used on shutdown and in tests.
func (t *threadQueues) close() {
	t.mu.Lock()
	for _, q := range t.queues {
		close(q)
	}
	t.queues = make(map[string]chan func())
	t.mu.Unlock()
	t.wg.Wait()
}
