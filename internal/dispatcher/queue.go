package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Entry is a plug awaiting entity materialization. Entries are compared
// by value; enqueueing an equal entry is a no-op.
type Entry struct {
	MAC  string `json:"mac"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Name string `json:"name"`
}

// ReconcileFunc handles one entry during a reconciliation pass. It is
// responsible for removing the entry when it is settled.
type ReconcileFunc func(ctx context.Context, e Entry) error

// Queue is a set of pending entries plus a single background loop that
// reconciles them every poll interval.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The loop iterates a snapshot, so entries may be added or removed
//     while a pass is running.
type Queue struct {
	poll      time.Duration
	reconcile ReconcileFunc
	logger    Logger

	mu      sync.Mutex
	entries map[Entry]struct{}
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	passes  uint64
}

// NewQueue creates an empty queue. The loop is not started.
func NewQueue(poll time.Duration, reconcile ReconcileFunc, logger Logger) *Queue {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Queue{
		poll:      poll,
		reconcile: reconcile,
		logger:    logger,
		entries:   make(map[Entry]struct{}),
	}
}

// Enqueue adds e.
//
// Returns:
//   - bool: false if an equal entry was already queued
func (q *Queue) Enqueue(e Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[e]; exists {
		return false
	}
	q.entries[e] = struct{}{}
	return true
}

// Remove deletes e. Removing an absent entry is a no-op.
func (q *Queue) Remove(e Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[e]; !exists {
		return false
	}
	delete(q.entries, e)
	return true
}

// Snapshot returns a sorted copy of the queued entries.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	out := make([]Entry, 0, len(q.entries))
	for e := range q.entries {
		out = append(out, e)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MAC != b.MAC {
			return a.MAC < b.MAC
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		return a.Port < b.Port
	})
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Running reports whether the loop is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Passes returns the number of completed reconciliation passes.
func (q *Queue) Passes() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.passes
}

// Start launches the reconciliation loop unless one is running. The loop
// runs a pass immediately, then every poll interval, and exits by itself
// once a pass leaves the queue empty; a later Start relaunches it.
//
// Returns:
//   - bool: false if the loop was already running
func (q *Queue) Start(ctx context.Context) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		q.logger.Debug("reconciliation loop already running")
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.running = true
	q.cancel = cancel
	q.done = make(chan struct{})

	go q.loop(loopCtx, cancel, q.done)
	q.logger.Debug("reconciliation loop started", "pending", len(q.entries))
	return true
}

// Stop cancels the loop and waits for it to exit. Stopping an idle queue
// is a no-op.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *Queue) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("reconciliation loop panicked", "panic", r)
		}
		cancel()
		q.mu.Lock()
		if q.done == done {
			q.running = false
			q.cancel = nil
		}
		q.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			// Cleared under the same lock Start takes, so an entry enqueued
			// now is either seen here or relaunches the loop.
			q.running = false
			q.mu.Unlock()
			q.logger.Debug("pending queue drained, reconciliation loop exiting")
			return
		}
		q.mu.Unlock()

		q.pass(ctx)

		select {
		case <-ctx.Done():
			q.logger.Debug("reconciliation loop cancelled")
			return
		case <-ticker.C:
		}
	}
}

func (q *Queue) pass(ctx context.Context) {
	for _, e := range q.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if err := q.reconcileOne(ctx, e); err != nil {
			q.logger.Error("reconciling pending plug failed", "mac", e.MAC, "name", e.Name, "error", err)
		}
	}

	q.mu.Lock()
	q.passes++
	q.mu.Unlock()
}

func (q *Queue) reconcileOne(ctx context.Context, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.reconcile(ctx, e)
}
