package debounce

import (
	"sync"
	"time"
)

// Logger is the logging surface the timer uses.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Timer.
type Option func(*Timer)

// WithLogger sets the logger. Duplicate schedules are logged at debug,
// panics inside actions at error.
func WithLogger(l Logger) Option {
	return func(t *Timer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithName labels log records, e.g. "removal".
func WithName(name string) Option {
	return func(t *Timer) { t.name = name }
}

// task is one pending action. stop is closed to cancel it; started is set
// under Timer.mu once the delay has elapsed and the action is committed.
type task struct {
	stop    chan struct{}
	started bool
}

// Timer schedules at most one delayed action per key.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Actions run on their own goroutine without any Timer lock held, so
//     an action may call Schedule or Cancel.
type Timer struct {
	delay  time.Duration
	name   string
	logger Logger

	mu      sync.Mutex
	pending map[string]*task
	wg      sync.WaitGroup
}

// New creates a Timer that waits delay before running each action.
func New(delay time.Duration, opts ...Option) *Timer {
	t := &Timer{
		delay:   delay,
		name:    "debounce",
		logger:  noopLogger{},
		pending: make(map[string]*task),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Delay returns the configured wait.
func (t *Timer) Delay() time.Duration {
	return t.delay
}

// Schedule arranges for action to run after the delay.
//
// Returns:
//   - bool: false when an action is already pending for key (nothing scheduled)
func (t *Timer) Schedule(key string, action func()) bool {
	t.mu.Lock()
	if _, exists := t.pending[key]; exists {
		t.mu.Unlock()
		t.logger.Debug("already scheduled", "timer", t.name, "key", key)
		return false
	}
	tk := &task{stop: make(chan struct{})}
	t.pending[key] = tk
	t.wg.Add(1)
	t.mu.Unlock()

	go t.run(key, tk, action)
	return true
}

func (t *Timer) run(key string, tk *task, action func()) {
	defer t.wg.Done()

	wait := time.NewTimer(t.delay)
	defer wait.Stop()

	select {
	case <-tk.stop:
		return
	case <-wait.C:
	}

	t.mu.Lock()
	if t.pending[key] != tk {
		// Cancelled between the timer firing and taking the lock.
		t.mu.Unlock()
		return
	}
	tk.started = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.pending[key] == tk {
			delete(t.pending, key)
		}
		t.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("debounced action panicked", "timer", t.name, "key", key, "panic", r)
		}
	}()

	action()
}

// Cancel stops the pending action for key.
//
// Returns:
//   - bool: true if an action was pending and will now never run; false if
//     nothing was scheduled or the action had already started
func (t *Timer) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, exists := t.pending[key]
	if !exists || tk.started {
		return false
	}
	delete(t.pending, key)
	close(tk.stop)
	return true
}

// Pending reports whether an action for key is scheduled or running.
func (t *Timer) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.pending[key]
	return exists
}

// Keys returns the keys with a pending or running action.
func (t *Timer) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of pending or running actions.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CancelAll cancels every action that has not started and waits for all
// task goroutines, including running actions, to finish. Calling it with
// nothing scheduled returns immediately.
func (t *Timer) CancelAll() {
	t.mu.Lock()
	for key, tk := range t.pending {
		if tk.started {
			continue
		}
		delete(t.pending, key)
		close(tk.stop)
	}
	t.mu.Unlock()

	t.wg.Wait()
}
