package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testDelay = 30 * time.Millisecond

func TestSchedule_Fires(t *testing.T) {
	tm := New(testDelay)
	fired := make(chan string, 1)

	if !tm.Schedule("aa", func() { fired <- "aa" }) {
		t.Fatal("Schedule() = false, want true")
	}
	if !tm.Pending("aa") {
		t.Error("Pending() = false right after Schedule")
	}

	select {
	case key := <-fired:
		if key != "aa" {
			t.Errorf("fired key = %q", key)
		}
	case <-time.After(time.Second):
		t.Fatal("action did not fire")
	}

	tm.CancelAll()
	if tm.Pending("aa") || tm.Len() != 0 {
		t.Error("entry not cleared after firing")
	}
}

func TestSchedule_DuplicateIsNoop(t *testing.T) {
	tm := New(testDelay)
	var count atomic.Int32

	first := tm.Schedule("aa", func() { count.Add(1) })
	second := tm.Schedule("aa", func() { count.Add(1) })

	if !first || second {
		t.Errorf("Schedule() results = %v, %v; want true, false", first, second)
	}

	time.Sleep(4 * testDelay)
	tm.CancelAll()

	if got := count.Load(); got != 1 {
		t.Errorf("action ran %d times, want 1", got)
	}
}

func TestCancel_BeforeFire(t *testing.T) {
	tm := New(testDelay)
	var ran atomic.Bool

	tm.Schedule("aa", func() { ran.Store(true) })
	if !tm.Cancel("aa") {
		t.Fatal("Cancel() = false for pending key")
	}

	time.Sleep(3 * testDelay)
	tm.CancelAll()

	if ran.Load() {
		t.Error("cancelled action ran")
	}
}

func TestCancel_NothingScheduled(t *testing.T) {
	tm := New(testDelay)
	if tm.Cancel("missing") {
		t.Error("Cancel() = true for unknown key")
	}
	tm.CancelAll() // must not block
}

func TestCancel_AfterStartHasNoEffect(t *testing.T) {
	tm := New(time.Millisecond)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	tm.Schedule("aa", func() {
		close(started)
		<-release
		finished.Store(true)
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("action did not start")
	}

	if tm.Cancel("aa") {
		t.Error("Cancel() = true for running action")
	}
	if !tm.Pending("aa") {
		t.Error("running action should still be reported pending")
	}

	close(release)
	tm.CancelAll()
	if !finished.Load() {
		t.Error("running action did not complete")
	}
}

func TestSchedule_AgainAfterFire(t *testing.T) {
	tm := New(time.Millisecond)
	var count atomic.Int32
	done := make(chan struct{}, 2)

	tm.Schedule("aa", func() { count.Add(1); done <- struct{}{} })
	<-done
	// The entry is removed just after the action returns.
	deadline := time.Now().Add(time.Second)
	for tm.Pending("aa") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if !tm.Schedule("aa", func() { count.Add(1); done <- struct{}{} }) {
		t.Fatal("Schedule() after fire = false")
	}
	<-done
	tm.CancelAll()

	if got := count.Load(); got != 2 {
		t.Errorf("action ran %d times, want 2", got)
	}
}

func TestCancelAll_CancelsPending(t *testing.T) {
	tm := New(time.Hour)
	var ran atomic.Int32

	for _, key := range []string{"aa", "bb", "cc"} {
		tm.Schedule(key, func() { ran.Add(1) })
	}
	if tm.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tm.Len())
	}

	done := make(chan struct{})
	go func() {
		tm.CancelAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CancelAll() did not return")
	}
	if ran.Load() != 0 || tm.Len() != 0 {
		t.Errorf("ran=%d len=%d, want 0 and 0", ran.Load(), tm.Len())
	}
}

type panicLogger struct {
	mu     sync.Mutex
	errors int
}

func (l *panicLogger) Debug(string, ...any) {}
func (l *panicLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func TestSchedule_ActionPanicRecovered(t *testing.T) {
	logger := &panicLogger{}
	tm := New(time.Millisecond, WithLogger(logger), WithName("removal"))

	tm.Schedule("aa", func() { panic("boom") })
	deadline := time.Now().Add(time.Second)
	for tm.Pending("aa") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	tm.CancelAll()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.errors != 1 {
		t.Errorf("logged %d errors, want 1", logger.errors)
	}
	if tm.Pending("aa") {
		t.Error("panicked action left entry behind")
	}
}

func TestKeys(t *testing.T) {
	tm := New(time.Hour)
	tm.Schedule("aa", func() {})
	tm.Schedule("bb", func() {})

	keys := tm.Keys()
	if len(keys) != 2 {
		t.Errorf("Keys() = %v, want 2 entries", keys)
	}
	tm.CancelAll()
}
