// Package debounce runs keyed actions after a delay unless they are
// cancelled first.
//
// A Timer holds at most one pending action per key. Scheduling a key that
// is already pending is a no-op, so repeated "device gone" notifications
// produce a single removal. Cancelling before the delay elapses guarantees
// the action never runs; once the action has started, cancellation has no
// effect and Cancel reports false.
//
//	t := debounce.New(60*time.Second, debounce.WithLogger(log))
//	t.Schedule(mac, func() { remove(mac) })
//	...
//	t.Cancel(mac) // device reported in again
//	...
//	t.CancelAll() // shutdown: cancels and waits for running actions
package debounce
