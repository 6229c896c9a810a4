package osal

import (
	"sync"
	"time"
)

// Timer is a deadline object queried by the wait set. A wait-time of zero
// means the timer is due; the wait set uses the minimum wait-time across its
// registered timers as the poll timeout and reports the owning timer when the
// poll expires.
type Timer struct {
	mu       sync.Mutex
	deadline time.Time
	handle   Handle
}

// TimerCreate creates a timer due after interval and returns its handle.
func TimerCreate(interval time.Duration) Handle {
	t := &Timer{deadline: time.Now().Add(interval)}
	t.handle = CreateHandle(HandleTimer, t)
	return t.handle
}

// TimerSet rearms the timer to fire after interval from now.
func TimerSet(h Handle, interval time.Duration) {
	t, release, ok := resolveAs[*Timer](h)
	defer release()
	if !ok {
		return
	}

	t.mu.Lock()
	t.deadline = time.Now().Add(interval)
	t.mu.Unlock()
}

// TimerWaitTime returns the remaining time until the timer fires, floored at
// zero. Unknown handles report zero.
func TimerWaitTime(h Handle) time.Duration {
	t, release, ok := resolveAs[*Timer](h)
	defer release()
	if !ok {
		return 0
	}

	t.mu.Lock()
	remaining := time.Until(t.deadline)
	t.mu.Unlock()

	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimerDestroy removes the timer's handle.
func TimerDestroy(h Handle) {
	DestroyHandle(h)
}

var processEpoch = time.Now()

// GetNow returns milliseconds elapsed since process start. It is the tick
// source higher layers use for relative scheduling; it is monotonic and
// unrelated to wall-clock time.
func GetNow() int64 {
	return int64(time.Since(processEpoch) / time.Millisecond)
}
