package osal

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Lock is a reentrant mutex. The goroutine holding the lock may acquire it
// again; it must unlock once per acquisition before another goroutine can
// take it. Higher layers re-enter via callbacks during event delivery, so the
// reentrancy is load-bearing, not a convenience.
type Lock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	depth int
}

// NewLock returns an unlocked reentrant mutex.
func NewLock() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock acquires the mutex, blocking while another goroutine holds it.
func (l *Lock) Lock() {
	gid := curGoroutineID()
	l.mu.Lock()
	for l.owner != 0 && l.owner != gid {
		l.cond.Wait()
	}
	l.owner = gid
	l.depth++
	l.mu.Unlock()
}

// TryLock acquires the mutex without blocking. Reports whether the
// acquisition succeeded; reentrant acquisition always succeeds.
func (l *Lock) TryLock() bool {
	gid := curGoroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != 0 && l.owner != gid {
		return false
	}
	l.owner = gid
	l.depth++
	return true
}

// Unlock releases one acquisition. The last release of a reentrant chain
// makes the mutex available to other goroutines. Unlocking a mutex not held
// by the caller is a no-op.
func (l *Lock) Unlock() {
	gid := curGoroutineID()
	l.mu.Lock()
	if l.owner == gid {
		l.depth--
		if l.depth == 0 {
			l.owner = 0
			l.cond.Signal()
		}
	}
	l.mu.Unlock()
}

// Destroy releases the mutex's resources. Provided for lifecycle symmetry
// with the other primitives; the zero of work is intentional.
func (l *Lock) Destroy() {}

var goroutineSpace = []byte("goroutine ")

// curGoroutineID extracts the current goroutine's id from the stack header.
// The id is used only as an owner token for reentrancy accounting, never for
// scheduling decisions.
func curGoroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// Stack output begins "goroutine N [status]:".
	buf = bytes.TrimPrefix(buf, goroutineSpace)
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(buf[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
