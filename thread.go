package osal

import (
	"sync"
	"sync/atomic"
	"time"
)

// DetachState selects whether a thread must be joined or cleans up after
// itself.
type DetachState int32

const (
	ThreadJoinable DetachState = iota
	ThreadDetached
)

// Infinite makes Sleep block indefinitely.
const Infinite time.Duration = -1

// ThreadFn is the scheduler entry point run by a thread. It receives the
// thread's own handle so it can poll ThreadIsDeleting cooperatively.
type ThreadFn func(hThread Handle, context any)

// Thread drives a scheduler function on its own goroutine. A thread that
// blocks in WaitSetWait installs the wait set via ThreadSetWaitSet so that
// ThreadDelete can wake the loop; cancellation is cooperative — the loop
// observes ThreadIsDeleting and returns.
type Thread struct {
	mu       sync.Mutex
	fn       ThreadFn
	context  any
	name     string
	done     chan struct{}
	handle   Handle
	waitSet  Handle
	notify   Handle
	deleteMe atomic.Bool
	detach   DetachState
	instance int
}

// ThreadCreate starts a thread running fn(handle, context) and returns its
// handle. The name and instance identify the thread in log output only. When
// fn returns, notify (if not NilHandle) is set; a detached thread then frees
// its own record, while a joinable one persists until ThreadWait.
func ThreadCreate(fn ThreadFn, name string, instance int, context any, detach DetachState, notify Handle) Handle {
	t := &Thread{
		fn:       fn,
		context:  context,
		name:     name,
		instance: instance,
		detach:   detach,
		notify:   notify,
		done:     make(chan struct{}),
	}
	t.handle = CreateHandle(HandleThread, t)

	go t.launch()
	return t.handle
}

// threadOfGoroutine maps goroutine ids to their Thread handles, so Sleep can
// consult the calling thread's delete flag without taking a handle parameter.
var threadOfGoroutine sync.Map

// currentThreadHandle returns the Thread handle driving this goroutine, or
// NilHandle outside a ThreadCreate trampoline.
func currentThreadHandle() Handle {
	if h, ok := threadOfGoroutine.Load(curGoroutineID()); ok {
		return h.(Handle)
	}
	return NilHandle
}

func (t *Thread) launch() {
	gid := curGoroutineID()
	threadOfGoroutine.Store(gid, t.handle)
	defer threadOfGoroutine.Delete(gid)

	pkgLogger().Debug().Str("thread", t.name).Int("instance", t.instance).Log("thread started")
	t.fn(t.handle, t.context)
	pkgLogger().Debug().Str("thread", t.name).Int("instance", t.instance).Log("thread stopped")

	if t.notify != NilHandle {
		EventSet(t.notify)
	}
	close(t.done)

	t.mu.Lock()
	detached := t.detach == ThreadDetached
	t.mu.Unlock()
	if detached {
		DestroyHandle(t.handle)
	}
}

// ThreadSetWaitSet installs the wait set the thread's loop blocks on, so
// ThreadDelete can wake it.
func ThreadSetWaitSet(hThread, hSet Handle) {
	t, release, ok := resolveAs[*Thread](hThread)
	defer release()
	if !ok {
		return
	}

	t.mu.Lock()
	t.waitSet = hSet
	t.mu.Unlock()
}

// ThreadDelete requests cooperative termination: the delete flag is raised
// and the associated wait set (if any) is woken so a blocked loop notices.
func ThreadDelete(hThread Handle) {
	t, release, ok := resolveAs[*Thread](hThread)
	defer release()
	if !ok {
		return
	}

	t.deleteMe.Store(true)

	t.mu.Lock()
	hSet := t.waitSet
	t.mu.Unlock()
	if hSet != NilHandle {
		WaitSetWake(hSet)
	}
}

// ThreadIsDeleting reports whether termination has been requested.
func ThreadIsDeleting(hThread Handle) bool {
	t, release, ok := resolveAs[*Thread](hThread)
	defer release()
	if !ok {
		return false
	}
	return t.deleteMe.Load()
}

// ThreadWait joins a joinable thread, blocking until its scheduler returns,
// then frees the record. Waiting on a detached thread is a no-op.
func ThreadWait(hThread Handle) {
	t, release, ok := resolveAs[*Thread](hThread)
	if !ok {
		release()
		return
	}

	t.mu.Lock()
	joinable := t.detach == ThreadJoinable
	t.mu.Unlock()
	release()

	if joinable {
		<-t.done
		DestroyHandle(hThread)
	}
}

// ThreadDetach converts a joinable thread to detached; its record is freed
// when the scheduler returns.
func ThreadDetach(hThread Handle) {
	t, release, ok := resolveAs[*Thread](hThread)
	defer release()
	if !ok {
		return
	}

	t.mu.Lock()
	t.detach = ThreadDetached
	t.mu.Unlock()
}

// infiniteSleepSlice bounds how long an Infinite sleep stays blind to a
// pending delete. Go sleeps cannot be interrupted, so the slices are kept
// short enough for cooperative cancellation to be timely.
const infiniteSleepSlice = 100 * time.Millisecond

// Sleep blocks the calling goroutine. Infinite sleeps in slices, testing the
// calling thread's delete flag after each one, and returns once ThreadDelete
// has been issued. Outside a thread trampoline there is no flag to test and
// an Infinite sleep never returns.
func Sleep(d time.Duration) {
	if d == Infinite {
		hThread := currentThreadHandle()
		for !ThreadIsDeleting(hThread) {
			time.Sleep(infiniteSleepSlice)
		}
		return
	}
	time.Sleep(d)
}

// Variable is per-thread storage: each goroutine observes its own value,
// mirroring thread-local storage keys.
type Variable struct {
	values sync.Map
}

// ThreadCreateVariable allocates a fresh per-thread storage key.
func ThreadCreateVariable() *Variable {
	return &Variable{}
}

// Destroy discards all stored values.
func (v *Variable) Destroy() {
	v.values.Clear()
}

// Get returns the calling goroutine's value, or nil.
func (v *Variable) Get() any {
	val, _ := v.values.Load(curGoroutineID())
	return val
}

// Set stores the calling goroutine's value.
func (v *Variable) Set(val any) {
	v.values.Store(curGoroutineID(), val)
}
