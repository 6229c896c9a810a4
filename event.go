package osal

import "sync"

// EventType selects the reset behaviour of an event.
type EventType int32

const (
	// EventAuto events reset themselves when a single wait observes the
	// signalled state.
	EventAuto EventType = iota
	// EventManual events stay signalled until explicitly reset.
	EventManual
)

// Event is a binary condition with broadcast wake semantics. Events are
// created through EventCreate and addressed by handle; the struct is exported
// only so collaborating layers can embed completion events in their own
// backing objects.
//
// An event registered in a wait set carries a back-reference to it (recorded
// by WaitSetAdd via SetHandleApp); Set posts the event's own handle on that
// wait set's signalling pipe.
type Event struct {
	mu        sync.Mutex
	cond      *sync.Cond
	handle    Handle
	typ       EventType
	signalled bool
	dead      bool
}

// EventCreate creates an event of the given type and returns its handle.
func EventCreate(typ EventType) Handle {
	ev := &Event{typ: typ}
	ev.cond = sync.NewCond(&ev.mu)
	ev.handle = CreateHandle(HandleEvent, ev)
	return ev.handle
}

// EventSet sets the signalled state, wakes all waiters, and, if the event is
// associated with a wait set, posts the event's handle on that wait set's
// signalling pipe.
func EventSet(h Handle) {
	ev, release, ok := resolveAs[*Event](h)
	defer release()
	if !ok {
		return
	}

	ev.mu.Lock()
	ev.signalled = true
	ev.cond.Broadcast()
	ev.mu.Unlock()

	// The pipe post happens after the signalled bit is visible, so a wait
	// set draining the pipe always observes the set state.
	if hSet := HandleWaitSetOf(h); hSet != NilHandle {
		waitSetSignal(hSet, h)
	}
}

// EventReset clears the signalled state.
func EventReset(h Handle) {
	ev, release, ok := resolveAs[*Event](h)
	defer release()
	if !ok {
		return
	}

	ev.mu.Lock()
	ev.signalled = false
	ev.mu.Unlock()
}

// EventWait blocks until the event is signalled. On an auto event the
// signalled state is consumed atomically before returning, so exactly one
// waiter observes each signalling. Returns immediately if the event has been
// destroyed.
func EventWait(h Handle) {
	ev, release, ok := resolveAs[*Event](h)
	release()
	if !ok {
		return
	}

	// The registry guard is released above; the event's own mutex keeps the
	// wait safe against concurrent destroy (EventDestroy marks dead and
	// broadcasts under the same mutex).
	ev.mu.Lock()
	for !ev.signalled && !ev.dead {
		ev.cond.Wait()
	}
	if ev.typ == EventAuto {
		ev.signalled = false
	}
	ev.mu.Unlock()
}

// EventTest returns the signalled state without blocking. Unknown and
// destroyed handles test false.
func EventTest(h Handle) bool {
	ev, release, ok := resolveAs[*Event](h)
	defer release()
	if !ok {
		return false
	}

	ev.mu.Lock()
	signalled := ev.signalled
	ev.mu.Unlock()
	return signalled
}

// EventGetType returns the event's type. Unknown handles report EventAuto.
func EventGetType(h Handle) EventType {
	ev, release, ok := resolveAs[*Event](h)
	defer release()
	if !ok {
		return EventAuto
	}
	return ev.typ
}

// EventDestroy wakes any blocked waiters and removes the event's handle.
func EventDestroy(h Handle) {
	ev, release, ok := resolveAs[*Event](h)
	if ok {
		ev.mu.Lock()
		ev.dead = true
		ev.cond.Broadcast()
		ev.mu.Unlock()
	}
	release()
	DestroyHandle(h)
}
