package osal

import (
	"sync"
)

// Handle is a process-unique opaque identifier bound to a kind and a backing
// object. The zero value is NilHandle, which never names an object.
//
// Handle ids are allocated from a monotonically increasing 64-bit counter and
// are never recycled. A destroyed handle's id therefore cannot alias a later
// handle of another kind, which keeps stale ids queued in a wait set's
// signalling pipe from matching anything.
type Handle uint64

// NilHandle is the null handle. It doubles as the bare-wake marker on a wait
// set's signalling pipe.
const NilHandle Handle = 0

// HandleKind tags the backing object of a handle. Kind is immutable for the
// life of the handle.
type HandleKind uint8

const (
	HandleUnknown HandleKind = iota
	HandleEvent
	HandleTimer
	HandleSocket
	HandleWaitQueue
	HandleWaitSet
	HandleThread
	HandleFile
	HandleOverlappedLocal
	HandleOverlappedRemote
	HandleQueue
	HandlePipe
	HandleMailslot
	HandleApp
	HandleSched
)

// String returns a human-readable representation of the kind.
func (k HandleKind) String() string {
	switch k {
	case HandleEvent:
		return "Event"
	case HandleTimer:
		return "Timer"
	case HandleSocket:
		return "Socket"
	case HandleWaitQueue:
		return "WaitQueue"
	case HandleWaitSet:
		return "WaitSet"
	case HandleThread:
		return "Thread"
	case HandleFile:
		return "File"
	case HandleOverlappedLocal:
		return "OverlappedLocal"
	case HandleOverlappedRemote:
		return "OverlappedRemote"
	case HandleQueue:
		return "Queue"
	case HandlePipe:
		return "Pipe"
	case HandleMailslot:
		return "Mailslot"
	case HandleApp:
		return "App"
	case HandleSched:
		return "Sched"
	default:
		return "Unknown"
	}
}

// handleSlot is one registry entry. guards counts outstanding ResolveHandle
// releases; a destroyed slot is unlinked once guards drains to zero.
type handleSlot struct {
	backing   any
	app       Handle
	waitSet   Handle
	guards    int
	kind      HandleKind
	destroyed bool
}

// handleTable is the process-wide handle registry.
//
// Ids start at 1 so 0 remains the null marker.
type handleTable struct {
	mu     sync.Mutex
	slots  map[Handle]*handleSlot
	nextID Handle
}

var handles = &handleTable{
	slots:  make(map[Handle]*handleSlot),
	nextID: 1,
}

// CreateHandle registers backing under a fresh handle of the given kind. The
// handle is valid immediately. Collaborating layers (file systems, overlapped
// I/O) use this to publish their objects to the wait set.
func CreateHandle(kind HandleKind, backing any) Handle {
	handles.mu.Lock()
	defer handles.mu.Unlock()

	id := handles.nextID
	handles.nextID++

	handles.slots[id] = &handleSlot{kind: kind, backing: backing}
	return id
}

// ResolveHandle returns the backing object of h and a release guard. While the
// guard is outstanding the backing object will not be reclaimed, even if the
// handle is destroyed concurrently. Release is idempotent and must be called
// exactly once on every non-nil resolution; it is safe (a no-op) on the nil
// resolution too.
//
// Unknown and destroyed handles resolve to (nil, no-op).
func ResolveHandle(h Handle) (any, func()) {
	handles.mu.Lock()
	slot := handles.slots[h]
	if slot == nil || slot.destroyed {
		handles.mu.Unlock()
		return nil, func() {}
	}
	slot.guards++
	handles.mu.Unlock()

	var once sync.Once
	return slot.backing, func() {
		once.Do(func() {
			handles.mu.Lock()
			slot.guards--
			if slot.destroyed && slot.guards == 0 {
				delete(handles.slots, h)
			}
			handles.mu.Unlock()
		})
	}
}

// DestroyHandle marks h for removal. The registry entry is unlinked once no
// resolution guards remain. Double destroy is idempotent; destroying an
// unknown handle is a no-op. Subsequent ResolveHandle calls return nil.
func DestroyHandle(h Handle) {
	handles.mu.Lock()
	defer handles.mu.Unlock()

	slot := handles.slots[h]
	if slot == nil {
		return
	}
	slot.destroyed = true
	if slot.guards == 0 {
		delete(handles.slots, h)
	}
}

// KindOf returns the kind of h, or HandleUnknown for unknown or destroyed
// handles.
func KindOf(h Handle) HandleKind {
	handles.mu.Lock()
	defer handles.mu.Unlock()

	if slot := handles.slots[h]; slot != nil && !slot.destroyed {
		return slot.kind
	}
	return HandleUnknown
}

// SetHandleApp records the owning application and wait set of h. These are
// back-references only; they never transfer ownership. The wait set uses them
// to route event signalling to its pipe.
func SetHandleApp(h, app, waitSet Handle) {
	handles.mu.Lock()
	defer handles.mu.Unlock()

	if slot := handles.slots[h]; slot != nil && !slot.destroyed {
		slot.app = app
		slot.waitSet = waitSet
	}
}

// HandleAppOf returns the application back-reference of h, or NilHandle.
func HandleAppOf(h Handle) Handle {
	handles.mu.Lock()
	defer handles.mu.Unlock()

	if slot := handles.slots[h]; slot != nil && !slot.destroyed {
		return slot.app
	}
	return NilHandle
}

// HandleWaitSetOf returns the wait-set back-reference of h, or NilHandle.
func HandleWaitSetOf(h Handle) Handle {
	handles.mu.Lock()
	defer handles.mu.Unlock()

	if slot := handles.slots[h]; slot != nil && !slot.destroyed {
		return slot.waitSet
	}
	return NilHandle
}

// resolveAs resolves h to a backing object of type T. The release guard is
// returned even on type mismatch so callers can defer it unconditionally.
func resolveAs[T any](h Handle) (T, func(), bool) {
	backing, release := ResolveHandle(h)
	v, ok := backing.(T)
	return v, release, ok
}
