package osal

import (
	"encoding/binary"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// FileSource is implemented by file backings registered under HandleFile.
// Only local file-system files join the poll set; remote files synchronize
// through overlapped completion objects instead.
type FileSource interface {
	// LocalFS reports whether the file is backed by the local file system.
	LocalFS() bool
	// PollFD returns the descriptor to include in the poll set.
	PollFD() int
}

// OverlappedEventSource is implemented by local-fs overlapped backings
// (HandleOverlappedLocal). The completion event is pre-tested on add and
// wait, and matched against the signalling pipe afterwards.
type OverlappedEventSource interface {
	CompletionEvent() Handle
}

// OverlappedQueueSource is implemented by remote-fs overlapped backings
// (HandleOverlappedRemote), which complete through a wait queue.
type OverlappedQueueSource interface {
	CompletionEvent() Handle
	CompletionWaitQueue() Handle
}

// eventElement pairs a pre-tested inner event with the registered handle to
// report when that event fires. Built fresh on every wait.
type eventElement struct {
	hEvent Handle
	hAssoc Handle
}

// WaitSet multiplexes heterogeneous readiness sources: events, wait queues,
// overlapped completions, pollable descriptors, and timer deadlines. Wait
// blocks until exactly one registered source is ready and returns its handle.
//
// Cross-goroutine signalling uses a non-blocking pipe whose read end is
// always slot 0 of the poll set. Each pipe message is one handle id;
// NilHandle is a bare wake.
type WaitSet struct {
	lock  *Lock
	regs  []Handle
	log   *logiface.Logger[logiface.Event]
	pipeR int
	pipeW int
}

// NewWaitSet creates an empty wait set and returns its handle.
func NewWaitSet(opts ...WaitSetOption) (Handle, error) {
	cfg, err := resolveWaitSetOptions(opts)
	if err != nil {
		return NilHandle, err
	}

	pipeR, pipeW, err := newSignalPipe()
	if err != nil {
		return NilHandle, err
	}

	ws := &WaitSet{
		lock:  NewLock(),
		log:   cfg.logger,
		pipeR: pipeR,
		pipeW: pipeW,
	}
	return CreateHandle(HandleWaitSet, ws), nil
}

// newSignalPipe creates the signalling pipe: both ends non-blocking and
// close-on-exec. Non-blocking writes are what make Signal safe from any
// goroutine, including one currently blocked in Wait on the same set.
func newSignalPipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}

	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}

	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return -1, -1, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func (ws *WaitSet) logger() *logiface.Logger[logiface.Event] {
	if ws.log != nil {
		return ws.log
	}
	return pkgLogger()
}

// WaitSetDestroy destroys an empty wait set, closing the signalling pipe.
// A set that still has registrations is left intact.
func WaitSetDestroy(h Handle) {
	ws, release, ok := resolveAs[*WaitSet](h)
	defer release()
	if !ok {
		return
	}

	ws.lock.Lock()
	busy := len(ws.regs) != 0
	ws.lock.Unlock()
	if busy {
		ws.logger().Err().Uint64("waitset", uint64(h)).Log("destroy refused: registrations outstanding")
		return
	}

	_ = unix.Close(ws.pipeR)
	_ = unix.Close(ws.pipeW)
	DestroyHandle(h)
}

// WaitSetAdd registers h with the set on behalf of app. Synchronizable kinds
// record a back-reference from their inner event to the set; sources that are
// already ready post to the signalling pipe immediately so the next Wait
// cannot sleep through them. Inert kinds are recorded but never trigger.
func WaitSetAdd(hSet, hApp, h Handle) {
	ws, release, ok := resolveAs[*WaitSet](hSet)
	defer release()
	if !ok {
		return
	}

	ws.lock.Lock()
	ws.regs = append(ws.regs, h)
	ws.lock.Unlock()

	switch KindOf(h) {
	case HandleWaitQueue:
		inner := WaitQueueEventHandle(h)
		SetHandleApp(h, hApp, hSet)
		SetHandleApp(inner, hApp, hSet)
		if !WaitQueueEmpty(h) {
			waitSetSignal(hSet, inner)
		}

	case HandleEvent:
		SetHandleApp(h, hApp, hSet)
		if EventTest(h) {
			waitSetSignal(hSet, h)
		}

	case HandleOverlappedLocal:
		src, srcRelease, srcOK := resolveAs[OverlappedEventSource](h)
		if srcOK {
			inner := src.CompletionEvent()
			SetHandleApp(h, hApp, hSet)
			SetHandleApp(inner, hApp, hSet)
			if EventTest(inner) {
				waitSetSignal(hSet, inner)
			}
		}
		srcRelease()

	case HandleOverlappedRemote:
		src, srcRelease, srcOK := resolveAs[OverlappedQueueSource](h)
		if srcOK {
			inner := src.CompletionEvent()
			SetHandleApp(h, hApp, hSet)
			SetHandleApp(inner, hApp, hSet)
			if EventTest(inner) {
				waitSetSignal(hSet, inner)
			}
		}
		srcRelease()

	case HandleFile, HandleSocket, HandleTimer:
		// Polled or deadline sources: no inner event to associate.
		SetHandleApp(h, hApp, hSet)

	default:
		// Inert kinds. A thread cooperates by calling WaitSetWake itself.
	}
}

// WaitSetRemove unregisters h and clears its back-references.
func WaitSetRemove(hSet, h Handle) {
	ws, release, ok := resolveAs[*WaitSet](hSet)
	defer release()
	if !ok {
		return
	}

	ws.lock.Lock()
	for i, reg := range ws.regs {
		if reg == h {
			ws.regs = append(ws.regs[:i], ws.regs[i+1:]...)
			break
		}
	}
	ws.lock.Unlock()

	SetHandleApp(h, NilHandle, NilHandle)
	switch KindOf(h) {
	case HandleWaitQueue:
		SetHandleApp(WaitQueueEventHandle(h), NilHandle, NilHandle)
	case HandleOverlappedLocal:
		src, srcRelease, srcOK := resolveAs[OverlappedEventSource](h)
		if srcOK {
			SetHandleApp(src.CompletionEvent(), NilHandle, NilHandle)
		}
		srcRelease()
	case HandleOverlappedRemote:
		src, srcRelease, srcOK := resolveAs[OverlappedQueueSource](h)
		if srcOK {
			SetHandleApp(src.CompletionEvent(), NilHandle, NilHandle)
		}
		srcRelease()
	}
}

// WaitSetSignal posts hEvent on the set's signalling pipe. The next (or
// current) Wait matches it against the pending inner events of that pass.
func WaitSetSignal(hSet, hEvent Handle) {
	waitSetSignal(hSet, hEvent)
}

// WaitSetWake posts a bare wake: the blocked Wait (if any) returns NilHandle.
func WaitSetWake(hSet Handle) {
	waitSetSignal(hSet, NilHandle)
}

func waitSetSignal(hSet, hEvent Handle) {
	ws, release, ok := resolveAs[*WaitSet](hSet)
	defer release()
	if !ok {
		return
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], uint64(hEvent))
	if _, err := unix.Write(ws.pipeW, buf[:]); err != nil {
		// Pipe full means undelivered wakes are already queued; the next
		// Wait drains them before sleeping, so dropping this one is safe.
		ws.logger().Debug().Uint64("event", uint64(hEvent)).Err(err).Log("signal dropped")
	}
}

// WaitSetWait blocks until one registered source is ready and returns its
// handle. Ties are broken by registration order. Returns NilHandle when a
// bare wake is consumed, when nothing became ready (poll error treated as a
// spurious wake), in which cases the caller's loop re-enters.
func WaitSetWait(hSet Handle) Handle {
	ws, release, ok := resolveAs[*WaitSet](hSet)
	if !ok {
		release()
		return NilHandle
	}

	triggered := NilHandle
	var timerCandidate Handle
	leastWait := -1 // block indefinitely unless a timer bounds the poll

	pollFDs := []unix.PollFd{{Fd: int32(ws.pipeR), Events: unix.POLLIN}}
	pollHandles := []Handle{NilHandle}
	var pending []eventElement

	ws.lock.Lock()

	// Drain records queued since the last pass. They are replayed after the
	// scan: a wake queued between waits must still produce a nil return, and
	// a queued signal must not be lost if its event escapes the pre-scan.
	scratch := drainPipe(ws.pipeR)

	for _, h := range ws.regs {
		if triggered != NilHandle {
			break
		}

		switch KindOf(h) {
		case HandleWaitQueue:
			if !WaitQueueEmpty(h) {
				triggered = h
			} else {
				pending = append(pending, eventElement{hEvent: WaitQueueEventHandle(h), hAssoc: h})
			}

		case HandleEvent:
			if EventTest(h) {
				triggered = h
				if EventGetType(h) == EventAuto {
					EventReset(h)
				}
			} else {
				pending = append(pending, eventElement{hEvent: h, hAssoc: h})
			}

		case HandleOverlappedLocal:
			src, srcRelease, srcOK := resolveAs[OverlappedEventSource](h)
			if srcOK {
				inner := src.CompletionEvent()
				if EventTest(inner) {
					triggered = h
				} else {
					pending = append(pending, eventElement{hEvent: inner, hAssoc: h})
				}
			}
			srcRelease()

		case HandleOverlappedRemote:
			src, srcRelease, srcOK := resolveAs[OverlappedQueueSource](h)
			if srcOK {
				hQueue := src.CompletionWaitQueue()
				if !WaitQueueEmpty(hQueue) {
					triggered = h
				} else {
					pending = append(pending, eventElement{hEvent: WaitQueueEventHandle(hQueue), hAssoc: h})
				}
			}
			srcRelease()

		case HandleFile:
			if src, srcRelease, srcOK := resolveAs[FileSource](h); srcOK && src.LocalFS() {
				pollFDs = append(pollFDs, unix.PollFd{Fd: int32(src.PollFD())})
				pollHandles = append(pollHandles, h)
				srcRelease()
			} else {
				srcRelease()
			}

		case HandleSocket:
			pollFDs = append(pollFDs, unix.PollFd{
				Fd:     int32(SocketFD(h)),
				Events: socketRequestedEvents(h),
			})
			pollHandles = append(pollHandles, h)

		case HandleTimer:
			wait := TimerWaitTime(h)
			if wait == 0 {
				triggered = h
			} else if ms := durationToMs(wait); leastWait < 0 || ms < leastWait {
				leastWait = ms
				timerCandidate = h
			}

		default:
			// Inert kinds never trigger.
		}
	}

	ws.lock.Unlock()
	release()

	if triggered != NilHandle {
		// Signal records are re-detectable from their events and can be
		// dropped, but queued bare wakes must survive to the next pass.
		for _, record := range scratch {
			if record == NilHandle {
				ws.requeue([]Handle{NilHandle})
			}
		}
		return triggered
	}
	if hQueued, actionable := ws.replayQueued(scratch, pending); actionable {
		return hQueued
	}

	n, err := unix.Poll(pollFDs, leastWait)
	if err != nil {
		// EINTR and friends are spurious wakes; the caller re-enters.
		ws.logger().Debug().Err(err).Log("poll interrupted")
		return NilHandle
	}

	switch {
	case n == 0 && timerCandidate != NilHandle:
		triggered = timerCandidate

	case n > 0:
		idx := 0
		for idx < len(pollFDs) && pollFDs[idx].Revents == 0 {
			idx++
		}
		if idx == 0 {
			triggered = matchPipe(ws.pipeR, pending)
		} else if idx < len(pollFDs) {
			if KindOf(pollHandles[idx]) == HandleSocket {
				socketSetRevents(pollHandles[idx], pollFDs[idx].Revents)
			}
			triggered = pollHandles[idx]
		}
	}

	return triggered
}

// drainPipe reads every queued pipe record into a scratch slice.
func drainPipe(fd int) []Handle {
	var records []Handle
	var buf [8]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n != len(buf) || err != nil {
			return records
		}
		records = append(records, Handle(binary.NativeEndian.Uint64(buf[:])))
	}
}

// replayQueued processes records drained before the scan. The first
// actionable record — a bare wake, or a signal whose pending event still
// tests signalled — resolves this wait; any records behind it are written
// back to the pipe so the next wait observes them. Stale records (events no
// longer registered or no longer signalled) are discarded.
func (ws *WaitSet) replayQueued(scratch []Handle, pending []eventElement) (Handle, bool) {
	for i, hEvent := range scratch {
		if hEvent == NilHandle {
			ws.requeue(scratch[i+1:])
			return NilHandle, true
		}
		for _, el := range pending {
			if el.hEvent != hEvent {
				continue
			}
			if EventTest(hEvent) {
				if EventGetType(hEvent) == EventAuto {
					EventReset(hEvent)
				}
				ws.requeue(scratch[i+1:])
				return el.hAssoc, true
			}
			break
		}
	}
	return NilHandle, false
}

func (ws *WaitSet) requeue(records []Handle) {
	var buf [8]byte
	for _, h := range records {
		binary.NativeEndian.PutUint64(buf[:], uint64(h))
		if _, err := unix.Write(ws.pipeW, buf[:]); err != nil {
			return
		}
	}
}

// matchPipe reads handle records from the signalling pipe, matching each
// against the pending inner events of this pass. The first record whose
// event tests signalled resolves to its associated handle; an auto event is
// consumed at that point. A NilHandle record is a bare wake and ends the
// scan. Stale ids (destroyed handles, removed sources) match nothing
// and are discarded.
func matchPipe(fd int, pending []eventElement) Handle {
	var buf [8]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n != len(buf) || err != nil {
			return NilHandle
		}

		hEvent := Handle(binary.NativeEndian.Uint64(buf[:]))
		if hEvent == NilHandle {
			return NilHandle
		}

		for _, el := range pending {
			if el.hEvent != hEvent {
				continue
			}
			if EventTest(hEvent) {
				if EventGetType(hEvent) == EventAuto {
					EventReset(hEvent)
				}
				return el.hAssoc
			}
			break
		}
	}
}

// WaitSetDebug logs the registered sequence with per-kind readiness at debug
// level.
func WaitSetDebug(hSet Handle) {
	ws, release, ok := resolveAs[*WaitSet](hSet)
	defer release()
	if !ok {
		return
	}

	ws.lock.Lock()
	defer ws.lock.Unlock()

	for _, h := range ws.regs {
		b := ws.logger().Debug().
			Uint64("handle", uint64(h)).
			Stringer("kind", KindOf(h))

		switch KindOf(h) {
		case HandleWaitQueue:
			b.Bool("ready", !WaitQueueEmpty(h)).Log("wait queue")
		case HandleEvent:
			b.Bool("ready", EventTest(h)).Log("event")
		case HandleOverlappedLocal:
			if src, srcRelease, srcOK := resolveAs[OverlappedEventSource](h); srcOK {
				b.Bool("ready", EventTest(src.CompletionEvent())).Log("overlapped")
				srcRelease()
			} else {
				srcRelease()
				b.Log("overlapped")
			}
		case HandleOverlappedRemote:
			if src, srcRelease, srcOK := resolveAs[OverlappedQueueSource](h); srcOK {
				b.Bool("ready", !WaitQueueEmpty(src.CompletionWaitQueue())).Log("overlapped")
				srcRelease()
			} else {
				srcRelease()
				b.Log("overlapped")
			}
		case HandleSocket:
			b.Int("fd", SocketFD(h)).Log("socket")
		case HandleTimer:
			b.Dur("remaining", TimerWaitTime(h)).Log("timer")
		default:
			b.Log("inert")
		}
	}
}

// durationToMs converts to whole milliseconds for poll, rounding up so a
// nearly-due timer does not busy-spin the wait loop.
func durationToMs(d time.Duration) int {
	ms := int(d / time.Millisecond)
	if time.Duration(ms)*time.Millisecond < d {
		ms++
	}
	return ms
}
