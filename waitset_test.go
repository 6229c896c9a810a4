package osal

import (
	"testing"
	"time"
)

// waitResult runs WaitSetWait on its own goroutine and delivers the
// triggered handle, so tests can bound the wait with a timeout.
func waitResult(hSet Handle) <-chan Handle {
	ch := make(chan Handle, 1)
	go func() {
		ch <- WaitSetWait(hSet)
	}()
	return ch
}

func mustWait(t *testing.T, ch <-chan Handle, within time.Duration) Handle {
	t.Helper()
	select {
	case h := <-ch:
		return h
	case <-time.After(within):
		t.Fatal("WaitSetWait did not return in time")
		return NilHandle
	}
}

func TestWaitSet_SingleManualEventWake(t *testing.T) {
	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hEvent)

	WaitSetAdd(hSet, NilHandle, hEvent)

	ch := waitResult(hSet)
	go func() {
		time.Sleep(50 * time.Millisecond)
		EventSet(hEvent)
	}()

	start := time.Now()
	if got := mustWait(t, ch, time.Second); got != hEvent {
		t.Fatalf("expected event handle %d, got %d", hEvent, got)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("wake took %v, expected ~50ms", elapsed)
	}

	// Manual events stay signalled after the wake.
	if !EventTest(hEvent) {
		t.Error("manual event should remain signalled")
	}
}

func TestWaitSet_AutoEventOneShot(t *testing.T) {
	hEvent := EventCreate(EventAuto)
	defer EventDestroy(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hEvent)

	WaitSetAdd(hSet, NilHandle, hEvent)

	ch := waitResult(hSet)
	go func() {
		time.Sleep(20 * time.Millisecond)
		EventSet(hEvent)
	}()

	if got := mustWait(t, ch, time.Second); got != hEvent {
		t.Fatalf("expected event handle %d, got %d", hEvent, got)
	}

	// The wake consumed the auto event's signalling.
	if EventTest(hEvent) {
		t.Error("auto event should have been reset by the wake")
	}
}

func TestWaitSet_TimerPrecedence(t *testing.T) {
	hTimer := TimerCreate(30 * time.Millisecond)
	defer TimerDestroy(hTimer)
	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer func() {
		WaitSetRemove(hSet, hTimer)
		WaitSetRemove(hSet, hEvent)
	}()

	WaitSetAdd(hSet, NilHandle, hTimer)
	WaitSetAdd(hSet, NilHandle, hEvent)

	start := time.Now()
	got := mustWait(t, waitResult(hSet), time.Second)
	elapsed := time.Since(start)

	if got != hTimer {
		t.Fatalf("expected timer handle %d, got %d", hTimer, got)
	}
	if elapsed < 20*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Errorf("timer fired after %v, expected ~30ms", elapsed)
	}
}

func TestWaitSet_DueTimerTriggersWithoutPolling(t *testing.T) {
	hTimer := TimerCreate(0)
	defer TimerDestroy(hTimer)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hTimer)

	WaitSetAdd(hSet, NilHandle, hTimer)

	if got := mustWait(t, waitResult(hSet), time.Second); got != hTimer {
		t.Fatalf("expected due timer %d, got %d", hTimer, got)
	}
}

func TestWaitSet_PipeWake(t *testing.T) {
	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)

	ch := waitResult(hSet)
	time.Sleep(20 * time.Millisecond) // let the waiter block
	WaitSetWake(hSet)

	if got := mustWait(t, ch, time.Second); got != NilHandle {
		t.Fatalf("bare wake should return NilHandle, got %d", got)
	}
}

func TestWaitSet_WakeQueuedBeforeWait(t *testing.T) {
	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)

	// A wake issued while nothing waits is queued in the pipe and must
	// resolve the next wait without blocking.
	WaitSetWake(hSet)

	if got := mustWait(t, waitResult(hSet), time.Second); got != NilHandle {
		t.Fatalf("queued wake should return NilHandle, got %d", got)
	}
}

func TestWaitSet_QueuedWakeSurvivesReadyScan(t *testing.T) {
	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hEvent)

	WaitSetAdd(hSet, NilHandle, hEvent)

	// Both a wake and a ready event are pending: the event wins this wait,
	// the wake resolves the next one.
	WaitSetWake(hSet)
	EventSet(hEvent)

	if got := mustWait(t, waitResult(hSet), time.Second); got != hEvent {
		t.Fatalf("ready event should win, got %d", got)
	}

	EventReset(hEvent)
	if got := mustWait(t, waitResult(hSet), time.Second); got != NilHandle {
		t.Fatalf("queued wake should resolve the next wait, got %d", got)
	}
}

func TestWaitSet_FIFOOrdering(t *testing.T) {
	hE1 := EventCreate(EventManual)
	defer EventDestroy(hE1)
	hE2 := EventCreate(EventManual)
	defer EventDestroy(hE2)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer func() {
		WaitSetRemove(hSet, hE1)
		WaitSetRemove(hSet, hE2)
	}()

	WaitSetAdd(hSet, NilHandle, hE1)
	WaitSetAdd(hSet, NilHandle, hE2)
	EventSet(hE1)
	EventSet(hE2)

	if got := mustWait(t, waitResult(hSet), time.Second); got != hE1 {
		t.Fatalf("registration order should break the tie: expected %d, got %d", hE1, got)
	}

	EventReset(hE1)
	if got := mustWait(t, waitResult(hSet), time.Second); got != hE2 {
		t.Fatalf("expected second event %d after resetting the first, got %d", hE2, got)
	}
}

func TestWaitSet_PreSignalledEventObservedOnWait(t *testing.T) {
	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)
	EventSet(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hEvent)

	// Add posts the already-signalled event to the pipe; the pre-scan also
	// re-detects it, so either path must report it.
	WaitSetAdd(hSet, NilHandle, hEvent)

	if got := mustWait(t, waitResult(hSet), time.Second); got != hEvent {
		t.Fatalf("pre-signalled event must be observable: expected %d, got %d", hEvent, got)
	}
}

func TestWaitSet_SignalBetweenWaitsIsQueued(t *testing.T) {
	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hEvent)

	WaitSetAdd(hSet, NilHandle, hEvent)

	// Signal while nothing waits: the next wait must observe it.
	EventSet(hEvent)

	if got := mustWait(t, waitResult(hSet), time.Second); got != hEvent {
		t.Fatalf("signal issued between waits must be observable, got %d", got)
	}
}

func TestWaitSet_WaitQueueReadiness(t *testing.T) {
	hQueue := WaitQueueCreate()
	defer WaitQueueDestroy(hQueue)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hQueue)

	WaitSetAdd(hSet, NilHandle, hQueue)

	ch := waitResult(hSet)
	go func() {
		time.Sleep(20 * time.Millisecond)
		WaitQueueEnqueue(hQueue, "item")
	}()

	if got := mustWait(t, ch, time.Second); got != hQueue {
		t.Fatalf("expected wait-queue handle %d, got %d", hQueue, got)
	}
	if item := WaitQueueDequeue(hQueue); item != "item" {
		t.Fatalf("unexpected item %v", item)
	}
}

func TestWaitSet_InertKindsIgnored(t *testing.T) {
	hApp := CreateHandle(HandleApp, struct{}{})
	defer DestroyHandle(hApp)
	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer func() {
		WaitSetRemove(hSet, hApp)
		WaitSetRemove(hSet, hEvent)
	}()

	// The inert app handle registers first but must never trigger.
	WaitSetAdd(hSet, NilHandle, hApp)
	WaitSetAdd(hSet, NilHandle, hEvent)
	EventSet(hEvent)

	if got := mustWait(t, waitResult(hSet), time.Second); got != hEvent {
		t.Fatalf("inert registration must be skipped: expected %d, got %d", hEvent, got)
	}
}

func TestWaitSet_DestroyedHandleOpsAreNoOps(t *testing.T) {
	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	WaitSetDestroy(hSet)

	// All operations on the destroyed set must degrade silently.
	WaitSetAdd(hSet, NilHandle, NilHandle)
	WaitSetRemove(hSet, NilHandle)
	WaitSetSignal(hSet, NilHandle)
	WaitSetWake(hSet)
	WaitSetDebug(hSet)
	if got := WaitSetWait(hSet); got != NilHandle {
		t.Fatalf("wait on destroyed set returned %d", got)
	}
}

func TestWaitSet_DestroyRefusedWhileRegistered(t *testing.T) {
	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	WaitSetAdd(hSet, NilHandle, hEvent)

	WaitSetDestroy(hSet)
	if KindOf(hSet) != HandleWaitSet {
		t.Fatal("destroy must be refused while registrations remain")
	}

	WaitSetRemove(hSet, hEvent)
	WaitSetDestroy(hSet)
	if KindOf(hSet) != HandleUnknown {
		t.Fatal("empty set should destroy")
	}
}

func TestWaitSet_OverlappedLocalCompletion(t *testing.T) {
	hInner := EventCreate(EventAuto)
	defer EventDestroy(hInner)
	hOverlapped := CreateHandle(HandleOverlappedLocal, testOverlapped{event: hInner})
	defer DestroyHandle(hOverlapped)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hOverlapped)

	WaitSetAdd(hSet, NilHandle, hOverlapped)

	ch := waitResult(hSet)
	go func() {
		time.Sleep(20 * time.Millisecond)
		EventSet(hInner)
	}()

	// The completion event fires, but the wait reports the overlapped
	// handle that owns it.
	if got := mustWait(t, ch, time.Second); got != hOverlapped {
		t.Fatalf("expected overlapped handle %d, got %d", hOverlapped, got)
	}
}

func TestWaitSet_OverlappedRemoteCompletion(t *testing.T) {
	hQueue := WaitQueueCreate()
	defer WaitQueueDestroy(hQueue)
	hOverlapped := CreateHandle(HandleOverlappedRemote, testOverlapped{queue: hQueue})
	defer DestroyHandle(hOverlapped)

	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	defer WaitSetRemove(hSet, hOverlapped)

	WaitSetAdd(hSet, NilHandle, hOverlapped)

	ch := waitResult(hSet)
	go func() {
		time.Sleep(20 * time.Millisecond)
		WaitQueueEnqueue(hQueue, 42)
	}()

	if got := mustWait(t, ch, time.Second); got != hOverlapped {
		t.Fatalf("expected overlapped handle %d, got %d", hOverlapped, got)
	}
}

// testOverlapped implements both overlapped capability interfaces; tests use
// whichever half the registered kind requires.
type testOverlapped struct {
	event Handle
	queue Handle
}

func (o testOverlapped) CompletionEvent() Handle {
	if o.event != NilHandle {
		return o.event
	}
	return WaitQueueEventHandle(o.queue)
}

func (o testOverlapped) CompletionWaitQueue() Handle { return o.queue }
