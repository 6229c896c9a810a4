package osal

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
)

// testLogEvent is a minimal logiface.Event implementation for exercising the
// structured logging paths.
type testLogEvent struct {
	logiface.UnimplementedEvent
	level logiface.Level
}

func (e *testLogEvent) Level() logiface.Level        { return e.level }
func (e *testLogEvent) AddField(key string, val any) {}

type testLogEventFactory struct{}

func (testLogEventFactory) NewEvent(level logiface.Level) *testLogEvent {
	return &testLogEvent{level: level}
}

type testLogEventWriter struct {
	writes atomic.Int64
}

func (w *testLogEventWriter) Write(*testLogEvent) error {
	w.writes.Add(1)
	return nil
}

func newTestLogger(w *testLogEventWriter) *logiface.Logger[logiface.Event] {
	return logiface.New[*testLogEvent](
		logiface.WithEventFactory[*testLogEvent](testLogEventFactory{}),
		logiface.WithWriter[*testLogEvent](w),
		logiface.WithLevel[*testLogEvent](logiface.LevelTrace),
	).Logger()
}

func TestSetLogger_PackageLoggerReceivesThreadEvents(t *testing.T) {
	writer := &testLogEventWriter{}
	SetLogger(newTestLogger(writer))
	defer SetLogger(nil)

	h := ThreadCreate(func(Handle, any) {}, "logged", 0, nil, ThreadJoinable, NilHandle)
	ThreadWait(h)

	if writer.writes.Load() == 0 {
		t.Fatal("thread lifecycle should emit through the package logger")
	}
}

func TestWithWaitSetLogger_DebugDump(t *testing.T) {
	writer := &testLogEventWriter{}

	hSet, err := NewWaitSet(WithWaitSetLogger(newTestLogger(writer)))
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)

	hEvent := EventCreate(EventManual)
	defer EventDestroy(hEvent)
	hTimer := TimerCreate(time.Minute)
	defer TimerDestroy(hTimer)
	hQueue := WaitQueueCreate()
	defer WaitQueueDestroy(hQueue)

	WaitSetAdd(hSet, NilHandle, hEvent)
	WaitSetAdd(hSet, NilHandle, hTimer)
	WaitSetAdd(hSet, NilHandle, hQueue)
	defer func() {
		WaitSetRemove(hSet, hEvent)
		WaitSetRemove(hSet, hTimer)
		WaitSetRemove(hSet, hQueue)
	}()

	WaitSetDebug(hSet)
	if got := writer.writes.Load(); got < 3 {
		t.Fatalf("debug dump wrote %d events, expected one per registration", got)
	}
}

func TestNilLoggerIsSilentAndSafe(t *testing.T) {
	SetLogger(nil)

	// Every logging call site must tolerate the nil logger.
	hSet, err := NewWaitSet()
	if err != nil {
		t.Fatal("NewWaitSet failed:", err)
	}
	defer WaitSetDestroy(hSet)
	WaitSetDebug(hSet)
	WaitSetWake(hSet)
	if got := WaitSetWait(hSet); got != NilHandle {
		t.Fatalf("unexpected trigger %d", got)
	}
}
