// Package osal provides the portable operating-system abstraction used by an
// SMB/CIFS-capable file access stack: handles, events, reentrant locks, wait
// queues, timers, socket adapters, threads, and the wait-set multiplexor that
// composes them into a single blocking wait.
//
// # Architecture
//
// Every primitive is published through a process-wide handle registry
// ([CreateHandle], [ResolveHandle], [DestroyHandle]). Handles are opaque,
// kind-tagged ids; operations on unknown or destroyed handles degrade to
// nil/false rather than failing loudly, so teardown races resolve safely.
//
// The [WaitSet] is the scheduling substrate. Arbitrary readiness sources —
// signalled events, non-empty wait queues, overlapped completions, pollable
// descriptors, timer deadlines — are registered with [WaitSetAdd], and
// [WaitSetWait] blocks until exactly one is ready, returning its handle.
// Ties break in registration order. Cross-goroutine signalling uses a
// non-blocking self-pipe whose read end always joins the poll set; each pipe
// message is one handle id, with [NilHandle] acting as a bare wake
// ([WaitSetWake]).
//
// New readiness kinds integrate through one of five patterns: a pre-tested
// event ([OverlappedEventSource]), a pre-tested wait queue
// ([OverlappedQueueSource]), a pollable descriptor ([FileSource], sockets),
// a deadline ([TimerWaitTime]), or inert.
//
// # Concurrency
//
// All registry operations are thread-safe. Threads created with
// [ThreadCreate] drive wait-set loops and terminate cooperatively:
// [ThreadDelete] raises a flag and wakes the associated wait set, and the
// loop observes [ThreadIsDeleting] and returns. There is no forced
// cancellation.
//
// # Logging
//
// Structured logging uses logiface; install a logger with [SetLogger] (the
// default is silent), or per wait set via [WithWaitSetLogger].
package osal
