package osal

// WaitQueue is a FIFO of opaque items coupled to an owned manual-reset event.
// The event is signalled exactly while the queue is non-empty, which lets a
// wait set treat the whole queue as a single readiness source: it registers
// against the inner event and reports the queue's handle when items arrive.
type WaitQueue struct {
	lock   *Lock
	items  []any
	hEvent Handle
	handle Handle
}

// WaitQueueCreate creates an empty wait queue and returns its handle.
func WaitQueueCreate() Handle {
	q := &WaitQueue{
		lock:   NewLock(),
		hEvent: EventCreate(EventManual),
	}
	q.handle = CreateHandle(HandleWaitQueue, q)
	return q.handle
}

// WaitQueueDestroy destroys the queue and its owned event. Items still queued
// are discarded.
func WaitQueueDestroy(h Handle) {
	q, release, ok := resolveAs[*WaitQueue](h)
	if ok {
		q.lock.Lock()
		q.items = nil
		EventDestroy(q.hEvent)
		q.lock.Unlock()
	}
	release()
	DestroyHandle(h)
}

// WaitQueueEnqueue appends item and signals the queue's event.
func WaitQueueEnqueue(h Handle, item any) {
	q, release, ok := resolveAs[*WaitQueue](h)
	defer release()
	if !ok {
		return
	}

	q.lock.Lock()
	q.items = append(q.items, item)
	EventSet(q.hEvent)
	q.lock.Unlock()
}

// WaitQueueDequeue removes and returns the oldest item, or nil when the queue
// is empty. A dequeue that empties the queue resets the event.
func WaitQueueDequeue(h Handle) any {
	q, release, ok := resolveAs[*WaitQueue](h)
	defer release()
	if !ok {
		return nil
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		EventReset(q.hEvent)
	}
	return item
}

// WaitQueueFirst returns the oldest item without removing it, or nil.
func WaitQueueFirst(h Handle) any {
	q, release, ok := resolveAs[*WaitQueue](h)
	defer release()
	if !ok {
		return nil
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// WaitQueueNext returns the item following cur in queue order, or nil when
// cur is the newest item or is no longer queued. Items are matched by
// interface identity.
func WaitQueueNext(h Handle, cur any) any {
	q, release, ok := resolveAs[*WaitQueue](h)
	defer release()
	if !ok {
		return nil
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	for i, item := range q.items {
		if item == cur && i+1 < len(q.items) {
			return q.items[i+1]
		}
	}
	return nil
}

// WaitQueueEmpty reports whether the queue holds no items. Unknown handles
// report empty.
func WaitQueueEmpty(h Handle) bool {
	q, release, ok := resolveAs[*WaitQueue](h)
	defer release()
	if !ok {
		return true
	}

	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items) == 0
}

// WaitQueueEventHandle returns the handle of the queue's owned event.
func WaitQueueEventHandle(h Handle) Handle {
	q, release, ok := resolveAs[*WaitQueue](h)
	defer release()
	if !ok {
		return NilHandle
	}
	return q.hEvent
}
