package ecs

// ReceiverID is a handle into one EventQueue's subscriber table. Each
// receiver drains the queue at its own pace through an independent read
// cursor.
type ReceiverID[E any] struct {
	id int
}

type receiverState struct {
	read     int
	received int
}

// EventQueue buffers events of type E for any number of subscribers.
// Every subscriber sees every event sent while it was subscribed exactly
// once; events sent before a subscriber joined are invisible to it. The
// shared buffer holds only events still unread by at least one
// subscriber, so it cannot grow past the slowest reader's lag.
//
// The queue is not internally synchronized. It lives in the resource
// container and inherits its locking discipline, the same as any other
// resource touched by concurrently running systems.
type EventQueue[E any] struct {
	// Newest event last; receive addresses unread events from the tail.
	events    []E
	receivers map[int]*receiverState
	maxID     int
	freeIDs   []int
}

// NewEventQueue returns an empty queue with no subscribers.
func NewEventQueue[E any]() *EventQueue[E] {
	return &EventQueue[E]{receivers: make(map[int]*receiverState)}
}

// Subscribe allocates a receiver slot, reusing freed ids. The new
// receiver starts with no unread events.
func (q *EventQueue[E]) Subscribe() ReceiverID[E] {
	var id int
	if n := len(q.freeIDs); n > 0 {
		id = q.freeIDs[n-1]
		q.freeIDs = q.freeIDs[:n-1]
	} else {
		id = q.maxID
		q.maxID++
	}
	q.receivers[id] = &receiverState{}
	return ReceiverID[E]{id: id}
}

// Unsubscribe removes the receiver and frees its id for reuse.
func (q *EventQueue[E]) Unsubscribe(id ReceiverID[E]) {
	delete(q.receivers, id.id)
	q.freeIDs = append(q.freeIDs, id.id)
}

// IsSubscribed reports whether the receiver still holds a slot.
func (q *EventQueue[E]) IsSubscribed(id ReceiverID[E]) bool {
	_, ok := q.receivers[id.id]
	return ok
}

// Renew replaces an existing subscription with a fresh one, losing any
// unread events.
func (q *EventQueue[E]) Renew(id ReceiverID[E]) ReceiverID[E] {
	if q.IsSubscribed(id) {
		q.Unsubscribe(id)
	}
	return q.Subscribe()
}

// Send buffers an event for every current subscriber. With no subscribers
// the event is dropped outright; buffering for nobody would grow the
// queue without bound.
func (q *EventQueue[E]) Send(event E) {
	if len(q.receivers) == 0 {
		return
	}
	q.events = append(q.events, event)
	for _, s := range q.receivers {
		s.received++
	}
}

// Receive returns the receiver's unread events, newest first, and
// advances its cursor. Afterwards the shared buffer is truncated down to
// the largest unread count over all subscribers, which is the point where
// the queue shrinks; a receiver's own unread events are never dropped.
// Calling Receive again without an intervening Send yields nothing.
func (q *EventQueue[E]) Receive(id ReceiverID[E]) []E {
	var out []E
	if s, ok := q.receivers[id.id]; ok && s.read < s.received {
		unread := s.received - s.read
		s.read = s.received
		out = make([]E, unread)
		for i := 0; i < unread; i++ {
			out[i] = q.events[len(q.events)-1-i]
		}
	}

	maxUnread := 0
	for _, s := range q.receivers {
		if u := s.received - s.read; u > maxUnread {
			maxUnread = u
		}
	}
	if maxUnread < len(q.events) {
		kept := make([]E, maxUnread)
		copy(kept, q.events[len(q.events)-maxUnread:])
		q.events = kept
	}

	// Everything read by everyone: rebase the counters so they cannot
	// creep upward forever.
	if len(q.events) == 0 {
		for _, s := range q.receivers {
			s.read = 0
			s.received = 0
		}
	}

	return out
}

// Len returns the number of buffered events.
func (q *EventQueue[E]) Len() int {
	return len(q.events)
}

// Subscribers returns the number of active receivers.
func (q *EventQueue[E]) Subscribers() int {
	return len(q.receivers)
}
