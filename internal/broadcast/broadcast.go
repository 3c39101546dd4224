// Package broadcast fans job progress events out to per-job subscribers.
// Events are advisory: publishes to a job with no subscribers are dropped,
// and a subscriber connecting after an event was sent never sees it.
package broadcast

import (
	"encoding/json"
	"sync"
)

// Event is one named progress event with its serialized payload.
type Event struct {
	Name string
	Data string
}

// queue is an unbounded FIFO pumped into an outbound channel, so Publish
// never blocks regardless of how slowly the consumer drains.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool

	out  chan Event
	done chan struct{}
}

func newQueue() *queue {
	q := &queue{out: make(chan Event), done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

func (q *queue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		e := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		select {
		case q.out <- e:
		case <-q.done:
			return
		}
	}
}

type subscriberSet struct {
	// registration order, so every subscriber sees publishes in the same
	// order they were registered
	order  []string
	queues map[string]*queue
}

// Broadcaster is a per-job, per-subscriber queue registry. It exclusively
// owns all queues; publishers only ever address a job id.
type Broadcaster struct {
	mu   sync.Mutex
	jobs map[string]*subscriberSet
}

// New creates an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{jobs: make(map[string]*subscriberSet)}
}

// Subscribe registers a fresh queue for (jobID, clientID) and returns its
// receive side. Re-subscribing with the same clientID replaces the prior
// queue; events already queued on the old one are orphaned.
func (b *Broadcaster) Subscribe(jobID, clientID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.jobs[jobID]
	if !ok {
		set = &subscriberSet{queues: make(map[string]*queue)}
		b.jobs[jobID] = set
	}
	if old, exists := set.queues[clientID]; exists {
		old.close()
	} else {
		set.order = append(set.order, clientID)
	}
	q := newQueue()
	set.queues[clientID] = q
	return q.out
}

// Unsubscribe removes the (jobID, clientID) queue. The job entry itself is
// dropped once its last subscriber is gone.
func (b *Broadcaster) Unsubscribe(jobID, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.jobs[jobID]
	if !ok {
		return
	}
	q, exists := set.queues[clientID]
	if !exists {
		return
	}
	q.close()
	delete(set.queues, clientID)
	for i, id := range set.order {
		if id == clientID {
			set.order = append(set.order[:i], set.order[i+1:]...)
			break
		}
	}
	if len(set.queues) == 0 {
		delete(b.jobs, jobID)
	}
}

// Publish serializes payload and pushes the event onto every queue
// currently registered for jobID, in registration order. A job with no
// subscribers is a no-op.
func (b *Broadcaster) Publish(jobID, eventName string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.jobs[jobID]
	if !ok {
		return
	}
	e := Event{Name: eventName, Data: string(data)}
	for _, clientID := range set.order {
		if q, exists := set.queues[clientID]; exists {
			q.push(e)
		}
	}
}

// Subscribers reports the current subscriber count for a job.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.jobs[jobID]
	if !ok {
		return 0
	}
	return len(set.queues)
}
