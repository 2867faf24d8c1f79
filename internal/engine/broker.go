package engine

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Updates are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Broker fans out per-job progress updates to subscribers and marks job
// completion by closing the topic. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a job finishes) receive a closed channel instead of
// blocking forever. The retention janitor drops each marker together with its
// pruned job record via Drop, so broker memory stays bounded by the set of
// retained jobs.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewBroker creates a new progress broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives progress updates for the given
// job and an unsubscribe function. If the job has already finished (Close was
// called), the returned channel is immediately closed.
func (b *Broker) Subscribe(jobID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[int]chan string)}
		b.topics[jobID] = t
	}

	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a progress update to all subscribers of the given job.
// Updates are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(jobID string, update string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- update:
		default:
			// Drop update for slow subscribers to avoid blocking the pipeline.
		}
	}
}

// Close marks the job finished. All subscriber channels are closed and future
// Subscribe calls return a closed channel. Closing an already-closed topic is
// a no-op, so completion is signalled at most once per subscriber.
func (b *Broker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[jobID] = &topic{subs: make(map[int]chan string), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Drop removes a job's topic entirely, closed-topic marker included. Any
// still-open subscriber channels are closed first. Called when the job record
// itself is pruned from the store.
func (b *Broker) Drop(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, jobID)
}
