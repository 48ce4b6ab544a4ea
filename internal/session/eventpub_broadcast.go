package session

import "sync"

// Broadcaster delivers events to live subscribers. A subscriber whose buffer
// is full misses the event instead of blocking the session.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
	buf  int
}

// NewBroadcaster returns a Broadcaster whose subscriber channels hold buf events.
func NewBroadcaster(buf int) *Broadcaster {
	if buf <= 0 {
		buf = 64
	}
	return &Broadcaster{subs: make(map[int]chan Event), buf: buf}
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buf)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
