package events

import (
	"context"
	"sync"
)

// Subscription receives messages for the rooms it joined.
type Subscription struct {
	C     <-chan Message
	ch    chan Message
	rooms map[string]struct{}
}

// Bus is an in-process room fan-out. Delivery is non-blocking, a slow
// subscriber drops messages instead of stalling publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

func (b *Bus) Publish(_ context.Context, room, event string, payload interface{}) error {
	m, err := NewMessage(room, event, payload)
	if err != nil {
		return err
	}
	b.Deliver(m)
	return nil
}

// Deliver fans an already encoded message out to the room's subscribers.
func (b *Bus) Deliver(m Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if _, ok := s.rooms[m.Room]; !ok {
			continue
		}
		select {
		case s.ch <- m:
		default:
		}
	}
}

// Subscribe joins rooms. With no rooms the subscription receives nothing.
func (b *Bus) Subscribe(rooms ...string) *Subscription {
	ch := make(chan Message, b.buffer)
	s := &Subscription{C: ch, ch: ch, rooms: make(map[string]struct{}, len(rooms))}
	for _, r := range rooms {
		s.rooms[r] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()
	return s
}

func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	if !b.closed {
		close(s.ch)
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
