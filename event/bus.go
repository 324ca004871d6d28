package event

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus delivers events to every subscriber in publish order. Publishing
// never blocks. When a subscriber's channel is full, ConnectionStatus
// events are dropped for it; every other event waits in a per-subscriber
// backlog until the subscriber catches up.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel receiving future events and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	s := newSubscriber(id, buffer)
	b.subs[id] = s

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				s.close()
			}
		})
	}
}

// Publish stamps e with the current time if unset and hands it to every
// subscriber.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.offer(e)
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.close()
		delete(b.subs, id)
	}
}

type subscriber struct {
	id   int
	out  chan Event
	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	backlog []Event
}

func newSubscriber(id, buffer int) *subscriber {
	s := &subscriber{
		id:   id,
		out:  make(chan Event, buffer),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

// offer queues e without blocking.
func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.backlog) == 0 {
		select {
		case s.out <- e:
			return
		default:
		}
	}
	if e.Type == ConnectionStatus {
		logrus.WithFields(logrus.Fields{
			"function":   "subscriber.offer",
			"subscriber": s.id,
		}).Debug("Subscriber behind, dropping connection status")
		return
	}
	if len(s.backlog) == 0 {
		logrus.WithFields(logrus.Fields{
			"function":   "subscriber.offer",
			"subscriber": s.id,
			"event":      e.Type.String(),
		}).Warn("Subscriber buffer full, holding events")
	}
	s.backlog = append(s.backlog, e)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves the backlog into out as the subscriber reads. An event stays
// at the head of the backlog until it is in out, so direct sends from
// offer cannot overtake it.
func (s *subscriber) pump() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
		for {
			s.mu.Lock()
			if len(s.backlog) == 0 {
				s.backlog = nil
				s.mu.Unlock()
				break
			}
			e := s.backlog[0]
			s.mu.Unlock()

			select {
			case s.out <- e:
			case <-s.stop:
				return
			}

			s.mu.Lock()
			s.backlog = s.backlog[1:]
			s.mu.Unlock()
		}
	}
}

// close stops the pump and closes out. Callers hold the bus write lock,
// so no offer is running.
func (s *subscriber) close() {
	close(s.stop)
	<-s.done
	close(s.out)
}
