package events

import (
	"log"
	"sync"
	"time"

	"github.com/d1nch8g/linecue/queue"
)

// Kind classifies an event.
type Kind string

const (
	KindState          Kind = "state"
	KindBinding        Kind = "binding"
	KindWarning        Kind = "warning"
	KindTrigger        Kind = "trigger"
	KindTriggerDropped Kind = "trigger_dropped"
)

// Event is one observable change on the assembly line.
type Event struct {
	Time    time.Time     `json:"time"`
	Slot    int           `json:"slot"`
	Kind    Kind          `json:"kind"`
	Reason  string        `json:"reason,omitempty"`
	State   string        `json:"state,omitempty"`
	Index   int           `json:"currentIndex"`
	Item    *queue.Item   `json:"item,omitempty"`
	Message string        `json:"message,omitempty"`
	Status  *queue.Status `json:"status,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses the event and a warning is logged.
type Bus struct {
	logger *log.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.buffer = size
	}
}

func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger: log.Default(),
		buffer: 256,
		subs:   make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to every subscriber. A nil bus drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Printf("[Events] subscriber %s buffer full, dropping %s event for slot %d", sub.name, ev.Kind, ev.Slot)
		}
	}
}

// Subscribe registers a named subscriber.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		bus:  b,
		id:   b.nextID,
		name: name,
		ch:   make(chan Event, b.buffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Subscription receives events until closed.
type Subscription struct {
	bus  *Bus
	id   uint64
	name string
	ch   chan Event
	once sync.Once
}

func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
