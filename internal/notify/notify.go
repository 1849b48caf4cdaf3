// Package notify is the in-process notification sink. Delivery is
// best-effort and at-most-once: a subscriber whose buffer is full misses the
// event and must re-query storage.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"clipmind/internal/db"
)

// Kind names an event type.
type Kind string

const (
	ItemCreated      Kind = "item_created"
	OcrCompleted     Kind = "ocr_completed"
	LanguageDetected Kind = "language_detected"
)

// Event is one notification. Item is set for ItemCreated; Text, IsCode and
// Language describe OCR and language results. On OcrCompleted, IsCode says
// the recognized text is code; the image item itself stays an Image.
type Event struct {
	ID       uuid.UUID `json:"id"`
	Kind     Kind      `json:"kind"`
	ItemID   int64     `json:"item_id"`
	Item     *db.Item  `json:"item,omitempty"`
	Text     string    `json:"text,omitempty"`
	IsCode   bool      `json:"is_code,omitempty"`
	Language string    `json:"language,omitempty"`
	At       time.Time `json:"at"`
}

var eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "clipmind_events_dropped_total",
	Help: "Notifications dropped because a subscriber buffer was full",
})

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel receiving future events and a cancel func that
// closes it. buffer <= 0 defaults to 64.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

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

// Publish stamps the event and offers it to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			eventsDropped.Inc()
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
