package notify

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	b.Publish(Event{Kind: ItemCreated, ItemID: 7})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		assert.Equal(t, ItemCreated, ev.Kind)
		assert.Equal(t, int64(7), ev.ItemID)
		assert.NotEqual(t, uuid.Nil, ev.ID)
		assert.False(t, ev.At.IsZero())
	}
}

func TestBus_FullBufferDrops(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: OcrCompleted, ItemID: 1})
	b.Publish(Event{Kind: OcrCompleted, ItemID: 2})

	ev := <-ch
	assert.Equal(t, int64(1), ev.ItemID)
	select {
	case ev := <-ch:
		t.Fatalf("expected dropped event, got %+v", ev)
	default:
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(0)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())

	// Publishing with no subscribers is a no-op.
	b.Publish(Event{Kind: LanguageDetected})
}
