package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHub_FanOut(t *testing.T) {
	hub := NewEventHub(4, nil)
	_, a, cancelA := hub.Subscribe()
	_, b, cancelB := hub.Subscribe()
	defer cancelB()
	require.Equal(t, 2, hub.Clients())

	hub.Publish(Event{Type: EventAnnounce})
	assert.Equal(t, EventAnnounce, (<-a).Type)
	ev := <-b
	assert.Equal(t, EventAnnounce, ev.Type)
	assert.False(t, ev.Time.IsZero())

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Clients())
}

func TestEventHub_DropsWhenFull(t *testing.T) {
	hub := NewEventHub(1, nil)
	_, ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Event{Type: "one"})
	hub.Publish(Event{Type: "two"})

	assert.Equal(t, "one", (<-ch).Type)
	assert.EqualValues(t, 1, hub.Dropped())
}

func TestEventHub_Close(t *testing.T) {
	hub := NewEventHub(0, nil)
	_, ch, cancel := hub.Subscribe()
	hub.Close()
	hub.Close()

	_, open := <-ch
	assert.False(t, open)
	cancel()

	_, late, _ := hub.Subscribe()
	_, open = <-late
	assert.False(t, open)
	assert.Equal(t, 0, hub.Clients())
}

func TestEventHub_DisconnectKeepsHubOpen(t *testing.T) {
	hub := NewEventHub(2, nil)
	_, ch, cancel := hub.Subscribe()
	hub.Disconnect()

	_, open := <-ch
	assert.False(t, open)
	cancel()
	assert.Equal(t, 0, hub.Clients())

	_, next, cancelNext := hub.Subscribe()
	defer cancelNext()
	hub.Publish(Event{Type: EventAnnounce})
	ev, open := <-next
	require.True(t, open)
	assert.Equal(t, EventAnnounce, ev.Type)
}
