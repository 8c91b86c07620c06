package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(0)
	for i := 0; i < 3; i++ {
		bus.Publish(Event{Message: "m"})
	}

	events := bus.Since(1)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, int64(3), bus.LastSeq())
	assert.Empty(t, bus.Since(3))
}

func TestEventBusTrimsOldest(t *testing.T) {
	bus := NewEventBus(2)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{})
	}

	events := bus.Since(0)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].Seq)
	assert.Equal(t, int64(5), bus.LastSeq())
}
