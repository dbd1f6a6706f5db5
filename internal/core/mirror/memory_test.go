package mirror

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/remixsync/remixsync/internal/core/variable"
)

type recordingHandler struct {
	mu        sync.Mutex
	events    []ChildEvent
	cancelled error
}

func (h *recordingHandler) OnChildEvent(ev ChildEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) OnCancelled(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = err
}

func (h *recordingHandler) snapshot() []ChildEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ChildEvent, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHandler) cancelErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func entry(key string, value float64) variable.StoredVariable {
	return variable.StoredVariable{Key: key, DataType: variable.TypeNumber, SelectedValue: value}
}

func TestMemorySubscribe(t *testing.T) {
	t.Run("existing entries replay as added", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 1)))
		require.NoError(t, m.SetEntry("remixer/abc", "b", entry("b", 2)))

		h := &recordingHandler{}
		_, err := m.Subscribe("remixer/abc", h)
		require.NoError(t, err)
		m.Flush()

		events := h.snapshot()
		require.Len(t, events, 2)
		require.Equal(t, "a", events[0].Key())
		require.Equal(t, "b", events[1].Key())
		for _, ev := range events {
			require.Equal(t, EventAdded, ev.Kind)
			require.True(t, ev.Replay)
		}
	})

	t.Run("set delivers added then changed in order", func(t *testing.T) {
		m := NewMemory()
		h := &recordingHandler{}
		_, err := m.Subscribe("remixer/abc", h)
		require.NoError(t, err)

		require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 1)))
		require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 2)))
		m.Flush()

		events := h.snapshot()
		require.Len(t, events, 2)
		require.Equal(t, EventAdded, events[0].Kind)
		require.Equal(t, EventChanged, events[1].Kind)
		require.False(t, events[0].Replay)
		require.Equal(t, float64(2), events[1].Entry.SelectedValue)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		m := NewMemory()
		h := &recordingHandler{}
		_, err := m.Subscribe("remixer/abc", h)
		require.NoError(t, err)

		require.NoError(t, m.SetEntry("remixer/other", "a", entry("a", 1)))
		m.Flush()
		require.Empty(t, h.snapshot())
	})

	t.Run("fan-out to multiple subscribers", func(t *testing.T) {
		m := NewMemory()
		h1 := &recordingHandler{}
		h2 := &recordingHandler{}
		_, err := m.Subscribe("remixer/abc", h1)
		require.NoError(t, err)
		_, err = m.Subscribe("remixer/abc", h2)
		require.NoError(t, err)

		require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 1)))
		m.Flush()
		require.Len(t, h1.snapshot(), 1)
		require.Len(t, h2.snapshot(), 1)
	})
}

func TestMemoryUnsubscribe(t *testing.T) {
	m := NewMemory()
	h := &recordingHandler{}
	sub, err := m.Subscribe("remixer/abc", h)
	require.NoError(t, err)

	require.NoError(t, m.Unsubscribe(sub))
	require.ErrorIs(t, m.Unsubscribe(sub), ErrUnknownSubscription)

	require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 1)))
	m.Flush()
	require.Empty(t, h.snapshot())
}

func TestMemoryClearEmitsNoChildEvents(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 1)))

	h := &recordingHandler{}
	_, err := m.Subscribe("remixer/abc", h)
	require.NoError(t, err)
	m.Flush()
	require.Len(t, h.snapshot(), 1) // replay only

	require.NoError(t, m.ClearNamespace("remixer/abc"))
	m.Flush()
	require.Len(t, h.snapshot(), 1)
	require.Empty(t, m.Entries("remixer/abc"))
}

func TestMemoryForeignWriterEvents(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 1)))

	h := &recordingHandler{}
	_, err := m.Subscribe("remixer/abc", h)
	require.NoError(t, err)

	m.RemoveEntry("remixer/abc", "a")
	m.MoveEntry("remixer/abc", "a") // gone, no event
	m.Flush()

	events := h.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, EventRemoved, events[1].Kind)
	require.Equal(t, "a", events[1].Key())
}

func TestMemoryCancel(t *testing.T) {
	m := NewMemory()
	h := &recordingHandler{}
	_, err := m.Subscribe("remixer/abc", h)
	require.NoError(t, err)

	cause := errors.New("permission revoked")
	m.Cancel("remixer/abc", cause)
	m.Flush()

	require.ErrorIs(t, h.cancelErr(), cause)

	// the subscription is gone; further writes are not delivered
	require.NoError(t, m.SetEntry("remixer/abc", "a", entry("a", 1)))
	m.Flush()
	require.Empty(t, h.snapshot())
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	require.ErrorIs(t, m.SetEntry("p", "k", entry("k", 1)), ErrClientClosed)
	_, err := m.Subscribe("p", &recordingHandler{})
	require.ErrorIs(t, err, ErrClientClosed)
}
