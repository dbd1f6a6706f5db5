package mirror

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/remixsync/remixsync/internal/core/observability/log"
)

// fakeFrameConn is an in-memory frameConn. Outbound frames are recorded;
// inbound frames are fed through deliver and surface in the read loop.
type fakeFrameConn struct {
	mu      sync.Mutex
	written []Frame
	closed  bool

	inbound chan Frame
}

func newFakeFrameConn() *fakeFrameConn {
	return &fakeFrameConn{inbound: make(chan Frame, 16)}
}

func (c *fakeFrameConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, f)
	return nil
}

func (c *fakeFrameConn) ReadFrame() (Frame, error) {
	f, ok := <-c.inbound
	if !ok {
		return Frame{}, io.EOF
	}
	return f, nil
}

func (c *fakeFrameConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeFrameConn) deliver(f Frame) { c.inbound <- f }

func (c *fakeFrameConn) writes() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.written))
	copy(out, c.written)
	return out
}

func TestStreamClientWrites(t *testing.T) {
	conn := newFakeFrameConn()
	c := newStreamClient(conn, log.Nop())
	defer func() { _ = c.Close() }()

	require.NoError(t, c.ReplaceNamespace("remixer/abc"))
	require.NoError(t, c.SetEntry("remixer/abc", "speed", entry("speed", 10)))
	require.NoError(t, c.ClearNamespace("remixer/abc"))

	sub, err := c.Subscribe("remixer/abc", &recordingHandler{})
	require.NoError(t, err)
	require.NoError(t, c.Unsubscribe(sub))

	writes := conn.writes()
	require.Len(t, writes, 5)

	require.Equal(t, OpReplace, writes[0].Op)
	require.Equal(t, "remixer/abc", writes[0].Path)

	require.Equal(t, OpSet, writes[1].Op)
	require.Equal(t, "speed", writes[1].Key)
	require.NotNil(t, writes[1].Entry)
	require.Equal(t, float64(10), writes[1].Entry.SelectedValue)

	require.Equal(t, OpClear, writes[2].Op)

	require.Equal(t, OpSubscribe, writes[3].Op)
	require.Equal(t, sub.ID(), writes[3].SubID)

	require.Equal(t, OpUnsubscribe, writes[4].Op)
	require.Equal(t, sub.ID(), writes[4].SubID)
}

func TestStreamClientEventRouting(t *testing.T) {
	conn := newFakeFrameConn()
	c := newStreamClient(conn, log.Nop())
	defer func() { _ = c.Close() }()

	ha := &recordingHandler{}
	hb := &recordingHandler{}
	subA, err := c.Subscribe("remixer/abc", ha)
	require.NoError(t, err)
	_, err = c.Subscribe("remixer/xyz", hb)
	require.NoError(t, err)

	conn.deliver(EventFrame(subA.ID(), "remixer/abc", ChildEvent{
		Kind:  EventChanged,
		Entry: entry("speed", 20),
	}))

	require.Eventually(t, func() bool {
		return len(ha.snapshot()) == 1
	}, time.Second, time.Millisecond)

	got := ha.snapshot()[0]
	require.Equal(t, EventChanged, got.Kind)
	require.Equal(t, "speed", got.Key())
	require.Equal(t, float64(20), got.Entry.SelectedValue)
	require.Empty(t, hb.snapshot(), "other subscriptions must not see the event")
}

func TestStreamClientTolerantOfBadFrames(t *testing.T) {
	conn := newFakeFrameConn()
	c := newStreamClient(conn, log.Nop())
	defer func() { _ = c.Close() }()

	h := &recordingHandler{}
	sub, err := c.Subscribe("remixer/abc", h)
	require.NoError(t, err)

	// Unknown subscription, unknown kind, and unsolicited op frames are
	// dropped without disturbing the subscription.
	conn.deliver(EventFrame("no-such-sub", "remixer/abc", ChildEvent{Kind: EventAdded, Entry: entry("a", 1)}))
	conn.deliver(Frame{Op: OpEvent, SubID: sub.ID(), Kind: "repainted", Key: "a"})
	conn.deliver(Frame{Op: OpSet, Path: "remixer/abc", Key: "a"})
	conn.deliver(EventFrame(sub.ID(), "remixer/abc", ChildEvent{Kind: EventAdded, Entry: entry("b", 2)}))

	require.Eventually(t, func() bool {
		return len(h.snapshot()) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, "b", h.snapshot()[0].Key())
}

func TestStreamClientCancelFrame(t *testing.T) {
	conn := newFakeFrameConn()
	c := newStreamClient(conn, log.Nop())
	defer func() { _ = c.Close() }()

	h := &recordingHandler{}
	sub, err := c.Subscribe("remixer/abc", h)
	require.NoError(t, err)

	conn.deliver(Frame{Op: OpCancel, SubID: sub.ID(), Reason: "namespace dropped"})

	require.Eventually(t, func() bool {
		return h.cancelErr() != nil
	}, time.Second, time.Millisecond)
	require.ErrorContains(t, h.cancelErr(), "namespace dropped")

	require.ErrorIs(t, c.Unsubscribe(sub), ErrUnknownSubscription,
		"a cancelled subscription is already forgotten")
}

func TestStreamClientTransportFailure(t *testing.T) {
	conn := newFakeFrameConn()
	c := newStreamClient(conn, log.Nop())

	h := &recordingHandler{}
	_, err := c.Subscribe("remixer/abc", h)
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return h.cancelErr() != nil
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, h.cancelErr(), io.EOF)

	require.ErrorIs(t, c.SetEntry("remixer/abc", "speed", entry("speed", 10)), ErrClientClosed)
	_, err = c.Subscribe("remixer/abc", &recordingHandler{})
	require.ErrorIs(t, err, ErrClientClosed)
}
