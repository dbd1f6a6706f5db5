package mirror

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/remixsync/remixsync/internal/core/observability/log"
	"github.com/remixsync/remixsync/internal/core/variable"
)

// frameConn carries frames over some transport. WriteFrame must be safe for
// concurrent use; ReadFrame is called from a single read loop.
type frameConn interface {
	WriteFrame(f Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

// streamClient implements Client on top of any frameConn. It owns the read
// loop; inbound events are dispatched from that loop's goroutine.
type streamClient struct {
	conn   frameConn
	logger log.Log

	mu     sync.Mutex
	subs   map[string]*streamSub
	closed bool
}

type streamSub struct {
	id      string
	path    string
	handler Handler
}

func (s *streamSub) ID() string   { return s.id }
func (s *streamSub) Path() string { return s.path }

func newStreamClient(conn frameConn, logger log.Log) *streamClient {
	if logger == nil {
		logger = log.Provide()
	}
	c := &streamClient{
		conn:   conn,
		logger: logger,
		subs:   make(map[string]*streamSub),
	}
	go c.readLoop()
	return c
}

func (c *streamClient) ReplaceNamespace(path string) error {
	return c.write(Frame{Op: OpReplace, Path: path})
}

func (c *streamClient) SetEntry(path, key string, entry variable.StoredVariable) error {
	return c.write(Frame{Op: OpSet, Path: path, Key: key, Entry: &entry})
}

func (c *streamClient) ClearNamespace(path string) error {
	return c.write(Frame{Op: OpClear, Path: path})
}

func (c *streamClient) Subscribe(path string, h Handler) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	sub := &streamSub{id: uuid.NewString(), path: path, handler: h}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	if err := c.write(Frame{Op: OpSubscribe, Path: path, SubID: sub.id}); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

func (c *streamClient) Unsubscribe(sub Subscription) error {
	c.mu.Lock()
	s, ok := c.subs[sub.ID()]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownSubscription
	}
	delete(c.subs, s.id)
	c.mu.Unlock()
	return c.write(Frame{Op: OpUnsubscribe, Path: s.path, SubID: s.id})
}

func (c *streamClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs = make(map[string]*streamSub)
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *streamClient) write(f Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}
	if err := c.conn.WriteFrame(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Op, err)
	}
	return nil
}

func (c *streamClient) readLoop() {
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			c.cancelAll(fmt.Errorf("mirror transport: %w", err))
			return
		}

		switch f.Op {
		case OpEvent:
			ev, ok := eventFromFrame(f)
			if !ok {
				c.logger.Warn("event frame with unknown kind", log.String("kind", f.Kind))
				continue
			}
			if sub := c.lookup(f.SubID); sub != nil {
				sub.handler.OnChildEvent(ev)
			}
		case OpCancel:
			c.mu.Lock()
			sub, ok := c.subs[f.SubID]
			if ok {
				delete(c.subs, f.SubID)
			}
			c.mu.Unlock()
			if ok {
				sub.handler.OnCancelled(fmt.Errorf("subscription cancelled by hub: %s", f.Reason))
			}
		default:
			c.logger.Warn("unexpected frame from hub", log.String("op", f.Op))
		}
	}
}

func (c *streamClient) lookup(subID string) *streamSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[subID]
}

func (c *streamClient) cancelAll(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]*streamSub)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.handler.OnCancelled(err)
	}
}
