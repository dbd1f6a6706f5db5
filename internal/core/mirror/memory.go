package mirror

import (
	"sync"

	"github.com/google/uuid"

	"github.com/remixsync/remixsync/internal/core/variable"
)

var _ Client = (*Memory)(nil)

// Memory is an in-process mirror store. Each subscription owns an ordered
// queue drained by a dedicated goroutine, so handlers never run in the
// goroutine that mutated the store. Namespace-level resets (Replace/Clear)
// do not produce child events; child events come from SetEntry and from the
// remote-writer helpers RemoveEntry and MoveEntry.
type Memory struct {
	mu         sync.Mutex
	namespaces map[string]*memoryNamespace
	subs       map[string]*memorySub
	pending    sync.WaitGroup
	closed     bool
}

type memoryNamespace struct {
	entries map[string]variable.StoredVariable
	order   []string
}

func NewMemory() *Memory {
	return &Memory{
		namespaces: make(map[string]*memoryNamespace),
		subs:       make(map[string]*memorySub),
	}
}

type memorySub struct {
	id      string
	path    string
	handler Handler

	mu     sync.Mutex
	queue  []queuedItem
	notify chan struct{}
}

type queuedItem struct {
	ev     ChildEvent
	cancel bool
	stop   bool
	err    error
}

func (s *memorySub) ID() string   { return s.id }
func (s *memorySub) Path() string { return s.path }

func (m *Memory) ReplaceNamespace(path string) error {
	return m.ClearNamespace(path)
}

func (m *Memory) SetEntry(path, key string, entry variable.StoredVariable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClientClosed
	}

	ns := m.namespace(path)
	_, existed := ns.entries[key]
	ns.entries[key] = entry
	if !existed {
		ns.order = append(ns.order, key)
	}

	kind := EventAdded
	if existed {
		kind = EventChanged
	}
	m.fanOut(path, ChildEvent{Kind: kind, Entry: entry})
	return nil
}

func (m *Memory) ClearNamespace(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClientClosed
	}
	delete(m.namespaces, path)
	return nil
}

func (m *Memory) Subscribe(path string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClientClosed
	}

	sub := &memorySub{
		id:      uuid.NewString(),
		path:    path,
		handler: h,
		notify:  make(chan struct{}, 1),
	}
	m.subs[sub.id] = sub
	go m.dispatch(sub)

	// replay current contents as added events
	ns := m.namespace(path)
	for _, key := range ns.order {
		if entry, ok := ns.entries[key]; ok {
			m.enqueue(sub, queuedItem{ev: ChildEvent{Kind: EventAdded, Entry: entry, Replay: true}})
		}
	}
	return sub, nil
}

func (m *Memory) Unsubscribe(sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[sub.ID()]
	if !ok {
		return ErrUnknownSubscription
	}
	delete(m.subs, s.id)
	m.enqueue(s, queuedItem{stop: true})
	return nil
}

// RemoveEntry deletes a single entry and delivers a removed event. The sync
// protocol never removes single entries; this models a foreign writer.
func (m *Memory) RemoveEntry(path, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespace(path)
	entry, ok := ns.entries[key]
	if !ok {
		return
	}
	delete(ns.entries, key)
	for i, k := range ns.order {
		if k == key {
			ns.order = append(ns.order[:i], ns.order[i+1:]...)
			break
		}
	}
	m.fanOut(path, ChildEvent{Kind: EventRemoved, Entry: entry})
}

// MoveEntry delivers a moved event without changing state, modelling a
// foreign writer reordering children.
func (m *Memory) MoveEntry(path, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespace(path)
	entry, ok := ns.entries[key]
	if !ok {
		return
	}
	m.fanOut(path, ChildEvent{Kind: EventMoved, Entry: entry})
}

// Cancel terminates every subscription on a path with err, modelling a
// transport failure or permission revocation.
func (m *Memory) Cancel(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.subs {
		if s.path != path {
			continue
		}
		delete(m.subs, id)
		m.enqueue(s, queuedItem{cancel: true, err: err})
	}
}

// Entries returns a copy of a namespace's contents.
func (m *Memory) Entries(path string) map[string]variable.StoredVariable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]variable.StoredVariable)
	if ns, ok := m.namespaces[path]; ok {
		for k, v := range ns.entries {
			out[k] = v
		}
	}
	return out
}

// Flush blocks until every queued event has been handled. Test aid.
func (m *Memory) Flush() {
	m.pending.Wait()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, s := range m.subs {
		delete(m.subs, id)
		m.enqueue(s, queuedItem{cancel: true, err: ErrClientClosed})
	}
	return nil
}

// namespace must be called with m.mu held.
func (m *Memory) namespace(path string) *memoryNamespace {
	ns, ok := m.namespaces[path]
	if !ok {
		ns = &memoryNamespace{entries: make(map[string]variable.StoredVariable)}
		m.namespaces[path] = ns
	}
	return ns
}

// fanOut must be called with m.mu held.
func (m *Memory) fanOut(path string, ev ChildEvent) {
	for _, s := range m.subs {
		if s.path == path {
			m.enqueue(s, queuedItem{ev: ev})
		}
	}
}

func (m *Memory) enqueue(s *memorySub, item queuedItem) {
	m.pending.Add(1)
	s.mu.Lock()
	s.queue = append(s.queue, item)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) dispatch(s *memorySub) {
	for range s.notify {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			item := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			switch {
			case item.stop:
				m.pending.Done()
				return
			case item.cancel:
				s.handler.OnCancelled(item.err)
				m.pending.Done()
				return
			default:
				s.handler.OnChildEvent(item.ev)
				m.pending.Done()
			}
		}
	}
}
