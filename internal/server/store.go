// Package server implements the remix hub: the shared store that remote
// controller UIs and syncing apps meet at. It speaks the mirror frame
// protocol over WebSocket and QUIC.
package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/remixsync/remixsync/internal/core/mirror"
	"github.com/remixsync/remixsync/internal/core/observability/log"
	"github.com/remixsync/remixsync/internal/core/variable"
)

var (
	ErrDuplicateSubID = errors.New("subscription id already in use")
	ErrMissingEntry   = errors.New("set frame without entry")
)

// Store holds the hub's namespaces and fans child events out to
// subscribers. Delivery runs in the mutating goroutine; connection
// handlers serialize their writes, so delivery order per subscriber follows
// mutation order.
type Store struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	subs       map[string]*subscriber
	logger     log.Log
}

type namespace struct {
	entries map[string]variable.StoredVariable
	order   []string
}

type subscriber struct {
	subID string
	path  string
	send  func(mirror.Frame)
}

func NewStore(logger log.Log) *Store {
	if logger == nil {
		logger = log.Provide()
	}
	return &Store{
		namespaces: make(map[string]*namespace),
		subs:       make(map[string]*subscriber),
		logger:     logger.With(log.String("component", "hub_store")),
	}
}

// Handle applies one request frame from a connection. send delivers event
// frames back to that connection's subscriptions.
func (s *Store) Handle(f mirror.Frame, send func(mirror.Frame)) error {
	switch f.Op {
	case mirror.OpSet:
		if f.Entry == nil {
			return ErrMissingEntry
		}
		s.SetEntry(f.Path, *f.Entry)
		return nil
	case mirror.OpRemove:
		s.RemoveEntry(f.Path, f.Key)
		return nil
	case mirror.OpClear, mirror.OpReplace:
		s.Clear(f.Path)
		return nil
	case mirror.OpSubscribe:
		return s.Subscribe(f.Path, f.SubID, send)
	case mirror.OpUnsubscribe:
		s.Unsubscribe(f.SubID)
		return nil
	default:
		return fmt.Errorf("unsupported op %q", f.Op)
	}
}

// SetEntry creates or overwrites an entry and announces it.
func (s *Store) SetEntry(path string, entry variable.StoredVariable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(path)
	_, existed := ns.entries[entry.Key]
	ns.entries[entry.Key] = entry
	if !existed {
		ns.order = append(ns.order, entry.Key)
	}

	kind := mirror.EventAdded
	if existed {
		kind = mirror.EventChanged
	}
	s.fanOut(path, mirror.ChildEvent{Kind: kind, Entry: entry})
}

// RemoveEntry deletes an entry and announces the removal. Syncing apps
// treat this as an anomaly; it exists for controller UIs.
func (s *Store) RemoveEntry(path, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespace(path)
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
	s.fanOut(path, mirror.ChildEvent{Kind: mirror.EventRemoved, Entry: entry})
}

// Clear wipes a namespace without emitting child events; whole-namespace
// resets are not child-level changes.
func (s *Store) Clear(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, path)
}

// Subscribe attaches a subscriber and replays current entries as added
// events with the replay flag set.
func (s *Store) Subscribe(path, subID string, send func(mirror.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[subID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSubID, subID)
	}
	s.subs[subID] = &subscriber{subID: subID, path: path, send: send}

	ns := s.namespace(path)
	for _, key := range ns.order {
		if entry, ok := ns.entries[key]; ok {
			send(mirror.EventFrame(subID, path, mirror.ChildEvent{
				Kind:   mirror.EventAdded,
				Entry:  entry,
				Replay: true,
			}))
		}
	}
	return nil
}

func (s *Store) Unsubscribe(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, subID)
}

// Drop detaches a set of subscriptions, used when a connection goes away.
func (s *Store) Drop(subIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range subIDs {
		delete(s.subs, id)
	}
}

// Entries returns a copy of a namespace's contents, for tests and
// inspection endpoints.
func (s *Store) Entries(path string) map[string]variable.StoredVariable {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]variable.StoredVariable)
	if ns, ok := s.namespaces[path]; ok {
		for k, v := range ns.entries {
			out[k] = v
		}
	}
	return out
}

// namespace must be called with s.mu held.
func (s *Store) namespace(path string) *namespace {
	ns, ok := s.namespaces[path]
	if !ok {
		ns = &namespace{entries: make(map[string]variable.StoredVariable)}
		s.namespaces[path] = ns
	}
	return ns
}

// fanOut must be called with s.mu held.
func (s *Store) fanOut(path string, ev mirror.ChildEvent) {
	for _, sub := range s.subs {
		if sub.path == path {
			sub.send(mirror.EventFrame(sub.subID, path, ev))
		}
	}
}
