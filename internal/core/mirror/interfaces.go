// Package mirror abstracts the remote shared store the sync controller
// mirrors variables into. The store is a set of flat namespaces
// ("remixer/<remoteId>") holding one entry per variable key, with a
// child-level event subscription per namespace.
package mirror

import (
	"errors"

	"github.com/remixsync/remixsync/internal/core/variable"
)

var (
	ErrClientClosed        = errors.New("mirror client is closed")
	ErrUnknownSubscription = errors.New("unknown subscription")
)

type EventKind uint8

const (
	EventAdded EventKind = iota
	EventChanged
	EventRemoved
	EventMoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	case EventMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// ChildEvent is one ordered child-level change within a namespace. Replay
// marks events synthesized from the namespace's existing entries at
// subscribe time, so consumers can tell startup races from steady-state
// anomalies.
type ChildEvent struct {
	Kind   EventKind
	Entry  variable.StoredVariable
	Replay bool
}

// Key returns the entry key the event refers to.
func (e ChildEvent) Key() string {
	return e.Entry.Key
}

// Handler consumes a subscription's event stream. Implementations are
// called from a client-owned goroutine, never from the goroutine that
// invoked Subscribe, so a handler may hold locks that are also held around
// client calls. OnCancelled is terminal: no events follow it.
type Handler interface {
	OnChildEvent(ev ChildEvent)
	OnCancelled(err error)
}

// Subscription is a handle for one attached namespace listener.
type Subscription interface {
	ID() string
	Path() string
}

// Client is the opaque remote mirror store. All methods are safe for
// concurrent use.
type Client interface {
	// ReplaceNamespace atomically resets a namespace to empty. It is the
	// start-of-session operation; implementations may treat it exactly as
	// ClearNamespace.
	ReplaceNamespace(path string) error
	// SetEntry creates or overwrites one entry. Overwrite semantics: the
	// remote value is always the latest local snapshot, never a merge.
	SetEntry(path, key string, entry variable.StoredVariable) error
	// ClearNamespace removes every entry in a namespace.
	ClearNamespace(path string) error
	// Subscribe attaches a handler to a namespace's child events. Existing
	// entries are delivered first as Added events with Replay set.
	Subscribe(path string, h Handler) (Subscription, error)
	// Unsubscribe detaches a subscription. Detaching an already-detached
	// subscription returns ErrUnknownSubscription.
	Unsubscribe(sub Subscription) error
}
