package mirror

import "github.com/remixsync/remixsync/internal/core/variable"

// Frame is one message of the wire protocol the WebSocket and QUIC clients
// speak with a remix hub. Requests flow client-to-hub, "event" and "cancel"
// frames flow hub-to-client.
type Frame struct {
	Op     string                   `json:"op"`
	Path   string                   `json:"path,omitempty"`
	Key    string                   `json:"key,omitempty"`
	SubID  string                   `json:"subId,omitempty"`
	Kind   string                   `json:"kind,omitempty"`
	Replay bool                     `json:"replay,omitempty"`
	Entry  *variable.StoredVariable `json:"entry,omitempty"`
	Reason string                   `json:"reason,omitempty"`
}

const (
	OpSet         = "set"
	OpClear       = "clear"
	OpReplace     = "replace"
	OpRemove      = "remove"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpEvent       = "event"
	OpCancel      = "cancel"
)

// KindFromString maps a wire kind to an EventKind.
func KindFromString(s string) (EventKind, bool) {
	switch s {
	case "added":
		return EventAdded, true
	case "changed":
		return EventChanged, true
	case "removed":
		return EventRemoved, true
	case "moved":
		return EventMoved, true
	default:
		return 0, false
	}
}

// EventFrame builds the wire form of a child event for a subscription.
func EventFrame(subID, path string, ev ChildEvent) Frame {
	entry := ev.Entry
	return Frame{
		Op:     OpEvent,
		Path:   path,
		Key:    entry.Key,
		SubID:  subID,
		Kind:   ev.Kind.String(),
		Replay: ev.Replay,
		Entry:  &entry,
	}
}

// eventFromFrame reverses EventFrame.
func eventFromFrame(f Frame) (ChildEvent, bool) {
	kind, ok := KindFromString(f.Kind)
	if !ok {
		return ChildEvent{}, false
	}
	ev := ChildEvent{Kind: kind, Replay: f.Replay}
	if f.Entry != nil {
		ev.Entry = *f.Entry
	} else {
		ev.Entry = variable.StoredVariable{Key: f.Key}
	}
	return ev, true
}
