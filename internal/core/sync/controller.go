// Package sync implements the controller that mirrors locally-owned
// variables into a remote store and reconciles remote edits back, with the
// local instance as the source of truth.
package sync

import (
	"fmt"
	stdsync "sync"
	"weak"

	"github.com/cespare/xxhash/v2"

	"github.com/remixsync/remixsync/internal/core/identity"
	"github.com/remixsync/remixsync/internal/core/mirror"
	"github.com/remixsync/remixsync/internal/core/observability/log"
	"github.com/remixsync/remixsync/internal/core/variable"
)

const namespaceFormat = "remixer/%s"

// Controller drives the remote mirror from registry events and reconciles
// inbound mirror events into the registry. It is the only component that
// touches both sides.
//
// One mutex serializes the session flag, the subscription handle, the
// tracked context, the shadow contents index and every outbound push; the
// registry's callback dispatch and the mirror's delivery goroutine both
// funnel through it. The tracked context is held weakly so the controller
// never extends a foreground scope's lifetime: a collected context behaves
// exactly like an explicitly removed one.
type Controller struct {
	registry *variable.Registry
	client   mirror.Client
	identity identity.Provider
	logger   log.Log

	mu       stdsync.Mutex
	remoteID string
	path     string
	syncing  bool
	sub      mirror.Subscription
	active   weak.Pointer[variable.Context]

	// contents shadows every remote entity known to this session, keyed by
	// variable key. Local state wins over anything that diverges from it.
	contents map[string]variable.StoredVariable

	// lastPushed holds the digest of the most recent payload pushed per
	// key, so byte-identical republications are skipped.
	lastPushed map[string]uint64
}

var (
	_ variable.Listener = (*Controller)(nil)
	_ mirror.Handler    = (*Controller)(nil)
)

// NewController wires a controller to its collaborators and registers it as
// a registry listener. The session starts idle; call StartSyncing to attach
// to the mirror.
func NewController(
	registry *variable.Registry,
	client mirror.Client,
	provider identity.Provider,
	logger log.Log,
) *Controller {
	if logger == nil {
		logger = log.Provide()
	}
	c := &Controller{
		registry:   registry,
		client:     client,
		identity:   provider,
		logger:     logger.With(log.String("component", "sync_controller")),
		contents:   make(map[string]variable.StoredVariable),
		lastPushed: make(map[string]uint64),
	}
	registry.AddListener(c)
	return c
}

// StartSyncing begins a session: the remote namespace is reset (its prior
// contents are stale by definition), the active context's variables are
// pushed, and the child-event subscription is attached. Safe to call
// repeatedly; a running session is restarted.
func (c *Controller) StartSyncing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remoteID == "" {
		id, err := c.identity.RemoteID()
		if err != nil {
			return fmt.Errorf("resolve remote id: %w", err)
		}
		c.remoteID = id
		c.path = fmt.Sprintf(namespaceFormat, id)
	}

	if c.sub != nil {
		if err := c.client.Unsubscribe(c.sub); err != nil {
			c.logger.Warn("detach previous subscription", log.Error(err))
		}
		c.sub = nil
	}

	if err := c.client.ReplaceNamespace(c.path); err != nil {
		c.logger.Warn("reset remote namespace", log.String("path", c.path), log.Error(err))
	}
	clear(c.lastPushed)
	c.syncing = true

	if ctx := c.active.Value(); ctx != nil {
		c.pushContext(ctx)
	}

	sub, err := c.client.Subscribe(c.path, c)
	if err != nil {
		// Same state as a cancelled subscription: syncing, detached.
		// Restart is a deliberate StartSyncing call.
		c.logger.Error("attach mirror subscription", log.String("path", c.path), log.Error(err))
		return fmt.Errorf("subscribe %s: %w", c.path, err)
	}
	c.sub = sub

	c.logger.Info("sync started", log.String("path", c.path))
	return nil
}

// StopSyncing detaches the subscription and clears the remote namespace.
// Idempotent; a no-op when idle.
func (c *Controller) StopSyncing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.syncing {
		return nil
	}
	c.syncing = false

	if c.sub != nil {
		if err := c.client.Unsubscribe(c.sub); err != nil {
			c.logger.Warn("detach subscription", log.Error(err))
		}
		c.sub = nil
	}
	if err := c.client.ClearNamespace(c.path); err != nil {
		c.logger.Warn("clear remote namespace", log.String("path", c.path), log.Error(err))
	}
	clear(c.lastPushed)

	c.logger.Info("sync stopped", log.String("path", c.path))
	return nil
}

// Syncing reports whether a session is active.
func (c *Controller) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing
}

// Namespace returns the remote namespace path, empty before the first
// session start.
func (c *Controller) Namespace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// OnAddingVariable records the newcomer in the shadow index and pushes it.
// A variable whose key is already tracked converges to the tracked value
// instead: same-key variables are one remote entity.
func (c *Controller) OnAddingVariable(v *variable.Variable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sv, ok := c.contents[v.Key()]; ok {
		c.applyStored(sv)
		if c.syncing {
			c.push(sv)
		}
		return
	}

	sv, err := c.registry.Snapshot(v)
	if err != nil {
		c.logger.Warn("snapshot variable", log.String("key", v.Key()), log.Error(err))
		return
	}
	c.contents[sv.Key] = sv
	if c.syncing {
		c.push(sv)
	}
}

// OnValueChanged republishes the full snapshot for the variable's key.
// Inbound reconciliation applies values through the registry's silent entry
// point, so it never arrives here; that is what breaks the echo loop.
func (c *Controller) OnValueChanged(v *variable.Variable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sv, err := c.registry.Snapshot(v)
	if err != nil {
		c.logger.Warn("snapshot variable", log.String("key", v.Key()), log.Error(err))
		return
	}
	c.contents[sv.Key] = sv
	if c.syncing {
		c.push(sv)
	}
}

// OnContextChanged replaces the mirrored set wholesale when the foreground
// context genuinely changes: contexts do not share keys predictably, so the
// new context's variables are a replacement set, not a diff.
func (c *Controller) OnContextChanged(ctx *variable.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active.Value() == ctx {
		return
	}
	c.setActive(ctx)

	if !c.syncing {
		return
	}
	c.clearRemote()
	if ctx != nil {
		c.pushContext(ctx)
	}
}

// OnContextRemoved clears the mirror when the tracked context goes away.
func (c *Controller) OnContextRemoved(ctx *variable.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx == nil || c.active.Value() != ctx {
		return
	}
	c.setActive(nil)
	if c.syncing {
		c.clearRemote()
	}
}

// OnChildEvent reconciles one inbound mirror event. Runs on the mirror
// client's delivery goroutine.
func (c *Controller) OnChildEvent(ev mirror.ChildEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.syncing {
		return
	}

	switch ev.Kind {
	case mirror.EventAdded:
		c.childAdded(ev)
	case mirror.EventChanged:
		c.childChanged(ev)
	case mirror.EventRemoved:
		// The local side never voluntarily loses a variable while its
		// context is active, so a remote removal is an anomaly. Local wins;
		// no corrective action.
		c.logger.Warn("remote entry removed unexpectedly", log.String("key", ev.Key()))
	case mirror.EventMoved:
		// Ordering has no meaning in a flat namespace.
		c.logger.Warn("remote entry moved unexpectedly", log.String("key", ev.Key()))
	}
}

// OnCancelled surfaces a dead subscription. Syncing is not restarted
// automatically; that is a deliberate StartSyncing call.
func (c *Controller) OnCancelled(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sub = nil
	c.logger.Error("mirror subscription cancelled", log.String("path", c.path), log.Error(err))
}

// childAdded adopts unknown keys into the shadow index. A key already
// present locally wins; the clash only warrants operator attention when it
// is neither the subscribe-time replay nor the store reflecting one of our
// own writes back at us.
func (c *Controller) childAdded(ev mirror.ChildEvent) {
	key := ev.Key()
	current, ok := c.contents[key]
	if !ok {
		c.contents[key] = ev.Entry
		return
	}
	switch {
	case ev.Replay:
		c.logger.Debug("replayed entry already tracked", log.String("key", key))
	case ev.Entry.Equal(current):
		c.logger.Debug("store reflected our own write", log.String("key", key))
	default:
		c.logger.Warn("remote added a key that exists locally, local value kept",
			log.String("key", key))
	}
}

// childChanged applies a remote edit to every local variable sharing the
// key, through the silent entry point so no outbound push is triggered.
func (c *Controller) childChanged(ev mirror.ChildEvent) {
	c.contents[ev.Key()] = ev.Entry
	c.applyStored(ev.Entry)
}

// applyStored decodes a snapshot and applies it to local variables without
// notifying peers. A missing codec fails closed for this key only.
func (c *Controller) applyStored(sv variable.StoredVariable) {
	codec, ok := c.registry.CodecFor(sv.DataType)
	if !ok {
		c.logger.Warn("no codec for remote value, skipping",
			log.String("key", sv.Key),
			log.String("data_type", string(sv.DataType)))
		return
	}
	value, err := codec.ToRuntime(sv.SelectedValue)
	if err != nil {
		c.logger.Warn("decode remote value, skipping",
			log.String("key", sv.Key), log.Error(err))
		return
	}
	c.registry.ApplyWithoutNotifying(sv.Key, value)
}

// pushContext snapshots and pushes every variable active in ctx. Lock held.
func (c *Controller) pushContext(ctx *variable.Context) {
	for _, v := range c.registry.VariablesInContext(ctx) {
		sv, err := c.registry.Snapshot(v)
		if err != nil {
			c.logger.Warn("snapshot variable", log.String("key", v.Key()), log.Error(err))
			continue
		}
		c.contents[sv.Key] = sv
		c.push(sv)
	}
}

// push writes one entry, skipping payloads identical to the last push for
// the key. Push failures are fire-and-forget. Lock held, syncing true.
func (c *Controller) push(sv variable.StoredVariable) {
	payload, err := sv.Encode()
	if err != nil {
		c.logger.Warn("encode snapshot", log.String("key", sv.Key), log.Error(err))
		return
	}
	digest := xxhash.Sum64(payload)
	if last, ok := c.lastPushed[sv.Key]; ok && last == digest {
		return
	}
	if err := c.client.SetEntry(c.path, sv.Key, sv); err != nil {
		c.logger.Warn("push entry", log.String("key", sv.Key), log.Error(err))
		return
	}
	c.lastPushed[sv.Key] = digest
}

// clearRemote wipes the namespace during a running session. Lock held.
func (c *Controller) clearRemote() {
	if err := c.client.ClearNamespace(c.path); err != nil {
		c.logger.Warn("clear remote namespace", log.String("path", c.path), log.Error(err))
	}
	clear(c.lastPushed)
}

func (c *Controller) setActive(ctx *variable.Context) {
	if ctx == nil {
		c.active = weak.Pointer[variable.Context]{}
		return
	}
	c.active = weak.Make(ctx)
}
