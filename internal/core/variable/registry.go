package variable

import (
	"sync"

	"github.com/remixsync/remixsync/internal/core/observability/log"
)

// Listener receives registry events. Dispatch is synchronous in the
// goroutine that caused the event; listeners that need isolation must
// offload themselves.
type Listener interface {
	OnAddingVariable(v *Variable)
	OnValueChanged(v *Variable)
	OnContextChanged(ctx *Context)
	OnContextRemoved(ctx *Context)
}

// Registry indexes variables by context and by key and fans registry events
// out to listeners. It never calls listeners while holding its own lock, so
// listeners are free to call back into the registry.
type Registry struct {
	mu        sync.RWMutex
	byContext map[*Context][]*Variable
	byKey     map[string][]*Variable
	listeners []Listener

	codecs *CodecRegistry
	logger log.Log
}

func NewRegistry(logger log.Log) *Registry {
	if logger == nil {
		logger = log.Provide()
	}
	return &Registry{
		byContext: make(map[*Context][]*Variable),
		byKey:     make(map[string][]*Variable),
		codecs:    NewCodecRegistry(),
		logger:    logger.With(log.String("component", "variable_registry")),
	}
}

// Codecs exposes the codec registry so callers can register custom types.
func (r *Registry) Codecs() *CodecRegistry {
	return r.codecs
}

// CodecFor resolves the codec registered for a data type tag.
func (r *Registry) CodecFor(t DataType) (Codec, bool) {
	return r.codecs.Lookup(t)
}

func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) RemoveListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Add registers a variable under a context and announces it to listeners.
func (r *Registry) Add(ctx *Context, v *Variable) {
	v.mu.Lock()
	v.registry = r
	v.mu.Unlock()

	r.mu.Lock()
	r.byContext[ctx] = append(r.byContext[ctx], v)
	r.byKey[v.Key()] = append(r.byKey[v.Key()], v)
	r.mu.Unlock()

	r.logger.Debug("variable added",
		log.String("key", v.Key()),
		log.String("context", ctx.Name()))

	for _, l := range r.snapshotListeners() {
		l.OnAddingVariable(v)
	}
}

// VariablesInContext returns the variables active for a context.
func (r *Registry) VariablesInContext(ctx *Context) []*Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vars := r.byContext[ctx]
	out := make([]*Variable, len(vars))
	copy(out, vars)
	return out
}

// VariablesWithKey returns every variable sharing a key, across contexts.
func (r *Registry) VariablesWithKey(key string) []*Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vars := r.byKey[key]
	out := make([]*Variable, len(vars))
	copy(out, vars)
	return out
}

// ApplyWithoutNotifying applies a runtime value to every variable sharing a
// key without dispatching OnValueChanged. Each variable's own OnChange
// observer still runs. This is the entry point reconciliation uses to avoid
// echoing inbound changes back out.
func (r *Registry) ApplyWithoutNotifying(key string, value any) {
	for _, v := range r.VariablesWithKey(key) {
		v.setSilently(value)
	}
}

// NotifyContextChanged announces the now-active context to listeners.
func (r *Registry) NotifyContextChanged(ctx *Context) {
	for _, l := range r.snapshotListeners() {
		l.OnContextChanged(ctx)
	}
}

// RemoveContext drops a context and its variables from the indexes and
// announces the removal.
func (r *Registry) RemoveContext(ctx *Context) {
	r.mu.Lock()
	removed := r.byContext[ctx]
	delete(r.byContext, ctx)
	for _, v := range removed {
		peers := r.byKey[v.Key()]
		for i, p := range peers {
			if p == v {
				peers = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		if len(peers) == 0 {
			delete(r.byKey, v.Key())
		} else {
			r.byKey[v.Key()] = peers
		}
	}
	r.mu.Unlock()

	for _, l := range r.snapshotListeners() {
		l.OnContextRemoved(ctx)
	}
}

func (r *Registry) notifyValueChanged(v *Variable) {
	for _, l := range r.snapshotListeners() {
		l.OnValueChanged(v)
	}
}

func (r *Registry) snapshotListeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}
