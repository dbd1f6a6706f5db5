package variable

import (
	"sync"
	"sync/atomic"
)

// Context is a scope (e.g. a foreground screen) that determines which
// variables are currently relevant. The registry keys contexts by pointer
// identity; the name exists only for logs.
type Context struct {
	name string
}

func NewContext(name string) *Context {
	return &Context{name: name}
}

func (c *Context) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Variable is a named, typed, runtime-mutable value exposed for external
// control. Keys are unique within a context's active set but not globally:
// two variables sharing a key are treated as the same remote entity.
type Variable struct {
	key      string
	dataType DataType

	mu    sync.RWMutex
	value any

	onChange atomic.Pointer[func(newValue any)]

	// registry is set once by Registry.Add; reads and the write share v.mu.
	registry *Registry
}

func New(key string, dataType DataType, initialValue any) *Variable {
	return &Variable{
		key:      key,
		dataType: dataType,
		value:    initialValue,
	}
}

func (v *Variable) Key() string        { return v.key }
func (v *Variable) DataType() DataType { return v.dataType }

func (v *Variable) Value() any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// OnChange registers an observer run on every applied value, including
// silent applies. The variable's own observer is not a peer in the sense of
// ApplyWithoutNotifying.
func (v *Variable) OnChange(fn func(newValue any)) {
	v.onChange.Store(&fn)
}

// SetValue applies the value and notifies the owning registry's listeners.
// A variable not yet added to a registry just applies the value.
func (v *Variable) SetValue(value any) {
	v.apply(value)
	v.mu.RLock()
	r := v.registry
	v.mu.RUnlock()
	if r != nil {
		r.notifyValueChanged(v)
	}
}

// setSilently applies the value and runs the variable's own observer but
// does not dispatch registry listeners.
func (v *Variable) setSilently(value any) {
	v.apply(value)
}

func (v *Variable) apply(value any) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()
	if fn := v.onChange.Load(); fn != nil {
		(*fn)(value)
	}
}
