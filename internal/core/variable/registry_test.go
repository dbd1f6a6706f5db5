package variable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/remixsync/remixsync/internal/core/observability/log"
)

type recordingListener struct {
	added           []string
	changed         []string
	contextsChanged []*Context
	contextsRemoved []*Context
}

func (l *recordingListener) OnAddingVariable(v *Variable)  { l.added = append(l.added, v.Key()) }
func (l *recordingListener) OnValueChanged(v *Variable)    { l.changed = append(l.changed, v.Key()) }
func (l *recordingListener) OnContextChanged(ctx *Context) { l.contextsChanged = append(l.contextsChanged, ctx) }
func (l *recordingListener) OnContextRemoved(ctx *Context) { l.contextsRemoved = append(l.contextsRemoved, ctx) }

func TestRegistryDispatch(t *testing.T) {
	t.Run("add and value change reach listeners", func(t *testing.T) {
		r := NewRegistry(log.Nop())
		l := &recordingListener{}
		r.AddListener(l)

		ctx := NewContext("main")
		v := New("speed", TypeNumber, 10)
		r.Add(ctx, v)

		require.Equal(t, []string{"speed"}, l.added)

		v.SetValue(20)
		require.Equal(t, []string{"speed"}, l.changed)
		require.Equal(t, 20, v.Value())
	})

	t.Run("context change and removal reach listeners", func(t *testing.T) {
		r := NewRegistry(log.Nop())
		l := &recordingListener{}
		r.AddListener(l)

		ctx := NewContext("settings")
		r.NotifyContextChanged(ctx)
		require.Equal(t, []*Context{ctx}, l.contextsChanged)

		r.RemoveContext(ctx)
		require.Equal(t, []*Context{ctx}, l.contextsRemoved)
	})

	t.Run("removed listener stays silent", func(t *testing.T) {
		r := NewRegistry(log.Nop())
		l := &recordingListener{}
		r.AddListener(l)
		r.RemoveListener(l)

		r.Add(NewContext("main"), New("speed", TypeNumber, 10))
		require.Empty(t, l.added)
	})
}

func TestConcurrentAddAndSetValue(t *testing.T) {
	// SetValue races registration when another goroutine is still inside
	// Registry.Add; both sides must agree on the registry pointer's memory.
	r := NewRegistry(log.Nop())
	ctx := NewContext("main")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		v := New("speed", TypeNumber, i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Add(ctx, v)
		}()
		go func() {
			defer wg.Done()
			v.SetValue(100)
		}()
	}
	wg.Wait()

	require.Len(t, r.VariablesInContext(ctx), 32)
}

func TestApplyWithoutNotifying(t *testing.T) {
	r := NewRegistry(log.Nop())
	l := &recordingListener{}
	r.AddListener(l)

	ctxA := NewContext("a")
	ctxB := NewContext("b")
	va := New("title", TypeString, "hello")
	vb := New("title", TypeString, "hello")
	r.Add(ctxA, va)
	r.Add(ctxB, vb)

	var observed []any
	va.OnChange(func(newValue any) { observed = append(observed, newValue) })

	r.ApplyWithoutNotifying("title", "bye")

	require.Equal(t, "bye", va.Value())
	require.Equal(t, "bye", vb.Value())
	require.Equal(t, []any{"bye"}, observed, "the variable's own observer is not a peer")
	require.Empty(t, l.changed, "silent applies must not dispatch listeners")
}

func TestRegistryIndexes(t *testing.T) {
	r := NewRegistry(log.Nop())

	ctxA := NewContext("a")
	ctxB := NewContext("b")
	shared := New("shared", TypeBoolean, true)
	onlyA := New("only_a", TypeString, "x")
	sharedB := New("shared", TypeBoolean, true)
	r.Add(ctxA, shared)
	r.Add(ctxA, onlyA)
	r.Add(ctxB, sharedB)

	require.Len(t, r.VariablesInContext(ctxA), 2)
	require.Len(t, r.VariablesInContext(ctxB), 1)
	require.Len(t, r.VariablesWithKey("shared"), 2)

	r.RemoveContext(ctxA)
	require.Empty(t, r.VariablesInContext(ctxA))
	require.Len(t, r.VariablesWithKey("shared"), 1, "the other context's variable survives")
	require.Empty(t, r.VariablesWithKey("only_a"))
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry(log.Nop())
	v := New("timeout_ms", TypeNumber, 500)
	r.Add(NewContext("main"), v)

	sv, err := r.Snapshot(v)
	require.NoError(t, err)
	require.Equal(t, "timeout_ms", sv.Key)
	require.Equal(t, TypeNumber, sv.DataType)
	require.Equal(t, float64(500), sv.SelectedValue)

	_, err = r.Snapshot(New("odd", DataType("vector"), nil))
	require.ErrorIs(t, err, ErrUnknownDataType)
}
