package variable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	reg := NewCodecRegistry()

	t.Run("number accepts ints and stores float64", func(t *testing.T) {
		codec, ok := reg.Lookup(TypeNumber)
		require.True(t, ok)

		stored, err := codec.ToStorable(500)
		require.NoError(t, err)
		require.Equal(t, float64(500), stored)

		runtime, err := codec.ToRuntime(stored)
		require.NoError(t, err)
		require.Equal(t, float64(500), runtime)

		_, err = codec.ToStorable("not a number")
		require.ErrorIs(t, err, ErrValueType)
	})

	t.Run("color packs ARGB through float64", func(t *testing.T) {
		codec, ok := reg.Lookup(TypeColor)
		require.True(t, ok)

		stored, err := codec.ToStorable(uint32(0xFF00FF00))
		require.NoError(t, err)

		runtime, err := codec.ToRuntime(stored)
		require.NoError(t, err)
		require.Equal(t, uint32(0xFF00FF00), runtime)
	})

	t.Run("bool and string reject mismatched values", func(t *testing.T) {
		boolC, _ := reg.Lookup(TypeBoolean)
		_, err := boolC.ToRuntime(float64(1))
		require.ErrorIs(t, err, ErrValueType)

		strC, _ := reg.Lookup(TypeString)
		_, err = strC.ToStorable(42)
		require.ErrorIs(t, err, ErrValueType)
	})

	t.Run("custom codec registration", func(t *testing.T) {
		reg.Register(DataType("custom"), stringCodec{})
		_, ok := reg.Lookup(DataType("custom"))
		require.True(t, ok)

		_, ok = reg.Lookup(DataType("missing"))
		require.False(t, ok)
	})
}

func TestStoredVariableEncode(t *testing.T) {
	a := StoredVariable{Key: "k", DataType: TypeNumber, SelectedValue: float64(1)}
	b := StoredVariable{Key: "k", DataType: TypeNumber, SelectedValue: float64(1)}
	c := StoredVariable{Key: "k", DataType: TypeNumber, SelectedValue: float64(2)}

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))

	payload, err := a.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"key":"k","dataType":"number","selectedValue":1}`, string(payload))
}
