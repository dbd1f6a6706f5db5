package variable

import (
	"errors"
	"fmt"
	"sync"
)

// DataType tags a variable's value semantics and selects its codec.
type DataType string

const (
	TypeBoolean DataType = "boolean"
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeColor   DataType = "color"
)

var (
	ErrUnknownDataType = errors.New("unknown data type")
	ErrValueType       = errors.New("value has wrong type for codec")
)

// Codec converts a variable's runtime value to and from its storable form.
// The storable form must survive a JSON round trip, so numeric storable
// values are float64.
type Codec interface {
	ToStorable(runtime any) (any, error)
	ToRuntime(stored any) (any, error)
}

// CodecRegistry maps data type tags to codecs. Safe for concurrent use.
type CodecRegistry struct {
	mu     sync.RWMutex
	codecs map[DataType]Codec
}

// NewCodecRegistry returns a registry pre-populated with the built-in
// boolean, string, number and color codecs.
func NewCodecRegistry() *CodecRegistry {
	r := &CodecRegistry{codecs: make(map[DataType]Codec)}
	r.Register(TypeBoolean, boolCodec{})
	r.Register(TypeString, stringCodec{})
	r.Register(TypeNumber, numberCodec{})
	r.Register(TypeColor, colorCodec{})
	return r
}

func (r *CodecRegistry) Register(t DataType, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[t] = c
}

func (r *CodecRegistry) Lookup(t DataType) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[t]
	return c, ok
}

type boolCodec struct{}

func (boolCodec) ToStorable(runtime any) (any, error) {
	b, ok := runtime.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: want bool, got %T", ErrValueType, runtime)
	}
	return b, nil
}

func (boolCodec) ToRuntime(stored any) (any, error) {
	b, ok := stored.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: want bool, got %T", ErrValueType, stored)
	}
	return b, nil
}

type stringCodec struct{}

func (stringCodec) ToStorable(runtime any) (any, error) {
	s, ok := runtime.(string)
	if !ok {
		return nil, fmt.Errorf("%w: want string, got %T", ErrValueType, runtime)
	}
	return s, nil
}

func (stringCodec) ToRuntime(stored any) (any, error) {
	s, ok := stored.(string)
	if !ok {
		return nil, fmt.Errorf("%w: want string, got %T", ErrValueType, stored)
	}
	return s, nil
}

// numberCodec stores every numeric runtime value as float64, matching the
// type JSON decoding produces for numbers.
type numberCodec struct{}

func (numberCodec) ToStorable(runtime any) (any, error) {
	switch n := runtime.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return nil, fmt.Errorf("%w: want numeric, got %T", ErrValueType, runtime)
	}
}

func (numberCodec) ToRuntime(stored any) (any, error) {
	n, ok := stored.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: want float64, got %T", ErrValueType, stored)
	}
	return n, nil
}

// colorCodec stores a packed ARGB color (uint32) as float64.
type colorCodec struct{}

func (colorCodec) ToStorable(runtime any) (any, error) {
	switch c := runtime.(type) {
	case uint32:
		return float64(c), nil
	case int:
		return float64(uint32(c)), nil
	default:
		return nil, fmt.Errorf("%w: want uint32, got %T", ErrValueType, runtime)
	}
}

func (colorCodec) ToRuntime(stored any) (any, error) {
	n, ok := stored.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: want float64, got %T", ErrValueType, stored)
	}
	return uint32(n), nil
}
