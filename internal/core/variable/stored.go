package variable

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StoredVariable is the serializable snapshot of one variable: its key, its
// data type tag and its value in storable form. Snapshots are immutable; a
// new one is produced for every value change.
type StoredVariable struct {
	Key           string   `json:"key"`
	DataType      DataType `json:"dataType"`
	SelectedValue any      `json:"selectedValue"`
}

// Encode returns the canonical JSON form of the snapshot, used both on the
// wire and for change detection.
func (s StoredVariable) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Equal compares two snapshots by encoded payload.
func (s StoredVariable) Equal(other StoredVariable) bool {
	a, err := s.Encode()
	if err != nil {
		return false
	}
	b, err := other.Encode()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Snapshot produces a StoredVariable for v using the registry's codec for
// v's data type.
func (r *Registry) Snapshot(v *Variable) (StoredVariable, error) {
	codec, ok := r.codecs.Lookup(v.DataType())
	if !ok {
		return StoredVariable{}, fmt.Errorf("%w: %q", ErrUnknownDataType, v.DataType())
	}
	stored, err := codec.ToStorable(v.Value())
	if err != nil {
		return StoredVariable{}, fmt.Errorf("encode %q: %w", v.Key(), err)
	}
	return StoredVariable{
		Key:           v.Key(),
		DataType:      v.DataType(),
		SelectedValue: stored,
	}, nil
}
