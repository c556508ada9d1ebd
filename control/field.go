package control

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type fieldState uint8

const (
	unset fieldState = iota
	null
	present
)

// Field is an optional resource attribute. The zero value is unset and is left out of
// request bodies; Null produces an explicit JSON null, which clears the attribute on the server.
type Field[T any] struct {
	value T
	state fieldState
}

// Set returns a field holding v.
func Set[T any](v T) Field[T] {
	return Field[T]{value: v, state: present}
}

// Null returns a field that serializes as JSON null.
func Null[T any]() Field[T] {
	return Field[T]{state: null}
}

// IsSet reports whether the field holds a value.
func (f Field[T]) IsSet() bool { return f.state == present }

// IsNull reports whether the field is an explicit null.
func (f Field[T]) IsNull() bool { return f.state == null }

// Get returns the value and whether one is present.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == present
}

func (f Field[T]) fieldState() fieldState { return f.state }
func (f Field[T]) fieldValue() any      { return f.value }

type valuer interface {
	fieldState() fieldState
	fieldValue() any
}

type fieldMode uint8

const (
	// omitIfUnset fields are dropped when unset and may not be null.
	omitIfUnset fieldMode = iota
	// alwaysInclude fields must hold a value.
	alwaysInclude
	// nullable fields are dropped when unset and sent as null when null.
	nullable
)

type fieldSpec struct {
	name  string
	mode  fieldMode
	value valuer
}

// marshalFields writes a JSON object holding the fields in list order.
func marshalFields(record string, fields []fieldSpec) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	first := true
	for _, f := range fields {
		state := f.value.fieldState()

		switch {
		case state == unset && f.mode == alwaysInclude:
			return nil, fmt.Errorf("%s: field %q is required", record, f.name)
		case state == unset:
			continue
		case state == null && f.mode != nullable:
			return nil, fmt.Errorf("%s: field %q cannot be null", record, f.name)
		}

		if !first {
			b.WriteByte(',')
		}
		first = false

		name, _ := json.Marshal(f.name)
		b.Write(name)
		b.WriteByte(':')

		if state == null {
			b.WriteString("null")
			continue
		}
		v, err := json.Marshal(f.value.fieldValue())
		if err != nil {
			return nil, fmt.Errorf("%s: field %q: %w", record, f.name, err)
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
