package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"audittrail/internal/models"
)

// Value is the canonical JSON text of one field value. Two values are equal
// exactly when their bytes are equal: object keys are sorted, numbers keep
// their literal form and HTML characters are not escaped.
type Value []byte

var (
	NullValue           = Value("null")
	RedactedValue       = Value(`"*****"`)
	UnserializableValue = Value(`"[unserializable]"`)
)

var errUnserializable = errors.New("value cannot be serialized")

// IsEmpty reports whether v holds no meaningful data. Zero numbers and false
// are real values and are not empty.
func (v Value) IsEmpty() bool {
	switch string(v) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

func (v Value) Equal(other Value) bool {
	if len(v) == 0 {
		v = NullValue
	}
	if len(other) == 0 {
		other = NullValue
	}
	return bytes.Equal(v, other)
}

func (v Value) String() string {
	if len(v) == 0 {
		return string(NullValue)
	}
	return string(v)
}

// JSON copies v into a column value.
func (v Value) JSON() models.ChangeValue {
	if len(v) == 0 {
		return models.ChangeValue(NullValue)
	}
	return models.ChangeValue(append([]byte(nil), v...))
}

// Serialize renders v canonically. It never fails: values that cannot be
// represented (cycles, channels, functions, NaN, panicking marshalers) come
// back as UnserializableValue.
func Serialize(v any) Value {
	val, _ := serialize(v)
	return val
}

func serialize(v any) (val Value, err error) {
	if v == nil {
		return NullValue, nil
	}
	defer func() {
		if r := recover(); r != nil {
			val = UnserializableValue
			err = fmt.Errorf("%w: panic: %v", errUnserializable, r)
		}
	}()

	raw, err := marshal(v)
	if err != nil {
		return UnserializableValue, fmt.Errorf("%w: %v", errUnserializable, err)
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return UnserializableValue, fmt.Errorf("%w: %v", errUnserializable, err)
	}
	return Value(canon), nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// canonicalize round-trips raw through a generic tree so that custom
// marshalers with unordered output still compare equal.
func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return marshal(tree)
}
