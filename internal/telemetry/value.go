package telemetry

import (
	"encoding/json"
	"reflect"
	"strconv"
)

// ValueKind tags the content of a Value
type ValueKind uint8

const (
	KindAbsent ValueKind = iota
	KindNumber
	KindDiscrete
)

// Value is a metric value: absent, a number or a discrete string.
// Values are comparable with ==.
type Value struct {
	kind ValueKind
	num  float64
	text string
}

// Absent returns the "no reading" value
func Absent() Value { return Value{} }

// Number wraps a numeric reading
func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

// Discrete wraps a discrete reading
func Discrete(s string) Value { return Value{kind: KindDiscrete, text: s} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Float returns the numeric content, false when v is not a number
func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Text returns the discrete content, false when v is not discrete
func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindDiscrete
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindDiscrete:
		return v.text
	default:
		return "absent"
	}
}

// MarshalJSON encodes absent as null
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindDiscrete:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes null, numbers and strings
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Absent()
	case float64:
		*v = Number(x)
	case string:
		*v = Discrete(x)
	default:
		return &json.UnmarshalTypeError{Value: string(data), Type: reflect.TypeOf(*v)}
	}
	return nil
}

// Health of a resource as derived by health filling readers
type Health uint8

const (
	HealthUnset Health = iota
	HealthOK
	HealthWarning
	HealthCritical
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "OK"
	case HealthWarning:
		return "Warning"
	case HealthCritical:
		return "Critical"
	default:
		return ""
	}
}

// IsSet reports whether a health level was determined
func (h Health) IsSet() bool { return h != HealthUnset }
