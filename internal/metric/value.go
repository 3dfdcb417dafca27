// ABOUTME: Tagged-union metric value: scalar for gauge/counter, structured for histogram/timer.
// ABOUTME: Round-trips both JSON shapes and exposes a representative scalar for aggregation.

package metric

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Structured is the object form of a metric value, used by histogram and
// timer metrics. Value is required; the summary fields are optional.
type Structured struct {
	Value float64  `json:"value"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Avg   *float64 `json:"avg,omitempty"`
	Count *int64   `json:"count,omitempty"`
}

// Value holds either a plain scalar or a Structured object. Exactly one
// of the two is set for a well-formed value.
type Value struct {
	Scalar     *float64
	Structured *Structured
}

// ScalarValue builds a scalar Value.
func ScalarValue(v float64) Value {
	return Value{Scalar: &v}
}

// StructuredValue builds a structured Value.
func StructuredValue(s Structured) Value {
	return Value{Structured: &s}
}

// IsZero reports whether neither form is set.
func (v Value) IsZero() bool {
	return v.Scalar == nil && v.Structured == nil
}

// Representative returns the scalar to use when a plain number is needed
// downstream: the scalar itself, or the structured value's embedded value.
func (v Value) Representative() float64 {
	switch {
	case v.Scalar != nil:
		return *v.Scalar
	case v.Structured != nil:
		return v.Structured.Value
	default:
		return 0
	}
}

// MatchesType checks the value shape for a metric type: scalar for gauge/counter,
// structured (with a numeric value field) for histogram/timer.
func (v Value) MatchesType(t Type) error {
	if t.Scalar() {
		if v.Scalar == nil {
			return fmt.Errorf("%s value must be numeric", t)
		}
		return nil
	}
	if v.Structured == nil {
		return fmt.Errorf("%s value must be an object with a numeric value field", t)
	}
	return nil
}

// MarshalJSON emits the scalar as a bare number and the structured form
// as an object, matching the wire protocol.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Scalar != nil:
		return json.Marshal(*v.Scalar)
	case v.Structured != nil:
		return json.Marshal(*v.Structured)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts either a JSON number or an object carrying a
// numeric value field. Anything else is a shape error.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = Value{}

	// json.Unmarshal leaves a float64 untouched on literal null, which
	// would fabricate a zero datapoint.
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("metric value must be a number or an object")
	}

	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		v.Scalar = &scalar
		return nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("metric value must be a number or an object")
	}
	raw, ok := probe["value"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("structured metric value missing value field")
	}
	var inner float64
	if err := json.Unmarshal(raw, &inner); err != nil {
		return fmt.Errorf("structured metric value field must be numeric")
	}

	var s Structured
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing structured metric value: %w", err)
	}
	v.Structured = &s
	return nil
}
