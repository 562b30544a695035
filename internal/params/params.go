// Package params maps named sequencer controls onto the engine's integer
// parameter keys.
//
// The control table is closed. Key 6 belongs to the engine but no host
// control drives it, so it is never written.
package params

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownControl  = errors.New("unknown control")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidValue    = errors.New("invalid value")
)

// ValueKind declares how a raw control value is coerced to the engine's i32.
type ValueKind uint8

const (
	// Selector values pick one of a set of choices. Fractions are truncated.
	Selector ValueKind = iota + 1
	// Continuous values are quantities. Fractions are rounded and the result
	// is clamped into the control's range.
	Continuous
)

func (k ValueKind) String() string {
	switch k {
	case Selector:
		return "selector"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

type Control struct {
	Name    string
	Key     int32
	Kind    ValueKind
	Default float64
	Min     float64
	Max     float64
}

// ReservedKey is the gap in the key sequence.
const ReservedKey int32 = 6

var controls = []Control{
	{Name: "algo", Key: 0, Kind: Selector, Default: 0, Min: 0, Max: 20},
	{Name: "flow", Key: 1, Kind: Continuous, Default: 8, Min: 0, Max: 16},
	{Name: "ornament", Key: 2, Kind: Continuous, Default: 8, Min: 0, Max: 16},
	{Name: "power", Key: 3, Kind: Continuous, Default: 16, Min: 0, Max: 16},
	{Name: "glide", Key: 4, Kind: Continuous, Default: 0, Min: 0, Max: 100},
	{Name: "stepTrill", Key: 5, Kind: Continuous, Default: 0, Min: 0, Max: 100},
	{Name: "gateLength", Key: 7, Kind: Continuous, Default: 50, Min: 0, Max: 100},
	{Name: "gateOffset", Key: 8, Kind: Continuous, Default: 50, Min: 0, Max: 100},
}

// Controls returns the control table in write order.
func Controls() []Control {
	return append([]Control(nil), controls...)
}

// Lookup finds a control by name.
func Lookup(name string) (Control, bool) {
	for _, c := range controls {
		if c.Name == name {
			return c, true
		}
	}
	return Control{}, false
}

// Coerce converts a raw value to the engine's integer form.
func (c Control) Coerce(value float64) (int32, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %s=%v", ErrInvalidValue, c.Name, value)
	}
	switch c.Kind {
	case Selector:
		v := math.Trunc(value)
		if v < c.Min || v > c.Max {
			return 0, fmt.Errorf("%w: %s=%v range=[%v,%v]", ErrValueOutOfRange, c.Name, value, c.Min, c.Max)
		}
		return int32(v), nil
	case Continuous:
		v := math.Round(value)
		v = math.Max(c.Min, math.Min(c.Max, v))
		return int32(v), nil
	default:
		return 0, fmt.Errorf("%w: %s has kind %s", ErrInvalidValue, c.Name, c.Kind)
	}
}

// ParameterWrite is one setParameter call.
type ParameterWrite struct {
	Key   int32 `json:"key" yaml:"key" cbor:"key"`
	Value int32 `json:"value" yaml:"value" cbor:"value"`
}

// Sink receives parameter writes.
type Sink interface {
	SetParameter(ctx context.Context, key, value int32) error
}

// Encoder holds the current raw value of every control.
type Encoder struct {
	values map[string]float64
}

// NewEncoder builds an encoder from externally supplied values. Controls not
// named in values keep their defaults. Unknown names fail with
// ErrUnknownControl.
func NewEncoder(values map[string]float64) (*Encoder, error) {
	if err := ValidateNames(values); err != nil {
		return nil, err
	}
	e := &Encoder{values: make(map[string]float64, len(controls))}
	for _, c := range controls {
		e.values[c.Name] = c.Default
	}
	for name, v := range values {
		e.values[name] = v
	}
	return e, nil
}

// ValidateNames reports every name in values that is not a control.
func ValidateNames(values map[string]float64) error {
	var unknown []string
	for name := range values {
		if _, ok := Lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s", ErrUnknownControl, strings.Join(unknown, ","))
}

// Set replaces one control's raw value.
func (e *Encoder) Set(name string, value float64) error {
	if _, ok := Lookup(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownControl, name)
	}
	e.values[name] = value
	return nil
}

// Value returns the raw value currently held for name.
func (e *Encoder) Value(name string) (float64, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Values returns a copy of the raw values.
func (e *Encoder) Values() map[string]float64 {
	out := make(map[string]float64, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Writes returns one write per control in table order.
func (e *Encoder) Writes() ([]ParameterWrite, error) {
	out := make([]ParameterWrite, 0, len(controls))
	for _, c := range controls {
		v, err := c.Coerce(e.values[c.Name])
		if err != nil {
			return nil, err
		}
		out = append(out, ParameterWrite{Key: c.Key, Value: v})
	}
	return out, nil
}

// Apply sends every write to sink and returns once all have completed. No
// write is sent if any value fails to coerce.
func (e *Encoder) Apply(ctx context.Context, sink Sink) ([]ParameterWrite, error) {
	writes, err := e.Writes()
	if err != nil {
		return nil, err
	}
	for _, w := range writes {
		if err := sink.SetParameter(ctx, w.Key, w.Value); err != nil {
			return nil, fmt.Errorf("set parameter key=%d: %w", w.Key, err)
		}
	}
	return writes, nil
}

// ParseAssignment parses "name=value".
func ParseAssignment(s string) (string, float64, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	raw = strings.TrimSpace(raw)
	if !ok || name == "" || raw == "" {
		return "", 0, fmt.Errorf("%w: expected name=value, got %q", ErrInvalidValue, s)
	}
	if _, known := Lookup(name); !known {
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownControl, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, name, raw)
	}
	return name, v, nil
}
