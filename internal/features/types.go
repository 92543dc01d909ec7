// Package features defines the feature vector contract shared between the
// extraction pipeline and the classifier that consumes it.
package features

import (
	"fmt"
	"strings"
)

// Indicator is a two-valued heuristic signal.
type Indicator int8

const (
	// Benign marks a negative, benign, or unknown signal. It is also the
	// sentinel fallback for any signal that could not be computed.
	Benign Indicator = -1
	// Suspicious marks a positive signal.
	Suspicious Indicator = 1
)

// Flag maps a condition to Suspicious when it holds and Benign otherwise.
func Flag(cond bool) Indicator {
	if cond {
		return Suspicious
	}
	return Benign
}

// Valid reports whether the indicator is one of the two encoded values.
func (i Indicator) Valid() bool {
	return i == Benign || i == Suspicious
}

// Result is a single computed slot: either a value or the error that kept it
// from being computed.
type Result struct {
	Value Indicator
	Err   error
}

// OK wraps a computed indicator.
func OK(v Indicator) Result {
	return Result{Value: v}
}

// Failed wraps an error. The slot collapses to Benign at the boundary.
func Failed(err error) Result {
	return Result{Value: Benign, Err: err}
}

// Indicator collapses the result to the value that goes into a vector.
func (r Result) Indicator() Indicator {
	if r.Err != nil || !r.Value.Valid() {
		return Benign
	}
	return r.Value
}

// Signals is the ordered output of one pipeline stage.
type Signals []Result

// FailedSignals returns n results that all carry err.
func FailedSignals(n int, err error) Signals {
	out := make(Signals, n)
	for i := range out {
		out[i] = Failed(err)
	}
	return out
}

// Indicators collapses every result to its vector value.
func (s Signals) Indicators() []Indicator {
	out := make([]Indicator, len(s))
	for i, r := range s {
		out[i] = r.Indicator()
	}
	return out
}

// Errors returns the number of results that carry an error.
func (s Signals) Errors() int {
	n := 0
	for _, r := range s {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Vector is the fixed-length, fixed-order output of one extraction.
type Vector []Indicator

// Ints returns the vector as plain integers for serialization.
func (v Vector) Ints() []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

// String renders the vector as a comma separated list.
func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ",")
}

// Named pairs each value with its slot name. Slots beyond the shorter of the
// two are dropped.
func (v Vector) Named(spec Spec) []NamedValue {
	n := min(len(v), spec.Len())
	out := make([]NamedValue, n)
	for i := 0; i < n; i++ {
		out[i] = NamedValue{Name: spec.Name(i), Value: v[i]}
	}
	return out
}

// NamedValue is one slot of a vector with its manifest name.
type NamedValue struct {
	Name  string    `json:"name" yaml:"name"`
	Value Indicator `json:"value" yaml:"value"`
}

// Fit right-pads with Benign or truncates from the right so the returned
// vector has exactly n slots.
func Fit(values []Indicator, n int) Vector {
	if n < 0 {
		n = 0
	}
	out := make(Vector, n)
	for i := range out {
		if i < len(values) && values[i].Valid() {
			out[i] = values[i]
		} else {
			out[i] = Benign
		}
	}
	return out
}

// Filled returns a vector of n Benign values.
func Filled(n int) Vector {
	return Fit(nil, n)
}
