package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNumeric ValueKind = iota
	KindText
)

// Value is a metric value, either numeric or textual.
type Value struct {
	Kind ValueKind
	Num  float64
	Text string
}

// Num builds a numeric Value.
func Num(f float64) Value { return Value{Kind: KindNumeric, Num: f} }

// Text builds a textual Value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Float returns the numeric content. ok is false for text values and for NaN/Inf.
func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumeric || math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
		return 0, false
	}
	return v.Num, true
}

// Equal compares two values of the same kind.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindText {
		return v.Text == o.Text
	}
	return v.Num == o.Num
}

func (v Value) String() string {
	if v.Kind == KindText {
		return v.Text
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// MarshalJSON encodes numeric values as JSON numbers and text as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindText {
		return json.Marshal(v.Text)
	}
	if _, ok := v.Float(); !ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.Num)
}

// Float is a small helper for optional numeric fields.
func Float(f float64) *float64 { return &f }
