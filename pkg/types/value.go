// Package types defines the tagged value union and the per-field type
// descriptors shared by the query and store packages. A descriptor knows how
// to parse, format, normalize and encode values of one field; the Value union
// replaces dynamic typing with an explicit kind tag.
package types

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the payload carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBytes
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	}
	return "unknown"
}

// Value is an immutable tagged union. The zero Value is null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
	l    []Value
}

func Null() Value              { return Value{} }
func Int(v int64) Value        { return Value{kind: KindInteger, i: v} }
func Float(v float64) Value    { return Value{kind: KindFloat, f: v} }
func Text(s string) Value      { return Value{kind: KindText, s: s} }
func Blob(b []byte) Value      { return Value{kind: KindBytes, b: b} }
func List(vs ...Value) Value   { return Value{kind: KindList, l: vs} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer payload, truncating a float payload.
// Non-numeric values yield 0.
func (v Value) Int64() int64 {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return int64(v.f)
	}
	return 0
}

// Float64 returns the numeric payload as a float. Non-numeric values yield 0.
func (v Value) Float64() float64 {
	switch v.kind {
	case KindInteger:
		return float64(v.i)
	case KindFloat:
		return v.f
	}
	return 0
}

// Str returns the text payload; non-text values yield "".
func (v Value) Str() string {
	if v.kind == KindText {
		return v.s
	}
	return ""
}

// Bytes returns the bytes payload; non-bytes values yield nil.
func (v Value) Bytes() []byte {
	if v.kind == KindBytes {
		return v.b
	}
	return nil
}

// Items returns the list payload; non-list values yield nil.
func (v Value) Items() []Value {
	if v.kind == KindList {
		return v.l
	}
	return nil
}

func (v Value) numeric() bool {
	return v.kind == KindInteger || v.kind == KindFloat
}

// Equal reports exact equality, with integers and floats comparing
// numerically across kinds.
func (v Value) Equal(o Value) bool {
	if v.numeric() && o.numeric() {
		return v.Float64() == o.Float64()
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindText:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare is a total order over values: null sorts before everything,
// numeric kinds compare numerically, mismatched kinds compare by kind tag.
func (v Value) Compare(o Value) int {
	if v.kind == KindNull || o.kind == KindNull {
		switch {
		case v.kind == o.kind:
			return 0
		case v.kind == KindNull:
			return -1
		default:
			return 1
		}
	}
	if v.numeric() && o.numeric() {
		a, b := v.Float64(), o.Float64()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindText:
		return strings.Compare(v.s, o.s)
	case KindBytes:
		return bytes.Compare(v.b, o.b)
	case KindList:
		for i := 0; i < len(v.l) && i < len(o.l); i++ {
			if c := v.l[i].Compare(o.l[i]); c != 0 {
				return c
			}
		}
		return len(v.l) - len(o.l)
	}
	return 0
}

// String renders the payload for debugging; descriptors own user-facing
// formatting.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBytes:
		return string(v.b)
	case KindList:
		parts := make([]string, len(v.l))
		for i, item := range v.l {
			parts[i] = item.String()
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Sprintf("value(%d)", v.kind)
}
