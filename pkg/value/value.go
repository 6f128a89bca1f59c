// Package value implements smog's tagged runtime value representation.
//
// A Value is a small tagged union: nil, bool, number (float64), or a
// reference to a heap object. Keeping the tag explicit (rather than using
// Go's interface{}) lets the garbage collector in pkg/heap walk every
// reachable Value without type-switching on an opaque interface, and lets
// the VM dispatch loop stay independent of how objects are represented
// underneath.
package value

import (
	"fmt"
	"math"
)

// Kind tags which variant a Value holds.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

// Obj is the interface every heap-allocated object implements. Concrete
// object types live in pkg/heap (String, Function, Native, Closure, Upvalue,
// Class, Instance, BoundMethod) so that the heap package owns allocation and
// GC bookkeeping; pkg/value only needs to hold and compare references.
type Obj interface {
	// ObjKind returns a human-readable type name, used for printing and
	// error messages ("string", "function", "class", ...).
	ObjKind() string
}

// Value is a tagged union over Nil, Bool, Number, and Obj.
type Value struct {
	kind Kind
	b    bool
	n    float64
	o    Obj
}

// Nil is the singleton nil value.
var Nil = Value{kind: KindNil}

// Bool wraps a boolean into a Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64 into a Value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// FromObj wraps a heap object reference into a Value.
func FromObj(o Obj) Value { return Value{kind: KindObj, o: o} }

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsBool reports whether v holds a boolean.
func (v Value) IsBool() bool { return v.kind == KindBool }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// IsObj reports whether v holds a heap object reference.
func (v Value) IsObj() bool { return v.kind == KindObj }

// AsBool returns the boolean payload; callers must check IsBool first.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the numeric payload; callers must check IsNumber first.
func (v Value) AsNumber() float64 { return v.n }

// AsObj returns the object payload; callers must check IsObj first.
func (v Value) AsObj() Obj { return v.o }

// IsFalsey implements truthiness: only nil and false are falsey, everything
// else (including 0 and the empty string) is truthy.
func (v Value) IsFalsey() bool {
	return v.kind == KindNil || (v.kind == KindBool && !v.b)
}

// Equal implements value equality. Values of different kinds are never
// equal. Numbers compare by IEEE-754 equality (so NaN != NaN). Objects
// compare by identity: strings are equal only when interned to the same
// reference, and all other heap objects compare by reference as well.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindObj:
		return a.o == b.o
	default:
		return false
	}
}

// String renders a Value using smog's canonical print format: numbers drop
// a trailing ".0" when they represent a whole value, strings print without
// quotes, nil prints "nil", and objects format according to their own
// ObjKind-specific Stringer (handled by pkg/heap's object types, which
// implement fmt.Stringer).
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.n)
	case KindObj:
		if s, ok := v.o.(fmt.Stringer); ok {
			return s.String()
		}
		return v.o.ObjKind()
	default:
		return "<invalid value>"
	}
}

func formatNumber(n float64) string {
	if math.IsNaN(n) {
		return "nan"
	}
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%.0f", n)
	}
	return fmt.Sprintf("%g", n)
}

// TypeName returns a human-readable name for v's runtime type, used in
// runtime type-error messages.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindObj:
		return v.o.ObjKind()
	default:
		return "unknown"
	}
}
