package heap

import (
	"fmt"

	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
)

// heapObject is the internal interface every allocated object satisfies: a
// marked bit for tracing and an intrusive next-link threading every live
// object into the sweep list (spec.md §3 "Object header"). It is unexported
// because only the heap package constructs and links these objects.
type heapObject interface {
	value.Obj
	isMarked() bool
	setMarked(bool)
	nextObj() heapObject
	setNextObj(heapObject)
}

// objHeader is embedded by every concrete heap object type to supply the
// marked bit and sweep-list link without repeating the bookkeeping in each
// type.
type objHeader struct {
	marked bool
	next   heapObject
}

func (h *objHeader) isMarked() bool         { return h.marked }
func (h *objHeader) setMarked(m bool)       { h.marked = m }
func (h *objHeader) nextObj() heapObject    { return h.next }
func (h *objHeader) setNextObj(n heapObject) { h.next = n }

// String is an interned byte sequence. At most one live String exists per
// distinct byte sequence (spec.md §8 invariant 2); equality between Values
// holding strings is therefore pointer equality.
type String struct {
	objHeader
	Chars string
	hash  uint32
}

func (s *String) ObjKind() string { return "string" }
func (s *String) String() string  { return s.Chars }
func (s *String) Hash() uint32    { return s.hash } // satisfies table.Key

// Chunk is the bytecode, line-number table, and constant pool for one
// compiled function (spec.md §3 "Chunk invariants"). Code is append-only
// during compilation; once handed to the VM it is immutable.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []value.Value
}

// Write appends one byte of bytecode and its source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// AddConstant appends v to the constant pool and returns its index. Callers
// are responsible for enforcing the 256-entry cap (spec.md §3).
func (c *Chunk) AddConstant(v value.Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Function is a compiled smog function: its arity, how many upvalues its
// closures capture, an optional name (nil for the implicit top-level
// script), and its chunk.
type Function struct {
	objHeader
	Name         *String
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
}

func (f *Function) ObjKind() string { return "function" }
func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// NativeFn is a host-provided function exposed to smog code (spec.md §6
// "Native-function registry").
type NativeFn func(args []value.Value) (value.Value, error)

// Native wraps a host function so it can be stored in a Value and invoked
// by the VM's CALL handler.
type Native struct {
	objHeader
	Name string
	Fn   NativeFn
}

func (n *Native) ObjKind() string { return "native function" }
func (n *Native) String() string  { return fmt.Sprintf("<native fn %s>", n.Name) }

// Upvalue is an indirection capturing a variable from an enclosing
// function. An open upvalue points at a live stack slot; once that slot is
// about to be discarded, the upvalue is closed: Location is redirected to
// closed and Closed holds the hoisted value (spec.md §3, §9 "Upvalue
// closing").
type Upvalue struct {
	objHeader
	Location *value.Value
	Closed   value.Value
	// StackIndex is the absolute stack slot Location points into. It is
	// meaningful only while the upvalue is open; the VM uses it to keep its
	// open-upvalue list ordered by strictly decreasing stack address without
	// comparing raw pointers (spec.md §8 invariant 3).
	StackIndex int
	// NextOpen threads this upvalue into the VM's open-upvalue list.
	NextOpen *Upvalue
}

func (u *Upvalue) ObjKind() string { return "upvalue" }
func (u *Upvalue) String() string  { return "<upvalue>" }

// Close hoists the open upvalue's referenced stack slot into Closed and
// redirects Location to point at it, so GET_UPVALUE/SET_UPVALUE observe the
// same value before and after closing.
func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
	u.NextOpen = nil
}

// Closure pairs a Function with the upvalues captured when it was created.
type Closure struct {
	objHeader
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) ObjKind() string { return "closure" }
func (c *Closure) String() string  { return c.Function.String() }

// Class is a smog class: a name and a method table (selector -> Value
// holding a Closure).
type Class struct {
	objHeader
	Name    *String
	Methods *table.Table
}

func (c *Class) ObjKind() string { return "class" }
func (c *Class) String() string  { return c.Name.Chars }

// Instance is a live object: a reference to its class and a field table
// (name -> Value), populated lazily as fields are assigned.
type Instance struct {
	objHeader
	Class  *Class
	Fields *table.Table
}

func (i *Instance) ObjKind() string { return "instance" }
func (i *Instance) String() string  { return fmt.Sprintf("%s instance", i.Class.Name.Chars) }

// BoundMethod pairs a receiver with a method closure, produced whenever a
// method is looked up via GET_PROPERTY (or synthesized implicitly by
// GET_SUPER) rather than invoked directly.
type BoundMethod struct {
	objHeader
	Receiver value.Value
	Method   *Closure
}

func (b *BoundMethod) ObjKind() string { return "bound method" }
func (b *BoundMethod) String() string  { return b.Method.String() }
