// Package heap implements smog's object heap, allocator, string intern
// table, and the precise tri-color mark-sweep garbage collector that traces
// it. Every heap-allocated object (strings, functions, closures, upvalues,
// classes, instances, bound methods) is created through a Heap and linked
// into its sweep list; the allocator is the single chokepoint where growth
// may trigger a collection (spec.md §4.B, §4.D).
package heap

import (
	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
)

// RootMarker is implemented by anything the collector must trace as a root
// beyond the heap's own bookkeeping — the VM (stack, frames, globals, open
// upvalues) and the compiler chain while compilation is in progress
// (spec.md §4.D roots 1-5, §9 "Compiler-as-root").
type RootMarker interface {
	MarkRoots(h *Heap)
}

// approximate per-kind sizes used only to drive the heap-growth policy; the
// exact byte accounting doesn't matter, only that it tracks relative memory
// pressure so nextGC grows geometrically (spec.md §4.D "Heap growth
// policy").
const (
	sizeString      = 32
	sizeFunction    = 64
	sizeNative      = 32
	sizeUpvalue     = 24
	sizeClosure     = 40
	sizeClass       = 48
	sizeInstance    = 40
	sizeBoundMethod = 32
)

// Heap owns every live object, the string intern table, and the collector's
// transient state.
type Heap struct {
	objects   heapObject
	strings   *table.Table
	initStr   *String
	markers   []RootMarker
	gray      []heapObject
	stressGC  bool

	bytesAllocated int
	nextGC         int
}

// defaultNextGC is the initial allocation threshold before the first
// collection. At 1 MiB it is well above what a short program allocates, so
// such programs usually finish without any collection unless StressGC is
// set or Collect is called directly.
const defaultNextGC = 1 << 20

// New creates an empty heap. The "init" string used to look up constructor
// methods is interned immediately so it is always present as a GC root
// (spec.md §4.D root 6).
func New() *Heap {
	h := &Heap{
		strings: table.New(),
		nextGC:  defaultNextGC,
	}
	h.initStr = h.InternString("init")
	return h
}

// SetStressGC enables or disables the debug mode that triggers a collection
// on every allocation growth rather than only once nextGC is exceeded
// (spec.md §4.B).
func (h *Heap) SetStressGC(enabled bool) { h.stressGC = enabled }

// StressGC reports whether stress-GC debug mode is enabled.
func (h *Heap) StressGC() bool { return h.stressGC }

// SetNextGC overrides the initial collection threshold, used by embedders
// that want a tighter or looser default than defaultNextGC.
func (h *Heap) SetNextGC(bytes int) {
	if bytes > 0 {
		h.nextGC = bytes
	}
}

// BytesAllocated reports the allocator's live-byte estimate.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// NextGC reports the next collection threshold.
func (h *Heap) NextGC() int { return h.nextGC }

// InitString returns the interned "init" string used to find a class's
// initializer method.
func (h *Heap) InitString() *String { return h.initStr }

// AddRootMarker registers m so it is asked to mark its roots on every
// subsequent collection.
func (h *Heap) AddRootMarker(m RootMarker) {
	h.markers = append(h.markers, m)
}

// RemoveRootMarker unregisters m (used when a compiler finishes and its
// in-progress function objects are no longer roots in their own right —
// they're reachable from the VM's constant pools, or from the VM stack for
// the top-level script function, instead).
func (h *Heap) RemoveRootMarker(m RootMarker) {
	for i, existing := range h.markers {
		if existing == m {
			h.markers = append(h.markers[:i], h.markers[i+1:]...)
			return
		}
	}
}

func (h *Heap) link(o heapObject) {
	o.setNextObj(h.objects)
	h.objects = o
}

// beforeAlloc is the allocator chokepoint: it records the incoming
// allocation and triggers a collection if the heap has grown past its
// threshold (or StressGC is set), before the new object is linked in. The
// new object is invisible to the collector until link is called, so this
// ordering never sweeps a half-constructed object.
func (h *Heap) beforeAlloc(size int) {
	h.bytesAllocated += size
	if h.stressGC || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
}

// fnv1aHash computes the 32-bit FNV-1a hash of s (spec.md §3 "String").
func fnv1aHash(s string) uint32 {
	const (
		offsetBasis = 2166136261
		prime       = 16777619
	)
	hash := uint32(offsetBasis)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= prime
	}
	return hash
}

// InternString returns the canonical String for the given bytes, allocating
// one only if no equal string is already interned (spec.md §4.B
// internString, §8 invariant 2).
func (h *Heap) InternString(s string) *String {
	hash := fnv1aHash(s)
	if key, ok := h.strings.FindStringFunc(hash, len(s), func(k table.Key) bool {
		existing := k.(*String)
		return existing.Chars == s
	}); ok {
		return key.(*String)
	}

	h.beforeAlloc(sizeString + len(s))
	str := &String{Chars: s, hash: hash}
	h.link(str)
	h.strings.Put(str, str)
	return str
}

// NewFunction allocates an empty function object with the given name (nil
// for the implicit top-level script) and a fresh, empty chunk.
func (h *Heap) NewFunction(name *String) *Function {
	h.beforeAlloc(sizeFunction)
	fn := &Function{Name: name, Chunk: &Chunk{}}
	h.link(fn)
	return fn
}

// NewNative wraps fn as a callable native object under the given name.
func (h *Heap) NewNative(name string, fn NativeFn) *Native {
	h.beforeAlloc(sizeNative)
	n := &Native{Name: name, Fn: fn}
	h.link(n)
	return n
}

// NewUpvalue allocates an open upvalue pointing at the stack slot index,
// addressed through location.
func (h *Heap) NewUpvalue(location *value.Value, stackIndex int) *Upvalue {
	h.beforeAlloc(sizeUpvalue)
	uv := &Upvalue{Location: location, StackIndex: stackIndex}
	h.link(uv)
	return uv
}

// NewClosure allocates a closure over fn with the given captured upvalues.
func (h *Heap) NewClosure(fn *Function, upvalues []*Upvalue) *Closure {
	h.beforeAlloc(sizeClosure)
	c := &Closure{Function: fn, Upvalues: upvalues}
	h.link(c)
	return c
}

// NewClass allocates an empty class with the given name.
func (h *Heap) NewClass(name *String) *Class {
	h.beforeAlloc(sizeClass)
	c := &Class{Name: name, Methods: table.New()}
	h.link(c)
	return c
}

// NewInstance allocates an instance of class with an empty field table.
func (h *Heap) NewInstance(class *Class) *Instance {
	h.beforeAlloc(sizeInstance)
	i := &Instance{Class: class, Fields: table.New()}
	h.link(i)
	return i
}

// NewBoundMethod allocates a bound method pairing receiver with method.
func (h *Heap) NewBoundMethod(receiver value.Value, method *Closure) *BoundMethod {
	h.beforeAlloc(sizeBoundMethod)
	b := &BoundMethod{Receiver: receiver, Method: method}
	h.link(b)
	return b
}

// MarkValue marks v's underlying object, if it holds one.
func (h *Heap) MarkValue(v value.Value) {
	if v.IsObj() {
		h.markObjValue(v.AsObj())
	}
}

// markObjValue marks a value.Obj if it is non-nil and not already marked.
func (h *Heap) markObjValue(o value.Obj) {
	if o == nil {
		return
	}
	ho, ok := o.(heapObject)
	if !ok || ho.isMarked() {
		return
	}
	ho.setMarked(true)
	h.gray = append(h.gray, ho)
}

// markString marks s if non-nil; needed because a nil *String boxed into
// the value.Obj interface is not itself a nil interface.
func (h *Heap) markString(s *String) {
	if s != nil {
		h.markObjValue(s)
	}
}

func (h *Heap) markClosure(c *Closure) {
	if c != nil {
		h.markObjValue(c)
	}
}

// Collect runs one full mark-sweep cycle: mark every registered root and
// the interned init string, trace until the gray stack is empty, drop
// unmarked strings from the intern table, then sweep unmarked objects from
// the object list (spec.md §4.D).
func (h *Heap) Collect() {
	h.markString(h.initStr)
	for _, m := range h.markers {
		m.MarkRoots(h)
	}
	h.trace()

	h.strings.RemoveWhite(func(k table.Key) bool {
		return k.(*String).marked
	})

	h.sweep()
	h.nextGC = h.bytesAllocated * 2
}

func (h *Heap) trace() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o heapObject) {
	switch obj := o.(type) {
	case *String, *Native:
		// No outgoing references.
	case *Function:
		h.markString(obj.Name)
		for _, c := range obj.Chunk.Constants {
			h.MarkValue(c)
		}
	case *Closure:
		h.markObjValue(obj.Function)
		for _, uv := range obj.Upvalues {
			h.markObjValue(uv)
		}
	case *Upvalue:
		h.MarkValue(obj.Closed)
	case *Class:
		h.markString(obj.Name)
		obj.Methods.Each(func(k table.Key, v any) {
			h.markString(k.(*String))
			h.MarkValue(v.(value.Value))
		})
	case *Instance:
		h.markObjValue(obj.Class)
		obj.Fields.Each(func(k table.Key, v any) {
			h.markString(k.(*String))
			h.MarkValue(v.(value.Value))
		})
	case *BoundMethod:
		h.MarkValue(obj.Receiver)
		h.markClosure(obj.Method)
	}
}

func (h *Heap) sweep() {
	var prev heapObject
	obj := h.objects
	for obj != nil {
		if obj.isMarked() {
			obj.setMarked(false)
			prev = obj
			obj = obj.nextObj()
			continue
		}
		unreached := obj
		obj = obj.nextObj()
		if prev != nil {
			prev.setNextObj(obj)
		} else {
			h.objects = obj
		}
		h.bytesAllocated -= sizeOf(unreached)
	}
}

func sizeOf(o heapObject) int {
	switch v := o.(type) {
	case *String:
		return sizeString + len(v.Chars)
	case *Function:
		return sizeFunction
	case *Native:
		return sizeNative
	case *Upvalue:
		return sizeUpvalue
	case *Closure:
		return sizeClosure
	case *Class:
		return sizeClass
	case *Instance:
		return sizeInstance
	case *BoundMethod:
		return sizeBoundMethod
	default:
		return 0
	}
}
