package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/value"
)

func TestInternStringReturnsSameReferenceForEqualBytes(t *testing.T) {
	h := New()
	a := h.InternString("hello")
	b := h.InternString("hello")
	assert.Same(t, a, b)
}

func TestInternStringDifferentBytesDifferentReference(t *testing.T) {
	h := New()
	a := h.InternString("hello")
	b := h.InternString("world")
	assert.NotSame(t, a, b)
}

func TestCollectFreesUnreachableStrings(t *testing.T) {
	h := New()
	h.SetStressGC(true)

	kept := h.InternString("kept")
	h.AddRootMarker(rootFunc(func(hh *Heap) {
		hh.MarkValue(value.FromObj(kept))
	}))

	h.InternString("garbage")
	h.Collect()

	still, ok := h.strings.Get(kept)
	require.True(t, ok)
	assert.Same(t, kept, still)

	// Re-interning "garbage" after collection must allocate a fresh string:
	// the old one should have been dropped from the intern table by the
	// weak pass and swept (spec.md §4.D "String-table weak pass").
	before := h.BytesAllocated()
	recreated := h.InternString("garbage")
	assert.NotNil(t, recreated)
	assert.Greater(t, h.BytesAllocated(), before)
}

func TestCollectUnmarksSurvivorsAndKeepsThemLinked(t *testing.T) {
	h := New()
	s := h.InternString("survivor")
	root := rootFunc(func(hh *Heap) { hh.MarkValue(value.FromObj(s)) })
	h.AddRootMarker(root)

	h.Collect()

	assert.False(t, s.isMarked(), "marked bit must be cleared after sweep")
	found := false
	for o := h.objects; o != nil; o = o.nextObj() {
		if o == heapObject(s) {
			found = true
			break
		}
	}
	assert.True(t, found, "surviving object must still be in the sweep list")
}

func TestCollectSweepsUnreachableObjects(t *testing.T) {
	h := New()
	fn := h.NewFunction(nil)
	_ = fn
	h.Collect()

	for o := h.objects; o != nil; o = o.nextObj() {
		assert.NotEqual(t, "function", o.ObjKind(), "unreached function must be swept")
	}
}

func TestNextGCDoublesBytesAllocatedAfterCollect(t *testing.T) {
	h := New()
	anchor := h.InternString("anchor")
	h.AddRootMarker(rootFunc(func(hh *Heap) {
		hh.MarkValue(value.FromObj(anchor))
	}))

	h.Collect()
	assert.Equal(t, h.BytesAllocated()*2, h.NextGC())
}

func TestClosureBlackenMarksFunctionAndUpvalues(t *testing.T) {
	h := New()
	fn := h.NewFunction(h.InternString("f"))
	var slot value.Value = value.Number(1)
	uv := h.NewUpvalue(&slot, 0)
	closure := h.NewClosure(fn, []*Upvalue{uv})

	h.AddRootMarker(rootFunc(func(hh *Heap) {
		hh.MarkValue(value.FromObj(closure))
	}))
	h.Collect()

	assertStillLinked(t, h, fn)
	assertStillLinked(t, h, uv)
}

func TestInstanceBlackenMarksClassAndFields(t *testing.T) {
	h := New()
	class := h.NewClass(h.InternString("Point"))
	inst := h.NewInstance(class)
	field := h.InternString("x")
	inst.Fields.Put(field, value.Number(1))

	h.AddRootMarker(rootFunc(func(hh *Heap) {
		hh.MarkValue(value.FromObj(inst))
	}))
	h.Collect()

	assertStillLinked(t, h, class)
	assertStillLinked(t, h, field)
}

// rootFunc adapts a plain function to the RootMarker interface for tests.
type rootFunc func(h *Heap)

func (f rootFunc) MarkRoots(h *Heap) { f(h) }

func assertStillLinked(t *testing.T, h *Heap, want heapObject) {
	t.Helper()
	for o := h.objects; o != nil; o = o.nextObj() {
		if o == want {
			return
		}
	}
	t.Fatalf("object %v was swept but should have survived collection", want)
}
