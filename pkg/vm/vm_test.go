package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/heap"
)

func run(t *testing.T, source string) (stdout string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	v := New(heap.New(), &out, &errOut)
	err = v.Interpret(source)
	return out.String(), err
}

func TestPrintArithmetic(t *testing.T) {
	out, err := run(t, "print 1 + 2;")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestStringConcatenationInterns(t *testing.T) {
	h := heap.New()
	var out, errOut bytes.Buffer
	v := New(h, &out, &errOut)
	err := v.Interpret(`var s = "a" + "b" + "c"; print s;`)
	require.NoError(t, err)
	assert.Equal(t, "abc\n", out.String())

	// The concatenated result is already interned: interning the same bytes
	// returns one shared object and allocates nothing new.
	before := h.BytesAllocated()
	again := h.InternString("abc")
	first := h.InternString("abc")
	assert.Same(t, first, again)
	assert.Equal(t, before, h.BytesAllocated())
}

func TestClosureRetainsCapturedLocalAcrossCalls(t *testing.T) {
	source := `
		fun outer() {
			var x = 1;
			fun inner() { x = x + 1; print x; }
			return inner;
		}
		var f = outer();
		f();
		f();
	`
	out, err := run(t, source)
	require.NoError(t, err)
	assert.Equal(t, "2\n3\n", out)
}

func TestInheritanceAndSuper(t *testing.T) {
	source := `
		class A { greet() { print "A"; } }
		class B < A { greet() { super.greet(); print "B"; } }
		B().greet();
	`
	out, err := run(t, source)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\n", out)
}

func TestInitializerContract(t *testing.T) {
	source := `
		class P { init(n) { this.n = n; } }
		print P(7).n;
	`
	out, err := run(t, source)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestTruthiness(t *testing.T) {
	out, err := run(t, `print !nil; print !false; print !0; print !"";`)
	require.NoError(t, err)
	assert.Equal(t, "true\ntrue\nfalse\nfalse\n", out)
}

func TestUndefinedGlobalIsRuntimeError(t *testing.T) {
	_, err := run(t, "print missing;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable")
}

func TestSetGlobalDoesNotCreate(t *testing.T) {
	_, err := run(t, "missing = 1;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable")
}

func TestArithmeticTypeMismatchIsRuntimeError(t *testing.T) {
	_, err := run(t, `print 1 + "a";`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operands must be two numbers or two strings")
}

func TestCallingNonCallableIsRuntimeError(t *testing.T) {
	_, err := run(t, "var x = 1; x();")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can only call functions and classes")
}

func TestWrongArityIsRuntimeError(t *testing.T) {
	_, err := run(t, "fun f(a, b) { return a + b; } f(1);")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected 2 arguments but got 1")
}

func TestPropertyAccessOnNonInstanceIsRuntimeError(t *testing.T) {
	_, err := run(t, "var x = 1; print x.y;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only instances have properties")
}

func TestSuperclassMustBeClassIsRuntimeError(t *testing.T) {
	_, err := run(t, `var NotAClass = 1; fun f() { } class B < NotAClass {}`)
	require.Error(t, err)
}

func TestDivisionByZeroIsInfinityNotError(t *testing.T) {
	out, err := run(t, "print 1 / 0;")
	require.NoError(t, err)
	assert.Equal(t, "inf\n", out)
}

func TestSetPropertyAlwaysWritesFieldEvenOverMethod(t *testing.T) {
	source := `
		class A { x() { print "method"; } }
		var a = A();
		a.x = "field";
		print a.x;
	`
	out, err := run(t, source)
	require.NoError(t, err)
	assert.Equal(t, "field\n", out)
}

func TestSubclassInheritsMethodNotOverridden(t *testing.T) {
	source := `
		class A { greet() { print "hi"; } }
		class B < A { }
		B().greet();
	`
	out, err := run(t, source)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)
}

func TestStackOverflowIsRuntimeError(t *testing.T) {
	source := `
		fun recurse() { return recurse(); }
		recurse();
	`
	_, err := run(t, source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stack overflow")
}

func TestRuntimeErrorResetsStackForNextInterpretCall(t *testing.T) {
	h := heap.New()
	var out, errOut bytes.Buffer
	v := New(h, &out, &errOut)

	err := v.Interpret("print missing;")
	require.Error(t, err)

	out.Reset()
	err = v.Interpret("print 1;")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out.String())
}

// Exercises spec.md §8 scenario 6 with stress GC on: a tight loop that
// builds the same short string each iteration must not grow the heap
// without bound. The concatenation result is interned, so only the first
// iteration allocates; later ones find it in the intern table.
func TestGCStressLoopBoundsHeapGrowth(t *testing.T) {
	h := heap.New()
	h.SetStressGC(true)
	var out, errOut bytes.Buffer
	v := New(h, &out, &errOut)

	err := v.Interpret(`
		var i = 0;
		while (i < 2000) {
			var s = "garbage-" + "string";
			i = i + 1;
		}
		print i;
	`)
	require.NoError(t, err)
	assert.Equal(t, "2000\n", out.String())
	assert.Less(t, h.BytesAllocated(), 1<<16, "live bytes must stay bounded across a stress-GC loop")
}
