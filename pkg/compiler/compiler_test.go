package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/smog/pkg/heap"
)

func compileOK(t *testing.T, source string) *heap.Function {
	t.Helper()
	h := heap.New()
	fn, errs, ok := Compile(source, h)
	require.Truef(t, ok, "unexpected compile errors: %v", errs)
	return fn
}

func compileFails(t *testing.T, source string) []string {
	t.Helper()
	h := heap.New()
	_, errs, ok := Compile(source, h)
	require.False(t, ok)
	return errs
}

func TestCompileSimpleExpression(t *testing.T) {
	fn := compileOK(t, "print 1 + 2;")
	assert.Contains(t, fn.Chunk.Code, byte(heap.OpAdd))
	assert.Contains(t, fn.Chunk.Code, byte(heap.OpPrint))
}

func TestCompileErrorUnexpectedToken(t *testing.T) {
	errs := compileFails(t, "print ;")
	require.NotEmpty(t, errs)
}

func TestCompileErrorReadInOwnInitializer(t *testing.T) {
	errs := compileFails(t, "{ var a = a; }")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "own initializer")
}

func TestCompileErrorDuplicateLocalInSameScope(t *testing.T) {
	errs := compileFails(t, "{ var a = 1; var a = 2; }")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Already a variable")
}

func TestShadowingAcrossScopesIsAllowed(t *testing.T) {
	compileOK(t, "{ var a = 1; { var a = 2; } }")
}

func TestCompileErrorReturnFromTopLevel(t *testing.T) {
	errs := compileFails(t, "return 1;")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "top-level")
}

func TestCompileErrorReturnValueFromInitializer(t *testing.T) {
	errs := compileFails(t, "class A { init() { return 1; } }")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "initializer")
}

func TestCompileErrorThisOutsideClass(t *testing.T) {
	errs := compileFails(t, "print this;")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "'this'")
}

func TestCompileErrorSuperOutsideClass(t *testing.T) {
	errs := compileFails(t, "print super.x;")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "'super'")
}

func TestCompileErrorSuperWithoutSuperclass(t *testing.T) {
	errs := compileFails(t, "class A { m() { super.m(); } }")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "no superclass")
}

func TestCompileErrorInvalidAssignmentTarget(t *testing.T) {
	errs := compileFails(t, "1 + 2 = 3;")
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "Invalid assignment target")
}

// The compiler reserves local slot 0 (for a method's implicit receiver, or
// unused otherwise), so a 256-entry locals array holds at most 255
// user-declared locals before the next declaration pushes it past capacity
// (spec.md §8 "256 locals per function compiles; 257 is a compile error",
// counting the reserved slot).
func TestMaxLocalsCompiles(t *testing.T) {
	var b strings.Builder
	b.WriteString("{\n")
	for i := 0; i < 255; i++ {
		b.WriteString("var v")
		b.WriteString(itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}\n")
	compileOK(t, b.String())
}

func TestTooManyLocalsIsCompileError(t *testing.T) {
	var b strings.Builder
	b.WriteString("{\n")
	for i := 0; i < 256; i++ {
		b.WriteString("var v")
		b.WriteString(itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}\n")
	errs := compileFails(t, b.String())
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "Too many local variables")
}

func TestTooManyArgumentsIsCompileError(t *testing.T) {
	var args strings.Builder
	for i := 0; i < 256; i++ {
		if i > 0 {
			args.WriteString(", ")
		}
		args.WriteString(itoa(i))
	}
	source := "fun f() {} f(" + args.String() + ");"
	errs := compileFails(t, source)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "255 arguments")
}

func TestClassDeclarationEmitsClassAndMethodOps(t *testing.T) {
	fn := compileOK(t, "class A { greet() { print \"hi\"; } }")
	assert.Contains(t, fn.Chunk.Code, byte(heap.OpClass))
	assert.Contains(t, fn.Chunk.Code, byte(heap.OpMethod))
}

func TestInheritanceEmitsInheritOp(t *testing.T) {
	fn := compileOK(t, "class A {} class B < A {}")
	assert.Contains(t, fn.Chunk.Code, byte(heap.OpInherit))
}

func TestInvokeFusesGetPropertyAndCall(t *testing.T) {
	fn := compileOK(t, "class A { greet() {} } A().greet();")
	assert.Contains(t, fn.Chunk.Code, byte(heap.OpInvoke))
	assert.NotContains(t, fn.Chunk.Code, byte(heap.OpGetProperty))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
