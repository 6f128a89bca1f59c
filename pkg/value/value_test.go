package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObj struct{ kind string }

func (f *fakeObj) ObjKind() string { return f.kind }
func (f *fakeObj) String() string  { return f.kind }

func TestIsFalsey(t *testing.T) {
	assert.True(t, Nil.IsFalsey())
	assert.True(t, Bool(false).IsFalsey())
	assert.False(t, Bool(true).IsFalsey())
	assert.False(t, Number(0).IsFalsey())
	assert.False(t, FromObj(&fakeObj{kind: "string"}).IsFalsey())
}

func TestEqualAcrossKinds(t *testing.T) {
	assert.False(t, Equal(Nil, Bool(false)))
	assert.False(t, Equal(Number(0), Bool(false)))
	assert.True(t, Equal(Nil, Nil))
}

func TestEqualNumberNaN(t *testing.T) {
	nan := Number(math.NaN())
	assert.False(t, Equal(nan, nan))
}

func TestEqualObjIsIdentity(t *testing.T) {
	a := &fakeObj{kind: "x"}
	b := &fakeObj{kind: "x"}
	require.True(t, Equal(FromObj(a), FromObj(a)))
	assert.False(t, Equal(FromObj(a), FromObj(b)))
}

func TestStringFormatsWholeNumbersWithoutTrailingZero(t *testing.T) {
	assert.Equal(t, "3", Number(3).String())
	assert.Equal(t, "3.5", Number(3.5).String())
	assert.Equal(t, "nil", Nil.String())
	assert.Equal(t, "true", Bool(true).String())
	assert.Equal(t, "false", Bool(false).String())
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "nil", Nil.TypeName())
	assert.Equal(t, "boolean", Bool(true).TypeName())
	assert.Equal(t, "number", Number(1).TypeName())
	assert.Equal(t, "string", FromObj(&fakeObj{kind: "string"}).TypeName())
}
