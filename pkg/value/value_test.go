package value

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/pkg/bytecode"
)

func TestBooleanScalars(t *testing.T) {
	assert.False(t, Void().Boolean())
	assert.False(t, Int(0).Boolean())
	assert.True(t, Int(-1).Boolean())
	assert.False(t, Uint(0).Boolean())
	assert.True(t, Float64(0.1).Boolean())
}

func TestBooleanContainers(t *testing.T) {
	assert.False(t, Box(String("")).Boolean())
	assert.True(t, Box(String("x")).Boolean())
	assert.False(t, Box(NewVector()).Boolean())
	assert.True(t, Box(NewVector(Int(1))).Boolean())
}

func TestCopyPurity(t *testing.T) {
	v := Box(NewVector(Int(1), Box(String("a"))))
	cp, err := v.Copy()
	require.NoError(t, err)
	assert.True(t, v.Eq(cp))

	vec, _ := v.Boxed()
	vec.(*Vector).Items[0] = Int(99)
	assert.True(t, v.Eq(Box(NewVector(Int(99), Box(String("a"))))))
	cpb, _ := cp.Boxed()
	assert.Equal(t, int64(1), mustInt(t, cpb.(*Vector).Items[0]))
}

func mustInt(t *testing.T, v Value) int64 {
	t.Helper()
	i, ok := v.Int()
	require.True(t, ok)
	return i
}

func TestCopyNotCopyable(t *testing.T) {
	tok := NewLiveness()
	p := Box(NewPointer(1, bytecode.SetLocal, 2, tok))
	_, err := p.Copy()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotCopyable))

	h := Box(IOHandle{FD: 3, Own: true})
	_, err = h.Copy()
	assert.True(t, errors.Is(err, ErrNotCopyable))

	r := Box(IORequestRef{FD: 3, Counter: 1})
	_, err = r.Copy()
	assert.True(t, errors.Is(err, ErrNotCopyable))
}

func TestClosureCopyPropagatesNonCopyable(t *testing.T) {
	tok := NewLiveness()
	cl := &Closure{
		FunctionName: "f",
		Captures:     []Value{Box(NewPointer(1, bytecode.SetLocal, 0, tok))},
	}
	_, err := Box(cl).Copy()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotCopyable))
}

func TestPointerLiveness(t *testing.T) {
	tok := NewLiveness()
	p := NewPointer(7, bytecode.SetLocal, 1, tok)
	assert.True(t, p.Live())
	tok.invalidate()
	assert.False(t, p.Live())
}

func TestNumericCasts(t *testing.T) {
	f, err := ITOF(Int(42))
	require.NoError(t, err)
	fv, _ := f.Float64()
	assert.Equal(t, 42.0, fv)

	i, err := FTOI(Float64(3.9))
	require.NoError(t, err)
	iv, _ := i.Int()
	assert.Equal(t, int64(3), iv)

	_, err = FTOI(Float64(1e300))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValueOutOfRange))

	i2, err := STOI(Box(String("0x2a")))
	require.NoError(t, err)
	iv2, _ := i2.Int()
	assert.Equal(t, int64(42), iv2)

	f2, err := STOF(Box(String("3.25")))
	require.NoError(t, err)
	fv2, _ := f2.Float64()
	assert.Equal(t, 3.25, fv2)
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "Integer", Int(1).TypeName())
	assert.Equal(t, "Float", Float32(1).TypeName())
	assert.Equal(t, "String", Box(String("x")).TypeName())
	assert.Equal(t, "Vector", Box(NewVector()).TypeName())
	assert.Equal(t, "Struct", Box(NewStruct()).TypeName())
	assert.Equal(t, "Pid", Box(Pid(1)).TypeName())
}
