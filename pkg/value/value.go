// Package value implements Viua's tagged-value model: the scalar and boxed
// values a register may hold, their ownership and copy semantics, and the
// numeric casts the interpreter needs.
package value

import (
	"errors"
	"fmt"
	"sync"

	"github.com/viua-vm/viua/pkg/bytecode"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt
	KindUint
	KindFloat32
	KindFloat64
	KindBoxed
)

// The following errors are raised by value-model operations. They are
// wrapped into boxed exception values (see pkg/except) at the instruction
// boundary that triggers them; plain callers of this package see them as
// ordinary Go errors.
var (
	ErrNotCopyable    = errors.New("value: not copyable")
	ErrInvalidPointer = errors.New("value: invalid pointer")
	ErrValueOutOfRange = errors.New("value: out of range")
	ErrTypeError      = errors.New("value: type error")
)

// Value is a tagged union. Scalars (KindVoid..KindFloat64) are stored
// inline; everything else is a Boxed payload.
type Value struct {
	kind  Kind
	i     int64
	u     uint64
	f32   float32
	f64   float64
	boxed Boxed
}

// Boxed is the payload of any non-scalar Value.
type Boxed interface {
	// TypeName returns the stable short type name used by type_name(v).
	TypeName() string

	// copy deep-copies the payload, or returns ErrNotCopyable.
	copy() (Boxed, error)

	// truthy implements boolean(v) for boxed kinds.
	truthy() bool
}

// Void is the zero Value: no type, falsy.
func Void() Value { return Value{kind: KindVoid} }

// Int wraps a signed 64-bit integer.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Uint wraps an unsigned 64-bit integer.
func Uint(v uint64) Value { return Value{kind: KindUint, u: v} }

// Float32 wraps a 32-bit float.
func Float32(v float32) Value { return Value{kind: KindFloat32, f32: v} }

// Float64 wraps a 64-bit float.
func Float64(v float64) Value { return Value{kind: KindFloat64, f64: v} }

// Box wraps a Boxed payload.
func Box(b Boxed) Value { return Value{kind: KindBoxed, boxed: b} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsVoid() bool { return v.kind == KindVoid }

func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) Uint() (uint64, bool) {
	if v.kind != KindUint {
		return 0, false
	}
	return v.u, true
}

func (v Value) Float32() (float32, bool) {
	if v.kind != KindFloat32 {
		return 0, false
	}
	return v.f32, true
}

func (v Value) Float64() (float64, bool) {
	if v.kind != KindFloat64 {
		return 0, false
	}
	return v.f64, true
}

// Boxed returns the boxed payload and true, or false if v is not boxed.
func (v Value) Boxed() (Boxed, bool) {
	if v.kind != KindBoxed {
		return nil, false
	}
	return v.boxed, true
}

// TypeName implements type_name(v): stable short names for every kind.
func (v Value) TypeName() string {
	switch v.kind {
	case KindVoid:
		return "Void"
	case KindInt:
		return "Integer"
	case KindUint:
		return "Integer"
	case KindFloat32, KindFloat64:
		return "Float"
	case KindBoxed:
		return v.boxed.TypeName()
	default:
		return "?"
	}
}

// Boolean implements boolean(v): 0/"" are false; non-empty containers are
// true; Pointer, Pid, and live I/O handles are true.
func (v Value) Boolean() bool {
	switch v.kind {
	case KindVoid:
		return false
	case KindInt:
		return v.i != 0
	case KindUint:
		return v.u != 0
	case KindFloat32:
		return v.f32 != 0
	case KindFloat64:
		return v.f64 != 0
	case KindBoxed:
		return v.boxed.truthy()
	default:
		return false
	}
}

// Copy implements copy(v): deep-copies scalars and containers, fails with
// ErrNotCopyable for Pointer, IOHandle, IORequestRef, and Closures whose
// captured environment is itself not copyable.
func (v Value) Copy() (Value, error) {
	if v.kind != KindBoxed {
		return v, nil // scalars are trivially copyable
	}
	nb, err := v.boxed.copy()
	if err != nil {
		return Value{}, err
	}
	return Box(nb), nil
}

// Expire invalidates all pointers sourced from this value's register by
// disassociating them from it. Only meaningful for values that carry a
// Liveness token (see NewLiveness); a no-op otherwise.
func (v Value) Expire(tok *Liveness) {
	if tok != nil {
		tok.invalidate()
	}
}

// Eq reports whether two values are observably equal: same kind/type and
// same scalar value, or (for boxed kinds) delegated equality.
func (v Value) Eq(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindVoid:
		return true
	case KindInt:
		return v.i == other.i
	case KindUint:
		return v.u == other.u
	case KindFloat32:
		return v.f32 == other.f32
	case KindFloat64:
		return v.f64 == other.f64
	case KindBoxed:
		type equaler interface{ Eq(Boxed) bool }
		if e, ok := v.boxed.(equaler); ok {
			return e.Eq(other.boxed)
		}
		return v.boxed == other.boxed
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "<void>"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUint:
		return fmt.Sprintf("%d", v.u)
	case KindFloat32:
		return fmt.Sprintf("%g", v.f32)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f64)
	case KindBoxed:
		return fmt.Sprintf("%v", v.boxed)
	default:
		return "<invalid>"
	}
}

// Liveness is a revocable token shared between a register slot and every
// Pointer created against it. A pointer dereference checks Alive(); a
// register write or frame pop that erases the slot calls invalidate().
type Liveness struct {
	mu    sync.Mutex
	alive bool
}

// NewLiveness creates a token in the alive state.
func NewLiveness() *Liveness { return &Liveness{alive: true} }

func (l *Liveness) invalidate() {
	l.mu.Lock()
	l.alive = false
	l.mu.Unlock()
}

// Invalidate revokes the token: every Pointer sharing it reports dead from
// this call onward. Safe to call from the register set that owns the slot
// this token was handed out for.
func (l *Liveness) Invalidate() {
	if l == nil {
		return
	}
	l.invalidate()
}

// Alive implements PTRLIVE(p): true iff dereferencing the owning pointer
// would still succeed.
func (l *Liveness) Alive() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive
}

// Pointer is a weak, non-owning reference to a value at a specific
// register address, scoped to the process that created it.
type Pointer struct {
	OwnerPID uint64
	Set      bytecode.SetTag
	Index    uint16
	token    *Liveness
}

// NewPointer creates a pointer bound to tok, the liveness token of the
// target register slot.
func NewPointer(owner uint64, set bytecode.SetTag, index uint16, tok *Liveness) Pointer {
	return Pointer{OwnerPID: owner, Set: set, Index: index, token: tok}
}

// Live reports whether the pointer's target is still defined.
func (p Pointer) Live() bool { return p.token.Alive() }

func (Pointer) TypeName() string { return "Pointer" }
func (Pointer) copy() (Boxed, error) { return nil, fmt.Errorf("pointer: %w", ErrNotCopyable) }
func (p Pointer) truthy() bool { return true }
func (p Pointer) String() string { return fmt.Sprintf("Pointer{%s[%d]}", p.Set, p.Index) }
