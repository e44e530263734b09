// Package stack implements activation frames and the call stack: register
// sets with their MOVED/KEEP/BOUND bookkeeping, deferred-call lists run in
// LIFO order on frame removal, and try-frames used to unwind on THROW.
package stack

import (
	"errors"
	"fmt"

	"github.com/viua-vm/viua/pkg/value"
)

// Flag is a per-slot bit in a RegisterSet.
type Flag uint8

const (
	// Moved marks a slot that received a moved-in parameter; it must be
	// consumed (read and cleared) before the frame is removed.
	Moved Flag = 1 << iota
	// Keep marks a slot that survives the frame's removal (used by
	// deferred calls that captured it by reference before the frame
	// popped).
	Keep
	// Bound marks a slot captured by a closure; writing to it while Bound
	// is an error, since the closure may be executing concurrently with
	// a process that has since resumed.
	Bound
)

var (
	// ErrOutOfRange is returned for an access past a register set's
	// capacity.
	ErrOutOfRange = errors.New("stack: register index out of range")
	// ErrUnconsumedMove is returned when a frame is removed while a slot
	// is still flagged Moved.
	ErrUnconsumedMove = errors.New("stack: unconsumed moved-in register")
	// ErrBoundWrite is returned when a write targets a register flagged
	// Bound.
	ErrBoundWrite = errors.New("stack: write to closure-bound register")
)

// RegisterSet is a fixed-capacity vector of Value slots with a parallel
// flag bitmap and, lazily, one Liveness token per slot so Pointer values
// created against a slot can detect when it is overwritten or the frame
// is torn down.
type RegisterSet struct {
	slots    []value.Value
	flags    []Flag
	liveness []*value.Liveness
}

// NewRegisterSet allocates a register set with the given capacity. All
// slots start Void and unflagged.
func NewRegisterSet(capacity int) *RegisterSet {
	return &RegisterSet{
		slots:    make([]value.Value, capacity),
		flags:    make([]Flag, capacity),
		liveness: make([]*value.Liveness, capacity),
	}
}

// Len returns the register set's capacity.
func (rs *RegisterSet) Len() int { return len(rs.slots) }

func (rs *RegisterSet) check(i uint16) error {
	if int(i) >= len(rs.slots) {
		return fmt.Errorf("%w: %d (capacity %d)", ErrOutOfRange, i, len(rs.slots))
	}
	return nil
}

// Get reads the slot at i without consuming any flag.
func (rs *RegisterSet) Get(i uint16) (value.Value, error) {
	if err := rs.check(i); err != nil {
		return value.Value{}, err
	}
	return rs.slots[i], nil
}

// Set writes v into slot i, invalidating any Pointer previously created
// against it and refusing the write if the slot is Bound.
func (rs *RegisterSet) Set(i uint16, v value.Value) error {
	if err := rs.check(i); err != nil {
		return err
	}
	if rs.flags[i]&Bound != 0 {
		return fmt.Errorf("%w: register %d", ErrBoundWrite, i)
	}
	if rs.liveness[i] != nil {
		rs.liveness[i].Invalidate()
	}
	rs.slots[i] = v
	rs.liveness[i] = nil
	return nil
}

// SetMovedIn writes v into slot i and flags it Moved, the state a
// parameter register is in immediately after CALL transfers ownership
// into the callee's arguments/local set.
func (rs *RegisterSet) SetMovedIn(i uint16, v value.Value) error {
	if err := rs.Set(i, v); err != nil {
		return err
	}
	rs.flags[i] |= Moved
	return nil
}

// Consume reads slot i and clears its Moved flag, so CheckMovesConsumed
// no longer reports it. No interpreter instruction calls it: COPY reads
// with Get and leaves the flag set.
func (rs *RegisterSet) Consume(i uint16) (value.Value, error) {
	v, err := rs.Get(i)
	if err != nil {
		return value.Value{}, err
	}
	rs.flags[i] &^= Moved
	return v, nil
}

// Move transfers the value at src to dst, clearing src to Void and
// clearing src's Moved flag (dst does not inherit it), so a moved-in
// parameter that is moved elsewhere counts as consumed.
func (rs *RegisterSet) Move(dst, src uint16) error {
	v, err := rs.Get(src)
	if err != nil {
		return err
	}
	if err := rs.check(dst); err != nil {
		return err
	}
	rs.flags[src] &^= Moved
	if err := rs.Set(dst, v); err != nil {
		return err
	}
	if err := rs.Set(src, value.Void()); err != nil {
		return err
	}
	return nil
}

// Swap exchanges the values (and flags) at a and b.
func (rs *RegisterSet) Swap(a, b uint16) error {
	va, err := rs.Get(a)
	if err != nil {
		return err
	}
	vb, err := rs.Get(b)
	if err != nil {
		return err
	}
	rs.slots[a], rs.slots[b] = vb, va
	rs.flags[a], rs.flags[b] = rs.flags[b], rs.flags[a]
	rs.liveness[a], rs.liveness[b] = rs.liveness[b], rs.liveness[a]
	return nil
}

// MarkKeep flags slot i as surviving the frame's removal.
func (rs *RegisterSet) MarkKeep(i uint16) error {
	if err := rs.check(i); err != nil {
		return err
	}
	rs.flags[i] |= Keep
	return nil
}

// MarkBound flags slot i as captured by a closure.
func (rs *RegisterSet) MarkBound(i uint16) error {
	if err := rs.check(i); err != nil {
		return err
	}
	rs.flags[i] |= Bound
	return nil
}

// Liveness returns the liveness token for slot i, allocating one on first
// use (the slot is live until overwritten or the register set is
// discarded).
func (rs *RegisterSet) Liveness(i uint16) (*value.Liveness, error) {
	if err := rs.check(i); err != nil {
		return nil, err
	}
	if rs.liveness[i] == nil {
		rs.liveness[i] = value.NewLiveness()
	}
	return rs.liveness[i], nil
}

// CheckMovesConsumed returns ErrUnconsumedMove if any slot is still
// flagged Moved. RETURN and TAILCALL do not run it, so an unconsumed
// moved-in register does not fault when its frame is removed.
func (rs *RegisterSet) CheckMovesConsumed() error {
	for i, f := range rs.flags {
		if f&Moved != 0 {
			return fmt.Errorf("%w: register %d", ErrUnconsumedMove, i)
		}
	}
	return nil
}

// Expire invalidates every slot's liveness token, the step a frame pop
// performs so outstanding Pointers into it report dead.
func (rs *RegisterSet) Expire() {
	for _, tok := range rs.liveness {
		if tok != nil {
			tok.Invalidate()
		}
	}
}
