package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/ffi"
	"github.com/viua-vm/viua/pkg/kernel"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

func newTestInterp(t *testing.T) *Interpreter {
	k := kernel.New("")
	pool := ffi.NewPool(k, 1)
	t.Cleanup(pool.Close)
	return New(k, pool)
}

func directReg(index uint16) bytecode.RegisterAccess {
	return bytecode.RegisterAccess{Mode: bytecode.AccessDirect, Set: bytecode.SetLocal, Index: index}
}

// TestEnterJumpsAndRecordsResumeAddress checks that ENTER transfers
// control to the block address named by its rs register and remembers
// where to come back to.
func TestEnterJumpsAndRecordsResumeAddress(t *testing.T) {
	ip := newTestInterp(t)
	p := process.New(process.NextPid(), 0, "test.vbc", 0, false)

	frame := stack.NewFrame("main", stack.NewRegisterSet(0))
	frame.AllocateLocals(1)
	require.NoError(t, frame.Local.Set(0, value.Int(0x200)))
	require.NoError(t, p.Stack.Push(frame))
	_, err := p.Stack.OpenTry()
	require.NoError(t, err)

	p.IP = 0x18 // address right after the ENTER instruction itself
	halted := ip.execEnter(p, nil, frame, p.Stack, bytecode.Instruction{RS: directReg(0)})

	assert.False(t, halted)
	assert.Equal(t, uint64(0x200), p.IP, "ENTER should jump to the block address")
	assert.Equal(t, uint64(0x18), p.Stack.CurrentTry().EnterBlock, "resume address must be recorded")
}

// TestLeaveJumpsBackAndClosesTry checks that LEAVE returns to the
// instruction after ENTER and closes the try-frame it belonged to.
func TestLeaveJumpsBackAndClosesTry(t *testing.T) {
	ip := newTestInterp(t)
	p := process.New(process.NextPid(), 0, "test.vbc", 0, false)

	frame := stack.NewFrame("main", stack.NewRegisterSet(0))
	require.NoError(t, p.Stack.Push(frame))
	tryFrame, err := p.Stack.OpenTry()
	require.NoError(t, err)
	tryFrame.EnterBlock = 0x18

	halted := ip.execLeave(p, nil, p.Stack)

	assert.False(t, halted)
	assert.Equal(t, uint64(0x18), p.IP, "LEAVE should resume after the matching ENTER")
	assert.Nil(t, p.Stack.CurrentTry(), "LEAVE must close the try-frame")
}

// TestLeaveOutsideTryFaults checks LEAVE without an open TRY throws
// rather than jumping on stale state.
func TestLeaveOutsideTryFaults(t *testing.T) {
	ip := newTestInterp(t)
	p := process.New(process.NextPid(), 0, "test.vbc", 0, false)
	frame := stack.NewFrame("main", stack.NewRegisterSet(0))
	require.NoError(t, p.Stack.Push(frame))

	ip.execLeave(p, nil, p.Stack)

	assert.Equal(t, process.TerminatedErr, p.State())
}

// TestDrawReadsStackCaughtValueOnce checks DRAW moves THROW's stashed
// value into rd, and that a second DRAW without an intervening THROW
// finds nothing (the value is consumed, not copied).
func TestDrawReadsStackCaughtValueOnce(t *testing.T) {
	ip := newTestInterp(t)
	p := process.New(process.NextPid(), 0, "test.vbc", 0, false)

	frame := stack.NewFrame("main", stack.NewRegisterSet(0))
	frame.AllocateLocals(1)
	require.NoError(t, p.Stack.Push(frame))
	p.Stack.SetCaught(value.Int(7))

	halted := ip.execDraw(p, nil, frame, p.Stack, bytecode.Instruction{RD: directReg(0)})
	assert.False(t, halted)
	v, err := frame.Local.Get(0)
	require.NoError(t, err)
	drawn, ok := v.Int()
	require.True(t, ok)
	assert.Equal(t, int64(7), drawn)

	ip.execDraw(p, nil, frame, p.Stack, bytecode.Instruction{RD: directReg(0)})
	assert.Equal(t, process.TerminatedErr, p.State(), "a second DRAW with nothing caught must fault")
}

// TestUnwindThenRaiseResumesOwningFrame exercises THROW's full path: the
// frame that opened the TRY survives unwinding and raise resumes inside
// it rather than substituting a synthetic frame.
func TestUnwindThenRaiseResumesOwningFrame(t *testing.T) {
	ip := newTestInterp(t)
	p := process.New(process.NextPid(), 0, "test.vbc", 0, false)
	p.SetState(process.Running) // as the scheduler does before running it

	owner := stack.NewFrame("owner", stack.NewRegisterSet(0))
	owner.AllocateLocals(1)
	require.NoError(t, p.Stack.Push(owner))
	tryFrame, err := p.Stack.OpenTry()
	require.NoError(t, err)
	tryFrame.AddCatch("Oops", 0x300)

	inner := stack.NewFrame("inner", stack.NewRegisterSet(0))
	require.NoError(t, p.Stack.Push(inner))

	ip.raise(p, nil, value.Int(9), "Oops")

	require.Equal(t, process.Running, p.State())
	assert.Equal(t, 1, p.Stack.Depth(), "owner frame must survive unwinding")
	assert.Same(t, owner, p.Stack.Top())
	assert.Equal(t, uint64(0x300), p.IP)

	caught, ok := p.Stack.TakeCaught()
	require.True(t, ok)
	n, _ := caught.Int()
	assert.Equal(t, int64(9), n)
}
