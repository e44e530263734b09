package stack

import (
	"github.com/viua-vm/viua/pkg/bytecode"
)

// DeferredCall is a scheduled invocation captured by DEFER: the function
// to run and the argument set it captured at registration time. Deferred
// calls of a frame run in LIFO order when the frame is removed.
type DeferredCall struct {
	FunctionName string
	ModulePath   string
	Arguments    *RegisterSet
}

// Frame is a per-function activation record.
type Frame struct {
	EntryAddress  uint64 // byte offset into .text where the callee begins
	ReturnAddress uint64 // byte offset to resume the caller at

	// ReturnTarget names where RETURN deposits the frame's result in the
	// caller's register set. A void-mode target discards the value.
	// CallerFrame identifies which frame the write targets (nil
	// for a process's first frame, which has no caller).
	ReturnTarget bytecode.RegisterAccess
	CallerFrame  *Frame

	Arguments *RegisterSet
	Local     *RegisterSet

	// ClosureLocals is the captured register set of the Closure this
	// frame was invoked through, if any; nil for an ordinary call.
	ClosureLocals *RegisterSet

	deferred []DeferredCall

	// FunctionName/ModulePath identify the frame for diagnostics and for
	// resolving DEFER/TAILCALL targets relative to the running module.
	FunctionName string
	ModulePath   string
}

// NewFrame allocates a frame whose arguments set has the given arity. The
// local set is nil until AllocateLocals sizes it.
func NewFrame(functionName string, args *RegisterSet) *Frame {
	return &Frame{FunctionName: functionName, Arguments: args}
}

// AllocateLocals sizes the frame's local register set. There is no
// ALLOCATE_REGISTERS instruction: the interpreter calls this with a fixed
// capacity when CALL/TAILCALL/ACTOR builds a frame, or when a frame that
// has no local set runs its first instruction.
func (f *Frame) AllocateLocals(n int) { f.Local = NewRegisterSet(n) }

// PushDeferred appends a deferred call to the frame's list. Implements
// DEFER.
func (f *Frame) PushDeferred(call DeferredCall) { f.deferred = append(f.deferred, call) }

// TakeDeferred drains the frame's deferred-call list in LIFO order,
// clearing it. Called once when the frame is removed, whether via RETURN,
// TAILCALL, or unwinding.
func (f *Frame) TakeDeferred() []DeferredCall {
	out := make([]DeferredCall, len(f.deferred))
	for i, d := range f.deferred {
		out[len(f.deferred)-1-i] = d
	}
	f.deferred = nil
	return out
}

// expire invalidates every Pointer sourced from this frame's register
// sets, the step a frame removal performs regardless of how it happened.
func (f *Frame) expire() {
	if f.Arguments != nil {
		f.Arguments.Expire()
	}
	if f.Local != nil {
		f.Local.Expire()
	}
}

// CatchEntry binds an exception tag (or class name, matched against the
// ancestor set of the thrown value's tag; see pkg/except) to the address
// of a catch block.
type CatchEntry struct {
	Tag         string
	BlockTarget uint64
}

// TryFrame is an active protected region: the frame it was opened in, and
// the catch table registered via CATCH while the TRY block is the
// innermost active one.
type TryFrame struct {
	Frame      *Frame
	FrameDepth int // len(Stack.frames) at TRY time, i.e. the owning frame's depth
	Catches    []CatchEntry

	// EnterBlock is the address right after the ENTER that opened the
	// currently running block, so LEAVE knows where to resume. Zero
	// until ENTER runs.
	EnterBlock uint64
}

// AddCatch registers a handler. Implements CATCH.
func (t *TryFrame) AddCatch(tag string, blockTarget uint64) {
	t.Catches = append(t.Catches, CatchEntry{Tag: tag, BlockTarget: blockTarget})
}

// Find returns the catch entry for tag, or ok=false if none matches.
// Matching against ancestor tags (class-based catch) is the caller's
// responsibility: it should probe Find once per candidate tag, most
// specific first.
func (t *TryFrame) Find(tag string) (CatchEntry, bool) {
	for _, c := range t.Catches {
		if c.Tag == tag {
			return c, true
		}
	}
	return CatchEntry{}, false
}
