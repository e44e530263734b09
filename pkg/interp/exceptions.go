package interp

import (
	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// raise begins THROW's unwind algorithm: walk try-frames newest to
// oldest for a handler matching tag or one of its registered ancestor
// classes, collecting the deferred calls of every frame removed along
// the way and running them before transferring control into the matched
// catch block. With no handler anywhere on the stack the process (or, if
// currently running a deferred batch, the process as a whole) terminates
// abnormally carrying excValue.
func (ip *Interpreter) raise(p *process.Process, mod *elfload.Module, excValue value.Value, tag string) {
	st := currentStack(p)
	candidates := ip.kernel.Exceptions().CandidateTags(tag)

	var pending []stack.DeferredCall
	collect := func(f *stack.Frame) {
		pending = append(pending, f.TakeDeferred()...)
	}

	_, entry, err := st.Unwind(candidates, collect)
	if err != nil {
		ip.terminate(p, excValue, false)
		return
	}

	if len(pending) > 0 {
		ip.runDeferredBatch(p, st, pending)
		if p.State() != process.Running {
			return
		}
	}

	// Unwind leaves the try's owning frame on top of the stack (see
	// stack.Stack.Unwind): resume inside it rather than substituting a
	// fresh frame, matching unwind_call_stack_to, which only moves the
	// instruction pointer and stashes the thrown value for DRAW.
	st.SetCaught(excValue)
	p.IP = entry.BlockTarget
}

func (ip *Interpreter) execTry(p *process.Process, st *stack.Stack) bool {
	if _, err := st.OpenTry(); err != nil {
		return false
	}
	return false
}

func (ip *Interpreter) execCatch(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction) bool {
	t := st.CurrentTry()
	if t == nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, "CATCH outside of an open TRY")
		return p.State() != process.Running
	}
	tagVal, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	addrVal, err := ip.readAccess(frame, ins.RS2)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	tag := atomOrString(tagVal)
	addr, ok := addrVal.Int()
	if !ok {
		u, ok2 := addrVal.Uint()
		if !ok2 {
			ip.throwFault(p, mod, except.TagTypeError, "CATCH block target is not an integer")
			return p.State() != process.Running
		}
		addr = int64(u)
	}
	t.AddCatch(tag, uint64(addr))
	return false
}

// execEnter implements ENTER: rs names a register holding the address of
// the block to run with the current TRY's catch-table active. The
// address immediately after ENTER is recorded on the try-frame so LEAVE
// can jump back to it.
func (ip *Interpreter) execEnter(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction) bool {
	t := st.CurrentTry()
	if t == nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, "ENTER outside of an open TRY")
		return p.State() != process.Running
	}
	addrVal, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	addr, ok := addrVal.Int()
	if !ok {
		u, ok2 := addrVal.Uint()
		if !ok2 {
			ip.throwFault(p, mod, except.TagTypeError, "ENTER block target is not an integer")
			return p.State() != process.Running
		}
		addr = int64(u)
	}
	t.EnterBlock = p.IP
	p.IP = uint64(addr)
	return false
}

// execLeave implements LEAVE: jumps back to the instruction after the
// ENTER that opened the current block, then closes the try-frame.
func (ip *Interpreter) execLeave(p *process.Process, mod *elfload.Module, st *stack.Stack) bool {
	t := st.CurrentTry()
	if t == nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, "LEAVE outside of an open TRY")
		return p.State() != process.Running
	}
	p.IP = t.EnterBlock
	if err := st.CloseTry(); err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	return false
}

func (ip *Interpreter) execThrow(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	v, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	tag := valueTag(v)
	ip.raise(p, mod, v, tag)
	return p.State() != process.Running
}

// execDraw implements DRAW: moves the value THROW stashed on the stack
// for the active handler into rd. A second DRAW without an intervening
// THROW finds nothing, since TakeCaught consumes the slot.
func (ip *Interpreter) execDraw(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction) bool {
	v, ok := st.TakeCaught()
	if !ok {
		ip.throwFault(p, mod, except.TagInvalidOperand, "DRAW outside of a catch block")
		return p.State() != process.Running
	}
	if err := ip.writeAccess(frame, ins.RD, v); err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	return false
}

// valueTag extracts the exception tag from a thrown value: its "tag"
// field if it is a Struct built the conventional way, or its type name
// otherwise.
func valueTag(v value.Value) string {
	boxed, ok := v.Boxed()
	if !ok {
		return v.TypeName()
	}
	s, ok := boxed.(*value.Struct)
	if !ok {
		return v.TypeName()
	}
	tagVal, ok := s.Get(value.Atom("tag"))
	if !ok {
		return v.TypeName()
	}
	return atomOrString(tagVal)
}

func atomOrString(v value.Value) string {
	boxed, ok := v.Boxed()
	if !ok {
		return v.String()
	}
	switch b := boxed.(type) {
	case value.Atom:
		return string(b)
	case value.String:
		return string(b)
	default:
		return v.String()
	}
}
