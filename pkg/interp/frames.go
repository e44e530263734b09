package interp

import (
	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// execFrame implements FRAME: rd's index names the arity of the call
// about to be made, staging an arguments register set of that size on
// the stack for CALL/ACTOR/DEFER/TAILCALL to consume.
func (ip *Interpreter) execFrame(p *process.Process, st *stack.Stack, ins bytecode.Instruction) bool {
	st.PendingFrame = stack.NewFrame("", stack.NewRegisterSet(int(ins.RD.Index)))
	return false
}

// takePendingFrame consumes the frame FRAME staged, or synthesizes a
// zero-arity one if the bytecode skipped straight to the call.
func takePendingFrame(st *stack.Stack) *stack.Frame {
	f := st.PendingFrame
	st.PendingFrame = nil
	if f == nil {
		f = stack.NewFrame("", stack.NewRegisterSet(0))
	}
	return f
}

// resolveCallTarget reads rs as either a direct .text address (Int),
// resolved against the calling frame's own module, or a Closure, which
// carries its own module/function identity. Returns the entry address,
// the module it lives in, its function name (for DEFER/TAILCALL
// diagnostics), and the closure's captured register set (nil for a
// direct call).
func resolveCallTarget(frame *stack.Frame, currentModulePath string, v value.Value) (uint64, string, string, *stack.RegisterSet, bool) {
	if i, ok := asUint(v); ok {
		return i, currentModulePath, "", nil, true
	}
	boxed, ok := v.Boxed()
	if !ok {
		return 0, "", "", nil, false
	}
	cl, ok := boxed.(*value.Closure)
	if !ok {
		return 0, "", "", nil, false
	}
	captures := stack.NewRegisterSet(len(cl.Captures))
	for i, c := range cl.Captures {
		_ = captures.Set(uint16(i), c)
	}
	return cl.Address, cl.ModulePath, cl.FunctionName, captures, true
}

// execCall implements CALL: the staged frame becomes the callee's
// arguments, the callee's local set is auto-sized (see autoLocalCapacity),
// and the caller records rd as where RETURN should deposit the result.
func (ip *Interpreter) execCall(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction) bool {
	target, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	addr, modPath, fnName, captures, ok := resolveCallTarget(frame, frame.ModulePath, target)
	if !ok {
		ip.throwFault(p, mod, except.TagInvalidOperand, "CALL target is neither an address nor a Closure")
		return p.State() != process.Running
	}
	args := takePendingFrame(st)
	callee := stack.NewFrame(fnName, args.Arguments)
	callee.EntryAddress = addr
	callee.ModulePath = modPath
	callee.ClosureLocals = captures
	callee.ReturnTarget = ins.RD
	callee.CallerFrame = frame
	callee.ReturnAddress = p.IP // already advanced past CALL by execute
	callee.AllocateLocals(autoLocalCapacity)
	if err := st.Push(callee); err != nil {
		ip.throwFault(p, mod, except.TagStackOverflow, err.Error())
		return p.State() != process.Running
	}
	p.IP = addr
	return false
}

// execTailcall implements TAILCALL: the caller's deferred calls run
// immediately (the caller's frame is about to disappear), then the callee
// replaces it in place rather than growing the stack.
func (ip *Interpreter) execTailcall(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction) bool {
	target, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	addr, modPath, fnName, captures, ok := resolveCallTarget(frame, frame.ModulePath, target)
	if !ok {
		ip.throwFault(p, mod, except.TagInvalidOperand, "TAILCALL target is neither an address nor a Closure")
		return p.State() != process.Running
	}
	deferred := frame.TakeDeferred()
	if len(deferred) > 0 {
		ip.runDeferredBatch(p, st, deferred)
		if p.State() != process.Running {
			return true
		}
	}
	args := takePendingFrame(st)
	callee := stack.NewFrame(fnName, args.Arguments)
	callee.EntryAddress = addr
	callee.ModulePath = modPath
	callee.ClosureLocals = captures
	callee.ReturnTarget = frame.ReturnTarget
	callee.CallerFrame = frame.CallerFrame
	callee.ReturnAddress = frame.ReturnAddress
	callee.AllocateLocals(autoLocalCapacity)
	if err := st.ReplaceTop(callee); err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	p.IP = addr
	return false
}

// execDefer implements DEFER: the staged frame's arguments are captured
// now, against the current register contents, and scheduled to run (as a
// plain call by name, since the callee may outlive any Closure the
// caller held) when the current frame is removed.
func (ip *Interpreter) execDefer(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction) bool {
	target, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	addr, modPath, fnName, _, ok := resolveCallTarget(frame, frame.ModulePath, target)
	if !ok {
		ip.throwFault(p, mod, except.TagInvalidOperand, "DEFER target is neither an address nor a Closure")
		return p.State() != process.Running
	}
	if fnName == "" && mod != nil {
		// A direct address carries no name; recover it from the module's
		// symbol table so the deferred call can be looked up when it runs.
		for name, off := range mod.FnMap() {
			if off == addr {
				fnName = name
				break
			}
		}
	}
	args := takePendingFrame(st)
	frame.PushDeferred(stack.DeferredCall{FunctionName: fnName, ModulePath: modPath, Arguments: args.Arguments})
	return false
}

// execReturn implements RETURN: the value in local register 0 is the
// frame's result; its own deferred calls run first, then it is popped and
// the result is written into the caller at ReturnTarget. A process whose
// last frame just returned terminates normally.
func (ip *Interpreter) execReturn(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack) bool {
	result, err := ip.readAccess(frame, bytecode.RegisterAccess{Mode: bytecode.AccessDirect, Set: bytecode.SetLocal, Index: 0})
	if err != nil {
		result = value.Void()
	}
	deferred := frame.TakeDeferred()
	if len(deferred) > 0 {
		ip.runDeferredBatch(p, st, deferred)
		if p.State() != process.Running {
			return true
		}
	}
	popped, err := st.Pop()
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	if st != p.Stack && popped.CallerFrame == nil {
		// The bottom frame of a deferred call returned: control goes back
		// to runDeferredBatch, which starts the next call or resumes the
		// owning stack.
		return true
	}
	if st.Depth() == 0 {
		ip.terminate(p, result, true)
		return true
	}
	if popped.CallerFrame != nil {
		_ = ip.writeAccess(popped.CallerFrame, popped.ReturnTarget, result)
	}
	p.IP = popped.ReturnAddress
	return false
}

func (ip *Interpreter) execBitnot(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	v, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	i, ok := asInt(v)
	if !ok {
		ip.throwFault(p, mod, except.TagTypeError, "BITNOT operand is not an integer")
		return p.State() != process.Running
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Int(^i))
}

func (ip *Interpreter) execNot(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	v, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	out := int64(0)
	if !v.Boolean() {
		out = 1
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Int(out))
}

// execCopy implements COPY: a deep value copy, so the source register
// keeps its own value unchanged (and still flagged Moved if it was).
func (ip *Interpreter) execCopy(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	v, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	cp, err := v.Copy()
	if err != nil {
		ip.throwFault(p, mod, except.TagNotCopyable, err.Error())
		return p.State() != process.Running
	}
	return ip.writeFault(p, mod, frame, ins.RD, cp)
}

// execMove implements MOVE: same-register-set moves use RegisterSet.Move
// directly so the Moved-flag bookkeeping is exact; cross-set moves fall
// back to read-then-clear.
func (ip *Interpreter) execMove(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	if ins.RS.Mode == bytecode.AccessDirect && ins.RD.Mode == bytecode.AccessDirect && ins.RS.Set == ins.RD.Set {
		if rs, _, err := ip.setFor(frame, ins.RS); err == nil && rs != nil {
			if err := rs.Move(ins.RD.Index, ins.RS.Index); err != nil {
				ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
				return p.State() != process.Running
			}
			return false
		}
	}
	v, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	if err := ip.writeAccess(frame, ins.RS, value.Void()); err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	return ip.writeFault(p, mod, frame, ins.RD, v)
}

func (ip *Interpreter) execSwap(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	if ins.RS.Mode == bytecode.AccessDirect && ins.RD.Mode == bytecode.AccessDirect && ins.RS.Set == ins.RD.Set {
		if rs, _, err := ip.setFor(frame, ins.RS); err == nil && rs != nil {
			if err := rs.Swap(ins.RD.Index, ins.RS.Index); err != nil {
				ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
				return p.State() != process.Running
			}
			return false
		}
	}
	a, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	b, err := ip.readAccess(frame, ins.RD)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	if err := ip.writeAccess(frame, ins.RD, a); err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	return ip.writeFault(p, mod, frame, ins.RS, b)
}

// execBufferPush implements BUFFER_PUSH: appends a single byte (the low
// 8 bits of rs, an integer) to the Buffer at rd.
func (ip *Interpreter) execBufferPush(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	dst, err := ip.readAccess(frame, ins.RD)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	buf, ok := dst.Boxed()
	b, isBuf := buf.(*value.Buffer)
	if !ok || !isBuf {
		ip.throwFault(p, mod, except.TagTypeError, "BUFFER_PUSH destination is not a Buffer")
		return p.State() != process.Running
	}
	v, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	i, ok := asInt(v)
	if !ok {
		ip.throwFault(p, mod, except.TagTypeError, "BUFFER_PUSH value is not an integer")
		return p.State() != process.Running
	}
	b.Bytes = append(b.Bytes, byte(i))
	return false
}

func (ip *Interpreter) execBufferSize(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	v, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	boxed, ok := v.Boxed()
	b, isBuf := boxed.(*value.Buffer)
	if !ok || !isBuf {
		ip.throwFault(p, mod, except.TagTypeError, "BUFFER_SIZE operand is not a Buffer")
		return p.State() != process.Running
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Int(int64(len(b.Bytes))))
}

// execRef implements REF: creates a Pointer into rs's current register
// slot, scoped to the frame that is executing it.
func (ip *Interpreter) execRef(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	rs, bank, err := ip.setFor(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	var tok *value.Liveness
	if rs != nil {
		tok, err = rs.Liveness(ins.RS.Index)
		if err != nil {
			ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
			return p.State() != process.Running
		}
	} else {
		_ = bank
		tok = value.NewLiveness()
	}
	ptr := value.NewPointer(uint64(p.Pid), ins.RS.Set, ins.RS.Index, tok)
	return ip.writeFault(p, mod, frame, ins.RD, value.Box(ptr))
}

func (ip *Interpreter) execIf(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	cond, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	target, err := ip.readAccess(frame, ins.RS2)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	if cond.Boolean() {
		addr, ok := asUint(target)
		if !ok {
			ip.throwFault(p, mod, except.TagTypeError, "IF target is not an address")
			return p.State() != process.Running
		}
		p.IP = addr
	}
	return false
}

// execIOPeek implements IO_PEEK: a non-blocking check of whether an I/O
// interaction (rs, the IO_request handle IO_SUBMIT returned) has
// completed, writing a boolean (Int 0/1) result.
func (ip *Interpreter) execIOPeek(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	id, err := ioRequestIDOf(frame, ip, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	done := int64(0)
	if ip.kernel.IOComplete(id) {
		done = 1
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Int(done))
}

// execActor implements ACTOR: spawns a new process beginning at the
// staged frame's target, independent of the spawning process's stack,
// writing the new Pid into rd.
func (ip *Interpreter) execActor(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction) bool {
	target, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	addr, modPath, fnName, captures, ok := resolveCallTarget(frame, frame.ModulePath, target)
	if !ok {
		ip.throwFault(p, mod, except.TagInvalidOperand, "ACTOR target is neither an address nor a Closure")
		return p.State() != process.Running
	}
	args := takePendingFrame(st)
	child := process.New(process.NextPid(), p.Pid, modPath, addr, false)
	child.Mailbox = ip.kernel.CreateMailbox(child.Pid)
	ip.kernel.CreateResultSlotFor(child.Pid, false)

	entry := stack.NewFrame(fnName, args.Arguments)
	entry.EntryAddress = addr
	entry.ModulePath = modPath
	entry.ClosureLocals = captures
	entry.AllocateLocals(autoLocalCapacity)
	if err := child.Stack.Push(entry); err != nil {
		ip.throwFault(p, mod, except.TagStackOverflow, err.Error())
		return p.State() != process.Running
	}
	child.SetState(process.Runnable)
	ip.kernel.IncRunning()
	if ip.pool != nil {
		ip.pool.Spawn(child)
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Box(value.Pid(child.Pid)))
}

// execPtrlive implements PTRLIVE: reports whether the Pointer in rs still
// refers to a live register slot, without faulting on a dead one.
func (ip *Interpreter) execPtrlive(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	raw, err := ip.readAccess(frame, bytecode.RegisterAccess{Mode: bytecode.AccessDirect, Set: ins.RS.Set, Index: ins.RS.Index})
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	live := int64(0)
	if boxed, ok := raw.Boxed(); ok {
		if ptr, ok := boxed.(value.Pointer); ok && ptr.Live() {
			live = 1
		}
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Int(live))
}

// execWatchdog implements WATCHDOG: registers rd (read as an Atom or
// String naming a function in the process's own module) as the handler
// run if this process terminates from an uncaught exception.
func (ip *Interpreter) execWatchdog(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	v, err := ip.readAccess(frame, ins.RD)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	name := atomOrString(v)
	if err := p.RegisterWatchdog(name); err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	return false
}
