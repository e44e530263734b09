// Package interp is the instruction interpreter: the dispatch loop that
// drives one process through its bytecode, format-then-opcode per the
// decoder in pkg/bytecode, bundling GREEDY sequences without yielding to
// the scheduler and converting per-instruction faults into thrown
// exceptions rather than host-language panics.
package interp

import (
	"fmt"

	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/ffi"
	"github.com/viua-vm/viua/pkg/kernel"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/scheduler"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// Tracer receives one call per retired instruction, used by the
// VIUA_VM_TRACE_FD sink (pkg/trace). Nil disables tracing.
type Tracer interface {
	Trace(pid process.Pid, ip uint64, ins bytecode.Instruction)
}

// Interpreter runs process bytecode against a shared Kernel. It
// implements scheduler.Runner so a Pool can drive it directly.
type Interpreter struct {
	kernel *kernel.Kernel
	ffi    *ffi.Pool
	pool   *scheduler.Pool
	tracer Tracer
}

// New creates an Interpreter wired to k for module/mailbox/IO lookups and
// ffiPool for foreign calls. AttachPool must be called once the owning
// scheduler.Pool exists, since Pool and Interpreter are mutually
// referential (Pool needs a Runner at construction time).
func New(k *kernel.Kernel, ffiPool *ffi.Pool) *Interpreter {
	return &Interpreter{kernel: k, ffi: ffiPool}
}

// AttachPool lets suspend/wake handlers re-enqueue a process once a
// mailbox, join, I/O, or FFI wait resolves.
func (ip *Interpreter) AttachPool(p *scheduler.Pool) { ip.pool = p }

// SetTracer installs t as the instruction-retirement sink.
func (ip *Interpreter) SetTracer(t Tracer) { ip.tracer = t }

// wake moves p back onto the scheduler pool from Suspended.
func (ip *Interpreter) wake(p *process.Process) {
	p.SetState(process.Runnable)
	if ip.pool != nil {
		ip.pool.Spawn(p)
	}
}

// RunSlice executes up to budget non-greedy instructions of p. See the
// scheduler.Runner contract for the halted/err semantics. Deferred-call
// batches scheduled by RETURN/TAILCALL/THROW run to completion on their
// own ephemeral stack inline, within the same call, rather than
// suspending across separate RunSlice invocations: their bodies are
// small and bounded, and this keeps the owning stack's
// SuspendedByDeferredOnFramePop window entirely inside one scheduler
// slice.
func (ip *Interpreter) RunSlice(p *process.Process, budget int) (bool, error) {
	remaining := budget
	for remaining > 0 {
		if p.State() != process.Running {
			return true, nil
		}

		mod, err := ip.kernel.LoadModule(p.ModulePath)
		if err != nil {
			return true, fmt.Errorf("interp: %w", err)
		}

		if p.Stack.Depth() == 0 {
			ip.terminate(p, value.Void(), true)
			return true, nil
		}

		addr := p.IP
		if int(addr/8) >= len(mod.Text) {
			ip.throwFault(p, mod, except.TagOutOfBounds, "instruction pointer past end of .text")
			if p.State() != process.Running {
				return true, nil
			}
			continue
		}
		word := bytecode.Word(mod.Text[addr/8])
		ins := bytecode.Decode(word)

		if ip.tracer != nil {
			ip.tracer.Trace(p.Pid, addr, ins)
		}

		halted := ip.execute(p, mod, ins, addr)
		if halted || p.State() != process.Running {
			return true, nil
		}

		p.InstructionsRun++
		if !ins.Op.Greedy() {
			remaining--
		}
	}
	return false, nil
}

// terminate records p's final outcome with the Kernel, tears down its
// mailbox, and spawns its watchdog if it died abnormally and registered
// one.
func (ip *Interpreter) terminate(p *process.Process, result value.Value, ok bool) {
	if ok {
		p.SetState(process.TerminatedOk)
	} else {
		p.SetState(process.TerminatedErr)
	}
	ip.kernel.RecordProcessResult(p.Pid, result, ok)
	ip.kernel.DeleteMailbox(p.Pid)
	if wd, has := p.Watchdog(); has && !ok {
		ip.spawnWatchdog(p, wd, result)
	}
}

// spawnWatchdog starts a fresh, disowned process running fnName with
// thrown as its sole local argument, the fallback for an uncaught
// exception with no registered handler.
func (ip *Interpreter) spawnWatchdog(p *process.Process, fnName string, thrown value.Value) {
	_, addr, ok := ip.kernel.EntryPointOf(p.ModulePath, fnName)
	if !ok {
		return
	}
	child := process.New(process.NextPid(), p.Pid, p.ModulePath, addr, true)
	args := stack.NewRegisterSet(1)
	args.Set(0, thrown)
	frame := stack.NewFrame(fnName, args)
	frame.EntryAddress = addr
	child.Stack.Push(frame)
	child.SetState(process.Runnable)
	ip.kernel.CreateMailbox(child.Pid)
	ip.kernel.IncRunning()
	if ip.pool != nil {
		ip.pool.Spawn(child)
	}
}

// runDeferredBatch runs calls (already reordered into execution order,
// first-to-run first) to completion on a fresh ephemeral stack linked
// behind owner. Implements the "convert pending deferred calls into a
// private stack and run it to completion" step shared by
// RETURN/TAILCALL/THROW.
func (ip *Interpreter) runDeferredBatch(p *process.Process, owner *stack.Stack, calls []stack.DeferredCall) {
	if len(calls) == 0 {
		return
	}
	eph := owner.SpawnEphemeral()
	owner.SetState(stack.SuspendedByDeferredOnFramePop)
	for i := len(calls) - 1; i >= 0; i-- {
		c := calls[i]
		cmod, err := ip.kernel.LoadModule(c.ModulePath)
		if err != nil {
			continue
		}
		addr, found := cmod.FunctionAt(c.FunctionName)
		if !found {
			continue
		}
		frame := stack.NewFrame(c.FunctionName, c.Arguments)
		frame.EntryAddress = addr
		frame.ModulePath = c.ModulePath
		eph.Push(frame)
	}

	savedIP, savedEph := p.IP, p.Ephemeral
	p.Ephemeral = eph
	for eph.Depth() > 0 && p.State() == process.Running {
		p.IP = eph.Top().EntryAddress
		ip.runToEphemeralExhaustion(p, eph)
	}
	p.Ephemeral = savedEph
	p.IP = savedIP
	if owner.State() == stack.SuspendedByDeferredOnFramePop {
		owner.SetState(stack.Running)
	}
}

// runToEphemeralExhaustion runs instructions on eph until it empties or
// the process leaves Running (an uncaught nested throw propagates out as
// the process's own termination).
func (ip *Interpreter) runToEphemeralExhaustion(p *process.Process, eph *stack.Stack) {
	for eph.Depth() > 0 && p.State() == process.Running {
		mod, err := ip.kernel.LoadModule(eph.Top().ModulePath)
		if err != nil {
			eph.Pop()
			continue
		}
		addr := p.IP
		if int(addr/8) >= len(mod.Text) {
			eph.Pop()
			continue
		}
		word := bytecode.Word(mod.Text[addr/8])
		ins := bytecode.Decode(word)
		if ip.tracer != nil {
			ip.tracer.Trace(p.Pid, addr, ins)
		}
		if halted := ip.execute(p, mod, ins, addr); halted {
			return
		}
	}
}

// loadModuleOrFault resolves path, raising a fault on the process and
// reporting ok=false if it cannot be loaded (a Kernel-level fault is
// fatal to the process per the propagation policy, not to the whole VM).
func (ip *Interpreter) loadModuleOrFault(p *process.Process, mod *elfload.Module, path string) (*elfload.Module, bool) {
	m, err := ip.kernel.LoadModule(path)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return nil, false
	}
	return m, true
}
