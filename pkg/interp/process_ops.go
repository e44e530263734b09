package interp

import (
	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// execSend implements SEND: rs names the destination Pid, rd the value
// to deliver. Delivery to a terminated process's mailbox is silently
// dropped, matching an unbuffered actor system's usual fire-and-forget
// semantics.
func (ip *Interpreter) execSend(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	target, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	pidVal, ok := target.Boxed()
	pid, isPid := pidVal.(value.Pid)
	if !ok || !isPid {
		ip.throwFault(p, mod, except.TagInvalidPid, "SEND target is not a Pid")
		return p.State() != process.Running
	}
	msg, err := ip.readAccess(frame, ins.RD)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	ip.kernel.Send(process.Pid(pid), msg)
	return false
}

// execReceive implements RECEIVE: pops the oldest queued message into rd,
// or suspends the process on its mailbox if none is queued. The
// scheduler is expected to re-run this same instruction (IP is not
// advanced past it) once woken, so it does not need its own resumption
// bookkeeping.
func (ip *Interpreter) execReceive(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	v, ok := p.Mailbox.Pop()
	if !ok {
		p.Suspend(process.SuspendReason{OnMailbox: true})
		p.IP -= 8
		return true
	}
	return ip.writeFault(p, mod, frame, ins.RD, v)
}

// execJoin implements JOIN: rs names the Pid to wait for, rd receives its
// result (the thrown value if it terminated abnormally, which re-raises
// in the joining process via the same THROW convention). Suspends the
// joining process until the target's result slot is Done.
func (ip *Interpreter) execJoin(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	target, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	pidVal, ok := target.Boxed()
	pid, isPid := pidVal.(value.Pid)
	if !ok || !isPid {
		ip.throwFault(p, mod, except.TagInvalidPid, "JOIN target is not a Pid")
		return p.State() != process.Running
	}
	if !ip.kernel.IsProcessJoinable(process.Pid(pid)) {
		ip.throwFault(p, mod, except.TagProcessCannotBeJoined, "process is not joinable")
		return p.State() != process.Running
	}
	slot, done := ip.kernel.TransferResultOf(process.Pid(pid))
	if !done {
		p.Suspend(process.SuspendReason{OnJoinPid: process.Pid(pid)})
		p.IP -= 8
		return true
	}
	if !slot.Ok {
		tag := valueTag(slot.Value)
		ip.raise(p, mod, slot.Value, tag)
		return p.State() != process.Running
	}
	return ip.writeFault(p, mod, frame, ins.RD, slot.Value)
}
