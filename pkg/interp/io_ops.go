package interp

import (
	"fmt"

	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/ioengine"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// ioHandleOf reads rs as an IOHandle, faulting with TagInvalidOperand if
// it isn't one.
func (ip *Interpreter) ioHandleOf(frame *stack.Frame, a bytecode.RegisterAccess) (value.IOHandle, error) {
	v, err := ip.readAccess(frame, a)
	if err != nil {
		return value.IOHandle{}, err
	}
	boxed, ok := v.Boxed()
	if !ok {
		return value.IOHandle{}, fmt.Errorf("interp: expected an IO_fd, got %s", v.TypeName())
	}
	h, ok := boxed.(value.IOHandle)
	if !ok {
		return value.IOHandle{}, fmt.Errorf("interp: expected an IO_fd, got %s", v.TypeName())
	}
	return h, nil
}

// execIOSubmit implements IO_SUBMIT: rs is the file handle, rs2 the
// interaction to run against it. rs2's shape selects the request kind: a
// Buffer or String submits a write of its bytes, an Int submits a read
// capped at that many bytes, and the Atom #close submits a close. rd
// receives the IO_request handle IO_WAIT/IO_PEEK/IO_SHUTDOWN use to refer
// to it.
func (ip *Interpreter) execIOSubmit(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	h, err := ip.ioHandleOf(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	spec, err := ip.readAccess(frame, ins.RS2)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}

	counter := ip.kernel.NextIORequestID(h.FD)
	id := ioengine.RequestID(h.FD, counter)

	var req ioengine.Request
	if boxed, ok := spec.Boxed(); ok {
		switch b := boxed.(type) {
		case *value.Buffer:
			req = ioengine.NewWriteRequest(id, h.FD, b.Bytes)
		case value.String:
			req = ioengine.NewWriteRequest(id, h.FD, []byte(b))
		case value.Atom:
			if string(b) == "close" {
				if h.Own {
					req = ioengine.NewCloseRequest(id, h.FD)
				} else {
					// A borrowed handle never owns its fd: closing it
					// is a no-op completion, not a real close(2).
					req = ioengine.NewEmptyRequest(id)
				}
			}
		}
	}
	if req == nil {
		if limit, ok := asInt(spec); ok {
			req = ioengine.NewReadRequest(id, h.FD, int(limit))
		}
	}
	if req == nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, "IO_SUBMIT interaction is not a recognised request shape")
		return p.State() != process.Running
	}

	ip.kernel.ScheduleIO(req)
	return ip.writeFault(p, mod, frame, ins.RD, value.Box(value.IORequestRef{FD: h.FD, Counter: counter}))
}

// ioRequestIDOf reads rs as an IORequestRef and packs it into the opaque
// id the Kernel's I/O maps are keyed by.
func ioRequestIDOf(frame *stack.Frame, ip *Interpreter, a bytecode.RegisterAccess) (uint64, error) {
	v, err := ip.readAccess(frame, a)
	if err != nil {
		return 0, err
	}
	boxed, ok := v.Boxed()
	if !ok {
		return 0, fmt.Errorf("interp: expected an IO_request, got %s", v.TypeName())
	}
	ref, ok := boxed.(value.IORequestRef)
	if !ok {
		return 0, fmt.Errorf("interp: expected an IO_request, got %s", v.TypeName())
	}
	return ioengine.RequestID(ref.FD, ref.Counter), nil
}

// execIOWait implements IO_WAIT: blocks the process (by suspending and
// re-running this instruction) until the named interaction completes,
// then writes its outcome as a Struct{bytes, n, closed} to rd. A failed
// interaction is thrown as IO_error and a cancelled one as IO_cancel;
// neither is written to rd.
func (ip *Interpreter) execIOWait(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	id, err := ioRequestIDOf(frame, ip, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	res, done := ip.kernel.IOResult(id)
	if !done {
		ch := ip.kernel.WaitChannel(id)
		if ch != nil {
			go func() {
				<-ch
				ip.wake(p)
			}()
		}
		p.Suspend(process.SuspendReason{OnIORequest: id})
		p.IP -= 8
		return true
	}
	if res.Err != nil {
		ip.throwFault(p, mod, except.TagIOError, res.Err.Error())
		return p.State() != process.Running
	}
	if res.Cancelled {
		ip.throwFault(p, mod, except.TagIOCancel, "I/O interaction was cancelled")
		return p.State() != process.Running
	}

	out := value.NewStruct()
	out.Insert("bytes", value.Box(value.NewBuffer(0)))
	if res.Bytes != nil {
		out.Insert("bytes", value.Box(&value.Buffer{Bytes: res.Bytes}))
	}
	out.Insert("n", value.Int(int64(res.N)))
	closed := int64(0)
	if res.Closed {
		closed = 1
	}
	out.Insert("closed", value.Int(closed))
	return ip.writeFault(p, mod, frame, ins.RD, value.Box(out))
}

// execIOShutdown implements IO_SHUTDOWN: cancels the named in-flight
// interaction, writing whether a matching request was found to rd.
func (ip *Interpreter) execIOShutdown(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	id, err := ioRequestIDOf(frame, ip, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	out := int64(0)
	if ip.kernel.CancelIO(id) {
		out = 1
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Int(out))
}

// execIOCtl implements IO_CTL: the only control currently recognised
// toggles a handle's ownership (whether its expiry closes the
// underlying fd), written back to rd as an updated IOHandle.
func (ip *Interpreter) execIOCtl(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction) bool {
	h, err := ip.ioHandleOf(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	own, err := ip.readAccess(frame, ins.RS2)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	h.Own = own.Boolean()
	return ip.writeFault(p, mod, frame, ins.RD, value.Box(h))
}
