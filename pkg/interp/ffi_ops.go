package interp

import (
	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// execEcall implements ECALL, the N-format foreign-call trap. N-format
// carries no register descriptors at all, so by convention the callee
// name is staged in local register 0 (an Atom or String) and its
// argument vector in local register 1 (a Vector); the result, or the
// thrown exception on error, replaces local register 0. The call blocks
// the process's own goroutine until a worker in the FFI pool picks it up
// and runs it, which is the cooperative-scheduling cost ECALL is
// documented to carry.
func (ip *Interpreter) execEcall(p *process.Process, frame *stack.Frame) bool {
	if ip.ffi == nil {
		ip.raiseFFIError(p, frame, "no FFI pool attached")
		return p.State() != process.Running
	}

	nameVal, err := frame.Local.Get(0)
	if err != nil {
		ip.raiseFFIError(p, frame, err.Error())
		return p.State() != process.Running
	}
	name := atomOrString(nameVal)

	var params []value.Value
	if argsVal, err := frame.Local.Get(1); err == nil {
		if boxed, ok := argsVal.Boxed(); ok {
			if vec, ok := boxed.(*value.Vector); ok {
				params = vec.Items
			}
		}
	}

	resultCh := ip.ffi.Submit(p.Pid, name, params)
	result := <-resultCh
	if result.Err != nil {
		ip.raiseFFIError(p, frame, result.Err.Error())
		return p.State() != process.Running
	}
	_ = frame.Local.Set(0, result.Value)
	return false
}

// raiseFFIError synthesizes the conventional exception Struct for an
// ECALL failure. It has no *elfload.Module at hand and raise does not
// need one, so it calls raise directly with a nil module rather than
// going through throwFault.
func (ip *Interpreter) raiseFFIError(p *process.Process, frame *stack.Frame, message string) {
	exc := value.NewStruct()
	exc.Insert("tag", value.Box(value.Atom(except.TagInvalidOperand)))
	exc.Insert("message", value.Box(value.String(message)))
	ip.raise(p, nil, value.Box(exc), except.TagInvalidOperand)
}
