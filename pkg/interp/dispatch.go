package interp

import (
	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// autoLocalCapacity sizes a frame's local register set automatically:
// on CALL/TAILCALL/ACTOR for the callee, and on the first instruction of
// any other frame that has none yet (main, watchdog, deferred calls). The
// decoder's finalized opcode set carries no distinct ALLOCATE_REGISTERS
// instruction to size it explicitly, so every frame gets a generous fixed
// capacity instead of declaring one.
const autoLocalCapacity = 256

// currentStack returns the stack p is presently executing on: its main
// stack, or the ephemeral stack running a deferred-call batch.
func currentStack(p *process.Process) *stack.Stack {
	if p.Ephemeral != nil {
		return p.Ephemeral
	}
	return p.Stack
}

// execute dispatches one decoded instruction for p against mod, the
// module ins was fetched from, advancing p.IP and returning true if p
// should stop running (HALT, termination, or suspension).
func (ip *Interpreter) execute(p *process.Process, mod *elfload.Module, ins bytecode.Instruction, addr uint64) bool {
	st := currentStack(p)
	frame := st.Top()
	if frame == nil {
		ip.terminate(p, value.Void(), true)
		return true
	}
	if frame.Local == nil {
		frame.AllocateLocals(autoLocalCapacity)
	}

	p.IP = addr + 8
	num := ins.Op.Number()

	switch ins.Op.Format() {
	case bytecode.FormatN:
		switch num {
		case bytecode.OpNoop.Number():
			return false
		case bytecode.OpHalt.Number():
			ip.terminate(p, value.Void(), true)
			return true
		case bytecode.OpEbreak.Number():
			return false
		case bytecode.OpEcall.Number():
			return ip.execEcall(p, frame)
		}
	case bytecode.FormatS:
		return ip.execFormatS(p, mod, frame, st, ins, num)
	case bytecode.FormatD:
		return ip.execFormatD(p, mod, frame, st, ins, num)
	case bytecode.FormatT:
		return ip.execFormatT(p, mod, frame, st, ins, num)
	case bytecode.FormatF:
		return ip.execFormatF(p, frame, ins, num)
	case bytecode.FormatE:
		return ip.execFormatE(p, frame, ins, num)
	case bytecode.FormatR:
		return ip.execFormatR(p, frame, ins, num)
	case bytecode.FormatM:
		return ip.execFormatM(p, frame, ins, num)
	}

	ip.throwFault(p, mod, except.TagInvalidOpcode, "unrecognised opcode")
	return p.State() != process.Running
}

func (ip *Interpreter) execFormatS(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction, num uint16) bool {
	switch num {
	case bytecode.OpFrame.Number():
		return ip.execFrame(p, st, ins)
	case bytecode.OpReturn.Number():
		return ip.execReturn(p, mod, frame, st)
	case bytecode.OpAtom.Number():
		return ip.execLoadLiteral(p, mod, frame, ins, "atom")
	case bytecode.OpString.Number():
		return ip.execLoadLiteral(p, mod, frame, ins, "string")
	case bytecode.OpFloatS.Number():
		return ip.execLoadLiteral(p, mod, frame, ins, "float")
	case bytecode.OpDouble.Number():
		return ip.execLoadLiteral(p, mod, frame, ins, "double")
	case bytecode.OpStruct.Number():
		return ip.writeFault(p, mod, frame, ins.RD, value.Box(value.NewStruct()))
	case bytecode.OpBuffer.Number():
		return ip.writeFault(p, mod, frame, ins.RD, value.Box(value.NewBuffer(0)))
	case bytecode.OpSelf.Number():
		return ip.writeFault(p, mod, frame, ins.RD, value.Box(value.Pid(p.Pid)))
	case bytecode.OpWatchdog.Number():
		return ip.execWatchdog(p, mod, frame, ins)
	}
	ip.throwFault(p, mod, except.TagInvalidOpcode, "unrecognised S-format opcode")
	return p.State() != process.Running
}

func (ip *Interpreter) execFormatD(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction, num uint16) bool {
	switch num {
	case bytecode.OpCall.Number():
		return ip.execCall(p, mod, frame, st, ins)
	case bytecode.OpBitnot.Number():
		return ip.execBitnot(p, mod, frame, ins)
	case bytecode.OpNot.Number():
		return ip.execNot(p, mod, frame, ins)
	case bytecode.OpCopy.Number():
		return ip.execCopy(p, mod, frame, ins)
	case bytecode.OpMove.Number():
		return ip.execMove(p, mod, frame, ins)
	case bytecode.OpSwap.Number():
		return ip.execSwap(p, mod, frame, ins)
	case bytecode.OpBufferPush.Number():
		return ip.execBufferPush(p, mod, frame, ins)
	case bytecode.OpBufferSize.Number():
		return ip.execBufferSize(p, mod, frame, ins)
	case bytecode.OpRef.Number():
		return ip.execRef(p, mod, frame, ins)
	case bytecode.OpIf.Number():
		return ip.execIf(p, mod, frame, ins)
	case bytecode.OpIoPeek.Number():
		return ip.execIOPeek(p, mod, frame, ins)
	case bytecode.OpActor.Number():
		return ip.execActor(p, mod, frame, st, ins)
	case bytecode.OpTailcall.Number():
		return ip.execTailcall(p, mod, frame, st, ins)
	case bytecode.OpDefer.Number():
		return ip.execDefer(p, mod, frame, st, ins)
	case bytecode.OpPtrlive.Number():
		return ip.execPtrlive(p, mod, frame, ins)
	case bytecode.OpDraw.Number():
		return ip.execDraw(p, mod, frame, st, ins)
	case bytecode.OpEnter.Number():
		return ip.execEnter(p, mod, frame, st, ins)
	case bytecode.OpLeave.Number():
		return ip.execLeave(p, mod, st)
	case bytecode.OpSend.Number():
		return ip.execSend(p, mod, frame, ins)
	case bytecode.OpReceive.Number():
		return ip.execReceive(p, mod, frame, ins)
	}
	ip.throwFault(p, mod, except.TagInvalidOpcode, "unrecognised D-format opcode")
	return p.State() != process.Running
}

func (ip *Interpreter) execFormatT(p *process.Process, mod *elfload.Module, frame *stack.Frame, st *stack.Stack, ins bytecode.Instruction, num uint16) bool {
	switch num {
	case bytecode.OpAdd.Number(), bytecode.OpSub.Number(), bytecode.OpMul.Number(), bytecode.OpDiv.Number(), bytecode.OpMod.Number():
		return ip.execArith(p, mod, frame, ins, num)
	case bytecode.OpBitshl.Number(), bytecode.OpBitshr.Number(), bytecode.OpBitashr.Number(),
		bytecode.OpBitrol.Number(), bytecode.OpBitror.Number(),
		bytecode.OpBitand.Number(), bytecode.OpBitor.Number(), bytecode.OpBitxor.Number():
		return ip.execBitop(p, mod, frame, ins, num)
	case bytecode.OpEq.Number(), bytecode.OpLt.Number(), bytecode.OpGt.Number(), bytecode.OpCmp.Number(),
		bytecode.OpAnd.Number(), bytecode.OpOr.Number():
		return ip.execCompare(p, mod, frame, ins, num)
	case bytecode.OpStructAt.Number():
		return ip.execStructAt(p, mod, frame, ins)
	case bytecode.OpStructInsert.Number():
		return ip.execStructInsert(p, mod, frame, ins)
	case bytecode.OpStructRemove.Number():
		return ip.execStructRemove(p, mod, frame, ins)
	case bytecode.OpIoSubmit.Number():
		return ip.execIOSubmit(p, mod, frame, ins)
	case bytecode.OpIoWait.Number():
		return ip.execIOWait(p, mod, frame, ins)
	case bytecode.OpIoShutdown.Number():
		return ip.execIOShutdown(p, mod, frame, ins)
	case bytecode.OpIoCtl.Number():
		return ip.execIOCtl(p, mod, frame, ins)
	case bytecode.OpJoin.Number():
		return ip.execJoin(p, mod, frame, ins)
	case bytecode.OpThrow.Number():
		return ip.execThrow(p, mod, frame, ins)
	case bytecode.OpTry.Number():
		return ip.execTry(p, st)
	case bytecode.OpCatch.Number():
		return ip.execCatch(p, mod, frame, st, ins)
	}
	ip.throwFault(p, mod, except.TagInvalidOpcode, "unrecognised T-format opcode")
	return p.State() != process.Running
}

func (ip *Interpreter) execFormatF(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	return ip.execImmediateF(p, frame, ins, num)
}

func (ip *Interpreter) execFormatE(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	return ip.execImmediateE(p, frame, ins, num)
}

func (ip *Interpreter) execFormatR(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	return ip.execImmediateR(p, frame, ins, num)
}

func (ip *Interpreter) execFormatM(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	return ip.execMemory(p, frame, ins, num)
}

// writeFault writes v to a, reporting an access error as a fault. Most
// S-format literal opcodes share this shape: resolve the destination,
// write, and fault only on an access error (an out-of-range register,
// say), never on the value itself.
func (ip *Interpreter) writeFault(p *process.Process, mod *elfload.Module, frame *stack.Frame, a bytecode.RegisterAccess, v value.Value) bool {
	if err := ip.writeAccess(frame, a, v); err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	return false
}

// throwFault synthesizes an exception Struct tagged tag and drives it
// through the same unwind path as a user THROW, the uniform way the
// interpreter turns an internal fault into process-visible behavior
// rather than a host panic.
func (ip *Interpreter) throwFault(p *process.Process, mod *elfload.Module, tag, message string) {
	exc := value.NewStruct()
	exc.Insert("tag", value.Box(value.Atom(tag)))
	exc.Insert("message", value.Box(value.String(message)))
	ip.raise(p, mod, value.Box(exc), tag)
}
