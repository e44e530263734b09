package interp

import (
	"math"

	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/elfload"
	"github.com/viua-vm/viua/pkg/except"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// numeric reads rs and rs2 as Int, Uint, or Float operands, promoting
// whichever is narrower so mixed-kind arithmetic (e.g. an Int plus a
// Float32) still produces a sensible result.
func numeric(a, b value.Value) (af, bf float64, ai, bi int64, isFloat bool, ok bool) {
	af1, aok := a.Float64()
	bf1, bok := b.Float64()
	if aok || bok {
		if v, ok2 := a.Float32(); ok2 && !aok {
			af1, aok = float64(v), true
		}
		if v, ok2 := b.Float32(); ok2 && !bok {
			bf1, bok = float64(v), true
		}
	}
	ai2, aiok := asInt(a)
	bi2, biok := asInt(b)
	switch {
	case aok || bok:
		if !aok {
			af1 = float64(ai2)
		}
		if !bok {
			bf1 = float64(bi2)
		}
		return af1, bf1, 0, 0, true, (aiok || aok) && (biok || bok)
	case aiok && biok:
		return 0, 0, ai2, bi2, false, true
	default:
		return 0, 0, 0, 0, false, false
	}
}

// execArith implements ADD/SUB/MUL/DIV/MOD (T-format): plain wraparound
// arithmetic on the operands' native width, promoted to floating point if
// either side is a Float.
func (ip *Interpreter) execArith(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	a, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	b, err := ip.readAccess(frame, ins.RS2)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	af, bf, ai, bi, isFloat, ok := numeric(a, b)
	if !ok {
		ip.throwFault(p, mod, except.TagTypeError, "arithmetic operand is not numeric")
		return p.State() != process.Running
	}
	if isFloat {
		var r float64
		switch num {
		case bytecode.OpAdd.Number():
			r = af + bf
		case bytecode.OpSub.Number():
			r = af - bf
		case bytecode.OpMul.Number():
			r = af * bf
		case bytecode.OpDiv.Number():
			if bf == 0 {
				ip.throwFault(p, mod, except.TagArithmeticError, "division by zero")
				return p.State() != process.Running
			}
			r = af / bf
		case bytecode.OpMod.Number():
			if bf == 0 {
				ip.throwFault(p, mod, except.TagArithmeticError, "division by zero")
				return p.State() != process.Running
			}
			r = math.Mod(af, bf)
		}
		return ip.writeFault(p, mod, frame, ins.RD, value.Float64(r))
	}
	var r int64
	switch num {
	case bytecode.OpAdd.Number():
		r = ai + bi
	case bytecode.OpSub.Number():
		r = ai - bi
	case bytecode.OpMul.Number():
		r = ai * bi
	case bytecode.OpDiv.Number():
		if bi == 0 {
			ip.throwFault(p, mod, except.TagArithmeticError, "division by zero")
			return p.State() != process.Running
		}
		r = ai / bi
	case bytecode.OpMod.Number():
		if bi == 0 {
			ip.throwFault(p, mod, except.TagArithmeticError, "division by zero")
			return p.State() != process.Running
		}
		r = ai % bi
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Int(r))
}

// execBitop implements the bitwise T-format family on integer operands.
func (ip *Interpreter) execBitop(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	a, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	b, err := ip.readAccess(frame, ins.RS2)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	au, aok := asUint(a)
	bu, bok := asUint(b)
	if !aok || !bok {
		ip.throwFault(p, mod, except.TagTypeError, "bitwise operand is not an integer")
		return p.State() != process.Running
	}
	var r uint64
	shift := bu & 63
	switch num {
	case bytecode.OpBitshl.Number():
		r = au << shift
	case bytecode.OpBitshr.Number():
		r = au >> shift
	case bytecode.OpBitashr.Number():
		r = uint64(int64(au) >> shift)
	case bytecode.OpBitrol.Number():
		r = (au << shift) | (au >> (64 - shift))
	case bytecode.OpBitror.Number():
		r = (au >> shift) | (au << (64 - shift))
	case bytecode.OpBitand.Number():
		r = au & bu
	case bytecode.OpBitor.Number():
		r = au | bu
	case bytecode.OpBitxor.Number():
		r = au ^ bu
	}
	return ip.writeFault(p, mod, frame, ins.RD, value.Uint(r))
}

// execCompare implements EQ/LT/GT/CMP/AND/OR. Comparison results are
// Int 0/1 (the VM's boolean convention); CMP yields -1/0/1.
func (ip *Interpreter) execCompare(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	a, err := ip.readAccess(frame, ins.RS)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}
	b, err := ip.readAccess(frame, ins.RS2)
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}

	if num == bytecode.OpAnd.Number() || num == bytecode.OpOr.Number() {
		var r bool
		if num == bytecode.OpAnd.Number() {
			r = a.Boolean() && b.Boolean()
		} else {
			r = a.Boolean() || b.Boolean()
		}
		out := int64(0)
		if r {
			out = 1
		}
		return ip.writeFault(p, mod, frame, ins.RD, value.Int(out))
	}

	if num == bytecode.OpEq.Number() {
		out := int64(0)
		if a.Eq(b) {
			out = 1
		}
		return ip.writeFault(p, mod, frame, ins.RD, value.Int(out))
	}

	af, bf, ai, bi, isFloat, ok := numeric(a, b)
	if !ok {
		ip.throwFault(p, mod, except.TagTypeError, "comparison operand is not numeric")
		return p.State() != process.Running
	}
	var cmp int64
	if isFloat {
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		}
	} else {
		switch {
		case ai < bi:
			cmp = -1
		case ai > bi:
			cmp = 1
		}
	}
	switch num {
	case bytecode.OpLt.Number():
		out := int64(0)
		if cmp < 0 {
			out = 1
		}
		return ip.writeFault(p, mod, frame, ins.RD, value.Int(out))
	case bytecode.OpGt.Number():
		out := int64(0)
		if cmp > 0 {
			out = 1
		}
		return ip.writeFault(p, mod, frame, ins.RD, value.Int(out))
	case bytecode.OpCmp.Number():
		return ip.writeFault(p, mod, frame, ins.RD, value.Int(cmp))
	}
	ip.throwFault(p, mod, except.TagInvalidOpcode, "unrecognised comparison opcode")
	return p.State() != process.Running
}

// execImmediateR implements the R-format immediate-arithmetic family
// (ADDI/ADDIU/SUBI/SUBIU/MULI/MULIU/DIVI/DIVIU): rd and rs are always
// direct accesses into Local (per the decoder's own documentation of
// R-format), with the second operand folded into the instruction word.
func (ip *Interpreter) execImmediateR(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	rs, _ := frame.Local.Get(ins.RSIndex)
	ai, _ := asInt(rs)
	au, _ := asUint(rs)

	var out value.Value
	switch num {
	case bytecode.OpAddi.Number():
		out = value.Int(ai + int64(ins.Imm))
	case bytecode.OpAddiu.Number():
		out = value.Uint(au + ins.Imm)
	case bytecode.OpSubi.Number():
		out = value.Int(ai - int64(ins.Imm))
	case bytecode.OpSubiu.Number():
		out = value.Uint(au - ins.Imm)
	case bytecode.OpMuli.Number():
		out = value.Int(ai * int64(ins.Imm))
	case bytecode.OpMuliu.Number():
		out = value.Uint(au * ins.Imm)
	case bytecode.OpDivi.Number():
		if ins.Imm == 0 {
			out = value.Int(0)
		} else {
			out = value.Int(ai / int64(ins.Imm))
		}
	case bytecode.OpDiviu.Number():
		if ins.Imm == 0 {
			out = value.Uint(0)
		} else {
			out = value.Uint(au / ins.Imm)
		}
	default:
		out = value.Void()
	}
	_ = frame.Local.Set(ins.RDIndex, out)
	return false
}
