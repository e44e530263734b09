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

// execLoadLiteral implements ATOM/STRING/FLOAT/DOUBLE (S-format). These
// opcodes carry only a destination register, with no room left in the
// format for an immediate operand; by convention they reinterpret
// whatever raw bits sit in local register 0 (typically staged there by a
// preceding LUI/LLI or ARODP) as the requested type.
func (ip *Interpreter) execLoadLiteral(p *process.Process, mod *elfload.Module, frame *stack.Frame, ins bytecode.Instruction, kind string) bool {
	raw, err := ip.readAccess(frame, bytecode.RegisterAccess{Mode: bytecode.AccessDirect, Set: bytecode.SetLocal, Index: 0})
	if err != nil {
		ip.throwFault(p, mod, except.TagInvalidOperand, err.Error())
		return p.State() != process.Running
	}

	var out value.Value
	switch kind {
	case "atom", "string":
		off, ok := asUint(raw)
		if !ok {
			ip.throwFault(p, mod, except.TagTypeError, "rodata offset must be an integer")
			return p.State() != process.Running
		}
		s := rodataString(mod.Rodata, off)
		if kind == "atom" {
			out = value.Box(value.Atom(s))
		} else {
			out = value.Box(value.String(s))
		}
	case "float":
		bits, ok := asUint(raw)
		if !ok {
			ip.throwFault(p, mod, except.TagTypeError, "float bit pattern must be an integer")
			return p.State() != process.Running
		}
		out = value.Float32(math.Float32frombits(uint32(bits)))
	case "double":
		bits, ok := asUint(raw)
		if !ok {
			ip.throwFault(p, mod, except.TagTypeError, "double bit pattern must be an integer")
			return p.State() != process.Running
		}
		out = value.Float64(math.Float64frombits(bits))
	}
	return ip.writeFault(p, mod, frame, ins.RD, out)
}

// rodataString reads a NUL-terminated string starting at byte offset off
// of rodata, returning "" if off is out of range.
func rodataString(rodata []byte, off uint64) string {
	if off >= uint64(len(rodata)) {
		return ""
	}
	end := off
	for end < uint64(len(rodata)) && rodata[end] != 0 {
		end++
	}
	return string(rodata[off:end])
}

func asUint(v value.Value) (uint64, bool) {
	if i, ok := v.Int(); ok {
		return uint64(i), true
	}
	if u, ok := v.Uint(); ok {
		return u, true
	}
	return 0, false
}

func asInt(v value.Value) (int64, bool) {
	if i, ok := v.Int(); ok {
		return i, true
	}
	if u, ok := v.Uint(); ok {
		return int64(u), true
	}
	return 0, false
}

// execImmediateF implements the F-format family: LUI/LUIU load a 32-bit
// immediate into the upper half of rd (the low half is cleared); LLI ORs
// an immediate into the low half, preserving whatever LUI staged above
// it; FLOAT reinterprets the immediate's bits directly as a float32.
func (ip *Interpreter) execImmediateF(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	rd := ins.FRD
	switch num {
	case bytecode.OpLui.Number():
		_ = frame.Local.Set(rd.Index, value.Int(int64(ins.Imm<<32)))
	case bytecode.OpLuiu.Number():
		_ = frame.Local.Set(rd.Index, value.Uint(ins.Imm<<32))
	case bytecode.OpLli.Number():
		cur, _ := frame.Local.Get(rd.Index)
		base, _ := asUint(cur)
		_ = frame.Local.Set(rd.Index, value.Uint((base&^0xFFFFFFFF)|ins.Imm))
	case bytecode.OpFloatF.Number():
		_ = frame.Local.Set(rd.Index, value.Float32(math.Float32frombits(uint32(ins.Imm))))
	}
	return false
}

// execImmediateE implements the E-format family: wide (36-bit) immediate
// loads, a numeric CAST, and the two address-of opcodes ARODP (rodata
// string address) and ATXTP (text/function address).
func (ip *Interpreter) execImmediateE(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	switch num {
	case bytecode.OpLuiE.Number():
		_ = frame.Local.Set(ins.RD.Index, value.Int(int64(ins.Imm)))
	case bytecode.OpLuiuE.Number():
		_ = frame.Local.Set(ins.RD.Index, value.Uint(ins.Imm))
	case bytecode.OpCast.Number():
		cur, _ := frame.Local.Get(ins.RD.Index)
		_ = frame.Local.Set(ins.RD.Index, castTo(cur, ins.Imm))
	case bytecode.OpArodp.Number():
		_ = frame.Local.Set(ins.RD.Index, value.Int(int64(ins.Imm)))
	case bytecode.OpAtxtp.Number():
		_ = frame.Local.Set(ins.RD.Index, value.Int(int64(ins.Imm)))
	}
	return false
}

// castTo converts v according to selector: 0=int, 1=uint, 2=float32,
// 3=float64. An unconvertible combination is left unchanged.
func castTo(v value.Value, selector uint64) value.Value {
	switch selector {
	case 0:
		if out, err := value.FTOI(v); err == nil {
			return out
		}
		if out, err := value.STOI(v); err == nil {
			return out
		}
	case 1:
		if i, ok := asInt(v); ok {
			return value.Uint(uint64(i))
		}
	case 2:
		if out := castTo(v, 3); out.Kind() == value.KindFloat64 {
			f, _ := out.Float64()
			return value.Float32(float32(f))
		}
	case 3:
		if out, err := value.ITOF(v); err == nil {
			return out
		}
		if out, err := value.STOF(v); err == nil {
			return out
		}
	}
	return v
}
