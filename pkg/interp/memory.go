package interp

import (
	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/process"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// execMemory implements the M-format raw-memory family: AA/AD allocate a
// Buffer, SM/LM store/load a unit_size-wide integer at a byte offset
// within one, and PTR takes a Pointer into the local register named by
// rs. rd/rs are always direct accesses into Local, per the decoder's own
// documentation of the format; offset and unit size ride along on the
// instruction word itself.
func (ip *Interpreter) execMemory(p *process.Process, frame *stack.Frame, ins bytecode.Instruction, num uint16) bool {
	switch num {
	case bytecode.OpAa.Number(), bytecode.OpAd.Number():
		size, _ := frame.Local.Get(ins.RSIndex)
		n, _ := asUint(size)
		_ = frame.Local.Set(ins.RDIndex, value.Box(value.NewBuffer(int(n))))
		return false
	case bytecode.OpSm.Number():
		return ip.execStoreMemory(frame, ins)
	case bytecode.OpLm.Number():
		return ip.execLoadMemory(frame, ins)
	case bytecode.OpPtr.Number():
		return ip.execMemoryPtr(p, frame, ins)
	}
	return false
}

func bufferAt(frame *stack.Frame, idx uint8) (*value.Buffer, bool) {
	v, err := frame.Local.Get(idx)
	if err != nil {
		return nil, false
	}
	boxed, ok := v.Boxed()
	if !ok {
		return nil, false
	}
	b, ok := boxed.(*value.Buffer)
	return b, ok
}

// execStoreMemory writes the low Unit bytes of rs's integer value into
// the buffer at rd, little-endian, starting at byte Offset.
func (ip *Interpreter) execStoreMemory(frame *stack.Frame, ins bytecode.Instruction) bool {
	buf, ok := bufferAt(frame, ins.RDIndex)
	if !ok {
		return false
	}
	v, _ := frame.Local.Get(ins.RSIndex)
	n, _ := asUint(v)
	unit := int(ins.Unit)
	if unit == 0 {
		unit = 8
	}
	end := int(ins.Offset) + unit
	if end > len(buf.Bytes) {
		grown := make([]byte, end)
		copy(grown, buf.Bytes)
		buf.Bytes = grown
	}
	for i := 0; i < unit; i++ {
		buf.Bytes[int(ins.Offset)+i] = byte(n >> (8 * i))
	}
	return false
}

// execLoadMemory reads Unit bytes from the buffer at rs, little-endian,
// starting at byte Offset, into rd as an unsigned integer.
func (ip *Interpreter) execLoadMemory(frame *stack.Frame, ins bytecode.Instruction) bool {
	buf, ok := bufferAt(frame, ins.RSIndex)
	if !ok {
		_ = frame.Local.Set(ins.RDIndex, value.Uint(0))
		return false
	}
	unit := int(ins.Unit)
	if unit == 0 {
		unit = 8
	}
	var n uint64
	for i := 0; i < unit; i++ {
		pos := int(ins.Offset) + i
		if pos >= len(buf.Bytes) {
			break
		}
		n |= uint64(buf.Bytes[pos]) << (8 * i)
	}
	_ = frame.Local.Set(ins.RDIndex, value.Uint(n))
	return false
}

// execMemoryPtr implements PTR: builds a Pointer into Local[rs], written
// to rd, the memory-format counterpart of REF.
func (ip *Interpreter) execMemoryPtr(p *process.Process, frame *stack.Frame, ins bytecode.Instruction) bool {
	tok, err := frame.Local.Liveness(ins.RSIndex)
	if err != nil {
		return false
	}
	ptr := value.NewPointer(uint64(p.Pid), bytecode.SetLocal, uint16(ins.RSIndex), tok)
	_ = frame.Local.Set(ins.RDIndex, value.Box(ptr))
	return false
}
