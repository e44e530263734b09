package interp

import (
	"fmt"

	"github.com/viua-vm/viua/pkg/bytecode"
	"github.com/viua-vm/viua/pkg/stack"
	"github.com/viua-vm/viua/pkg/value"
)

// setFor resolves a.Set to the concrete register set backing it, except
// for Global/Static which live on the Kernel rather than the frame.
// Parameters is a read-mostly alias for Arguments: the distilled decoder
// gives them separate set tags but a callee reaches its call-time
// arguments through either name.
func (ip *Interpreter) setFor(frame *stack.Frame, a bytecode.RegisterAccess) (*stack.RegisterSet, *kernelBank, error) {
	switch a.Set {
	case bytecode.SetLocal:
		if frame.Local == nil {
			return nil, nil, fmt.Errorf("interp: local register set not allocated")
		}
		return frame.Local, nil, nil
	case bytecode.SetArguments, bytecode.SetParameters:
		if frame.Arguments == nil {
			return nil, nil, fmt.Errorf("interp: frame has no arguments set")
		}
		return frame.Arguments, nil, nil
	case bytecode.SetClosureLocal:
		if frame.ClosureLocals == nil {
			return nil, nil, fmt.Errorf("interp: frame was not invoked through a closure")
		}
		return frame.ClosureLocals, nil, nil
	case bytecode.SetGlobal:
		return nil, &kernelBank{bank: ip.kernel.Globals()}, nil
	case bytecode.SetStatic:
		return nil, &kernelBank{bank: ip.kernel.StaticsFor(frame.ModulePath, frame.EntryAddress)}, nil
	default:
		return nil, nil, fmt.Errorf("interp: unknown register set tag %v", a.Set)
	}
}

// kernelBank adapts kernel.RegisterBank to the same narrow Get/Set shape
// a stack.RegisterSet exposes, so readAccess/writeAccess can treat
// process-wide and per-frame sets uniformly.
type kernelBank struct {
	bank interface {
		Get(uint16) value.Value
		Set(uint16, value.Value)
	}
}

// readAccess implements a register-access read for every SetTag/
// AccessMode combination the decoder can produce.
func (ip *Interpreter) readAccess(frame *stack.Frame, a bytecode.RegisterAccess) (value.Value, error) {
	if a.Mode == bytecode.AccessVoid {
		return value.Void(), nil
	}

	rs, bank, err := ip.setFor(frame, a)
	if err != nil {
		return value.Value{}, err
	}

	index := a.Index
	if a.Mode == bytecode.AccessRegisterIndirect {
		idxVal, err := getSlot(rs, bank, index)
		if err != nil {
			return value.Value{}, err
		}
		i, ok := idxVal.Int()
		if !ok {
			u, ok2 := idxVal.Uint()
			if !ok2 {
				return value.Value{}, fmt.Errorf("interp: register-indirect source is not an integer")
			}
			i = int64(u)
		}
		index = uint16(i)
	}

	v, err := getSlot(rs, bank, index)
	if err != nil {
		return value.Value{}, err
	}

	if a.Mode == bytecode.AccessPointerDeref {
		boxed, ok := v.Boxed()
		if !ok {
			return value.Value{}, fmt.Errorf("interp: dereferenced register does not hold a Pointer")
		}
		ptr, ok := boxed.(value.Pointer)
		if !ok {
			return value.Value{}, fmt.Errorf("interp: dereferenced register does not hold a Pointer")
		}
		if !ptr.Live() {
			return value.Value{}, fmt.Errorf("interp: dereferenced pointer is no longer live")
		}
		target := bytecode.RegisterAccess{Mode: bytecode.AccessDirect, Set: ptr.Set, Index: ptr.Index}
		return ip.readAccess(frame, target)
	}

	return v, nil
}

// writeAccess implements a register-access write. AccessVoid discards.
func (ip *Interpreter) writeAccess(frame *stack.Frame, a bytecode.RegisterAccess, v value.Value) error {
	if a.Mode == bytecode.AccessVoid {
		return nil
	}

	rs, bank, err := ip.setFor(frame, a)
	if err != nil {
		return err
	}

	index := a.Index
	if a.Mode == bytecode.AccessRegisterIndirect {
		idxVal, err := getSlot(rs, bank, index)
		if err != nil {
			return err
		}
		i, ok := idxVal.Int()
		if !ok {
			u, ok2 := idxVal.Uint()
			if !ok2 {
				return fmt.Errorf("interp: register-indirect destination is not an integer")
			}
			i = int64(u)
		}
		index = uint16(i)
	}

	if a.Mode == bytecode.AccessPointerDeref {
		cur, err := getSlot(rs, bank, index)
		if err != nil {
			return err
		}
		boxed, ok := cur.Boxed()
		if !ok {
			return fmt.Errorf("interp: dereferenced register does not hold a Pointer")
		}
		ptr, ok := boxed.(value.Pointer)
		if !ok {
			return fmt.Errorf("interp: dereferenced register does not hold a Pointer")
		}
		if !ptr.Live() {
			return fmt.Errorf("interp: dereferenced pointer is no longer live")
		}
		target := bytecode.RegisterAccess{Mode: bytecode.AccessDirect, Set: ptr.Set, Index: ptr.Index}
		return ip.writeAccess(frame, target, v)
	}

	return setSlot(rs, bank, index, v)
}

func getSlot(rs *stack.RegisterSet, bank *kernelBank, index uint16) (value.Value, error) {
	if rs != nil {
		return rs.Get(index)
	}
	return bank.bank.Get(index), nil
}

func setSlot(rs *stack.RegisterSet, bank *kernelBank, index uint16, v value.Value) error {
	if rs != nil {
		return rs.Set(index, v)
	}
	bank.bank.Set(index, v)
	return nil
}
