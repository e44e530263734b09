package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTripAllFormats(t *testing.T) {
	cases := []Instruction{
		{Op: NewOpcode(FormatN, uint16(OpHalt))},
		{Op: NewOpcode(FormatS, uint16(OpFrame)), RD: RegisterAccess{Set: SetLocal, Index: 3}},
		{
			Op: NewOpcode(FormatD, uint16(OpCopy)),
			RD: RegisterAccess{Set: SetLocal, Index: 1},
			RS: RegisterAccess{Mode: AccessPointerDeref, Set: SetArguments, Index: 2},
		},
		{
			Op:  NewOpcode(FormatT, uint16(OpAdd)),
			RD:  RegisterAccess{Set: SetLocal, Index: 1},
			RS:  RegisterAccess{Set: SetLocal, Index: 2},
			RS2: RegisterAccess{Set: SetLocal, Index: 3},
		},
		{Op: NewOpcode(FormatF, uint16(OpLui)), FRD: RegisterAccess{Index: 5}, Imm: 0xDEADBEEF},
		{
			Op:  NewOpcode(FormatE, uint16(OpCast)),
			RD:  RegisterAccess{Set: SetStatic, Index: 9},
			Imm: 0xF_DEADBEEF, // full 36-bit value
		},
		{Op: NewOpcode(FormatR, uint16(OpAddi)), RDIndex: 2, RSIndex: 3, Imm: 0xABCDEF},
		{Op: NewOpcode(FormatM, uint16(OpSm)), RDIndex: 1, RSIndex: 2, Offset: 0x1234, Unit: 8},
	}
	for _, want := range cases {
		w := want.Encode()
		got := Decode(w)
		assert.Equal(t, w, got.Encode(), "round trip for format %s", want.Op.Format())
		assert.Equal(t, want, got, "decode mismatch for format %s", want.Op.Format())
	}
}

func TestOpcodeModifiers(t *testing.T) {
	op := NewOpcode(FormatT, uint16(OpAdd))
	assert.False(t, op.Greedy())
	assert.False(t, op.Unsigned())
	g := op.WithGreedy(true).WithUnsigned(true)
	assert.True(t, g.Greedy())
	assert.True(t, g.Unsigned())
	assert.Equal(t, FormatT, g.Format())
	assert.Equal(t, op.Number(), g.Number())
}

func TestRegisterAccessRoundTrip(t *testing.T) {
	for _, ra := range []RegisterAccess{
		{Mode: AccessDirect, Set: SetLocal, Index: 0},
		{Mode: AccessPointerDeref, Set: SetGlobal, Index: 2047},
		{Mode: AccessVoid, Set: SetClosureLocal, Index: 1},
	} {
		got := DecodeRegisterAccess(ra.Encode())
		assert.Equal(t, ra, got)
	}
}
