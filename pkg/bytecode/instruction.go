package bytecode

// Word is one 64-bit instruction, always little-endian on the wire.
type Word uint64

// Instruction is the decoded, typed form of a Word. Exactly one of the
// embedded-by-convention fields is meaningful, depending on Op.Format().
// Unused fields are zero.
type Instruction struct {
	Op Opcode

	// S, D, T formats.
	RD  RegisterAccess
	RS  RegisterAccess
	RS2 RegisterAccess

	// F, E formats.
	FRD RegisterAccess // F format stores rd as a plain 16-bit index wrapped here with Mode=AccessDirect
	Imm uint64         // sign/zero interpretation is opcode-dependent

	// R, M formats: compact 8-bit register fields (no addressing mode —
	// always direct access to the local set).
	RDIndex uint8
	RSIndex uint8
	Offset  uint16 // M format memory offset
	Unit    uint8  // M format unit-size spec
}

// Decode unpacks a 64-bit instruction word into its typed form. Decode
// never fails on a structurally well-formed word: an unrecognised opcode
// number decodes successfully and is rejected later, at dispatch time,
// with Invalid_opcode.
func Decode(w Word) Instruction {
	op := Opcode(w & 0xFFFF)
	ins := Instruction{Op: op}
	switch op.Format() {
	case FormatN:
		// nothing else to decode
	case FormatS:
		ins.RD = DecodeRegisterAccess(uint16(w >> 16))
	case FormatD:
		ins.RD = DecodeRegisterAccess(uint16(w >> 16))
		ins.RS = DecodeRegisterAccess(uint16(w >> 32))
	case FormatT:
		ins.RD = DecodeRegisterAccess(uint16(w >> 16))
		ins.RS = DecodeRegisterAccess(uint16(w >> 32))
		ins.RS2 = DecodeRegisterAccess(uint16(w >> 48))
	case FormatF:
		ins.FRD = RegisterAccess{Index: uint16(w >> 16)}
		ins.Imm = uint64(uint32(w >> 32))
	case FormatE:
		// 4 high bits of the 36-bit immediate live in the opcode-adjacent
		// nibble (bits 11..8 of the opcode word, just above its 8-bit
		// opcode number); the opcode number proper is the low 8 bits.
		hi := uint64((uint16(op) >> 8) & 0xF)
		ins.Op = Opcode(uint16(op)&0xF000 | op.Number()&0xFF)
		ins.RD = DecodeRegisterAccess(uint16(w >> 16))
		lo := uint64(uint32(w >> 32))
		ins.Imm = hi<<32 | lo
	case FormatR:
		ins.RDIndex = uint8(w >> 16)
		ins.RSIndex = uint8(w >> 24)
		ins.Imm = uint64(w>>32) & 0xFFFFFF
	case FormatM:
		ins.RDIndex = uint8(w >> 16)
		ins.RSIndex = uint8(w >> 24)
		ins.Offset = uint16(w >> 32)
		ins.Unit = uint8(w >> 48)
	}
	return ins
}

// Encode packs a typed instruction back into a 64-bit word. Encode and
// Decode round-trip: Encode(Decode(w)) == w for every well-formed w
// produced by Encode.
func (ins Instruction) Encode() Word {
	var w uint64
	switch ins.Op.Format() {
	case FormatN:
		w = uint64(ins.Op)
	case FormatS:
		w = uint64(ins.Op) | uint64(ins.RD.Encode())<<16
	case FormatD:
		w = uint64(ins.Op) | uint64(ins.RD.Encode())<<16 | uint64(ins.RS.Encode())<<32
	case FormatT:
		w = uint64(ins.Op) | uint64(ins.RD.Encode())<<16 |
			uint64(ins.RS.Encode())<<32 | uint64(ins.RS2.Encode())<<48
	case FormatF:
		w = uint64(ins.Op) | uint64(ins.FRD.Index)<<16 | (ins.Imm&0xFFFFFFFF)<<32
	case FormatE:
		hi := uint16((ins.Imm >> 32) & 0xF)
		op := uint16(ins.Op)&0xF000 | (hi<<8 | ins.Op.Number()&0xFF)
		w = uint64(op) | uint64(ins.RD.Encode())<<16 | (ins.Imm&0xFFFFFFFF)<<32
	case FormatR:
		w = uint64(ins.Op) | uint64(ins.RDIndex)<<16 | uint64(ins.RSIndex)<<24 |
			(ins.Imm&0xFFFFFF)<<32
	case FormatM:
		w = uint64(ins.Op) | uint64(ins.RDIndex)<<16 | uint64(ins.RSIndex)<<24 |
			uint64(ins.Offset)<<32 | uint64(ins.Unit)<<48
	}
	return Word(w)
}
