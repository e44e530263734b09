// Package fixture builds in-memory test inputs — serialized ELF64 bytecode
// containers and raw instruction words — standing in for the assembler
// frontend, which is out of scope for this runtime.
package fixture

import (
	"encoding/binary"
	"sort"
)

// section is an in-progress section body pending layout.
type section struct {
	name    string
	typ     uint32
	entsize uint64
	data    []byte
}

// ELFBuilder assembles a minimal but well-formed Viua ELF64 container.
type ELFBuilder struct {
	text    []uint64
	rodata  []byte
	symbols []elfSym
	labels  []labelEntry
}

type elfSym struct {
	name  string
	value uint64
	isFn  bool
}

type labelEntry struct {
	name string
	addr uint64
}

// NewELFBuilder starts a new container builder.
func NewELFBuilder() *ELFBuilder { return &ELFBuilder{} }

// Text sets the instruction words making up .text.
func (b *ELFBuilder) Text(words []uint64) *ELFBuilder {
	b.text = words
	return b
}

// Rodata sets the contents of .rodata.
func (b *ELFBuilder) Rodata(data []byte) *ELFBuilder {
	b.rodata = data
	return b
}

// Function registers a STT_FUNC symbol at the given byte offset into .text.
func (b *ELFBuilder) Function(name string, byteOffset uint64) *ELFBuilder {
	b.symbols = append(b.symbols, elfSym{name: name, value: byteOffset, isFn: true})
	return b
}

// Label adds an entry to the optional .viua.labels section.
func (b *ELFBuilder) Label(name string, byteOffset uint64) *ELFBuilder {
	b.labels = append(b.labels, labelEntry{name: name, addr: byteOffset})
	return b
}

const (
	ehdr64Size = 64
	phdr64Size = 56
	shdr64Size = 64
	sym64Size  = 24

	sttFunc = 2
)

// Build serializes the container. entryFn selects which registered
// function's offset becomes e_entry (added back to .text's segment file
// offset, so EntryPoint() round-trips to the original byte offset); pass
// "" to leave e_entry at zero (no entry point).
func (b *ELFBuilder) Build(entryFn string) []byte {
	var strtab []byte
	strtab = append(strtab, 0)
	nameOff := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, []byte(s)...)
		strtab = append(strtab, 0)
		return off
	}

	textBytes := make([]byte, len(b.text)*8)
	for i, w := range b.text {
		binary.LittleEndian.PutUint64(textBytes[i*8:i*8+8], w)
	}

	var symtab []byte
	// null symbol
	symtab = append(symtab, make([]byte, sym64Size)...)
	sort.SliceStable(b.symbols, func(i, j int) bool { return b.symbols[i].name < b.symbols[j].name })
	for _, s := range b.symbols {
		entry := make([]byte, sym64Size)
		binary.LittleEndian.PutUint32(entry[0:4], nameOff(s.name))
		kind := byte(0)
		if s.isFn {
			kind = sttFunc
		}
		entry[4] = kind
		binary.LittleEndian.PutUint64(entry[8:16], s.value)
		symtab = append(symtab, entry...)
	}

	var labelsSec []byte
	for _, l := range b.labels {
		sz := make([]byte, 8)
		binary.LittleEndian.PutUint64(sz, uint64(len(l.name)))
		labelsSec = append(labelsSec, sz...)
		labelsSec = append(labelsSec, []byte(l.name)...)
		addr := make([]byte, 8)
		binary.LittleEndian.PutUint64(addr, l.addr)
		labelsSec = append(labelsSec, addr...)
	}

	sections := []section{
		{name: "", typ: 0}, // SHN_UNDEF
		{name: ".interp", typ: 1, data: []byte("viua\x00")},
		{name: ".viua.magic", typ: 1, data: []byte{0x7F, 'V', 'I', 'U', 'A', 0, 0, 0}},
		{name: ".text", typ: 1, data: textBytes},
		{name: ".rodata", typ: 1, data: b.rodata},
		{name: ".symtab", typ: 2, entsize: sym64Size, data: symtab},
		{name: ".strtab", typ: 3, data: strtab},
	}
	if len(b.labels) > 0 {
		sections = append(sections, section{name: ".viua.labels", typ: 1, data: labelsSec})
	}

	var shstrtab []byte
	shstrtab = append(shstrtab, 0)
	shNameOff := func(s string) uint32 {
		if s == "" {
			return 0
		}
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(s)...)
		shstrtab = append(shstrtab, 0)
		return off
	}
	shstrtabIdx := len(sections)
	sections = append(sections, section{name: ".shstrtab", typ: 3})

	// shstrtab contents depend on every section's name, so resolve all
	// name offsets before laying out section bodies.
	names := make([]uint32, len(sections))
	for i, s := range sections {
		names[i] = shNameOff(s.name)
	}
	sections[shstrtabIdx].data = shstrtab

	// Layout: header, then section bodies packed back to back, then the
	// section header table.
	offsets := make([]uint64, len(sections))
	cursor := uint64(ehdr64Size)
	var body []byte
	textFileOffset := uint64(0)

	for i, s := range sections {
		offsets[i] = cursor
		if s.name == ".text" {
			textFileOffset = cursor
		}
		body = append(body, s.data...)
		cursor += uint64(len(s.data))
	}

	shoff := cursor

	var entry uint64
	if entryFn != "" {
		for _, s := range b.symbols {
			if s.name == entryFn {
				entry = textFileOffset + s.value
				break
			}
		}
	}

	ehdr := make([]byte, ehdr64Size)
	ehdr[0], ehdr[1], ehdr[2], ehdr[3] = 0x7F, 'E', 'L', 'F'
	ehdr[4] = 2   // ELFCLASS64
	ehdr[5] = 1   // ELFDATA2LSB
	ehdr[6] = 1   // EV_CURRENT
	ehdr[7] = 255 // ELFOSABI_STANDALONE
	binary.LittleEndian.PutUint32(ehdr[20:24], 1) // e_version
	binary.LittleEndian.PutUint64(ehdr[24:32], entry)
	binary.LittleEndian.PutUint64(ehdr[32:40], 0) // e_phoff (no program headers)
	binary.LittleEndian.PutUint64(ehdr[40:48], shoff)
	binary.LittleEndian.PutUint16(ehdr[52:54], ehdr64Size) // e_ehsize
	binary.LittleEndian.PutUint16(ehdr[54:56], phdr64Size) // e_phentsize
	binary.LittleEndian.PutUint16(ehdr[56:58], 0)          // e_phnum
	binary.LittleEndian.PutUint16(ehdr[58:60], shdr64Size) // e_shentsize
	binary.LittleEndian.PutUint16(ehdr[60:62], uint16(len(sections)))
	binary.LittleEndian.PutUint16(ehdr[62:64], uint16(shstrtabIdx))

	var shtab []byte
	linkOf := func(s section) uint32 {
		if s.name == ".symtab" {
			for i, s2 := range sections {
				if s2.name == ".strtab" {
					return uint32(i)
				}
			}
		}
		return 0
	}
	for i, s := range sections {
		sh := make([]byte, shdr64Size)
		binary.LittleEndian.PutUint32(sh[0:4], names[i])
		binary.LittleEndian.PutUint32(sh[4:8], s.typ)
		binary.LittleEndian.PutUint64(sh[24:32], offsets[i])
		binary.LittleEndian.PutUint64(sh[32:40], uint64(len(s.data)))
		binary.LittleEndian.PutUint32(sh[40:44], linkOf(s))
		binary.LittleEndian.PutUint64(sh[48:56], s.entsize)
		shtab = append(shtab, sh...)
	}

	out := make([]byte, 0, len(ehdr)+len(body)+len(shtab))
	out = append(out, ehdr...)
	out = append(out, body...)
	out = append(out, shtab...)
	return out
}
