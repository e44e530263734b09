package elfload

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// viuaMagic is the required contents of the .viua.magic section.
var viuaMagic = [8]byte{0x7F, 'V', 'I', 'U', 'A', 0, 0, 0}

// Fragment is one ELF section, together with the program header that
// covers it, if any (sections backed by a PT_LOAD segment get their
// Phdr's Vaddr/Offset, used to derive file-relative entry points).
type Fragment struct {
	Name   string
	Offset uint64
	Size   uint64
	Data   []byte

	hasPhdr bool
	phOff   uint64
}

// Symbol is a resolved entry from .symtab: a name and the byte offset of
// the function's first instruction within .text.
type Symbol struct {
	Name  string
	Value uint64 // byte offset into .text
	Func  bool
}

// Module is a parsed Viua bytecode container: decoded instruction text,
// the read-only string/data table, and the symbol and label tables needed
// to resolve calls by name.
type Module struct {
	Fragments map[string]*Fragment

	Text   []uint64 // decoded little-endian 64-bit instruction words
	Rodata []byte

	Symbols []Symbol
	fnMap   map[string]uint64 // function name -> byte offset into .text

	Labels map[uint64]string // byte offset into .text -> label name

	entry    uint64
	hasEntry bool

	closer interface{ Close() error }
}

// Close releases any memory-mapped backing storage. It is a no-op for
// modules parsed from an in-memory byte slice via Parse.
func (m *Module) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// Load memory-maps path and parses it as a Viua bytecode module. The
// returned Module's Close method unmaps the file; callers that need the
// module to outlive the call should defer Close explicitly rather than
// relying on finalization.
func Load(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfload: %w", err)
	}
	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfload: mmap: %w", err)
	}
	mod, err := Parse([]byte(region))
	if err != nil {
		region.Unmap()
		f.Close()
		return nil, err
	}
	mod.closer = closerFunc(func() error {
		unmapErr := region.Unmap()
		closeErr := f.Close()
		if unmapErr != nil {
			return unmapErr
		}
		return closeErr
	})
	return mod, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Parse parses an in-memory ELF64 buffer as a Viua bytecode module. The
// returned Module retains data by reference; callers must keep it alive
// for the Module's lifetime.
func Parse(data []byte) (*Module, error) {
	eh, err := readEhdr64(data)
	if err != nil {
		return nil, err
	}

	if eh.Shnum == 0 || eh.Shstrndx >= eh.Shnum {
		return nil, fmt.Errorf("section header table: %w", ErrBadHeader)
	}

	shdrs := make([]shdr64, eh.Shnum)
	for i := range shdrs {
		sh, err := readShdr64(data, int64(eh.Shoff)+int64(i)*int64(eh.Shentsize))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		shdrs[i] = sh
	}

	shstrtabHdr := shdrs[eh.Shstrndx]
	shstrtab, err := sectionBytes(data, shstrtabHdr)
	if err != nil {
		return nil, fmt.Errorf(".shstrtab: %w", err)
	}

	phdrs := make([]phdr64, eh.Phnum)
	for i := range phdrs {
		ph, err := readPhdr64(data, int64(eh.Phoff)+int64(i)*int64(eh.Phentsize))
		if err != nil {
			return nil, fmt.Errorf("program header %d: %w", i, err)
		}
		phdrs[i] = ph
	}

	m := &Module{Fragments: make(map[string]*Fragment), Labels: make(map[uint64]string), fnMap: make(map[string]uint64)}

	var symtabHdr, strtabHdr *shdr64
	for i := range shdrs {
		sh := shdrs[i]
		name := cstring(shstrtab, sh.Name)
		if name == "" && sh.Type == shtNull {
			continue
		}
		body, err := sectionBytes(data, sh)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", name, err)
		}
		frag := &Fragment{Name: name, Offset: sh.Offset, Size: sh.Size, Data: body}
		for _, ph := range phdrs {
			if ph.Offset <= sh.Offset && sh.Offset < ph.Offset+ph.Filesz {
				frag.hasPhdr = true
				frag.phOff = ph.Offset
				break
			}
		}
		m.Fragments[name] = frag

		switch name {
		case ".symtab":
			s := sh
			symtabHdr = &s
		case ".strtab":
			s := sh
			strtabHdr = &s
		}
	}

	for _, required := range []string{".interp", ".viua.magic", ".text", ".rodata", ".symtab", ".strtab"} {
		if _, ok := m.Fragments[required]; !ok {
			return nil, fmt.Errorf("%s: %w", required, ErrMissingSection)
		}
	}

	magic := m.Fragments[".viua.magic"]
	if len(magic.Data) != 8 || [8]byte(magic.Data[:8]) != viuaMagic {
		return nil, ErrBadMagic
	}

	textFrag := m.Fragments[".text"]
	if len(textFrag.Data)%8 != 0 {
		return nil, fmt.Errorf(".text: %w: size %d not a multiple of 8", ErrBadHeader, len(textFrag.Data))
	}
	m.Text = make([]uint64, len(textFrag.Data)/8)
	for i := range m.Text {
		m.Text[i] = binary.LittleEndian.Uint64(textFrag.Data[i*8 : i*8+8])
	}
	m.Rodata = m.Fragments[".rodata"].Data

	strtab := m.Fragments[".strtab"].Data
	if symtabHdr != nil && strtabHdr != nil {
		symData := m.Fragments[".symtab"].Data
		if symtabHdr.EntSize == 0 || uint64(len(symData))%symtabHdr.EntSize != 0 {
			return nil, fmt.Errorf(".symtab: %w: bad entsize", ErrBadHeader)
		}
		n := uint64(len(symData)) / symtabHdr.EntSize
		for i := uint64(0); i < n; i++ {
			s, err := readSym64(symData, int64(i*sym64Size))
			if err != nil {
				return nil, fmt.Errorf(".symtab[%d]: %w", i, err)
			}
			sym := Symbol{Name: cstring(strtab, s.Name), Value: s.Value, Func: s.kind() == sttFunc}
			m.Symbols = append(m.Symbols, sym)
			if sym.Func {
				m.fnMap[sym.Name] = sym.Value
			}
		}
	}

	if labelsFrag, ok := m.Fragments[".viua.labels"]; ok {
		if err := parseLabels(labelsFrag.Data, m.Labels); err != nil {
			return nil, fmt.Errorf(".viua.labels: %w", err)
		}
	}

	if eh.Entry != 0 {
		textBase := textFrag.Offset
		if textFrag.hasPhdr {
			textBase = textFrag.phOff
		}
		m.entry = eh.Entry - textBase
		m.hasEntry = true
	}

	return m, nil
}

func sectionBytes(data []byte, sh shdr64) ([]byte, error) {
	if sh.Type == shtNoBits || sh.Size == 0 {
		return nil, nil
	}
	end := sh.Offset + sh.Size
	if end > uint64(len(data)) {
		return nil, ErrTruncated
	}
	return data[sh.Offset:end], nil
}

// parseLabels decodes the .viua.labels section: a sequence of
// <u64 name-size><name bytes><u64 address> tuples.
func parseLabels(data []byte, out map[uint64]string) error {
	off := 0
	for off < len(data) {
		if off+8 > len(data) {
			return ErrTruncated
		}
		size := binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		if uint64(off)+size+8 > uint64(len(data)) {
			return ErrTruncated
		}
		name := string(data[off : off+int(size)])
		off += int(size)
		addr := binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		out[addr] = name
	}
	return nil
}

// EntryPoint returns the byte offset into .text of the module's entry
// point, derived from e_entry minus .text's segment file offset, and
// whether one is present.
func (m *Module) EntryPoint() (uint64, bool) {
	return m.entry, m.hasEntry
}

// FunctionAt resolves name to its byte offset into .text, reporting
// whether the symbol exists.
func (m *Module) FunctionAt(name string) (uint64, bool) {
	addr, ok := m.fnMap[name]
	return addr, ok
}

// LabelsTable returns the byte-offset-into-.text -> label name mapping
// parsed from the optional .viua.labels section. The returned map is
// owned by the Module and must not be mutated.
func (m *Module) LabelsTable() map[uint64]string {
	return m.Labels
}

// FnMap returns the function name -> byte-offset-into-.text mapping built
// from STT_FUNC symbols in .symtab. The returned map is owned by the
// Module and must not be mutated.
func (m *Module) FnMap() map[string]uint64 {
	return m.fnMap
}
