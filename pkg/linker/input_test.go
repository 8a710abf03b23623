package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type testSym struct {
	name  string
	value uint64
	size  uint64
	bind  elf.SymBind
	typ   elf.SymType
	shndx uint16
}

// writeObject writes a minimal ELF64 relocatable with one .text section
// and its RELA table.
func writeObject(t *testing.T, name string, eflags uint32, text []byte, syms []testSym, relas []Rela) string {
	t.Helper()

	strtab := []byte{0}
	addStr := func(tab *[]byte, s string) uint32 {
		off := uint32(len(*tab))
		*tab = append(*tab, s...)
		*tab = append(*tab, 0)
		return off
	}

	firstGlobal := uint32(1)
	esyms := []Sym64{{}}
	for _, s := range syms {
		if s.bind == elf.STB_LOCAL {
			firstGlobal++
		}
		esyms = append(esyms, Sym64{
			Name:  addStr(&strtab, s.name),
			Info:  uint8(s.bind)<<4 | uint8(s.typ),
			Shndx: s.shndx,
			Value: s.value,
			Size:  s.size,
		})
	}

	shstrtab := []byte{0}
	names := []uint32{0}
	for _, n := range []string{".text", ".rela.text", ".symtab", ".strtab", ".shstrtab"} {
		names = append(names, addStr(&shstrtab, n))
	}

	var body bytes.Buffer
	write := func(v any) uint64 {
		off := uint64(ELFHeaderSize) + uint64(body.Len())
		if err := binary.Write(&body, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
		return off
	}

	textOff := write(text)
	symOff := write(esyms)
	strOff := write(strtab)
	relaOff := write(relas)
	shstrOff := write(shstrtab)
	for body.Len()%8 != 0 {
		body.WriteByte(0)
	}
	shoff := uint64(ELFHeaderSize) + uint64(body.Len())

	shdrs := []SectionHeader{
		{},
		{Name: names[1], Type: uint32(elf.SHT_PROGBITS), Flags: textFlags,
			Offset: textOff, Size: uint64(len(text)), Addralign: 4},
		{Name: names[2], Type: uint32(elf.SHT_RELA), Offset: relaOff,
			Size: uint64(len(relas)) * uint64(RelaSize), Link: 3, Info: 1,
			Addralign: 8, Entsize: uint64(RelaSize)},
		{Name: names[3], Type: uint32(elf.SHT_SYMTAB), Offset: symOff,
			Size: uint64(len(esyms)) * uint64(SymbolSize), Link: 4, Info: firstGlobal,
			Addralign: 8, Entsize: uint64(SymbolSize)},
		{Name: names[4], Type: uint32(elf.SHT_STRTAB), Offset: strOff, Size: uint64(len(strtab)), Addralign: 1},
		{Name: names[5], Type: uint32(elf.SHT_STRTAB), Offset: shstrOff, Size: uint64(len(shstrtab)), Addralign: 1},
	}

	ehdr := Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Flags:     eflags,
		Ehsize:    uint16(ELFHeaderSize),
		Shentsize: uint16(SectionHeaderSize),
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  5,
	}
	copy(ehdr.Ident[:], elfMagic)
	ehdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	for _, v := range []any{ehdr, body.Bytes(), shdrs} {
		if err := binary.Write(&out, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadObjectAndRelax(t *testing.T) {
	path := writeObject(t, "tail.o", EF_RISCV_RVC,
		concat(callPair(regZero), nops(12), code(0x00008067)),
		[]testSym{
			{name: ".text", bind: elf.STB_LOCAL, typ: elf.STT_SECTION, shndx: 1},
			{name: "f", value: 0x14, size: 4, bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: 1},
			{name: "ext", bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE},
		},
		[]Rela{
			{Offset: 0, Type: uint32(R_RISCV_CALL_PLT), Sym: 2},
			{Offset: 0, Type: uint32(R_RISCV_RELAX)},
		})

	ctx := NewContext()
	ctx.Args.ImageBase = 0x1000
	ReadInputFiles(ctx, []string{path})
	if ctx.Args.Emulation != MachineTypeRISCV64 {
		t.Fatalf("emulation %d, want riscv64", ctx.Args.Emulation)
	}

	eflags, err := CalcEFlags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ctx.Target = NewTarget(ctx.Args.Emulation, eflags)
	if !ctx.Target.HasRVC() {
		t.Fatal("RVC flag lost")
	}

	ReadRelocations(ctx)
	CreateSyntheticSections(ctx)
	ScanRelocations(ctx)
	mustNoErrors(t, ctx)

	obj := ctx.Objs[0]
	text := obj.InputSections[1]
	if text == nil || text.Name != ".text" || text.ShSize != 0x18 {
		t.Fatalf("text section not loaded: %+v", text)
	}
	if len(text.Rels) != 2 || text.Rels[0].Expr != ExprPltPC || text.Rels[1].Expr != ExprRelaxHint {
		t.Fatalf("relocations: %+v", text.Rels)
	}
	f := ctx.SymbolMap["f"]
	if ctx.Symbol(f).InputSection != text || ctx.Symbol(f).File != obj {
		t.Fatal("f is not defined by the object")
	}
	if ctx.SymbolName(obj.Symbols[1]) != ".text" {
		t.Errorf("section symbol named %q", ctx.SymbolName(obj.Symbols[1]))
	}

	if _, err := Relax(ctx); err != nil {
		t.Fatal(err)
	}
	WriteImage(ctx)
	if err := ApplyRelocations(ctx); err != nil {
		t.Fatal(err)
	}
	mustNoErrors(t, ctx)

	if len(ctx.Buf) != 0x12 {
		t.Fatalf("image is %d bytes, want 0x12", len(ctx.Buf))
	}
	if got := cjTypeImm.gather(uint32(read16(ctx.Buf))); got != 0x0e {
		t.Errorf("c.j displacement 0x%x, want 0xe", got)
	}
	if got := read32(ctx.Buf[0x0e:]); got != 0x00008067 {
		t.Errorf("f does not start with ret: 0x%08x", got)
	}
}

func TestReadObjectDuplicateSymbol(t *testing.T) {
	syms := []testSym{{name: "f", bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: 1}}
	a := writeObject(t, "a.o", 0, code(insnNop), syms, nil)
	b := writeObject(t, "b.o", 0, code(insnNop), syms, nil)

	ctx := NewContext()
	ReadInputFiles(ctx, []string{a, b})
	if !ctx.Diag.HasErrors() {
		t.Error("duplicate definition of f was accepted")
	}
}

func TestReadObjectWeakOverride(t *testing.T) {
	weak := writeObject(t, "weak.o", 0, code(insnNop),
		[]testSym{{name: "f", bind: elf.STB_WEAK, typ: elf.STT_FUNC, shndx: 1}}, nil)
	strong := writeObject(t, "strong.o", 0, code(insnNop, insnNop),
		[]testSym{{name: "f", value: 4, bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: 1}}, nil)

	ctx := NewContext()
	ReadInputFiles(ctx, []string{weak, strong})
	mustNoErrors(t, ctx)

	sym := ctx.Symbol(ctx.SymbolMap["f"])
	if sym.IsWeak || sym.Value != 4 || sym.File != ctx.Objs[1] {
		t.Errorf("f resolved to %+v, want the strong definition", sym)
	}
}

func TestCalcEFlags(t *testing.T) {
	newObj := func(name string, flags uint32) *ObjectFile {
		return &ObjectFile{InputFile: InputFile{File: &File{Name: name}, Flags: flags}}
	}

	tests := []struct {
		name     string
		flags    []uint32
		cheriAbi bool
		want     uint32
		err      bool
	}{
		{"rvc union", []uint32{0, EF_RISCV_RVC}, false, EF_RISCV_RVC, false},
		{"float abi", []uint32{0x2, 0x4}, false, 0, true},
		{"rve", []uint32{EF_RISCV_RVE, 0}, false, 0, true},
		{"cheriabi", []uint32{EF_RISCV_CHERIABI, 0}, false, 0, true},
		{"cap mode", []uint32{EF_RISCV_CAP_MODE, EF_RISCV_CAP_MODE | EF_RISCV_RVC}, false,
			EF_RISCV_CAP_MODE | EF_RISCV_RVC, false},
		{"forced cheriabi", []uint32{0}, true, 0, true},
		{"cheriabi agrees", []uint32{EF_RISCV_CHERIABI, EF_RISCV_CHERIABI}, true, EF_RISCV_CHERIABI, false},
	}

	for _, tt := range tests {
		ctx := NewContext()
		ctx.Args.CheriAbi = tt.cheriAbi
		for i, f := range tt.flags {
			ctx.Objs = append(ctx.Objs, newObj(string(rune('a'+i))+".o", f))
		}

		got, err := CalcEFlags(ctx)
		if tt.err {
			if !errors.Is(err, ErrIncompatibleFlags) {
				t.Errorf("%s: got %v, want ErrIncompatibleFlags", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: flags 0x%x, want 0x%x", tt.name, got, tt.want)
		}
	}
}
