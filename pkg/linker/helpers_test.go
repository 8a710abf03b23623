package linker

import (
	"debug/elf"
	"testing"
)

const (
	textFlags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	dataFlags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	progbits  = uint64(elf.SHT_PROGBITS)
)

func newTestContext(mt MachineType, eflags uint32) *Context {
	ctx := NewContext()
	ctx.Args.Emulation = mt
	ctx.Args.ImageBase = 0x1000
	ctx.Target = NewTarget(mt, eflags)
	CreateSyntheticSections(ctx)
	return ctx
}

func addDefined(ctx *Context, name string, isec *InputSection, value, size uint64, typ elf.SymType) SymbolID {
	sym := NewSymbol(name)
	sym.Value = value
	sym.Size = size
	sym.Type = uint8(typ)
	sym.SetInputSection(isec)
	id := ctx.AddSymbol(sym)
	ctx.SymbolMap[name] = id
	return id
}

func absSymbol(ctx *Context, name string, value uint64) SymbolID {
	sym := NewSymbol(name)
	sym.Value = value
	sym.IsAbs = true
	id := ctx.AddSymbol(sym)
	ctx.SymbolMap[name] = id
	return id
}

// code concatenates instruction words, little endian.
func code(insns ...uint32) []byte {
	buf := make([]byte, 4*len(insns))
	for i, insn := range insns {
		write32(buf[4*i:], insn)
	}
	return buf
}

func nops(n int) []byte {
	buf := make([]byte, 0, n)
	for ; n >= 4; n -= 4 {
		buf = append(buf, code(insnNop)...)
	}
	if n == 2 {
		buf = append(buf, byte(insnCNop), byte(insnCNop>>8))
	}
	return buf
}

// callPair is auipc rs, 0; jalr rd, 0(rs).
func callPair(rd uint32) []byte {
	rs := regT1
	if rd == regRA {
		rs = regRA
	}
	return code(utype(opAUIPC, rs, 0), itype(opJALR, rd, rs, 0))
}

func concat(parts ...[]byte) []byte {
	var buf []byte
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func addCall(ctx *Context, isec *InputSection, offset uint64, sym SymbolID) {
	isec.AddRelocation(ctx, offset, R_RISCV_CALL_PLT, sym, 0)
	isec.AddRelocation(ctx, offset, R_RISCV_RELAX, NoSymbol, 0)
}

func mustNoErrors(t *testing.T, ctx *Context) {
	t.Helper()
	if errs := ctx.Diag.Errors(); len(errs) != 0 {
		t.Fatalf("unexpected diagnostics: %v", errs)
	}
}
