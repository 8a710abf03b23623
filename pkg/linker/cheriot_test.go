package linker

import (
	"debug/elf"
	"errors"
	"testing"

	"rvrelax/pkg/utils"
)

// newCompartment lays out a data section whose start is the global
// pointer and a text section holding, at 0x0, auicgp t0 then lw a0 off t0.
// The low part names the label on the auicgp.
func newCompartment(t *testing.T, hiTarget func(ctx *Context, data *InputSection) SymbolID) (*Context, *InputSection, SymbolID) {
	t.Helper()
	ctx := newTestContext(MachineTypeRISCV32, EF_RISCV_CHERIABI|EF_RISCV_RVC)

	data := ctx.AddSection(".data", progbits, dataFlags, 8, make([]byte, 0x40))
	addDefined(ctx, defaultGlobalPointerName, data, 0, 0, elf.STT_NOTYPE)

	text := ctx.AddSection(".text", progbits, textFlags, 4, code(
		utype(opAUICGP, regT0, 0),
		itype(opLW, 10, regT0, 0),
		insnNop,
	))
	label := addDefined(ctx, ".Lhi", text, 0, 0, elf.STT_NOTYPE)

	target := hiTarget(ctx, data)
	text.AddRelocation(ctx, 0, R_RISCV_CHERIOT_COMPARTMENT_HI, target, 4)
	text.AddRelocation(ctx, 0, R_RISCV_RELAX, NoSymbol, 0)
	text.AddRelocation(ctx, 4, R_RISCV_CHERIOT_COMPARTMENT_LO_I, label, 0)
	text.AddRelocation(ctx, 4, R_RISCV_RELAX, NoSymbol, 0)
	return ctx, text, target
}

func TestRewriteCheriotLowRelocs(t *testing.T) {
	ctx, text, target := newCompartment(t, func(ctx *Context, data *InputSection) SymbolID {
		return addDefined(ctx, "counter", data, 0x1c, 4, elf.STT_OBJECT)
	})

	modified, err := RewriteCheriotLowRelocs(ctx, text)
	if err != nil {
		t.Fatal(err)
	}
	if !modified {
		t.Fatal("low part was not retargeted")
	}
	lo := text.Rels[2]
	if lo.Sym != target || lo.Addend != 4 {
		t.Errorf("low part targets %s%+d, want counter+4", ctx.SymbolName(lo.Sym), lo.Addend)
	}

	// A second run finds nothing left to do.
	modified, err = RewriteCheriotLowRelocs(ctx, text)
	if err != nil || modified {
		t.Errorf("second run: modified %v, err %v", modified, err)
	}
}

func TestRewriteCheriotLowRelocsPCCCompanion(t *testing.T) {
	ctx, text, _ := newCompartment(t, func(ctx *Context, data *InputSection) SymbolID {
		rodata := ctx.AddSection(".rodata", progbits, uint64(elf.SHF_ALLOC), 4, make([]byte, 8))
		return addDefined(ctx, "table", rodata, 0, 8, elf.STT_OBJECT)
	})

	modified, err := RewriteCheriotLowRelocs(ctx, text)
	if err != nil {
		t.Fatal(err)
	}
	if modified {
		t.Error("PCC-relative pair was retargeted")
	}
	if ctx.SymbolName(text.Rels[2].Sym) != ".Lhi" {
		t.Errorf("low part targets %s", ctx.SymbolName(text.Rels[2].Sym))
	}
}

func TestRewriteCheriotLowRelocsMissingCompanion(t *testing.T) {
	tests := []struct {
		name  string
		label func(ctx *Context, text *InputSection) SymbolID
	}{
		{"no high part", func(ctx *Context, text *InputSection) SymbolID {
			return addDefined(ctx, ".Lnowhere", text, 8, 0, elf.STT_NOTYPE)
		}},
		{"absolute label", func(ctx *Context, text *InputSection) SymbolID {
			id := absSymbol(ctx, "abs", 0x40)
			ctx.Symbol(id).Type = uint8(elf.STT_FUNC)
			return id
		}},
	}

	for _, tt := range tests {
		ctx := newTestContext(MachineTypeRISCV32, EF_RISCV_CHERIABI)
		text := ctx.AddSection(".text", progbits, textFlags, 4, code(
			itype(opLW, 10, regT0, 0), insnNop, insnNop))
		text.AddRelocation(ctx, 0, R_RISCV_CHERIOT_COMPARTMENT_LO_I, tt.label(ctx, text), 0)

		_, err := RewriteCheriotLowRelocs(ctx, text)
		if !errors.Is(err, ErrMissingCompanion) {
			t.Errorf("%s: got %v, want ErrMissingCompanion", tt.name, err)
		}

		_, err = Relax(ctx)
		if !errors.Is(err, ErrMissingCompanion) {
			t.Errorf("%s: Relax returned %v, want ErrMissingCompanion", tt.name, err)
		}
	}
}

func TestRelaxCGP(t *testing.T) {
	ctx, text, target := newCompartment(t, func(ctx *Context, data *InputSection) SymbolID {
		return addDefined(ctx, "counter", data, 0x1c, 4, elf.STT_OBJECT)
	})

	if _, err := Relax(ctx); err != nil {
		t.Fatal(err)
	}
	if text.ShSize != 8 {
		t.Fatalf("size %d, want 8 after dropping the auicgp", text.ShSize)
	}
	if text.Rels[0].Type != R_RISCV_RELAX || text.Rels[0].Expr != ExprRelaxHint {
		t.Errorf("high part became %s", text.Rels[0].Type)
	}
	lo := text.Rels[2]
	if lo.Offset != 0 || lo.Type != R_RISCV_CHERIOT_COMPARTMENT_LO_I || lo.Sym != target {
		t.Errorf("low part: %+v", lo)
	}

	if err := ApplyRelocations(ctx); err != nil {
		t.Fatal(err)
	}
	mustNoErrors(t, ctx)

	insn := read32(text.Contents)
	if rs1 := uint32(utils.ExtractBits(uint64(insn), 19, 15)); rs1 != regCGP {
		t.Errorf("load base register x%d, want cgp", rs1)
	}
	if got := iTypeImm.gather(insn); got != 0x20 {
		t.Errorf("load offset 0x%x, want 0x20", got)
	}
	if read32(text.Contents[4:]) != insnNop {
		t.Errorf("trailing nop was disturbed: 0x%08x", read32(text.Contents[4:]))
	}
}

func TestRelaxCGPStore(t *testing.T) {
	ctx := newTestContext(MachineTypeRISCV32, EF_RISCV_CHERIABI|EF_RISCV_RVC)
	data := ctx.AddSection(".data", progbits, dataFlags, 8, make([]byte, 0x40))
	addDefined(ctx, defaultGlobalPointerName, data, 0, 0, elf.STT_NOTYPE)
	counter := addDefined(ctx, "counter", data, 0x1c, 4, elf.STT_OBJECT)

	// auicgp t0, 0; sw a0, 0(t0); nop
	const opSW uint32 = 0x2023
	sw := opSW | regT0<<15 | 10<<20
	text := ctx.AddSection(".text", progbits, textFlags, 4, code(
		utype(opAUICGP, regT0, 0), sw, insnNop))
	text.AddRelocation(ctx, 0, R_RISCV_CHERIOT_COMPARTMENT_HI, counter, 0)
	text.AddRelocation(ctx, 0, R_RISCV_RELAX, NoSymbol, 0)
	text.AddRelocation(ctx, 4, R_RISCV_CHERIOT_COMPARTMENT_LO_S, counter, 0)
	text.AddRelocation(ctx, 4, R_RISCV_RELAX, NoSymbol, 0)

	if _, err := Relax(ctx); err != nil {
		t.Fatal(err)
	}
	if text.ShSize != 8 {
		t.Fatalf("size %d, want 8 after dropping the auicgp", text.ShSize)
	}
	if lo := text.Rels[2]; lo.Offset != 0 || lo.Type != R_RISCV_CHERIOT_COMPARTMENT_LO_S {
		t.Errorf("store part: %+v", lo)
	}

	if err := ApplyRelocations(ctx); err != nil {
		t.Fatal(err)
	}
	mustNoErrors(t, ctx)

	insn := read32(text.Contents)
	if insn&0x707f != opSW {
		t.Errorf("0x%08x is no longer sw", insn)
	}
	if rs1 := uint32(utils.ExtractBits(uint64(insn), 19, 15)); rs1 != regCGP {
		t.Errorf("store base register x%d, want cgp", rs1)
	}
	if rs2 := uint32(utils.ExtractBits(uint64(insn), 24, 20)); rs2 != 10 {
		t.Errorf("stored register x%d, want a0", rs2)
	}
	if got := sTypeImm.gather(insn); got != 0x1c {
		t.Errorf("store offset 0x%x, want 0x1c", got)
	}
}

func TestRelaxCGPFarTarget(t *testing.T) {
	ctx, text, _ := newCompartment(t, func(ctx *Context, data *InputSection) SymbolID {
		big := ctx.AddSection(".data.big", progbits, dataFlags, 8, make([]byte, 0x1000))
		return addDefined(ctx, "far", big, 0xff0, 4, elf.STT_OBJECT)
	})

	if _, err := Relax(ctx); err != nil {
		t.Fatal(err)
	}
	if text.ShSize != 12 {
		t.Errorf("size %d: auicgp with a non-zero immediate was dropped", text.ShSize)
	}

	if err := ApplyRelocations(ctx); err != nil {
		t.Fatal(err)
	}
	mustNoErrors(t, ctx)

	snap := ctx.Layout.Snapshot()
	off := snap.CGPOffset(text.Rels[0].Sym, text.Rels[0].Addend)
	hi := int64(uTypeImm.gather(read32(text.Contents))) >> 12
	lo := int64(iTypeImm.gather(read32(text.Contents[4:])))
	if hi<<11+lo != off {
		t.Errorf("auicgp/lw reach 0x%x, want 0x%x", hi<<11+lo, off)
	}
	if read32(text.Contents)&0x7f != opAUICGP {
		t.Errorf("high part opcode 0x%x, want auicgp", read32(text.Contents)&0x7f)
	}
}

func TestPCRelLoResolvesThroughHi(t *testing.T) {
	ctx := newTestContext(MachineTypeRISCV64, 0)
	data := ctx.AddSection(".data", progbits, dataFlags, 8, make([]byte, 0x10))
	text := ctx.AddSection(".text", progbits, textFlags, 4, code(
		utype(opAUIPC, 10, 0),
		itype(opADDI, 10, 10, 0),
		itype(opADDI, 11, 10, 0),
	))
	v := addDefined(ctx, "v", data, 8, 8, elf.STT_OBJECT)
	label := addDefined(ctx, ".Lpcrel_hi0", text, 0, 0, elf.STT_NOTYPE)
	stray := addDefined(ctx, ".Lstray", text, 4, 0, elf.STT_NOTYPE)

	text.AddRelocation(ctx, 0, R_RISCV_PCREL_HI20, v, 0)
	text.AddRelocation(ctx, 4, R_RISCV_PCREL_LO12_I, label, 0)
	text.AddRelocation(ctx, 8, R_RISCV_PCREL_LO12_I, stray, 0)

	if err := ApplyRelocations(ctx); err != nil {
		t.Fatal(err)
	}

	snap := ctx.Layout.Snapshot()
	want := snap.SymbolAddr(v) - snap.SectionAddr(text)
	hi := uint64(utils.SignExtend(uTypeImm.gather(read32(text.Contents)), 32))
	lo := uint64(utils.SignExtend(iTypeImm.gather(read32(text.Contents[4:])), 12))
	if hi+lo != want {
		t.Errorf("auipc/addi reach 0x%x, want 0x%x", hi+lo, want)
	}

	errs := ctx.Diag.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d diagnostics, want 1 for the unpaired low part: %v", len(errs), errs)
	}
	var serr *SiteError
	if !errors.As(errs[0], &serr) || serr.Offset != 8 {
		t.Errorf("diagnostic %v is not at offset 8", errs[0])
	}
}
