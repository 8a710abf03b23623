package linker

import (
	"debug/elf"
	"testing"
)

func TestCheriRequiredAlignment(t *testing.T) {
	tests := []struct {
		size, want uint64
	}{
		{0, 1},
		{256, 1},
		{511, 2},
		{512, 2},
		{0x1000, 16},
	}
	for _, tt := range tests {
		if got := CheriRequiredAlignment(tt.size); got != tt.want {
			t.Errorf("CheriRequiredAlignment(0x%x) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestImplicitAddend(t *testing.T) {
	rv32 := NewTarget(MachineTypeRISCV32, 0)
	rv64 := NewTarget(MachineTypeRISCV64, 0)
	buf := []byte{0xfc, 0xff, 0xff, 0xff, 0, 0, 0, 0}

	tests := []struct {
		name   string
		target Target
		typ    RelType
		want   int64
		ok     bool
	}{
		{"word", rv64, R_RISCV_32, -4, true},
		{"dword", rv64, R_RISCV_64, 0xfffffffc, true},
		{"relative32", rv32, R_RISCV_RELATIVE, 0xfffffffc, true},
		{"none", rv64, R_RISCV_NONE, 0, true},
		{"call", rv64, R_RISCV_CALL, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.target.ImplicitAddend(buf, tt.typ)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: got %d %v, want %d %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRelExprOf(t *testing.T) {
	ctx := newTestContext(MachineTypeRISCV32, EF_RISCV_CHERIABI)
	text := ctx.AddSection(".text", progbits, textFlags, 4, code(insnNop))
	data := ctx.AddSection(".data", progbits, dataFlags, 4, make([]byte, 4))
	fn := addDefined(ctx, "fn", text, 0, 4, elf.STT_FUNC)
	v := addDefined(ctx, "v", data, 0, 4, elf.STT_OBJECT)

	tests := []struct {
		typ  RelType
		sym  SymbolID
		want RelExpr
	}{
		{R_RISCV_64, v, ExprAbs},
		{R_RISCV_SUB16, v, ExprAdd},
		{R_RISCV_CALL_PLT, fn, ExprPltPC},
		{R_RISCV_PCREL_LO12_S, fn, ExprPCIndirect},
		{R_RISCV_ALIGN, NoSymbol, ExprRelaxHint},
		{R_RISCV_CHERIOT_COMPARTMENT_HI, fn, ExprPC},
		{R_RISCV_CHERIOT_COMPARTMENT_HI, v, ExprCGPRelHi},
		{R_RISCV_CHERIOT_COMPARTMENT_SIZE, v, ExprCompartmentSize},
	}
	for _, tt := range tests {
		got, ok := RelExprOf(ctx, tt.typ, tt.sym)
		if !ok || got != tt.want {
			t.Errorf("%s on %s: got %d, want %d", tt.typ, ctx.SymbolName(tt.sym), got, tt.want)
		}
	}

	if _, ok := RelExprOf(ctx, RelType(250), v); ok {
		t.Error("unassigned kind 250 was classified")
	}

	ctx.Args.Relax = false
	if got, _ := RelExprOf(ctx, R_RISCV_RELAX, NoSymbol); got != ExprNone {
		t.Errorf("RELAX with relaxation off classified as %d", got)
	}
	if got, _ := RelExprOf(ctx, R_RISCV_ALIGN, NoSymbol); got != ExprRelaxHint {
		t.Errorf("ALIGN with relaxation off classified as %d", got)
	}
}
