package linker

import (
	"debug/elf"
	"io"
	"log/slog"
)

type ContextArgs struct {
	Output    string
	Emulation MachineType
	ImageBase uint64
	Relax     bool
	MaxPasses int
	Jobs      int
	Imports   []string
	GlobalPtr string
	CheriAbi  bool
}

type Context struct {
	Args   ContextArgs
	Target Target

	Objs      []*ObjectFile
	Symbols   []*Symbol
	SymbolMap map[string]SymbolID

	Sections       []*InputSection
	OutputSections []*OutputSection
	Chunks         []Chunker

	Got      *GotSection
	GotPlt   *GotPltSection
	Plt      *PltSection
	CapTable *CapTableSection

	// Filled by ScanRelocations.
	CapRelocs []CapReloc

	Layout Layout
	Diag   *Diagnostics
	Logger *slog.Logger

	Buf []byte
}

func NewContext() *Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := &Context{
		Args: ContextArgs{
			Output:    "a.out",
			Emulation: MachineTypeNone,
			ImageBase: defaultImageBase,
			Relax:     true,
			MaxPasses: defaultMaxPasses,
			Jobs:      1,
			GlobalPtr: defaultGlobalPointerName,
		},
		SymbolMap: make(map[string]SymbolID),
		Logger:    logger,
		Diag:      NewDiagnostics(logger),
	}
	ctx.Target = NewTarget(MachineTypeRISCV64, 0)
	ctx.Layout = NewImageLayout(ctx)
	return ctx
}

func (ctx *Context) SetLogger(logger *slog.Logger) {
	ctx.Logger = logger
	ctx.Diag.logger = logger
}

func (ctx *Context) AddSymbol(sym *Symbol) SymbolID {
	ctx.Symbols = append(ctx.Symbols, sym)
	return SymbolID(len(ctx.Symbols) - 1)
}

func (ctx *Context) Symbol(id SymbolID) *Symbol {
	return ctx.Symbols[id]
}

func (ctx *Context) SymbolName(id SymbolID) string {
	if id < 0 || int(id) >= len(ctx.Symbols) {
		return "<none>"
	}
	return ctx.Symbols[id].Name
}

// IsPCCRelative reports whether sym is reached through the program
// counter capability rather than the compartment global pointer: code and
// read-only data are, writable data and absolute symbols are not.
func (ctx *Context) IsPCCRelative(id SymbolID) bool {
	if id < 0 {
		return false
	}
	sym := ctx.Symbol(id)
	if sym.IsFunc() {
		return true
	}
	isec := sym.InputSection
	if isec == nil {
		return false
	}
	return isec.Flags&uint64(elf.SHF_WRITE) == 0
}

// RelaxableSections lists the members of executable output sections, in
// layout order.
func (ctx *Context) RelaxableSections() []*InputSection {
	var secs []*InputSection
	for _, osec := range ctx.OutputSections {
		if !isExec(osec) {
			continue
		}
		secs = append(secs, osec.Members...)
	}
	return secs
}
