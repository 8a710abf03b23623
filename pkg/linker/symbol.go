package linker

import "debug/elf"

const (
	NeedsGot uint32 = 1 << iota
	NeedsGotTp
	NeedsTlsGd
	NeedsPlt
	NeedsCapTable
	NeedsCapTableTlsIe
	NeedsCapTableTlsGd
)

// SymbolID indexes Context.Symbols. Relocations and anchors refer to
// symbols only through it.
type SymbolID int32

const NoSymbol SymbolID = -1

// SymbolAux holds synthetic table slots; -1 means no slot.
type SymbolAux struct {
	GotIdx         int32
	GotTpIdx       int32
	TlsGdIdx       int32
	PltIdx         int32
	CapTabIdx      int32
	CapTabTlsIeIdx int32
	CapTabTlsGdIdx int32
}

type Symbol struct {
	File         *ObjectFile
	InputSection *InputSection
	Name         string
	Value        uint64
	Size         uint64
	SymIdx       int32
	Type         uint8
	IsWeak       bool
	IsAbs        bool
	IsImport     bool

	Flags uint32
	Aux   SymbolAux
}

func NewSymbol(name string) *Symbol {
	s := &Symbol{
		Name:   name,
		SymIdx: -1,
		Aux: SymbolAux{
			GotIdx:         -1,
			GotTpIdx:       -1,
			TlsGdIdx:       -1,
			PltIdx:         -1,
			CapTabIdx:      -1,
			CapTabTlsIeIdx: -1,
			CapTabTlsGdIdx: -1,
		},
	}

	return s
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
}

func (s *Symbol) IsDefined() bool {
	return s.InputSection != nil || s.IsAbs
}

func (s *Symbol) IsFunc() bool {
	return s.Type == uint8(elf.STT_FUNC)
}

func GetSymbolByName(ctx *Context, name string) SymbolID {
	if id, ok := ctx.SymbolMap[name]; ok {
		return id
	}
	id := ctx.AddSymbol(NewSymbol(name))
	ctx.SymbolMap[name] = id
	return id
}
