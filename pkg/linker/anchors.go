package linker

import "sort"

// SymbolAnchor marks where a symbol starts, or ends when End is set,
// within its section's original contents.
type SymbolAnchor struct {
	Offset uint64
	Sym    SymbolID
	End    bool
}

// RelaxAux is the per-section relaxation state.
//
// RelocDeltas[i] is the number of bytes removed at or before Rels[i], so
// the current offset of Rels[i] is Rels[i].Offset minus RelocDeltas[i-1].
// RelocTypes[i] is the kind Rels[i] takes once finalized, or R_RISCV_NONE
// when it is unchanged. Writes holds replacement instructions in
// relocation order.
type RelaxAux struct {
	Anchors     []SymbolAnchor
	RelocDeltas []uint32
	RelocTypes  []RelType
	Writes      []uint32

	// ALIGN sites already diagnosed as short of padding.
	shortAligns map[int]bool
}

// InitSymbolAnchors sets up relaxation state for every member of an
// executable output section and records the start and end of every symbol
// defined in one.
func InitSymbolAnchors(ctx *Context) {
	for _, isec := range ctx.RelaxableSections() {
		isec.RelaxAux = &RelaxAux{}
		if len(isec.Rels) > 0 {
			isec.RelaxAux.RelocDeltas = make([]uint32, len(isec.Rels))
			isec.RelaxAux.RelocTypes = make([]RelType, len(isec.Rels))
		}
	}

	for i, sym := range ctx.Symbols {
		isec := sym.InputSection
		if isec == nil || isec.RelaxAux == nil {
			continue
		}
		id := SymbolID(i)
		isec.RelaxAux.Anchors = append(isec.RelaxAux.Anchors,
			SymbolAnchor{Offset: sym.Value, Sym: id},
			SymbolAnchor{Offset: sym.Value + sym.Size, Sym: id, End: true})
	}

	for _, isec := range ctx.RelaxableSections() {
		anchors := isec.RelaxAux.Anchors
		sort.SliceStable(anchors, func(a, b int) bool {
			if anchors[a].Offset != anchors[b].Offset {
				return anchors[a].Offset < anchors[b].Offset
			}
			return !anchors[a].End && anchors[b].End
		})
	}
}
