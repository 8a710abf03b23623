package linker

// Snapshot is a read-only copy of every address relaxation and relocation
// need, taken between passes. Planners read cross-section addresses only
// through it, so a pass sees the layout committed by the previous one.
type Snapshot struct {
	ctx *Context

	secAddrs []uint64
	symAddrs []uint64
	symSizes []uint64

	GotAddr      uint64
	GotPltAddr   uint64
	PltAddr      uint64
	CapTableAddr uint64
	TlsAddr      uint64
	CGPAddr      uint64
}

func takeSnapshot(ctx *Context) *Snapshot {
	s := &Snapshot{
		ctx:      ctx,
		secAddrs: make([]uint64, len(ctx.Sections)),
		symAddrs: make([]uint64, len(ctx.Symbols)),
		symSizes: make([]uint64, len(ctx.Symbols)),
	}

	for i, isec := range ctx.Sections {
		if isec.OutputSection != nil {
			s.secAddrs[i] = isec.OutputSection.Shdr.Addr + isec.Offset
		}
	}

	for i, sym := range ctx.Symbols {
		addr := sym.Value
		if sym.InputSection != nil {
			addr += s.secAddrs[sym.InputSection.Id]
		}
		s.symAddrs[i] = addr
		s.symSizes[i] = sym.Size
	}

	if ctx.Got != nil {
		s.GotAddr = ctx.Got.Shdr.Addr
	}
	if ctx.GotPlt != nil {
		s.GotPltAddr = ctx.GotPlt.Shdr.Addr
	}
	if ctx.Plt != nil {
		s.PltAddr = ctx.Plt.Shdr.Addr
	}
	if ctx.CapTable != nil {
		s.CapTableAddr = ctx.CapTable.Shdr.Addr
	}
	return s
}

func (s *Snapshot) SectionAddr(isec *InputSection) uint64 {
	return s.secAddrs[isec.Id]
}

func (s *Snapshot) SymbolAddr(id SymbolID) uint64 {
	if id < 0 {
		return 0
	}
	return s.symAddrs[id]
}

func (s *Snapshot) SymbolSize(id SymbolID) uint64 {
	if id < 0 {
		return 0
	}
	return s.symSizes[id]
}

// PltEntryAddr is the symbol's PLT entry, or the symbol itself when it
// has none.
func (s *Snapshot) PltEntryAddr(id SymbolID) uint64 {
	if id >= 0 {
		if idx := s.ctx.Symbol(id).Aux.PltIdx; idx >= 0 {
			t := &s.ctx.Target
			return s.PltAddr + t.PltHeaderSize + uint64(idx)*t.PltEntrySize
		}
	}
	return s.SymbolAddr(id)
}

func (s *Snapshot) GotPltEntryAddr(id SymbolID) uint64 {
	t := &s.ctx.Target
	idx := uint64(s.ctx.Symbol(id).Aux.PltIdx)
	return s.GotPltAddr + (uint64(t.GotPltHeaderEntriesNum)+idx)*uint64(t.WordSize)
}

func (s *Snapshot) gotSlotAddr(idx int32) uint64 {
	return s.GotAddr + uint64(idx)*uint64(s.ctx.Target.WordSize)
}

func (s *Snapshot) capTableSlotAddr(idx int32) uint64 {
	return s.CapTableAddr + uint64(idx)*uint64(s.ctx.Target.CapabilitySize)
}

// CGPOffset is the displacement of sym+addend from the compartment
// global pointer.
func (s *Snapshot) CGPOffset(id SymbolID, addend int64) int64 {
	return int64(s.SymbolAddr(id) + uint64(addend) - s.CGPAddr)
}

// cgpHiLo splits a CGP offset into the AUICGP immediate, which is scaled
// by 2^11, and the non-negative 11-bit low part.
func cgpHiLo(off int64) (hi int64, lo int64) {
	lo = off & 0x7ff
	return (off - lo) >> 11, lo
}

// CallDest is where a call-family relocation transfers control to.
func (s *Snapshot) CallDest(rel *Relocation) uint64 {
	if rel.Expr == ExprPltPC {
		return s.PltEntryAddr(rel.Sym) + uint64(rel.Addend)
	}
	return s.SymbolAddr(rel.Sym) + uint64(rel.Addend)
}

// TargetVA computes the value written for rel located at address p. The
// second result is false when a diagnosed error leaves no value to write.
func (s *Snapshot) TargetVA(isec *InputSection, rel *Relocation, p uint64) (uint64, bool) {
	ctx := s.ctx
	a := uint64(rel.Addend)
	aux := SymbolAux{}
	if rel.Sym >= 0 {
		aux = ctx.Symbol(rel.Sym).Aux
	}

	switch rel.Expr {
	case ExprAbs, ExprAdd:
		return s.SymbolAddr(rel.Sym) + a, true
	case ExprPC:
		return s.SymbolAddr(rel.Sym) + a - p, true
	case ExprPltPC:
		return s.PltEntryAddr(rel.Sym) + a - p, true
	case ExprGotPC:
		if rel.Type == R_RISCV_TLS_GOT_HI20 {
			return s.gotSlotAddr(aux.GotTpIdx) + a - p, true
		}
		return s.gotSlotAddr(aux.GotIdx) + a - p, true
	case ExprTlsGdPC:
		return s.gotSlotAddr(aux.TlsGdIdx) + a - p, true
	case ExprTpRel, ExprDtpRel:
		return s.SymbolAddr(rel.Sym) + a - s.TlsAddr, true
	case ExprCapTableEntryPC:
		return s.capTableSlotAddr(aux.CapTabIdx) + a - p, true
	case ExprCapTableTlsIePC:
		return s.capTableSlotAddr(aux.CapTabTlsIeIdx) + a - p, true
	case ExprCapTableTlsGdPC:
		return s.capTableSlotAddr(aux.CapTabTlsGdIdx) + a - p, true
	case ExprPCIndirect:
		return s.indirectVA(isec, rel, isPCRelHi20, "R_RISCV_PCREL_HI20")
	case ExprCGPRelHi:
		hi, _ := cgpHiLo(s.CGPOffset(rel.Sym, rel.Addend))
		return uint64(hi), true
	case ExprCGPRelLoI, ExprCGPRelLoS:
		if ctx.IsPCCRelative(rel.Sym) {
			return s.indirectVA(isec, rel, func(t RelType) bool {
				return t == R_RISCV_CHERIOT_COMPARTMENT_HI
			}, "R_RISCV_CHERIOT_COMPARTMENT_HI")
		}
		_, lo := cgpHiLo(s.CGPOffset(rel.Sym, rel.Addend))
		return uint64(lo), true
	case ExprCompartmentSize:
		return s.SymbolSize(rel.Sym) + a, true
	}
	return 0, false
}

// indirectVA resolves a low-part relocation whose symbol labels the
// instruction carrying the matching high-part relocation.
func (s *Snapshot) indirectVA(isec *InputSection, rel *Relocation, match func(RelType) bool, want string) (uint64, bool) {
	ctx := s.ctx
	site := isec.Site(ctx, rel.Offset, rel.Sym)
	sym := ctx.Symbol(rel.Sym)
	if sym.InputSection == nil {
		ctx.Diag.Error(site, "%s relocation points to an absolute symbol: %s",
			rel.Type, sym.Name)
		return 0, false
	}

	if rel.Addend != 0 && rel.Expr == ExprPCIndirect {
		ctx.Diag.Warn(site, "non-zero addend in %s relocation to %s is ignored",
			rel.Type, sym.Name)
	}

	target := sym.InputSection
	for i, hi := range target.RelocationsAt(sym.Value) {
		if !match(hi.Type) {
			continue
		}
		hiRel := target.RelocationsAt(sym.Value)[i]
		return s.TargetVA(target, &hiRel, s.SectionAddr(target)+hiRel.Offset)
	}

	ctx.Diag.Error(site, "%s relocation points to %s without an associated %s relocation",
		rel.Type, sym.Name, want)
	return 0, false
}
