package linker

// CapReloc asks the loader to derive a capability for Sym+Addend and
// store it at Offset. Section is nil for .captable slots, whose Offset is
// relative to the table.
type CapReloc struct {
	Section *InputSection
	Offset  uint64
	Type    RelType
	Sym     SymbolID
	Addend  int64
}

// Addr is the image address the capability is written to.
func (c *CapReloc) Addr(snap *Snapshot) uint64 {
	if c.Section == nil {
		return snap.CapTableAddr + c.Offset
	}
	return snap.SectionAddr(c.Section) + c.Offset
}

func (i *InputSection) ScanRelocations(ctx *Context, undef map[SymbolID]bool) {
	for k := range i.Rels {
		rel := &i.Rels[k]
		if rel.Sym < 0 || rel.Expr == ExprNone || rel.Expr == ExprRelaxHint {
			continue
		}

		sym := ctx.Symbol(rel.Sym)
		if !sym.IsDefined() && !sym.IsImport {
			if !sym.IsWeak && !undef[rel.Sym] {
				undef[rel.Sym] = true
				ctx.Diag.Error(i.Site(ctx, rel.Offset, rel.Sym), "undefined symbol: %s", sym.Name)
			}
			continue
		}

		switch rel.Expr {
		case ExprPltPC:
			if sym.IsImport {
				sym.Flags |= NeedsPlt
				if ctx.Target.IsCheriAbi {
					sym.Flags |= NeedsCapTable
				}
			}
		case ExprGotPC:
			if rel.Type == R_RISCV_TLS_GOT_HI20 {
				sym.Flags |= NeedsGotTp
			} else {
				sym.Flags |= NeedsGot
			}
		case ExprTlsGdPC:
			sym.Flags |= NeedsTlsGd
		case ExprCapTableEntryPC:
			sym.Flags |= NeedsCapTable
		case ExprCapTableTlsIePC:
			sym.Flags |= NeedsCapTableTlsIe
		case ExprCapTableTlsGdPC:
			sym.Flags |= NeedsCapTableTlsGd
		case ExprCapability:
			ctx.CapRelocs = append(ctx.CapRelocs, CapReloc{
				Section: i,
				Offset:  rel.Offset,
				Type:    rel.Type,
				Sym:     rel.Sym,
				Addend:  rel.Addend,
			})
		default:
			if sym.IsImport {
				ctx.Diag.Error(i.Site(ctx, rel.Offset, rel.Sym),
					"relocation %s cannot be used against imported symbol %s", rel.Type, sym.Name)
			}
		}
	}
}

// ScanRelocations marks the synthetic slots each symbol needs, allocates
// them in symbol order and reports undefined references.
func ScanRelocations(ctx *Context) {
	undef := make(map[SymbolID]bool)
	for _, isec := range ctx.Sections {
		if isec.IsAlloc() {
			isec.ScanRelocations(ctx, undef)
		}
	}

	for k, sym := range ctx.Symbols {
		if sym.Flags == 0 {
			continue
		}
		id := SymbolID(k)

		if sym.Flags&NeedsGot != 0 {
			ctx.Got.AddGotSymbol(ctx, id)
		}
		if sym.Flags&NeedsGotTp != 0 {
			ctx.Got.AddGotTpSymbol(ctx, id)
		}
		if sym.Flags&NeedsTlsGd != 0 {
			ctx.Got.AddTlsGdSymbol(ctx, id)
		}
		if sym.Flags&NeedsPlt != 0 {
			ctx.Plt.AddSymbol(ctx, id)
		}
		if sym.Flags&NeedsCapTable != 0 {
			ctx.CapTable.AddSymbol(ctx, id)
		}
		if sym.Flags&NeedsCapTableTlsIe != 0 {
			ctx.CapTable.AddTlsIeSymbol(ctx, id)
		}
		if sym.Flags&NeedsCapTableTlsGd != 0 {
			ctx.CapTable.AddTlsGdSymbol(ctx, id)
		}

		sym.Flags = 0
	}
}
