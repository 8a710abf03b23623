package linker

// RewriteCheriotLowRelocs retargets CGP-relative COMPARTMENT_LO_I
// relocations at the symbol of their COMPARTMENT_HI.
//
// An LO_I names the label on its auicgp/auipcc rather than the data it
// reaches, because PCC- and CGP-relative accesses share relocation kinds
// and only the final target tells them apart. Once relaxation deletes an
// auicgp the label no longer leads anywhere, so the real target is copied
// over before pass 0. PCC-relative pairs are left alone; their auipcc is
// never deleted.
func RewriteCheriotLowRelocs(ctx *Context, isec *InputSection) (bool, error) {
	modified := false
	for i := range isec.Rels {
		rel := &isec.Rels[i]
		if rel.Type != R_RISCV_CHERIOT_COMPARTMENT_LO_I || !ctx.IsPCCRelative(rel.Sym) {
			continue
		}

		sym := ctx.Symbol(rel.Sym)
		if sym.InputSection == nil {
			return modified, ctx.Diag.Fatal(ErrMissingCompanion,
				"%s: %s relocation points to an absolute symbol: %s",
				isec.Site(ctx, rel.Offset, rel.Sym), rel.Type, sym.Name)
		}

		var hi *Relocation
		cands := sym.InputSection.RelocationsAt(sym.Value)
		for k := range cands {
			if cands[k].Type == R_RISCV_CHERIOT_COMPARTMENT_HI {
				hi = &cands[k]
				break
			}
		}
		if hi == nil {
			return modified, ctx.Diag.Fatal(ErrMissingCompanion,
				"%s: could not find R_RISCV_CHERIOT_COMPARTMENT_HI relocation for %s",
				isec.Site(ctx, rel.Offset, rel.Sym), sym.Name)
		}
		if ctx.IsPCCRelative(hi.Sym) {
			continue
		}

		rel.Sym = hi.Sym
		rel.Addend = hi.Addend
		modified = true
	}
	return modified, nil
}
