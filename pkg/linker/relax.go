package linker

import (
	"golang.org/x/sync/errgroup"

	"rvrelax/pkg/utils"
)

// hasRelaxMarker reports whether Rels[i] is followed by an R_RISCV_RELAX
// permitting its relaxation.
func hasRelaxMarker(isec *InputSection, i int) bool {
	if i+1 >= len(isec.Rels) {
		return false
	}
	next := &isec.Rels[i+1]
	return next.Type == R_RISCV_RELAX && next.Expr == ExprRelaxHint
}

// relaxCall shortens auipc+jalr to c.j, c.jal or jal, and the CHERI
// auipcc+cjalr to the matching capability forms.
func relaxCall(ctx *Context, snap *Snapshot, isec *InputSection, i int, loc uint64) uint32 {
	rel := &isec.Rels[i]
	aux := isec.RelaxAux
	if rel.Offset+8 > uint64(len(isec.Contents)) {
		return 0
	}

	jalRVC, jal := R_RISCV_RVC_JUMP, R_RISCV_JAL
	if rel.Type == R_RISCV_CHERI_CCALL {
		jalRVC, jal = R_RISCV_CHERI_RVC_CJUMP, R_RISCV_CHERI_CJAL
	}

	rvc := ctx.Target.HasRVC()
	insnPair := read64(isec.Contents[rel.Offset:])
	rd := uint32(utils.ExtractBits(insnPair, 32+11, 32+7))
	displace := int64(snap.CallDest(rel) - loc)

	switch {
	case rvc && utils.IsInt(displace, 12) && rd == regZero:
		aux.RelocTypes[i] = jalRVC
		aux.Writes = append(aux.Writes, insnCJ)
		return 6
	case rvc && utils.IsInt(displace, 12) && rd == regRA && !ctx.Target.Is64:
		// c.jal only exists on RV32.
		aux.RelocTypes[i] = jalRVC
		aux.Writes = append(aux.Writes, insnCJal)
		return 6
	case utils.IsInt(displace, 21):
		aux.RelocTypes[i] = jal
		aux.Writes = append(aux.Writes, opJAL|rd<<7)
		return 4
	}
	return 0
}

// relaxCGP deletes an auicgp whose immediate is zero and points the paired
// low-part instruction at cgp directly.
func relaxCGP(ctx *Context, snap *Snapshot, isec *InputSection, i int) uint32 {
	rel := &isec.Rels[i]
	aux := isec.RelaxAux
	if ctx.IsPCCRelative(rel.Sym) || rel.Offset+4 > uint64(len(isec.Contents)) {
		return 0
	}
	if hi, _ := cgpHiLo(snap.CGPOffset(rel.Sym, rel.Addend)); hi != 0 {
		return 0
	}

	insn := read32(isec.Contents[rel.Offset:])
	switch rel.Type {
	case R_RISCV_CHERIOT_COMPARTMENT_HI:
		aux.RelocTypes[i] = R_RISCV_RELAX
		return 4
	case R_RISCV_CHERIOT_COMPARTMENT_LO_I, R_RISCV_CHERIOT_COMPARTMENT_LO_S:
		// Stores keep LO_S so the split immediate is still written.
		aux.RelocTypes[i] = rel.Type
		aux.Writes = append(aux.Writes, setRs1(insn, regCGP))
	}
	return 0
}

// relaxSection plans one pass over isec. Cross-section addresses come
// from snap; the values and sizes of symbols anchored in isec are
// updated in place.
func relaxSection(ctx *Context, snap *Snapshot, isec *InputSection) (bool, error) {
	aux := isec.RelaxAux
	secAddr := snap.SectionAddr(isec)
	changed := false

	// The shift each start anchor received in the previous pass.
	valueDelta := make(map[SymbolID]uint32)
	sa := aux.Anchors
	delta := uint32(0)
	for i := range isec.Rels {
		for ; len(sa) > 0 && sa[0].Offset <= isec.Rels[i].Offset; sa = sa[1:] {
			if !sa[0].End {
				valueDelta[sa[0].Sym] = delta
			}
		}
		delta = aux.RelocDeltas[i]
	}
	for _, a := range sa {
		if !a.End {
			valueDelta[a.Sym] = delta
		}
	}

	shift := func(a SymbolAnchor, delta uint32) {
		sym := ctx.Symbol(a.Sym)
		if a.End {
			sym.Size = a.Offset - uint64(delta) - sym.Value
		} else {
			sym.Value -= uint64(delta - valueDelta[a.Sym])
		}
	}

	sa = aux.Anchors
	delta = 0
	clear(aux.RelocTypes)
	aux.Writes = aux.Writes[:0]

	for i := range isec.Rels {
		rel := &isec.Rels[i]
		loc := secAddr + rel.Offset - uint64(delta)
		remove := uint32(0)

		switch rel.Type {
		case R_RISCV_ALIGN:
			nextLoc := loc + uint64(rel.Addend)
			align := utils.PowerOf2Ceil(uint64(rel.Addend + 2))
			// Everything past the alignment boundary goes.
			r := int64(nextLoc - utils.AlignTo(loc, align))
			if r < 0 && !aux.shortAligns[i] {
				if aux.shortAligns == nil {
					aux.shortAligns = make(map[int]bool)
				}
				aux.shortAligns[i] = true
				ctx.Diag.Error(isec.Site(ctx, rel.Offset, rel.Sym),
					"R_RISCV_ALIGN needs %d bytes of padding but only %d are present",
					int64(rel.Addend)-r, rel.Addend)
			}
			remove = uint32(max(r, 0))
		case R_RISCV_CALL, R_RISCV_CALL_PLT, R_RISCV_CHERI_CCALL:
			if hasRelaxMarker(isec, i) {
				remove = relaxCall(ctx, snap, isec, i, loc)
			}
		case R_RISCV_CHERIOT_COMPARTMENT_HI, R_RISCV_CHERIOT_COMPARTMENT_LO_I,
			R_RISCV_CHERIOT_COMPARTMENT_LO_S:
			if hasRelaxMarker(isec, i) {
				remove = relaxCGP(ctx, snap, isec, i)
			}
		}

		// Anchors up to this relocation follow the previous one, whose
		// delta is the running total.
		for ; len(sa) > 0 && sa[0].Offset <= rel.Offset; sa = sa[1:] {
			shift(sa[0], delta)
		}

		delta += remove
		if delta != aux.RelocDeltas[i] {
			aux.RelocDeltas[i] = delta
			changed = true
		}
	}

	for _, a := range sa {
		shift(a, delta)
	}

	if !utils.IsUInt(uint64(delta), 16) {
		return changed, ctx.Diag.Fatal(ErrShrinkTooLarge, "%s: %s: %d bytes removed",
			isec.FileName(), isec.Name, delta)
	}
	isec.BytesDropped = delta
	return changed, nil
}

// RelaxOnce runs planning pass number pass over every relaxable section.
// Sections are planned in parallel against one snapshot; the layout is
// told about every changed section only after all of them finish.
func RelaxOnce(ctx *Context, pass int) (bool, error) {
	if pass == 0 {
		InitSymbolAnchors(ctx)
	}

	secs := ctx.RelaxableSections()
	changed := false
	if pass == 0 {
		for _, isec := range secs {
			modified, err := RewriteCheriotLowRelocs(ctx, isec)
			if err != nil {
				return false, err
			}
			changed = changed || modified
		}
	}

	snap := ctx.Layout.Snapshot()
	results := make([]bool, len(secs))

	var g errgroup.Group
	g.SetLimit(max(ctx.Args.Jobs, 1))
	for i, isec := range secs {
		g.Go(func() error {
			c, err := relaxSection(ctx, snap, isec)
			results[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	for i, isec := range secs {
		if results[i] {
			changed = true
			ctx.Layout.SectionShrunk(isec)
			ctx.Logger.Debug("section shrunk", "pass", pass,
				"file", isec.FileName(), "section", isec.Name, "dropped", isec.BytesDropped)
		}
	}
	return changed, nil
}

// Relax runs planning passes to a fixed point and then rewrites the
// relaxed sections. It returns the number of passes run.
func Relax(ctx *Context) (int, error) {
	pass := 0
	for {
		if pass == ctx.Args.MaxPasses {
			return pass, ctx.Diag.Fatal(ErrNotConverged, "no fixed point after %d passes", pass)
		}

		changed, err := RelaxOnce(ctx, pass)
		if err != nil {
			return pass, err
		}
		pass++
		if !changed {
			break
		}
	}

	return pass, FinalizeRelax(ctx, pass)
}
