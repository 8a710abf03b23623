package linker

import (
	"golang.org/x/sync/errgroup"
)

// finalizeSection rewrites isec's contents and relocations according to
// its converged plan.
func finalizeSection(isec *InputSection) {
	aux := isec.RelaxAux
	rels := isec.Rels
	if aux == nil || len(rels) == 0 {
		return
	}

	old := isec.Contents
	buf := make([]byte, uint64(len(old))-uint64(aux.RelocDeltas[len(rels)-1]))
	p := 0
	offset := uint64(0)
	writes := aux.Writes
	delta := uint32(0)

	for i := range rels {
		remove := aux.RelocDeltas[i] - delta
		delta = aux.RelocDeltas[i]
		if remove == 0 && aux.RelocTypes[i] == R_RISCV_NONE {
			continue
		}

		rel := &rels[i]
		p += copy(buf[p:], old[offset:rel.Offset])

		// For ALIGN, offset lands among the NOPs. When both the removal and
		// the addend are multiples of 4 the kept NOPs are already in place;
		// otherwise the run is cut mid-instruction and must be rewritten.
		skip := 0
		if rel.Type == R_RISCV_ALIGN {
			if remove%4 != 0 || rel.Addend%4 != 0 {
				skip = int(rel.Addend) - int(remove)
				j := 0
				for ; j+4 <= skip; j += 4 {
					write32(buf[p+j:], insnNop)
				}
				if j != skip {
					write16(buf[p+j:], insnCNop)
				}
			}
		} else {
			switch aux.RelocTypes[i] {
			case R_RISCV_NONE, R_RISCV_RELAX:
			case R_RISCV_RVC_JUMP, R_RISCV_CHERI_RVC_CJUMP:
				skip = 2
				write16(buf[p:], uint16(writes[0]))
				writes = writes[1:]
			case R_RISCV_JAL, R_RISCV_CHERI_CJAL,
				R_RISCV_CHERIOT_COMPARTMENT_LO_I, R_RISCV_CHERIOT_COMPARTMENT_LO_S:
				skip = 4
				write32(buf[p:], writes[0])
				writes = writes[1:]
			}
		}

		p += skip
		offset = rel.Offset + uint64(skip) + uint64(remove)
	}
	copy(buf[p:], old[offset:])

	isec.Contents = buf
	isec.ShSize = uint64(len(buf))
	isec.BytesDropped = 0

	// A relocation moves by the delta accumulated before it; a call and its
	// R_RISCV_RELAX share an offset and so move together.
	delta = 0
	for i := 0; i < len(rels); {
		cur := rels[i].Offset
		for ; i < len(rels) && rels[i].Offset == cur; i++ {
			rels[i].Offset -= uint64(delta)
			if typ := aux.RelocTypes[i]; typ != R_RISCV_NONE {
				rels[i].Type = typ
				if typ == R_RISCV_RELAX {
					rels[i].Expr = ExprRelaxHint
				}
			}
		}
		delta = aux.RelocDeltas[i-1]
	}
}

// FinalizeRelax applies every section's converged plan. It runs once,
// after the last planning pass.
func FinalizeRelax(ctx *Context, passes int) error {
	ctx.Logger.Info("relaxation finished", "passes", passes)

	var g errgroup.Group
	g.SetLimit(max(ctx.Args.Jobs, 1))
	for _, isec := range ctx.RelaxableSections() {
		g.Go(func() error {
			finalizeSection(isec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, isec := range ctx.RelaxableSections() {
		ctx.Layout.SectionShrunk(isec)
	}
	return nil
}
