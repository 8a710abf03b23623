package linker

import (
	"fmt"

	"rvrelax/pkg/utils"
)

// dtpOffset is the bias between a DTP-relative value and the thread
// pointer on non-CHERI targets.
const dtpOffset = 0x800

func checkInt(diag *Diagnostics, site Site, typ RelType, v int64, n uint) bool {
	if utils.IsInt(v, n) {
		return true
	}
	lo := -(int64(1) << (n - 1))
	hi := int64(1)<<(n-1) - 1
	diag.Error(site, "relocation %s out of range: %d is not in [%d, %d]; references %s",
		typ, v, lo, hi, site.Symbol)
	return false
}

func checkUInt(diag *Diagnostics, site Site, typ RelType, v uint64, n uint) bool {
	if utils.IsUInt(v, n) {
		return true
	}
	diag.Error(site, "relocation %s out of range: %d is not in [0, %d]; references %s",
		typ, v, uint64(1)<<n-1, site.Symbol)
	return false
}

func checkAlignment(diag *Diagnostics, site Site, typ RelType, v uint64, n uint64) bool {
	if v&(n-1) == 0 {
		return true
	}
	diag.Error(site, "improper alignment for relocation %s: 0x%x is not aligned to %d bytes",
		typ, v, n)
	return false
}

// Relocate patches the instruction or data field at loc with val. Range
// and alignment failures are recorded in diag and leave loc untouched; an
// unknown kind is fatal.
func (t *Target) Relocate(diag *Diagnostics, site Site, loc []byte, typ RelType, val uint64) error {
	bits := uint(t.WordSize * 8)

	switch typ {
	case R_RISCV_NONE, R_RISCV_RELAX, R_RISCV_ALIGN, R_RISCV_TPREL_ADD,
		R_RISCV_CHERI_TPREL_CINCOFFSET:
	case R_RISCV_32, R_RISCV_SET32, R_RISCV_32_PCREL:
		write32(loc, uint32(val))
	case R_RISCV_64:
		write64(loc, val)

	case R_RISCV_RVC_BRANCH:
		ok := checkInt(diag, site, typ, int64(val)>>1, 8)
		if checkAlignment(diag, site, typ, val, 2) && ok {
			cbTypeImm.write16(loc, val)
		}
	case R_RISCV_RVC_JUMP, R_RISCV_CHERI_RVC_CJUMP:
		ok := checkInt(diag, site, typ, int64(val)>>1, 11)
		if checkAlignment(diag, site, typ, val, 2) && ok {
			cjTypeImm.write16(loc, val)
		}
	case R_RISCV_RVC_LUI:
		imm := utils.SignExtend(val+0x800, bits) >> 12
		if !checkInt(diag, site, typ, imm, 6) {
			break
		}
		if imm == 0 {
			// c.lui rd, 0 is reserved; c.li rd, 0 does the same job.
			write16(loc, (read16(loc)&0x0F83)|0x4000)
		} else {
			cluiTypeImm.write16(loc, val+0x800)
		}
	case R_RISCV_JAL, R_RISCV_CHERI_CJAL:
		ok := checkInt(diag, site, typ, int64(val)>>1, 20)
		if checkAlignment(diag, site, typ, val, 2) && ok {
			jTypeImm.write32(loc, val)
		}
	case R_RISCV_BRANCH:
		ok := checkInt(diag, site, typ, int64(val)>>1, 12)
		if checkAlignment(diag, site, typ, val, 2) && ok {
			bTypeImm.write32(loc, val)
		}

	case R_RISCV_CALL, R_RISCV_CALL_PLT, R_RISCV_CHERI_CCALL:
		hi := utils.SignExtend(val+0x800, bits) >> 12
		if !checkInt(diag, site, typ, hi, 20) {
			break
		}
		uTypeImm.write32(loc, val+0x800)
		_, lo := splitHiLo(val)
		iTypeImm.write32(loc[4:], lo)

	case R_RISCV_HI20, R_RISCV_PCREL_HI20, R_RISCV_GOT_HI20,
		R_RISCV_TLS_GD_HI20, R_RISCV_TLS_GOT_HI20, R_RISCV_TPREL_HI20,
		R_RISCV_CHERI_CAPTAB_PCREL_HI20,
		R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20,
		R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20:
		hi := val + 0x800
		if checkInt(diag, site, typ, utils.SignExtend(hi, bits)>>12, 20) {
			uTypeImm.write32(loc, hi)
		}
	case R_RISCV_LO12_I, R_RISCV_PCREL_LO12_I, R_RISCV_TPREL_LO12_I:
		_, lo := splitHiLo(val)
		iTypeImm.write32(loc, lo)
	case R_RISCV_LO12_S, R_RISCV_PCREL_LO12_S, R_RISCV_TPREL_LO12_S:
		_, lo := splitHiLo(val)
		sTypeImm.write32(loc, lo)

	case R_RISCV_ADD8:
		loc[0] += uint8(val)
	case R_RISCV_ADD16:
		write16(loc, read16(loc)+uint16(val))
	case R_RISCV_ADD32:
		write32(loc, read32(loc)+uint32(val))
	case R_RISCV_ADD64:
		write64(loc, read64(loc)+val)
	case R_RISCV_SUB6:
		loc[0] = (loc[0] & 0xc0) | (((loc[0] & 0x3f) - uint8(val)) & 0x3f)
	case R_RISCV_SUB8:
		loc[0] -= uint8(val)
	case R_RISCV_SUB16:
		write16(loc, read16(loc)-uint16(val))
	case R_RISCV_SUB32:
		write32(loc, read32(loc)-uint32(val))
	case R_RISCV_SUB64:
		write64(loc, read64(loc)-val)
	case R_RISCV_SET6:
		loc[0] = (loc[0] & 0xc0) | (uint8(val) & 0x3f)
	case R_RISCV_SET8:
		loc[0] = uint8(val)
	case R_RISCV_SET16:
		write16(loc, uint16(val))

	case R_RISCV_TLS_DTPREL32:
		if !t.IsCheriAbi {
			val -= dtpOffset
		}
		write32(loc, uint32(val))
	case R_RISCV_TLS_DTPREL64:
		if !t.IsCheriAbi {
			val -= dtpOffset
		}
		write64(loc, val)

	case R_RISCV_CHERIOT_COMPARTMENT_LO_I:
		if site.PCCRelative {
			// A negative offset carries its sign into the low part, unless
			// the high part alone reaches the target.
			if int64(val) >= 0 || val&0x7ff == 0 {
				val &= 0x7ff
			} else {
				val = ^uint64(0x7ff) | (val & 0x7ff)
			}
		}
		if checkInt(diag, site, typ, int64(val), 12) {
			iTypeImm.write32(loc, val)
		}
	case R_RISCV_CHERIOT_COMPARTMENT_LO_S:
		sTypeImm.write32(loc, val)
	case R_RISCV_CHERIOT_COMPARTMENT_SIZE:
		if checkUInt(diag, site, typ, val, 12) {
			iTypeImm.write32(loc, val)
		}
	case R_RISCV_CHERIOT_COMPARTMENT_HI:
		op := opAUICGP
		if site.PCCRelative {
			op = opAUIPCC
			if int64(val) < 0 {
				val = (val + 0x7ff) &^ 0x7ff
			}
			val = uint64(int64(val) >> 11)
		}
		if cur := read32(loc) & 0x7f; cur != opAUIPCC && cur != opAUICGP {
			diag.Warn(site, "%s relocation applied to instruction with unexpected opcode %d",
				typ, cur)
		}
		if checkInt(diag, site, typ, int64(val), 20) {
			write32(loc, (read32(loc)&0xf80)|uint32(val)<<12|op)
		}

	default:
		return diag.Fatal(ErrUnknownRelocation, "%s: cannot apply %s", site, typ)
	}
	return nil
}

// relocWidth is the number of bytes a relocation kind patches.
func relocWidth(typ RelType) uint64 {
	switch typ {
	case R_RISCV_NONE, R_RISCV_RELAX, R_RISCV_ALIGN, R_RISCV_TPREL_ADD,
		R_RISCV_CHERI_TPREL_CINCOFFSET:
		return 0
	case R_RISCV_ADD8, R_RISCV_SUB8, R_RISCV_SUB6, R_RISCV_SET6, R_RISCV_SET8:
		return 1
	case R_RISCV_ADD16, R_RISCV_SUB16, R_RISCV_SET16, R_RISCV_RVC_BRANCH,
		R_RISCV_RVC_JUMP, R_RISCV_CHERI_RVC_CJUMP, R_RISCV_RVC_LUI:
		return 2
	case R_RISCV_64, R_RISCV_ADD64, R_RISCV_SUB64, R_RISCV_TLS_DTPREL64,
		R_RISCV_CALL, R_RISCV_CALL_PLT, R_RISCV_CHERI_CCALL:
		return 8
	}
	return 4
}

// ApplySection resolves and writes every relocation of isec into buf,
// which holds the section's bytes.
func ApplySection(ctx *Context, snap *Snapshot, isec *InputSection, buf []byte) error {
	secAddr := snap.SectionAddr(isec)
	for i := range isec.Rels {
		rel := &isec.Rels[i]
		switch rel.Expr {
		case ExprNone, ExprRelaxHint, ExprCapability:
			continue
		}

		site := isec.Site(ctx, rel.Offset, rel.Sym)
		if rel.Offset+relocWidth(rel.Type) > uint64(len(buf)) {
			ctx.Diag.Error(site, "%s relocation extends past the end of the section", rel.Type)
			continue
		}

		val, ok := snap.TargetVA(isec, rel, secAddr+rel.Offset)
		if !ok {
			continue
		}
		if err := ctx.Target.Relocate(ctx.Diag, site, buf[rel.Offset:], rel.Type, val); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRelocations patches every allocated section. Sections are written
// into the image buffer when one exists, otherwise in place.
func ApplyRelocations(ctx *Context) error {
	snap := ctx.Layout.Snapshot()
	for _, isec := range ctx.Sections {
		if !isec.IsAlloc() || len(isec.Rels) == 0 {
			continue
		}

		buf := isec.Contents
		if base := ChunkBuf(ctx, isec.OutputSection); base != nil {
			buf = base[isec.Offset : isec.Offset+isec.Size()]
		}
		if buf == nil {
			continue
		}

		if err := ApplySection(ctx, snap, isec, buf); err != nil {
			return fmt.Errorf("%s: %w", isec.Name, err)
		}
	}
	return nil
}
