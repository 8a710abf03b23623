package linker

import (
	"debug/elf"
	"fmt"
)

// RelType is a RISC-V relocation kind as stored in r_info.
type RelType uint32

const (
	R_RISCV_NONE         = RelType(elf.R_RISCV_NONE)
	R_RISCV_32           = RelType(elf.R_RISCV_32)
	R_RISCV_64           = RelType(elf.R_RISCV_64)
	R_RISCV_RELATIVE     = RelType(elf.R_RISCV_RELATIVE)
	R_RISCV_COPY         = RelType(elf.R_RISCV_COPY)
	R_RISCV_JUMP_SLOT    = RelType(elf.R_RISCV_JUMP_SLOT)
	R_RISCV_TLS_DTPMOD32 = RelType(elf.R_RISCV_TLS_DTPMOD32)
	R_RISCV_TLS_DTPMOD64 = RelType(elf.R_RISCV_TLS_DTPMOD64)
	R_RISCV_TLS_DTPREL32 = RelType(elf.R_RISCV_TLS_DTPREL32)
	R_RISCV_TLS_DTPREL64 = RelType(elf.R_RISCV_TLS_DTPREL64)
	R_RISCV_TLS_TPREL32  = RelType(elf.R_RISCV_TLS_TPREL32)
	R_RISCV_TLS_TPREL64  = RelType(elf.R_RISCV_TLS_TPREL64)
	R_RISCV_BRANCH       = RelType(elf.R_RISCV_BRANCH)
	R_RISCV_JAL          = RelType(elf.R_RISCV_JAL)
	R_RISCV_CALL         = RelType(elf.R_RISCV_CALL)
	R_RISCV_CALL_PLT     = RelType(elf.R_RISCV_CALL_PLT)
	R_RISCV_GOT_HI20     = RelType(elf.R_RISCV_GOT_HI20)
	R_RISCV_TLS_GOT_HI20 = RelType(elf.R_RISCV_TLS_GOT_HI20)
	R_RISCV_TLS_GD_HI20  = RelType(elf.R_RISCV_TLS_GD_HI20)
	R_RISCV_PCREL_HI20   = RelType(elf.R_RISCV_PCREL_HI20)
	R_RISCV_PCREL_LO12_I = RelType(elf.R_RISCV_PCREL_LO12_I)
	R_RISCV_PCREL_LO12_S = RelType(elf.R_RISCV_PCREL_LO12_S)
	R_RISCV_HI20         = RelType(elf.R_RISCV_HI20)
	R_RISCV_LO12_I       = RelType(elf.R_RISCV_LO12_I)
	R_RISCV_LO12_S       = RelType(elf.R_RISCV_LO12_S)
	R_RISCV_TPREL_HI20   = RelType(elf.R_RISCV_TPREL_HI20)
	R_RISCV_TPREL_LO12_I = RelType(elf.R_RISCV_TPREL_LO12_I)
	R_RISCV_TPREL_LO12_S = RelType(elf.R_RISCV_TPREL_LO12_S)
	R_RISCV_TPREL_ADD    = RelType(elf.R_RISCV_TPREL_ADD)
	R_RISCV_ADD8         = RelType(elf.R_RISCV_ADD8)
	R_RISCV_ADD16        = RelType(elf.R_RISCV_ADD16)
	R_RISCV_ADD32        = RelType(elf.R_RISCV_ADD32)
	R_RISCV_ADD64        = RelType(elf.R_RISCV_ADD64)
	R_RISCV_SUB8         = RelType(elf.R_RISCV_SUB8)
	R_RISCV_SUB16        = RelType(elf.R_RISCV_SUB16)
	R_RISCV_SUB32        = RelType(elf.R_RISCV_SUB32)
	R_RISCV_SUB64        = RelType(elf.R_RISCV_SUB64)
	R_RISCV_ALIGN        = RelType(elf.R_RISCV_ALIGN)
	R_RISCV_RVC_BRANCH   = RelType(elf.R_RISCV_RVC_BRANCH)
	R_RISCV_RVC_JUMP     = RelType(elf.R_RISCV_RVC_JUMP)
	R_RISCV_RVC_LUI      = RelType(elf.R_RISCV_RVC_LUI)
	R_RISCV_IRELATIVE    RelType = 58
	R_RISCV_RELAX        = RelType(elf.R_RISCV_RELAX)
	R_RISCV_SUB6         = RelType(elf.R_RISCV_SUB6)
	R_RISCV_SET6         = RelType(elf.R_RISCV_SET6)
	R_RISCV_SET8         = RelType(elf.R_RISCV_SET8)
	R_RISCV_SET16        = RelType(elf.R_RISCV_SET16)
	R_RISCV_SET32        = RelType(elf.R_RISCV_SET32)
	R_RISCV_32_PCREL     RelType = 57
)

// Vendor kinds of the CHERI and CHERIoT psABI extensions.
const (
	R_RISCV_CHERI_CAPABILITY               RelType = 193
	R_RISCV_CHERI_CAPTAB_PCREL_HI20        RelType = 220
	R_RISCV_CHERI_TPREL_CINCOFFSET         RelType = 221
	R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20 RelType = 222
	R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20 RelType = 223
	R_RISCV_CHERI_CJAL                     RelType = 224
	R_RISCV_CHERI_CCALL                    RelType = 225
	R_RISCV_CHERI_RVC_CJUMP                RelType = 226
	R_RISCV_CHERI_SIZE                     RelType = 227
	R_RISCV_CHERIOT_COMPARTMENT_HI         RelType = 228
	R_RISCV_CHERIOT_COMPARTMENT_LO_I       RelType = 229
	R_RISCV_CHERIOT_COMPARTMENT_LO_S       RelType = 230
	R_RISCV_CHERIOT_COMPARTMENT_SIZE       RelType = 231
)

var cheriRelNames = map[RelType]string{
	R_RISCV_CHERI_CAPABILITY:               "R_RISCV_CHERI_CAPABILITY",
	R_RISCV_CHERI_CAPTAB_PCREL_HI20:        "R_RISCV_CHERI_CAPTAB_PCREL_HI20",
	R_RISCV_CHERI_TPREL_CINCOFFSET:         "R_RISCV_CHERI_TPREL_CINCOFFSET",
	R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20: "R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20",
	R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20: "R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20",
	R_RISCV_CHERI_CJAL:                     "R_RISCV_CHERI_CJAL",
	R_RISCV_CHERI_CCALL:                    "R_RISCV_CHERI_CCALL",
	R_RISCV_CHERI_RVC_CJUMP:                "R_RISCV_CHERI_RVC_CJUMP",
	R_RISCV_CHERI_SIZE:                     "R_RISCV_CHERI_SIZE",
	R_RISCV_CHERIOT_COMPARTMENT_HI:         "R_RISCV_CHERIOT_COMPARTMENT_HI",
	R_RISCV_CHERIOT_COMPARTMENT_LO_I:       "R_RISCV_CHERIOT_COMPARTMENT_LO_I",
	R_RISCV_CHERIOT_COMPARTMENT_LO_S:       "R_RISCV_CHERIOT_COMPARTMENT_LO_S",
	R_RISCV_CHERIOT_COMPARTMENT_SIZE:       "R_RISCV_CHERIOT_COMPARTMENT_SIZE",
}

func (t RelType) String() string {
	switch t {
	case R_RISCV_32_PCREL:
		return "R_RISCV_32_PCREL"
	case R_RISCV_IRELATIVE:
		return "R_RISCV_IRELATIVE"
	}
	if name, ok := cheriRelNames[t]; ok {
		return name
	}
	if t <= RelType(elf.R_RISCV_SET32) {
		return elf.R_RISCV(t).String()
	}
	return fmt.Sprintf("R_RISCV_%d", uint32(t))
}

// RelExpr classifies how a relocation's value is computed from its symbol.
type RelExpr uint8

const (
	ExprNone RelExpr = iota
	ExprAbs
	ExprPC
	ExprPltPC
	ExprGotPC
	ExprAdd
	ExprPCIndirect
	ExprTlsGdPC
	ExprTpRel
	ExprDtpRel
	ExprRelaxHint
	ExprCapability
	ExprCapTableEntryPC
	ExprCapTableTlsIePC
	ExprCapTableTlsGdPC
	ExprCGPRelHi
	ExprCGPRelLoI
	ExprCGPRelLoS
	ExprCompartmentSize
)

// RelExprOf classifies typ. The second result is false for kinds this
// target does not know; the caller diagnoses those.
func RelExprOf(ctx *Context, typ RelType, sym SymbolID) (RelExpr, bool) {
	switch typ {
	case R_RISCV_NONE, R_RISCV_TPREL_ADD, R_RISCV_CHERI_TPREL_CINCOFFSET:
		return ExprNone, true
	case R_RISCV_32, R_RISCV_64, R_RISCV_HI20, R_RISCV_LO12_I,
		R_RISCV_LO12_S, R_RISCV_RVC_LUI:
		return ExprAbs, true
	case R_RISCV_ADD8, R_RISCV_ADD16, R_RISCV_ADD32, R_RISCV_ADD64,
		R_RISCV_SET6, R_RISCV_SET8, R_RISCV_SET16, R_RISCV_SET32,
		R_RISCV_SUB6, R_RISCV_SUB8, R_RISCV_SUB16, R_RISCV_SUB32,
		R_RISCV_SUB64:
		return ExprAdd, true
	case R_RISCV_JAL, R_RISCV_CHERI_CJAL, R_RISCV_BRANCH,
		R_RISCV_PCREL_HI20, R_RISCV_RVC_BRANCH, R_RISCV_RVC_JUMP,
		R_RISCV_CHERI_RVC_CJUMP, R_RISCV_32_PCREL:
		return ExprPC, true
	case R_RISCV_CALL, R_RISCV_CALL_PLT, R_RISCV_CHERI_CCALL:
		return ExprPltPC, true
	case R_RISCV_GOT_HI20, R_RISCV_TLS_GOT_HI20:
		return ExprGotPC, true
	case R_RISCV_PCREL_LO12_I, R_RISCV_PCREL_LO12_S:
		return ExprPCIndirect, true
	case R_RISCV_TLS_GD_HI20:
		return ExprTlsGdPC, true
	case R_RISCV_TPREL_HI20, R_RISCV_TPREL_LO12_I, R_RISCV_TPREL_LO12_S:
		return ExprTpRel, true
	case R_RISCV_TLS_DTPREL32, R_RISCV_TLS_DTPREL64:
		return ExprDtpRel, true
	case R_RISCV_ALIGN:
		return ExprRelaxHint, true
	case R_RISCV_RELAX:
		if ctx.Args.Relax {
			return ExprRelaxHint, true
		}
		return ExprNone, true
	case R_RISCV_CHERI_CAPABILITY, R_RISCV_CHERI_SIZE:
		return ExprCapability, true
	case R_RISCV_CHERI_CAPTAB_PCREL_HI20:
		return ExprCapTableEntryPC, true
	case R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20:
		return ExprCapTableTlsIePC, true
	case R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20:
		return ExprCapTableTlsGdPC, true
	case R_RISCV_CHERIOT_COMPARTMENT_HI:
		if ctx.IsPCCRelative(sym) {
			return ExprPC, true
		}
		return ExprCGPRelHi, true
	case R_RISCV_CHERIOT_COMPARTMENT_LO_I:
		return ExprCGPRelLoI, true
	case R_RISCV_CHERIOT_COMPARTMENT_LO_S:
		return ExprCGPRelLoS, true
	case R_RISCV_CHERIOT_COMPARTMENT_SIZE:
		return ExprCompartmentSize, true
	}
	return ExprNone, false
}

// isPCRelHi20 reports kinds that may be the companion of a PCREL_LO12.
func isPCRelHi20(typ RelType) bool {
	switch typ {
	case R_RISCV_PCREL_HI20, R_RISCV_GOT_HI20, R_RISCV_TLS_GD_HI20,
		R_RISCV_TLS_GOT_HI20, R_RISCV_CHERI_CAPTAB_PCREL_HI20,
		R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20,
		R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20:
		return true
	}
	return false
}
