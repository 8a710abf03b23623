package linker

import (
	"encoding/binary"

	"rvrelax/pkg/utils"
)

const (
	opADDI  uint32 = 0x13
	opAUIPC uint32 = 0x17
	opJAL   uint32 = 0x6f
	opJALR  uint32 = 0x67
	opLD    uint32 = 0x3003
	opLW    uint32 = 0x2003
	opSRLI  uint32 = 0x5013
	opSUB   uint32 = 0x40000033

	opCLC64  uint32 = 0x3003
	opCLC128 uint32 = 0x200f
	opAUIPCC uint32 = 0x17
	opAUICGP uint32 = 0x7b
)

const (
	regZero uint32 = 0
	regRA   uint32 = 1
	regCGP  uint32 = 3
	regT0   uint32 = 5
	regT1   uint32 = 6
	regT2   uint32 = 7
	regT3   uint32 = 28
)

const (
	insnNop  uint32 = 0x00000013
	insnCNop uint16 = 0x0001
	insnCJ   uint32 = 0xa001
	insnCJal uint32 = 0x2001
)

func hi20(val uint32) uint32 { return (val + 0x800) >> 12 }
func lo12(val uint32) uint32 { return val & 4095 }

func itype(op, rd, rs1, imm uint32) uint32 {
	return op | (rd << 7) | (rs1 << 15) | (imm << 20)
}

func rtype(op, rd, rs1, rs2 uint32) uint32 {
	return op | (rd << 7) | (rs1 << 15) | (rs2 << 20)
}

func utype(op, rd, imm uint32) uint32 {
	return op | (rd << 7) | (imm << 12)
}

// splitHiLo splits val so that hi<<12 plus the sign-extended low 12 bits
// of lo reproduces val.
func splitHiLo(val uint64) (hi, lo uint64) {
	hi = (val + 0x800) >> 12
	lo = val - (hi << 12)
	return hi, lo
}

func setRs1(insn, rs1 uint32) uint32 {
	return (insn &^ (31 << 15)) | (rs1 << 15)
}

func read16(loc []byte) uint16 { return binary.LittleEndian.Uint16(loc) }
func read32(loc []byte) uint32 { return binary.LittleEndian.Uint32(loc) }
func read64(loc []byte) uint64 { return binary.LittleEndian.Uint64(loc) }
func write16(loc []byte, v uint16) { binary.LittleEndian.PutUint16(loc, v) }
func write32(loc []byte, v uint32) { binary.LittleEndian.PutUint32(loc, v) }
func write64(loc []byte, v uint64) { binary.LittleEndian.PutUint64(loc, v) }

// immBits moves value bits [hi:lo] to instruction bit pos.
type immBits struct {
	hi, lo, pos uint
}

// immLayout is the scatter map of one instruction format's immediate.
type immLayout []immBits

var (
	iTypeImm = immLayout{{11, 0, 20}}
	sTypeImm = immLayout{{11, 5, 25}, {4, 0, 7}}
	bTypeImm = immLayout{{12, 12, 31}, {10, 5, 25}, {4, 1, 8}, {11, 11, 7}}
	uTypeImm = immLayout{{31, 12, 12}}
	jTypeImm = immLayout{{20, 20, 31}, {10, 1, 21}, {11, 11, 20}, {19, 12, 12}}

	cbTypeImm   = immLayout{{8, 8, 12}, {4, 3, 10}, {7, 6, 5}, {2, 1, 3}, {5, 5, 2}}
	cjTypeImm   = immLayout{{11, 11, 12}, {4, 4, 11}, {9, 8, 9}, {10, 10, 8}, {6, 6, 7}, {7, 7, 6}, {3, 1, 3}, {5, 5, 2}}
	cluiTypeImm = immLayout{{17, 17, 12}, {16, 12, 2}}
)

func (l immLayout) mask() uint32 {
	var m uint32
	for _, b := range l {
		m |= uint32(1<<(b.hi-b.lo+1)-1) << b.pos
	}
	return m
}

func (l immLayout) scatter(val uint64) uint32 {
	var insn uint32
	for _, b := range l {
		insn |= uint32(utils.ExtractBits(val, b.hi, b.lo)) << b.pos
	}
	return insn
}

// gather is the inverse of scatter; the result is not sign-extended.
func (l immLayout) gather(insn uint32) uint64 {
	var val uint64
	for _, b := range l {
		width := b.hi - b.lo + 1
		val |= uint64((insn>>b.pos)&(1<<width-1)) << b.lo
	}
	return val
}

func (l immLayout) write32(loc []byte, val uint64) {
	write32(loc, (read32(loc)&^l.mask())|l.scatter(val))
}

func (l immLayout) write16(loc []byte, val uint64) {
	write16(loc, (read16(loc)&^uint16(l.mask()))|uint16(l.scatter(val)))
}
