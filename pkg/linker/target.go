package linker

import (
	"encoding/binary"
	"math/bits"
)

// Target carries the properties of the output that select encodings.
type Target struct {
	Is64           bool
	EFlags         uint32
	IsCheriAbi     bool
	WordSize       int
	CapabilitySize int

	PltHeaderSize          uint64
	PltEntrySize           uint64
	GotHeaderEntriesNum    int
	GotPltHeaderEntriesNum int
}

func NewTarget(mt MachineType, eflags uint32) Target {
	t := Target{
		Is64:                   mt != MachineTypeRISCV32,
		EFlags:                 eflags,
		IsCheriAbi:             eflags&EF_RISCV_CHERIABI != 0,
		PltHeaderSize:          32,
		PltEntrySize:           16,
		GotHeaderEntriesNum:    1,
		GotPltHeaderEntriesNum: 2,
	}

	if t.Is64 {
		t.WordSize = 8
		t.CapabilitySize = defaultCapabilitySize64
	} else {
		t.WordSize = 4
		t.CapabilitySize = defaultCapabilitySize32
	}
	return t
}

func (t *Target) HasRVC() bool {
	return t.EFlags&EF_RISCV_RVC != 0
}

// PtrSize is the size of a GOT or capability table slot.
func (t *Target) PtrSize() int {
	if t.IsCheriAbi {
		return t.CapabilitySize
	}
	return t.WordSize
}

func (t *Target) writeWord(buf []byte, val uint64) {
	if t.Is64 {
		binary.LittleEndian.PutUint64(buf, val)
	} else {
		binary.LittleEndian.PutUint32(buf, uint32(val))
	}
}

// ImplicitAddend reads the addend stored in place for REL-style records.
func (t *Target) ImplicitAddend(buf []byte, typ RelType) (int64, bool) {
	switch typ {
	case R_RISCV_32, R_RISCV_TLS_DTPMOD32, R_RISCV_TLS_DTPREL32:
		return int64(int32(binary.LittleEndian.Uint32(buf))), true
	case R_RISCV_64:
		return int64(binary.LittleEndian.Uint64(buf)), true
	case R_RISCV_RELATIVE, R_RISCV_IRELATIVE:
		if t.Is64 {
			return int64(binary.LittleEndian.Uint64(buf)), true
		}
		return int64(binary.LittleEndian.Uint32(buf)), true
	case R_RISCV_NONE, R_RISCV_JUMP_SLOT:
		return 0, true
	}
	return 0, false
}

// CheriRequiredAlignment is the alignment a CHERIoT capability of the
// given length needs to be exactly representable with a 9-bit mantissa.
func CheriRequiredAlignment(size uint64) uint64 {
	const mantissaWidth = 9
	const mask = uint64(1)<<(mantissaWidth-1) - 1

	msbIdxPlusOne := int64(64 - bits.LeadingZeros64(size))
	e := max(msbIdxPlusOne-mantissaWidth, 0)
	if (size>>(e+1))&mask == mask {
		e++
	}
	return uint64(1) << e
}
