package linker

import (
	"debug/elf"
)

type gotKind uint8

const (
	gotAddr gotKind = iota
	gotTp
	gotTlsGd
)

type gotEntry struct {
	kind gotKind
	sym  SymbolID
}

// GotSection holds address, TP-offset and TLS GD slots for a static
// image. The first GotHeaderEntriesNum slots are reserved.
type GotSection struct {
	Chunk
	entries []gotEntry
	slots   int32
}

func NewGotSection(ctx *Context) *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.Addralign = uint64(ctx.Target.WordSize)
	g.slots = int32(ctx.Target.GotHeaderEntriesNum)
	return g
}

func (g *GotSection) add(kind gotKind, id SymbolID, n int32) int32 {
	idx := g.slots
	g.entries = append(g.entries, gotEntry{kind: kind, sym: id})
	g.slots += n
	return idx
}

func (g *GotSection) AddGotSymbol(ctx *Context, id SymbolID) {
	ctx.Symbol(id).Aux.GotIdx = g.add(gotAddr, id, 1)
}

func (g *GotSection) AddGotTpSymbol(ctx *Context, id SymbolID) {
	ctx.Symbol(id).Aux.GotTpIdx = g.add(gotTp, id, 1)
}

func (g *GotSection) AddTlsGdSymbol(ctx *Context, id SymbolID) {
	ctx.Symbol(id).Aux.TlsGdIdx = g.add(gotTlsGd, id, 2)
}

func (g *GotSection) Empty() bool {
	return len(g.entries) == 0
}

func (g *GotSection) UpdateShdr(ctx *Context) {
	g.Shdr.Size = uint64(g.slots) * uint64(ctx.Target.WordSize)
}

func (g *GotSection) CopyBuf(ctx *Context) {
	buf := ChunkBuf(ctx, g)
	clear(buf)

	snap := ctx.Layout.Snapshot()
	t := &ctx.Target
	WriteGotHeader(t, buf)

	word := t.WordSize
	for _, e := range g.entries {
		aux := ctx.Symbol(e.sym).Aux
		switch e.kind {
		case gotAddr:
			t.writeWord(buf[int(aux.GotIdx)*word:], snap.SymbolAddr(e.sym))
		case gotTp:
			t.writeWord(buf[int(aux.GotTpIdx)*word:], snap.SymbolAddr(e.sym)-snap.TlsAddr)
		case gotTlsGd:
			// Module 1 is the executable itself.
			off := int(aux.TlsGdIdx) * word
			t.writeWord(buf[off:], 1)
			t.writeWord(buf[off+word:], snap.SymbolAddr(e.sym)-snap.TlsAddr-dtpOffset)
		}
	}
}

// GotPltSection holds one slot per PLT entry, after a two-slot header
// reserved for the lazy resolver.
type GotPltSection struct {
	Chunk
}

func NewGotPltSection(ctx *Context) *GotPltSection {
	g := &GotPltSection{Chunk: NewChunk()}
	g.Name = ".got.plt"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.Addralign = uint64(ctx.Target.WordSize)
	return g
}

func (g *GotPltSection) UpdateShdr(ctx *Context) {
	n := ctx.Target.GotPltHeaderEntriesNum + len(ctx.Plt.Symbols)
	g.Shdr.Size = uint64(n * ctx.Target.WordSize)
}

func (g *GotPltSection) CopyBuf(ctx *Context) {
	buf := ChunkBuf(ctx, g)
	clear(buf)

	t := &ctx.Target
	snap := ctx.Layout.Snapshot()
	for i := range ctx.Plt.Symbols {
		off := (t.GotPltHeaderEntriesNum + i) * t.WordSize
		WriteGotPlt(t, buf[off:], snap.PltAddr)
	}
}

type PltSection struct {
	Chunk
	Symbols []SymbolID
}

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = ".plt"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.Addralign = 16
	return p
}

func (p *PltSection) AddSymbol(ctx *Context, id SymbolID) {
	ctx.Symbol(id).Aux.PltIdx = int32(len(p.Symbols))
	p.Symbols = append(p.Symbols, id)
}

func (p *PltSection) UpdateShdr(ctx *Context) {
	if len(p.Symbols) == 0 {
		p.Shdr.Size = 0
		return
	}
	t := &ctx.Target
	p.Shdr.Size = t.PltHeaderSize + uint64(len(p.Symbols))*t.PltEntrySize
}

func (p *PltSection) CopyBuf(ctx *Context) {
	if len(p.Symbols) == 0 {
		return
	}

	buf := ChunkBuf(ctx, p)
	t := &ctx.Target
	snap := ctx.Layout.Snapshot()
	WritePltHeader(t, buf, snap.GotPltAddr, snap.PltAddr)

	for _, id := range p.Symbols {
		entryAddr := snap.PltEntryAddr(id)
		off := entryAddr - snap.PltAddr

		slot := snap.GotPltEntryAddr(id)
		if t.IsCheriAbi {
			slot = snap.capTableSlotAddr(ctx.Symbol(id).Aux.CapTabIdx)
		}
		WritePlt(t, buf[off:], slot, entryAddr)
	}
}

// CapTableSection is the CHERI capability table. A loader derives each
// address slot's capability from its CapReloc; the image carries only the
// address field. TLS slots hold offsets and need no capability.
type CapTableSection struct {
	Chunk
	entries []gotEntry
	slots   int32
}

func NewCapTableSection(ctx *Context) *CapTableSection {
	c := &CapTableSection{Chunk: NewChunk()}
	c.Name = ".captable"
	c.Shdr.Type = uint32(elf.SHT_PROGBITS)
	c.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	c.Shdr.Addralign = uint64(ctx.Target.CapabilitySize)
	return c
}

func (c *CapTableSection) add(kind gotKind, id SymbolID, n int32) int32 {
	idx := c.slots
	c.entries = append(c.entries, gotEntry{kind: kind, sym: id})
	c.slots += n
	return idx
}

func (c *CapTableSection) AddSymbol(ctx *Context, id SymbolID) {
	idx := c.add(gotAddr, id, 1)
	ctx.Symbol(id).Aux.CapTabIdx = idx
	ctx.CapRelocs = append(ctx.CapRelocs, CapReloc{
		Offset: uint64(idx) * uint64(ctx.Target.CapabilitySize),
		Type:   R_RISCV_CHERI_CAPABILITY,
		Sym:    id,
	})
}

func (c *CapTableSection) AddTlsIeSymbol(ctx *Context, id SymbolID) {
	ctx.Symbol(id).Aux.CapTabTlsIeIdx = c.add(gotTp, id, 1)
}

func (c *CapTableSection) AddTlsGdSymbol(ctx *Context, id SymbolID) {
	ctx.Symbol(id).Aux.CapTabTlsGdIdx = c.add(gotTlsGd, id, 2)
}

func (c *CapTableSection) Empty() bool {
	return len(c.entries) == 0
}

func (c *CapTableSection) UpdateShdr(ctx *Context) {
	c.Shdr.Size = uint64(c.slots) * uint64(ctx.Target.CapabilitySize)
}

func (c *CapTableSection) CopyBuf(ctx *Context) {
	buf := ChunkBuf(ctx, c)
	clear(buf)

	snap := ctx.Layout.Snapshot()
	t := &ctx.Target
	size := t.CapabilitySize
	for _, e := range c.entries {
		aux := ctx.Symbol(e.sym).Aux
		switch e.kind {
		case gotAddr:
			t.writeWord(buf[int(aux.CapTabIdx)*size:], snap.SymbolAddr(e.sym))
		case gotTp:
			t.writeWord(buf[int(aux.CapTabTlsIeIdx)*size:], snap.SymbolAddr(e.sym)-snap.TlsAddr)
		case gotTlsGd:
			off := int(aux.CapTabTlsGdIdx) * size
			t.writeWord(buf[off:], 1)
			t.writeWord(buf[off+size:], snap.SymbolAddr(e.sym)-snap.TlsAddr)
		}
	}
}

// WriteGotHeader writes the first GOT slot. A static image has no
// dynamic section, so it is zero.
func WriteGotHeader(t *Target, buf []byte) {
	t.writeWord(buf, 0)
}

// WriteGotPlt initialises a .got.plt slot to the PLT header, where the
// lazy resolver would be entered.
func WriteGotPlt(t *Target, buf []byte, pltAddr uint64) {
	t.writeWord(buf, pltAddr)
}

func (t *Target) ptrLoad() uint32 {
	switch {
	case t.IsCheriAbi && t.Is64:
		return opCLC128
	case t.IsCheriAbi:
		return opCLC64
	case t.Is64:
		return opLD
	}
	return opLW
}

// WritePltHeader writes the lazy-binding trampoline. CheriABI images have
// no lazy binding, so their header is left as trapping zeros.
func WritePltHeader(t *Target, buf []byte, gotPltAddr, pltAddr uint64) {
	if t.IsCheriAbi {
		clear(buf[:t.PltHeaderSize])
		return
	}

	offset := uint32(gotPltAddr - pltAddr)
	shift := uint32(1)
	if !t.Is64 {
		shift = 2
	}

	// 1: auipc t2, %pcrel_hi(.got.plt)
	//    sub t1, t1, t3
	//    l[wd] t3, %pcrel_lo(1b)(t2)
	//    addi t1, t1, -pltHeaderSize-12
	//    addi t0, t2, %pcrel_lo(1b)
	//    srli t1, t1, shift
	//    l[wd] t0, wordsize(t0)
	//    jr t3
	write32(buf[0:], utype(opAUIPC, regT2, hi20(offset)))
	write32(buf[4:], rtype(opSUB, regT1, regT1, regT3))
	write32(buf[8:], itype(t.ptrLoad(), regT3, regT2, lo12(offset)))
	write32(buf[12:], itype(opADDI, regT1, regT1, uint32(-int32(t.PltHeaderSize)-12)))
	write32(buf[16:], itype(opADDI, regT0, regT2, lo12(offset)))
	write32(buf[20:], itype(opSRLI, regT1, regT1, shift))
	write32(buf[24:], itype(t.ptrLoad(), regT0, regT0, uint32(t.WordSize)))
	write32(buf[28:], itype(opJALR, regZero, regT3, 0))
}

// WritePlt writes one PLT entry loading its target from slotAddr.
func WritePlt(t *Target, buf []byte, slotAddr, entryAddr uint64) {
	offset := uint32(slotAddr - entryAddr)

	// 1: auipc t3, %pcrel_hi(slot)
	//    l[wdc] t3, %pcrel_lo(1b)(t3)
	//    jalr t1, t3
	//    nop
	write32(buf[0:], utype(opAUIPC, regT3, hi20(offset)))
	write32(buf[4:], itype(t.ptrLoad(), regT3, regT3, lo12(offset)))
	write32(buf[8:], itype(opJALR, regT1, regT3, 0))
	write32(buf[12:], insnNop)
}
