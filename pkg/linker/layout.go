package linker

import (
	"debug/elf"
	"math"
	"sort"

	"rvrelax/pkg/utils"
)

// Layout assigns addresses. The relaxation engine reports every section
// whose plan changed and takes a fresh Snapshot before each pass.
type Layout interface {
	SectionShrunk(isec *InputSection)
	Snapshot() *Snapshot
}

// ImageLayout places allocated chunks back to back from the image base,
// in the order a flat image is written.
type ImageLayout struct {
	ctx   *Context
	dirty bool
	snap  *Snapshot
}

func NewImageLayout(ctx *Context) *ImageLayout {
	return &ImageLayout{ctx: ctx, dirty: true}
}

func (l *ImageLayout) SectionShrunk(isec *InputSection) {
	l.dirty = true
}

func (l *ImageLayout) Snapshot() *Snapshot {
	if l.dirty || l.snap == nil {
		l.assign()
	}
	return l.snap
}

func (l *ImageLayout) assign() {
	ctx := l.ctx
	ctx.Chunks = collectChunks(ctx)
	sortChunks(ctx)

	for _, c := range ctx.Chunks {
		c.UpdateShdr(ctx)
	}
	setChunkAddrs(ctx)

	snap := takeSnapshot(ctx)
	for _, c := range ctx.Chunks {
		if isTls(c) {
			snap.TlsAddr = c.GetShdr().Addr
			break
		}
	}
	snap.CGPAddr = cgpBase(ctx, snap)

	l.snap = snap
	l.dirty = false
}

// CreateSyntheticSections makes the tables ScanRelocations fills. It must
// run after the target is known.
func CreateSyntheticSections(ctx *Context) {
	ctx.Got = NewGotSection(ctx)
	ctx.GotPlt = NewGotPltSection(ctx)
	ctx.Plt = NewPltSection()
	ctx.CapTable = NewCapTableSection(ctx)
}

func collectChunks(ctx *Context) []Chunker {
	var chunks []Chunker
	for _, osec := range ctx.OutputSections {
		if len(osec.Members) > 0 && osec.Shdr.Flags&uint64(elf.SHF_ALLOC) != 0 {
			chunks = append(chunks, osec)
		}
	}

	if ctx.Got != nil && !ctx.Got.Empty() {
		chunks = append(chunks, ctx.Got)
	}
	if ctx.Plt != nil && len(ctx.Plt.Symbols) > 0 {
		chunks = append(chunks, ctx.Plt, ctx.GotPlt)
	}
	if ctx.CapTable != nil && !ctx.CapTable.Empty() {
		chunks = append(chunks, ctx.CapTable)
	}
	return chunks
}

func sortChunks(ctx *Context) {
	rank := func(chunk Chunker) int32 {
		typ := chunk.GetShdr().Type
		flags := chunk.GetShdr().Flags

		if flags&uint64(elf.SHF_ALLOC) == 0 {
			return math.MaxInt32
		}
		if typ == uint32(elf.SHT_NOTE) {
			return 0
		}

		b2i := func(b bool) int {
			if b {
				return 1
			}
			return 0
		}

		writeable := b2i(flags&uint64(elf.SHF_WRITE) != 0)
		notExec := b2i(flags&uint64(elf.SHF_EXECINSTR) == 0)
		notTls := b2i(flags&uint64(elf.SHF_TLS) == 0)
		isBss := b2i(typ == uint32(elf.SHT_NOBITS))

		return int32(writeable<<7 | notExec<<6 | notTls<<5 | isBss<<4)
	}

	sort.SliceStable(ctx.Chunks, func(i, j int) bool {
		return rank(ctx.Chunks[i]) < rank(ctx.Chunks[j])
	})
}

// UpdateShdr places members at their current sizes. Under CheriABI a data
// section is aligned so a capability to it can be exactly bounded.
func (o *OutputSection) UpdateShdr(ctx *Context) {
	offset := uint64(0)
	p2align := uint8(0)

	for _, isec := range o.Members {
		offset = utils.AlignTo(offset, 1<<isec.P2Align)
		isec.Offset = offset
		offset += isec.Size()
		p2align = max(p2align, isec.P2Align)
	}

	o.Shdr.Size = offset
	o.Shdr.Addralign = 1 << p2align
	if ctx.Target.IsCheriAbi && !isExec(o) {
		o.Shdr.Addralign = max(o.Shdr.Addralign, CheriRequiredAlignment(offset))
	}
}

func setChunkAddrs(ctx *Context) {
	if len(ctx.Chunks) == 0 {
		return
	}

	addr := ctx.Args.ImageBase
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		addr = utils.AlignTo(addr, max(shdr.Addralign, 1))
		shdr.Addr = addr

		if !isTbss(chunk) {
			addr += shdr.Size
		}
	}

	first := ctx.Chunks[0].GetShdr()
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		shdr.Offset = shdr.Addr - first.Addr
	}
}

// cgpBase is the compartment global pointer: the configured symbol when
// it is defined, otherwise 0x800 past the start of writable data.
func cgpBase(ctx *Context, snap *Snapshot) uint64 {
	if id, ok := ctx.SymbolMap[ctx.Args.GlobalPtr]; ok && ctx.Symbol(id).IsDefined() {
		return snap.SymbolAddr(id)
	}
	for _, c := range ctx.Chunks {
		if c.GetShdr().Flags&uint64(elf.SHF_WRITE) != 0 {
			return c.GetShdr().Addr + 0x800
		}
	}
	return 0
}

// ImageSize is the length of the flat image covering every chunk with
// file contents.
func ImageSize(ctx *Context) uint64 {
	var size uint64
	for _, c := range ctx.Chunks {
		shdr := c.GetShdr()
		if shdr.Type != uint32(elf.SHT_NOBITS) {
			size = max(size, shdr.Offset+shdr.Size)
		}
	}
	return size
}

// WriteImage fills ctx.Buf with the final section contents. Relocations
// are applied afterwards by ApplyRelocations.
func WriteImage(ctx *Context) {
	ctx.Layout.Snapshot()
	ctx.Buf = make([]byte, ImageSize(ctx))
	for _, c := range ctx.Chunks {
		c.CopyBuf(ctx)
	}
}
