package linker

import (
	"debug/elf"
	"math/bits"
	"sort"

	"rvrelax/pkg/utils"
)

// Relocation is one resolved relocation record. Offset is relative to the
// section's current contents; Type and Addend may be rewritten by
// relaxation.
type Relocation struct {
	Offset uint64
	Type   RelType
	Expr   RelExpr
	Sym    SymbolID
	Addend int64
}

type InputSection struct {
	File     *ObjectFile
	Name     string
	Contents []byte
	Shndx    uint32
	Type     uint32
	Flags    uint64
	ShSize   uint64
	P2Align  uint8

	Id            int
	Offset        uint64
	OutputSection *OutputSection

	Rels         []Relocation
	RelaxAux     *RelaxAux
	BytesDropped uint32
}

func NewInputSection(ctx *Context, file *ObjectFile, shndx uint32) *InputSection {
	shdr := &file.Sections[shndx]
	utils.Assert(shdr.Flags&uint64(elf.SHF_COMPRESSED) == 0)

	s := ctx.AddSection(
		GetNameFromTable(file.StrTable, shdr.Name),
		uint64(shdr.Type), shdr.Flags, shdr.Addralign,
		file.GetBytesFromShdr(shdr))
	s.File = file
	s.Shndx = shndx
	s.ShSize = shdr.Size
	return s
}

// AddSection registers a section with the context and bins it into its
// output section.
func (ctx *Context) AddSection(name string, typ, flags, align uint64, contents []byte) *InputSection {
	s := &InputSection{
		Name:     name,
		Contents: contents,
		Type:     uint32(typ),
		Flags:    flags,
		ShSize:   uint64(len(contents)),
		Id:       len(ctx.Sections),
	}

	if align != 0 {
		s.P2Align = uint8(bits.TrailingZeros64(align))
	}

	s.OutputSection = GetOutputSection(ctx, name, typ, flags)
	s.OutputSection.Members = append(s.OutputSection.Members, s)
	ctx.Sections = append(ctx.Sections, s)
	return s
}

// Size is the current size, including bytes already dropped by an
// unfinished relaxation.
func (i *InputSection) Size() uint64 {
	return i.ShSize - uint64(i.BytesDropped)
}

func (i *InputSection) IsAlloc() bool {
	return i.Flags&uint64(elf.SHF_ALLOC) != 0
}

func (i *InputSection) WriteTo(buf []byte) {
	if i.Type == uint32(elf.SHT_NOBITS) || i.ShSize == 0 {
		return
	}
	copy(buf, i.Contents)
}

// AddRelocation appends a relocation record; records must be added in
// ascending offset order.
func (i *InputSection) AddRelocation(ctx *Context, offset uint64, typ RelType, sym SymbolID, addend int64) {
	expr, ok := RelExprOf(ctx, typ, sym)
	if !ok {
		ctx.Diag.Error(i.Site(ctx, offset, sym),
			"unknown relocation (%d) against symbol %s", uint32(typ), ctx.SymbolName(sym))
	}
	i.Rels = append(i.Rels, Relocation{
		Offset: offset,
		Type:   typ,
		Expr:   expr,
		Sym:    sym,
		Addend: addend,
	})
}

// SortRelocations orders by offset, keeping same-offset records in
// encounter order so that a call stays in front of its R_RISCV_RELAX.
func (i *InputSection) SortRelocations() {
	sort.SliceStable(i.Rels, func(a, b int) bool {
		return i.Rels[a].Offset < i.Rels[b].Offset
	})
}

// RelocationsAt returns the relocations recorded at exactly offset.
func (i *InputSection) RelocationsAt(offset uint64) []Relocation {
	lo := sort.Search(len(i.Rels), func(k int) bool {
		return i.Rels[k].Offset >= offset
	})
	hi := sort.Search(len(i.Rels), func(k int) bool {
		return i.Rels[k].Offset > offset
	})
	return i.Rels[lo:hi]
}

func (i *InputSection) FileName() string {
	if i.File == nil {
		return "<internal>"
	}
	return i.File.File.Name
}

func (i *InputSection) Site(ctx *Context, offset uint64, sym SymbolID) Site {
	return Site{
		File:    i.FileName(),
		Section: i.Name,
		Offset:  offset,
		Symbol:  ctx.SymbolName(sym),

		PCCRelative: ctx.IsPCCRelative(sym),
	}
}
