package linker

import (
	"debug/elf"
	"fmt"
)

type ObjectFile struct {
	InputFile

	SymtabSection  *SectionHeader
	SymtabShndxSec []uint32
	InputSections  []*InputSection
	Symbols        []SymbolID
}

func NewObjectFile(file *File) *ObjectFile {
	o := &ObjectFile{InputFile: NewInputFile(file)}
	return o
}

// Parse reads sections and symbols. Relocations are read by
// ReadRelocations once every file's symbols are known.
func (o *ObjectFile) Parse(ctx *Context) {
	o.SymtabSection = o.FindSection(uint32(elf.SHT_SYMTAB))
	if o.SymtabSection != nil {
		o.FirstGlobal = int64(o.SymtabSection.Info)
		o.FillUpSymbols(o.SymtabSection)
		o.SymStrTable = o.GetBytesFromIndex(uint64(o.SymtabSection.Link))
	}

	o.InitializeSections(ctx)
	o.InitializeSymbols(ctx)
}

func (o *ObjectFile) InitializeSections(ctx *Context) {
	o.InputSections = make([]*InputSection, len(o.Sections))
	for i := 1; i < len(o.Sections); i++ {
		shdr := &o.Sections[i]
		switch elf.SectionType(shdr.Type) {
		case elf.SHT_GROUP, elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL,
			elf.SHT_RELA, elf.SHT_NULL:
		case elf.SHT_SYMTAB_SHNDX:
			o.FillUpSymtabShndxSec(shdr)
		default:
			if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
				continue
			}
			o.InputSections[i] = NewInputSection(ctx, o, uint32(i))
		}
	}
}

func (o *ObjectFile) FillUpSymtabShndxSec(s *SectionHeader) {
	bs := o.GetBytesFromShdr(s)
	o.SymtabShndxSec = make([]uint32, len(bs)/4)
	for i := range o.SymtabShndxSec {
		o.SymtabShndxSec[i] = read32(bs[i*4:])
	}
}

func (o *ObjectFile) GetShndx(esym *Sym64, idx int) uint32 {
	if uint32(esym.Shndx) == SHN_XINDEX {
		return o.SymtabShndxSec[idx]
	}
	return uint32(esym.Shndx)
}

func (o *ObjectFile) site(name string) Site {
	return Site{File: o.File.Name, Section: ".symtab", Symbol: name}
}

func (o *ObjectFile) InitializeSymbols(ctx *Context) {
	if o.SymtabSection == nil {
		return
	}

	o.Symbols = make([]SymbolID, len(o.SymTable))
	o.Symbols[0] = NoSymbol

	for i := 1; i < len(o.SymTable); i++ {
		esym := &o.SymTable[i]
		name := GetNameFromTable(o.SymStrTable, esym.Name)

		var id SymbolID
		if int64(i) < o.FirstGlobal {
			if esym.Type() == uint8(elf.STT_SECTION) {
				name = GetNameFromTable(o.StrTable, o.Sections[o.GetShndx(esym, i)].Name)
			}
			id = ctx.AddSymbol(NewSymbol(name))
		} else {
			id = GetSymbolByName(ctx, name)
		}
		o.Symbols[i] = id

		if esym.IsUndef() {
			if esym.IsWeak() && !ctx.Symbol(id).IsDefined() {
				ctx.Symbol(id).IsWeak = true
			}
			continue
		}
		if esym.IsCommon() {
			ctx.Diag.Error(o.site(name), "common symbol %s is not supported; compile with -fno-common", name)
			continue
		}

		sym := ctx.Symbol(id)
		if sym.IsDefined() && sym.File != o {
			if esym.IsWeak() || !sym.IsWeak {
				if !esym.IsWeak() {
					ctx.Diag.Error(o.site(name), "duplicate symbol: %s; also defined in %s",
						name, sym.File.File.Name)
				}
				continue
			}
		}
		o.defineSymbol(sym, esym, i)
	}
}

func (o *ObjectFile) defineSymbol(sym *Symbol, esym *Sym64, idx int) {
	sym.File = o
	sym.SymIdx = int32(idx)
	sym.Value = esym.Value
	sym.Size = esym.Size
	sym.Type = esym.Type()
	sym.IsWeak = esym.IsWeak()
	sym.IsAbs = esym.IsAbs()
	sym.InputSection = nil
	if !sym.IsAbs {
		sym.SetInputSection(o.InputSections[o.GetShndx(esym, idx)])
	}
}

// ReadRelocations attaches the file's relocation records to their
// sections. REL records take their addend from the patched field.
func (o *ObjectFile) ReadRelocations(ctx *Context) {
	for i := range o.Sections {
		shdr := &o.Sections[i]
		typ := elf.SectionType(shdr.Type)
		if typ != elf.SHT_RELA && typ != elf.SHT_REL {
			continue
		}

		isec := o.InputSections[shdr.Info]
		if isec == nil {
			continue
		}

		var relas []Rela
		if typ == elf.SHT_RELA {
			relas = o.ReadRelas(shdr)
		} else {
			relas = o.ReadRels(shdr)
		}

		for _, r := range relas {
			rtyp := RelType(r.Type)
			if typ == elf.SHT_REL && r.Offset < uint64(len(isec.Contents)) {
				addend, ok := ctx.Target.ImplicitAddend(isec.Contents[r.Offset:], rtyp)
				if !ok {
					ctx.Diag.Error(isec.Site(ctx, r.Offset, NoSymbol),
						"cannot read addend for relocation %s", rtyp)
				}
				r.Addend = addend
			}

			sym := NoSymbol
			if int(r.Sym) < len(o.Symbols) {
				sym = o.Symbols[r.Sym]
			}
			isec.AddRelocation(ctx, r.Offset, rtyp, sym, r.Addend)
		}
		isec.SortRelocations()
	}
}

func (o *ObjectFile) String() string {
	return fmt.Sprintf("%s (%d sections, %d symbols)",
		o.File.Name, len(o.Sections), len(o.SymTable))
}
