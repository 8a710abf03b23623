package linker

import (
	"debug/elf"
	"fmt"

	"rvrelax/pkg/utils"
)

// InputFile is a parsed ELF relocatable. ELF32 headers, symbols and
// relocations are widened to their ELF64 shapes on read.
type InputFile struct {
	File        *File
	Is64        bool
	Flags       uint32
	Sections    []SectionHeader
	FirstGlobal int64
	SymTable    []Sym64
	SymStrTable []byte
	StrTable    []byte
}

func NewInputFile(file *File) InputFile {
	elfFile := InputFile{File: file}

	if len(file.Contents) < int(ELFHeader32Size) {
		utils.Fatal(fmt.Sprintf("%s: ELF file too small!", file.Name))
	}

	if !CheckMagic(file.Contents) {
		utils.Fatal(fmt.Sprintf("%s: not an ELF file!", file.Name))
	}

	elfFile.Is64 = elf.Class(file.Contents[elf.EI_CLASS]) == elf.ELFCLASS64

	var shoff, shnum, shstrndx uint64
	if elfFile.Is64 {
		if len(file.Contents) < int(ELFHeaderSize) {
			utils.Fatal(fmt.Sprintf("%s: ELF64 header truncated", file.Name))
		}
		ehdr := utils.Read[Header64](file.Contents)
		shoff, shnum, shstrndx = ehdr.Shoff, uint64(ehdr.Shnum), uint64(ehdr.Shstrndx)
		elfFile.Flags = ehdr.Flags
	} else {
		ehdr := utils.Read[Header32](file.Contents)
		shoff, shnum, shstrndx = uint64(ehdr.Shoff), uint64(ehdr.Shnum), uint64(ehdr.Shstrndx)
		elfFile.Flags = ehdr.Flags
	}

	contents := file.Contents[shoff:]
	first := elfFile.readSectionHeader(contents)
	if shnum == 0 {
		shnum = first.Size
	}

	elfFile.Sections = []SectionHeader{first}
	for shnum > 1 {
		contents = contents[elfFile.sectionHeaderSize():]
		elfFile.Sections = append(elfFile.Sections, elfFile.readSectionHeader(contents))
		shnum--
	}

	if shstrndx == uint64(elf.SHN_XINDEX) {
		shstrndx = uint64(first.Link)
	}

	elfFile.StrTable = elfFile.GetBytesFromIndex(shstrndx)

	return elfFile
}

func (file *InputFile) sectionHeaderSize() uintptr {
	if file.Is64 {
		return SectionHeaderSize
	}
	return SectionHeader32Size
}

func (file *InputFile) readSectionHeader(data []byte) SectionHeader {
	if file.Is64 {
		return utils.Read[SectionHeader](data)
	}
	s := utils.Read[SectionHeader32](data)
	return SectionHeader{
		Name:      s.Name,
		Type:      s.Type,
		Flags:     uint64(s.Flags),
		Addr:      uint64(s.Addr),
		Offset:    uint64(s.Offset),
		Size:      uint64(s.Size),
		Link:      s.Link,
		Info:      s.Info,
		Addralign: uint64(s.Addralign),
		Entsize:   uint64(s.Entsize),
	}
}

func (file *InputFile) GetBytesFromShdr(hdr *SectionHeader) []byte {
	if hdr.Type == uint32(elf.SHT_NOBITS) {
		return nil
	}
	start := hdr.Offset
	end := hdr.Offset + hdr.Size
	if uint64(len(file.File.Contents)) < end {
		utils.Fatal(
			fmt.Sprintf("%s: section header is out of range: %d",
				file.File.Name, hdr.Offset),
		)
	}
	return file.File.Contents[start:end]
}

func (file *InputFile) GetBytesFromIndex(idx uint64) []byte {
	return file.GetBytesFromShdr(&file.Sections[idx])
}

func (file *InputFile) FindSection(type_ uint32) *SectionHeader {
	for i := 0; i < len(file.Sections); i++ {
		shdr := &file.Sections[i]
		if shdr.Type == type_ {
			return shdr
		}
	}

	return nil
}

func (file *InputFile) FillUpSymbols(s *SectionHeader) {
	symContents := file.GetBytesFromShdr(s)

	if file.Is64 {
		file.SymTable = utils.ReadSlice[Sym64](symContents, int(SymbolSize))
		return
	}

	syms := utils.ReadSlice[Sym32](symContents, int(Symbol32Size))
	file.SymTable = make([]Sym64, 0, len(syms))
	for _, sym := range syms {
		file.SymTable = append(file.SymTable, Sym64{
			Name:  sym.Name,
			Info:  sym.Info,
			Other: sym.Other,
			Shndx: sym.Shndx,
			Value: uint64(sym.Value),
			Size:  uint64(sym.Size),
		})
	}
}

// ReadRelas decodes a SHT_RELA section into ELF64-shaped records.
func (file *InputFile) ReadRelas(s *SectionHeader) []Rela {
	data := file.GetBytesFromShdr(s)

	if file.Is64 {
		return utils.ReadSlice[Rela](data, int(RelaSize))
	}

	relas := utils.ReadSlice[Rela32](data, int(Rela32Size))
	res := make([]Rela, 0, len(relas))
	for _, r := range relas {
		res = append(res, Rela{
			Offset: uint64(r.Offset),
			Type:   elf.R_TYPE32(r.Info),
			Sym:    elf.R_SYM32(r.Info),
			Addend: int64(r.Addend),
		})
	}
	return res
}

// ReadRels decodes a SHT_REL section; the addends are filled in by the
// caller from the relocated field.
func (file *InputFile) ReadRels(s *SectionHeader) []Rela {
	data := file.GetBytesFromShdr(s)

	var res []Rela
	if file.Is64 {
		for _, r := range utils.ReadSlice[Rel](data, int(RelSize)) {
			res = append(res, Rela{Offset: r.Offset, Type: r.Type, Sym: r.Sym})
		}
		return res
	}

	for _, r := range utils.ReadSlice[Rel32](data, int(Rel32Size)) {
		res = append(res, Rela{
			Offset: uint64(r.Offset),
			Type:   elf.R_TYPE32(r.Info),
			Sym:    elf.R_SYM32(r.Info),
		})
	}
	return res
}
