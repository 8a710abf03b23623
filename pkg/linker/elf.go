package linker

import (
	"bytes"
	"debug/elf"
	"unsafe"
)

const (
	EF_RISCV_RVC             uint32 = 0x1
	EF_RISCV_FLOAT_ABI       uint32 = 0x6
	EF_RISCV_RVE             uint32 = 0x8
	EF_RISCV_CHERIABI        uint32 = 0x10000
	EF_RISCV_CAP_MODE        uint32 = 0x20000
	SHN_XINDEX                      = uint32(elf.SHN_XINDEX)
	elfMagic                        = "\177ELF"
	defaultImageBase         uint64 = 0x10000
	defaultMaxPasses                = 30
	defaultCapabilitySize64         = 16
	defaultCapabilitySize32         = 8
	defaultGlobalPointerName        = "__global_pointer$"
)

type Header64 struct {
	Ident     [16]byte /* File identification. */
	Type      uint16   /* File type. */
	Machine   uint16   /* Machine architecture. */
	Version   uint32   /* ELF format version. */
	Entry     uint64   /* Entry point. */
	Phoff     uint64   /* Program header file offset. */
	Shoff     uint64   /* Section header file offset. */
	Flags     uint32   /* Architecture-specific flags. */
	Ehsize    uint16   /* Size of ELF header in bytes. */
	Phentsize uint16   /* Size of program header entry. */
	Phnum     uint16   /* Number of program header entries. */
	Shentsize uint16   /* Size of section header entry. */
	Shnum     uint16   /* Number of section header entries. */
	Shstrndx  uint16   /* Section name strings section. */
}

type Header32 struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type SectionHeader32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

type Sym64 struct {
	Name  uint32 /* String table index of name. */
	Info  uint8  /* Type and binding information. */
	Other uint8  /* Reserved (not used). */
	Shndx uint16 /* Section index of symbol. */
	Value uint64 /* Symbol value. */
	Size  uint64 /* Size of associated object. */
}

type Sym32 struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

// Rela mirrors the ELF64 RELA record: r_info packs the kind in its low
// word and the symbol index in its high word.
type Rela struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

type Rela32 struct {
	Offset uint32
	Info   uint32
	Addend int32
}

type Rel struct {
	Offset uint64
	Type   uint32
	Sym    uint32
}

type Rel32 struct {
	Offset uint32
	Info   uint32
}

const ELFHeaderSize = unsafe.Sizeof(Header64{})
const ELFHeader32Size = unsafe.Sizeof(Header32{})
const SectionHeaderSize = unsafe.Sizeof(SectionHeader{})
const SectionHeader32Size = unsafe.Sizeof(SectionHeader32{})
const SymbolSize = unsafe.Sizeof(Sym64{})
const Symbol32Size = unsafe.Sizeof(Sym32{})
const RelaSize = unsafe.Sizeof(Rela{})
const Rela32Size = unsafe.Sizeof(Rela32{})
const RelSize = unsafe.Sizeof(Rel{})
const Rel32Size = unsafe.Sizeof(Rel32{})

func (s *Sym64) IsUndef() bool {
	return s.Shndx == uint16(elf.SHN_UNDEF)
}

func (s *Sym64) IsAbs() bool {
	return s.Shndx == uint16(elf.SHN_ABS)
}

func (s *Sym64) IsCommon() bool {
	return s.Shndx == uint16(elf.SHN_COMMON)
}

func (s *Sym64) Type() uint8 {
	return s.Info & 0xf
}

func (s *Sym64) Bind() uint8 {
	return s.Info >> 4
}

func (s *Sym64) IsWeak() bool {
	return s.Bind() == uint8(elf.STB_WEAK)
}

func CheckMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, []byte(elfMagic))
}

func GetNameFromTable(strTable []byte, offset uint32) string {
	length := uint32(bytes.Index(strTable[offset:], []byte{0}))
	return string(strTable[offset : offset+length])
}
