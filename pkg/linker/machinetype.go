package linker

import (
	"debug/elf"

	"rvrelax/pkg/utils"
)

type MachineType = uint8

const (
	MachineTypeNone MachineType = iota
	MachineTypeRISCV64
	MachineTypeRISCV32
)

func GetMachineTypeFromContents(contents []byte) MachineType {
	ft := GetFileType(contents)

	switch ft {
	case FileTypeObject:
		machine := elf.Machine(utils.Read[uint16](contents[18:]))
		if machine == elf.EM_RISCV {
			class := elf.Class(contents[4])
			switch class {
			case elf.ELFCLASS64:
				return MachineTypeRISCV64
			case elf.ELFCLASS32:
				return MachineTypeRISCV32
			}
		}
	}

	return MachineTypeNone
}

func ParseEmulation(name string) (MachineType, bool) {
	switch name {
	case "elf64lriscv", "riscv64":
		return MachineTypeRISCV64, true
	case "elf32lriscv", "riscv32":
		return MachineTypeRISCV32, true
	}
	return MachineTypeNone, false
}

type MachineTypeStringer struct {
	MachineType
}

func (m MachineTypeStringer) String() string {
	switch m.MachineType {
	case MachineTypeRISCV64:
		return "riscv64"
	case MachineTypeRISCV32:
		return "riscv32"
	}

	utils.Assert(m.MachineType == MachineTypeNone)
	return ""
}
