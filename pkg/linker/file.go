package linker

import (
	"debug/elf"
	"os"

	"golang.org/x/sys/unix"

	"rvrelax/pkg/utils"
)

type File struct {
	Name     string
	Contents []byte
}

// MustNewFile maps filename privately: section buffers alias the mapping
// and relocation writes must never reach the file on disk.
func MustNewFile(filename string) *File {
	f, err := os.Open(filename)
	utils.MustNo(err)
	defer f.Close()

	st, err := f.Stat()
	utils.MustNo(err)

	if st.Size() == 0 {
		return &File{Name: filename, Contents: []byte{}}
	}

	contents, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		contents, err = os.ReadFile(filename)
		utils.MustNo(err)
	}

	return &File{
		Name:     filename,
		Contents: contents,
	}
}

type FileType = uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeObject
)

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if CheckMagic(contents) && len(contents) > 18 {
		if elf.Type(utils.Read[uint16](contents[16:])) == elf.ET_REL {
			return FileTypeObject
		}
	}

	return FileTypeUnknown
}
