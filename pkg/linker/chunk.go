package linker

import "debug/elf"

type Chunker interface {
	GetName() string
	GetShdr() *SectionHeader
	UpdateShdr(ctx *Context)
	CopyBuf(ctx *Context)
}

type Chunk struct {
	Name string
	Shdr SectionHeader
}

func NewChunk() Chunk {
	return Chunk{
		Shdr: SectionHeader{
			Addralign: 1,
		},
	}
}

func (c *Chunk) GetName() string {
	return c.Name
}

func (c *Chunk) GetShdr() *SectionHeader {
	return &c.Shdr
}

func (c *Chunk) UpdateShdr(ctx *Context) {}

func (c *Chunk) CopyBuf(ctx *Context) {}

// ChunkBuf is the part of the image buffer backing chunk, or nil for
// chunks that occupy no file space.
func ChunkBuf(ctx *Context, c Chunker) []byte {
	shdr := c.GetShdr()
	if shdr.Type == uint32(elf.SHT_NOBITS) || ctx.Buf == nil {
		return nil
	}
	return ctx.Buf[shdr.Offset : shdr.Offset+shdr.Size]
}

func isExec(c Chunker) bool {
	return c.GetShdr().Flags&uint64(elf.SHF_EXECINSTR) != 0
}

func isTls(c Chunker) bool {
	return c.GetShdr().Flags&uint64(elf.SHF_TLS) != 0
}

func isTbss(c Chunker) bool {
	shdr := c.GetShdr()
	return shdr.Type == uint32(elf.SHT_NOBITS) &&
		shdr.Flags&uint64(elf.SHF_TLS) != 0
}
