package linker

import (
	"fmt"
	"io"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// DumpSection disassembles the final contents of an executable section.
// Words the decoder rejects are printed raw and skipped by two bytes, the
// smallest instruction size.
func DumpSection(w io.Writer, ctx *Context, isec *InputSection) error {
	snap := ctx.Layout.Snapshot()
	addr := snap.SectionAddr(isec)

	code := isec.Contents
	if base := ChunkBuf(ctx, isec.OutputSection); base != nil {
		code = base[isec.Offset : isec.Offset+isec.Size()]
	}

	if _, err := fmt.Fprintf(w, "%s(%s):\n", isec.FileName(), isec.Name); err != nil {
		return err
	}

	for off := 0; off < len(code); {
		inst, err := riscv64asm.Decode(code[off:])
		if err != nil || inst.Len == 0 {
			n := min(2, len(code)-off)
			_, err = fmt.Fprintf(w, "  %8x:\t% x\t.short\n", addr+uint64(off), code[off:off+n])
			if err != nil {
				return err
			}
			off += n
			continue
		}

		_, err = fmt.Fprintf(w, "  %8x:\t% x\t%s\n", addr+uint64(off),
			code[off:off+inst.Len], riscv64asm.GNUSyntax(inst))
		if err != nil {
			return err
		}
		off += inst.Len
	}
	return nil
}
