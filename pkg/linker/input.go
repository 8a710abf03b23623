package linker

import (
	"fmt"

	"rvrelax/pkg/utils"
)

func ReadInputFiles(ctx *Context, remaining []string) {
	for _, arg := range remaining {
		ReadFile(ctx, MustNewFile(arg))
	}
}

// ReadRelocations classifies every input relocation. It runs once the
// target is known and all symbols are resolved.
func ReadRelocations(ctx *Context) {
	MarkImports(ctx)
	for _, obj := range ctx.Objs {
		obj.ReadRelocations(ctx)
	}
}

func ReadFile(ctx *Context, file *File) {
	ft := GetFileType(file.Contents)

	switch ft {
	case FileTypeObject:
		ctx.Objs = append(ctx.Objs, CreateObjectFile(ctx, file))
	case FileTypeEmpty:
		ctx.Logger.Warn("skipping empty input", "file", file.Name)
	default:
		utils.Fatal(fmt.Sprintf("%s: unknown file type", file.Name))
	}
}

func CreateObjectFile(ctx *Context, file *File) *ObjectFile {
	mt := GetMachineTypeFromContents(file.Contents)
	if ctx.Args.Emulation == MachineTypeNone {
		ctx.Args.Emulation = mt
	}
	if mt != ctx.Args.Emulation {
		utils.Fatal(fmt.Sprintf("%s: incompatible file type %s, expected %s",
			file.Name, MachineTypeStringer{mt}, MachineTypeStringer{ctx.Args.Emulation}))
	}

	obj := NewObjectFile(file)
	obj.Parse(ctx)
	ctx.Logger.Debug("loaded", "object", obj)

	return obj
}

// MarkImports routes the configured symbols through the PLT when no input
// defines them.
func MarkImports(ctx *Context) {
	for _, name := range ctx.Args.Imports {
		id, ok := ctx.SymbolMap[name]
		if !ok {
			continue
		}
		if sym := ctx.Symbol(id); !sym.IsDefined() {
			sym.IsImport = true
		}
	}
}
