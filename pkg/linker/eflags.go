package linker

// CalcEFlags merges the e_flags of every input object. RVC is enabled when
// any input uses it; the float ABI, RVE, CheriABI and capability mode must
// agree across all inputs.
func CalcEFlags(ctx *Context) (uint32, error) {
	if len(ctx.Objs) == 0 {
		return 0, nil
	}

	flags := ctx.Objs[0].Flags
	for _, obj := range ctx.Objs[1:] {
		eflags := obj.Flags
		if eflags&EF_RISCV_RVC != 0 {
			flags |= EF_RISCV_RVC
		}

		checks := []struct {
			mask uint32
			what string
		}{
			{EF_RISCV_FLOAT_ABI, "floating-point ABI"},
			{EF_RISCV_RVE, "EF_RISCV_RVE"},
			{EF_RISCV_CHERIABI, "EF_RISCV_CHERIABI"},
			{EF_RISCV_CAP_MODE, "EF_RISCV_CAP_MODE"},
		}
		for _, c := range checks {
			if eflags&c.mask != flags&c.mask {
				return 0, ctx.Diag.Fatal(ErrIncompatibleFlags,
					"%s: cannot link object files with different %s",
					obj.File.Name, c.what)
			}
		}
	}

	if ctx.Args.CheriAbi && flags&EF_RISCV_CHERIABI == 0 {
		return 0, ctx.Diag.Fatal(ErrIncompatibleFlags,
			"%s: object file is non-CheriABI but emulation forces it",
			ctx.Objs[0].File.Name)
	}

	return flags, nil
}
