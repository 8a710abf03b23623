package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"rvrelax/pkg/linker"
	"rvrelax/pkg/utils"
)

var version string

type options struct {
	linker.Config
	configPath string
}

func main() {
	ctx := linker.NewContext()
	opts, remaining := parseArgs()

	cfg := &linker.Config{}
	if opts.configPath != "" {
		var err error
		cfg, err = linker.LoadConfig(opts.configPath)
		utils.MustNo(err)
	}
	utils.MustNo(cfg.ApplyEnv())
	utils.MustNo(cfg.ApplyTo(ctx))
	utils.MustNo(opts.ApplyTo(ctx))

	level := slog.LevelWarn
	if cfg.Verbose || opts.Verbose {
		level = slog.LevelDebug
	}
	ctx.SetLogger(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level})))

	if len(remaining) == 0 {
		utils.Fatal("no input files")
	}

	if ctx.Args.Emulation == linker.MachineTypeNone {
		for _, filename := range remaining {
			file := linker.MustNewFile(filename)
			ctx.Args.Emulation = linker.GetMachineTypeFromContents(file.Contents)
			if ctx.Args.Emulation != linker.MachineTypeNone {
				break
			}
		}
	}
	if ctx.Args.Emulation == linker.MachineTypeNone {
		utils.Fatal("unknown emulation type")
	}

	linker.ReadInputFiles(ctx, remaining)

	eflags, err := linker.CalcEFlags(ctx)
	utils.MustNo(err)
	ctx.Target = linker.NewTarget(ctx.Args.Emulation, eflags)

	linker.ReadRelocations(ctx)
	linker.CreateSyntheticSections(ctx)
	linker.ScanRelocations(ctx)
	checkDiagnostics(ctx)

	before := make(map[*linker.InputSection]uint64)
	for _, isec := range ctx.RelaxableSections() {
		before[isec] = isec.ShSize
	}

	passes, err := linker.Relax(ctx)
	utils.MustNo(err)

	linker.WriteImage(ctx)
	utils.MustNo(linker.ApplyRelocations(ctx))
	checkDiagnostics(ctx)

	utils.MustNo(os.WriteFile(ctx.Args.Output, ctx.Buf, 0644))

	printReport(ctx, before, passes)

	if cfg.Dump || opts.Dump {
		for _, isec := range ctx.RelaxableSections() {
			utils.MustNo(linker.DumpSection(os.Stdout, ctx, isec))
		}
	}
}

func checkDiagnostics(ctx *linker.Context) {
	errs := ctx.Diag.Errors()
	if len(errs) == 0 {
		return
	}
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "rvrelax: error: %v\n", err)
	}
	utils.Fatal(fmt.Sprintf("%d error(s)", len(errs)))
}

func printReport(ctx *linker.Context, before map[*linker.InputSection]uint64, passes int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "file\tsection\taddress\tbefore\tafter\tremoved\n")

	snap := ctx.Layout.Snapshot()
	var total uint64
	for _, isec := range ctx.RelaxableSections() {
		orig := before[isec]
		total += orig - isec.ShSize
		fmt.Fprintf(w, "%s\t%s\t0x%x\t%d\t%d\t%d\n", isec.FileName(), isec.Name,
			snap.SectionAddr(isec), orig, isec.ShSize, orig-isec.ShSize)
	}
	w.Flush()

	fmt.Printf("%d bytes removed in %d passes, %d capability relocations\n",
		total, passes, len(ctx.CapRelocs))

	if warns := ctx.Diag.Warnings(); len(warns) > 0 {
		fmt.Printf("%d warning(s):\n", len(warns))
		for _, w := range warns {
			fmt.Printf("  %s\n", w)
		}
	}
}

func parseArgs() (*options, []string) {
	args := os.Args[1:]
	opts := &options{}

	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	arg := ""
	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					utils.Fatal(fmt.Sprintf("option -%s: argument missing", name))
				}

				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}
			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}

		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}

		return false
	}

	readInt := func() int {
		n, err := strconv.Atoi(arg)
		if err != nil {
			utils.Fatal(fmt.Sprintf("invalid number: %s", arg))
		}
		return n
	}

	setRelax := func(on bool) {
		opts.Relax = &on
	}

	remaining := make([]string, 0)
	for len(args) > 0 {
		if readFlag("help") {
			fmt.Printf("usage: %s [options] file...\n", os.Args[0])
			os.Exit(0)
		}

		if readArg("output") || readArg("o") {
			opts.Output = arg
		} else if readFlag("version") || readFlag("v") {
			fmt.Printf("rvrelax %s\n", version)
			os.Exit(0)
		} else if readFlag("cheri-abi") {
			opts.CheriAbi = true
		} else if readArg("config") || readArg("c") {
			opts.configPath = arg
		} else if readArg("image-base") {
			base, err := strconv.ParseUint(arg, 0, 64)
			if err != nil {
				utils.Fatal(fmt.Sprintf("invalid image base: %s", arg))
			}
			opts.ImageBase = base
		} else if readArg("max-passes") {
			opts.MaxPasses = readInt()
		} else if readArg("m") {
			if _, ok := linker.ParseEmulation(arg); !ok {
				utils.Fatal(fmt.Sprintf("unknown -m argument: %s", arg))
			}
			opts.Emulation = arg
		} else if readArg("jobs") || readArg("j") {
			opts.Jobs = readInt()
		} else if readArg("import") {
			opts.Imports = append(opts.Imports, strings.Split(arg, ",")...)
		} else if readArg("global-pointer") {
			opts.GlobalPointer = arg
		} else if readFlag("relax") {
			setRelax(true)
		} else if readFlag("no-relax") {
			setRelax(false)
		} else if readFlag("verbose") {
			opts.Verbose = true
		} else if readFlag("dump") {
			opts.Dump = true
		} else if readArg("sysroot") ||
			readFlag("static") ||
			readArg("hash-style") ||
			readArg("build-id") ||
			readFlag("s") {
			// Ignored
		} else {
			if args[0][0] == '-' {
				utils.Fatal(fmt.Sprintf(
					"unknown command line option: %s", args[0]))
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	return opts, remaining
}
