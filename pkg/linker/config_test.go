package linker

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
output: fw.bin
emulation: elf32lriscv
image_base: 0x80000000
relax: false
max_passes: 12
jobs: 4
imports: [memcpy, memset]
global_pointer: __cgp
cheri_abi: true
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if c.Output != "fw.bin" || c.Emulation != "elf32lriscv" || c.ImageBase != 0x80000000 {
		t.Errorf("decoded %+v", c)
	}
	if c.Relax == nil || *c.Relax {
		t.Error("relax: false was not decoded")
	}
	if c.MaxPasses != 12 || c.Jobs != 4 || len(c.Imports) != 2 || !c.CheriAbi {
		t.Errorf("decoded %+v", c)
	}

	ctx := NewContext()
	if err := c.ApplyTo(ctx); err != nil {
		t.Fatal(err)
	}
	args := ctx.Args
	if args.Emulation != MachineTypeRISCV32 || args.Relax || args.MaxPasses != 12 ||
		args.Jobs != 4 || args.GlobalPtr != "__cgp" || !args.CheriAbi {
		t.Errorf("applied %+v", args)
	}
}

func TestParseConfigUnknownKey(t *testing.T) {
	if _, err := ParseConfig([]byte("relaxx: true\n")); err == nil {
		t.Error("misspelled key was accepted")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.yaml")
	if err := os.WriteFile(path, []byte("jobs: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Jobs != 2 {
		t.Errorf("jobs %d, want 2", c.Jobs)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file was accepted")
	}
}

func TestConfigApplyEnv(t *testing.T) {
	t.Setenv("RVRELAX_MAX_PASSES", "7")
	t.Setenv("RVRELAX_NO_RELAX", "true")
	t.Setenv("RVRELAX_IMAGE_BASE", "0x20000")

	c := &Config{MaxPasses: 3}
	if err := c.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if c.MaxPasses != 7 {
		t.Errorf("max passes %d, want 7", c.MaxPasses)
	}
	if c.Relax == nil || *c.Relax {
		t.Error("RVRELAX_NO_RELAX did not disable relaxation")
	}
	if c.ImageBase != 0x20000 {
		t.Errorf("image base 0x%x, want 0x20000", c.ImageBase)
	}

	t.Setenv("RVRELAX_IMAGE_BASE", "lots")
	if err := (&Config{}).ApplyEnv(); err == nil {
		t.Error("malformed image base was accepted")
	}
}

func TestConfigApplyEnvSeesLaterChanges(t *testing.T) {
	t.Setenv("RVRELAX_JOBS", "2")
	c := &Config{}
	if err := c.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if c.Jobs != 2 {
		t.Fatalf("jobs %d, want 2", c.Jobs)
	}

	t.Setenv("RVRELAX_JOBS", "6")
	if err := c.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if c.Jobs != 6 {
		t.Errorf("jobs %d after the environment changed, want 6", c.Jobs)
	}
}

func TestConfigApplyToRejects(t *testing.T) {
	tests := []struct {
		name string
		c    Config
	}{
		{"emulation", Config{Emulation: "elf64lppc"}},
		{"passes", Config{MaxPasses: -1}},
		{"jobs", Config{Jobs: -2}},
	}

	for _, tt := range tests {
		if err := tt.c.ApplyTo(NewContext()); err == nil {
			t.Errorf("%s: invalid value was accepted", tt.name)
		}
	}
}

func TestConfigApplyToKeepsDefaults(t *testing.T) {
	ctx := NewContext()
	want := ctx.Args
	if err := (&Config{}).ApplyTo(ctx); err != nil {
		t.Fatal(err)
	}
	got := ctx.Args
	if got.Relax != want.Relax || got.MaxPasses != want.MaxPasses ||
		got.ImageBase != want.ImageBase || got.GlobalPtr != want.GlobalPtr {
		t.Errorf("empty config changed args: %+v", got)
	}
}
