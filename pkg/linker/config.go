package linker

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

// Config is a link profile. Values come from a YAML file, then
// RVRELAX_* environment variables, then the command line.
type Config struct {
	Output        string   `yaml:"output"`
	Emulation     string   `yaml:"emulation"`
	ImageBase     uint64   `yaml:"image_base"`
	Relax         *bool    `yaml:"relax"`
	MaxPasses     int      `yaml:"max_passes"`
	Jobs          int      `yaml:"jobs"`
	Imports       []string `yaml:"imports"`
	GlobalPointer string   `yaml:"global_pointer"`
	CheriAbi      bool     `yaml:"cheri_abi"`
	Verbose       bool     `yaml:"verbose"`
	Dump          bool     `yaml:"dump"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML profile. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment. The env package caches
// os.Environ, so it is reloaded first to see changes since the last call.
func (c *Config) ApplyEnv() error {
	env.Load()

	c.Output = env.Str("RVRELAX_OUTPUT", c.Output)
	c.MaxPasses = env.Int("RVRELAX_MAX_PASSES", c.MaxPasses)
	c.Jobs = env.Int("RVRELAX_JOBS", c.Jobs)
	if env.Has("RVRELAX_NO_RELAX") {
		relax := !env.Bool("RVRELAX_NO_RELAX")
		c.Relax = &relax
	}
	if env.Has("RVRELAX_VERBOSE") {
		c.Verbose = env.Bool("RVRELAX_VERBOSE")
	}
	if s := env.Str("RVRELAX_IMAGE_BASE"); s != "" {
		base, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return fmt.Errorf("RVRELAX_IMAGE_BASE: %w", err)
		}
		c.ImageBase = base
	}
	return nil
}

// ApplyTo copies the set fields into ctx.Args.
func (c *Config) ApplyTo(ctx *Context) error {
	args := &ctx.Args
	if c.Output != "" {
		args.Output = c.Output
	}
	if c.Emulation != "" {
		mt, ok := ParseEmulation(c.Emulation)
		if !ok {
			return fmt.Errorf("config: unknown emulation %q", c.Emulation)
		}
		args.Emulation = mt
	}
	if c.ImageBase != 0 {
		args.ImageBase = c.ImageBase
	}
	if c.Relax != nil {
		args.Relax = *c.Relax
	}
	if c.MaxPasses < 0 || c.Jobs < 0 {
		return fmt.Errorf("config: max_passes and jobs must not be negative")
	}
	if c.MaxPasses != 0 {
		args.MaxPasses = c.MaxPasses
	}
	if c.Jobs != 0 {
		args.Jobs = c.Jobs
	}
	if c.GlobalPointer != "" {
		args.GlobalPtr = c.GlobalPointer
	}
	args.Imports = append(args.Imports, c.Imports...)
	args.CheriAbi = args.CheriAbi || c.CheriAbi
	return nil
}
