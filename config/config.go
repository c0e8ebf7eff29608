// Package config handles jumpsub.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/jumpsub/interp"
	"github.com/chazu/jumpsub/pkg/opcode"
	"github.com/chazu/jumpsub/validator"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "jumpsub.toml"

// Config represents a jumpsub.toml file.
type Config struct {
	Opcodes     Opcodes     `toml:"opcodes"`
	Limits      Limits      `toml:"limits"`
	Interpreter Interpreter `toml:"interpreter"`
	Cache       Cache       `toml:"cache"`
	Server      Server      `toml:"server"`
	Log         Log         `toml:"log"`

	// Dir is the directory containing the file (set at load time). Relative
	// paths in the file are resolved against it.
	Dir string `toml:"-"`
}

// Opcodes selects the instruction set.
type Opcodes struct {
	Dialect string      `toml:"dialect"` // "immediate" or "stack"
	Define  []OpcodeDef `toml:"define"`
}

// OpcodeDef adds or replaces one opcode of the selected dialect.
type OpcodeDef struct {
	Code      int    `toml:"code"`
	Name      string `toml:"name"`
	Pops      int    `toml:"pops"`
	Pushes    int    `toml:"pushes"`
	Immediate int    `toml:"immediate"`
	Flow      string `toml:"flow"`
	Push      bool   `toml:"push"`
}

// Limits bounds validation and execution.
type Limits struct {
	Stack       int `toml:"stack"`
	ReturnStack int `toml:"return-stack"`
	Steps       int `toml:"steps"` // 0 means unlimited
}

// Interpreter configures execution.
type Interpreter struct {
	LegacyJumps       bool `toml:"legacy-jumps"`
	RequireValidation bool `toml:"require-validation"`
	Trace             bool `toml:"trace"`
}

// Cache configures the validation result cache.
type Cache struct {
	Path string `toml:"path"` // empty keeps results in memory only
}

// Server configures the RPC service.
type Server struct {
	Addr string `toml:"addr"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Opcodes:     Opcodes{Dialect: "immediate"},
		Limits:      Limits{Stack: validator.DefaultStackLimit, ReturnStack: interp.DefaultStackLimit},
		Interpreter: Interpreter{RequireValidation: true},
		Server:      Server{Addr: "localhost:8547"},
	}
}

// Load parses jumpsub.toml from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path. Settings the file omits
// keep their Default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	// Defaults
	if c.Opcodes.Dialect == "" {
		c.Opcodes.Dialect = "immediate"
	}
	if c.Limits.Stack <= 0 {
		c.Limits.Stack = validator.DefaultStackLimit
	}
	if c.Limits.ReturnStack <= 0 {
		c.Limits.ReturnStack = interp.DefaultStackLimit
	}

	return c, nil
}

// FindAndLoad walks up from startDir to find a jumpsub.toml file, then loads
// it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Table builds the opcode table: the selected dialect plus every [[define]].
func (c *Config) Table() (*opcode.Table, error) {
	t, err := opcode.ForDialect(c.Opcodes.Dialect)
	if err != nil {
		return nil, err
	}
	for _, d := range c.Opcodes.Define {
		if d.Code < 0 || d.Code > 255 {
			return nil, fmt.Errorf("config: opcode code %d out of range", d.Code)
		}
		flow, err := opcode.ParseFlow(d.Flow)
		if err != nil {
			return nil, fmt.Errorf("config: opcode %s: %w", d.Name, err)
		}
		t.Define(opcode.Opcode(d.Code), opcode.Info{
			Name:       strings.ToUpper(d.Name),
			StackPop:   d.Pops,
			StackPush:  d.Pushes,
			OperandLen: d.Immediate,
			Flow:       flow,
			Push:       d.Push,
		})
	}
	if err := t.Check(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return t, nil
}

// ValidatorOptions returns the validator settings for table t.
func (c *Config) ValidatorOptions(t *opcode.Table) []validator.Option {
	return []validator.Option{
		validator.WithTable(t),
		validator.WithStackLimit(c.Limits.Stack),
	}
}

// MachineOptions returns the interpreter settings for table t.
func (c *Config) MachineOptions(t *opcode.Table) []interp.Option {
	return []interp.Option{
		interp.WithTable(t),
		interp.WithStackLimit(c.Limits.Stack),
		interp.WithReturnStackLimit(c.Limits.ReturnStack),
		interp.WithStepLimit(c.Limits.Steps),
		interp.WithLegacyJumps(c.Interpreter.LegacyJumps),
	}
}

// CachePath returns the absolute cache database path, or "" for an
// in-memory cache.
func (c *Config) CachePath() string {
	return c.resolve(c.Cache.Path)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (c *Config) LogFile() string {
	return c.resolve(c.Log.File)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
