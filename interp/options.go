package interp

import "github.com/chazu/jumpsub/pkg/opcode"

// ExecFunc implements an opcode. The machine has already checked the data
// stack against the table entry and advances the PC after it returns.
type ExecFunc func(m *Machine, in opcode.Instruction) error

// Option configures a Machine.
type Option func(*config)

type config struct {
	table       *opcode.Table
	stackLimit  int
	returnLimit int
	stepLimit   int
	legacyJumps bool
	tracers     []func(Event)
	handlers    map[opcode.Opcode]ExecFunc
}

func newConfig(opts []Option) *config {
	cfg := &config{
		stackLimit:  DefaultStackLimit,
		returnLimit: DefaultStackLimit,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.table == nil {
		cfg.table = opcode.Default()
	}
	return cfg
}

// WithTable selects the opcode table. The default is opcode.Default().
func WithTable(t *opcode.Table) Option {
	return func(c *config) { c.table = t }
}

// WithStackLimit bounds the data stack.
func WithStackLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.stackLimit = n
		}
	}
}

// WithReturnStackLimit bounds subroutine nesting.
func WithReturnStackLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.returnLimit = n
		}
	}
}

// WithStepLimit aborts execution after n instructions. Zero means no limit.
func WithStepLimit(n int) Option {
	return func(c *config) { c.stepLimit = n }
}

// WithLegacyJumps executes JUMP and JUMPI instead of aborting on them.
func WithLegacyJumps(enabled bool) Option {
	return func(c *config) { c.legacyJumps = enabled }
}

// WithTracer calls fn before every instruction executes.
func WithTracer(fn func(Event)) Option {
	return func(c *config) { c.tracers = append(c.tracers, fn) }
}

// WithHandler overrides or supplies the implementation of a non-control-flow
// opcode.
func WithHandler(op opcode.Opcode, fn ExecFunc) Option {
	return func(c *config) {
		if c.handlers == nil {
			c.handlers = make(map[opcode.Opcode]ExecFunc)
		}
		c.handlers[op] = fn
	}
}
