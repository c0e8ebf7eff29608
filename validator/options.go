package validator

import "github.com/chazu/jumpsub/pkg/opcode"

// DefaultStackLimit is the data-stack bound, in items.
const DefaultStackLimit = 1024

// Option configures a validation.
type Option func(*config)

type config struct {
	table *opcode.Table
	limit int
}

func newConfig(opts []Option) *config {
	cfg := &config{limit: DefaultStackLimit}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.table == nil {
		cfg.table = opcode.Default()
	}
	return cfg
}

// WithTable validates against t instead of the immediate-dialect table.
func WithTable(t *opcode.Table) Option {
	return func(c *config) { c.table = t }
}

// WithStackLimit overrides the maximum permitted depth.
func WithStackLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.limit = n
		}
	}
}
