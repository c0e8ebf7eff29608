package validator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Report summarizes one validation for callers that keep results around,
// such as the result cache and the service.
type Report struct {
	Accepted    bool
	Fault       *Fault
	CodeSize    int
	Visited     int
	MaxDepth    int
	Subroutines int
	Table       [32]byte // fingerprint of the opcode table used
}

// Check validates code and summarizes the outcome. Unlike Validate it never
// returns an error; a rejection is recorded in the report.
func Check(code []byte, opts ...Option) *Report {
	cfg := newConfig(opts)
	a, err := Analyze(code, opts...)
	r := &Report{
		Accepted:    err == nil,
		CodeSize:    len(code),
		Visited:     a.Visited(),
		MaxDepth:    a.MaxDepth(),
		Subroutines: a.Subroutines(),
		Table:       cfg.table.Fingerprint(),
	}
	if f, ok := AsFault(err); ok {
		r.Fault = f
	}
	return r
}

// Err returns the report's fault as an error, or nil when accepted.
func (r *Report) Err() error {
	if r.Accepted || r.Fault == nil {
		return nil
	}
	return r.Fault
}

// ValidateAll validates independent programs concurrently. Validations share
// no state, so workers only bounds parallelism; zero or less means no bound.
// The per-program results are in input order. The returned error is non-nil
// only when ctx is cancelled.
func ValidateAll(ctx context.Context, codes [][]byte, workers int, opts ...Option) ([]error, error) {
	results := make([]error, len(codes))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, code := range codes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Validate(code, opts...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
