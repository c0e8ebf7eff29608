package interp

import "github.com/google/uuid"

// Trace records every step of a run.
type Trace struct {
	ID     uuid.UUID
	Events []Event
	Status Status
	Abort  *Abort
	Steps  int
}

// NewTrace returns an empty trace with a fresh run ID.
func NewTrace() *Trace {
	return &Trace{ID: uuid.New()}
}

// Record appends e. It has the signature WithTracer expects.
func (t *Trace) Record(e Event) {
	t.Events = append(t.Events, e)
}

// Option attaches the trace to a machine.
func (t *Trace) Option() Option {
	return WithTracer(t.Record)
}

// Finish copies the final state of m into the trace.
func (t *Trace) Finish(m *Machine) {
	t.Status = m.status
	t.Abort = m.abort
	t.Steps = m.steps
}
