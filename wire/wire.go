// Package wire defines the CBOR encodings of validation reports and
// execution traces. Encoding is canonical, so equal values always produce
// equal bytes and encoded reports can be compared or hashed directly.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/jumpsub/interp"
	"github.com/chazu/jumpsub/pkg/opcode"
	"github.com/chazu/jumpsub/validator"
)

// Version is written into every encoded value.
const Version = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Validation reports
// ---------------------------------------------------------------------------

// Fault is the encoded form of a validator.Fault.
type Fault struct {
	PC     int    `cbor:"1,keyasint"`
	Op     uint8  `cbor:"2,keyasint"`
	Name   string `cbor:"3,keyasint"`
	Kind   int    `cbor:"4,keyasint"`
	Detail string `cbor:"5,keyasint,omitempty"`
}

// Report is the encoded form of a validator.Report.
type Report struct {
	Version     int      `cbor:"0,keyasint"`
	Accepted    bool     `cbor:"1,keyasint"`
	Fault       *Fault   `cbor:"2,keyasint,omitempty"`
	CodeSize    int      `cbor:"3,keyasint"`
	Visited     int      `cbor:"4,keyasint"`
	MaxDepth    int      `cbor:"5,keyasint"`
	Subroutines int      `cbor:"6,keyasint"`
	Table       [32]byte `cbor:"7,keyasint"`
}

// FromReport converts a validator report.
func FromReport(r *validator.Report) *Report {
	out := &Report{
		Version:     Version,
		Accepted:    r.Accepted,
		CodeSize:    r.CodeSize,
		Visited:     r.Visited,
		MaxDepth:    r.MaxDepth,
		Subroutines: r.Subroutines,
		Table:       r.Table,
	}
	if f := r.Fault; f != nil {
		out.Fault = &Fault{PC: f.PC, Op: uint8(f.Op), Name: f.Name, Kind: int(f.Kind), Detail: f.Detail}
	}
	return out
}

// Report converts back to a validator report.
func (r *Report) Report() *validator.Report {
	out := &validator.Report{
		Accepted:    r.Accepted,
		CodeSize:    r.CodeSize,
		Visited:     r.Visited,
		MaxDepth:    r.MaxDepth,
		Subroutines: r.Subroutines,
		Table:       r.Table,
	}
	if f := r.Fault; f != nil {
		out.Fault = &validator.Fault{
			PC:     f.PC,
			Op:     opcode.Opcode(f.Op),
			Name:   f.Name,
			Kind:   validator.Kind(f.Kind),
			Detail: f.Detail,
		}
	}
	return out
}

// MarshalReport serializes a validator report to CBOR bytes.
func MarshalReport(r *validator.Report) ([]byte, error) {
	return cborEncMode.Marshal(FromReport(r))
}

// UnmarshalReport deserializes a validator report from CBOR bytes.
func UnmarshalReport(data []byte) (*validator.Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("wire: unmarshal report: %w", err)
	}
	if r.Version != Version {
		return nil, fmt.Errorf("wire: report version %d, want %d", r.Version, Version)
	}
	return r.Report(), nil
}

// ---------------------------------------------------------------------------
// Execution traces
// ---------------------------------------------------------------------------

// Event is one executed instruction.
type Event struct {
	Step        int   `cbor:"1,keyasint"`
	PC          int   `cbor:"2,keyasint"`
	Op          uint8 `cbor:"3,keyasint"`
	Depth       int   `cbor:"4,keyasint"`
	ReturnDepth int   `cbor:"5,keyasint"`
}

// Abort is the encoded form of an interp.Abort.
type Abort struct {
	PC     int    `cbor:"1,keyasint"`
	Op     uint8  `cbor:"2,keyasint"`
	Name   string `cbor:"3,keyasint"`
	Kind   int    `cbor:"4,keyasint"`
	Detail string `cbor:"5,keyasint,omitempty"`
}

// Trace is the encoded form of an interp.Trace. Mnemonics are not repeated
// per event; decoders resolve Op against the table named by Dialect.
type Trace struct {
	Version int      `cbor:"0,keyasint"`
	ID      [16]byte `cbor:"1,keyasint"`
	Dialect string   `cbor:"2,keyasint"`
	Status  int      `cbor:"3,keyasint"`
	Steps   int      `cbor:"4,keyasint"`
	Events  []Event  `cbor:"5,keyasint"`
	Abort   *Abort   `cbor:"6,keyasint,omitempty"`
}

// FromTrace converts a finished interp trace recorded with table t.
func FromTrace(tr *interp.Trace, t *opcode.Table) *Trace {
	out := &Trace{
		Version: Version,
		ID:      [16]byte(tr.ID),
		Dialect: t.Name(),
		Status:  int(tr.Status),
		Steps:   tr.Steps,
		Events:  make([]Event, len(tr.Events)),
	}
	for i, e := range tr.Events {
		out.Events[i] = Event{Step: e.Step, PC: e.PC, Op: uint8(e.Op), Depth: e.Depth, ReturnDepth: e.ReturnDepth}
	}
	if a := tr.Abort; a != nil {
		out.Abort = &Abort{PC: a.PC, Op: uint8(a.Op), Name: a.Name, Kind: int(a.Kind), Detail: a.Detail}
	}
	return out
}

// Trace converts back to an interp trace, naming events with table t.
func (w *Trace) Trace(t *opcode.Table) *interp.Trace {
	out := &interp.Trace{
		ID:     uuid.UUID(w.ID),
		Status: interp.Status(w.Status),
		Steps:  w.Steps,
		Events: make([]interp.Event, len(w.Events)),
	}
	for i, e := range w.Events {
		op := opcode.Opcode(e.Op)
		out.Events[i] = interp.Event{
			Step:        e.Step,
			PC:          e.PC,
			Op:          op,
			Name:        t.Mnemonic(op),
			Depth:       e.Depth,
			ReturnDepth: e.ReturnDepth,
		}
	}
	if a := w.Abort; a != nil {
		out.Abort = &interp.Abort{
			PC:     a.PC,
			Op:     opcode.Opcode(a.Op),
			Name:   a.Name,
			Kind:   interp.AbortKind(a.Kind),
			Detail: a.Detail,
		}
	}
	return out
}

// MarshalTrace serializes a finished trace recorded with table t.
func MarshalTrace(tr *interp.Trace, t *opcode.Table) ([]byte, error) {
	return cborEncMode.Marshal(FromTrace(tr, t))
}

// UnmarshalTrace deserializes a trace in its encoded form. Callers pick the
// table for Trace.Trace from Dialect.
func UnmarshalTrace(data []byte) (*Trace, error) {
	var w Trace
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("wire: unmarshal trace: %w", err)
	}
	if w.Version != Version {
		return nil, fmt.Errorf("wire: trace version %d, want %d", w.Version, Version)
	}
	return &w, nil
}
