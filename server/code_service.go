package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/jumpsub/config"
	"github.com/chazu/jumpsub/interp"
	"github.com/chazu/jumpsub/pkg/asm"
	"github.com/chazu/jumpsub/pkg/opcode"
	"github.com/chazu/jumpsub/store"
	"github.com/chazu/jumpsub/validator"
)

// CodeService implements the CodeService Connect handlers.
//
// Validate and Execute take a Struct with either "code" (hex) or "source"
// (assembly), and optionally "dialect" to pick another built-in table.
// Execute also reads "trace" (bool) and "steps" (number).
type CodeService struct {
	cfg     *config.Config
	table   *opcode.Table
	store   *store.Store
	workers *Workers
}

// NewCodeService creates a CodeService.
func NewCodeService(cfg *config.Config, table *opcode.Table, st *store.Store, workers *Workers) *CodeService {
	return &CodeService{
		cfg:     cfg,
		table:   table,
		store:   st,
		workers: workers,
	}
}

// Validate runs the validator through the cache.
func (s *CodeService) Validate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	code, table, err := s.program(req.Msg)
	if err != nil {
		return nil, err
	}

	report, cached, err := s.store.ValidateCached(code, table, s.cfg.Limits.Stack)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	fields := reportFields(report)
	fields["cached"] = cached
	return structResponse(fields)
}

// Execute runs a program and returns its final state.
func (s *CodeService) Execute(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	code, table, err := s.program(req.Msg)
	if err != nil {
		return nil, err
	}
	args := req.Msg.GetFields()

	if s.cfg.Interpreter.RequireValidation {
		report, _, err := s.store.ValidateCached(code, table, s.cfg.Limits.Stack)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		if !report.Accepted {
			fields := reportFields(report)
			fields["status"] = "rejected"
			return structResponse(fields)
		}
	}

	opts := s.cfg.MachineOptions(table)
	if v, ok := args["steps"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n > math.MaxInt32 || n != math.Trunc(n) {
			return nil, connect.NewError(connect.CodeInvalidArgument,
				fmt.Errorf("steps must be a whole number from 0 to %d, got %v", math.MaxInt32, n))
		}
		opts = append(opts, interp.WithStepLimit(int(n)))
	}
	tr := interp.NewTrace()
	wantTrace := args["trace"].GetBoolValue()
	if wantTrace {
		opts = append(opts, tr.Option())
	}

	m := interp.New(code, opts...)
	err = s.workers.Do(ctx, func() error {
		err := m.RunContext(ctx)
		if _, isAbort := interp.AsAbort(err); isAbort {
			return nil
		}
		return err
	})
	switch {
	case errors.Is(err, context.Canceled):
		return nil, connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
	case err != nil:
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	tr.Finish(m)

	fields := machineFields(m)
	fields["runId"] = tr.ID.String()
	if wantTrace {
		events := make([]any, len(tr.Events))
		for i, e := range tr.Events {
			events[i] = map[string]any{
				"pc":          e.PC,
				"op":          e.Name,
				"depth":       e.Depth,
				"returnDepth": e.ReturnDepth,
			}
		}
		fields["events"] = events
	}
	log.Debugf("run %s: %s after %d steps", tr.ID, m.Status(), m.Steps())
	return structResponse(fields)
}

// Disassemble lists raw bytecode with the server's table.
func (s *CodeService) Disassemble(
	ctx context.Context,
	req *connect.Request[wrapperspb.BytesValue],
) (*connect.Response[wrapperspb.StringValue], error) {
	if len(req.Msg.GetValue()) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("code is required"))
	}
	return connect.NewResponse(wrapperspb.String(asm.Disassemble(req.Msg.GetValue(), s.table))), nil
}

// program extracts the bytecode and table a request refers to.
func (s *CodeService) program(msg *structpb.Struct) ([]byte, *opcode.Table, error) {
	fields := msg.GetFields()

	table := s.table
	if d := fields["dialect"].GetStringValue(); d != "" {
		t, err := opcode.ForDialect(d)
		if err != nil {
			return nil, nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		table = t
	}

	codeHex := fields["code"].GetStringValue()
	source := fields["source"].GetStringValue()
	switch {
	case codeHex != "" && source != "":
		return nil, nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("give code or source, not both"))
	case source != "":
		code, err := asm.Assemble(source, table)
		if err != nil {
			return nil, nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return code, table, nil
	case codeHex != "":
		code, err := asm.ParseHex(codeHex)
		if err != nil {
			return nil, nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return code, table, nil
	}
	return nil, nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("code or source is required"))
}

func reportFields(r *validator.Report) map[string]any {
	fields := map[string]any{
		"accepted":    r.Accepted,
		"codeSize":    r.CodeSize,
		"visited":     r.Visited,
		"maxDepth":    r.MaxDepth,
		"subroutines": r.Subroutines,
		"table":       hex.EncodeToString(r.Table[:]),
	}
	if f := r.Fault; f != nil {
		fields["fault"] = map[string]any{
			"pc":     f.PC,
			"op":     f.Name,
			"kind":   f.Kind.String(),
			"detail": f.Detail,
		}
	}
	return fields
}

func machineFields(m *interp.Machine) map[string]any {
	data := m.Stack().Data()
	stack := make([]any, len(data))
	for i := range data {
		stack[i] = data[i].Hex()
	}
	rdata := m.ReturnStack().Data()
	returns := make([]any, len(rdata))
	for i, pc := range rdata {
		returns[i] = pc
	}
	fields := map[string]any{
		"status":      m.Status().String(),
		"pc":          m.PC(),
		"steps":       m.Steps(),
		"stack":       stack,
		"returnStack": returns,
	}
	if a, ok := interp.AsAbort(m.Err()); ok {
		fields["abort"] = map[string]any{
			"pc":     a.PC,
			"op":     a.Name,
			"kind":   a.Kind.String(),
			"detail": a.Detail,
		}
	}
	return fields
}

func structResponse(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
