package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/chazu/jumpsub/client"
	"github.com/chazu/jumpsub/interp"
	"github.com/chazu/jumpsub/pkg/asm"
	"github.com/chazu/jumpsub/server"
	"github.com/chazu/jumpsub/store"
	"github.com/chazu/jumpsub/validator"
	"github.com/chazu/jumpsub/wire"
)

func newFlagSet(e *env, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: jumpsub %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// handleValidateCommand processes the `jumpsub validate` subcommand.
// Usage:
//
//	jumpsub validate prog.hex other.asm   # several files, validated in parallel
//	jumpsub validate -x 5e0004005c5d      # inline hex
func handleValidateCommand(e *env, args []string) int {
	fs := newFlagSet(e, "validate", "[-x] [-j n] <program>...")
	inline := fs.Bool("x", false, "Arguments are hex bytecode, not files")
	workers := fs.Int("j", runtime.GOMAXPROCS(0), "Programs validated at once")
	remote := fs.String("remote", "", "Validate on the server at host:port")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	codes := make([][]byte, fs.NArg())
	for i, arg := range fs.Args() {
		code, err := e.readProgram(arg, *inline)
		if err != nil {
			e.errorf("%s: %v", arg, err)
			return exitUsage
		}
		codes[i] = code
	}

	var errs []error
	if *remote != "" {
		var err error
		errs, err = validateRemote(*remote, codes, e.cfg.Opcodes.Dialect)
		if err != nil {
			e.errorf("%v", err)
			return exitUsage
		}
	} else if path := e.cfg.CachePath(); path != "" {
		st, err := store.Open(path)
		if err != nil {
			e.errorf("%v", err)
			return exitUsage
		}
		defer st.Close()
		for _, code := range codes {
			r, _, err := st.ValidateCached(code, e.table, e.cfg.Limits.Stack)
			if err != nil {
				e.errorf("%v", err)
				return exitUsage
			}
			errs = append(errs, r.Err())
		}
	} else {
		var err error
		errs, err = validator.ValidateAll(context.Background(), codes, *workers, e.cfg.ValidatorOptions(e.table)...)
		if err != nil {
			e.errorf("%v", err)
			return exitUsage
		}
	}

	status := exitOK
	for i, err := range errs {
		name := fs.Arg(i)
		if err != nil {
			fmt.Fprintf(e.stdout, "%s: rejected: %v\n", name, err)
			status = exitRejected
			continue
		}
		fmt.Fprintf(e.stdout, "%s: accepted\n", name)
	}
	return status
}

// validateRemote validates each program on a server, with the built-in
// table of the given dialect.
func validateRemote(addr string, codes [][]byte, dialect string) ([]error, error) {
	c, err := client.Dial(addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	errs := make([]error, len(codes))
	for i, code := range codes {
		r, err := c.Validate(context.Background(), code, dialect)
		if err != nil {
			return nil, err
		}
		if !r.Accepted() {
			fault, _ := r.Fields["fault"].(map[string]any)
			errs[i] = fmt.Errorf("%v at pc %v (%v): %v", fault["kind"], fault["pc"], fault["op"], fault["detail"])
		}
	}
	return errs, nil
}

// handleRunCommand processes the `jumpsub run` subcommand.
// Usage:
//
//	jumpsub run prog.asm
//	jumpsub run -trace -x 5e0004005c5d
//	jumpsub run -trace-out run.cbor prog.hex
func handleRunCommand(e *env, args []string) int {
	fs := newFlagSet(e, "run", "[-x] [-trace] [-trace-out file] [-steps n] [-no-validate] <program>")
	inline := fs.Bool("x", false, "Argument is hex bytecode, not a file")
	trace := fs.Bool("trace", e.cfg.Interpreter.Trace, "Print every executed instruction")
	traceOut := fs.String("trace-out", "", "Write the execution trace as CBOR to this file")
	steps := fs.Int("steps", e.cfg.Limits.Steps, "Abort after this many instructions (0: no limit)")
	noValidate := fs.Bool("no-validate", !e.cfg.Interpreter.RequireValidation, "Run without validating first")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	code, err := e.readProgram(fs.Arg(0), *inline)
	if err != nil {
		e.errorf("%s: %v", fs.Arg(0), err)
		return exitUsage
	}

	if !*noValidate {
		if err := validator.Validate(code, e.cfg.ValidatorOptions(e.table)...); err != nil {
			fmt.Fprintf(e.stdout, "rejected: %v\n", err)
			return exitRejected
		}
	}

	tr := interp.NewTrace()
	opts := append(e.cfg.MachineOptions(e.table), interp.WithStepLimit(*steps), tr.Option())
	if *trace {
		opts = append(opts, interp.WithTracer(func(ev interp.Event) {
			fmt.Fprintf(e.stdout, "%04X  %-10s depth=%d returns=%d\n", ev.PC, ev.Name, ev.Depth, ev.ReturnDepth)
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	m := interp.New(code, opts...)
	runErr := m.RunContext(ctx)
	tr.Finish(m)

	if *traceOut != "" {
		data, err := wire.MarshalTrace(tr, e.table)
		if err == nil {
			err = os.WriteFile(*traceOut, data, 0644)
		}
		if err != nil {
			e.errorf("writing trace: %v", err)
			return exitUsage
		}
	}

	fmt.Fprintf(e.stdout, "%s at pc %d after %d steps\n", m.Status(), m.PC(), m.Steps())
	data := m.Stack().Data()
	for i := len(data) - 1; i >= 0; i-- {
		fmt.Fprintf(e.stdout, "  [%d] %s\n", len(data)-1-i, data[i].Hex())
	}
	if runErr != nil {
		fmt.Fprintf(e.stdout, "%v\n", runErr)
		return exitRejected
	}
	return exitOK
}

// handleAsmCommand processes the `jumpsub asm` subcommand.
func handleAsmCommand(e *env, args []string) int {
	fs := newFlagSet(e, "asm", "[-o file] <source.asm>")
	out := fs.String("o", "", "Write raw bytecode to this file instead of hex to stdout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	var src []byte
	var err error
	if fs.Arg(0) == "-" {
		src, err = io.ReadAll(e.stdin)
	} else {
		src, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		e.errorf("%v", err)
		return exitUsage
	}
	code, err := asm.Assemble(string(src), e.table)
	if err != nil {
		e.errorf("%s: %v", fs.Arg(0), err)
		return exitRejected
	}

	if *out != "" {
		if err := os.WriteFile(*out, code, 0644); err != nil {
			e.errorf("%v", err)
			return exitUsage
		}
		return exitOK
	}
	fmt.Fprintf(e.stdout, "%x\n", code)
	return exitOK
}

// handleDisasmCommand processes the `jumpsub disasm` subcommand.
func handleDisasmCommand(e *env, args []string) int {
	fs := newFlagSet(e, "disasm", "[-x] [-source] <program>")
	inline := fs.Bool("x", false, "Argument is hex bytecode, not a file")
	source := fs.Bool("source", false, "Print reassemblable source without addresses")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	code, err := e.readProgram(fs.Arg(0), *inline)
	if err != nil {
		e.errorf("%s: %v", fs.Arg(0), err)
		return exitUsage
	}
	if *source {
		fmt.Fprint(e.stdout, asm.Source(code, e.table))
	} else {
		fmt.Fprint(e.stdout, asm.Disassemble(code, e.table))
	}
	return exitOK
}

// handleServeCommand processes the `jumpsub serve` subcommand.
func handleServeCommand(e *env, args []string) int {
	fs := newFlagSet(e, "serve", "[-addr host:port]")
	addr := fs.String("addr", e.cfg.Server.Addr, "Listen address")
	workers := fs.Int("workers", runtime.GOMAXPROCS(0), "Programs executed at once")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	st, err := store.Open(e.cfg.CachePath())
	if err != nil {
		e.errorf("%v", err)
		return exitUsage
	}
	defer st.Close()

	srv, err := server.New(e.cfg, server.WithStore(st), server.WithWorkers(*workers))
	if err != nil {
		e.errorf("%v", err)
		return exitUsage
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		e.errorf("server: %v", err)
		return exitRejected
	}
	return exitOK
}
