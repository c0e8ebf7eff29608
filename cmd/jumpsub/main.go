// jumpsub CLI - validate, run, assemble, and serve subroutine bytecode
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/jumpsub/config"
	"github.com/chazu/jumpsub/pkg/asm"
	"github.com/chazu/jumpsub/pkg/opcode"
)

// Exit codes.
const (
	exitOK       = 0
	exitRejected = 1 // rejected by the validator, or aborted at run time
	exitUsage    = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// env is what every subcommand gets.
type env struct {
	cfg    *config.Config
	table  *opcode.Table
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (e *env) errorf(format string, args ...any) {
	fmt.Fprintf(e.stderr, "Error: "+format+"\n", args...)
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jumpsub", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file (default: nearest jumpsub.toml)")
	dialect := fs.String("dialect", "", "Opcode dialect: immediate or stack (overrides config)")
	verbosity := fs.Int("v", -1, "Log verbosity (overrides config)")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: jumpsub [options] <command> [arguments]\n\n")
		fmt.Fprintf(stderr, "Commands:\n")
		fmt.Fprintf(stderr, "  validate  Check programs for invalid jumps and stack faults\n")
		fmt.Fprintf(stderr, "  run       Execute a program\n")
		fmt.Fprintf(stderr, "  asm       Assemble source to bytecode\n")
		fmt.Fprintf(stderr, "  disasm    List bytecode\n")
		fmt.Fprintf(stderr, "  serve     Start the RPC server\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nPrograms are read from .hex, .asm, or raw binary files, '-' for stdin,\n")
		fmt.Fprintf(stderr, "or given inline with -x.\n\n")
		fmt.Fprintf(stderr, "Examples:\n")
		fmt.Fprintf(stderr, "  jumpsub validate -x 5e0004005c5d\n")
		fmt.Fprintf(stderr, "  jumpsub -dialect stack run -x 60045e005c5d\n")
		fmt.Fprintf(stderr, "  jumpsub asm -o prog.bin prog.asm\n")
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	e := &env{stdin: stdin, stdout: stdout, stderr: stderr}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		e.errorf("%v", err)
		return exitUsage
	}
	if *dialect != "" {
		cfg.Opcodes.Dialect = *dialect
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	configureLogging(cfg)

	e.cfg = cfg
	e.table, err = cfg.Table()
	if err != nil {
		e.errorf("%v", err)
		return exitUsage
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "validate":
		return handleValidateCommand(e, rest)
	case "run":
		return handleRunCommand(e, rest)
	case "asm":
		return handleAsmCommand(e, rest)
	case "disasm":
		return handleDisasmCommand(e, rest)
	case "serve":
		return handleServeCommand(e, rest)
	case "help":
		fs.Usage()
		return exitOK
	}
	e.errorf("unknown command %q", cmd)
	fs.Usage()
	return exitUsage
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func configureLogging(cfg *config.Config) {
	var path *string
	if f := cfg.LogFile(); f != "" {
		path = &f
	}
	commonlog.Configure(cfg.Log.Verbosity, path)
}

// readProgram loads one program. With inline set, arg is hex. Otherwise it
// names a file: .hex and .asm are decoded, anything else is raw bytecode.
func (e *env) readProgram(arg string, inline bool) ([]byte, error) {
	if inline {
		return asm.ParseHex(arg)
	}

	var data []byte
	var err error
	if arg == "-" {
		data, err = io.ReadAll(e.stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(arg)) {
	case ".hex":
		return asm.ParseHex(string(data))
	case ".asm", ".s":
		return asm.Assemble(string(data), e.table)
	}
	return data, nil
}
