package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/jumpsub/interp"
	"github.com/chazu/jumpsub/pkg/asm"
	"github.com/chazu/jumpsub/pkg/opcode"
	"github.com/chazu/jumpsub/server"
	"github.com/chazu/jumpsub/wire"
)

// runCLI runs the command line in an empty directory so no jumpsub.toml is
// picked up.
func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	t.Chdir(t.TempDir())
	var out, errOut bytes.Buffer
	code = run(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestRun_NoCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "")
	if code != exitUsage {
		t.Errorf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr, "Usage: jumpsub") {
		t.Errorf("usage not printed:\n%s", stderr)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "", "frobnicate")
	if code != exitUsage {
		t.Errorf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr, `unknown command "frobnicate"`) {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRun_BadDialect(t *testing.T) {
	code, _, _ := runCLI(t, "", "-dialect", "nope", "validate", "-x", "00")
	if code != exitUsage {
		t.Errorf("exit = %d, want %d", code, exitUsage)
	}
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func TestValidate_Accepted(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "validate", "-x", "5e0004005c5d")
	if code != exitOK {
		t.Errorf("exit = %d, want %d", code, exitOK)
	}
	if stdout != "5e0004005c5d: accepted\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestValidate_Rejected(t *testing.T) {
	// JUMPSUB lands on RETURNSUB.
	code, stdout, _ := runCLI(t, "", "validate", "-x", "5e0004005c5d", "5e0005005c5d")
	if code != exitRejected {
		t.Errorf("exit = %d, want %d", code, exitRejected)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), stdout)
	}
	if lines[0] != "5e0004005c5d: accepted" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "5e0005005c5d: rejected:") || !strings.Contains(lines[1], "invalid jump destination") {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestValidate_Files(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.asm", "JUMPSUB @sub\nSTOP\nsub: BEGINSUB\nRETURNSUB\n")
	hex := writeFile(t, dir, "prog.hex", "0x5e 0004 00\n5c 5d\n")
	raw := writeFile(t, dir, "prog.bin", "\x5e\x00\x04\x00\x5c\x5d")

	code, stdout, stderr := runCLI(t, "", "validate", src, hex, raw)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr)
	}
	if n := strings.Count(stdout, ": accepted"); n != 3 {
		t.Errorf("accepted %d programs, want 3:\n%s", n, stdout)
	}
}

func TestValidate_Stdin(t *testing.T) {
	code, stdout, _ := runCLI(t, "\x5d", "validate", "-")
	if code != exitRejected {
		t.Errorf("exit = %d, want %d", code, exitRejected)
	}
	if !strings.Contains(stdout, "return stack underflow") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestValidate_Cache(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "jumpsub.toml", "[cache]\npath = \"cache.db\"\n")

	for range 2 {
		code, stdout, stderr := runCLI(t, "", "-config", cfg, "validate", "-x", "5e0004005c5d")
		if code != exitOK {
			t.Fatalf("exit = %d, stderr:\n%s", code, stderr)
		}
		if !strings.Contains(stdout, "accepted") {
			t.Errorf("stdout = %q", stdout)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.db")); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

// startServer serves the default configuration on a loopback port until
// the test ends and returns its address.
func startServer(t *testing.T) string {
	t.Helper()
	s, err := server.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Stop()
	})
	return ln.Addr().String()
}

func TestValidate_Remote(t *testing.T) {
	addr := startServer(t)

	code, stdout, stderr := runCLI(t, "", "validate", "-remote", addr, "-x", "5e0004005c5d", "5d")
	if code != exitRejected {
		t.Errorf("exit = %d, want %d; stderr:\n%s", code, exitRejected, stderr)
	}
	want := "5e0004005c5d: accepted\n5d: rejected: return stack underflow at pc 0 (RETURNSUB): RETURNSUB outside a subroutine\n"
	if stdout != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}
}

func TestValidate_RemoteDialect(t *testing.T) {
	addr := startServer(t)

	// Scenario A in the stack dialect. Under the server's immediate table the
	// JUMPSUB reads 0x005c as its location and is rejected.
	code, stdout, _ := runCLI(t, "", "validate", "-remote", addr, "-x", "60045e005c5d")
	if code != exitRejected {
		t.Errorf("immediate: exit = %d, want %d; stdout %q", code, exitRejected, stdout)
	}
	code, stdout, _ = runCLI(t, "", "-dialect", "stack", "validate", "-remote", addr, "-x", "60045e005c5d")
	if code != exitOK {
		t.Errorf("stack: exit = %d, want %d; stdout %q", code, exitOK, stdout)
	}
}

func TestValidate_NoArgs(t *testing.T) {
	code, _, _ := runCLI(t, "", "validate")
	if code != exitUsage {
		t.Errorf("exit = %d, want %d", code, exitUsage)
	}
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestRunCommand_Halts(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "add.asm", `
		JUMPSUB @double
		STOP
	double:
		BEGINSUB
		PUSH1 2
		DUP1
		ADD
		RETURNSUB
	`)
	code, stdout, stderr := runCLI(t, "", "run", src)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "halted at pc ") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "[0] 0x4") {
		t.Errorf("stack not printed:\n%s", stdout)
	}
}

func TestRunCommand_StackDialect(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-dialect", "stack", "run", "-x", "60045e005c5d")
	if code != exitOK {
		t.Errorf("exit = %d, want %d", code, exitOK)
	}
	if !strings.Contains(stdout, "halted") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunCommand_Rejected(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "run", "-x", "5d")
	if code != exitRejected {
		t.Errorf("exit = %d, want %d", code, exitRejected)
	}
	if !strings.HasPrefix(stdout, "rejected: ") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunCommand_NoValidate(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "run", "-no-validate", "-x", "5d")
	if code != exitRejected {
		t.Errorf("exit = %d, want %d", code, exitRejected)
	}
	if !strings.HasPrefix(stdout, "aborted at pc 0") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "return stack underflow") {
		t.Errorf("abort not printed:\n%s", stdout)
	}
}

func TestRunCommand_StepLimit(t *testing.T) {
	// An endless RJUMP loop is valid.
	code, stdout, _ := runCLI(t, "", "run", "-steps", "10", "-x", "5be0fffc")
	if code != exitRejected {
		t.Errorf("exit = %d, want %d", code, exitRejected)
	}
	if !strings.Contains(stdout, "after 10 steps") || !strings.Contains(stdout, "step limit reached") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunCommand_Trace(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "run", "-trace", "-x", "5e0004005c5d")
	if code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	for _, want := range []string{"0000  JUMPSUB", "0005  RETURNSUB", "0003  STOP"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("trace missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunCommand_TraceOut(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run.cbor")
	code, _, stderr := runCLI(t, "", "run", "-trace-out", out, "-x", "5e0004005c5d")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := wire.UnmarshalTrace(data)
	if err != nil {
		t.Fatalf("UnmarshalTrace: %v", err)
	}
	if interp.Status(tr.Status) != interp.StatusHalted {
		t.Errorf("status = %v, want halted", interp.Status(tr.Status))
	}
	if len(tr.Events) != 3 || tr.Steps != 3 {
		t.Errorf("events = %d, steps = %d, want 3 and 3", len(tr.Events), tr.Steps)
	}
}

// ---------------------------------------------------------------------------
// asm / disasm
// ---------------------------------------------------------------------------

func TestAsmCommand(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.asm", "JUMPSUB @sub\nSTOP\nsub: BEGINSUB\nRETURNSUB\n")

	code, stdout, _ := runCLI(t, "", "asm", src)
	if code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	if stdout != "5e0004005c5d\n" {
		t.Errorf("stdout = %q", stdout)
	}

	bin := filepath.Join(dir, "prog.bin")
	if code, _, _ := runCLI(t, "", "asm", "-o", bin, src); code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	got, err := os.ReadFile(bin)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x5e, 0x00, 0x04, 0x00, 0x5c, 0x5d}) {
		t.Errorf("wrote %x", got)
	}
}

func TestAsmCommand_Stdin(t *testing.T) {
	code, stdout, _ := runCLI(t, "BEGINSUB\nRETURNSUB\n", "asm", "-")
	if code != exitOK || stdout != "5c5d\n" {
		t.Errorf("exit = %d, stdout = %q", code, stdout)
	}
}

func TestAsmCommand_Error(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "bad.asm", "STOP\nJUMPSUB @nowhere\n")
	code, _, stderr := runCLI(t, "", "asm", src)
	if code != exitRejected {
		t.Errorf("exit = %d, want %d", code, exitRejected)
	}
	if !strings.Contains(stderr, "nowhere") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestDisasmCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "disasm", "-x", "5e0004005c5d")
	if code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	want := asm.Disassemble([]byte{0x5e, 0x00, 0x04, 0x00, 0x5c, 0x5d}, opcode.Default())
	if stdout != want {
		t.Errorf("stdout:\n%s\nwant:\n%s", stdout, want)
	}
}

func TestDisasmCommand_Source(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "disasm", "-source", "-x", "5e0004005c5d")
	if code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	again, err := asm.Assemble(stdout, opcode.Default())
	if err != nil {
		t.Fatalf("reassembling %q: %v", stdout, err)
	}
	if !bytes.Equal(again, []byte{0x5e, 0x00, 0x04, 0x00, 0x5c, 0x5d}) {
		t.Errorf("round trip = %x", again)
	}
}
