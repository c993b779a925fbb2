package repl

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"go.uber.org/zap"

	"github.com/akhildatla/stackvm/pkg/report"
	"github.com/akhildatla/stackvm/pkg/script"
	"github.com/akhildatla/stackvm/pkg/vm"
)

const (
	prompt       = "svm> "
	promptStaged = "svm*> "
)

// REPL provides an interactive Read-Eval-Print Loop over one engine.
type REPL struct {
	vm      *vm.VM
	trace   *report.Recorder
	logger  *zap.Logger
	history []string

	staged bool
	delay  time.Duration
	sleep  func(time.Duration)

	cursor vm.Opcode // catalog entry shown by "next"
	done   bool
}

// Option configures a REPL.
type Option func(*REPL)

// WithVMOptions passes options through to the engine.
func WithVMOptions(opts ...vm.Option) Option {
	return func(r *REPL) {
		r.vm = vm.NewVM(append(opts, vm.WithObserver(r.trace), vm.WithStats())...)
	}
}

// WithStaged turns on staged mode: stack-consuming opcodes show the operands
// they read, wait delay, then commit.
func WithStaged(staged bool, delay time.Duration) Option {
	return func(r *REPL) {
		r.staged = staged
		r.delay = delay
	}
}

// WithLogger sets the logger for REPL diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(r *REPL) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a new REPL instance.
func New(opts ...Option) *REPL {
	r := &REPL{
		trace:  report.NewRecorder(0),
		logger: zap.NewNop(),
		sleep:  time.Sleep,
		cursor: vm.OpHLT,
	}
	r.vm = vm.NewVM(vm.WithObserver(r.trace), vm.WithStats())
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("repl")
	return r
}

// VM returns the engine driven by the REPL.
func (r *REPL) VM() *vm.VM {
	return r.vm
}

// Start runs the loop until quit or end of input.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "stackvm REPL - 12 registers, 16 opcodes, one stack")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for !r.done {
		if r.staged {
			fmt.Fprint(out, promptStaged)
		} else {
			fmt.Fprint(out, prompt)
		}

		if !scanner.Scan() {
			break
		}
		r.Eval(scanner.Text(), out)
	}
}

// Eval handles one input line: a REPL command or a statement for the engine.
func (r *REPL) Eval(line string, out io.Writer) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if r.handleCommand(line, out) {
		return
	}

	stmt, ok, err := script.ParseLine(line)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if !ok {
		return
	}
	r.history = append(r.history, stmt.String())

	var res *vm.Result
	if op, known := vm.OpcodeFromString(stmt.Word); known && r.staged && op.Staged() {
		res, err = r.execStaged(stmt, out)
	} else {
		res, err = r.vm.Execute(stmt.Word, stmt.Operands...)
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(out, "=> %s: %s\n", res.Op, res.Detail)
	if res.Halted {
		fmt.Fprintln(out, "(halted)")
	}
}

func (r *REPL) execStaged(stmt script.Statement, out io.Writer) (*vm.Result, error) {
	preview, err := r.vm.Announce(stmt.Word, stmt.Operands...)
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(preview.Consumed))
	for i, c := range preview.Consumed {
		parts[i] = fmt.Sprintf("stack[%d]=%s (%s)", c.Index, c.Cell, c.Hint)
	}
	fmt.Fprintf(out, "   %s reads %s\n", preview.Op, strings.Join(parts, ", "))

	r.logger.Debug("staged", zap.Stringer("op", preview.Op), zap.Duration("delay", r.delay))
	if r.delay > 0 {
		r.sleep(r.delay)
	}
	return r.vm.Commit()
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		r.done = true

	case "help", "h", "?":
		r.printHelp(out)

	case "regs":
		r.table(out, report.Registers(r.vm.Snapshot()))

	case "stack":
		r.table(out, report.Stack(r.vm.Snapshot()))

	case "catalog":
		if len(parts) > 1 {
			r.describe(parts[1], out)
		} else {
			r.table(out, report.Catalog())
		}

	case "next":
		r.cursor = vm.NextCatalogEntry(r.cursor)
		r.describe(r.cursor.String(), out)

	case "reset":
		r.vm.Reset()
		fmt.Fprintln(out, "Machine reset")

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}

	case "trace":
		r.traceCommand(parts[1:], out)

	case "staged":
		r.stagedCommand(parts[1:], out)

	case "stats":
		r.printStats(out)

	case "disasm":
		if len(parts) < 2 {
			fmt.Fprintln(out, "Usage: disasm <hex bytes>")
			break
		}
		code, err := hex.DecodeString(strings.Join(parts[1:], ""))
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			break
		}
		fmt.Fprint(out, vm.Disassemble(code))

	default:
		return false
	}
	return true
}

func (r *REPL) traceCommand(args []string, out io.Writer) {
	if len(args) == 0 {
		if r.trace.Len() == 0 {
			fmt.Fprintln(out, "Trace is empty")
			return
		}
		r.table(out, r.trace.Frame())
		return
	}

	switch args[0] {
	case "clear":
		r.trace.Clear()
		fmt.Fprintln(out, "Trace cleared")
	case "save":
		if len(args) < 2 {
			fmt.Fprintln(out, "Usage: trace save <file.csv|file.json|file.parquet>")
			return
		}
		path := args[1]
		format, err := report.FormatFromPath(path)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		if err := report.WriteFile(context.Background(), path, r.trace.Frame(), format); err != nil {
			fmt.Fprintf(out, "Error saving %s: %v\n", path, err)
			return
		}
		fmt.Fprintf(out, "Saved %d trace rows to %s\n", r.trace.Len(), path)
	default:
		fmt.Fprintln(out, "Usage: trace [save <file>|clear]")
	}
}

func (r *REPL) stagedCommand(args []string, out io.Writer) {
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on":
			r.staged = true
		case "off":
			r.staged = false
		default:
			fmt.Fprintln(out, "Unknown setting. Use 'on' or 'off'")
			return
		}
	}
	if r.staged {
		fmt.Fprintf(out, "Staged mode: on (delay %s)\n", r.delay)
	} else {
		fmt.Fprintln(out, "Staged mode: off")
	}
}

func (r *REPL) describe(mnemonic string, out io.Writer) {
	def, ok := vm.Lookup(mnemonic)
	if !ok {
		fmt.Fprintf(out, "Unknown opcode: %s\n", mnemonic)
		return
	}
	fmt.Fprintf(out, "%s (0x%02X, %d bytes)\n", def.Signature, uint8(def.ID), def.Size())
	fmt.Fprintf(out, "  %s\n", def.Description)
	fmt.Fprintf(out, "  effect: %s\n", def.Effect)
	if def.TouchesStack() {
		fmt.Fprintf(out, "  stack:  %s\n", def.Diagram)
	}
}

func (r *REPL) printStats(out io.Writer) {
	stats := r.vm.Stats()
	fmt.Fprintf(out, "Steps: %d, errors: %d\n", stats.StepsExecuted, stats.Errors)
	for _, def := range vm.Catalog() {
		if n := stats.OpCounts[def.Mnemonic()]; n > 0 {
			fmt.Fprintf(out, "  %-4s %d\n", def.Mnemonic(), n)
		}
	}
}

func (r *REPL) table(out io.Writer, df *dataframe.DataFrame) {
	if err := report.Write(context.Background(), out, df, report.FormatTable); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
stackvm REPL Commands:
  help, h, ?           Show this help message
  quit, exit, q        Exit the REPL
  regs                 Show the register file
  stack                Show the stack, top first
  catalog [op]         Show every opcode, or one in detail
  next                 Show the next catalog entry
  reset                Reset registers and stack
  history              Show executed statements
  trace                Show recorded engine events
  trace save <file>    Save the trace as .csv, .json or .parquet
  trace clear          Drop recorded events
  staged [on|off]      Show or set staged mode
  stats                Show execution counters
  disasm <hex>         Disassemble encoded instructions

Statements:
  PSH 5                push a value
  SET A 0x10           write a register
  ADD                  pop two, push the sum
  IF A 16 0            jump to 0 when A == 16

Tips:
  - Operands may be separated by spaces or commas
  - ';' and '#' start a comment
`
	fmt.Fprint(out, help)
}
