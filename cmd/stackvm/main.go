// Package main provides the CLI entry point for stackvm, an instructional
// stack machine.
//
// Usage:
//
//	stackvm repl                       # Interactive REPL
//	stackvm repl -staged -delay 500ms  # Show consumed operands before each commit
//	stackvm run script.svm             # Execute statements, print final state
//	stackvm exec 0105 0103 03 00       # Run encoded instructions until HLT
//	stackvm catalog -format csv        # Export the instruction catalog
//	stackvm disasm 0105 00             # Disassemble encoded instructions
//	stackvm trace trace.csv            # Show a saved trace
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"go.uber.org/zap"

	"github.com/akhildatla/stackvm/internal/config"
	"github.com/akhildatla/stackvm/pkg/embed"
	"github.com/akhildatla/stackvm/pkg/repl"
	"github.com/akhildatla/stackvm/pkg/report"
	"github.com/akhildatla/stackvm/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the streams every subcommand writes to.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	if len(args) < 1 {
		return c.printUsage()
	}

	switch args[0] {
	case "repl":
		return c.replCommand(args[1:])
	case "run":
		return c.runCommand(args[1:])
	case "exec":
		return c.execCommand(args[1:])
	case "catalog":
		return c.catalogCommand(args[1:])
	case "disasm":
		return c.disasmCommand(args[1:])
	case "trace":
		return c.traceCommand(args[1:])
	case "version":
		fmt.Fprintf(stdout, "stackvm version %s\n", version)
		if commit != "none" {
			fmt.Fprintf(stdout, "  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Fprintf(stdout, "  built:  %s\n", date)
		}
		return nil
	case "help", "-h", "--help":
		return c.printUsage()
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// engineFlags are shared by every subcommand that builds an engine. Flags
// left unset keep the value from the config file.
type engineFlags struct {
	configPath string
	logLevel   string
	quiet      bool
	capacity   int
	latch      bool
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func addEngineFlags(fs *flag.FlagSet) *engineFlags {
	ef := &engineFlags{}
	fs.StringVar(&ef.configPath, "config", "", "YAML config file")
	fs.StringVar(&ef.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&ef.quiet, "q", false, "disable logging")
	fs.IntVar(&ef.capacity, "capacity", 0, "stack capacity")
	fs.BoolVar(&ef.latch, "latch", false, "write arithmetic operands to A, B and C")
	return ef
}

// setup loads the config file, applies flag overrides and builds the logger.
func (ef *engineFlags) setup(fs *flag.FlagSet) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(ef.configPath)
	if err != nil {
		return cfg, nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = ef.logLevel
		case "capacity":
			cfg.StackCapacity = ef.capacity
		case "latch":
			cfg.OperandLatch = ef.latch
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	logger, err := config.CreateLogger(cfg.LogLevel, ef.quiet)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func (c *cli) replCommand(args []string) error {
	fs := c.newFlagSet("repl")
	ef := addEngineFlags(fs)
	staged := fs.Bool("staged", false, "preview stack operands before each commit")
	delay := fs.Duration("delay", 0, "pause between preview and commit in staged mode")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := ef.setup(fs)
	if err != nil {
		return err
	}
	defer logger.Sync()

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "staged":
			cfg.Staged = *staged
		case "delay":
			cfg.CommitDelay = *delay
		}
	})

	r := repl.New(
		repl.WithVMOptions(cfg.VMOptions(logger)...),
		repl.WithStaged(cfg.Staged, cfg.CommitDelay),
		repl.WithLogger(logger),
	)
	r.Start(c.stdin, c.stdout)
	return nil
}

func (c *cli) runCommand(args []string) error {
	fs := c.newFlagSet("run")
	ef := addEngineFlags(fs)
	format := fs.String("format", "table", "output format: table, csv, json")
	tracePath := fs.String("trace", "", "save the event trace to a .csv, .json or .parquet file")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: stackvm run [flags] <script>")
	}

	cfg, logger, err := ef.setup(fs)
	if err != nil {
		return err
	}
	defer logger.Sync()

	outFormat, err := report.ParseFormat(*format)
	if err != nil {
		return err
	}
	if outFormat == report.FormatParquet {
		return fmt.Errorf("run: %w", report.ErrNeedsFile)
	}

	opts := []embed.Option{
		embed.WithStackCapacity(cfg.StackCapacity),
		embed.WithMaxStatements(int(cfg.MaxSteps)),
		embed.WithLogger(logger),
	}
	if cfg.OperandLatch {
		opts = append(opts, embed.WithOperandLatch())
	}
	rec := report.NewRecorder(0)
	if *tracePath != "" {
		opts = append(opts, embed.WithObserver(rec))
	}

	snap, runErr := embed.RunFile(fs.Arg(0), opts...)
	var stmtErr *embed.StatementError
	if runErr != nil && !errors.As(runErr, &stmtErr) {
		return runErr
	}

	ctx := context.Background()
	if err := c.printState(ctx, snap, outFormat); err != nil {
		return err
	}

	if *tracePath != "" {
		if err := c.saveFrame(ctx, *tracePath, rec.Frame()); err != nil {
			return err
		}
	}
	return runErr
}

func (c *cli) execCommand(args []string) error {
	fs := c.newFlagSet("exec")
	ef := addEngineFlags(fs)
	maxSteps := fs.Int64("max-steps", 0, "instruction limit (default from config)")
	timeout := fs.Duration("timeout", 5*time.Second, "execution timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: stackvm exec [flags] <hex bytes>")
	}

	cfg, logger, err := ef.setup(fs)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *maxSteps > 0 {
		cfg.MaxSteps = *maxSteps
	}

	code, err := decodeHex(fs.Args())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	machine := vm.NewVM(cfg.VMOptions(logger)...)
	res, err := machine.Run(ctx, code)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	fmt.Fprintf(c.stdout, "halted at %04d\n", res.IP)
	return c.printState(ctx, machine.Snapshot(), report.FormatTable)
}

func (c *cli) catalogCommand(args []string) error {
	fs := c.newFlagSet("catalog")
	format := fs.String("format", "table", "output format: table, csv, json, parquet")
	output := fs.String("o", "", "output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() > 0 {
		def, ok := vm.Lookup(fs.Arg(0))
		if !ok {
			return fmt.Errorf("unknown opcode: %s", fs.Arg(0))
		}
		fmt.Fprintf(c.stdout, "%s (0x%02X, %d bytes)\n", def.Signature, uint8(def.ID), def.Size())
		fmt.Fprintf(c.stdout, "  %s\n", def.Description)
		fmt.Fprintf(c.stdout, "  effect: %s\n", def.Effect)
		if def.TouchesStack() {
			fmt.Fprintf(c.stdout, "  stack:  %s\n", def.Diagram)
		}
		return nil
	}

	f, err := report.ParseFormat(*format)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if *output != "" {
		if err := report.WriteFile(ctx, *output, report.Catalog(), f); err != nil {
			return fmt.Errorf("writing catalog: %w", err)
		}
		fmt.Fprintf(c.stdout, "Catalog written to: %s\n", *output)
		return nil
	}
	return report.Write(ctx, c.stdout, report.Catalog(), f)
}

func (c *cli) disasmCommand(args []string) error {
	fs := c.newFlagSet("disasm")
	output := fs.String("o", "", "output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: stackvm disasm <hex bytes> [-o output.txt]")
	}

	code, err := decodeHex(fs.Args())
	if err != nil {
		return err
	}
	asm := vm.Disassemble(code)

	if *output != "" {
		if err := os.WriteFile(*output, []byte(asm), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(c.stdout, "Disassembled to: %s\n", *output)
		return nil
	}
	fmt.Fprint(c.stdout, asm)
	return nil
}

func (c *cli) traceCommand(args []string) error {
	fs := c.newFlagSet("trace")
	format := fs.String("format", "table", "output format: table, csv, json")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: stackvm trace <file.csv|file.json|file.parquet>")
	}

	f, err := report.ParseFormat(*format)
	if err != nil {
		return err
	}

	ctx := context.Background()
	df, err := report.Load(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("loading trace: %w", err)
	}
	return report.Write(ctx, c.stdout, df, f)
}

func (c *cli) printState(ctx context.Context, snap vm.Snapshot, format report.Format) error {
	if format == report.FormatTable {
		fmt.Fprintf(c.stdout, "IP=%d SP=%d\n", snap.IP, snap.SP)
	}
	if err := report.Write(ctx, c.stdout, report.Registers(snap), format); err != nil {
		return err
	}
	return report.Write(ctx, c.stdout, report.Stack(snap), format)
}

func (c *cli) saveFrame(ctx context.Context, path string, df *dataframe.DataFrame) error {
	f, err := report.FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := report.WriteFile(ctx, path, df, f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(c.stderr, "Trace written to: %s\n", path)
	return nil
}

// decodeHex joins the arguments and decodes them, so "0105 00" and "010500"
// are the same program.
func decodeHex(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	code, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	return code, nil
}

func (c *cli) printUsage() error {
	fmt.Fprintln(c.stdout, `stackvm - instructional stack machine with 12 registers and 16 opcodes

Usage:
  stackvm <command> [arguments]

Commands:
  repl                  Start interactive REPL
  run <script>          Execute a file of statements and print the final state
  exec <hex>            Run encoded instructions until HLT
  catalog [op]          Show the instruction catalog, or one opcode
  disasm <hex>          Disassemble encoded instructions
  trace <file>          Show a trace saved by 'run -trace' or the REPL
  version               Print version information
  help                  Show this help message

Engine Options (repl, run, exec):
  -config <file>        YAML config file
  -log-level <level>    debug, info, warn or error
  -q                    Disable logging
  -capacity <n>         Stack capacity (default 10)
  -latch                Write arithmetic operands to A, B and C

REPL Options:
  -staged               Preview stack operands before each commit
  -delay <duration>     Pause between preview and commit

Run Options:
  -format <fmt>         table, csv or json
  -trace <file>         Save the event trace (.csv, .json, .parquet)

Exec Options:
  -max-steps <n>        Instruction limit
  -timeout <duration>   Execution timeout (default 5s)

Catalog Options:
  -format <fmt>         table, csv, json or parquet
  -o <file>             Output file (default: stdout)

Examples:
  stackvm repl -staged -delay 300ms
  stackvm run examples/countdown.svm -trace trace.csv
  stackvm exec 090003 0D00 0101 06 0E00 02 0C000003 00
  stackvm catalog -format parquet -o catalog.parquet
  stackvm trace trace.csv`)
	return nil
}
