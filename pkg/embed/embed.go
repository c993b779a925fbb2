// Package embed runs stackvm statements from Go code.
//
// Pass a script, get the final machine state:
//
//	snap, err := embed.Run(`
//	    PSH 5
//	    PSH 3
//	    ADD
//	`)
//	// snap.Cells[0].Value == 8
//
// With options:
//
//	snap, err := embed.Run(script,
//	    embed.WithStackCapacity(4),
//	    embed.WithTimeout(time.Second),
//	    embed.WithObserver(recorder),
//	)
package embed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/akhildatla/stackvm/pkg/script"
	"github.com/akhildatla/stackvm/pkg/vm"
)

// Common errors
var (
	ErrTimeout        = errors.New("execution timeout exceeded")
	ErrStatementLimit = errors.New("statement limit exceeded")
)

// StatementError reports the statement a script stopped at.
type StatementError struct {
	Line      int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Statement, e.Err)
}

// Unwrap returns the engine error, so errors.Is(err, vm.ErrDivideByZero) works.
func (e *StatementError) Unwrap() error {
	return e.Err
}

// Options configures script execution.
type Options struct {
	// StackCapacity sets the stack depth. Zero keeps the default of 10.
	StackCapacity int

	// OperandLatch makes arithmetic also write registers A, B and C.
	OperandLatch bool

	// Observers receive every engine notification.
	Observers []vm.Observer

	// Logger receives engine debug logs. Nil means no logging.
	Logger *zap.Logger

	// Timeout sets maximum execution time. Zero means no timeout.
	Timeout time.Duration

	// MaxStatements limits the number of statements executed.
	// Zero means unlimited.
	MaxStatements int

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithStackCapacity sets the stack depth.
func WithStackCapacity(n int) Option {
	return func(o *Options) {
		o.StackCapacity = n
	}
}

// WithOperandLatch enables the A/B/C operand latch.
func WithOperandLatch() Option {
	return func(o *Options) {
		o.OperandLatch = true
	}
}

// WithObserver adds an engine observer.
func WithObserver(obs vm.Observer) Option {
	return func(o *Options) {
		o.Observers = append(o.Observers, obs)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithTimeout sets execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxStatements sets the statement limit.
func WithMaxStatements(n int) Option {
	return func(o *Options) {
		o.MaxStatements = n
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// Run executes script against a fresh engine and returns its final state.
// Execution stops after HLT or at the first rejected statement; in the latter
// case the snapshot shows the state just before it, and the error is a
// *StatementError.
func Run(source string, opts ...Option) (vm.Snapshot, error) {
	options := &Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(options)
	}

	stmts, err := script.Parse(source)
	if err != nil {
		return vm.Snapshot{}, err
	}

	machine := vm.NewVM(options.vmOptions()...)

	ctx := options.Context
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	for i, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return machine.Snapshot(), ErrTimeout
			}
			return machine.Snapshot(), err
		}
		if options.MaxStatements > 0 && i >= options.MaxStatements {
			return machine.Snapshot(), ErrStatementLimit
		}

		res, err := machine.Execute(stmt.Word, stmt.Operands...)
		if err != nil {
			return machine.Snapshot(), &StatementError{Line: stmt.Line, Statement: stmt.String(), Err: err}
		}
		if res.Halted {
			break
		}
	}

	return machine.Snapshot(), nil
}

// RunFile reads a file of statements and runs it.
func RunFile(path string, opts ...Option) (vm.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vm.Snapshot{}, err
	}
	return Run(string(data), opts...)
}

func (o *Options) vmOptions() []vm.Option {
	opts := []vm.Option{vm.WithStackCapacity(o.StackCapacity)}
	if o.Logger != nil {
		opts = append(opts, vm.WithLogger(o.Logger))
	}
	if o.OperandLatch {
		opts = append(opts, vm.WithOperandLatch())
	}
	for _, obs := range o.Observers {
		opts = append(opts, vm.WithObserver(obs))
	}
	return opts
}
