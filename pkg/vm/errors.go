package vm

import "fmt"

// ErrorKind classifies why the engine rejected a transaction.
// Every kind is recoverable; the engine state is untouched when one is reported.
type ErrorKind int

// Error kinds
const (
	ErrStackOverflow ErrorKind = iota + 1
	ErrStackUnderflow
	ErrDivideByZero
	ErrInvalidRegister
	ErrInvalidOpcode
	ErrInvalidOperand
	ErrArithmeticOverflow
	ErrCommitPending
	ErrNothingPending
	ErrStepLimit
	ErrNoHalt
)

var kindNames = map[ErrorKind]string{
	ErrStackOverflow:      "stack overflow",
	ErrStackUnderflow:     "stack underflow",
	ErrDivideByZero:       "divide by zero",
	ErrInvalidRegister:    "invalid register",
	ErrInvalidOpcode:      "invalid opcode",
	ErrInvalidOperand:     "invalid operand",
	ErrArithmeticOverflow: "arithmetic overflow",
	ErrCommitPending:      "commit pending",
	ErrNothingPending:     "nothing to commit",
	ErrStepLimit:          "step limit exceeded",
	ErrNoHalt:             "program ended without HLT",
}

func (k ErrorKind) Error() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error describes a rejected transaction and its context.
type Error struct {
	Kind   ErrorKind // nature of the failure
	Op     string    // mnemonic being dispatched, if any
	Detail string    // human-readable context
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the kind so errors.Is(err, ErrStackOverflow) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the ErrorKind carried by err, or 0 when err is not an engine error.
func KindOf(err error) ErrorKind {
	switch e := err.(type) {
	case nil:
		return 0
	case ErrorKind:
		return e
	case *Error:
		return e.Kind
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return KindOf(u.Unwrap())
	}
	return 0
}
