// Package vm implements the stackvm execution engine.
//
// The machine has:
//   - 12 named registers: A-F, I, J (general), EX, EXA (special), IP, SP (pointer)
//   - a fixed-capacity stack of optional integers (10 cells by default)
//   - 16 opcodes, each dispatched as one all-or-nothing transaction
//
// Basic usage:
//
//	v := vm.NewVM()
//	v.Execute("PSH", vm.Imm(5))
//	v.Execute("PSH", vm.Imm(3))
//	res, err := v.Execute("ADD")
//
// Staged dispatch, for front ends that show the consumed operands before
// the stack changes:
//
//	preview, err := v.Announce("ADD")
//	// ... highlight preview.Consumed ...
//	res, err := v.Commit()
package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// State is the externally visible dispatch state of the engine.
type State uint8

const (
	StateIdle           State = iota // ready for Execute or Announce
	StateAwaitingCommit              // a transaction was announced and not yet committed
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCommit:
		return "awaiting-commit"
	default:
		return "unknown"
	}
}

// RegisterChange records a register written by a transaction.
type RegisterChange struct {
	Name  string
	Value int64
}

// StackChange records the final content of a stack cell touched by a
// transaction, with the label a stack widget shows next to it.
type StackChange struct {
	Index int
	Cell  Cell
	Hint  string
}

// Result describes a committed transaction.
type Result struct {
	Op                Opcode
	ChangedRegisters  []RegisterChange
	ChangedStackCells []StackChange
	IP                int
	Halted            bool   // HLT was executed; the driver should stop dispatching
	Detail            string // log line, e.g. "5 + 3 = 8 -> stack[0]"
}

// Preview is what Announce reports before any state changes.
type Preview struct {
	Op       Opcode
	Operands []Operand
	Consumed []StackChange // cells the transaction will read, current contents
	Detail   string        // log line Commit will emit
}

// Snapshot is a copy of the whole machine state.
type Snapshot struct {
	Registers [NumRegisters]int64
	Cells     []Cell
	SP        int
	IP        int
	State     State
}

// ExecutionStats contains metrics about dispatch for observability.
type ExecutionStats struct {
	StepsExecuted int64          // committed transactions
	Errors        int64          // rejected transactions
	OpCounts      map[string]int // committed transactions per mnemonic
}

// VM is one engine instance. It owns its register file and stack; separate
// instances share nothing.
type VM struct {
	mu        sync.Mutex
	registers RegisterFile
	stack     *Stack
	state     State
	pending   *txn
	busy      bool   // observers of a transaction are being notified
	gen       uint64 // bumped by Reset to orphan in-flight notifications

	observers []Observer
	logger    *zap.Logger
	latch     bool

	// Resource limits for Run
	maxSteps int64

	stats        ExecutionStats
	statsEnabled bool
}

// Option configures a VM at construction.
type Option func(*VM)

// WithStackCapacity sets the stack depth. Values below 1 keep the default.
func WithStackCapacity(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.stack = NewStack(n)
		}
	}
}

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(l *zap.Logger) Option {
	return func(vm *VM) {
		if l != nil {
			vm.logger = l
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(vm *VM) {
		if o != nil {
			vm.observers = append(vm.observers, o)
		}
	}
}

// WithMaxSteps limits the number of instructions Run may execute.
// Zero means unlimited.
func WithMaxSteps(n int64) Option {
	return func(vm *VM) {
		vm.maxSteps = n
	}
}

// WithOperandLatch makes ADD, SUB, MUL and DIV also write the consumed
// operands and the result to registers A (top), B (second) and C (result).
func WithOperandLatch() Option {
	return func(vm *VM) {
		vm.latch = true
	}
}

// WithStats enables execution statistics collection.
func WithStats() Option {
	return func(vm *VM) {
		vm.statsEnabled = true
	}
}

// NewVM creates a new VM in the reset state.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		stack:  NewStack(DefaultStackCapacity),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.logger = vm.logger.Named("vm")
	vm.stats.OpCounts = make(map[string]int)
	vm.resetLocked()
	return vm
}

// AddObserver registers an observer after construction.
func (vm *VM) AddObserver(o Observer) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.observers = append(vm.observers, o)
}

// Reset reinitializes registers and stack to the baseline: every register
// zero except SP = -1, all cells empty. It discards any announced
// transaction and always succeeds.
func (vm *VM) Reset() {
	vm.mu.Lock()
	discarded := vm.pending != nil
	vm.resetLocked()
	vm.mu.Unlock()

	vm.logger.Debug("reset", zap.Bool("discarded_pending", discarded))
}

func (vm *VM) resetLocked() {
	vm.gen++
	vm.registers.Reset()
	vm.stack.Reset()
	vm.registers.put(RegSP, -1)
	vm.state = StateIdle
	vm.pending = nil
	vm.busy = false
}

// Execute dispatches one opcode by mnemonic.
func (vm *VM) Execute(mnemonic string, operands ...Operand) (*Result, error) {
	op, err := vm.resolve(mnemonic)
	if err != nil {
		return nil, err
	}
	return vm.Dispatch(op, operands...)
}

// resolve maps a mnemonic to its opcode. A pending commit is reported ahead
// of an unknown mnemonic.
func (vm *VM) resolve(mnemonic string) (Opcode, error) {
	op, ok := OpcodeFromString(mnemonic)
	if ok {
		return op, nil
	}
	vm.mu.Lock()
	err := vm.checkIdleLocked(mnemonic)
	vm.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return 0, vm.reject(mnemonic, newError(ErrInvalidOpcode, "", "%q", mnemonic))
}

// Dispatch executes one opcode: validate, apply, advance IP, notify.
func (vm *VM) Dispatch(op Opcode, operands ...Operand) (*Result, error) {
	vm.mu.Lock()
	if err := vm.checkIdleLocked(op.String()); err != nil {
		vm.mu.Unlock()
		return nil, err
	}
	t, err := vm.plan(op, operands)
	if err != nil {
		vm.mu.Unlock()
		return nil, vm.reject(op.String(), err)
	}
	res, events := vm.apply(t)
	vm.busy = true
	gen := vm.gen
	vm.mu.Unlock()

	vm.notify(gen, events)
	return res, nil
}

// Announce validates a transaction and stages it without mutating state.
// The engine stays in StateAwaitingCommit until Commit or Reset.
func (vm *VM) Announce(mnemonic string, operands ...Operand) (*Preview, error) {
	op, err := vm.resolve(mnemonic)
	if err != nil {
		return nil, err
	}

	vm.mu.Lock()
	if err := vm.checkIdleLocked(op.String()); err != nil {
		vm.mu.Unlock()
		return nil, err
	}
	t, err := vm.plan(op, operands)
	if err != nil {
		vm.mu.Unlock()
		return nil, vm.reject(op.String(), err)
	}
	vm.pending = t
	vm.state = StateAwaitingCommit
	vm.mu.Unlock()

	vm.logger.Debug("announce", zap.Stringer("op", op), zap.Int("consumed", len(t.consumed)))

	return &Preview{
		Op:       op,
		Operands: append([]Operand(nil), operands...),
		Consumed: append([]StackChange(nil), t.consumed...),
		Detail:   t.detail,
	}, nil
}

// Commit applies the announced transaction.
func (vm *VM) Commit() (*Result, error) {
	vm.mu.Lock()
	if vm.busy {
		err := vm.checkIdleLocked("COMMIT")
		vm.mu.Unlock()
		return nil, err
	}
	if vm.pending == nil {
		vm.mu.Unlock()
		err := newError(ErrNothingPending, "", "no announced transaction")
		vm.logger.Debug("rejected", zap.Error(err))
		return nil, err
	}
	res, events := vm.apply(vm.pending)
	vm.pending = nil
	vm.state = StateIdle
	vm.busy = true
	gen := vm.gen
	vm.mu.Unlock()

	vm.notify(gen, events)
	return res, nil
}

// State returns the current dispatch state.
func (vm *VM) State() State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state
}

// IP returns the instruction pointer.
func (vm *VM) IP() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return int(vm.registers.at(RegIP))
}

// SP returns the stack pointer.
func (vm *VM) SP() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stack.SP()
}

// StackCapacity returns the fixed stack depth.
func (vm *VM) StackCapacity() int {
	return vm.stack.Cap()
}

// Register returns the value of a named register.
func (vm *VM) Register(name string) (int64, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.registers.Get(name)
}

// Snapshot returns a copy of the machine state.
func (vm *VM) Snapshot() Snapshot {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return Snapshot{
		Registers: vm.registers.Values(),
		Cells:     vm.stack.Cells(),
		SP:        vm.stack.SP(),
		IP:        int(vm.registers.at(RegIP)),
		State:     vm.state,
	}
}

// Stats returns a copy of the execution statistics.
// Returns nil if stats were not enabled via WithStats.
func (vm *VM) Stats() *ExecutionStats {
	if !vm.statsEnabled {
		return nil
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := ExecutionStats{
		StepsExecuted: vm.stats.StepsExecuted,
		Errors:        vm.stats.Errors,
		OpCounts:      make(map[string]int, len(vm.stats.OpCounts)),
	}
	for k, v := range vm.stats.OpCounts {
		out.OpCounts[k] = v
	}
	return &out
}

// Step fetches the instruction at IP from code and dispatches it.
func (vm *VM) Step(code []byte) (*Result, error) {
	inst, err := DecodeInstruction(code, vm.IP())
	if err != nil {
		return nil, vm.reject("FETCH", err)
	}
	return vm.Dispatch(inst.Op, inst.Operands...)
}

// Run steps through code from the current IP until HLT.
// It fails with ErrNoHalt when IP leaves the code, ErrStepLimit when the
// WithMaxSteps budget is spent, or the context error on cancellation.
func (vm *VM) Run(ctx context.Context, code []byte) (*Result, error) {
	var steps int64
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		steps++
		if vm.maxSteps > 0 && steps > vm.maxSteps {
			return nil, vm.reject("RUN", newError(ErrStepLimit, "", "%d steps", vm.maxSteps))
		}

		res, err := vm.Step(code)
		if err != nil {
			return nil, err
		}
		if res.Halted {
			return res, nil
		}
	}
}

func (vm *VM) checkIdleLocked(op string) error {
	if vm.state == StateIdle && !vm.busy {
		return nil
	}
	err := newError(ErrCommitPending, op, "engine is %s", vm.state)
	if vm.busy {
		err.Detail = "dispatch from inside an observer callback"
	}
	vm.logger.Debug("rejected", zap.String("op", op), zap.Error(err))
	return err
}

// reject logs err and mirrors it to observers. State is never touched.
func (vm *VM) reject(op string, err error) error {
	vm.logger.Debug("rejected", zap.String("op", op), zap.Error(err))

	vm.mu.Lock()
	if vm.statsEnabled {
		vm.stats.Errors++
	}
	if vm.busy {
		vm.mu.Unlock()
		return err
	}
	vm.busy = true
	gen := vm.gen
	vm.mu.Unlock()

	detail := err.Error()
	var e *Error
	if errors.As(err, &e) && e.Op != "" {
		detail = strings.TrimPrefix(detail, e.Op+": ")
	}
	vm.notify(gen, []event{{kind: eventLog, op: op, detail: detail, isErr: true}})
	return err
}

// notify delivers events to every observer, then releases the busy flag
// unless a Reset happened in between.
func (vm *VM) notify(gen uint64, events []event) {
	defer func() {
		vm.mu.Lock()
		if vm.gen == gen {
			vm.busy = false
		}
		vm.mu.Unlock()
	}()

	vm.mu.Lock()
	observers := append([]Observer(nil), vm.observers...)
	vm.mu.Unlock()

	for _, e := range events {
		vm.mu.Lock()
		stale := vm.gen != gen
		vm.mu.Unlock()
		if stale {
			return
		}
		for _, o := range observers {
			e.deliver(o)
		}
	}
}

// txn is a validated transaction: everything needed to apply it without
// further checks.
type txn struct {
	op       Opcode
	pops     int
	pushes   []int64
	pushHint string
	writes   []regWrite
	nextIP   int64
	halted   bool
	detail   string
	consumed []StackChange
}

type regWrite struct {
	index int
	value int64
}

// plan checks every precondition of op against the current state and
// returns the transaction. It never mutates state.
func (vm *VM) plan(op Opcode, operands []Operand) (*txn, error) {
	if !op.Valid() {
		return nil, newError(ErrInvalidOpcode, "", "opcode 0x%02X", uint8(op))
	}
	def := catalog[op]
	if err := checkOperands(def, operands); err != nil {
		return nil, err
	}

	name := op.String()
	ip := vm.registers.at(RegIP)
	sp := vm.stack.SP()
	t := &txn{op: op, nextIP: ip + int64(def.Size())}

	vm.logger.Debug("dispatch",
		zap.Stringer("op", op),
		zap.Int64("ip", ip),
		zap.Int("sp", sp),
	)

	switch op {
	case OpHLT:
		t.halted = true
		t.nextIP = ip
		t.detail = "halted"

	case OpNOP:
		t.detail = "no operation"

	case OpPSH:
		if vm.stack.Full() {
			return nil, newError(ErrStackOverflow, name, "stack full")
		}
		v := operands[0].Value
		t.pushes = []int64{v}
		t.pushHint = "pushed"
		t.detail = fmt.Sprintf("pushed %d -> stack[%d]", v, sp+1)

	case OpPOP:
		if sp < 0 {
			return nil, newError(ErrStackUnderflow, name, "stack empty")
		}
		top := vm.stack.Cell(sp)
		t.pops = 1
		t.consumed = []StackChange{{Index: sp, Cell: top, Hint: "popping"}}
		t.detail = fmt.Sprintf("popped %d from stack[%d]", top.Value, sp)

	case OpADD, OpSUB, OpMUL, OpDIV, OpSLT:
		if sp < 1 {
			return nil, newError(ErrStackUnderflow, name, "need at least 2 values")
		}
		a := vm.stack.Cell(sp).Value
		b := vm.stack.Cell(sp - 1).Value
		c, err := arith(op, b, a)
		if err != nil {
			return nil, err
		}
		t.pops = 2
		t.pushes = []int64{c}
		t.pushHint = "result"
		if op == OpSLT {
			t.consumed = []StackChange{
				{Index: sp, Cell: Cell{Value: a, Occupied: true}, Hint: "top"},
				{Index: sp - 1, Cell: Cell{Value: b, Occupied: true}, Hint: "second"},
			}
			t.detail = fmt.Sprintf("%d < %d -> %d", b, a, c)
			break
		}
		t.consumed = []StackChange{
			{Index: sp, Cell: Cell{Value: a, Occupied: true}, Hint: "A (top)"},
			{Index: sp - 1, Cell: Cell{Value: b, Occupied: true}, Hint: "B"},
		}
		t.detail = fmt.Sprintf("%d %s %d = %d -> stack[%d]", b, arithSymbol(op), a, c, sp-1)
		if vm.latch {
			t.writes = []regWrite{{RegA, a}, {RegB, b}, {RegC, c}}
		}

	case OpMOV:
		src, _ := RegisterIndex(operands[0].Reg)
		dst, err := writableRegister(name, operands[1].Reg)
		if err != nil {
			return nil, err
		}
		v := vm.registers.at(src)
		t.writes = []regWrite{{dst, v}}
		t.detail = fmt.Sprintf("%s = %s (%d)", registers[dst].Name, registers[src].Name, v)

	case OpSET:
		dst, err := writableRegister(name, operands[0].Reg)
		if err != nil {
			return nil, err
		}
		v := operands[1].Value
		t.writes = []regWrite{{dst, v}}
		t.detail = fmt.Sprintf("%s = %d", registers[dst].Name, v)

	case OpLOG:
		idx, _ := RegisterIndex(operands[0].Reg)
		v := vm.registers.at(idx)
		t.detail = fmt.Sprintf("%s = %d (%s)", registers[idx].Name, v, FormatValue(v))

	case OpIF, OpIFN:
		idx, _ := RegisterIndex(operands[0].Reg)
		want := operands[1].Value
		target := operands[2].Value
		if target < 0 {
			return nil, newError(ErrInvalidOperand, name, "branch target %d", target)
		}
		v := vm.registers.at(idx)
		taken := v == want
		cmp := "=="
		if op == OpIFN {
			taken = v != want
			cmp = "!="
		}
		if taken {
			t.nextIP = target
			t.detail = fmt.Sprintf("%s %s %d: jump to %d", registers[idx].Name, cmp, want, target)
		} else {
			t.detail = fmt.Sprintf("%s %s %d is false: skip to %d", registers[idx].Name, cmp, want, t.nextIP)
		}

	case OpGLD:
		if vm.stack.Full() {
			return nil, newError(ErrStackOverflow, name, "stack full")
		}
		idx, _ := RegisterIndex(operands[0].Reg)
		v := vm.registers.at(idx)
		t.pushes = []int64{v}
		t.pushHint = "pushed"
		t.detail = fmt.Sprintf("pushed %s (%d) -> stack[%d]", registers[idx].Name, v, sp+1)

	case OpGPT:
		if sp < 0 {
			return nil, newError(ErrStackUnderflow, name, "stack empty")
		}
		dst, err := writableRegister(name, operands[0].Reg)
		if err != nil {
			return nil, err
		}
		top := vm.stack.Cell(sp)
		t.consumed = []StackChange{{Index: sp, Cell: top, Hint: "top"}}
		t.writes = []regWrite{{dst, top.Value}}
		t.detail = fmt.Sprintf("%s = stack[%d] (%d)", registers[dst].Name, sp, top.Value)
	}

	return t, nil
}

// apply performs a planned transaction. Preconditions were checked by plan,
// so every stack operation here succeeds.
func (vm *VM) apply(t *txn) (*Result, []event) {
	name := t.op.String()
	oldSP := vm.stack.SP()
	oldIP := vm.registers.at(RegIP)

	touched := make(map[int]string)
	for i := 0; i < t.pops; i++ {
		touched[vm.stack.SP()] = "popped"
		_, _ = vm.stack.Pop()
	}
	for _, v := range t.pushes {
		_ = vm.stack.Push(v)
		touched[vm.stack.SP()] = t.pushHint
	}

	res := &Result{Op: t.op, Halted: t.halted, Detail: t.detail}
	events := []event{{kind: eventLog, op: name, detail: t.detail}}

	for _, w := range t.writes {
		vm.registers.put(w.index, w.value)
		res.ChangedRegisters = append(res.ChangedRegisters, RegisterChange{Name: registers[w.index].Name, Value: w.value})
		events = append(events, event{kind: eventRegister, name: registers[w.index].Name, value: w.value})
	}
	if sp := vm.stack.SP(); sp != oldSP {
		vm.registers.put(RegSP, int64(sp))
		res.ChangedRegisters = append(res.ChangedRegisters, RegisterChange{Name: "SP", Value: int64(sp)})
		events = append(events, event{kind: eventRegister, name: "SP", value: int64(sp)})
	}

	for i := 0; i < vm.stack.Cap(); i++ {
		hint, ok := touched[i]
		if !ok {
			continue
		}
		cell := vm.stack.Cell(i)
		res.ChangedStackCells = append(res.ChangedStackCells, StackChange{Index: i, Cell: cell, Hint: hint})
		events = append(events, event{kind: eventStack, index: i, cell: cell, hint: hint})
	}

	vm.registers.put(RegIP, t.nextIP)
	res.IP = int(t.nextIP)
	if t.nextIP != oldIP {
		events = append(events, event{kind: eventIP, ip: res.IP})
	}

	if vm.statsEnabled {
		vm.stats.StepsExecuted++
		vm.stats.OpCounts[name]++
	}

	return res, events
}

func writableRegister(op, name string) (int, error) {
	idx, ok := RegisterIndex(name)
	if !ok {
		return 0, newError(ErrInvalidRegister, op, "%q", name)
	}
	if registers[idx].Class == ClassPointer {
		return 0, newError(ErrInvalidRegister, op, "%s is written only by the engine", registers[idx].Name)
	}
	return idx, nil
}

// arith computes b <op> a, rejecting results that do not fit in int64.
func arith(op Opcode, b, a int64) (int64, error) {
	name := op.String()
	overflow := func() (int64, error) {
		return 0, newError(ErrArithmeticOverflow, name, "%d %s %d", b, arithSymbol(op), a)
	}

	switch op {
	case OpADD:
		if (a > 0 && b > math.MaxInt64-a) || (a < 0 && b < math.MinInt64-a) {
			return overflow()
		}
		return b + a, nil
	case OpSUB:
		if (a < 0 && b > math.MaxInt64+a) || (a > 0 && b < math.MinInt64+a) {
			return overflow()
		}
		return b - a, nil
	case OpMUL:
		if a == 0 || b == 0 {
			return 0, nil
		}
		c := b * a
		if c/a != b || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return overflow()
		}
		return c, nil
	case OpDIV:
		if a == 0 {
			return 0, newError(ErrDivideByZero, name, "%d / 0", b)
		}
		if a == -1 && b == math.MinInt64 {
			return overflow()
		}
		// Go division truncates toward zero.
		return b / a, nil
	case OpSLT:
		if b < a {
			return 1, nil
		}
		return 0, nil
	}
	return 0, newError(ErrInvalidOpcode, name, "not an arithmetic opcode")
}

func arithSymbol(op Opcode) string {
	switch op {
	case OpADD:
		return "+"
	case OpSUB:
		return "-"
	case OpMUL:
		return "*"
	case OpDIV:
		return "/"
	case OpSLT:
		return "<"
	}
	return "?"
}
