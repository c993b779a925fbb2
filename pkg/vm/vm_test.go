package vm

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recorder collects observer callbacks in order.
type recorder struct {
	logs     []string
	errs     []string
	regs     []RegisterChange
	cells    []StackChange
	ips      []int
	callback func()
}

func (r *recorder) OnLog(op, detail string, isErr bool) {
	if isErr {
		r.errs = append(r.errs, op+": "+detail)
	} else {
		r.logs = append(r.logs, op+": "+detail)
	}
	if r.callback != nil {
		r.callback()
	}
}

func (r *recorder) OnRegisterChanged(name string, value int64) {
	r.regs = append(r.regs, RegisterChange{Name: name, Value: value})
}

func (r *recorder) OnStackChanged(index int, cell Cell, hint string) {
	r.cells = append(r.cells, StackChange{Index: index, Cell: cell, Hint: hint})
}

func (r *recorder) OnIPChanged(ip int) {
	r.ips = append(r.ips, ip)
}

func mustExec(t *testing.T, v *VM, op string, operands ...Operand) *Result {
	t.Helper()
	res, err := v.Execute(op, operands...)
	require.NoError(t, err, "%s %v", op, operands)
	return res
}

func stackValues(v *VM) []int64 {
	snap := v.Snapshot()
	var out []int64
	for i := 0; i <= snap.SP; i++ {
		out = append(out, snap.Cells[i].Value)
	}
	return out
}

func assertBaseline(t *testing.T, v *VM) {
	t.Helper()
	snap := v.Snapshot()
	for i, val := range snap.Registers {
		if i == RegSP {
			assert.Equal(t, int64(-1), val, "SP register")
			continue
		}
		assert.Zero(t, val, "register %s", registers[i].Name)
	}
	assert.Equal(t, -1, snap.SP)
	assert.Equal(t, 0, snap.IP)
	assert.Equal(t, StateIdle, snap.State)
	for i, c := range snap.Cells {
		assert.False(t, c.Occupied, "cell %d", i)
	}
}

func assertInvariant(t *testing.T, v *VM) {
	t.Helper()
	snap := v.Snapshot()
	require.GreaterOrEqual(t, snap.SP, -1)
	require.LessOrEqual(t, snap.SP, len(snap.Cells)-1)
	for i, c := range snap.Cells {
		assert.Equal(t, i <= snap.SP, c.Occupied, "cell %d", i)
	}
	assert.Equal(t, int64(snap.SP), snap.Registers[RegSP])
}

// ===== Reference scenarios =====

func TestVM_PushPushAdd(t *testing.T) {
	v := NewVM()

	res := mustExec(t, v, "PSH", Imm(5))
	assert.Equal(t, 0, v.SP())
	assert.Equal(t, []int64{5}, stackValues(v))
	assert.Equal(t, 2, res.IP)

	mustExec(t, v, "PSH", Imm(3))
	assert.Equal(t, 1, v.SP())
	assert.Equal(t, []int64{5, 3}, stackValues(v))

	res = mustExec(t, v, "ADD")
	assert.Equal(t, 0, v.SP())
	assert.Equal(t, []int64{8}, stackValues(v))
	assert.Equal(t, 5, res.IP)
	assert.Equal(t, "5 + 3 = 8 -> stack[0]", res.Detail)
	assert.Equal(t, []StackChange{
		{Index: 0, Cell: Cell{Value: 8, Occupied: true}, Hint: "result"},
		{Index: 1, Cell: Cell{}, Hint: "popped"},
	}, res.ChangedStackCells)
	assert.Equal(t, []RegisterChange{{Name: "SP", Value: 0}}, res.ChangedRegisters)
	assertInvariant(t, v)
}

func TestVM_PopEmpty(t *testing.T) {
	v := NewVM()

	_, err := v.Execute("POP")
	assert.ErrorIs(t, err, ErrStackUnderflow)
	assert.Equal(t, -1, v.SP())
	assertBaseline(t, v)
}

func TestVM_DivideByZeroLeavesStateUntouched(t *testing.T) {
	v := NewVM(WithOperandLatch())
	mustExec(t, v, "SET", Reg("D"), Imm(11))
	mustExec(t, v, "PSH", Imm(6))
	mustExec(t, v, "PSH", Imm(0))
	before := v.Snapshot()

	_, err := v.Execute("DIV")
	assert.ErrorIs(t, err, ErrDivideByZero)

	var vmErr *Error
	require.True(t, errors.As(err, &vmErr))
	assert.Equal(t, ErrDivideByZero, vmErr.Kind)
	assert.Equal(t, "DIV", vmErr.Op)

	assert.Equal(t, before, v.Snapshot())
	assert.Equal(t, []int64{6, 0}, stackValues(v))
	assert.Equal(t, 1, v.SP())
}

func TestVM_Overflow(t *testing.T) {
	v := NewVM()
	for i := 0; i < DefaultStackCapacity; i++ {
		mustExec(t, v, "PSH", Imm(int64(i)))
	}
	assert.Equal(t, 9, v.SP())
	before := v.Snapshot()

	_, err := v.Execute("PSH", Imm(99))
	assert.ErrorIs(t, err, ErrStackOverflow)
	assert.Equal(t, 9, v.SP())
	assert.Equal(t, before, v.Snapshot())

	_, err = v.Execute("GLD", Reg("A"))
	assert.ErrorIs(t, err, ErrStackOverflow)
	assert.Equal(t, before, v.Snapshot())
}

func TestVM_SetLessThan(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "PSH", Imm(2))
	mustExec(t, v, "PSH", Imm(9))

	res := mustExec(t, v, "SLT")
	assert.Equal(t, 0, v.SP())
	assert.Equal(t, []int64{1}, stackValues(v))
	assert.Equal(t, "2 < 9 -> 1", res.Detail)

	mustExec(t, v, "PSH", Imm(1))
	mustExec(t, v, "SLT")
	assert.Equal(t, []int64{0}, stackValues(v), "1 < 1 is false")
}

// ===== Arithmetic =====

func TestVM_Arithmetic(t *testing.T) {
	tests := []struct {
		op     string
		b, a   int64
		want   int64
		wantOK bool
		kind   ErrorKind
	}{
		{op: "ADD", b: 2, a: 3, want: 5, wantOK: true},
		{op: "SUB", b: 2, a: 3, want: -1, wantOK: true},
		{op: "MUL", b: -4, a: 3, want: -12, wantOK: true},
		{op: "DIV", b: 7, a: 2, want: 3, wantOK: true},
		{op: "DIV", b: -7, a: 2, want: -3, wantOK: true},
		{op: "DIV", b: 7, a: -2, want: -3, wantOK: true},
		{op: "SLT", b: -1, a: 0, want: 1, wantOK: true},
		{op: "ADD", b: math.MaxInt64, a: 1, kind: ErrArithmeticOverflow},
		{op: "SUB", b: math.MinInt64, a: 1, kind: ErrArithmeticOverflow},
		{op: "MUL", b: math.MaxInt64, a: 2, kind: ErrArithmeticOverflow},
		{op: "MUL", b: math.MinInt64, a: -1, kind: ErrArithmeticOverflow},
		{op: "DIV", b: math.MinInt64, a: -1, kind: ErrArithmeticOverflow},
		{op: "DIV", b: 1, a: 0, kind: ErrDivideByZero},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			v := NewVM()
			mustExec(t, v, "PSH", Imm(tt.b))
			mustExec(t, v, "PSH", Imm(tt.a))
			before := v.Snapshot()

			_, err := v.Execute(tt.op)
			if !tt.wantOK {
				assert.ErrorIs(t, err, tt.kind)
				assert.Equal(t, before, v.Snapshot())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int64{tt.want}, stackValues(v))
			assertInvariant(t, v)
		})
	}
}

func TestVM_BinaryOpsNeedTwoValues(t *testing.T) {
	for _, op := range []string{"ADD", "SUB", "MUL", "DIV", "SLT"} {
		t.Run(op, func(t *testing.T) {
			v := NewVM()
			mustExec(t, v, "PSH", Imm(4))
			before := v.Snapshot()

			_, err := v.Execute(op)
			assert.ErrorIs(t, err, ErrStackUnderflow)
			assert.Equal(t, before, v.Snapshot())
		})
	}
}

func TestVM_BinaryOpsReduceOccupancyByOne(t *testing.T) {
	for _, op := range []string{"ADD", "SUB", "MUL", "DIV", "SLT"} {
		t.Run(op, func(t *testing.T) {
			v := NewVM()
			mustExec(t, v, "PSH", Imm(1))
			mustExec(t, v, "PSH", Imm(8))
			mustExec(t, v, "PSH", Imm(2))

			mustExec(t, v, op)
			assert.Equal(t, 1, v.SP())
			assert.Equal(t, int64(1), stackValues(v)[0], "cells below the operands are untouched")
			assertInvariant(t, v)
		})
	}
}

func TestVM_OperandLatch(t *testing.T) {
	v := NewVM(WithOperandLatch())
	mustExec(t, v, "PSH", Imm(10))
	mustExec(t, v, "PSH", Imm(4))

	res := mustExec(t, v, "SUB")
	assert.Equal(t, []RegisterChange{
		{Name: "A", Value: 4},
		{Name: "B", Value: 10},
		{Name: "C", Value: 6},
		{Name: "SP", Value: 0},
	}, res.ChangedRegisters)

	c, err := v.Register("C")
	require.NoError(t, err)
	assert.Equal(t, int64(6), c)
}

func TestVM_NoLatchByDefault(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "SET", Reg("A"), Imm(77))
	mustExec(t, v, "PSH", Imm(1))
	mustExec(t, v, "PSH", Imm(2))
	mustExec(t, v, "MUL")

	a, _ := v.Register("A")
	assert.Equal(t, int64(77), a)
}

// ===== Registers =====

func TestVM_RegisterOps(t *testing.T) {
	v := NewVM()

	mustExec(t, v, "SET", Reg("a"), Imm(1<<40))
	mustExec(t, v, "MOV", Reg("A"), Reg("EX"))
	ex, _ := v.Register("EX")
	assert.Equal(t, int64(1<<40), ex)

	res := mustExec(t, v, "LOG", Reg("EX"))
	assert.Equal(t, "EX = 1099511627776 (0x10000000000)", res.Detail)
	assert.Empty(t, res.ChangedRegisters)
	assert.Empty(t, res.ChangedStackCells)

	mustExec(t, v, "GLD", Reg("EX"))
	assert.Equal(t, []int64{1 << 40}, stackValues(v))

	mustExec(t, v, "PSH", Imm(-9))
	res = mustExec(t, v, "GPT", Reg("J"))
	j, _ := v.Register("J")
	assert.Equal(t, int64(-9), j)
	assert.Equal(t, 1, v.SP(), "GPT does not pop")
	assert.Empty(t, res.ChangedStackCells)
}

func TestVM_GPTEmpty(t *testing.T) {
	v := NewVM()
	_, err := v.Execute("GPT", Reg("A"))
	assert.ErrorIs(t, err, ErrStackUnderflow)
	assertBaseline(t, v)
}

func TestVM_InvalidRegister(t *testing.T) {
	tests := []struct {
		op       string
		operands []Operand
	}{
		{"SET", []Operand{Reg("R1"), Imm(1)}},
		{"MOV", []Operand{Reg("A"), Reg("Q")}},
		{"MOV", []Operand{Reg("Q"), Reg("A")}},
		{"LOG", []Operand{Reg("ZZ")}},
		{"IF", []Operand{Reg("K"), Imm(0), Imm(0)}},
		{"GLD", []Operand{Reg("")}},
		{"SET", []Operand{Reg("SP"), Imm(3)}},
		{"MOV", []Operand{Reg("A"), Reg("IP")}},
		{"GPT", []Operand{Reg("IP")}},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			v := NewVM()
			mustExec(t, v, "PSH", Imm(1))
			before := v.Snapshot()

			_, err := v.Execute(tt.op, tt.operands...)
			assert.ErrorIs(t, err, ErrInvalidRegister)
			assert.Equal(t, before, v.Snapshot())
		})
	}
}

func TestVM_InvalidOpcode(t *testing.T) {
	rec := &recorder{}
	v := NewVM(WithObserver(rec))

	_, err := v.Execute("JMP")
	assert.ErrorIs(t, err, ErrInvalidOpcode)

	_, err = v.Dispatch(Opcode(42))
	assert.ErrorIs(t, err, ErrInvalidOpcode)

	assert.Len(t, rec.errs, 2)
	assertBaseline(t, v)
}

func TestVM_InvalidOperandCount(t *testing.T) {
	v := NewVM()
	_, err := v.Execute("PSH")
	assert.ErrorIs(t, err, ErrInvalidOperand)

	_, err = v.Execute("IF", Reg("A"), Imm(0))
	assert.ErrorIs(t, err, ErrInvalidOperand)

	_, err = v.Execute("IF", Reg("A"), Imm(0), Imm(-1))
	assert.ErrorIs(t, err, ErrInvalidOperand)
	assertBaseline(t, v)
}

// ===== Instruction pointer =====

func TestVM_IPAdvance(t *testing.T) {
	tests := []struct {
		op       string
		operands []Operand
		advance  int
	}{
		{"NOP", nil, 1},
		{"PSH", []Operand{Imm(1)}, 2},
		{"SET", []Operand{Reg("A"), Imm(1)}, 3},
		{"MOV", []Operand{Reg("A"), Reg("B")}, 3},
		{"LOG", []Operand{Reg("A")}, 2},
		{"GLD", []Operand{Reg("A")}, 2},
		{"IF", []Operand{Reg("A"), Imm(5), Imm(100)}, 4},
		{"IFN", []Operand{Reg("A"), Imm(0), Imm(100)}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			v := NewVM()
			res := mustExec(t, v, tt.op, tt.operands...)
			assert.Equal(t, tt.advance, res.IP)
			assert.Equal(t, tt.advance, v.IP())
		})
	}
}

func TestVM_BranchTaken(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "SET", Reg("I"), Imm(3))

	res := mustExec(t, v, "IF", Reg("I"), Imm(3), Imm(40))
	assert.Equal(t, 40, res.IP)

	res = mustExec(t, v, "IFN", Reg("I"), Imm(4), Imm(7))
	assert.Equal(t, 7, res.IP)
}

func TestVM_HaltKeepsIP(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "NOP")

	res := mustExec(t, v, "HLT")
	assert.True(t, res.Halted)
	assert.Equal(t, 1, res.IP)

	// HLT only signals the driver; the engine keeps accepting work.
	mustExec(t, v, "NOP")
	assert.Equal(t, 2, v.IP())
}

func TestVM_ErrorKeepsIP(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "NOP")
	_, err := v.Execute("POP")
	require.Error(t, err)
	assert.Equal(t, 1, v.IP())
}

// ===== Two-phase dispatch =====

func TestVM_AnnounceCommit(t *testing.T) {
	rec := &recorder{}
	v := NewVM(WithObserver(rec))
	mustExec(t, v, "PSH", Imm(6))
	mustExec(t, v, "PSH", Imm(3))
	rec.logs = nil
	before := v.Snapshot()

	preview, err := v.Announce("DIV")
	require.NoError(t, err)
	assert.Equal(t, OpDIV, preview.Op)
	assert.Equal(t, []StackChange{
		{Index: 1, Cell: Cell{Value: 3, Occupied: true}, Hint: "A (top)"},
		{Index: 0, Cell: Cell{Value: 6, Occupied: true}, Hint: "B"},
	}, preview.Consumed)
	assert.Equal(t, StateAwaitingCommit, v.State())
	assert.Empty(t, rec.logs, "announce does not notify observers")

	after := v.Snapshot()
	after.State = before.State
	assert.Equal(t, before, after, "announce does not mutate")

	res, err := v.Commit()
	require.NoError(t, err)
	assert.Equal(t, preview.Detail, res.Detail)
	assert.Equal(t, []int64{2}, stackValues(v))
	assert.Equal(t, StateIdle, v.State())
	assert.Equal(t, []string{"DIV: 6 / 3 = 2 -> stack[0]"}, rec.logs)
}

func TestVM_DispatchRejectedWhileAwaitingCommit(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "PSH", Imm(1))

	_, err := v.Announce("POP")
	require.NoError(t, err)

	_, err = v.Execute("PSH", Imm(2))
	assert.ErrorIs(t, err, ErrCommitPending)
	_, err = v.Announce("NOP")
	assert.ErrorIs(t, err, ErrCommitPending)
	_, err = v.Execute("BOGUS")
	assert.ErrorIs(t, err, ErrCommitPending)

	assert.Equal(t, []int64{1}, stackValues(v))

	_, err = v.Commit()
	require.NoError(t, err)
	assert.Equal(t, -1, v.SP())

	_, err = v.Commit()
	assert.ErrorIs(t, err, ErrNothingPending)
}

func TestVM_AnnounceValidatesUpFront(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "PSH", Imm(6))
	mustExec(t, v, "PSH", Imm(0))

	_, err := v.Announce("DIV")
	assert.ErrorIs(t, err, ErrDivideByZero)
	assert.Equal(t, StateIdle, v.State())

	_, err = v.Commit()
	assert.ErrorIs(t, err, ErrNothingPending)
}

func TestVM_ResetDiscardsPendingCommit(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "PSH", Imm(4))
	mustExec(t, v, "PSH", Imm(5))
	mustExec(t, v, "SET", Reg("F"), Imm(2))

	_, err := v.Announce("MUL")
	require.NoError(t, err)

	v.Reset()
	assertBaseline(t, v)

	_, err = v.Commit()
	assert.ErrorIs(t, err, ErrNothingPending)

	mustExec(t, v, "PSH", Imm(1))
	assert.Equal(t, []int64{1}, stackValues(v))
}

func TestVM_ReentrantDispatchRejected(t *testing.T) {
	var v *VM
	var inner error
	rec := &recorder{}
	rec.callback = func() {
		if inner == nil {
			_, inner = v.Execute("PSH", Imm(1))
		}
	}
	v = NewVM(WithObserver(rec))

	mustExec(t, v, "NOP")
	assert.ErrorIs(t, inner, ErrCommitPending)
	assert.Equal(t, -1, v.SP())

	// Once notification is over the engine accepts work again.
	mustExec(t, v, "PSH", Imm(2))
	assert.Equal(t, []int64{2}, stackValues(v))
}

func TestVM_ResetFromObserver(t *testing.T) {
	var v *VM
	rec := &recorder{}
	v = NewVM(WithObserver(ObserverFuncs{
		Log: func(op, detail string, isErr bool) {
			if op == "PSH" {
				v.Reset()
			}
		},
	}), WithObserver(rec))

	mustExec(t, v, "PSH", Imm(3))
	assertBaseline(t, v)
	mustExec(t, v, "NOP")
}

// ===== Observer =====

func TestVM_ObserverEvents(t *testing.T) {
	rec := &recorder{}
	v := NewVM(WithObserver(rec))

	mustExec(t, v, "PSH", Imm(5))
	assert.Equal(t, []string{"PSH: pushed 5 -> stack[0]"}, rec.logs)
	assert.Equal(t, []RegisterChange{{Name: "SP", Value: 0}}, rec.regs)
	assert.Equal(t, []StackChange{{Index: 0, Cell: Cell{Value: 5, Occupied: true}, Hint: "pushed"}}, rec.cells)
	assert.Equal(t, []int{2}, rec.ips)

	_, err := v.Execute("POP")
	require.NoError(t, err)
	assert.Equal(t, StackChange{Index: 0, Cell: Cell{}, Hint: "popped"}, rec.cells[1])

	_, err = v.Execute("POP")
	require.Error(t, err)
	assert.Equal(t, []string{"POP: stack underflow: stack empty"}, rec.errs)
}

func TestVM_AddObserver(t *testing.T) {
	v := NewVM()
	var ips []int
	v.AddObserver(ObserverFuncs{IPChanged: func(ip int) { ips = append(ips, ip) }})

	mustExec(t, v, "NOP")
	mustExec(t, v, "HLT")
	assert.Equal(t, []int{1}, ips, "HLT does not move IP")
}

// ===== Reset =====

func TestVM_ResetFromAnyState(t *testing.T) {
	v := NewVM()
	for i := 0; i < 5; i++ {
		mustExec(t, v, "PSH", Imm(int64(i)))
	}
	mustExec(t, v, "SET", Reg("EXA"), Imm(12))
	mustExec(t, v, "IF", Reg("EXA"), Imm(12), Imm(99))

	v.Reset()
	assertBaseline(t, v)
}

func TestVM_StackCapacityOption(t *testing.T) {
	v := NewVM(WithStackCapacity(2))
	assert.Equal(t, 2, v.StackCapacity())

	mustExec(t, v, "PSH", Imm(1))
	mustExec(t, v, "PSH", Imm(2))
	_, err := v.Execute("PSH", Imm(3))
	assert.ErrorIs(t, err, ErrStackOverflow)

	v.Reset()
	assert.Equal(t, 2, v.StackCapacity())
}

// ===== Byte-encoded programs =====

func program(t *testing.T, parts ...[]byte) []byte {
	t.Helper()
	var code []byte
	for _, p := range parts {
		code = append(code, p...)
	}
	return code
}

func TestVM_RunCountdown(t *testing.T) {
	// 0: SET A 3
	// 3: GLD A
	// 5: PSH 1
	// 7: SUB
	// 8: GPT A
	// 10: POP
	// 11: IFN A 0 3
	// 15: HLT
	code := program(t,
		mustEncode(t, OpSET, Reg("A"), Imm(3)),
		mustEncode(t, OpGLD, Reg("A")),
		mustEncode(t, OpPSH, Imm(1)),
		mustEncode(t, OpSUB),
		mustEncode(t, OpGPT, Reg("A")),
		mustEncode(t, OpPOP),
		mustEncode(t, OpIFN, Reg("A"), Imm(0), Imm(3)),
		mustEncode(t, OpHLT),
	)

	v := NewVM(WithStats())
	res, err := v.Run(context.Background(), code)
	require.NoError(t, err)
	assert.True(t, res.Halted)
	assert.Equal(t, 15, res.IP)

	a, _ := v.Register("A")
	assert.Equal(t, int64(0), a)
	assert.Equal(t, -1, v.SP())

	stats := v.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.OpCounts["SUB"])
	assert.Equal(t, 3, stats.OpCounts["IFN"])
	assert.Equal(t, int64(1+3*6+1), stats.StepsExecuted)
}

func TestVM_RunWithoutHalt(t *testing.T) {
	v := NewVM()
	_, err := v.Run(context.Background(), mustEncode(t, OpNOP))
	assert.ErrorIs(t, err, ErrNoHalt)
}

func TestVM_RunStepLimit(t *testing.T) {
	// 0: IF A 0 0 -- loops forever
	code := mustEncode(t, OpIF, Reg("A"), Imm(0), Imm(0))

	v := NewVM(WithMaxSteps(25))
	_, err := v.Run(context.Background(), code)
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestVM_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewVM()
	_, err := v.Run(ctx, mustEncode(t, OpHLT))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVM_StepBadByte(t *testing.T) {
	v := NewVM()
	_, err := v.Step([]byte{0x99})
	assert.ErrorIs(t, err, ErrInvalidOpcode)
	assertBaseline(t, v)
}

// ===== Stats & logging =====

func TestVM_StatsDisabled(t *testing.T) {
	v := NewVM()
	mustExec(t, v, "NOP")
	assert.Nil(t, v.Stats())
}

func TestVM_StatsCountErrors(t *testing.T) {
	v := NewVM(WithStats())
	mustExec(t, v, "NOP")
	_, _ = v.Execute("POP")
	_, _ = v.Execute("XYZ")

	stats := v.Stats()
	assert.Equal(t, int64(1), stats.StepsExecuted)
	assert.Equal(t, int64(2), stats.Errors)
}

func TestVM_Logging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	v := NewVM(WithLogger(zap.New(core)))

	mustExec(t, v, "PSH", Imm(1))
	_, _ = v.Execute("DIV")

	dispatch := logs.FilterMessage("dispatch").All()
	require.NotEmpty(t, dispatch)
	assert.Equal(t, "vm", dispatch[0].LoggerName)
	assert.Equal(t, 1, logs.FilterMessage("rejected").Len())
}

// ===== Isolation =====

func TestVM_IndependentInstances(t *testing.T) {
	var wg sync.WaitGroup
	results := make([][]int64, 8)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := NewVM()
			for n := 0; n <= i; n++ {
				if _, err := v.Execute("PSH", Imm(int64(n))); err != nil {
					return
				}
			}
			for v.SP() > 0 {
				if _, err := v.Execute("ADD"); err != nil {
					return
				}
			}
			results[i] = stackValues(v)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		want := int64(i * (i + 1) / 2)
		assert.Equal(t, []int64{want}, got, "instance %d", i)
	}
}

func TestVM_ConcurrentMisuseIsRejected(t *testing.T) {
	v := NewVM(WithStackCapacity(DefaultStackCapacity))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = v.Execute("PSH", Imm(1))
			_, _ = v.Execute("POP")
		}()
	}
	wg.Wait()
	assertInvariant(t, v)
}
