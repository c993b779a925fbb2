package vm

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Operand is one instruction argument: a register name or an integer.
// Values and branch targets are both integers; the opcode's catalog entry
// decides how a position is interpreted.
type Operand struct {
	Reg   string
	Value int64
	isReg bool
}

// Reg returns a register operand.
func Reg(name string) Operand {
	return Operand{Reg: name, isReg: true}
}

// Imm returns an immediate integer operand.
func Imm(v int64) Operand {
	return Operand{Value: v}
}

// ParseOperand interprets a source token. Integer literals (decimal, 0x hex,
// 0b binary, with optional sign) become immediates; anything else is taken
// as a register name.
func ParseOperand(tok string) Operand {
	tok = strings.TrimSpace(tok)
	if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return Imm(v)
	}
	return Reg(tok)
}

// IsRegister reports whether the operand names a register.
func (o Operand) IsRegister() bool { return o.isReg }

// String returns the operand as it would be written in a REPL line.
func (o Operand) String() string {
	if o.isReg {
		return strings.ToUpper(o.Reg)
	}
	return strconv.FormatInt(o.Value, 10)
}

// Instruction is a decoded opcode with its operands.
//
// Encoded layout, one byte per field:
//
//	┌────────┬───────────┬───────────┬───────────┐
//	│ opcode │ operand 0 │ operand 1 │ operand 2 │
//	└────────┴───────────┴───────────┴───────────┘
//
// Register operands encode as their register index (A=0 … SP=11), values and
// branch targets as an unsigned byte. The operand count comes from the
// catalog, so the encoded size is 1 + OperandBytes.
type Instruction struct {
	Op       Opcode
	Operands []Operand
}

// Size returns the encoded length in bytes.
func (i Instruction) Size() int {
	if !i.Op.Valid() {
		return 1
	}
	return catalog[i.Op].Size()
}

// String returns a human-readable representation of the instruction.
func (i Instruction) String() string {
	if len(i.Operands) == 0 {
		return i.Op.String()
	}
	parts := make([]string, len(i.Operands))
	for n, o := range i.Operands {
		parts[n] = o.String()
	}
	return i.Op.String() + " " + strings.Join(parts, " ")
}

// EncodeInstruction creates the byte form of an instruction.
func EncodeInstruction(op Opcode, operands ...Operand) ([]byte, error) {
	if !op.Valid() {
		return nil, newError(ErrInvalidOpcode, "", "opcode 0x%02X", uint8(op))
	}
	def := catalog[op]
	if err := checkOperands(def, operands); err != nil {
		return nil, err
	}
	code := make([]byte, 0, def.Size())
	code = append(code, byte(op))
	for n, kind := range def.Operands {
		o := operands[n]
		if kind == KindRegister {
			idx, _ := RegisterIndex(o.Reg)
			code = append(code, byte(idx))
			continue
		}
		if o.Value < 0 || o.Value > 0xFF {
			return nil, newError(ErrInvalidOperand, op.String(), "%d does not fit in an operand byte", o.Value)
		}
		code = append(code, byte(o.Value))
	}
	return code, nil
}

// DecodeInstruction reads the instruction starting at code[ip].
func DecodeInstruction(code []byte, ip int) (Instruction, error) {
	if ip < 0 || ip >= len(code) {
		return Instruction{}, newError(ErrNoHalt, "", "ip %d outside code of %d bytes", ip, len(code))
	}
	op := Opcode(code[ip])
	if !op.Valid() {
		return Instruction{}, newError(ErrInvalidOpcode, "", "byte 0x%02X at %d", code[ip], ip)
	}
	def := catalog[op]
	if ip+def.Size() > len(code) {
		return Instruction{}, newError(ErrInvalidOperand, op.String(), "truncated at %d: need %d operand bytes", ip, def.OperandBytes())
	}

	inst := Instruction{Op: op}
	for n, kind := range def.Operands {
		b := code[ip+1+n]
		if kind == KindRegister {
			name, ok := RegisterName(int(b))
			if !ok {
				return Instruction{}, newError(ErrInvalidRegister, op.String(), "register index %d at %d", b, ip+1+n)
			}
			inst.Operands = append(inst.Operands, Reg(name))
			continue
		}
		inst.Operands = append(inst.Operands, Imm(int64(b)))
	}
	return inst, nil
}

// Disassemble converts encoded instructions back to REPL source lines,
// prefixed with their byte offset. Bytes that do not decode are emitted as
// raw data and skipped one at a time.
func Disassemble(code []byte) string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("; %d bytes\n", len(code)))

	for ip := 0; ip < len(code); {
		inst, err := DecodeInstruction(code, ip)
		if err != nil {
			buf.WriteString(fmt.Sprintf("%04d: DB 0x%02X\n", ip, code[ip]))
			ip++
			continue
		}
		buf.WriteString(fmt.Sprintf("%04d: %s\n", ip, inst))
		ip += inst.Size()
	}

	return buf.String()
}

// checkOperands validates operand count and kinds against the catalog.
func checkOperands(def Definition, operands []Operand) error {
	op := def.ID.String()
	if len(operands) != len(def.Operands) {
		return newError(ErrInvalidOperand, op, "want %d operands (%s), got %d", len(def.Operands), def.Signature, len(operands))
	}
	for n, kind := range def.Operands {
		o := operands[n]
		switch kind {
		case KindRegister:
			if !o.isReg {
				return newError(ErrInvalidRegister, op, "operand %d: %d is not a register", n+1, o.Value)
			}
			if _, ok := RegisterIndex(o.Reg); !ok {
				return newError(ErrInvalidRegister, op, "%q", o.Reg)
			}
		default:
			if o.isReg {
				return newError(ErrInvalidOperand, op, "operand %d: want %s, got register %s", n+1, kind, o.Reg)
			}
		}
	}
	return nil
}
