package vm

import "strings"

// Opcode represents a VM instruction opcode. The value is also the opcode
// byte of the encoded form.
type Opcode uint8

const (
	OpHLT Opcode = 0x00 // stop the run loop
	OpPSH Opcode = 0x01 // push val
	OpPOP Opcode = 0x02 // discard top
	OpADD Opcode = 0x03 // B + A
	OpMUL Opcode = 0x04 // B * A
	OpDIV Opcode = 0x05 // B / A, truncated
	OpSUB Opcode = 0x06 // B - A
	OpSLT Opcode = 0x07 // second < top
	OpMOV Opcode = 0x08 // reg_b = reg_a
	OpSET Opcode = 0x09 // reg = val
	OpLOG Opcode = 0x0A // report reg
	OpIF  Opcode = 0x0B // branch if reg == val
	OpIFN Opcode = 0x0C // branch if reg != val
	OpGLD Opcode = 0x0D // push reg
	OpGPT Opcode = 0x0E // reg = top, no pop
	OpNOP Opcode = 0x0F // no operation

	NumOpcodes = 16
)

var opcodeNames = [NumOpcodes]string{
	"HLT", "PSH", "POP", "ADD", "MUL", "DIV", "SUB", "SLT",
	"MOV", "SET", "LOG", "IF", "IFN", "GLD", "GPT", "NOP",
}

// Valid reports whether o is one of the 16 defined opcodes.
func (o Opcode) Valid() bool {
	return int(o) < NumOpcodes
}

// String returns the mnemonic of an opcode.
func (o Opcode) String() string {
	if !o.Valid() {
		return "UNKNOWN"
	}
	return opcodeNames[o]
}

// OpcodeFromString returns the opcode for the given mnemonic (case-insensitive).
func OpcodeFromString(s string) (Opcode, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range opcodeNames {
		if name == upper {
			return Opcode(i), true
		}
	}
	return 0, false
}

// binary reports whether the opcode consumes two stack values and pushes one.
func (o Opcode) binary() bool {
	switch o {
	case OpADD, OpSUB, OpMUL, OpDIV, OpSLT:
		return true
	}
	return false
}

// Staged reports whether presentation layers announce the opcode's operands
// before committing it (POP and the binary stack operations).
func (o Opcode) Staged() bool {
	return o == OpPOP || o.binary()
}
