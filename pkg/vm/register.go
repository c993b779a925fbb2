package vm

import (
	"fmt"
	"strings"
)

// RegisterClass groups registers by role.
type RegisterClass uint8

const (
	ClassGeneral RegisterClass = iota // A-F, I, J
	ClassSpecial                      // EX, EXA
	ClassPointer                      // IP, SP
)

// String returns the string representation of a register class.
func (c RegisterClass) String() string {
	switch c {
	case ClassGeneral:
		return "general"
	case ClassSpecial:
		return "special"
	case ClassPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// RegisterInfo describes one entry of the fixed register set.
type RegisterInfo struct {
	Name        string
	Class       RegisterClass
	Description string
}

// NumRegisters is the size of the fixed register set.
const NumRegisters = 12

// Register indices, in display order. The index doubles as the byte
// encoding of a register operand.
const (
	RegA = iota
	RegB
	RegC
	RegD
	RegE
	RegF
	RegI
	RegJ
	RegEX
	RegEXA
	RegIP
	RegSP
)

var registers = [NumRegisters]RegisterInfo{
	{"A", ClassGeneral, "General purpose"},
	{"B", ClassGeneral, "General purpose"},
	{"C", ClassGeneral, "General purpose"},
	{"D", ClassGeneral, "General purpose"},
	{"E", ClassGeneral, "General purpose"},
	{"F", ClassGeneral, "General purpose"},
	{"I", ClassGeneral, "General purpose (index)"},
	{"J", ClassGeneral, "General purpose (index)"},
	{"EX", ClassSpecial, "Excess / overflow result"},
	{"EXA", ClassSpecial, "Additional excess"},
	{"IP", ClassPointer, "Instruction pointer"},
	{"SP", ClassPointer, "Stack pointer"},
}

// Registers returns the fixed register set in display order.
func Registers() []RegisterInfo {
	out := make([]RegisterInfo, NumRegisters)
	copy(out, registers[:])
	return out
}

// RegisterIndex resolves a register name (case-insensitive) to its index.
func RegisterIndex(name string) (int, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, r := range registers {
		if r.Name == upper {
			return i, true
		}
	}
	return 0, false
}

// RegisterName returns the canonical name of the register at index i.
func RegisterName(i int) (string, bool) {
	if i < 0 || i >= NumRegisters {
		return "", false
	}
	return registers[i].Name, true
}

// RegisterFile holds the values of the 12 named registers.
type RegisterFile struct {
	vals [NumRegisters]int64
}

// NewRegisterFile creates a new register file with all registers zeroed.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

// Get returns the value of the named register.
func (rf *RegisterFile) Get(name string) (int64, error) {
	i, ok := RegisterIndex(name)
	if !ok {
		return 0, &Error{Kind: ErrInvalidRegister, Detail: fmt.Sprintf("%q", name)}
	}
	return rf.vals[i], nil
}

// Set writes value to the named register.
func (rf *RegisterFile) Set(name string, value int64) error {
	i, ok := RegisterIndex(name)
	if !ok {
		return &Error{Kind: ErrInvalidRegister, Detail: fmt.Sprintf("%q", name)}
	}
	rf.vals[i] = value
	return nil
}

func (rf *RegisterFile) at(i int) int64 { return rf.vals[i] }

func (rf *RegisterFile) put(i int, v int64) { rf.vals[i] = v }

// Values returns a copy of all register values in display order.
func (rf *RegisterFile) Values() [NumRegisters]int64 {
	return rf.vals
}

// Reset clears all registers.
func (rf *RegisterFile) Reset() {
	for i := range rf.vals {
		rf.vals[i] = 0
	}
}

// FormatValue renders v as zero-padded hexadecimal the way register and
// stack widgets display it. Values wider than four digits keep every digit.
func FormatValue(v int64) string {
	if v < 0 {
		// -v overflows for MinInt64; uint64 conversion keeps the magnitude.
		return fmt.Sprintf("-0x%04X", uint64(-(v+1))+1)
	}
	return fmt.Sprintf("0x%04X", v)
}
