package vm

import "strings"

// OperandKind describes what an operand position holds.
type OperandKind uint8

const (
	KindRegister OperandKind = iota // register name, encoded as its index
	KindValue                       // immediate integer
	KindTarget                      // absolute instruction pointer
)

// String returns the signature token for the operand kind.
func (k OperandKind) String() string {
	switch k {
	case KindRegister:
		return "reg"
	case KindValue:
		return "val"
	case KindTarget:
		return "ip"
	default:
		return "?"
	}
}

// Frame is one labelled box of a stack diagram hint.
type Frame struct {
	Label string
	Class string // "top", "sec", "res" or ""
}

// Diagram is a before/after stack picture, top of stack first.
type Diagram struct {
	Before []Frame
	After  []Frame
}

// Definition is the static catalog entry of one opcode.
type Definition struct {
	ID          Opcode
	Signature   string
	Operands    []OperandKind
	Description string
	Effect      string
	Diagram     *Diagram
}

// Mnemonic returns the opcode name.
func (d Definition) Mnemonic() string { return d.ID.String() }

// OperandBytes returns how many operand bytes follow the opcode byte.
func (d Definition) OperandBytes() int { return len(d.Operands) }

// Size returns the encoded length of the instruction in bytes.
func (d Definition) Size() int { return 1 + len(d.Operands) }

// TouchesStack reports whether the opcode reads or writes the stack.
func (d Definition) TouchesStack() bool { return d.Diagram != nil }

var (
	frameRest   = Frame{Label: "...", Class: ""}
	binaryFrame = []Frame{{"A (top)", "top"}, {"B", "sec"}, frameRest}
)

func binaryDiagram(result string) *Diagram {
	return &Diagram{Before: binaryFrame, After: []Frame{{result, "res"}, frameRest}}
}

var catalog = [NumOpcodes]Definition{
	{
		ID: OpHLT, Signature: "hlt", Description: "Halt execution",
		Effect: "Stops the main loop. No stack changes.",
	},
	{
		ID: OpPSH, Signature: "psh val", Operands: []OperandKind{KindValue},
		Description: "Push value onto stack",
		Effect:      "Increments SP, then writes <val> to stack[SP]. IP advances by 1 extra to skip the operand byte.",
		Diagram:     &Diagram{Before: []Frame{frameRest}, After: []Frame{{"val", "res"}, frameRest}},
	},
	{
		ID: OpPOP, Signature: "pop", Description: "Pop top of stack",
		Effect:  "Empties stack[SP] and decrements SP. The value is discarded.",
		Diagram: &Diagram{Before: []Frame{{"top", "top"}, frameRest}, After: []Frame{frameRest}},
	},
	{
		ID: OpADD, Signature: "add", Description: "Add top two stack values",
		Effect:  "Pops A, pops B, pushes B + A. Net: consumes 2 values, leaves 1 result.",
		Diagram: binaryDiagram("B+A"),
	},
	{
		ID: OpMUL, Signature: "mul", Description: "Multiply top two stack values",
		Effect:  "Pops A, pops B, pushes B * A.",
		Diagram: binaryDiagram("B*A"),
	},
	{
		ID: OpDIV, Signature: "div", Description: "Divide top two stack values",
		Effect:  "Pops A, pops B, pushes B / A truncated toward zero. A zero divisor is rejected.",
		Diagram: binaryDiagram("B/A"),
	},
	{
		ID: OpSUB, Signature: "sub", Description: "Subtract top two stack values",
		Effect:  "Pops A, pops B, pushes B - A.",
		Diagram: binaryDiagram("B-A"),
	},
	{
		ID: OpSLT, Signature: "slt", Description: "Set less than",
		Effect: "Pops top, pops second, pushes 1 if second < top else 0. Net: consumes 2, leaves 0 or 1.",
		Diagram: &Diagram{
			Before: []Frame{{"top", "top"}, {"second", "sec"}, frameRest},
			After:  []Frame{{"0 or 1", "res"}, frameRest},
		},
	},
	{
		ID: OpMOV, Signature: "mov reg_a reg_b", Operands: []OperandKind{KindRegister, KindRegister},
		Description: "Copy register value",
		Effect:      "reg_b = reg_a. No stack interaction. IP advances by 2 extra to skip both operand bytes.",
	},
	{
		ID: OpSET, Signature: "set reg val", Operands: []OperandKind{KindRegister, KindValue},
		Description: "Set register to value",
		Effect:      "registers[reg] = val. No stack interaction. IP advances by 2 extra.",
	},
	{
		ID: OpLOG, Signature: "log reg", Operands: []OperandKind{KindRegister},
		Description: "Print register value",
		Effect:      "Reports registers[reg] to the log. No stack changes. IP advances 1 extra.",
	},
	{
		ID: OpIF, Signature: "if reg val ip", Operands: []OperandKind{KindRegister, KindValue, KindTarget},
		Description: "Branch if equal",
		Effect:      "If registers[reg] == val, sets IP = target (jump). Otherwise IP skips the 3 operand bytes. Stack is untouched.",
	},
	{
		ID: OpIFN, Signature: "ifn reg val ip", Operands: []OperandKind{KindRegister, KindValue, KindTarget},
		Description: "Branch if not equal",
		Effect:      "If registers[reg] != val, sets IP = target (jump). Otherwise IP skips 3 operand bytes. Stack is untouched.",
	},
	{
		ID: OpGLD, Signature: "gld reg", Operands: []OperandKind{KindRegister},
		Description: "Load register onto stack",
		Effect:      "Increments SP, then writes registers[reg] to stack[SP].",
		Diagram:     &Diagram{Before: []Frame{frameRest}, After: []Frame{{"reg", "res"}, frameRest}},
	},
	{
		ID: OpGPT, Signature: "gpt reg", Operands: []OperandKind{KindRegister},
		Description: "Copy top of stack into register",
		Effect:      "Sets registers[reg] = stack[SP]. Does NOT decrement SP; the value stays on the stack.",
		Diagram:     &Diagram{Before: []Frame{{"top", "top"}, frameRest}, After: []Frame{{"top", "top"}, frameRest}},
	},
	{
		ID: OpNOP, Signature: "nop", Description: "No operation",
		Effect: "Does nothing. SP and stack are unchanged.",
	},
}

// Catalog returns the 16 opcode definitions ordered by ID.
// The returned slice is a copy; the catalog itself is never mutated.
func Catalog() []Definition {
	out := make([]Definition, NumOpcodes)
	for i, d := range catalog {
		out[i] = d.clone()
	}
	return out
}

func (d Definition) clone() Definition {
	d.Operands = append([]OperandKind(nil), d.Operands...)
	if d.Diagram != nil {
		diag := Diagram{
			Before: append([]Frame(nil), d.Diagram.Before...),
			After:  append([]Frame(nil), d.Diagram.After...),
		}
		d.Diagram = &diag
	}
	return d
}

// Definition returns the catalog entry of the opcode.
func (o Opcode) Definition() (Definition, bool) {
	if !o.Valid() {
		return Definition{}, false
	}
	return catalog[o].clone(), true
}

// Lookup finds a catalog entry by mnemonic.
func Lookup(mnemonic string) (Definition, bool) {
	op, ok := OpcodeFromString(mnemonic)
	if !ok {
		return Definition{}, false
	}
	return catalog[op].clone(), true
}

// String renders a diagram on one line, e.g. "[A (top)|B|...] -> [B+A|...]".
func (d *Diagram) String() string {
	if d == nil {
		return ""
	}
	join := func(frames []Frame) string {
		labels := make([]string, len(frames))
		for i, f := range frames {
			labels[i] = f.Label
		}
		return "[" + strings.Join(labels, "|") + "]"
	}
	return join(d.Before) + " -> " + join(d.After)
}

// NextCatalogEntry returns the ID after id, wrapping at the end of the
// catalog. Documentation views use it to step a highlight through the table;
// it has nothing to do with the engine's instruction pointer.
func NextCatalogEntry(id Opcode) Opcode {
	return Opcode((int(id) + 1) % NumOpcodes)
}
