package vm

import "fmt"

// DefaultStackCapacity is the stack depth of the reference machine.
const DefaultStackCapacity = 10

// Cell is one stack slot. An empty cell is distinct from a cell holding zero.
type Cell struct {
	Value    int64
	Occupied bool
}

// String renders the cell for logs and tables.
func (c Cell) String() string {
	if !c.Occupied {
		return "--"
	}
	return fmt.Sprintf("%d", c.Value)
}

// Stack is a fixed-capacity value stack addressed by a top-of-stack index.
// sp is -1 when empty, otherwise cells[0..sp] are occupied and the rest empty.
type Stack struct {
	cells []Cell
	sp    int
}

// NewStack creates an empty stack with the given capacity.
// Capacities below 1 fall back to DefaultStackCapacity.
func NewStack(capacity int) *Stack {
	if capacity < 1 {
		capacity = DefaultStackCapacity
	}
	return &Stack{
		cells: make([]Cell, capacity),
		sp:    -1,
	}
}

// Cap returns the fixed capacity.
func (s *Stack) Cap() int { return len(s.cells) }

// SP returns the index of the topmost occupied cell, or -1.
func (s *Stack) SP() int { return s.sp }

// Len returns the number of occupied cells.
func (s *Stack) Len() int { return s.sp + 1 }

// Full reports whether another push would overflow.
func (s *Stack) Full() bool { return s.sp == len(s.cells)-1 }

// Push places v on top of the stack.
func (s *Stack) Push(v int64) error {
	if s.Full() {
		return ErrStackOverflow
	}
	s.sp++
	s.cells[s.sp] = Cell{Value: v, Occupied: true}
	return nil
}

// Pop removes and returns the top value, leaving its cell empty.
func (s *Stack) Pop() (int64, error) {
	if s.sp < 0 {
		return 0, ErrStackUnderflow
	}
	v := s.cells[s.sp].Value
	s.cells[s.sp] = Cell{}
	s.sp--
	return v, nil
}

// Peek reads the value offset cells below the top without mutation.
// Peek(0) is the top of the stack.
func (s *Stack) Peek(offset int) (int64, error) {
	i := s.sp - offset
	if offset < 0 || i < 0 || !s.cells[i].Occupied {
		return 0, ErrStackUnderflow
	}
	return s.cells[i].Value, nil
}

// Cell returns the cell at index i.
func (s *Stack) Cell(i int) Cell {
	if i < 0 || i >= len(s.cells) {
		return Cell{}
	}
	return s.cells[i]
}

// Cells returns a copy of every cell, bottom first.
func (s *Stack) Cells() []Cell {
	out := make([]Cell, len(s.cells))
	copy(out, s.cells)
	return out
}

// Reset empties the stack without changing its capacity.
func (s *Stack) Reset() {
	for i := range s.cells {
		s.cells[i] = Cell{}
	}
	s.sp = -1
}
