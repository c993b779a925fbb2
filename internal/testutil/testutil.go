// Package testutil provides testing utilities for stackvm tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/akhildatla/stackvm/pkg/report"
	"github.com/akhildatla/stackvm/pkg/vm"
)

// TempFile creates a temporary file with the given content and extension.
// The file is automatically cleaned up when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// TempScript writes a statement script and returns its path.
func TempScript(t *testing.T, content string) string {
	t.Helper()
	return TempFile(t, content, ".svm")
}

// SquareScript returns a script that leaves 144 on the stack.
func SquareScript() string {
	return `SET B 12
GLD B
GLD B
MUL
HLT`
}

// CountdownHex returns the hex encoding of a loop that counts A from 3 to 0:
//
//	0000: SET A 3
//	0003: GLD A
//	0005: PSH 1
//	0007: SUB
//	0008: GPT A
//	0010: POP
//	0011: IFN A 0 3
//	0015: HLT
func CountdownHex() string {
	return "090003 0D00 0101 06 0E00 02 0C000003 00"
}

// NewRecordingVM creates an engine with a trace recorder attached.
func NewRecordingVM(opts ...vm.Option) (*vm.VM, *report.Recorder) {
	rec := report.NewRecorder(0)
	return vm.NewVM(append(opts, vm.WithObserver(rec))...), rec
}

// CellValues returns the occupied stack cells, bottom first.
func CellValues(snap vm.Snapshot) []int64 {
	values := make([]int64, 0, snap.SP+1)
	for i := 0; i <= snap.SP && i < len(snap.Cells); i++ {
		values = append(values, snap.Cells[i].Value)
	}
	return values
}

// AssertInt64Equal checks if two int64 values are equal.
func AssertInt64Equal(t *testing.T, expected, actual int64) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %d, got %d", expected, actual)
	}
}
