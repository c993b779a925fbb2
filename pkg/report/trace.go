package report

import (
	"fmt"
	"sync"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/stackvm/pkg/vm"
)

// Event kinds recorded in a trace.
const (
	EventLog      = "log"
	EventError    = "error"
	EventRegister = "register"
	EventStack    = "stack"
	EventIP       = "ip"
)

// TraceRow is one observer notification.
type TraceRow struct {
	Seq    int64
	Event  string
	Op     string // mnemonic of the transaction that produced the row
	Target string // register name or stack[i]
	Value  *int64
	Detail string
}

// Recorder is a vm.Observer that keeps every notification in order.
// The zero value is ready to use.
type Recorder struct {
	mu     sync.Mutex
	rows   []TraceRow
	lastOp string
	limit  int
}

// NewRecorder returns a Recorder that keeps at most limit rows, dropping the
// oldest first. A limit of 0 keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) add(row TraceRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row.Op == "" {
		row.Op = r.lastOp
	}
	if n := len(r.rows); n > 0 {
		row.Seq = r.rows[n-1].Seq + 1
	}
	r.rows = append(r.rows, row)
	if r.limit > 0 && len(r.rows) > r.limit {
		r.rows = append(r.rows[:0:0], r.rows[len(r.rows)-r.limit:]...)
	}
}

// OnLog implements vm.Observer. The log line opens every committed
// transaction, so later register and stack rows inherit its mnemonic.
func (r *Recorder) OnLog(op, detail string, isErr bool) {
	event := EventLog
	if isErr {
		event = EventError
	}
	r.mu.Lock()
	r.lastOp = op
	r.mu.Unlock()
	r.add(TraceRow{Event: event, Op: op, Detail: detail})
}

// OnRegisterChanged implements vm.Observer.
func (r *Recorder) OnRegisterChanged(name string, value int64) {
	r.add(TraceRow{Event: EventRegister, Target: name, Value: &value, Detail: vm.FormatValue(value)})
}

// OnStackChanged implements vm.Observer.
func (r *Recorder) OnStackChanged(index int, cell vm.Cell, hint string) {
	row := TraceRow{Event: EventStack, Target: fmt.Sprintf("stack[%d]", index), Detail: hint}
	if cell.Occupied {
		v := cell.Value
		row.Value = &v
	}
	r.add(row)
}

// OnIPChanged implements vm.Observer.
func (r *Recorder) OnIPChanged(ip int) {
	v := int64(ip)
	r.add(TraceRow{Event: EventIP, Target: "IP", Value: &v})
}

// Rows returns a copy of the recorded rows.
func (r *Recorder) Rows() []TraceRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceRow(nil), r.rows...)
}

// Len returns the number of recorded rows.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Clear drops every recorded row.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = nil
	r.lastOp = ""
}

// Frame returns the trace as a DataFrame with columns
// seq, event, op, target, value and detail.
func (r *Recorder) Frame() *dataframe.DataFrame {
	return TraceFrame(r.Rows())
}

// TraceFrame converts rows to a DataFrame.
func TraceFrame(rows []TraceRow) *dataframe.DataFrame {
	seqs := make([]interface{}, 0, len(rows))
	events := make([]interface{}, 0, len(rows))
	ops := make([]interface{}, 0, len(rows))
	targets := make([]interface{}, 0, len(rows))
	values := make([]interface{}, 0, len(rows))
	details := make([]interface{}, 0, len(rows))

	for _, row := range rows {
		seqs = append(seqs, row.Seq)
		events = append(events, row.Event)
		ops = append(ops, row.Op)
		targets = append(targets, row.Target)
		if row.Value != nil {
			values = append(values, *row.Value)
		} else {
			values = append(values, nil)
		}
		details = append(details, row.Detail)
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64("seq", nil, seqs...),
		dataframe.NewSeriesString("event", nil, events...),
		dataframe.NewSeriesString("op", nil, ops...),
		dataframe.NewSeriesString("target", nil, targets...),
		dataframe.NewSeriesInt64("value", nil, values...),
		dataframe.NewSeriesString("detail", nil, details...),
	)
}
