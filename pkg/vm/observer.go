package vm

// Observer receives notifications after each committed transaction and for
// every rejected one. Callbacks run on the goroutine that committed; the
// engine rejects dispatch from inside a callback with ErrCommitPending.
type Observer interface {
	OnLog(op, detail string, isErr bool)
	OnRegisterChanged(name string, value int64)
	OnStackChanged(index int, cell Cell, hint string)
	OnIPChanged(ip int)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Log             func(op, detail string, isErr bool)
	RegisterChanged func(name string, value int64)
	StackChanged    func(index int, cell Cell, hint string)
	IPChanged       func(ip int)
}

func (f ObserverFuncs) OnLog(op, detail string, isErr bool) {
	if f.Log != nil {
		f.Log(op, detail, isErr)
	}
}

func (f ObserverFuncs) OnRegisterChanged(name string, value int64) {
	if f.RegisterChanged != nil {
		f.RegisterChanged(name, value)
	}
}

func (f ObserverFuncs) OnStackChanged(index int, cell Cell, hint string) {
	if f.StackChanged != nil {
		f.StackChanged(index, cell, hint)
	}
}

func (f ObserverFuncs) OnIPChanged(ip int) {
	if f.IPChanged != nil {
		f.IPChanged(ip)
	}
}

// event is one queued notification; exactly one of the payload groups is used.
type event struct {
	kind   eventKind
	op     string
	detail string
	isErr  bool
	name   string
	value  int64
	index  int
	cell   Cell
	hint   string
	ip     int
}

type eventKind uint8

const (
	eventLog eventKind = iota
	eventRegister
	eventStack
	eventIP
)

func (e event) deliver(o Observer) {
	switch e.kind {
	case eventLog:
		o.OnLog(e.op, e.detail, e.isErr)
	case eventRegister:
		o.OnRegisterChanged(e.name, e.value)
	case eventStack:
		o.OnStackChanged(e.index, e.cell, e.hint)
	case eventIP:
		o.OnIPChanged(e.ip)
	}
}
