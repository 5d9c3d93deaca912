package vm

import (
	"github.com/oklog/ulid/v2"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

// CancelPhase is the cancellation state of a task, it only moves forward.
type CancelPhase uint8

const (
	Active CancelPhase = iota
	CancelRequested
	CancelStarted
	CancelUnwind
	Canceled
)

func (p CancelPhase) String() string {
	switch p {
	case Active:
		return "active"
	case CancelRequested:
		return "cancel-requested"
	case CancelStarted:
		return "cancel-started"
	case CancelUnwind:
		return "cancel-unwind"
	case Canceled:
		return "canceled"
	}
	return "?"
}

// A resumePoint is where a parked task continues when it is resumed.
type resumePoint struct {
	frame *Frame
	pc    int
	fc    *FailureContext
	token value.Value
	// dest is defined in frame with the value the task is resumed with, it may be NoOperand.
	dest bytecode.Operand
}

// A Task is a cooperatively scheduled unit of structured concurrency. Tasks started by BeginTask
// run their body in the frame of the spawner.
type Task struct {
	ID ulid.ULID

	Running bool
	Phase   CancelPhase

	Parent   *Task
	children []*Task

	rootFC    *FailureContext
	baseFrame *Frame
	resume    *resumePoint

	settled bool
	result  value.Value
	// abandoned tasks stopped because of an error, they are never settled.
	abandoned bool
	err       error
	// resultPlaceholder is created when the result is requested before settlement.
	resultPlaceholder *value.Placeholder

	// waiters are the parked tasks awaiting or canceling the task, most recently registered first.
	waiters []*Task

	deferHooks []func()

	// pendingChildren is the number of children whose cancellation is awaited.
	pendingChildren   int
	cancelingChildren bool
	// cancelCounted is true if the parent counts the task in its pending children.
	cancelCounted bool
}

func (*Task) TypeName() string {
	return "task"
}

func (t *Task) String() string {
	return "task " + t.ID.String()
}

// IsSettled reports whether the task produced a result or finished canceling.
func (t *Task) IsSettled() bool {
	return t.settled
}

// IsAbandoned reports whether the task stopped because of an error.
func (t *Task) IsAbandoned() bool {
	return t.abandoned
}

// Err returns the error that stopped an abandoned task.
func (t *Task) Err() error {
	return t.err
}

// isDone reports whether the task cannot be driven forward anymore.
func (t *Task) isDone() bool {
	return t.settled || t.abandoned
}

func (t *Task) IsCanceled() bool {
	return t.Phase == Canceled
}

// IsParked reports whether the task waits to be resumed.
func (t *Task) IsParked() bool {
	return t.resume != nil
}

func (t *Task) Children() []*Task {
	return t.children
}

// Result returns the result of the task. If the task is not settled yet the returned value is a placeholder
// bound on settlement.
func (t *Task) Result() value.Value {
	if t.settled {
		return t.result
	}
	if t.resultPlaceholder == nil {
		t.resultPlaceholder = value.NewPlaceholder()
	}
	return value.FromPlaceholder(t.resultPlaceholder)
}

func (t *Task) addWaiter(waiter *Task) {
	t.waiters = append([]*Task{waiter}, t.waiters...)
}

// A Semaphore counts signals; a task waiting for n signals is resumed once the count gets back to zero.
type Semaphore struct {
	count  int
	waiter *Task
}

func (*Semaphore) TypeName() string {
	return "semaphore"
}

func (s *Semaphore) Count() int {
	return s.count
}
