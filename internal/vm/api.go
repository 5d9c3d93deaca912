package vm

import (
	"fmt"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

type Status uint8

const (
	StatusReturn Status = iota
	StatusFail
	StatusYield
	StatusError
	// StatusIgnored is returned by Resume and Unwind when the task cannot be driven forward.
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusReturn:
		return "return"
	case StatusFail:
		return "fail"
	case StatusYield:
		return "yield"
	case StatusError:
		return "error"
	case StatusIgnored:
		return "ignored"
	}
	return "?"
}

// A Result is the outcome of a public operation of the runtime.
type Result struct {
	Status Status
	// Value is the returned value. After a yield it is a placeholder bound once the task settles.
	Value value.Value
	Err   error
	Task  *Task
}

// entryProcedure is the bottom frame of invocations and spawned tasks: the callee returns into r0,
// which is then returned. Canceling a task parked in a native callee unwinds through its return.
var entryProcedure = func() *bytecode.Procedure {
	b := bytecode.NewBuilder("<entry>", 0)
	b.Emit(&bytecode.Tracepoint{Name: "entry"})
	b.Emit(&bytecode.Return{Value: b.Self()})
	b.UnwindEdge(0, 1, 1)
	return b.MustBuild()
}()

// Invoke runs callee to completion or until it yields. Self is the self value of the function, if any.
func (r *Runtime) Invoke(callee value.Value, args []value.Value, named map[string]value.Value) Result {
	return r.start(r.newTask(nil), callee, nil, args, named)
}

// InvokeWithSelf is like Invoke but overrides the self value of the callee.
func (r *Runtime) InvokeWithSelf(callee value.Value, self value.Value, args []value.Value, named map[string]value.Value) Result {
	return r.start(r.newTask(nil), callee, &self, args, named)
}

// Spawn creates a task running callee. Spawn returns once the task has settled or reached its first suspension point.
func (r *Runtime) Spawn(callee value.Value, args []value.Value, named map[string]value.Value) (*Task, Result) {
	t := r.newTask(nil)
	return t, r.start(t, callee, nil, args, named)
}

// Resume continues a parked task, the instruction that parked it receives v.
// Resuming a settled, abandoned, running or canceling task is ignored.
func (r *Runtime) Resume(t *Task, v value.Value) Result {
	if t.isDone() || t.Phase != Active || t.Running || t.resume == nil {
		return Result{Status: StatusIgnored, Task: t}
	}
	return r.result(t, r.resumeTask(t, v))
}

// Unwind cancels a task. If the task is parked its children are canceled and its cleanup code runs
// before Unwind returns, a running task starts canceling at its next suspension point.
func (r *Runtime) Unwind(t *Task) Result {
	if t.isDone() || t.Phase != Active {
		return Result{Status: StatusIgnored, Task: t}
	}
	if err := r.requestCancel(t); err != nil {
		r.abandon(t, err)
		return Result{Status: StatusError, Err: err, Task: t}
	}
	if err := r.drainSuspensions(); err != nil {
		r.abandon(t, err)
		return Result{Status: StatusError, Err: err, Task: t}
	}
	if t.settled {
		return Result{Status: StatusReturn, Value: t.result, Task: t}
	}
	return Result{Status: StatusYield, Value: t.Result(), Task: t}
}

func (r *Runtime) start(t *Task, callee value.Value, self *value.Value, args []value.Value, named map[string]value.Value) Result {
	entry := newFrame(entryProcedure, nil, -1, bytecode.NoOperand)
	t.baseFrame = entry
	t.rootFC = r.newRootFailureContext(t, entry)

	it := &interpreter{
		r:            r,
		task:         t,
		frame:        entry,
		pc:           1,
		fc:           t.rootFC,
		token:        value.EffectDone(),
		boundary:     t.rootFC,
		baseFrame:    entry,
		ownsTask:     true,
		failureEpoch: r.failureEpoch,
	}

	calleeValue := callee.Follow()
	if !calleeValue.IsCell() {
		return r.result(t, errorRun(fmt.Errorf("%w: %s", ErrNotCallable, calleeValue)))
	}

	call := &preparedCall{callee: calleeValue.AsCell(), args: args, named: named}

	switch fn := call.callee.(type) {
	case *Function:
		call.self = fn.Self
		if self != nil {
			call.self = *self
		}
		frame := newFrame(fn.Procedure, entry, 1, bytecode.Reg(bytecode.RegisterSelf))
		if err := call.bind(frame); err != nil {
			return r.result(t, errorRun(err))
		}
		it.frame = frame
		it.pc = 0
	case *NativeFunction:
		if self != nil {
			call.self = *self
		}
		//the native function is called as if from the first instruction of the entry procedure.
		it.pc = 0
		res, stop := it.callNative(it.env(), fn, call, bytecode.Reg(bytecode.RegisterSelf))
		if stop {
			return r.result(t, res)
		}
	default:
		return r.result(t, errorRun(fmt.Errorf("%w: %s", ErrNotCallable, calleeValue)))
	}

	return r.result(t, it.run())
}

// result converts the outcome of a run of the body of t, pending unblocked suspensions are drained first.
func (r *Runtime) result(t *Task, res runResult) Result {
	if res.outcome != outcomeError {
		if err := r.drainSuspensions(); err != nil {
			res = errorRun(err)
		}
	}

	switch res.outcome {
	case outcomeSettled, outcomeReturned:
		return Result{Status: StatusReturn, Value: res.value, Task: t}
	case outcomeYielded:
		if t.settled {
			return Result{Status: StatusReturn, Value: t.result, Task: t}
		}
		return Result{Status: StatusYield, Value: t.Result(), Task: t}
	case outcomeFailed:
		if err := r.settle(t, value.False()); err != nil {
			r.abandon(t, err)
			return Result{Status: StatusError, Err: err, Task: t}
		}
		return Result{Status: StatusFail, Task: t}
	}
	r.abandon(t, res.err)
	return Result{Status: StatusError, Err: res.err, Task: t}
}

// Bind binds a placeholder created outside of the interpreter, for instance returned by a native
// function, and runs the suspensions it unblocks.
func (r *Runtime) Bind(p *value.Placeholder, v value.Value) error {
	if p.IsBound() {
		return value.ErrPlaceholderAlreadyBound
	}
	value.Bind(nil, p, v, r.fire)
	return r.drainSuspensions()
}
