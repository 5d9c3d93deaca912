package vm

import (
	"fmt"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

func (it *interpreter) beginTask(env *execEnv, instr *bytecode.BeginTask) (runResult, bool) {
	r := it.r

	var parent *Task
	if instr.Attached {
		parent = it.task
	}
	child := r.newTask(parent)
	child.baseFrame = it.frame
	child.rootFC = r.newRootFailureContext(child, it.frame)
	env.clobber(instr.Dest, value.FromCell(child))

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", child.ID.String()).Str("spawner", it.task.ID.String()).Msg("task started")
	}

	body := &interpreter{
		r:            r,
		task:         child,
		frame:        it.frame,
		pc:           it.pc + 1,
		fc:           child.rootFC,
		token:        it.token,
		boundary:     child.rootFC,
		baseFrame:    it.frame,
		ownsTask:     true,
		failureEpoch: r.failureEpoch,
	}

	res := body.run()
	switch res.outcome {
	case outcomeError:
		return res, true
	case outcomeFailed:
		return it.raise(fmt.Errorf("%w: %s", ErrUncaughtTaskFailure, child))
	}

	it.token = body.token
	it.pc = int(instr.OnYield)
	return runResult{}, false
}

func (it *interpreter) endTask(env *execEnv, instr *bytecode.EndTask) (runResult, bool) {
	v := env.read(instr.Value)
	if it.unwinding {
		return runResult{outcome: outcomeCanceled}, true
	}
	if !it.ownsTask {
		return it.raise(fmt.Errorf("%w: EndTask outside of a task body", ErrMalformedProcedure))
	}

	if instr.Write.IsRegister() && it.frame.Get(instr.Write.Register()).IsUninitialized() {
		env.clobber(instr.Write, v)
	}

	var sem *Semaphore
	if !instr.Signal.IsNone() {
		s, p := env.concrete(instr.Signal)
		if p != nil {
			return it.raise(fmt.Errorf("%w: %s", ErrNonConcreteOperand, instr.Opcode()))
		}
		var ok bool
		sem, ok = value.CellAs[*Semaphore](s)
		if !ok {
			return it.raise(fmt.Errorf("%w: %s is not a semaphore", ErrTypeMismatch, s))
		}
	}

	if err := it.r.settle(it.task, v); err != nil {
		return errorRun(err), true
	}
	if sem != nil {
		if err := it.r.signal(sem); err != nil {
			return errorRun(err), true
		}
	}
	return runResult{outcome: outcomeSettled, value: v}, true
}

func (it *interpreter) waitSemaphore(env *execEnv, instr *bytecode.WaitSemaphore) (runResult, bool) {
	s, p := env.concrete(instr.Semaphore)
	if p != nil {
		return it.raise(fmt.Errorf("%w: %s", ErrNonConcreteOperand, instr.Opcode()))
	}
	sem, ok := value.CellAs[*Semaphore](s)
	if !ok {
		return it.raise(fmt.Errorf("%w: %s is not a semaphore", ErrTypeMismatch, s))
	}
	if err := it.checkCanPark(); err != nil {
		return it.raise(err)
	}

	sem.count -= instr.Count
	if sem.count >= 0 {
		it.pc++
		return runResult{}, false
	}
	sem.waiter = it.task
	return it.park(bytecode.NoOperand)
}

func (it *interpreter) await(env *execEnv, instr *bytecode.Await) (runResult, bool) {
	target, res, stop := it.taskOperand(env, instr.Task, instr.Opcode())
	if stop {
		return res, true
	}
	if target.abandoned {
		return it.raise(fmt.Errorf("%w: %s", ErrAbandonedTask, target))
	}
	if target.settled {
		return it.handle(instr, env.defineOrFail(instr.Dest, target.result), false)
	}
	if err := it.checkCanPark(); err != nil {
		return it.raise(err)
	}
	target.addWaiter(it.task)
	return it.park(instr.Dest)
}

func (it *interpreter) cancel(env *execEnv, instr *bytecode.Cancel) (runResult, bool) {
	target, res, stop := it.taskOperand(env, instr.Task, instr.Opcode())
	if stop {
		return res, true
	}
	if target.abandoned {
		return it.raise(fmt.Errorf("%w: %s", ErrAbandonedTask, target))
	}
	if err := it.checkCanPark(); err != nil {
		return it.raise(err)
	}

	if target == it.task {
		if target.Phase == Active {
			target.Phase = CancelRequested
		}
		return it.park(bytecode.NoOperand)
	}

	if !target.settled {
		if err := it.r.requestCancel(target); err != nil {
			return errorRun(err), true
		}
	}
	if target.settled {
		it.pc++
		return runResult{}, false
	}
	target.addWaiter(it.task)
	return it.park(bytecode.NoOperand)
}

func (it *interpreter) taskOperand(env *execEnv, op bytecode.Operand, opcode bytecode.Opcode) (*Task, runResult, bool) {
	v, p := env.concrete(op)
	if p != nil {
		res, _ := it.raise(fmt.Errorf("%w: %s", ErrNonConcreteOperand, opcode))
		return nil, res, true
	}
	task, ok := value.CellAs[*Task](v)
	if !ok {
		res, _ := it.raise(fmt.Errorf("%w: %s is not a task", ErrTypeMismatch, v))
		return nil, res, true
	}
	return task, runResult{}, false
}

func (it *interpreter) checkCanPark() error {
	if !it.ownsTask {
		return ErrYieldInSuspension
	}
	if it.unwinding {
		return ErrYieldDuringUnwind
	}
	return nil
}

// park saves the resume point of the task after the current instruction and ends the run.
// dest is defined with the value the task is resumed with.
func (it *interpreter) park(dest bytecode.Operand) (runResult, bool) {
	if err := it.checkCanPark(); err != nil {
		return it.raise(err)
	}

	t := it.task
	t.resume = &resumePoint{
		frame: it.frame,
		pc:    it.pc + 1,
		fc:    it.fc,
		token: it.token,
		dest:  dest,
	}
	it.fc.escape()
	t.Running = false

	if e := it.r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", t.ID.String()).Str("location", it.frame.Procedure.FormatLocation(it.pc)).Msg("task parked")
	}

	if t.Phase == CancelRequested {
		if err := it.r.startCancel(t); err != nil {
			return errorRun(err), true
		}
	}
	return runResult{outcome: outcomeYielded}, true
}

// resumeTask continues a parked task, the destination of its resume point is defined with v.
func (r *Runtime) resumeTask(t *Task, v value.Value) runResult {
	rp := t.resume
	t.resume = nil

	//the chain of the resume point may have failed while the task was parked.
	it := &interpreter{
		r:            r,
		task:         t,
		frame:        rp.frame,
		pc:           rp.pc,
		fc:           rp.fc,
		token:        rp.token,
		boundary:     t.rootFC,
		baseFrame:    t.baseFrame,
		ownsTask:     true,
		failureEpoch: r.failureEpoch - 1,
	}

	env := &execEnv{r: r, proc: rp.frame.Procedure, pc: rp.pc - 1, frame: rp.frame, fc: rp.fc, task: t}
	if !env.define(rp.dest, v) {
		if err := r.failScope(rp.fc); err != nil {
			return errorRun(err)
		}
	}
	return it.run()
}

// wake resumes a task parked on another task or on a semaphore.
func (r *Runtime) wake(t *Task, v value.Value) error {
	if t.isDone() || t.Running || t.resume == nil {
		return nil
	}
	switch t.Phase {
	case Active:
	case CancelRequested:
		return r.startCancel(t)
	default:
		return nil
	}

	res := r.resumeTask(t, v)
	switch res.outcome {
	case outcomeError:
		r.abandon(t, res.err)
		return res.err
	case outcomeFailed:
		err := fmt.Errorf("%w: %s", ErrUncaughtTaskFailure, t)
		r.abandon(t, err)
		return err
	}
	return nil
}

func (r *Runtime) signal(sem *Semaphore) error {
	sem.count++
	if sem.count == 0 && sem.waiter != nil {
		waiter := sem.waiter
		sem.waiter = nil
		return r.wake(waiter, value.Uninitialized)
	}
	return nil
}

// settle stores the result of a task and wakes the tasks waiting for it.
func (r *Runtime) settle(t *Task, v value.Value) error {
	if t.settled {
		return nil
	}
	t.settled = true
	t.result = v
	t.resume = nil

	if fc := t.rootFC; fc != nil && fc.Transaction.IsActive() && fc.SuspensionCount == 0 {
		fc.Transaction.Commit(nil)
	}
	if t.resultPlaceholder != nil {
		value.Bind(nil, t.resultPlaceholder, v, r.fire)
	}
	r.tasks.Remove(t.ID.String())

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", t.ID.String()).Str("result", v.String()).Msg("task settled")
	}
	return r.taskFinished(t)
}

// taskFinished wakes the waiters of a settled or canceled task, most recently registered first,
// then notifies the parent if it waits for the cancellation of its children.
func (r *Runtime) taskFinished(t *Task) error {
	waiters := t.waiters
	t.waiters = nil
	for _, waiter := range waiters {
		if err := r.wake(waiter, t.result); err != nil {
			return err
		}
	}

	parent := t.Parent
	if parent == nil || !t.cancelCounted || parent.Phase != CancelStarted {
		return nil
	}
	t.cancelCounted = false
	parent.pendingChildren--
	if parent.pendingChildren == 0 && !parent.cancelingChildren {
		return r.unwindTask(parent)
	}
	return nil
}

// requestCancel moves an active task to CancelRequested. A parked task starts canceling
// immediately, a running task starts once it reaches a suspension point.
func (r *Runtime) requestCancel(t *Task) error {
	if t.isDone() || t.Phase != Active {
		return nil
	}
	t.Phase = CancelRequested

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", t.ID.String()).Msg("cancellation requested")
	}

	if t.Running || t.resume == nil {
		return nil
	}
	return r.startCancel(t)
}

// startCancel requests the cancellation of the children of t, most recent first. The task
// starts unwinding once all of them are settled or canceled.
func (r *Runtime) startCancel(t *Task) error {
	t.Phase = CancelStarted

	t.cancelingChildren = true
	for i := len(t.children) - 1; i >= 0; i-- {
		child := t.children[i]
		if child.isDone() {
			continue
		}
		child.cancelCounted = true
		t.pendingChildren++
		if err := r.requestCancel(child); err != nil {
			t.cancelingChildren = false
			return err
		}
	}
	t.cancelingChildren = false

	if t.pendingChildren > 0 {
		return nil
	}
	return r.unwindTask(t)
}

// unwindTask runs the defer hooks of t then its cleanup code, frame by frame, starting at
// its resume point.
func (r *Runtime) unwindTask(t *Task) error {
	t.Phase = CancelUnwind

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", t.ID.String()).Msg("task unwinding")
	}

	hooks := t.deferHooks
	t.deferHooks = nil
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	rp := t.resume
	t.resume = nil
	if rp == nil {
		return r.finishCancel(t)
	}

	frame, pc, token := rp.frame, rp.pc, rp.token
	for {
		edge, ok := unwindEdgeCovering(frame.Procedure, pc)
		if !ok {
			panic(fmt.Errorf("%w: %s", ErrMissingUnwindEdge, frame.Procedure.FormatLocation(pc)))
		}

		it := &interpreter{
			r:            r,
			task:         t,
			frame:        frame,
			pc:           int(edge.OnUnwind),
			fc:           t.rootFC,
			token:        token,
			boundary:     t.rootFC,
			baseFrame:    t.baseFrame,
			ownsTask:     true,
			unwinding:    true,
			failureEpoch: r.failureEpoch,
		}

		res := it.run()
		switch res.outcome {
		case outcomeCanceled:
			return r.finishCancel(t)
		case outcomeResumeUnwind:
			left := res.frame
			if left == t.baseFrame || left.Caller == nil {
				return r.finishCancel(t)
			}
			frame, pc, token = left.Caller, left.ReturnPC, it.token
		case outcomeError:
			return res.err
		case outcomeFailed:
			return fmt.Errorf("%w: %s", ErrUncaughtTaskFailure, t)
		default:
			return fmt.Errorf("%w: %s", ErrYieldDuringUnwind, t)
		}
	}
}

func unwindEdgeCovering(proc *bytecode.Procedure, pc int) (bytecode.UnwindEdge, bool) {
	for _, edge := range proc.UnwindEdges {
		if edge.Covers(pc) {
			return edge, true
		}
	}
	return bytecode.UnwindEdge{}, false
}

func (r *Runtime) finishCancel(t *Task) error {
	t.Phase = Canceled
	t.settled = true
	t.result = value.False()
	t.resume = nil

	if t.resultPlaceholder != nil {
		value.Bind(nil, t.resultPlaceholder, t.result, r.fire)
	}
	r.tasks.Remove(t.ID.String())

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", t.ID.String()).Msg("task canceled")
	}
	return r.taskFinished(t)
}

// abandon stops a task whose execution raised an error. Its failure contexts are left as they are,
// its unfinished children are abandoned too and the tasks waiting for it are not woken.
func (r *Runtime) abandon(t *Task, err error) {
	if t.isDone() {
		return
	}
	t.abandoned = true
	t.err = err
	t.resume = nil
	t.waiters = nil
	r.tasks.Remove(t.ID.String())

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", t.ID.String()).Err(err).Msg("task abandoned")
	}

	for _, child := range t.children {
		r.abandon(child, err)
	}
}
