package vm

import (
	"fmt"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

type outcome uint8

const (
	// outcomeReturned: the base frame returned and the run does not own the task.
	outcomeReturned outcome = iota
	// outcomeSettled: the task settled with a value.
	outcomeSettled
	// outcomeYielded: the task parked.
	outcomeYielded
	// outcomeFailed: a failure propagated to the boundary of the run.
	outcomeFailed
	// outcomeDone: a bounded run reached its end offset.
	outcomeDone
	// outcomeResumeUnwind: cleanup code finished, unwinding continues from frame.
	outcomeResumeUnwind
	// outcomeCanceled: cleanup code reached the end of the task.
	outcomeCanceled
	outcomeError
)

type runResult struct {
	outcome outcome
	value   value.Value
	err     error
	failed  *FailureContext
	frame   *Frame
}

func errorRun(err error) runResult {
	return runResult{outcome: outcomeError, err: err}
}

// An interpreter runs instructions in the main loop until the run ends: it is created for each run
// (invocation, task resumption, nested call from a suspension, lenient replay, cleanup code).
// Unblocked suspensions are drained before each instruction.
type interpreter struct {
	r    *Runtime
	task *Task

	frame *Frame
	pc    int
	fc    *FailureContext
	token value.Value

	// a failure of boundary or of one of its ancestors ends the run.
	boundary *FailureContext
	// returning from baseFrame ends the run.
	baseFrame *Frame
	// ownsTask is true if the run executes the body of task: it can park and settle the task.
	ownsTask bool

	// bounded runs end when execution reaches end in baseFrame.
	bounded bool
	end     int

	unwinding    bool
	failureEpoch uint64
}

func (it *interpreter) run() runResult {
	r := it.r
	if it.ownsTask {
		it.task.Running = true
		defer func() {
			it.task.Running = false
		}()
	}

	for {
		if !r.unblocked.Empty() {
			if err := r.drainSuspensions(); err != nil {
				return errorRun(err)
			}
		}

		if it.failureEpoch != r.failureEpoch {
			it.failureEpoch = r.failureEpoch
			if res, stop := it.redirectFailure(); stop {
				return res
			}
		}

		if it.bounded && it.frame == it.baseFrame && it.pc == it.end {
			return runResult{outcome: outcomeDone}
		}

		if res, stop := it.step(); stop {
			return res
		}
	}
}

// redirectFailure continues execution at the failure target of the outermost failed context
// of the current chain.
func (it *interpreter) redirectFailure() (runResult, bool) {
	failed := it.fc.outermostFailed(it.boundary)
	if failed == nil {
		return runResult{}, false
	}
	if failed == it.boundary || failed.FailurePC < 0 {
		return runResult{outcome: outcomeFailed, failed: failed}, true
	}

	it.frame = failed.Frame
	it.pc = failed.FailurePC
	it.fc = failed.Parent
	it.token = failed.IncomingEffectToken
	failed.done = true
	it.r.releaseFailureContext(failed)
	return runResult{}, false
}

func (it *interpreter) env() *execEnv {
	return &execEnv{
		r:     it.r,
		proc:  it.frame.Procedure,
		pc:    it.pc,
		frame: it.frame,
		fc:    it.fc,
		task:  it.task,
	}
}

func (it *interpreter) raise(err error) (runResult, bool) {
	return errorRun(fmt.Errorf("%s: %w", it.frame.Procedure.FormatLocation(it.pc), err)), true
}

func (it *interpreter) fail() (runResult, bool) {
	if err := it.r.failScope(it.fc); err != nil {
		return errorRun(err), true
	}
	return runResult{}, false
}

func (it *interpreter) step() (runResult, bool) {
	r := it.r
	proc := it.frame.Procedure
	if it.pc < 0 || it.pc >= len(proc.Code) {
		return it.raise(fmt.Errorf("%w: %s: no instruction at offset %d", ErrMalformedProcedure, proc.Name, it.pc))
	}
	instr := proc.Code[it.pc]

	if r.config.TraceExecution {
		r.logger.Trace().
			Str("task", it.task.ID.String()).
			Str("location", proc.FormatLocation(it.pc)).
			Msg(bytecode.FormatInstruction(proc, instr))
	}

	env := it.env()

	switch instr := instr.(type) {
	case *bytecode.Jump:
		it.pc = int(instr.Target)
	case *bytecode.JumpIfInitialized:
		if it.peek(instr.Source).IsUninitialized() {
			it.pc++
		} else {
			it.pc = int(instr.Target)
		}
	case *bytecode.JumpIfArchetype:
		v, p := env.concrete(instr.Source)
		if p != nil {
			return it.raise(fmt.Errorf("%w: %s", ErrNonConcreteOperand, instr.Opcode()))
		}
		if isArchetype(v) {
			it.pc = int(instr.Target)
		} else {
			it.pc++
		}
	case *bytecode.Switch:
		v, p := env.concrete(instr.Which)
		if p != nil {
			return it.raise(fmt.Errorf("%w: %s", ErrNonConcreteOperand, instr.Opcode()))
		}
		if !v.IsInt() || v.AsInt() < 0 || v.AsInt() >= int64(len(instr.Targets)) {
			return it.raise(fmt.Errorf("%w: invalid switch index %s", ErrTypeMismatch, v))
		}
		it.pc = int(instr.Targets[v.AsInt()])
	case *bytecode.BeginFailureContext:
		it.beginFailureContext(instr)
	case *bytecode.EndFailureContext:
		return it.endFailureContext(instr)
	case *bytecode.Return:
		return it.doReturn(env, instr)
	case *bytecode.ResumeUnwind:
		if !it.unwinding {
			return it.raise(fmt.Errorf("%w: ResumeUnwind outside of cleanup code", ErrMalformedProcedure))
		}
		return runResult{outcome: outcomeResumeUnwind, frame: it.frame}, true
	case *bytecode.Call:
		return it.call(env, instr, instr.Dest, instr.Callee, nil, instr.Arguments, instr.NamedNames, instr.NamedArguments)
	case *bytecode.CallWithSelf:
		return it.call(env, instr, instr.Dest, instr.Callee, &instr.Self, instr.Arguments, instr.NamedNames, instr.NamedArguments)
	case *bytecode.BeginTask:
		return it.beginTask(env, instr)
	case *bytecode.EndTask:
		return it.endTask(env, instr)
	case *bytecode.NewSemaphore:
		return it.handle(instr, env.defineOrFail(instr.Dest, value.FromCell(&Semaphore{})), false)
	case *bytecode.WaitSemaphore:
		return it.waitSemaphore(env, instr)
	case *bytecode.Yield:
		return it.park(instr.Dest)
	case *bytecode.Await:
		return it.await(env, instr)
	case *bytecode.Cancel:
		return it.cancel(env, instr)
	default:
		effectful := instr.Opcode().IsEffectful()
		if effectful {
			if token := it.token.Follow(); token.IsPlaceholder() {
				it.suspend(instr, token.AsPlaceholder(), true)
				it.pc++
				return runResult{}, false
			}
		}
		return it.handle(instr, env.execData(instr), effectful)
	}
	return runResult{}, false
}

// handle applies the result of an instruction that does not transfer control.
func (it *interpreter) handle(instr bytecode.Instruction, res opResult, effectful bool) (runResult, bool) {
	switch res.kind {
	case opNext:
		if effectful {
			it.token = value.EffectDone()
		}
		it.pc++
	case opSuspend:
		it.suspend(instr, res.on, effectful)
		it.pc++
	case opFail:
		return it.fail()
	case opError:
		return it.raise(res.err)
	}
	return runResult{}, false
}

// peek reads an operand without giving a placeholder to an uninitialized register.
func (it *interpreter) peek(op bytecode.Operand) value.Value {
	switch op.Kind {
	case bytecode.RegisterOperand:
		return it.frame.Get(op.Register())
	case bytecode.ConstantOperand:
		return it.frame.Procedure.Constants[op.Index]
	}
	return value.Uninitialized
}

func isArchetype(v value.Value) bool {
	if object, ok := value.CellAs[*value.Object](v); ok {
		return object.Type().IsArchetype()
	}
	if typ, ok := value.CellAs[*value.EmergentType](v); ok {
		return typ.IsArchetype()
	}
	return false
}

// suspend parks a copy of instr on p, the main loop continues with the next instruction.
// The effect token of an effectful instruction is replaced by a placeholder bound once the instruction has run.
func (it *interpreter) suspend(instr bytecode.Instruction, p *value.Placeholder, effectful bool) {
	clone, captures := capture(it.fc.journal(), it.frame, instr)
	s := &Suspension{
		Instr:     clone,
		Procedure: it.frame.Procedure,
		PC:        it.pc,
		Captures:  captures,
		FC:        it.fc,
		Task:      it.task,
	}
	if effectful {
		s.TokenIn = it.token
		s.tokenOut = value.NewPlaceholder()
		it.token = value.FromPlaceholder(s.tokenOut)
	}
	it.r.park(p, s)
}

func (it *interpreter) beginFailureContext(instr *bytecode.BeginFailureContext) {
	r := it.r
	fc := r.pool.acquire()
	fc.Parent = it.fc
	it.fc.children = append(it.fc.children, fc)
	fc.Task = it.task
	fc.Frame = it.frame
	fc.FailurePC = int(instr.OnFailure)
	fc.IncomingEffectToken = it.token

	if token := it.token.Follow(); token.IsPlaceholder() {
		//the transaction starts once the effects ordered before the scope have happened,
		//the mutations of the scope are recorded in its own log until then.
		fc.Transaction.Open()
		r.suspendLambda(fc, it.task, token.AsPlaceholder(), nil, func([]value.Value) opResult {
			if !fc.Transaction.IsStarted() {
				fc.Transaction.Start()
			}
			return next()
		})
	} else {
		fc.Transaction.Start()
	}

	it.fc = fc
	it.pc++
}

func (it *interpreter) endFailureContext(instr *bytecode.EndFailureContext) (runResult, bool) {
	r := it.r
	fc := it.fc
	if fc.Parent == nil {
		return it.raise(fmt.Errorf("%w: no failure context to end", ErrMalformedProcedure))
	}
	parent := fc.Parent

	if fc.SuspensionCount == 0 {
		it.fc = parent
		it.pc++

		if token := it.token.Follow(); token.IsPlaceholder() {
			fc.escape()
			r.suspendLambda(parent, it.task, token.AsPlaceholder(), nil, func([]value.Value) opResult {
				if !fc.Failed {
					fc.Transaction.Commit(parent.activeTransaction())
					fc.done = true
				}
				return next()
			})
			return runResult{}, false
		}

		fc.Transaction.Commit(parent.activeTransaction())
		fc.done = true
		r.releaseFailureContext(fc)
		return runResult{}, false
	}

	//lenient end: execution continues at the join point while the scope waits for its suspensions,
	//the then body is replayed on a snapshot of the frame once they have all run.
	fc.ExecutedEnd = true
	fc.ThenPC = it.pc + 1
	fc.DonePC = int(instr.Done)
	fc.BeforeThenEffectToken = it.token

	defined := definedRegisters(it.frame.Procedure, fc.ThenPC, fc.DonePC)
	for _, r := range defined {
		it.frame.RestValue(parent.journal(), r)
	}
	fc.ReplayFrame = it.frame.CloneWithoutCaller()
	fc.ElseFrame = it.frame.CloneWithoutCaller()
	fc.Transaction.undoRegisterWrites(it.frame, fc.ElseFrame)
	for _, r := range defined {
		if fc.ElseFrame.Registers[r].IsUninitialized() {
			fc.ElseFrame.Registers[r] = fc.ReplayFrame.Registers[r]
		}
	}

	fc.DoneEffectToken = value.FromPlaceholder(value.NewPlaceholder())
	it.token = fc.DoneEffectToken

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", it.task.ID.String()).
			Int("pending", fc.SuspensionCount).
			Str("location", it.frame.Procedure.FormatLocation(it.pc)).
			Msg("failure context ended leniently")
	}

	it.fc = parent
	it.pc = fc.DonePC
	return runResult{}, false
}

func (it *interpreter) doReturn(env *execEnv, instr *bytecode.Return) (runResult, bool) {
	v := env.read(instr.Value)
	frame := it.frame

	if it.unwinding {
		return runResult{outcome: outcomeResumeUnwind, frame: frame}, true
	}

	if frame == it.baseFrame || frame.Caller == nil {
		if it.bounded {
			return it.raise(ErrInvalidReturn)
		}
		if it.ownsTask {
			if err := it.r.settle(it.task, v); err != nil {
				return errorRun(err), true
			}
			return runResult{outcome: outcomeSettled, value: v}, true
		}
		return runResult{outcome: outcomeReturned, value: v}, true
	}

	it.frame = frame.Caller
	it.pc = frame.ReturnPC
	if !it.env().define(frame.ReturnSlot, v) {
		return it.fail()
	}
	return runResult{}, false
}

func (it *interpreter) call(
	env *execEnv, instr bytecode.Instruction,
	dest, calleeOp bytecode.Operand, selfOp *bytecode.Operand,
	argOps []bytecode.Operand, names []string, namedOps []bytecode.Operand,
) (runResult, bool) {
	call, res := env.prepareCall(calleeOp, selfOp, argOps, names, namedOps)
	if call == nil {
		return it.handle(instr, res, true)
	}

	switch callee := call.callee.(type) {
	case *Function:
		if it.frame.Depth >= it.r.config.MaxFrames {
			return it.raise(fmt.Errorf("%w: more than %d frames", ErrStackOverflow, it.r.config.MaxFrames))
		}
		frame := newFrame(callee.Procedure, it.frame, it.pc+1, dest)
		if err := call.bind(frame); err != nil {
			return it.raise(err)
		}
		it.frame = frame
		it.pc = 0
		return runResult{}, false
	case *NativeFunction:
		if token := it.token.Follow(); token.IsPlaceholder() {
			it.suspend(instr, token.AsPlaceholder(), true)
			it.pc++
			return runResult{}, false
		}
		return it.callNative(env, callee, call, dest)
	}
	return it.raise(ErrNotCallable)
}

func (it *interpreter) callNative(env *execEnv, callee *NativeFunction, call *preparedCall, dest bytecode.Operand) (runResult, bool) {
	it.fc.escape()
	ctx := &NativeContext{
		Runtime: it.r,
		Task:    it.task,
		fc:      it.fc,
		token:   it.token,
	}

	result := callee.Fn(ctx, call.self, call.args, call.named)
	switch result.Kind {
	case NativeReturn:
		return it.handle(nil, env.defineOrFail(dest, result.Value), true)
	case NativeYield:
		return it.park(dest)
	case NativeFail:
		return it.fail()
	}
	return it.raise(fmt.Errorf("%s: %w", callee.Name, result.Err))
}
