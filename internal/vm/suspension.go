package vm

import (
	"fmt"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

// A Suspension is an instruction whose execution waits for a placeholder to become concrete.
// The register operands of Instr are replaced by captured operands so that the instruction
// can run without the frame it was suspended in.
type Suspension struct {
	Instr     bytecode.Instruction
	Procedure *bytecode.Procedure
	PC        int
	Captures  []value.Value

	// TokenIn is the effect token the instruction waits for, tokenOut is bound
	// once the effect of the instruction has happened. They are only set for effectful instructions.
	TokenIn  value.Value
	tokenOut *value.Placeholder

	FC   *FailureContext
	Task *Task

	lambda func(captures []value.Value) opResult
}

func (s *Suspension) String() string {
	if s.lambda != nil {
		return fmt.Sprintf("suspended lambda (%d captures)", len(s.Captures))
	}
	return fmt.Sprintf("suspended %s at %s", s.Instr.Opcode(), s.Procedure.FormatLocation(s.PC))
}

func (s *Suspension) isEffectful() bool {
	return s.tokenOut != nil
}

// capture clones instr and moves the values of its register operands to the capture list of the suspension.
func capture(j value.Journal, frame *Frame, instr bytecode.Instruction) (bytecode.Instruction, []value.Value) {
	clone := instr.Clone()
	var captures []value.Value

	clone.ForEachOperand(func(role bytecode.Role, op *bytecode.Operand) {
		if !op.IsRegister() {
			return
		}
		captures = append(captures, frame.RestValue(j, op.Register()))
		*op = bytecode.Captured(len(captures) - 1)
	})
	return clone, captures
}

func (r *Runtime) park(p *value.Placeholder, s *Suspension) {
	s.FC.SuspensionCount++
	s.FC.escape()
	p.Enqueue(s.FC.journal(), s)

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", s.Task.ID.String()).Msg(s.String())
	}
}

// suspendLambda runs fn in the suspension loop once p is concrete. fn counts as a pending suspension of fc.
func (r *Runtime) suspendLambda(fc *FailureContext, task *Task, p *value.Placeholder, captures []value.Value, fn func(captures []value.Value) opResult) {
	r.park(p, &Suspension{
		Captures: captures,
		FC:       fc,
		Task:     task,
		lambda:   fn,
	})
}

// fire is called with the waiters of a placeholder when it is bound.
func (r *Runtime) fire(w value.Waiter) {
	r.unblocked.Enqueue(w.(*Suspension))
}

// drainSuspensions runs the unblocked suspensions in FIFO order until the queue is empty.
func (r *Runtime) drainSuspensions() error {
	for {
		s, ok := r.unblocked.Dequeue()
		if !ok {
			return nil
		}
		fc := s.FC
		if fc.Failed {
			continue
		}

		res := r.runSuspension(s)

		switch res.kind {
		case opSuspend:
			res.on.Enqueue(fc.journal(), s)
			continue
		case opError:
			return res.err
		case opFail:
			fc.SuspensionCount--
			if err := r.failScope(fc); err != nil {
				return err
			}
			continue
		}

		fc.SuspensionCount--
		if fc.SuspensionCount == 0 && fc.ExecutedEnd && !fc.Failed && !fc.done {
			if err := r.completeLenient(fc); err != nil {
				return err
			}
		}
	}
}

func (r *Runtime) runSuspension(s *Suspension) opResult {
	if s.lambda != nil {
		return s.lambda(s.Captures)
	}

	if s.isEffectful() {
		if token := s.TokenIn.Follow(); token.IsPlaceholder() {
			return suspend(token.AsPlaceholder())
		}
	}

	env := &execEnv{
		r:        r,
		proc:     s.Procedure,
		pc:       s.PC,
		captures: s.Captures,
		fc:       s.FC,
		task:     s.Task,
	}

	var res opResult
	outToken := value.EffectDone()

	switch instr := s.Instr.(type) {
	case *bytecode.Call:
		res, outToken = r.callFromSuspension(env, s, instr.Dest, instr.Callee, nil, instr.Arguments, instr.NamedNames, instr.NamedArguments)
	case *bytecode.CallWithSelf:
		res, outToken = r.callFromSuspension(env, s, instr.Dest, instr.Callee, &instr.Self, instr.Arguments, instr.NamedNames, instr.NamedArguments)
	default:
		res = env.execData(s.Instr)
	}

	if res.kind == opError {
		res.err = fmt.Errorf("%s: %w", s.Procedure.FormatLocation(s.PC), res.err)
	}

	if res.kind == opNext && s.isEffectful() {
		value.Bind(env.journal(), s.tokenOut, outToken, r.fire)
	}
	return res
}

// callFromSuspension performs a call whose callee or effect token was not concrete when it was first reached.
// The callee runs to completion in a nested interpreter, it returns the effect token after the call.
func (r *Runtime) callFromSuspension(
	env *execEnv, s *Suspension,
	dest, calleeOp bytecode.Operand, selfOp *bytecode.Operand,
	argOps []bytecode.Operand, names []string, namedOps []bytecode.Operand,
) (opResult, value.Value) {
	call, res := env.prepareCall(calleeOp, selfOp, argOps, names, namedOps)
	if call == nil {
		return res, value.Value{}
	}
	token := s.TokenIn.Follow()

	switch callee := call.callee.(type) {
	case *Function:
		frame := newFrame(callee.Procedure, nil, -1, bytecode.NoOperand)
		if err := call.bind(frame); err != nil {
			return errorResult(err), value.Value{}
		}
		it := &interpreter{
			r:         r,
			task:      s.Task,
			frame:     frame,
			fc:        s.FC,
			token:     token,
			boundary:  s.FC,
			baseFrame: frame,
		}
		run := it.run()
		switch run.outcome {
		case outcomeReturned:
			if !env.define(dest, run.value) {
				return fail(), value.Value{}
			}
			return next(), it.token
		case outcomeFailed:
			return fail(), value.Value{}
		case outcomeError:
			return errorResult(run.err), value.Value{}
		default:
			return errorResult(fmt.Errorf("%w: %s", ErrYieldInSuspension, callee)), value.Value{}
		}
	case *NativeFunction:
		s.FC.escape()
		ctx := &NativeContext{Runtime: r, Task: s.Task, fc: s.FC, token: token}
		result := callee.Fn(ctx, call.self, call.args, call.named)
		switch result.Kind {
		case NativeReturn:
			if !env.define(dest, result.Value) {
				return fail(), value.Value{}
			}
			return next(), value.EffectDone()
		case NativeFail:
			return fail(), value.Value{}
		case NativeError:
			return errorResult(result.Err), value.Value{}
		default:
			return errorResult(fmt.Errorf("%w: %s", ErrYieldInSuspension, callee)), value.Value{}
		}
	}
	return errorResult(ErrNotCallable), value.Value{}
}
