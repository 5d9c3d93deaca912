package vm

import (
	"fmt"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/regalloc"
	"github.com/inoxlang/lenivm/internal/value"
)

// A Function is a callable procedure, Self is stored in r0 of the callee frame by Call.
type Function struct {
	Procedure *bytecode.Procedure
	Self      value.Value
}

func NewFunction(proc *bytecode.Procedure) *Function {
	return &Function{Procedure: proc}
}

// NewAllocatedFunction compacts the registers of proc in place, then returns a function running it.
func NewAllocatedFunction(proc *bytecode.Procedure) (*Function, error) {
	if _, err := regalloc.Allocate(proc); err != nil {
		return nil, err
	}
	return NewFunction(proc), nil
}

func (*Function) TypeName() string {
	return "function"
}

func (f *Function) String() string {
	return "function " + f.Procedure.Name
}

type NativeResultKind uint8

const (
	NativeReturn NativeResultKind = iota
	NativeYield
	NativeFail
	NativeError
)

// A NativeResult is returned by a native function.
type NativeResult struct {
	Kind  NativeResultKind
	Value value.Value
	Err   error
}

func Return(v value.Value) NativeResult {
	return NativeResult{Kind: NativeReturn, Value: v}
}

// YieldTask parks the running task, the call receives the value the task is resumed with.
func YieldTask() NativeResult {
	return NativeResult{Kind: NativeYield}
}

func Fail() NativeResult {
	return NativeResult{Kind: NativeFail}
}

func Error(err error) NativeResult {
	return NativeResult{Kind: NativeError, Err: err}
}

type NativeFn func(ctx *NativeContext, self value.Value, args []value.Value, named map[string]value.Value) NativeResult

// A NativeFunction is implemented in Go. It is called with a concrete effect token only.
type NativeFunction struct {
	Name string
	Fn   NativeFn
}

func (*NativeFunction) TypeName() string {
	return "native-function"
}

func (f *NativeFunction) String() string {
	return "native function " + f.Name
}

// A NativeContext is passed to native functions.
type NativeContext struct {
	Runtime *Runtime
	Task    *Task

	fc    *FailureContext
	token value.Value
}

// Defer registers a hook run when the task starts unwinding after being canceled.
func (ctx *NativeContext) Defer(hook func()) {
	ctx.Task.deferHooks = append(ctx.Task.deferHooks, hook)
}

// EffectToken returns the effect token the native function was called with.
func (ctx *NativeContext) EffectToken() value.Value {
	return ctx.token
}

// Journal returns the journal recording the mutations performed by the call.
func (ctx *NativeContext) Journal() value.Journal {
	return ctx.fc.journal()
}

// WhenConcrete calls fn with the followed value of v once v is concrete. If v is already
// concrete fn is called immediately. An error returned by fn is reported by the interpreter
// running the suspension.
func (ctx *NativeContext) WhenConcrete(v value.Value, fn func(v value.Value) error) error {
	v = v.Follow()
	if !v.IsPlaceholder() {
		return fn(v)
	}
	ctx.Runtime.suspendLambda(ctx.fc, ctx.Task, v.AsPlaceholder(), []value.Value{v}, func(captures []value.Value) opResult {
		if err := fn(captures[0].Follow()); err != nil {
			return errorResult(err)
		}
		return next()
	})
	return nil
}

// adaptArguments binds positional and named arguments to the parameter registers of a new frame.
func adaptArguments(j value.Journal, frame *Frame, args []value.Value, named map[string]value.Value) error {
	proc := frame.Procedure
	paramCount := proc.NumPositionalParameters

	switch {
	case len(args) == paramCount:
	case paramCount == 1:
		args = []value.Value{value.NewArray(args...)}
	case len(args) == 1:
		array, ok := value.CellAs[*value.Array](args[0])
		if !ok || array.Len() != paramCount {
			return fmt.Errorf("%w: %s expects %d arguments, got 1", ErrArityMismatch, proc.Name, paramCount)
		}
		args = array.Elements
	default:
		return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrArityMismatch, proc.Name, paramCount, len(args))
	}

	for i, arg := range args {
		frame.Set(j, bytecode.ParameterStart+bytecode.Register(i), arg)
	}

	for name, arg := range named {
		param, ok := proc.NamedParameter(name)
		if !ok {
			return fmt.Errorf("%w: %s has no named parameter %q", ErrUnknownNamedArg, proc.Name, name)
		}
		frame.Set(j, param.Register, arg)
	}
	return nil
}
