package vm

import (
	"fmt"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

type opKind uint8

const (
	opNext opKind = iota
	opFail
	opError
	opSuspend
)

// opResult is the outcome of an instruction that does not transfer control.
type opResult struct {
	kind opKind
	on   *value.Placeholder //opSuspend
	err  error              //opError
}

func next() opResult {
	return opResult{kind: opNext}
}

func fail() opResult {
	return opResult{kind: opFail}
}

func errorResult(err error) opResult {
	return opResult{kind: opError, err: err}
}

func suspend(p *value.Placeholder) opResult {
	return opResult{kind: opSuspend, on: p.Root()}
}

// An execEnv resolves the operands of an instruction, either against a frame (main loop)
// or against the captures of a suspension (suspension loop).
type execEnv struct {
	r        *Runtime
	proc     *bytecode.Procedure
	pc       int
	frame    *Frame
	captures []value.Value
	fc       *FailureContext
	task     *Task
}

func (e *execEnv) journal() value.Journal {
	return e.fc.journal()
}

func (e *execEnv) read(op bytecode.Operand) value.Value {
	switch op.Kind {
	case bytecode.RegisterOperand:
		return e.frame.RestValue(e.journal(), op.Register())
	case bytecode.ConstantOperand:
		return e.proc.Constants[op.Index]
	case bytecode.CapturedOperand:
		return e.captures[op.Index]
	}
	return value.Uninitialized
}

// concrete returns the followed value of op, or the placeholder the instruction should wait for.
func (e *execEnv) concrete(op bytecode.Operand) (value.Value, *value.Placeholder) {
	v := e.read(op).Follow()
	if v.IsPlaceholder() {
		return v, v.AsPlaceholder()
	}
	return v, nil
}

// define unifies op with v, an uninitialized register is simply set.
// It returns false if op already holds a value that cannot be unified with v.
func (e *execEnv) define(op bytecode.Operand, v value.Value) bool {
	switch op.Kind {
	case bytecode.NoOperandKind:
		return true
	case bytecode.RegisterOperand:
		r := op.Register()
		current := e.frame.Get(r)
		if current.IsUninitialized() {
			e.frame.Set(e.journal(), r, v)
			return true
		}
		return value.Unify(e.journal(), current, v, e.r.fire)
	case bytecode.CapturedOperand:
		return value.Unify(e.journal(), e.captures[op.Index], v, e.r.fire)
	}
	return value.Unify(e.journal(), e.read(op), v, e.r.fire)
}

func (e *execEnv) clobber(op bytecode.Operand, v value.Value) {
	if op.IsRegister() {
		e.frame.Set(e.journal(), op.Register(), v)
	}
}

func (e *execEnv) defineOrFail(op bytecode.Operand, v value.Value) opResult {
	if !e.define(op, v) {
		return fail()
	}
	return next()
}

// execData executes the instructions that neither transfer control nor interact with tasks.
func (e *execEnv) execData(instr bytecode.Instruction) opResult {
	switch instr := instr.(type) {
	case *bytecode.Add, *bytecode.Sub, *bytecode.Mul, *bytecode.Div, *bytecode.Mod:
		b := binaryOf(instr)
		l, p := e.concrete(b.Left)
		if p != nil {
			return suspend(p)
		}
		r, p := e.concrete(b.Right)
		if p != nil {
			return suspend(p)
		}
		result, failed, err := arith(instr.Opcode(), l, r)
		switch {
		case err != nil:
			return errorResult(err)
		case failed:
			return fail()
		}
		return e.defineOrFail(b.Dest, result)
	case *bytecode.Neq, *bytecode.Lt, *bytecode.Lte, *bytecode.Gt, *bytecode.Gte:
		b := binaryOf(instr)
		l, p := e.concrete(b.Left)
		if p != nil {
			return suspend(p)
		}
		r, p := e.concrete(b.Right)
		if p != nil {
			return suspend(p)
		}
		holds, err := compare(instr.Opcode(), l, r)
		if err != nil {
			return errorResult(err)
		}
		if !holds {
			return fail()
		}
		return e.defineOrFail(b.Dest, l)
	case *bytecode.Neg:
		v, p := e.concrete(instr.Source)
		if p != nil {
			return suspend(p)
		}
		switch {
		case v.IsInt():
			i, err := value.IntNeg(v.AsInt())
			if err != nil {
				return errorResult(err)
			}
			return e.defineOrFail(instr.Dest, value.Int(i))
		case v.IsFloat():
			return e.defineOrFail(instr.Dest, value.Float(-v.AsFloat()))
		}
		return errorResult(fmt.Errorf("%w: cannot negate %s", ErrTypeMismatch, v))
	case *bytecode.Query:
		v, p := e.concrete(instr.Source)
		if p != nil {
			return suspend(p)
		}
		if value.IsFalse(v) {
			return fail()
		}
		if option, ok := value.CellAs[*value.Option](v); ok {
			return e.defineOrFail(instr.Dest, option.Value)
		}
		return e.defineOrFail(instr.Dest, v)
	case *bytecode.Move:
		return e.defineOrFail(instr.Dest, e.read(instr.Source))
	case *bytecode.Reset:
		e.clobber(instr.Dest, value.Uninitialized)
		return next()
	case *bytecode.NewOption:
		return e.defineOrFail(instr.Dest, value.NewOption(e.read(instr.Source)))
	case *bytecode.NewArray:
		return e.defineOrFail(instr.Dest, value.NewArray(e.readAll(instr.Elements)...))
	case *bytecode.NewMutableArray:
		return e.defineOrFail(instr.Dest, value.FromCell(value.NewMutableArray(e.readAll(instr.Elements)...)))
	case *bytecode.NewMutableArrayWithCapacity:
		size, p := e.concrete(instr.Size)
		if p != nil {
			return suspend(p)
		}
		if !size.IsInt() || size.AsInt() < 0 {
			return errorResult(fmt.Errorf("%w: array capacity %s is not a non-negative integer", ErrTypeMismatch, size))
		}
		return e.defineOrFail(instr.Dest, value.FromCell(value.NewMutableArrayWithCapacity(int(size.AsInt()))))
	case *bytecode.MutableAdd:
		l, p := e.concrete(instr.Left)
		if p != nil {
			return suspend(p)
		}
		r, p := e.concrete(instr.Right)
		if p != nil {
			return suspend(p)
		}
		left, leftOk := value.ArrayElements(l)
		right, rightOk := value.ArrayElements(r)
		if !leftOk || !rightOk {
			return errorResult(fmt.Errorf("%w: cannot concatenate %s and %s", ErrTypeMismatch, l, r))
		}
		elements := make([]value.Value, 0, len(left)+len(right))
		elements = append(append(elements, left...), right...)
		return e.defineOrFail(instr.Dest, value.FromCell(value.NewMutableArray(elements...)))
	case *bytecode.NewMap:
		keys := make([]value.Value, len(instr.Keys))
		for i, op := range instr.Keys {
			key, p := e.concrete(op)
			if p != nil {
				return suspend(p)
			}
			keys[i] = key
		}
		return e.defineOrFail(instr.Dest, value.FromCell(value.NewMap(keys, e.readAll(instr.Values))))
	case *bytecode.MapKey:
		return e.mapEntry(instr.Dest, instr.Map, instr.Index, (*value.Map).KeyAt)
	case *bytecode.MapValue:
		return e.mapEntry(instr.Dest, instr.Map, instr.Index, (*value.Map).ValueAt)
	case *bytecode.Melt:
		melted, p := value.Melt(e.read(instr.Source))
		if p != nil {
			return suspend(p)
		}
		return e.defineOrFail(instr.Dest, melted)
	case *bytecode.UnifyField:
		object, res, ok := e.object(instr.Object)
		if !ok {
			return res
		}
		index, found := object.Type().FieldIndex(instr.Field)
		if !found {
			return errorResult(fmt.Errorf("%w: %s has no field %q", ErrUnknownField, object.Type(), instr.Field))
		}
		if !value.Unify(e.journal(), object.FieldAt(index), e.read(instr.Value), e.r.fire) {
			return fail()
		}
		return next()
	case *bytecode.NewObject:
		typ, ok := value.CellAs[*value.EmergentType](e.read(instr.Type))
		if !ok {
			return errorResult(fmt.Errorf("%w: object type should be an emergent type", ErrTypeMismatch))
		}
		if typ.FieldCount() != len(instr.Fields) {
			return errorResult(fmt.Errorf("%w: %s has %d fields, %d provided", ErrTypeMismatch, typ, typ.FieldCount(), len(instr.Fields)))
		}
		return e.defineOrFail(instr.Dest, value.FromCell(value.NewObject(typ, e.readAll(instr.Fields))))
	case *bytecode.Length:
		v, p := e.concrete(instr.Source)
		if p != nil {
			return suspend(p)
		}
		if array, ok := value.CellAs[*value.Array](v); ok {
			return e.defineOrFail(instr.Dest, value.Int(int64(array.Len())))
		}
		if array, ok := value.CellAs[*value.MutableArray](v); ok {
			return e.defineOrFail(instr.Dest, value.Int(int64(array.Len())))
		}
		if m, ok := value.CellAs[*value.Map](v); ok {
			return e.defineOrFail(instr.Dest, value.Int(int64(m.Len())))
		}
		return errorResult(fmt.Errorf("%w: %s has no length", ErrTypeMismatch, v))
	case *bytecode.LoadField:
		object, res, ok := e.object(instr.Object)
		if !ok {
			return res
		}
		index, found := object.Type().FieldIndex(instr.Field)
		if !found {
			return errorResult(fmt.Errorf("%w: %s has no field %q", ErrUnknownField, object.Type(), instr.Field))
		}
		e.cacheFieldOffset(instr.Dest, instr.Object, instr.Field, object.Type(), index)
		return e.defineOrFail(instr.Dest, object.FieldAt(index))
	case *bytecode.LoadFieldICOffset:
		object, res, ok := e.object(instr.Object)
		if !ok {
			return res
		}
		if object.Type() == instr.CachedType {
			e.r.inlineCacheHits++
			return e.defineOrFail(instr.Dest, object.FieldAt(instr.CachedIndex))
		}
		index, found := object.Type().FieldIndex(instr.Field)
		if !found {
			return errorResult(fmt.Errorf("%w: %s has no field %q", ErrUnknownField, object.Type(), instr.Field))
		}
		e.cacheFieldOffset(instr.Dest, instr.Object, instr.Field, object.Type(), index)
		return e.defineOrFail(instr.Dest, object.FieldAt(index))
	case *bytecode.Tracepoint:
		e.r.logger.Debug().
			Str("tracepoint", instr.Name).
			Str("task", e.task.ID.String()).
			Str("location", e.proc.FormatLocation(e.pc)).
			Msg("tracepoint")
		return next()
	case *bytecode.Err:
		return errorResult(fmt.Errorf("%w: %s", ErrUserError, instr.Message))

	//effectful instructions, the effect token has been checked by the caller.

	case *bytecode.NewVar:
		return e.defineOrFail(instr.Dest, value.FromCell(value.NewVar(e.read(instr.Source))))
	case *bytecode.VarGet:
		v, p := e.concrete(instr.Source)
		if p != nil {
			return suspend(p)
		}
		variable, ok := value.CellAs[*value.Var](v)
		if !ok {
			return errorResult(fmt.Errorf("%w: %s is not a var", ErrTypeMismatch, v))
		}
		return e.defineOrFail(instr.Dest, variable.Get())
	case *bytecode.VarSet:
		v, p := e.concrete(instr.Var)
		if p != nil {
			return suspend(p)
		}
		variable, ok := value.CellAs[*value.Var](v)
		if !ok {
			return errorResult(fmt.Errorf("%w: %s is not a var", ErrTypeMismatch, v))
		}
		variable.Set(e.journal(), e.read(instr.Value))
		return next()
	case *bytecode.CallSet:
		container, p := e.concrete(instr.Container)
		if p != nil {
			return suspend(p)
		}
		index, p := e.concrete(instr.Index)
		if p != nil {
			return suspend(p)
		}
		array, ok := value.CellAs[*value.MutableArray](container)
		if !ok {
			return errorResult(fmt.Errorf("%w: %s is not a mutable array", ErrTypeMismatch, container))
		}
		if !index.IsInt() {
			return errorResult(fmt.Errorf("%w: index %s is not an integer", ErrTypeMismatch, index))
		}
		if array.IsImmutable() {
			return errorResult(fmt.Errorf("%w: cannot set element %d", ErrImmutableArray, index.AsInt()))
		}
		if !array.Set(e.journal(), int(index.AsInt()), e.read(instr.Value)) {
			return fail()
		}
		return next()
	case *bytecode.ArrayAdd:
		container, p := e.concrete(instr.Container)
		if p != nil {
			return suspend(p)
		}
		array, ok := value.CellAs[*value.MutableArray](container)
		if !ok {
			return errorResult(fmt.Errorf("%w: %s is not a mutable array", ErrTypeMismatch, container))
		}
		if array.IsImmutable() {
			return errorResult(fmt.Errorf("%w: cannot append to %s", ErrImmutableArray, array))
		}
		array.Append(e.journal(), e.read(instr.Value))
		return next()
	case *bytecode.Freeze:
		frozen, p := value.Freeze(e.read(instr.Source))
		if p != nil {
			return suspend(p)
		}
		return e.defineOrFail(instr.Dest, frozen)
	case *bytecode.InPlaceMakeImmutable:
		container, p := e.concrete(instr.Container)
		if p != nil {
			return suspend(p)
		}
		array, ok := value.CellAs[*value.MutableArray](container)
		if !ok {
			return errorResult(fmt.Errorf("%w: %s is not a mutable array", ErrTypeMismatch, container))
		}
		array.MakeImmutable(e.journal())
		return next()
	case *bytecode.SetField:
		object, res, ok := e.object(instr.Object)
		if !ok {
			return res
		}
		index, found := object.Type().FieldIndex(instr.Field)
		if !found {
			return errorResult(fmt.Errorf("%w: %s has no field %q", ErrUnknownField, object.Type(), instr.Field))
		}
		object.SetFieldAt(e.journal(), index, e.read(instr.Value))
		return next()
	}
	return errorResult(fmt.Errorf("%w: unexpected %s instruction", ErrMalformedProcedure, instr.Opcode()))
}

func (e *execEnv) readAll(ops []bytecode.Operand) []value.Value {
	values := make([]value.Value, len(ops))
	for i, op := range ops {
		values[i] = e.read(op)
	}
	return values
}

// mapEntry defines dest with the key or the value of an entry of a map, it fails if the index is out of range.
func (e *execEnv) mapEntry(dest, mapOp, indexOp bytecode.Operand, entry func(*value.Map, int) value.Value) opResult {
	v, p := e.concrete(mapOp)
	if p != nil {
		return suspend(p)
	}
	index, p := e.concrete(indexOp)
	if p != nil {
		return suspend(p)
	}
	m, ok := value.CellAs[*value.Map](v)
	if !ok {
		return errorResult(fmt.Errorf("%w: %s is not a map", ErrTypeMismatch, v))
	}
	if !index.IsInt() {
		return errorResult(fmt.Errorf("%w: index %s is not an integer", ErrTypeMismatch, index))
	}
	i := index.AsInt()
	if i < 0 || i >= int64(m.Len()) {
		return fail()
	}
	return e.defineOrFail(dest, entry(m, int(i)))
}

// object returns the object held by op. If ok is false res is the result of the instruction.
func (e *execEnv) object(op bytecode.Operand) (object *value.Object, res opResult, ok bool) {
	v, p := e.concrete(op)
	if p != nil {
		return nil, suspend(p), false
	}
	object, ok = value.CellAs[*value.Object](v)
	if !ok {
		return nil, errorResult(fmt.Errorf("%w: %s is not an object", ErrTypeMismatch, v)), false
	}
	return object, next(), true
}

// cacheFieldOffset replaces the field load at the current offset by a load specialized for typ.
// Suspended instructions are never rewritten.
func (e *execEnv) cacheFieldOffset(dest, object bytecode.Operand, field string, typ *value.EmergentType, index int) {
	if e.frame == nil || !e.r.config.InlineCaching {
		return
	}
	e.proc.Code[e.pc] = &bytecode.LoadFieldICOffset{
		Dest:        dest,
		Object:      object,
		Field:       field,
		CachedType:  typ,
		CachedIndex: index,
	}
}

func binaryOf(instr bytecode.Instruction) *bytecode.Binary {
	switch instr := instr.(type) {
	case *bytecode.Add:
		return &instr.Binary
	case *bytecode.Sub:
		return &instr.Binary
	case *bytecode.Mul:
		return &instr.Binary
	case *bytecode.Div:
		return &instr.Binary
	case *bytecode.Mod:
		return &instr.Binary
	case *bytecode.Neq:
		return &instr.Binary
	case *bytecode.Lt:
		return &instr.Binary
	case *bytecode.Lte:
		return &instr.Binary
	case *bytecode.Gt:
		return &instr.Binary
	case *bytecode.Gte:
		return &instr.Binary
	}
	panic(fmt.Errorf("%s is not a binary instruction", instr.Opcode()))
}

// arith computes an arithmetic operation on concrete operands, failed is true for an integer
// division by zero. Operands have the same kind except for Mul, Mod only accepts ints
// and float operations follow IEEE 754.
func arith(op bytecode.Opcode, l, r value.Value) (result value.Value, failed bool, err error) {
	if op == bytecode.OpMul && (l.IsInt() && r.IsFloat() || l.IsFloat() && r.IsInt()) {
		return value.Float(asFloat(l) * asFloat(r)), false, nil
	}

	switch {
	case l.IsInt() && r.IsInt():
		a, b := l.AsInt(), r.AsInt()
		var i int64

		switch op {
		case bytecode.OpAdd:
			i, err = value.IntAdd(a, b)
		case bytecode.OpSub:
			i, err = value.IntSub(a, b)
		case bytecode.OpMul:
			i, err = value.IntMul(a, b)
		case bytecode.OpDiv:
			result, err = value.IntDiv(a, b)
			if err == value.ErrIntDivisionByZero {
				return value.Value{}, true, nil
			}
			return result, false, err
		case bytecode.OpMod:
			i, err = value.IntMod(a, b)
			if err == value.ErrIntDivisionByZero {
				return value.Value{}, true, nil
			}
		}
		if err != nil {
			return value.Value{}, false, err
		}
		return value.Int(i), false, nil
	case l.IsFloat() && r.IsFloat() && op != bytecode.OpMod:
		a, b := l.AsFloat(), r.AsFloat()

		switch op {
		case bytecode.OpAdd:
			return value.Float(a + b), false, nil
		case bytecode.OpSub:
			return value.Float(a - b), false, nil
		case bytecode.OpMul:
			return value.Float(a * b), false, nil
		default:
			return value.Float(a / b), false, nil
		}
	}
	return value.Value{}, false, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, l, op, r)
}

// compare reports whether the comparison op holds for concrete operands of the same kind.
// Ordered comparisons involving NaN never hold.
func compare(op bytecode.Opcode, l, r value.Value) (bool, error) {
	if op == bytecode.OpNeq {
		return !value.Equal(l, r), nil
	}

	switch {
	case l.IsInt() && r.IsInt():
		return ordered(op, l.AsInt(), r.AsInt()), nil
	case l.IsFloat() && r.IsFloat():
		return ordered(op, l.AsFloat(), r.AsFloat()), nil
	}
	return false, fmt.Errorf("%w: cannot compare %s and %s", ErrTypeMismatch, l, r)
}

func asFloat(v value.Value) float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

func ordered[T int64 | float64](op bytecode.Opcode, a, b T) bool {
	switch op {
	case bytecode.OpLt:
		return a < b
	case bytecode.OpLte:
		return a <= b
	case bytecode.OpGt:
		return a > b
	default:
		return a >= b
	}
}

// A preparedCall is a call whose callee is concrete and whose arguments have been read.
type preparedCall struct {
	callee value.Cell
	self   value.Value
	args   []value.Value
	named  map[string]value.Value
}

// bind stores the self value and the arguments in the registers of a new frame.
func (c *preparedCall) bind(frame *Frame) error {
	frame.Set(nil, bytecode.RegisterSelf, c.self)
	return adaptArguments(nil, frame, c.args, c.named)
}

func (e *execEnv) prepareCall(
	calleeOp bytecode.Operand, selfOp *bytecode.Operand,
	argOps []bytecode.Operand, names []string, namedOps []bytecode.Operand,
) (*preparedCall, opResult) {
	calleeValue, p := e.concrete(calleeOp)
	if p != nil {
		return nil, suspend(p)
	}
	if !calleeValue.IsCell() {
		return nil, errorResult(fmt.Errorf("%w: %s", ErrNotCallable, calleeValue))
	}

	call := &preparedCall{callee: calleeValue.AsCell()}
	switch callee := call.callee.(type) {
	case *Function:
		call.self = callee.Self
	case *NativeFunction:
	default:
		return nil, errorResult(fmt.Errorf("%w: %s", ErrNotCallable, calleeValue))
	}
	if selfOp != nil {
		call.self = e.read(*selfOp)
	}

	call.args = e.readAll(argOps)
	if len(names) > 0 {
		call.named = make(map[string]value.Value, len(names))
		for i, name := range names {
			call.named[name] = e.read(namedOps[i])
		}
	}
	return call, next()
}
