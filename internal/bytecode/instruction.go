package bytecode

import (
	"slices"

	"github.com/inoxlang/lenivm/internal/value"
)

// An Instruction is one of the instruction types of this package.
// Operands and labels can be visited (and rewritten) without knowing the concrete type.
type Instruction interface {
	Opcode() Opcode
	ForEachOperand(fn OperandVisitor)
	ForEachLabel(fn func(l *Label))
	// Clone returns a copy that does not share operand or label storage with the receiver.
	Clone() Instruction
}

type noLabels struct{}

func (noLabels) ForEachLabel(fn func(l *Label)) {}

// Binary is the operand layout of arithmetic and comparison instructions.
type Binary struct {
	Dest, Left, Right Operand
}

func (b *Binary) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &b.Dest)
	visit(fn, Use, &b.Left)
	visit(fn, Use, &b.Right)
}

// Unary is the operand layout of instructions with a single input.
type Unary struct {
	Dest, Source Operand
}

func (u *Unary) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &u.Dest)
	visit(fn, Use, &u.Source)
}

type (
	Add struct {
		Binary
		noLabels
	}
	Sub struct {
		Binary
		noLabels
	}
	Mul struct {
		Binary
		noLabels
	}
	// Div fails if the divisor is the integer zero.
	Div struct {
		Binary
		noLabels
	}
	Mod struct {
		Binary
		noLabels
	}
	// Neq, Lt, Lte, Gt and Gte define Dest with Left if the comparison holds and fail otherwise.
	Neq struct {
		Binary
		noLabels
	}
	Lt struct {
		Binary
		noLabels
	}
	Lte struct {
		Binary
		noLabels
	}
	Gt struct {
		Binary
		noLabels
	}
	Gte struct {
		Binary
		noLabels
	}
	// MutableAdd concatenates two arrays of either kind into a new mutable array.
	MutableAdd struct {
		Binary
		noLabels
	}
)

func (*Add) Opcode() Opcode { return OpAdd }
func (*Sub) Opcode() Opcode { return OpSub }
func (*Mul) Opcode() Opcode { return OpMul }
func (*Div) Opcode() Opcode { return OpDiv }
func (*Mod) Opcode() Opcode { return OpMod }
func (*Neq) Opcode() Opcode { return OpNeq }
func (*Lt) Opcode() Opcode  { return OpLt }
func (*Lte) Opcode() Opcode { return OpLte }
func (*Gt) Opcode() Opcode  { return OpGt }
func (*Gte) Opcode() Opcode { return OpGte }

func (*MutableAdd) Opcode() Opcode { return OpMutableAdd }

func (i *Add) Clone() Instruction { c := *i; return &c }
func (i *Sub) Clone() Instruction { c := *i; return &c }
func (i *Mul) Clone() Instruction { c := *i; return &c }
func (i *Div) Clone() Instruction { c := *i; return &c }
func (i *Mod) Clone() Instruction { c := *i; return &c }
func (i *Neq) Clone() Instruction { c := *i; return &c }
func (i *Lt) Clone() Instruction  { c := *i; return &c }
func (i *Lte) Clone() Instruction { c := *i; return &c }
func (i *Gt) Clone() Instruction  { c := *i; return &c }
func (i *Gte) Clone() Instruction { c := *i; return &c }

func (i *MutableAdd) Clone() Instruction { c := *i; return &c }

type (
	Neg struct {
		Unary
		noLabels
	}
	// Query fails on false, unwraps options and passes any other value through.
	Query struct {
		Unary
		noLabels
	}
	Move struct {
		Unary
		noLabels
	}
	NewOption struct {
		Unary
		noLabels
	}
	Length struct {
		Unary
		noLabels
	}
	// NewVar creates a mutable reference initialized with Source.
	NewVar struct {
		Unary
		noLabels
	}
	// VarGet reads the mutable reference Source.
	VarGet struct {
		Unary
		noLabels
	}
	// Melt makes a mutable deep copy of Source, Freeze makes an immutable one.
	Melt struct {
		Unary
		noLabels
	}
	Freeze struct {
		Unary
		noLabels
	}
)

func (*Neg) Opcode() Opcode       { return OpNeg }
func (*Query) Opcode() Opcode     { return OpQuery }
func (*Move) Opcode() Opcode      { return OpMove }
func (*NewOption) Opcode() Opcode { return OpNewOption }
func (*Length) Opcode() Opcode    { return OpLength }
func (*NewVar) Opcode() Opcode    { return OpNewVar }
func (*VarGet) Opcode() Opcode    { return OpVarGet }
func (*Melt) Opcode() Opcode      { return OpMelt }
func (*Freeze) Opcode() Opcode    { return OpFreeze }

func (i *Neg) Clone() Instruction       { c := *i; return &c }
func (i *Query) Clone() Instruction     { c := *i; return &c }
func (i *Move) Clone() Instruction      { c := *i; return &c }
func (i *NewOption) Clone() Instruction { c := *i; return &c }
func (i *Length) Clone() Instruction    { c := *i; return &c }
func (i *NewVar) Clone() Instruction    { c := *i; return &c }
func (i *VarGet) Clone() Instruction    { c := *i; return &c }
func (i *Melt) Clone() Instruction      { c := *i; return &c }
func (i *Freeze) Clone() Instruction    { c := *i; return &c }

// Reset makes a register uninitialized again.
type Reset struct {
	Dest Operand
	noLabels
}

func (*Reset) Opcode() Opcode { return OpReset }

func (i *Reset) ForEachOperand(fn OperandVisitor) {
	visit(fn, ClobberDef, &i.Dest)
}

func (i *Reset) Clone() Instruction { c := *i; return &c }

type NewArray struct {
	Dest     Operand
	Elements []Operand
	noLabels
}

func (*NewArray) Opcode() Opcode { return OpNewArray }

func (i *NewArray) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visitAll(fn, Use, i.Elements)
}

func (i *NewArray) Clone() Instruction {
	c := *i
	c.Elements = slices.Clone(i.Elements)
	return &c
}

type NewMutableArray struct {
	Dest     Operand
	Elements []Operand
	noLabels
}

func (*NewMutableArray) Opcode() Opcode { return OpNewMutableArray }

func (i *NewMutableArray) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visitAll(fn, Use, i.Elements)
}

func (i *NewMutableArray) Clone() Instruction {
	c := *i
	c.Elements = slices.Clone(i.Elements)
	return &c
}

// NewMutableArrayWithCapacity creates an empty mutable array with room for Size elements.
type NewMutableArrayWithCapacity struct {
	Dest, Size Operand
	noLabels
}

func (*NewMutableArrayWithCapacity) Opcode() Opcode { return OpNewMutableArrayWithCapacity }

func (i *NewMutableArrayWithCapacity) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Size)
}

func (i *NewMutableArrayWithCapacity) Clone() Instruction { c := *i; return &c }

// NewMap associates Keys[i] with Values[i].
type NewMap struct {
	Dest   Operand
	Keys   []Operand
	Values []Operand
	noLabels
}

func (*NewMap) Opcode() Opcode { return OpNewMap }

func (i *NewMap) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visitAll(fn, Use, i.Keys)
	visitAll(fn, Use, i.Values)
}

func (i *NewMap) Clone() Instruction {
	c := *i
	c.Keys = slices.Clone(i.Keys)
	c.Values = slices.Clone(i.Values)
	return &c
}

// MapKey and MapValue read the key (or the value) of the entry at Index, they fail if Index is out of range.
type (
	MapKey struct {
		Dest, Map, Index Operand
		noLabels
	}
	MapValue struct {
		Dest, Map, Index Operand
		noLabels
	}
)

func (*MapKey) Opcode() Opcode   { return OpMapKey }
func (*MapValue) Opcode() Opcode { return OpMapValue }

func (i *MapKey) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Map)
	visit(fn, Use, &i.Index)
}

func (i *MapValue) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Map)
	visit(fn, Use, &i.Index)
}

func (i *MapKey) Clone() Instruction   { c := *i; return &c }
func (i *MapValue) Clone() Instruction { c := *i; return &c }

// NewObject creates an object of the emergent type held by the constant Type.
type NewObject struct {
	Dest   Operand
	Type   Operand
	Fields []Operand
	noLabels
}

func (*NewObject) Opcode() Opcode { return OpNewObject }

func (i *NewObject) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Type)
	visitAll(fn, Use, i.Fields)
}

func (i *NewObject) Clone() Instruction {
	c := *i
	c.Fields = slices.Clone(i.Fields)
	return &c
}

// LoadField reads a field by name. The interpreter replaces it by a LoadFieldICOffset
// once it knows where the field is stored for the emergent type of the object.
type LoadField struct {
	Dest   Operand
	Object Operand
	Field  string
	noLabels
}

func (*LoadField) Opcode() Opcode { return OpLoadField }

func (i *LoadField) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Object)
}

func (i *LoadField) Clone() Instruction { c := *i; return &c }

// LoadFieldICOffset is a LoadField specialized for objects of the emergent type CachedType.
type LoadFieldICOffset struct {
	Dest        Operand
	Object      Operand
	Field       string
	CachedType  *value.EmergentType
	CachedIndex int
	noLabels
}

func (*LoadFieldICOffset) Opcode() Opcode { return OpLoadFieldICOffset }

func (i *LoadFieldICOffset) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Object)
}

func (i *LoadFieldICOffset) Clone() Instruction { c := *i; return &c }

// UnifyField unifies a field of Object with Value, it fails if they cannot be unified.
type UnifyField struct {
	Object Operand
	Field  string
	Value  Operand
	noLabels
}

func (*UnifyField) Opcode() Opcode { return OpUnifyField }

func (i *UnifyField) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Object)
	visit(fn, Use, &i.Value)
}

func (i *UnifyField) Clone() Instruction { c := *i; return &c }

type Tracepoint struct {
	Name string
	noLabels
}

func (*Tracepoint) Opcode() Opcode                   { return OpTracepoint }
func (*Tracepoint) ForEachOperand(fn OperandVisitor) {}
func (i *Tracepoint) Clone() Instruction             { c := *i; return &c }

// Err raises a runtime error.
type Err struct {
	Message string
	noLabels
}

func (*Err) Opcode() Opcode                   { return OpErr }
func (*Err) ForEachOperand(fn OperandVisitor) {}
func (i *Err) Clone() Instruction             { c := *i; return &c }

type VarSet struct {
	Var, Value Operand
	noLabels
}

func (*VarSet) Opcode() Opcode { return OpVarSet }

func (i *VarSet) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Var)
	visit(fn, Use, &i.Value)
}

func (i *VarSet) Clone() Instruction { c := *i; return &c }

// CallSet writes the element of a mutable array, it fails if the index is out of range.
type CallSet struct {
	Container, Index, Value Operand
	noLabels
}

func (*CallSet) Opcode() Opcode { return OpCallSet }

func (i *CallSet) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Container)
	visit(fn, Use, &i.Index)
	visit(fn, Use, &i.Value)
}

func (i *CallSet) Clone() Instruction { c := *i; return &c }

type ArrayAdd struct {
	Container, Value Operand
	noLabels
}

func (*ArrayAdd) Opcode() Opcode { return OpArrayAdd }

func (i *ArrayAdd) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Container)
	visit(fn, Use, &i.Value)
}

func (i *ArrayAdd) Clone() Instruction { c := *i; return &c }

// InPlaceMakeImmutable forbids further writes to the mutable array Container.
type InPlaceMakeImmutable struct {
	Container Operand
	noLabels
}

func (*InPlaceMakeImmutable) Opcode() Opcode { return OpInPlaceMakeImmutable }

func (i *InPlaceMakeImmutable) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Container)
}

func (i *InPlaceMakeImmutable) Clone() Instruction { c := *i; return &c }

type SetField struct {
	Object Operand
	Field  string
	Value  Operand
	noLabels
}

func (*SetField) Opcode() Opcode { return OpSetField }

func (i *SetField) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Object)
	visit(fn, Use, &i.Value)
}

func (i *SetField) Clone() Instruction { c := *i; return &c }

type Jump struct {
	Target Label
}

func (*Jump) Opcode() Opcode                   { return OpJump }
func (*Jump) ForEachOperand(fn OperandVisitor) {}
func (i *Jump) ForEachLabel(fn func(l *Label)) { fn(&i.Target) }
func (i *Jump) Clone() Instruction             { c := *i; return &c }

// JumpIfInitialized jumps to Target if Source has been defined.
type JumpIfInitialized struct {
	Source Operand
	Target Label
}

func (*JumpIfInitialized) Opcode() Opcode { return OpJumpIfInitialized }

func (i *JumpIfInitialized) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Source)
}

func (i *JumpIfInitialized) ForEachLabel(fn func(l *Label)) { fn(&i.Target) }
func (i *JumpIfInitialized) Clone() Instruction             { c := *i; return &c }

// JumpIfArchetype jumps to Target if Source is an object whose emergent type is an archetype.
type JumpIfArchetype struct {
	Source Operand
	Target Label
}

func (*JumpIfArchetype) Opcode() Opcode { return OpJumpIfArchetype }

func (i *JumpIfArchetype) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Source)
}

func (i *JumpIfArchetype) ForEachLabel(fn func(l *Label)) { fn(&i.Target) }
func (i *JumpIfArchetype) Clone() Instruction             { c := *i; return &c }

// Switch jumps to Targets[Which].
type Switch struct {
	Which   Operand
	Targets []Label
}

func (*Switch) Opcode() Opcode { return OpSwitch }

func (i *Switch) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Which)
}

func (i *Switch) ForEachLabel(fn func(l *Label)) {
	for j := range i.Targets {
		fn(&i.Targets[j])
	}
}

func (i *Switch) Clone() Instruction {
	c := *i
	c.Targets = slices.Clone(i.Targets)
	return &c
}

// BeginFailureContext opens a transactional scope, execution continues at OnFailure if the scope fails.
type BeginFailureContext struct {
	OnFailure Label
}

func (*BeginFailureContext) Opcode() Opcode                   { return OpBeginFailureContext }
func (*BeginFailureContext) ForEachOperand(fn OperandVisitor) {}
func (i *BeginFailureContext) ForEachLabel(fn func(l *Label)) { fn(&i.OnFailure) }
func (i *BeginFailureContext) Clone() Instruction             { c := *i; return &c }

// EndFailureContext closes the innermost scope. The code between it and the OnFailure label
// of the scope (the "then" part) runs after the scope succeeded, Done is the join point.
type EndFailureContext struct {
	Done Label
}

func (*EndFailureContext) Opcode() Opcode                   { return OpEndFailureContext }
func (*EndFailureContext) ForEachOperand(fn OperandVisitor) {}
func (i *EndFailureContext) ForEachLabel(fn func(l *Label)) { fn(&i.Done) }
func (i *EndFailureContext) Clone() Instruction             { c := *i; return &c }

type Return struct {
	Value Operand
	noLabels
}

func (*Return) Opcode() Opcode { return OpReturn }

func (i *Return) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Value)
}

func (i *Return) Clone() Instruction { c := *i; return &c }

// ResumeUnwind continues the unwinding of a canceled task after cleanup code.
type ResumeUnwind struct {
	noLabels
}

func (*ResumeUnwind) Opcode() Opcode                   { return OpResumeUnwind }
func (*ResumeUnwind) ForEachOperand(fn OperandVisitor) {}
func (i *ResumeUnwind) Clone() Instruction             { c := *i; return &c }

// Call calls Callee with positional and named arguments.
type Call struct {
	Dest           Operand
	Callee         Operand
	Arguments      []Operand
	NamedNames     []string
	NamedArguments []Operand
	noLabels
}

func (*Call) Opcode() Opcode { return OpCall }

func (i *Call) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Callee)
	visitAll(fn, Use, i.Arguments)
	visitAll(fn, Use, i.NamedArguments)
}

func (i *Call) Clone() Instruction {
	c := *i
	c.Arguments = slices.Clone(i.Arguments)
	c.NamedNames = slices.Clone(i.NamedNames)
	c.NamedArguments = slices.Clone(i.NamedArguments)
	return &c
}

// CallWithSelf is a Call that overrides the self value of the callee.
type CallWithSelf struct {
	Dest           Operand
	Callee         Operand
	Self           Operand
	Arguments      []Operand
	NamedNames     []string
	NamedArguments []Operand
	noLabels
}

func (*CallWithSelf) Opcode() Opcode { return OpCallWithSelf }

func (i *CallWithSelf) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Callee)
	visit(fn, Use, &i.Self)
	visitAll(fn, Use, i.Arguments)
	visitAll(fn, Use, i.NamedArguments)
}

func (i *CallWithSelf) Clone() Instruction {
	c := *i
	c.Arguments = slices.Clone(i.Arguments)
	c.NamedNames = slices.Clone(i.NamedNames)
	c.NamedArguments = slices.Clone(i.NamedArguments)
	return &c
}

// BeginTask starts a task running the code that follows, the spawner continues at OnYield
// once the task yields for the first time. Dest receives the task.
type BeginTask struct {
	Dest     Operand
	OnYield  Label
	Attached bool
}

func (*BeginTask) Opcode() Opcode { return OpBeginTask }

func (i *BeginTask) ForEachOperand(fn OperandVisitor) {
	visit(fn, ClobberDef, &i.Dest)
}

func (i *BeginTask) ForEachLabel(fn func(l *Label)) { fn(&i.OnYield) }
func (i *BeginTask) Clone() Instruction             { c := *i; return &c }

// EndTask settles the running task with Value. Write (optional) receives the result if it is
// still uninitialized, Signal (optional) is a semaphore signaled on settlement.
type EndTask struct {
	Value  Operand
	Write  Operand
	Signal Operand
	noLabels
}

func (*EndTask) Opcode() Opcode { return OpEndTask }

func (i *EndTask) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Value)
	visit(fn, ClobberDef, &i.Write)
	visit(fn, Use, &i.Signal)
}

func (i *EndTask) Clone() Instruction { c := *i; return &c }

type NewSemaphore struct {
	Dest Operand
	noLabels
}

func (*NewSemaphore) Opcode() Opcode { return OpNewSemaphore }

func (i *NewSemaphore) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
}

func (i *NewSemaphore) Clone() Instruction { c := *i; return &c }

// WaitSemaphore decrements the semaphore by Count and yields while its count is negative.
type WaitSemaphore struct {
	Semaphore Operand
	Count     int
	noLabels
}

func (*WaitSemaphore) Opcode() Opcode { return OpWaitSemaphore }

func (i *WaitSemaphore) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Semaphore)
}

func (i *WaitSemaphore) Clone() Instruction { c := *i; return &c }

// Yield parks the running task, Dest receives the value the task is resumed with.
type Yield struct {
	Dest Operand
	noLabels
}

func (*Yield) Opcode() Opcode { return OpYield }

func (i *Yield) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
}

func (i *Yield) Clone() Instruction { c := *i; return &c }

type Await struct {
	Dest Operand
	Task Operand
	noLabels
}

func (*Await) Opcode() Opcode { return OpAwait }

func (i *Await) ForEachOperand(fn OperandVisitor) {
	visit(fn, UnifyDef, &i.Dest)
	visit(fn, Use, &i.Task)
}

func (i *Await) Clone() Instruction { c := *i; return &c }

type Cancel struct {
	Task Operand
	noLabels
}

func (*Cancel) Opcode() Opcode { return OpCancel }

func (i *Cancel) ForEachOperand(fn OperandVisitor) {
	visit(fn, Use, &i.Task)
}

func (i *Cancel) Clone() Instruction { c := *i; return &c }
