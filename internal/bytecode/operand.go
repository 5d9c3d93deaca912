package bytecode

import (
	"strconv"
)

const (
	// RegisterSelf holds the self value of the running function.
	RegisterSelf Register = 0
	// ParameterStart is the first register holding a parameter, positional parameters come first.
	ParameterStart Register = 1
)

type Register uint32

func (r Register) String() string {
	return "r" + strconv.FormatUint(uint64(r), 10)
}

type OperandKind uint8

const (
	NoOperandKind OperandKind = iota
	RegisterOperand
	ConstantOperand
	// CapturedOperand refers to a value captured by a suspension.
	CapturedOperand
)

// An Operand refers to a register, a constant of the procedure or a captured value.
type Operand struct {
	Kind  OperandKind
	Index uint32
}

var NoOperand = Operand{}

func Reg(r Register) Operand {
	return Operand{Kind: RegisterOperand, Index: uint32(r)}
}

func Const(index int) Operand {
	return Operand{Kind: ConstantOperand, Index: uint32(index)}
}

func Captured(index int) Operand {
	return Operand{Kind: CapturedOperand, Index: uint32(index)}
}

func (o Operand) IsNone() bool {
	return o.Kind == NoOperandKind
}

func (o Operand) IsRegister() bool {
	return o.Kind == RegisterOperand
}

func (o Operand) Register() Register {
	if o.Kind != RegisterOperand {
		panic("operand is not a register")
	}
	return Register(o.Index)
}

func (o Operand) String() string {
	switch o.Kind {
	case RegisterOperand:
		return Register(o.Index).String()
	case ConstantOperand:
		return "c" + strconv.FormatUint(uint64(o.Index), 10)
	case CapturedOperand:
		return "cap" + strconv.FormatUint(uint64(o.Index), 10)
	}
	return "_"
}

// A Label is the offset of an instruction in the code of a procedure.
type Label int

func (l Label) String() string {
	return "@" + strconv.Itoa(int(l))
}

// Role is the way an instruction accesses an operand.
type Role uint8

const (
	// Use reads the operand.
	Use Role = iota + 1
	// UnifyDef defines the operand by unifying it with the result.
	UnifyDef
	// ClobberDef overwrites the operand.
	ClobberDef
)

func (r Role) IsDef() bool {
	return r == UnifyDef || r == ClobberDef
}

func (r Role) String() string {
	switch r {
	case Use:
		return "use"
	case UnifyDef:
		return "unify-def"
	case ClobberDef:
		return "clobber-def"
	}
	return "?"
}

// An OperandVisitor is called with a pointer to each operand of an instruction,
// visitors may rewrite operands in place.
type OperandVisitor func(role Role, op *Operand)

func visit(fn OperandVisitor, role Role, op *Operand) {
	if !op.IsNone() {
		fn(role, op)
	}
}

func visitAll(fn OperandVisitor, role Role, ops []Operand) {
	for i := range ops {
		visit(fn, role, &ops[i])
	}
}
