package bytecode

import (
	"fmt"

	"github.com/inoxlang/lenivm/internal/value"
)

// A Builder assembles a Procedure. Labels returned by NewLabel are negative until Build
// replaces them by the offsets they were marked at, non-negative labels are kept as is.
type Builder struct {
	proc         *Procedure
	labelOffsets []int
	unwindEdges  []UnwindEdge
}

func NewBuilder(name string, numPositional int, namedParams ...string) *Builder {
	proc := &Procedure{
		Name:                    name,
		NumPositionalParameters: numPositional,
	}
	proc.RegisterNames = append(proc.RegisterNames, "self")
	for i := 0; i < numPositional; i++ {
		proc.RegisterNames = append(proc.RegisterNames, fmt.Sprintf("p%d", i))
	}
	for i, name := range namedParams {
		proc.NamedParameters = append(proc.NamedParameters, NamedParameter{
			Name:     name,
			Register: ParameterStart + Register(numPositional+i),
		})
		proc.RegisterNames = append(proc.RegisterNames, name)
	}
	proc.NumRegisters = proc.PinnedRegisterCount()
	return &Builder{proc: proc}
}

func (b *Builder) Self() Operand {
	return Reg(RegisterSelf)
}

func (b *Builder) Param(i int) Operand {
	if i < 0 || i >= b.proc.NumPositionalParameters {
		panic(fmt.Errorf("no positional parameter %d", i))
	}
	return Reg(ParameterStart + Register(i))
}

func (b *Builder) NamedParam(name string) Operand {
	param, ok := b.proc.NamedParameter(name)
	if !ok {
		panic(fmt.Errorf("no named parameter %q", name))
	}
	return Reg(param.Register)
}

// NewRegister allocates a register, name is only used for debugging.
func (b *Builder) NewRegister(name string) Operand {
	r := Register(b.proc.NumRegisters)
	b.proc.NumRegisters++
	b.proc.RegisterNames = append(b.proc.RegisterNames, name)
	return Reg(r)
}

func (b *Builder) Const(v value.Value) Operand {
	b.proc.Constants = append(b.proc.Constants, v)
	return Const(len(b.proc.Constants) - 1)
}

func (b *Builder) NewLabel() Label {
	b.labelOffsets = append(b.labelOffsets, -1)
	return Label(-len(b.labelOffsets))
}

// Mark binds l to the offset of the next emitted instruction.
func (b *Builder) Mark(l Label) {
	index := -int(l) - 1
	if index < 0 || index >= len(b.labelOffsets) {
		panic(fmt.Errorf("unknown label %d", l))
	}
	if b.labelOffsets[index] >= 0 {
		panic(fmt.Errorf("label %d is already marked", l))
	}
	b.labelOffsets[index] = len(b.proc.Code)
}

// Here returns the offset of the next emitted instruction.
func (b *Builder) Here() int {
	return len(b.proc.Code)
}

// At sets the source location of the next emitted instructions.
func (b *Builder) At(line, column int) {
	b.proc.Locations = append(b.proc.Locations, SourceLocation{
		Offset: len(b.proc.Code),
		Line:   line,
		Column: column,
	})
}

func (b *Builder) Emit(instr Instruction) int {
	b.proc.Code = append(b.proc.Code, instr)
	return len(b.proc.Code) - 1
}

func (b *Builder) UnwindEdge(begin, end, onUnwind Label) {
	b.unwindEdges = append(b.unwindEdges, UnwindEdge{Begin: begin, End: end, OnUnwind: onUnwind})
}

func (b *Builder) resolve(l *Label) error {
	if *l >= 0 {
		return nil
	}
	index := -int(*l) - 1
	if index >= len(b.labelOffsets) || b.labelOffsets[index] < 0 {
		return fmt.Errorf("%w: %s: label %d is never marked", ErrMalformedProcedure, b.proc.Name, *l)
	}
	*l = Label(b.labelOffsets[index])
	return nil
}

// Build resolves labels and validates the procedure. The builder should not be used afterwards.
func (b *Builder) Build() (*Procedure, error) {
	var err error
	for _, instr := range b.proc.Code {
		instr.ForEachLabel(func(l *Label) {
			if err == nil {
				err = b.resolve(l)
			}
		})
	}
	for _, edge := range b.unwindEdges {
		for _, l := range []*Label{&edge.Begin, &edge.End, &edge.OnUnwind} {
			if err == nil {
				err = b.resolve(l)
			}
		}
		b.proc.UnwindEdges = append(b.proc.UnwindEdges, edge)
	}
	if err != nil {
		return nil, err
	}

	if err := b.proc.Validate(); err != nil {
		return nil, err
	}
	return b.proc, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Procedure {
	proc, err := b.Build()
	if err != nil {
		panic(err)
	}
	return proc
}
