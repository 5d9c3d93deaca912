package bytecode

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/inoxlang/lenivm/internal/value"
)

var (
	ErrMalformedProcedure = errors.New("malformed procedure")
)

// A Procedure is a compiled function body. It is not modified after construction except by
// register allocation and by inline caches rewriting field loads.
type Procedure struct {
	Name     string
	FilePath string

	NumPositionalParameters int
	NamedParameters         []NamedParameter

	NumRegisters  int
	RegisterNames []string //debug names indexed by register, may be shorter than NumRegisters

	Code        []Instruction
	Constants   []value.Value
	UnwindEdges []UnwindEdge
	Locations   []SourceLocation //sorted by offset
}

type NamedParameter struct {
	Name     string
	Register Register
}

// An UnwindEdge maps the range of offsets ]Begin, End] to the code run when a task is canceled
// while suspended in that range.
type UnwindEdge struct {
	Begin    Label
	End      Label
	OnUnwind Label
}

// Covers reports whether the resume offset pc is in the range of the edge.
func (e UnwindEdge) Covers(pc int) bool {
	return int(e.Begin) < pc && pc <= int(e.End)
}

// A SourceLocation applies to the instructions starting at Offset until the next location.
type SourceLocation struct {
	Offset int
	Line   int
	Column int
}

// PinnedRegisterCount returns the number of registers that hold the self value and the parameters.
func (p *Procedure) PinnedRegisterCount() int {
	return int(ParameterStart) + p.NumPositionalParameters + len(p.NamedParameters)
}

func (p *Procedure) NamedParameter(name string) (NamedParameter, bool) {
	for _, param := range p.NamedParameters {
		if param.Name == name {
			return param, true
		}
	}
	return NamedParameter{}, false
}

func (p *Procedure) RegisterName(r Register) string {
	if int(r) < len(p.RegisterNames) && p.RegisterNames[r] != "" {
		return p.RegisterNames[r]
	}
	return r.String()
}

// LocationAt returns the source location of the instruction at offset pc.
func (p *Procedure) LocationAt(pc int) (SourceLocation, bool) {
	i, found := slices.BinarySearchFunc(p.Locations, pc, func(loc SourceLocation, pc int) int {
		return loc.Offset - pc
	})
	if !found {
		i--
	}
	if i < 0 {
		return SourceLocation{}, false
	}
	return p.Locations[i], true
}

// FormatLocation returns a location string such as name:line:column for the instruction at pc.
func (p *Procedure) FormatLocation(pc int) string {
	prefix := p.Name
	if p.FilePath != "" {
		prefix = p.FilePath
	}
	loc, ok := p.LocationAt(pc)
	if !ok {
		return fmt.Sprintf("%s@%d", prefix, pc)
	}
	return fmt.Sprintf("%s:%d:%d", prefix, loc.Line, loc.Column)
}

// Validate checks that labels, registers and constants referenced by the code are in range
// and that execution cannot continue past the end of the code.
func (p *Procedure) Validate() error {
	if p.NumRegisters < p.PinnedRegisterCount() {
		return fmt.Errorf("%w: %s: %d registers for %d pinned registers", ErrMalformedProcedure, p.Name, p.NumRegisters, p.PinnedRegisterCount())
	}
	for i, param := range p.NamedParameters {
		expected := int(ParameterStart) + p.NumPositionalParameters + i
		if int(param.Register) != expected {
			return fmt.Errorf("%w: %s: named parameter %s should be stored in r%d", ErrMalformedProcedure, p.Name, param.Name, expected)
		}
	}
	if len(p.Code) == 0 {
		return fmt.Errorf("%w: %s: empty code", ErrMalformedProcedure, p.Name)
	}
	if last := p.Code[len(p.Code)-1]; !last.Opcode().IsTerminal() {
		return fmt.Errorf("%w: %s: the last instruction (%s) continues past the end of the code", ErrMalformedProcedure, p.Name, last.Opcode())
	}

	var err error
	checkLabel := func(pc int, l Label) {
		if err == nil && (l < 0 || int(l) >= len(p.Code)) {
			err = fmt.Errorf("%w: %s: instruction %d: label %s out of range", ErrMalformedProcedure, p.Name, pc, l)
		}
	}

	for pc, instr := range p.Code {
		if newMap, ok := instr.(*NewMap); ok && len(newMap.Keys) != len(newMap.Values) {
			return fmt.Errorf("%w: %s: instruction %d: %d map keys for %d values", ErrMalformedProcedure, p.Name, pc, len(newMap.Keys), len(newMap.Values))
		}
		instr.ForEachLabel(func(l *Label) {
			checkLabel(pc, *l)
		})
		instr.ForEachOperand(func(role Role, op *Operand) {
			if err != nil {
				return
			}
			switch op.Kind {
			case RegisterOperand:
				if int(op.Index) >= p.NumRegisters {
					err = fmt.Errorf("%w: %s: instruction %d: register %s out of range", ErrMalformedProcedure, p.Name, pc, op)
				}
			case ConstantOperand:
				if role.IsDef() {
					err = fmt.Errorf("%w: %s: instruction %d: constant %s cannot be defined", ErrMalformedProcedure, p.Name, pc, op)
				} else if int(op.Index) >= len(p.Constants) {
					err = fmt.Errorf("%w: %s: instruction %d: constant %s out of range", ErrMalformedProcedure, p.Name, pc, op)
				}
			case CapturedOperand:
				err = fmt.Errorf("%w: %s: instruction %d: captured operand in procedure code", ErrMalformedProcedure, p.Name, pc)
			}
		})
		if err != nil {
			return err
		}
	}

	for _, edge := range p.UnwindEdges {
		checkLabel(-1, edge.Begin)
		checkLabel(-1, edge.End)
		checkLabel(-1, edge.OnUnwind)
		if err == nil && edge.Begin > edge.End {
			err = fmt.Errorf("%w: %s: unwind edge with begin %s after end %s", ErrMalformedProcedure, p.Name, edge.Begin, edge.End)
		}
	}
	return err
}

// Disassemble writes a human readable listing of the code.
func (p *Procedure) Disassemble(w io.Writer) error {
	_, err := fmt.Fprintf(w, "procedure %s (params: %d positional, %d named; registers: %d)\n",
		p.Name, p.NumPositionalParameters, len(p.NamedParameters), p.NumRegisters)
	if err != nil {
		return err
	}
	for pc, instr := range p.Code {
		if _, err := fmt.Fprintf(w, "%04d %s\n", pc, FormatInstruction(p, instr)); err != nil {
			return err
		}
	}
	for _, edge := range p.UnwindEdges {
		if _, err := fmt.Fprintf(w, "unwind ]%s, %s] -> %s\n", edge.Begin, edge.End, edge.OnUnwind); err != nil {
			return err
		}
	}
	return nil
}

func (p *Procedure) String() string {
	buf := &strings.Builder{}
	p.Disassemble(buf)
	return buf.String()
}

// FormatInstruction formats an instruction as its opcode followed by its operands and labels.
func FormatInstruction(p *Procedure, instr Instruction) string {
	buf := strings.Builder{}
	buf.WriteString(instr.Opcode().String())

	first := true
	sep := func() {
		if first {
			buf.WriteByte(' ')
			first = false
		} else {
			buf.WriteString(", ")
		}
	}

	instr.ForEachOperand(func(role Role, op *Operand) {
		sep()
		if role.IsDef() {
			buf.WriteString("=")
		}
		if p != nil && op.Kind == RegisterOperand {
			buf.WriteString(p.RegisterName(Register(op.Index)))
		} else if p != nil && op.Kind == ConstantOperand && int(op.Index) < len(p.Constants) {
			buf.WriteString(p.Constants[op.Index].String())
		} else {
			buf.WriteString(op.String())
		}
	})
	instr.ForEachLabel(func(l *Label) {
		sep()
		buf.WriteString(l.String())
	})

	switch instr := instr.(type) {
	case *LoadField:
		sep()
		buf.WriteString("." + instr.Field)
	case *LoadFieldICOffset:
		sep()
		buf.WriteString("." + instr.Field)
	case *SetField:
		sep()
		buf.WriteString("." + instr.Field)
	case *UnifyField:
		sep()
		buf.WriteString("." + instr.Field)
	case *Tracepoint:
		sep()
		buf.WriteString(fmt.Sprintf("%q", instr.Name))
	case *Err:
		sep()
		buf.WriteString(fmt.Sprintf("%q", instr.Message))
	}
	return buf.String()
}
