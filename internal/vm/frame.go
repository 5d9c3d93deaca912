package vm

import (
	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

// A Frame holds the registers of a running procedure.
type Frame struct {
	Procedure *bytecode.Procedure
	Registers []value.Value

	Caller *Frame
	// ReturnPC is the offset execution continues at in the caller.
	ReturnPC int
	// ReturnSlot is the operand of the caller defined by the returned value.
	ReturnSlot bytecode.Operand
	Depth      int
}

func newFrame(proc *bytecode.Procedure, caller *Frame, returnPC int, returnSlot bytecode.Operand) *Frame {
	depth := 1
	if caller != nil {
		depth = caller.Depth + 1
	}
	return &Frame{
		Procedure:  proc,
		Registers:  make([]value.Value, proc.NumRegisters),
		Caller:     caller,
		ReturnPC:   returnPC,
		ReturnSlot: returnSlot,
		Depth:      depth,
	}
}

// Get returns the content of a register without creating a placeholder.
func (f *Frame) Get(r bytecode.Register) value.Value {
	return f.Registers[r]
}

// Set overwrites a register.
func (f *Frame) Set(j value.Journal, r bytecode.Register, v value.Value) {
	prev := f.Registers[r]
	f.Registers[r] = v
	if j != nil {
		if tx, ok := j.(*Transaction); ok {
			tx.recordRegisterWrite(f, r, prev)
		}
		j.Record(func() {
			f.Registers[r] = prev
		})
	}
}

// RestValue returns the value of a register, an uninitialized register is first given a fresh placeholder
// so that the reader and the instruction defining the register later share the same value.
func (f *Frame) RestValue(j value.Journal, r bytecode.Register) value.Value {
	v := f.Registers[r]
	if v.IsUninitialized() {
		v = value.FromPlaceholder(value.NewPlaceholder())
		f.Set(j, r, v)
	}
	return v
}

// CloneWithoutCaller returns a copy of the frame that is not linked to the caller.
func (f *Frame) CloneWithoutCaller() *Frame {
	return &Frame{
		Procedure:  f.Procedure,
		Registers:  append([]value.Value(nil), f.Registers...),
		ReturnPC:   -1,
		ReturnSlot: bytecode.NoOperand,
		Depth:      1,
	}
}
