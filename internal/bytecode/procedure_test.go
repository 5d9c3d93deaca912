package bytecode

import (
	"strings"
	"testing"

	"github.com/inoxlang/lenivm/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	t.Run("parameters are pinned at the start of the register space", func(t *testing.T) {
		b := NewBuilder("f", 2, "x")
		assert.Equal(t, Reg(0), b.Self())
		assert.Equal(t, Reg(1), b.Param(0))
		assert.Equal(t, Reg(2), b.Param(1))
		assert.Equal(t, Reg(3), b.NamedParam("x"))
		assert.Equal(t, Reg(4), b.NewRegister("tmp"))

		b.Emit(&Return{Value: Reg(4)})
		proc, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, 4, proc.PinnedRegisterCount())
		assert.Equal(t, 5, proc.NumRegisters)
		assert.Equal(t, "tmp", proc.RegisterName(4))
	})

	t.Run("labels are resolved to offsets", func(t *testing.T) {
		b := NewBuilder("f", 1)
		end := b.NewLabel()
		b.Emit(&Jump{Target: end})
		b.Emit(&Err{Message: "unreachable"})
		b.Mark(end)
		b.Emit(&Return{Value: b.Param(0)})
		b.UnwindEdge(0, end, end)

		proc, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, Label(2), proc.Code[0].(*Jump).Target)
		assert.Equal(t, UnwindEdge{Begin: 0, End: 2, OnUnwind: 2}, proc.UnwindEdges[0])
	})

	t.Run("an unmarked label is an error", func(t *testing.T) {
		b := NewBuilder("f", 0)
		b.Emit(&Jump{Target: b.NewLabel()})
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrMalformedProcedure)
	})

	t.Run("a register out of range is an error", func(t *testing.T) {
		b := NewBuilder("f", 0)
		b.Emit(&Return{Value: Reg(7)})
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrMalformedProcedure)
	})

	t.Run("code continuing past the last instruction is an error", func(t *testing.T) {
		b := NewBuilder("f", 1)
		x := b.NewRegister("x")
		b.Emit(&Add{Binary: Binary{Dest: x, Left: b.Self(), Right: b.Param(0)}})
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrMalformedProcedure)

		b = NewBuilder("f", 0)
		done := b.NewLabel()
		b.Emit(&Return{Value: b.Self()})
		b.Mark(done)
		b.Emit(&BeginFailureContext{OnFailure: done})
		_, err = b.Build()
		assert.ErrorIs(t, err, ErrMalformedProcedure)
	})

	t.Run("a constant cannot be defined", func(t *testing.T) {
		b := NewBuilder("f", 0)
		c := b.Const(value.Int(1))
		b.Emit(&Move{Unary: Unary{Dest: c, Source: c}})
		b.Emit(&Return{Value: c})
		_, err := b.Build()
		assert.ErrorIs(t, err, ErrMalformedProcedure)
	})
}

func TestInstruction(t *testing.T) {
	t.Run("operands are visited with their role and can be rewritten", func(t *testing.T) {
		add := &Add{Binary: Binary{Dest: Reg(2), Left: Reg(0), Right: Const(0)}}

		var roles []Role
		add.ForEachOperand(func(role Role, op *Operand) {
			roles = append(roles, role)
			if op.IsRegister() {
				*op = Reg(op.Register() + 10)
			}
		})
		assert.Equal(t, []Role{UnifyDef, Use, Use}, roles)
		assert.Equal(t, Reg(12), add.Dest)
		assert.Equal(t, Reg(10), add.Left)
		assert.Equal(t, Const(0), add.Right)
	})

	t.Run("clones do not share operand storage", func(t *testing.T) {
		call := &Call{Dest: Reg(1), Callee: Reg(2), Arguments: []Operand{Reg(3)}}
		clone := call.Clone().(*Call)
		clone.Arguments[0] = Reg(9)
		assert.Equal(t, Reg(3), call.Arguments[0])
	})

	t.Run("effectful opcodes", func(t *testing.T) {
		assert.True(t, OpVarSet.IsEffectful())
		assert.True(t, OpCallSet.IsEffectful())
		assert.False(t, OpAdd.IsEffectful())
		assert.Equal(t, "LoadFieldICOffset", OpLoadFieldICOffset.String())
	})
}

func TestProcedureLocations(t *testing.T) {
	b := NewBuilder("f", 0)
	b.At(1, 1)
	r := b.NewRegister("x")
	b.Emit(&Move{Unary: Unary{Dest: r, Source: b.Const(value.Int(1))}})
	b.Emit(&Tracepoint{Name: "here"})
	b.At(3, 5)
	b.Emit(&Return{Value: r})
	proc := b.MustBuild()

	loc, ok := proc.LocationAt(1)
	assert.True(t, ok)
	assert.Equal(t, 1, loc.Line)

	loc, ok = proc.LocationAt(2)
	assert.True(t, ok)
	assert.Equal(t, SourceLocation{Offset: 2, Line: 3, Column: 5}, loc)
	assert.Equal(t, "f:3:5", proc.FormatLocation(2))

	listing := proc.String()
	assert.True(t, strings.Contains(listing, "0000 Move =x, 1"), listing)
	assert.True(t, strings.Contains(listing, `Tracepoint "here"`), listing)
}
