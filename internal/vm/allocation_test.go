package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

// TestAllocatedFunction runs procedures before and after register allocation and compares the results.
func TestAllocatedFunction(t *testing.T) {
	// runBoth builds two copies of a procedure, allocates the registers of the second one and
	// runs scenario with both. It returns the allocated procedure.
	runBoth := func(t *testing.T, build func() *bytecode.Procedure, scenario func(r *Runtime, fn value.Value) Result) (original, allocated Result, proc *bytecode.Procedure) {
		original = scenario(newTestRuntime(t), value.FromCell(NewFunction(build())))

		proc = build()
		fn, err := NewAllocatedFunction(proc)
		require.NoError(t, err)
		allocated = scenario(newTestRuntime(t), value.FromCell(fn))
		return
	}

	invoke := func(args ...value.Value) func(r *Runtime, fn value.Value) Result {
		return func(r *Runtime, fn value.Value) Result {
			return r.Invoke(fn, args, nil)
		}
	}

	t.Run("temporaries sharing a register", func(t *testing.T) {
		build := func() *bytecode.Procedure {
			b := bytecode.NewBuilder("square-sum", 2)
			t1, t2, sum := b.NewRegister("t1"), b.NewRegister("t2"), b.NewRegister("sum")

			b.Emit(&bytecode.Reset{Dest: t1})
			b.Emit(&bytecode.Add{Binary: binary(t1, b.Param(0), b.Param(1))})
			b.Emit(&bytecode.Reset{Dest: sum})
			b.Emit(&bytecode.Move{Unary: unary(sum, t1)})
			b.Emit(&bytecode.Reset{Dest: t2})
			b.Emit(&bytecode.Mul{Binary: binary(t2, sum, sum)})
			b.Emit(&bytecode.Return{Value: t2})
			return b.MustBuild()
		}

		original, allocated, proc := runBoth(t, build, invoke(value.Int(3), value.Int(4)))
		require.Equal(t, StatusReturn, original.Status, original.Err)
		require.Equal(t, StatusReturn, allocated.Status, allocated.Err)
		requireInt(t, 49, original.Value)
		requireInt(t, 49, allocated.Value)
		assert.Equal(t, 5, proc.NumRegisters)
	})

	//res is 10 / (p0 + 1), or -1 if the division fails.
	buildSafeDivide := func() *bytecode.Procedure {
		b := bytecode.NewBuilder("safe-divide", 1)
		d, q, res := b.NewRegister("d"), b.NewRegister("q"), b.NewRegister("res")
		onFailure, done := b.NewLabel(), b.NewLabel()

		b.Emit(&bytecode.Reset{Dest: res})
		b.Emit(&bytecode.BeginFailureContext{OnFailure: onFailure})
		b.Emit(&bytecode.Reset{Dest: d})
		b.Emit(&bytecode.Add{Binary: binary(d, b.Param(0), b.Const(value.Int(1)))})
		b.Emit(&bytecode.Reset{Dest: q})
		b.Emit(&bytecode.Div{Binary: binary(q, b.Const(value.Int(10)), d)})
		b.Emit(&bytecode.EndFailureContext{Done: done})
		b.Emit(&bytecode.Move{Unary: unary(res, q)})
		b.Emit(&bytecode.Jump{Target: done})
		b.Mark(onFailure)
		b.Emit(&bytecode.Move{Unary: unary(res, b.Const(value.Int(-1)))})
		b.Mark(done)
		b.Emit(&bytecode.Return{Value: res})
		return b.MustBuild()
	}

	t.Run("successful failure context", func(t *testing.T) {
		original, allocated, _ := runBoth(t, buildSafeDivide, invoke(value.Int(1)))
		require.Equal(t, StatusReturn, original.Status, original.Err)
		require.Equal(t, StatusReturn, allocated.Status, allocated.Err)
		requireInt(t, 5, original.Value)
		requireInt(t, 5, allocated.Value)
	})

	t.Run("failed failure context", func(t *testing.T) {
		original, allocated, _ := runBoth(t, buildSafeDivide, invoke(value.Int(-1)))
		require.Equal(t, StatusReturn, original.Status, original.Err)
		require.Equal(t, StatusReturn, allocated.Status, allocated.Err)
		requireInt(t, -1, original.Value)
		requireInt(t, -1, allocated.Value)
	})

	t.Run("task body", func(t *testing.T) {
		//the child yields, the spawner computes p0 + 1 then awaits the child,
		//the child is resumed with 5 and settles with 5 + p0.
		build := func() *bytecode.Procedure {
			b := bytecode.NewBuilder("spawner", 1)
			k, v, w := b.NewRegister("k"), b.NewRegister("v"), b.NewRegister("w")
			a, c, sum := b.NewRegister("a"), b.NewRegister("c"), b.NewRegister("sum")
			spawned := b.NewLabel()

			b.Emit(&bytecode.BeginTask{Dest: k, OnYield: spawned, Attached: true})
			b.Emit(&bytecode.Yield{Dest: v})
			b.Emit(&bytecode.Add{Binary: binary(w, v, b.Param(0))})
			b.Emit(&bytecode.EndTask{Value: w})
			b.Mark(spawned)
			b.Emit(&bytecode.Reset{Dest: a})
			b.Emit(&bytecode.Add{Binary: binary(a, b.Param(0), b.Const(value.Int(1)))})
			b.Emit(&bytecode.Reset{Dest: c})
			b.Emit(&bytecode.Await{Dest: c, Task: k})
			b.Emit(&bytecode.Reset{Dest: sum})
			b.Emit(&bytecode.Add{Binary: binary(sum, a, c)})
			b.Emit(&bytecode.Return{Value: sum})
			return b.MustBuild()
		}

		scenario := func(r *Runtime, fn value.Value) Result {
			spawner := r.Invoke(fn, []value.Value{value.Int(10)}, nil)
			if spawner.Status != StatusYield {
				return spawner
			}
			children := spawner.Task.Children()
			if len(children) != 1 {
				return Result{Status: StatusError}
			}
			r.Resume(children[0], value.Int(5))
			return Result{Status: StatusReturn, Value: spawner.Value, Task: spawner.Task}
		}

		original, allocated, _ := runBoth(t, build, scenario)
		require.Equal(t, StatusReturn, original.Status, original.Err)
		require.Equal(t, StatusReturn, allocated.Status, allocated.Err)
		requireInt(t, 26, original.Value)
		requireInt(t, 26, allocated.Value)
		assert.True(t, allocated.Task.IsSettled())
	})
}
