package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

// yielder returns a function that yields and then returns the value it is resumed with.
// Its cleanup code only resumes unwinding.
func yielder() value.Value {
	b := bytecode.NewBuilder("yielder", 0)
	x := b.NewRegister("x")
	cleanup := b.NewLabel()

	yield := b.Emit(&bytecode.Yield{Dest: x})
	b.Emit(&bytecode.Return{Value: x})
	b.Mark(cleanup)
	b.Emit(&bytecode.ResumeUnwind{})
	b.UnwindEdge(bytecode.Label(yield), bytecode.Label(yield+1), cleanup)
	return function(b)
}

// awaiter returns a function awaiting the task p0 then recording p1 with record.
func awaiter(record value.Value) value.Value {
	b := bytecode.NewBuilder("awaiter", 2)
	x := b.NewRegister("x")
	b.Emit(&bytecode.Await{Dest: x, Task: b.Param(0)})
	b.Emit(&bytecode.Call{Callee: b.Const(record), Arguments: []bytecode.Operand{b.Param(1)}})
	b.Emit(&bytecode.Return{Value: x})
	return function(b)
}

func recorder(events *[]int64) value.Value {
	return native("record", func(ctx *NativeContext, self value.Value, args []value.Value, named map[string]value.Value) NativeResult {
		*events = append(*events, args[0].AsInt())
		return Return(value.False())
	})
}

func TestSpawnAndResume(t *testing.T) {
	t.Run("a yielding task receives the value it is resumed with", func(t *testing.T) {
		r := newTestRuntime(t)

		task, res := r.Spawn(yielder(), nil, nil)
		require.Equal(t, StatusYield, res.Status, res.Err)
		assert.True(t, task.IsParked())
		assert.False(t, res.Value.IsConcrete())
		assert.Equal(t, 1, r.LiveTasks())

		res = r.Resume(task, value.Int(7))
		require.Equal(t, StatusReturn, res.Status, res.Err)
		requireInt(t, 7, res.Value)
		requireInt(t, 7, task.Result())
		assert.True(t, task.IsSettled())
		assert.Zero(t, r.LiveTasks())
	})

	t.Run("resuming a settled task is ignored", func(t *testing.T) {
		r := newTestRuntime(t)

		task, _ := r.Spawn(yielder(), nil, nil)
		r.Resume(task, value.Int(7))

		res := r.Resume(task, value.Int(8))
		assert.Equal(t, StatusIgnored, res.Status)
		requireInt(t, 7, task.Result())
	})

	t.Run("a native function can park the task", func(t *testing.T) {
		r := newTestRuntime(t)

		park := native("park", func(ctx *NativeContext, self value.Value, args []value.Value, named map[string]value.Value) NativeResult {
			return YieldTask()
		})

		task, res := r.Spawn(park, nil, nil)
		require.Equal(t, StatusYield, res.Status, res.Err)

		res = r.Resume(task, value.Int(9))
		require.Equal(t, StatusReturn, res.Status, res.Err)
		requireInt(t, 9, res.Value)
	})

	t.Run("a live task can be looked up by its ID", func(t *testing.T) {
		r := newTestRuntime(t)

		task, _ := r.Spawn(yielder(), nil, nil)
		found, ok := r.Task(task.ID)
		require.True(t, ok)
		assert.Same(t, task, found)

		r.Resume(task, value.Int(1))
		_, ok = r.Task(task.ID)
		assert.False(t, ok)
	})
}

func TestAwait(t *testing.T) {
	t.Run("awaiting tasks are woken most recent first with the result", func(t *testing.T) {
		r := newTestRuntime(t)
		var events []int64
		await := awaiter(recorder(&events))

		producer, _ := r.Spawn(yielder(), nil, nil)

		first := r.Invoke(await, []value.Value{value.FromCell(producer), value.Int(1)}, nil)
		require.Equal(t, StatusYield, first.Status, first.Err)
		second := r.Invoke(await, []value.Value{value.FromCell(producer), value.Int(2)}, nil)
		require.Equal(t, StatusYield, second.Status, second.Err)
		assert.Empty(t, events)

		res := r.Resume(producer, value.Int(7))
		require.Equal(t, StatusReturn, res.Status, res.Err)

		assert.Equal(t, []int64{2, 1}, events)
		requireInt(t, 7, first.Value)
		requireInt(t, 7, second.Value)

		//the result is delivered once
		assert.Equal(t, StatusIgnored, r.Resume(producer, value.Int(8)).Status)
		assert.Equal(t, []int64{2, 1}, events)
	})

	t.Run("awaiting a settled task does not park", func(t *testing.T) {
		r := newTestRuntime(t)
		var events []int64

		producer, _ := r.Spawn(yielder(), nil, nil)
		r.Resume(producer, value.Int(7))

		res := r.Invoke(awaiter(recorder(&events)), []value.Value{value.FromCell(producer), value.Int(1)}, nil)
		require.Equal(t, StatusReturn, res.Status, res.Err)
		requireInt(t, 7, res.Value)
		assert.Equal(t, []int64{1}, events)
	})

	t.Run("awaiting a canceled task gives false", func(t *testing.T) {
		r := newTestRuntime(t)
		var events []int64

		producer, _ := r.Spawn(yielder(), nil, nil)
		waiting := r.Invoke(awaiter(recorder(&events)), []value.Value{value.FromCell(producer), value.Int(1)}, nil)
		require.Equal(t, StatusYield, waiting.Status, waiting.Err)

		res := r.Unwind(producer)
		require.Equal(t, StatusReturn, res.Status, res.Err)
		assert.True(t, producer.IsCanceled())
		assert.True(t, value.IsFalse(res.Value))

		assert.True(t, value.IsFalse(waiting.Value))
		assert.Equal(t, []int64{1}, events)
	})

	t.Run("a task started by BeginTask runs until it yields, the spawner then continues", func(t *testing.T) {
		r := newTestRuntime(t)

		b := bytecode.NewBuilder("spawner", 0)
		k, v, w, res := b.NewRegister("k"), b.NewRegister("v"), b.NewRegister("w"), b.NewRegister("res")
		spawned := b.NewLabel()

		b.Emit(&bytecode.BeginTask{Dest: k, OnYield: spawned, Attached: true})
		b.Emit(&bytecode.Yield{Dest: v})
		b.Emit(&bytecode.Add{Binary: binary(w, v, b.Const(value.Int(1)))})
		b.Emit(&bytecode.EndTask{Value: w})
		b.Mark(spawned)
		b.Emit(&bytecode.Await{Dest: res, Task: k})
		b.Emit(&bytecode.Return{Value: res})

		spawner := r.Invoke(function(b), nil, nil)
		require.Equal(t, StatusYield, spawner.Status, spawner.Err)

		children := spawner.Task.Children()
		require.Len(t, children, 1)
		child := children[0]
		assert.True(t, child.IsParked())

		childRes := r.Resume(child, value.Int(41))
		require.Equal(t, StatusReturn, childRes.Status, childRes.Err)
		requireInt(t, 42, childRes.Value)

		assert.True(t, spawner.Task.IsSettled())
		requireInt(t, 42, spawner.Value)
	})
}

func TestSemaphore(t *testing.T) {
	r := newTestRuntime(t)

	b := bytecode.NewBuilder("join", 0)
	s := b.NewRegister("s")
	k1, k2 := b.NewRegister("k1"), b.NewRegister("k2")
	y1, y2 := b.NewRegister("y1"), b.NewRegister("y2")
	sum := b.NewRegister("sum")
	afterFirst, afterSecond := b.NewLabel(), b.NewLabel()

	b.Emit(&bytecode.NewSemaphore{Dest: s})
	b.Emit(&bytecode.BeginTask{Dest: k1, OnYield: afterFirst, Attached: true})
	b.Emit(&bytecode.Yield{Dest: y1})
	b.Emit(&bytecode.EndTask{Value: y1, Signal: s})
	b.Mark(afterFirst)
	b.Emit(&bytecode.BeginTask{Dest: k2, OnYield: afterSecond, Attached: true})
	b.Emit(&bytecode.Yield{Dest: y2})
	b.Emit(&bytecode.EndTask{Value: y2, Signal: s})
	b.Mark(afterSecond)
	b.Emit(&bytecode.WaitSemaphore{Semaphore: s, Count: 2})
	b.Emit(&bytecode.Add{Binary: binary(sum, y1, y2)})
	b.Emit(&bytecode.Return{Value: sum})

	join := r.Invoke(function(b), nil, nil)
	require.Equal(t, StatusYield, join.Status, join.Err)

	children := join.Task.Children()
	require.Len(t, children, 2)

	res := r.Resume(children[0], value.Int(10))
	require.Equal(t, StatusReturn, res.Status, res.Err)
	assert.False(t, join.Task.IsSettled())

	res = r.Resume(children[1], value.Int(20))
	require.Equal(t, StatusReturn, res.Status, res.Err)

	assert.True(t, join.Task.IsSettled())
	requireInt(t, 30, join.Value)
}

func TestUnwind(t *testing.T) {
	t.Run("children are canceled most recent first, then the task runs its cleanup code", func(t *testing.T) {
		r := newTestRuntime(t)
		var events []int64

		//the defer hook of a task records 100 + its id, its cleanup code records its id.
		onCancel := native("on-cancel", func(ctx *NativeContext, self value.Value, args []value.Value, named map[string]value.Value) NativeResult {
			id := args[0].AsInt()
			ctx.Defer(func() {
				events = append(events, 100+id)
			})
			return Return(value.False())
		})
		record := recorder(&events)

		b := bytecode.NewBuilder("parent", 0)
		k1, k2 := b.NewRegister("k1"), b.NewRegister("k2")
		y0, y1, y2 := b.NewRegister("y0"), b.NewRegister("y1"), b.NewRegister("y2")
		afterFirst, afterSecond := b.NewLabel(), b.NewLabel()
		cleanup0, cleanup1, cleanup2 := b.NewLabel(), b.NewLabel(), b.NewLabel()

		b.Emit(&bytecode.BeginTask{Dest: k1, OnYield: afterFirst, Attached: true})
		b.Emit(&bytecode.Call{Callee: b.Const(onCancel), Arguments: []bytecode.Operand{b.Const(value.Int(1))}})
		yield1 := b.Emit(&bytecode.Yield{Dest: y1})
		b.Emit(&bytecode.EndTask{Value: y1})
		b.Mark(afterFirst)
		b.Emit(&bytecode.BeginTask{Dest: k2, OnYield: afterSecond, Attached: true})
		b.Emit(&bytecode.Call{Callee: b.Const(onCancel), Arguments: []bytecode.Operand{b.Const(value.Int(2))}})
		yield2 := b.Emit(&bytecode.Yield{Dest: y2})
		b.Emit(&bytecode.EndTask{Value: y2})
		b.Mark(afterSecond)
		yield0 := b.Emit(&bytecode.Yield{Dest: y0})
		b.Emit(&bytecode.Return{Value: y0})

		for i, l := range []bytecode.Label{cleanup0, cleanup1, cleanup2} {
			b.Mark(l)
			b.Emit(&bytecode.Call{Callee: b.Const(record), Arguments: []bytecode.Operand{b.Const(value.Int(int64(i)))}})
			b.Emit(&bytecode.ResumeUnwind{})
		}
		b.UnwindEdge(bytecode.Label(yield0), bytecode.Label(yield0+1), cleanup0)
		b.UnwindEdge(bytecode.Label(yield1), bytecode.Label(yield1+1), cleanup1)
		b.UnwindEdge(bytecode.Label(yield2), bytecode.Label(yield2+1), cleanup2)

		parent := r.Invoke(function(b), nil, nil)
		require.Equal(t, StatusYield, parent.Status, parent.Err)
		require.Len(t, parent.Task.Children(), 2)
		assert.Equal(t, 3, r.LiveTasks())

		res := r.Unwind(parent.Task)
		require.Equal(t, StatusReturn, res.Status, res.Err)
		assert.True(t, value.IsFalse(res.Value))

		assert.Equal(t, []int64{102, 2, 101, 1, 0}, events)
		assert.True(t, parent.Task.IsCanceled())
		for _, child := range parent.Task.Children() {
			assert.True(t, child.IsCanceled())
		}
		assert.True(t, value.IsFalse(parent.Value))
		assert.Zero(t, r.LiveTasks())
	})

	t.Run("unwinding a settled task is ignored", func(t *testing.T) {
		r := newTestRuntime(t)

		task, _ := r.Spawn(yielder(), nil, nil)
		r.Resume(task, value.Int(1))

		assert.Equal(t, StatusIgnored, r.Unwind(task).Status)
		assert.False(t, task.IsCanceled())
	})

	t.Run("a canceled task cannot be resumed", func(t *testing.T) {
		r := newTestRuntime(t)

		task, _ := r.Spawn(yielder(), nil, nil)
		r.Unwind(task)

		assert.Equal(t, StatusIgnored, r.Resume(task, value.Int(1)).Status)
		assert.Equal(t, Canceled, task.Phase)
	})

	t.Run("a missing unwind edge is a fatal error", func(t *testing.T) {
		r := newTestRuntime(t)

		b := bytecode.NewBuilder("no-cleanup", 0)
		x := b.NewRegister("x")
		b.Emit(&bytecode.Yield{Dest: x})
		b.Emit(&bytecode.Return{Value: x})

		task, res := r.Spawn(function(b), nil, nil)
		require.Equal(t, StatusYield, res.Status, res.Err)

		assert.Panics(t, func() {
			r.Unwind(task)
		})
	})
}
