package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWaiter string

func (w testWaiter) String() string {
	return string(w)
}

type testJournal struct {
	undos []func()
}

func (j *testJournal) Record(undo func()) {
	j.undos = append(j.undos, undo)
}

func (j *testJournal) rollback() {
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
	j.undos = nil
}

func TestFollow(t *testing.T) {
	t.Run("concrete values are returned as is", func(t *testing.T) {
		assert.Equal(t, Int(3), Int(3).Follow())
		assert.True(t, Int(3).IsConcrete())
	})

	t.Run("an unresolved placeholder follows to the root of its chain", func(t *testing.T) {
		a := NewPlaceholder()
		b := NewPlaceholder()
		assert.True(t, Unify(nil, FromPlaceholder(a), FromPlaceholder(b), func(Waiter) {}))

		followed := FromPlaceholder(a).Follow()
		assert.True(t, followed.IsPlaceholder())
		assert.Same(t, b, followed.AsPlaceholder())
		assert.False(t, FromPlaceholder(a).IsConcrete())
	})

	t.Run("a resolved placeholder is transparent", func(t *testing.T) {
		p := NewPlaceholder()
		Bind(nil, p, Int(7), func(Waiter) {})
		assert.Equal(t, int64(7), FromPlaceholder(p).Follow().AsInt())
		assert.Equal(t, "7", FromPlaceholder(p).String())
	})
}

func TestPlaceholderWaiters(t *testing.T) {
	t.Run("waiters fire in registration order", func(t *testing.T) {
		p := NewPlaceholder()
		p.Enqueue(nil, testWaiter("s1"))
		p.Enqueue(nil, testWaiter("s2"))
		p.Enqueue(nil, testWaiter("s3"))

		var fired []string
		Bind(nil, p, Int(1), func(w Waiter) {
			fired = append(fired, w.String())
		})
		assert.Equal(t, []string{"s1", "s2", "s3"}, fired)
		assert.Empty(t, p.Waiters())
	})

	t.Run("linking two placeholders merges their wait lists without firing", func(t *testing.T) {
		a := NewPlaceholder()
		b := NewPlaceholder()
		a.Enqueue(nil, testWaiter("a1"))
		b.Enqueue(nil, testWaiter("b1"))

		fired := 0
		assert.True(t, Unify(nil, FromPlaceholder(a), FromPlaceholder(b), func(Waiter) { fired++ }))
		assert.Zero(t, fired)
		assert.Equal(t, []Waiter{testWaiter("b1"), testWaiter("a1")}, a.Waiters())

		var order []string
		assert.True(t, Unify(nil, FromPlaceholder(a), Int(2), func(w Waiter) {
			order = append(order, w.String())
		}))
		assert.Equal(t, []string{"b1", "a1"}, order)
	})

	t.Run("enqueuing on a bound placeholder panics", func(t *testing.T) {
		p := NewPlaceholder()
		Bind(nil, p, Int(1), func(Waiter) {})
		assert.Panics(t, func() {
			p.Enqueue(nil, testWaiter("late"))
		})
	})
}

func TestUnify(t *testing.T) {
	noop := func(Waiter) {}

	t.Run("ints", func(t *testing.T) {
		assert.True(t, Unify(nil, Int(1), Int(1), noop))
		assert.False(t, Unify(nil, Int(1), Int(2), noop))
		assert.False(t, Unify(nil, Int(1), Float(1), noop))
	})

	t.Run("floats are compared numerically", func(t *testing.T) {
		assert.True(t, Unify(nil, Float(0), Float(math.Copysign(0, -1)), noop))
		assert.True(t, Equal(Float(0), Float(math.Copysign(0, -1))))
		assert.False(t, Unify(nil, Float(1), Float(2), noop))
	})

	t.Run("NaN is equal to itself", func(t *testing.T) {
		assert.True(t, Unify(nil, Float(math.NaN()), Float(math.NaN()), noop))
		assert.True(t, Equal(Float(math.NaN()), Float(math.NaN())))
		assert.False(t, Equal(Float(math.NaN()), Float(1)))
	})

	t.Run("arrays are compared element-wise and bind nested placeholders", func(t *testing.T) {
		p := NewPlaceholder()
		left := NewArray(Int(1), FromPlaceholder(p))
		right := NewArray(Int(1), Int(5))
		assert.True(t, Unify(nil, left, right, noop))
		assert.Equal(t, int64(5), FromPlaceholder(p).Follow().AsInt())

		assert.False(t, Unify(nil, NewArray(Int(1)), NewArray(Int(1), Int(2)), noop))
	})

	t.Run("options", func(t *testing.T) {
		assert.True(t, Unify(nil, NewOption(Int(1)), NewOption(Int(1)), noop))
		assert.False(t, Unify(nil, NewOption(Int(1)), NewOption(Int(2)), noop))
	})

	t.Run("other cells are compared by identity", func(t *testing.T) {
		v1 := FromCell(NewVar(Int(1)))
		v2 := FromCell(NewVar(Int(1)))
		assert.True(t, Unify(nil, v1, v1, noop))
		assert.False(t, Unify(nil, v1, v2, noop))
	})

	t.Run("Equal does not bind nested placeholders", func(t *testing.T) {
		p := NewPlaceholder()
		assert.False(t, Equal(NewArray(FromPlaceholder(p)), NewArray(Int(1))))
		assert.False(t, p.IsBound())
	})
}

func TestJournal(t *testing.T) {
	t.Run("rolling back a binding leaves the placeholder unresolved", func(t *testing.T) {
		j := &testJournal{}
		p := NewPlaceholder()
		Bind(j, p, Int(3), func(Waiter) {})
		assert.True(t, p.IsBound())

		j.rollback()
		assert.False(t, p.IsBound())
	})

	t.Run("rolling back a link restores both wait lists", func(t *testing.T) {
		j := &testJournal{}
		a := NewPlaceholder()
		b := NewPlaceholder()
		a.Enqueue(nil, testWaiter("a1"))
		b.Enqueue(nil, testWaiter("b1"))

		Unify(j, FromPlaceholder(a), FromPlaceholder(b), func(Waiter) {})
		j.rollback()

		assert.Same(t, a, a.Root())
		assert.Equal(t, []Waiter{testWaiter("a1")}, a.Waiters())
		assert.Equal(t, []Waiter{testWaiter("b1")}, b.Waiters())
	})

	t.Run("mutable cells", func(t *testing.T) {
		j := &testJournal{}
		v := NewVar(Int(1))
		arr := NewMutableArray(Int(1), Int(2))
		typ := NewEmergentType("point", false, "x", "y")
		obj := NewObject(typ, []Value{Int(0), Int(0)})

		v.Set(j, Int(10))
		assert.True(t, arr.Set(j, 1, Int(20)))
		assert.False(t, arr.Set(j, 2, Int(30)))
		arr.Append(j, Int(40))
		obj.SetFieldAt(j, 0, Int(50))

		j.rollback()
		assert.Equal(t, Int(1), v.Get())
		assert.Equal(t, 2, arr.Len())
		assert.Equal(t, Int(2), arr.At(1))
		assert.Equal(t, Int(0), obj.FieldAt(0))
	})
}

func TestIntArithmetic(t *testing.T) {
	_, err := IntAdd(1<<62, 1<<62)
	assert.ErrorIs(t, err, ErrIntOverflow)

	_, err = IntDiv(1, 0)
	assert.ErrorIs(t, err, ErrIntDivisionByZero)

	q, err := IntDiv(6, 3)
	assert.NoError(t, err)
	assert.Equal(t, Int(2), q)

	q, err = IntDiv(1, 2)
	assert.NoError(t, err)
	assert.Equal(t, Float(0.5), q)

	m, err := IntMod(-7, 3)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), m)
}

func TestMaps(t *testing.T) {
	t.Run("a repeated key keeps its first position and takes the last value", func(t *testing.T) {
		m := NewMap([]Value{Int(1), Int(2), Int(1)}, []Value{Int(10), Int(20), Int(30)})

		assert.Equal(t, 2, m.Len())
		assert.Equal(t, Int(1), m.KeyAt(0))
		assert.Equal(t, Int(30), m.ValueAt(0))
		assert.Equal(t, Int(2), m.KeyAt(1))

		v, ok := m.Lookup(Int(2))
		assert.True(t, ok)
		assert.Equal(t, Int(20), v)

		_, ok = m.Lookup(Int(3))
		assert.False(t, ok)
	})

	t.Run("maps are compared entry by entry", func(t *testing.T) {
		a := FromCell(NewMap([]Value{Int(1)}, []Value{Int(10)}))
		b := FromCell(NewMap([]Value{Int(1)}, []Value{Int(10)}))
		c := FromCell(NewMap([]Value{Int(1)}, []Value{Int(11)}))

		assert.True(t, Equal(a, b))
		assert.False(t, Equal(a, c))

		p := NewPlaceholder()
		withPlaceholder := FromCell(NewMap([]Value{Int(1)}, []Value{FromPlaceholder(p)}))
		assert.True(t, Unify(nil, a, withPlaceholder, func(Waiter) {}))
		assert.Equal(t, Int(10), FromPlaceholder(p).Follow())
	})
}

func TestMeltAndFreeze(t *testing.T) {
	t.Run("melting copies arrays into mutable arrays", func(t *testing.T) {
		inner := NewArray(Int(2))
		melted, p := Melt(NewArray(Int(1), inner))
		require.Nil(t, p)

		array, ok := CellAs[*MutableArray](melted)
		require.True(t, ok)
		assert.Equal(t, 2, array.Len())
		_, ok = CellAs[*MutableArray](array.At(1))
		assert.True(t, ok)
	})

	t.Run("melting stops at a placeholder", func(t *testing.T) {
		placeholder := NewPlaceholder()
		_, p := Melt(NewOption(NewArray(FromPlaceholder(placeholder))))
		assert.Same(t, placeholder, p)
	})

	t.Run("freezing does not share the mutable state", func(t *testing.T) {
		array := NewMutableArray(Int(1), FromCell(NewVar(Int(2))))
		frozen, p := Freeze(FromCell(array))
		require.Nil(t, p)

		array.Append(nil, Int(3))
		assert.True(t, Equal(NewArray(Int(1), Int(2)), frozen))
	})

	t.Run("an array made immutable compares like an array", func(t *testing.T) {
		j := &testJournal{}
		array := NewMutableArray(Int(1))
		assert.False(t, Equal(FromCell(array), NewArray(Int(1))))

		array.MakeImmutable(j)
		assert.True(t, array.IsImmutable())
		assert.True(t, Equal(FromCell(array), NewArray(Int(1))))

		j.rollback()
		assert.False(t, array.IsImmutable())
	})
}
