package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

func TestTransaction(t *testing.T) {
	t.Run("rollback undoes the mutations most recent first", func(t *testing.T) {
		var undone []int
		tx := &Transaction{}
		tx.Start()
		tx.Record(func() { undone = append(undone, 1) })
		tx.Record(func() { undone = append(undone, 2) })

		tx.Rollback()
		assert.Equal(t, []int{2, 1}, undone)
		assert.True(t, tx.IsFinished())
		assert.False(t, tx.IsActive())
	})

	t.Run("commit moves the undo log to the parent", func(t *testing.T) {
		var undone []int
		parent := &Transaction{}
		parent.Start()
		parent.Record(func() { undone = append(undone, 1) })

		child := &Transaction{}
		child.Start()
		child.Record(func() { undone = append(undone, 2) })
		child.Commit(parent)
		assert.Empty(t, undone)

		parent.Rollback()
		assert.Equal(t, []int{2, 1}, undone)
	})

	t.Run("a finished transaction cannot be finished again", func(t *testing.T) {
		tx := &Transaction{}
		tx.Start()
		tx.Commit(nil)

		assert.PanicsWithValue(t, ErrFinishedTransaction, func() {
			tx.Rollback()
		})
		assert.PanicsWithValue(t, ErrFinishedTransaction, func() {
			tx.Start()
		})
	})

	t.Run("an opened transaction records mutations before it is started", func(t *testing.T) {
		var undone []int
		tx := &Transaction{}
		tx.Open()
		assert.True(t, tx.IsActive())
		assert.False(t, tx.IsStarted())
		tx.Record(func() { undone = append(undone, 1) })

		tx.Start()
		tx.Record(func() { undone = append(undone, 2) })

		tx.Rollback()
		assert.Equal(t, []int{2, 1}, undone)
	})

	t.Run("a started transaction cannot be opened", func(t *testing.T) {
		tx := &Transaction{}
		tx.Start()

		assert.PanicsWithValue(t, ErrTransactionAlreadyStarted, func() {
			tx.Open()
		})
	})

	t.Run("a transaction cannot be started twice", func(t *testing.T) {
		tx := &Transaction{}
		tx.Start()

		assert.PanicsWithValue(t, ErrTransactionAlreadyStarted, func() {
			tx.Start()
		})
	})

	t.Run("register writes are undone on rollback and can be undone in a snapshot", func(t *testing.T) {
		b := bytecode.NewBuilder("f", 0)
		x := b.NewRegister("x")
		b.Emit(&bytecode.Return{Value: x})
		frame := newFrame(b.MustBuild(), nil, -1, bytecode.NoOperand)
		reg := x.Register()

		tx := &Transaction{}
		tx.Start()
		frame.Set(tx, reg, value.Int(1))
		frame.Set(tx, reg, value.Int(2))

		snapshot := frame.CloneWithoutCaller()
		tx.undoRegisterWrites(frame, snapshot)
		assert.True(t, snapshot.Get(reg).IsUninitialized())
		requireInt(t, 2, frame.Get(reg))

		tx.Rollback()
		assert.True(t, frame.Get(reg).IsUninitialized())
	})
}

func TestFailureContext_markFailed(t *testing.T) {
	root := &FailureContext{FailurePC: -1}
	a := &FailureContext{Parent: root}
	b := &FailureContext{Parent: root}
	c := &FailureContext{Parent: a}
	root.children = []*FailureContext{a, b}
	a.children = []*FailureContext{c}

	t.Run("descendants come first", func(t *testing.T) {
		failed := a.markFailed()
		assert.Equal(t, []*FailureContext{c, a}, failed)
		assert.False(t, root.Failed)
		assert.False(t, b.Failed)
	})

	t.Run("the outermost failed context of a chain is found", func(t *testing.T) {
		assert.Same(t, a, c.outermostFailed(root))
		assert.Nil(t, b.outermostFailed(root))
		assert.Same(t, c, c.outermostFailed(c))
	})

	t.Run("contexts are only marked once", func(t *testing.T) {
		failed := root.markFailed()
		assert.Equal(t, []*FailureContext{b, root}, failed)
	})
}

func TestFailureContextPool(t *testing.T) {
	t.Run("contexts are released up to the capacity of the pool", func(t *testing.T) {
		pool := failureContextPool{capacity: 1}

		assert.True(t, pool.release(&FailureContext{}))
		assert.False(t, pool.release(&FailureContext{}))
		assert.Equal(t, 1, pool.Len())
	})

	t.Run("escaped contexts are not released", func(t *testing.T) {
		pool := failureContextPool{capacity: 1}
		parent := &FailureContext{}
		fc := &FailureContext{Parent: parent}
		fc.escape()

		assert.True(t, parent.IsEscaped())
		assert.False(t, pool.release(fc))
	})

	t.Run("a released context is reset before being reused", func(t *testing.T) {
		pool := failureContextPool{capacity: 1}
		fc := &FailureContext{FailurePC: 3, Failed: true}
		fc.Transaction.Start()
		fc.Transaction.Rollback()
		require.True(t, pool.release(fc))

		reused := pool.acquire()
		assert.Same(t, fc, reused)
		assert.Equal(t, 1, pool.reused)
		assert.False(t, reused.Failed)
		assert.False(t, reused.Transaction.IsStarted())
		reused.Transaction.Start()
	})
}
