package vm

import (
	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

// A Transaction records how to undo the mutations performed in a failure context.
// Committing a nested transaction moves its undo log to the enclosing transaction,
// rolling back replays the log in reverse order.
type Transaction struct {
	undo []func()
	// registerWrites are the register writes among the recorded mutations.
	registerWrites []registerWrite
	// opened transactions record mutations before they are started.
	opened   bool
	started  bool
	finished bool
}

type registerWrite struct {
	frame    *Frame
	register bytecode.Register
	prev     value.Value
}

func (tx *Transaction) IsStarted() bool {
	return tx.started
}

func (tx *Transaction) IsFinished() bool {
	return tx.finished
}

// IsActive reports whether mutations should be recorded by the transaction.
func (tx *Transaction) IsActive() bool {
	return (tx.started || tx.opened) && !tx.finished
}

// Open makes the transaction record mutations before its start, the start is deferred
// until the effects ordered before the transaction have happened.
func (tx *Transaction) Open() {
	if tx.finished {
		panic(ErrFinishedTransaction)
	}
	if tx.started {
		panic(ErrTransactionAlreadyStarted)
	}
	tx.opened = true
}

func (tx *Transaction) Start() {
	if tx.finished {
		panic(ErrFinishedTransaction)
	}
	if tx.started {
		panic(ErrTransactionAlreadyStarted)
	}
	tx.started = true
}

func (tx *Transaction) Record(undo func()) {
	if !tx.IsActive() {
		panic(ErrFinishedTransaction)
	}
	tx.undo = append(tx.undo, undo)
}

func (tx *Transaction) recordRegisterWrite(frame *Frame, r bytecode.Register, prev value.Value) {
	if tx.IsActive() {
		tx.registerWrites = append(tx.registerWrites, registerWrite{frame: frame, register: r, prev: prev})
	}
}

// undoRegisterWrites restores in target the registers of frame written during the transaction.
func (tx *Transaction) undoRegisterWrites(frame *Frame, target *Frame) {
	for i := len(tx.registerWrites) - 1; i >= 0; i-- {
		w := tx.registerWrites[i]
		if w.frame == frame {
			target.Registers[w.register] = w.prev
		}
	}
}

// Commit finishes the transaction, parent (if not nil) becomes responsible for undoing the recorded mutations.
func (tx *Transaction) Commit(parent *Transaction) {
	if tx.finished {
		panic(ErrFinishedTransaction)
	}
	tx.finished = true

	if parent != nil {
		parent.undo = append(parent.undo, tx.undo...)
		parent.registerWrites = append(parent.registerWrites, tx.registerWrites...)
	}
	tx.undo = nil
	tx.registerWrites = nil
}

// Rollback undoes the recorded mutations, most recent first.
func (tx *Transaction) Rollback() {
	if tx.finished {
		panic(ErrFinishedTransaction)
	}
	tx.finished = true

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.registerWrites = nil
}

func (tx *Transaction) reset() {
	tx.undo = tx.undo[:0]
	tx.registerWrites = tx.registerWrites[:0]
	tx.opened = false
	tx.started = false
	tx.finished = false
}
