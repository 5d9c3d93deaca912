package vm

import (
	"slices"

	"github.com/inoxlang/lenivm/internal/value"
)

// A FailureContext is a transactional scope: when it fails the mutations performed in it are undone
// and execution continues at its failure target.
type FailureContext struct {
	Parent   *FailureContext
	children []*FailureContext

	Task  *Task
	Frame *Frame

	// FailurePC is the failure target, -1 for the root context of a task:
	// failing it is reported to the caller of the interpreter.
	FailurePC int
	// ThenPC and DonePC delimit the body replayed once the pending suspensions
	// of a context whose end was reached leniently have fired.
	ThenPC int
	DonePC int
	// ReplayFrame is the snapshot of Frame taken when the end was reached leniently,
	// ElseFrame is the same snapshot without the register writes of the scope.
	ReplayFrame *Frame
	ElseFrame   *Frame

	IncomingEffectToken   value.Value
	BeforeThenEffectToken value.Value
	DoneEffectToken       value.Value

	SuspensionCount int
	Failed          bool
	ExecutedEnd     bool
	escaped         bool
	done            bool //committed or failed, and replayed if needed

	Transaction Transaction
}

// activeTransaction returns the innermost transaction recording mutations in fc, or nil.
func (fc *FailureContext) activeTransaction() *Transaction {
	for ctx := fc; ctx != nil; ctx = ctx.Parent {
		if ctx.Transaction.IsActive() {
			return &ctx.Transaction
		}
	}
	return nil
}

// journal returns the journal recording the mutations performed in fc,
// mutations are not recorded if no transaction is active.
func (fc *FailureContext) journal() value.Journal {
	if fc == nil {
		return nil
	}
	tx := fc.activeTransaction()
	if tx == nil {
		return nil
	}
	return tx
}

// escape makes fc and its ancestors ineligible for reuse.
func (fc *FailureContext) escape() {
	for ctx := fc; ctx != nil && !ctx.escaped; ctx = ctx.Parent {
		ctx.escaped = true
	}
}

func (fc *FailureContext) IsEscaped() bool {
	return fc.escaped
}

// IsAncestorOf reports whether fc is other or one of its ancestors.
func (fc *FailureContext) IsAncestorOf(other *FailureContext) bool {
	for ctx := other; ctx != nil; ctx = ctx.Parent {
		if ctx == fc {
			return true
		}
	}
	return false
}

func (fc *FailureContext) Children() []*FailureContext {
	return fc.children
}

// markFailed marks fc and its descendants as failed and returns them, descendants first.
func (fc *FailureContext) markFailed() []*FailureContext {
	var failed []*FailureContext
	var visit func(ctx *FailureContext)
	visit = func(ctx *FailureContext) {
		for i := len(ctx.children) - 1; i >= 0; i-- {
			visit(ctx.children[i])
		}
		if !ctx.Failed {
			ctx.Failed = true
			failed = append(failed, ctx)
		}
	}
	visit(fc)
	return failed
}

// outermostFailed returns the failed context closest to the root in the chain starting at fc,
// the search stops at boundary (included).
func (fc *FailureContext) outermostFailed(boundary *FailureContext) *FailureContext {
	var failed *FailureContext
	for ctx := fc; ctx != nil; ctx = ctx.Parent {
		if ctx.Failed {
			failed = ctx
		}
		if ctx == boundary {
			break
		}
	}
	return failed
}

func (fc *FailureContext) detach() {
	if fc.Parent == nil {
		return
	}
	siblings := fc.Parent.children
	if i := slices.Index(siblings, fc); i >= 0 {
		fc.Parent.children = slices.Delete(siblings, i, i+1)
	}
}

// A failureContextPool is a bounded free list of failure contexts that finished without escaping.
type failureContextPool struct {
	capacity int
	free     []*FailureContext
	reused   int
}

func (p *failureContextPool) acquire() *FailureContext {
	if n := len(p.free); n > 0 {
		fc := p.free[n-1]
		p.free = p.free[:n-1]
		p.reused++
		return fc
	}
	return &FailureContext{}
}

func (p *failureContextPool) release(fc *FailureContext) bool {
	if fc.escaped || len(p.free) >= p.capacity {
		return false
	}

	tx := fc.Transaction
	tx.reset()
	*fc = FailureContext{
		children:    fc.children[:0],
		Transaction: tx,
	}
	p.free = append(p.free, fc)
	return true
}

func (p *failureContextPool) Len() int {
	return len(p.free)
}
