package value

import (
	"errors"
	"fmt"
)

var (
	ErrPlaceholderAlreadyBound = errors.New("placeholder is already bound")
)

// A Journal records how to undo a mutation. Mutations performed with a nil Journal are not recorded.
type Journal interface {
	Record(undo func())
}

func record(j Journal, undo func()) {
	if j != nil {
		j.Record(undo)
	}
}

// A Waiter is something parked on a placeholder until the placeholder becomes concrete.
type Waiter interface {
	fmt.Stringer
}

// A Placeholder is a unification variable. Unified placeholders form a chain whose root
// holds the bound value and the waiters of the whole chain.
type Placeholder struct {
	parent  *Placeholder
	value   Value
	bound   bool
	waiters []Waiter
}

func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

// Root returns the representative of the chain p belongs to.
// Paths are not compressed: links must stay undoable.
func (p *Placeholder) Root() *Placeholder {
	for p.parent != nil {
		p = p.parent
	}
	return p
}

func (p *Placeholder) IsBound() bool {
	return p.Root().bound
}

// Waiters returns the waiters of the chain in registration order.
func (p *Placeholder) Waiters() []Waiter {
	return p.Root().waiters
}

// Enqueue parks w on the chain.
func (p *Placeholder) Enqueue(j Journal, w Waiter) {
	root := p.Root()
	if root.bound {
		panic(fmt.Errorf("cannot enqueue %s: %w", w, ErrPlaceholderAlreadyBound))
	}
	prevLen := len(root.waiters)
	root.waiters = append(root.waiters, w)
	record(j, func() {
		root.waiters = root.waiters[:prevLen]
	})
}

// bind binds the root of the chain and returns the fired waiters in registration order.
func (p *Placeholder) bind(j Journal, v Value) []Waiter {
	root := p.Root()
	if root.bound {
		panic(ErrPlaceholderAlreadyBound)
	}
	waiters := root.waiters
	root.value = v
	root.bound = true
	root.waiters = nil

	record(j, func() {
		//waiters that were fired are not restored: they re-park themselves when they find the value unresolved.
		root.value = Value{}
		root.bound = false
	})
	return waiters
}

// link makes the root of p point to the root of other and merges the wait lists.
func (p *Placeholder) link(j Journal, other *Placeholder) {
	from, to := p.Root(), other.Root()
	if from == to {
		return
	}
	prevFromWaiters := from.waiters
	prevToLen := len(to.waiters)

	from.parent = to
	to.waiters = append(to.waiters, from.waiters...)
	from.waiters = nil

	record(j, func() {
		from.parent = nil
		from.waiters = prevFromWaiters
		to.waiters = to.waiters[:prevToLen]
	})
}

// Bind binds the chain p belongs to and passes the fired waiters to fire, in registration order.
func Bind(j Journal, p *Placeholder, v Value, fire func(Waiter)) {
	v = v.Follow()
	if v.IsPlaceholder() {
		p.link(j, v.AsPlaceholder())
		return
	}
	for _, w := range p.bind(j, v) {
		fire(w)
	}
}
