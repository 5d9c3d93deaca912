package analysis

import (
	"fmt"
	"slices"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/memds"
)

type ScopeKind uint8

const (
	FailureContextScope ScopeKind = iota + 1
	TaskScope
	UnwindScope
)

func (k ScopeKind) String() string {
	switch k {
	case FailureContextScope:
		return "failure-context"
	case TaskScope:
		return "task"
	case UnwindScope:
		return "unwind"
	}
	return "?"
}

// A Scope is a region of code with a target that can be entered from anywhere in the region:
// the failure target of a failure context, the yield target of a task or the target of an unwind edge.
type Scope struct {
	Kind ScopeKind
	// Begin is the offset of the BeginFailureContext or BeginTask instruction,
	// or the exclusive start of the unwind range.
	Begin  int
	Target int
	// Blocks holds the indexes of the blocks in the body of the scope.
	Blocks []int
}

func lessScope(a, b *Scope) bool {
	if a.Begin != b.Begin {
		return a.Begin < b.Begin
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Target < b.Target
}

// mapScopes propagates the stack of active failure contexts and the active task from the entry block.
func (a *Analysis) mapScopes() {
	proc := a.Procedure
	worklist := memds.NewArrayQueue[int]()

	reach := func(block *Block, failureContexts []int, task int) {
		if !block.reached {
			block.reached = true
			block.FailureContexts = failureContexts
			block.Task = task
			worklist.Enqueue(block.Index)
			return
		}
		expected := &Block{FailureContexts: failureContexts, Task: task}
		if !sameScopes(block, expected) {
			panic(fmt.Errorf("%w: %s: block at offset %d is entered with failure contexts %v/task %d and %v/task %d",
				ErrNonConvergentScopes, proc.Name, block.Begin, block.FailureContexts, block.Task, failureContexts, task))
		}
	}

	drain := func() {
		for !worklist.Empty() {
			index, _ := worklist.Dequeue()
			block := a.Blocks[index]
			last := block.End - 1

			fcs, task := block.FailureContexts, block.Task
			succs, _ := successors(proc, last)

			for _, succ := range succs {
				succFcs, succTask := fcs, task

				switch instr := proc.Code[last].(type) {
				case *bytecode.BeginFailureContext:
					if succ.kind == FallthroughEdge {
						succFcs = append(slices.Clone(fcs), last)
						a.addScope(FailureContextScope, last, int(instr.OnFailure))
					}
				case *bytecode.EndFailureContext:
					if len(fcs) == 0 {
						panic(fmt.Errorf("%w: %s: instruction %d", ErrUnbalancedScopes, proc.Name, last))
					}
					succFcs = fcs[:len(fcs)-1:len(fcs)-1]
				case *bytecode.BeginTask:
					if succ.kind == FallthroughEdge {
						succFcs = nil
						succTask = last
						a.addScope(TaskScope, last, int(instr.OnYield))
					}
				}

				reach(a.Blocks[a.blockOf[succ.offset]], succFcs, succTask)
			}
		}
	}

	reach(a.Blocks[0], nil, -1)
	drain()

	//unwind targets only reached through cancellation run at the level of their protected range.
	for _, edge := range proc.UnwindEdges {
		a.addScope(UnwindScope, int(edge.Begin), int(edge.OnUnwind))

		target := a.Blocks[a.blockOf[edge.OnUnwind]]
		if target.reached {
			continue
		}
		protected := a.Blocks[a.blockOf[min(int(edge.Begin)+1, int(edge.End))]]
		if protected.reached {
			reach(target, nil, protected.Task)
		} else {
			reach(target, nil, -1)
		}
		drain()
	}

	a.failureContextOf = make([]int, len(proc.Code))
	a.taskOf = make([]int, len(proc.Code))
	for _, block := range a.Blocks {
		for pc := block.Begin; pc < block.End; pc++ {
			if block.reached {
				a.failureContextOf[pc] = block.activeFailureContext()
				a.taskOf[pc] = block.Task
			} else {
				a.failureContextOf[pc] = -1
				a.taskOf[pc] = -1
			}
		}
	}

	a.scopes.Scan(func(scope *Scope) bool {
		switch scope.Kind {
		case FailureContextScope:
			for _, block := range a.Blocks {
				if block.reached && slices.Contains(block.FailureContexts, scope.Begin) {
					scope.Blocks = append(scope.Blocks, block.Index)
				}
			}
		case TaskScope:
			for _, block := range a.Blocks {
				if block.reached && block.Task == scope.Begin {
					scope.Blocks = append(scope.Blocks, block.Index)
				}
			}
		case UnwindScope:
			for _, edge := range proc.UnwindEdges {
				if int(edge.Begin) == scope.Begin && int(edge.OnUnwind) == scope.Target {
					scope.Blocks = append(scope.Blocks, a.blocksInRange(int(edge.Begin)+1, int(edge.End)+1)...)
				}
			}
			slices.Sort(scope.Blocks)
			scope.Blocks = slices.Compact(scope.Blocks)
		}
		return true
	})
}

func (a *Analysis) addScope(kind ScopeKind, begin, target int) {
	scope := &Scope{Kind: kind, Begin: begin, Target: target}
	if _, ok := a.scopes.Get(scope); !ok {
		a.scopes.Set(scope)
	}
}

// FailureContextAt returns the offset of the BeginFailureContext of the innermost failure context
// active at pc, or -1.
func (a *Analysis) FailureContextAt(pc int) int {
	return a.failureContextOf[pc]
}

// TaskAt returns the offset of the BeginTask of the task running the instruction at pc,
// or -1 if the instruction runs at procedure level.
func (a *Analysis) TaskAt(pc int) int {
	return a.taskOf[pc]
}

// Scopes returns the scopes of the procedure ordered by their begin offset.
func (a *Analysis) Scopes() []*Scope {
	return a.scopes.Items()
}

// ScopesContaining returns the scopes whose body contains the instruction at pc, ordered by begin offset.
func (a *Analysis) ScopesContaining(pc int) []*Scope {
	block := a.blockOf[pc]
	var scopes []*Scope
	a.scopes.Ascend(&Scope{Begin: -1}, func(scope *Scope) bool {
		if _, found := slices.BinarySearch(scope.Blocks, block); found {
			scopes = append(scopes, scope)
		}
		return true
	})
	return scopes
}
