package analysis

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/tidwall/btree"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/memds"
)

var (
	ErrNonConvergentScopes = errors.New("converging edges disagree on the active failure contexts or task")
	ErrUnbalancedScopes    = errors.New("end of failure context without an active failure context")
)

// EdgeKind tells why control can flow from a block to another.
type EdgeKind uint8

const (
	FallthroughEdge EdgeKind = iota + 1
	JumpEdge
	FailureEdge // to the failure target of a failure context
	DoneEdge    // from the end of a failure context to its join point
	YieldEdge   // from the beginning of a task to the code run by the spawner
	UnwindEdge  // from a protected range to its unwind target
)

func (k EdgeKind) String() string {
	switch k {
	case FallthroughEdge:
		return "fallthrough"
	case JumpEdge:
		return "jump"
	case FailureEdge:
		return "failure"
	case DoneEdge:
		return "done"
	case YieldEdge:
		return "yield"
	case UnwindEdge:
		return "unwind"
	}
	return "?"
}

// A Block is a maximal sequence of instructions [Begin, End) entered only at Begin.
type Block struct {
	Index      int
	Begin, End int
	Preds      []int
	Succs      []int

	// Uses holds the registers read before being overwritten in the block,
	// unifying definitions read the register they define.
	Uses *bitset.BitSet
	// Defs holds the registers overwritten in the block.
	Defs    *bitset.BitSet
	LiveIn  *bitset.BitSet
	LiveOut *bitset.BitSet

	// FailureContexts holds the offsets of the active BeginFailureContext instructions, innermost last.
	FailureContexts []int
	// Task is the offset of the BeginTask of the active task, -1 at procedure level.
	Task int

	reached bool
}

type successor struct {
	offset int
	kind   EdgeKind
}

// An Analysis holds the control-flow graph of a procedure and its liveness information.
type Analysis struct {
	Procedure *bytecode.Procedure
	Blocks    []*Block

	graph            *memds.DirectedGraph[*Block, EdgeKind]
	blockOf          []int
	failureContextOf []int
	taskOf           []int
	scopes           *btree.BTreeG[*Scope]
	forced           []*bitset.BitSet //registers forced live in each block
	numRegisters     uint
}

// Analyze builds the control-flow graph of proc, maps offsets to their failure context and task,
// and computes liveness. A malformed procedure is reported as an error. Inconsistent scopes are
// bytecode generator bugs: Analyze panics with ErrNonConvergentScopes or ErrUnbalancedScopes.
func Analyze(proc *bytecode.Procedure) (*Analysis, error) {
	if err := proc.Validate(); err != nil {
		return nil, err
	}

	a := &Analysis{
		Procedure:    proc,
		graph:        memds.NewDirectedGraph[*Block, EdgeKind](memds.ThreadUnsafe),
		scopes:       btree.NewBTreeG(lessScope),
		numRegisters: uint(proc.NumRegisters),
	}

	if err := a.buildBlocks(); err != nil {
		return nil, err
	}
	a.mapScopes()
	a.computeLocalSets()
	a.computeLiveness()
	return a, nil
}

// successors returns the offsets execution can continue at after the instruction at pc.
// The second result is false if the instruction ends a block.
func successors(proc *bytecode.Procedure, pc int) ([]successor, bool) {
	next := successor{offset: pc + 1, kind: FallthroughEdge}

	switch instr := proc.Code[pc].(type) {
	case *bytecode.Jump:
		return []successor{{int(instr.Target), JumpEdge}}, false
	case *bytecode.JumpIfInitialized:
		return []successor{{int(instr.Target), JumpEdge}, next}, false
	case *bytecode.JumpIfArchetype:
		return []successor{{int(instr.Target), JumpEdge}, next}, false
	case *bytecode.Switch:
		succs := make([]successor, 0, len(instr.Targets))
		for _, target := range instr.Targets {
			succs = append(succs, successor{int(target), JumpEdge})
		}
		return succs, false
	case *bytecode.BeginFailureContext:
		return []successor{next, {int(instr.OnFailure), FailureEdge}}, false
	case *bytecode.EndFailureContext:
		return []successor{next, {int(instr.Done), DoneEdge}}, false
	case *bytecode.BeginTask:
		return []successor{next, {int(instr.OnYield), YieldEdge}}, false
	case *bytecode.EndTask, *bytecode.Return, *bytecode.Err, *bytecode.ResumeUnwind:
		return nil, false
	}
	return []successor{next}, true
}

func (a *Analysis) buildBlocks() error {
	proc := a.Procedure
	code := proc.Code

	leaders := bitset.New(uint(len(code)))
	leaders.Set(0)

	for pc := range code {
		succs, fallsThrough := successors(proc, pc)
		for _, succ := range succs {
			if succ.offset >= len(code) {
				return fmt.Errorf("%w: %s: instruction %d continues past the end of the code", bytecode.ErrMalformedProcedure, proc.Name, pc)
			}
			if !fallsThrough || succ.kind != FallthroughEdge {
				leaders.Set(uint(succ.offset))
			}
		}
		if !fallsThrough && pc+1 < len(code) {
			leaders.Set(uint(pc + 1))
		}
	}
	for _, edge := range proc.UnwindEdges {
		leaders.Set(uint(edge.OnUnwind))
	}

	a.blockOf = make([]int, len(code))
	for begin, ok := leaders.NextSet(0); ok; {
		end, hasNext := leaders.NextSet(begin + 1)
		if !hasNext {
			end = uint(len(code))
		}

		block := &Block{
			Index: len(a.Blocks),
			Begin: int(begin),
			End:   int(end),
			Task:  -1,
		}
		a.Blocks = append(a.Blocks, block)
		id := a.graph.AddNode(block)
		if int(id) != block.Index {
			panic(fmt.Errorf("unexpected node id %d for block %d", id, block.Index))
		}
		for pc := begin; pc < end; pc++ {
			a.blockOf[pc] = block.Index
		}

		begin, ok = end, hasNext
	}

	for _, block := range a.Blocks {
		succs, _ := successors(proc, block.End-1)
		for _, succ := range succs {
			a.graph.SetEdge(memds.NodeId(block.Index), memds.NodeId(a.blockOf[succ.offset]), succ.kind)
		}
	}
	for _, edge := range proc.UnwindEdges {
		target := a.blockOf[edge.OnUnwind]
		for _, block := range a.blocksInRange(int(edge.Begin)+1, int(edge.End)+1) {
			if _, ok := a.graph.Edge(memds.NodeId(block), memds.NodeId(target)); !ok {
				a.graph.SetEdge(memds.NodeId(block), memds.NodeId(target), UnwindEdge)
			}
		}
	}

	for _, block := range a.Blocks {
		for _, id := range a.graph.DestinationIds(memds.NodeId(block.Index)) {
			block.Succs = append(block.Succs, int(id))
		}
		for _, id := range a.graph.SourceIds(memds.NodeId(block.Index)) {
			block.Preds = append(block.Preds, int(id))
		}
	}
	return nil
}

// blocksInRange returns the indexes of the blocks containing an offset in [begin, end).
func (a *Analysis) blocksInRange(begin, end int) []int {
	var blocks []int
	for pc := max(begin, 0); pc < end && pc < len(a.blockOf); pc++ {
		block := a.blockOf[pc]
		if len(blocks) == 0 || blocks[len(blocks)-1] != block {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// EdgeKind returns the kind of the edge between two blocks.
func (a *Analysis) EdgeKind(from, to int) (EdgeKind, bool) {
	edge, ok := a.graph.Edge(memds.NodeId(from), memds.NodeId(to))
	return edge.Data, ok
}

// BlockAt returns the block containing the instruction at pc.
func (a *Analysis) BlockAt(pc int) *Block {
	return a.Blocks[a.blockOf[pc]]
}

// Reachable reports whether the block can be reached from the entry of the procedure
// or from an unwind target.
func (b *Block) Reachable() bool {
	return b.reached
}

func (b *Block) Contains(pc int) bool {
	return b.Begin <= pc && pc < b.End
}

func (b *Block) activeFailureContext() int {
	if len(b.FailureContexts) == 0 {
		return -1
	}
	return b.FailureContexts[len(b.FailureContexts)-1]
}

func sameScopes(a, b *Block) bool {
	return a.Task == b.Task && slices.Equal(a.FailureContexts, b.FailureContexts)
}
