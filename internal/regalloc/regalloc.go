// Package regalloc compacts the virtual registers of a procedure by coloring its interference graph.
package regalloc

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/inoxlang/lenivm/internal/analysis"
	"github.com/inoxlang/lenivm/internal/bytecode"
)

// An Allocation describes how the registers of a procedure were recolored.
type Allocation struct {
	// Colors maps each original register to its new register.
	Colors []bytecode.Register

	OriginalCount int
	NumRegisters  int
	Pinned        int
	// Captured holds the original registers referenced by task bodies, in increasing order.
	Captured []bytecode.Register

	interference *simple.UndirectedGraph
}

// Interfere reports whether two original registers can be live at the same time.
func (a *Allocation) Interfere(r1, r2 bytecode.Register) bool {
	return a.interference.HasEdgeBetween(int64(r1), int64(r2))
}

// Degree returns the number of original registers interfering with r.
func (a *Allocation) Degree(r bytecode.Register) int {
	return a.interference.From(int64(r)).Len()
}

// Allocate recolors the registers of proc and rewrites every register operand in place. The self
// register and the parameters keep their index. Registers referenced inside a task body interfere
// with every other register, they are colored last with colors no other register uses.
func Allocate(proc *bytecode.Procedure) (*Allocation, error) {
	a, err := analysis.Analyze(proc)
	if err != nil {
		return nil, err
	}

	count := proc.NumRegisters
	pinned := proc.PinnedRegisterCount()

	g := simple.NewUndirectedGraph()
	for r := 0; r < count; r++ {
		g.AddNode(simple.Node(r))
	}

	addClique := func(set *bitset.BitSet) {
		members := analysis.Registers(set)
		for i, r1 := range members {
			for _, r2 := range members[i+1:] {
				g.SetEdge(simple.Edge{F: simple.Node(r1), T: simple.Node(r2)})
			}
		}
	}

	for _, block := range a.Blocks {
		addClique(block.LiveIn)

		a.WalkBackward(block, func(pc int, instr bytecode.Instruction, live *bitset.BitSet) {
			//a definition must not overwrite a register live after it, even if the defined value is dead.
			point := live.Clone()
			instr.ForEachOperand(func(role bytecode.Role, op *bytecode.Operand) {
				if op.IsRegister() && role.IsDef() {
					point.Set(uint(op.Index))
				}
			})
			addClique(point)
		})
	}

	captured := capturedRegisters(proc, a)
	for r, ok := captured.NextSet(0); ok; r, ok = captured.NextSet(r + 1) {
		for other := 0; other < count; other++ {
			if uint(other) != r {
				g.SetEdge(simple.Edge{F: simple.Node(r), T: simple.Node(other)})
			}
		}
	}

	colors := make([]bytecode.Register, count)
	colored := bitset.New(uint(count))

	for r := 0; r < pinned; r++ {
		colors[r] = bytecode.Register(r)
		colored.Set(uint(r))
	}

	maxColor := pinned - 1

	for r := pinned; r < count; r++ {
		if captured.Test(uint(r)) {
			continue
		}
		used := bitset.New(uint(count))
		for _, neighbor := range graph.NodesOf(g.From(int64(r))) {
			if colored.Test(uint(neighbor.ID())) {
				used.Set(uint(colors[neighbor.ID()]))
			}
		}

		color := pinned
		for used.Test(uint(color)) {
			color++
		}
		colors[r] = bytecode.Register(color)
		colored.Set(uint(r))
		maxColor = max(maxColor, color)
	}

	var capturedList []bytecode.Register
	for r, ok := captured.NextSet(0); ok; r, ok = captured.NextSet(r + 1) {
		capturedList = append(capturedList, bytecode.Register(r))
		if int(r) < pinned {
			continue
		}
		maxColor++
		colors[r] = bytecode.Register(maxColor)
		colored.Set(r)
	}

	if maxColor+1 > count {
		return nil, fmt.Errorf("%s: allocation needs %d registers, the procedure has %d", proc.Name, maxColor+1, count)
	}

	rewrite(proc, colors, maxColor+1)

	return &Allocation{
		Colors:        colors,
		OriginalCount: count,
		NumRegisters:  maxColor + 1,
		Pinned:        pinned,
		Captured:      capturedList,
		interference:  g,
	}, nil
}

// capturedRegisters returns the registers referenced by instructions running in a task body
// and by the instructions that begin and end tasks.
func capturedRegisters(proc *bytecode.Procedure, a *analysis.Analysis) *bitset.BitSet {
	captured := bitset.New(uint(proc.NumRegisters))

	for pc, instr := range proc.Code {
		switch instr.(type) {
		case *bytecode.BeginTask, *bytecode.EndTask:
		default:
			if a.TaskAt(pc) < 0 {
				continue
			}
		}
		instr.ForEachOperand(func(role bytecode.Role, op *bytecode.Operand) {
			if op.IsRegister() {
				captured.Set(uint(op.Index))
			}
		})
	}
	return captured
}

func rewrite(proc *bytecode.Procedure, colors []bytecode.Register, numRegisters int) {
	for _, instr := range proc.Code {
		instr.ForEachOperand(func(role bytecode.Role, op *bytecode.Operand) {
			if op.IsRegister() {
				op.Index = uint32(colors[op.Index])
			}
		})
	}

	names := make([]string, numRegisters)
	for r, color := range colors {
		if r >= len(proc.RegisterNames) || proc.RegisterNames[r] == "" {
			continue
		}
		if names[color] == "" {
			names[color] = proc.RegisterNames[r]
		} else {
			names[color] += "/" + proc.RegisterNames[r]
		}
	}

	proc.RegisterNames = names
	proc.NumRegisters = numRegisters
}
