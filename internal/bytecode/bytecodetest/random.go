// Package bytecodetest generates procedures for property tests.
package bytecodetest

import (
	"fmt"
	"math/rand"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

type RandomConfig struct {
	NumPositional int
	NumRegisters  int //registers in addition to the pinned ones
	MaxStatements int
	MaxDepth      int
	// Tasks enables the generation of task bodies.
	Tasks bool
}

type generator struct {
	rng       *rand.Rand
	config    RandomConfig
	b         *bytecode.Builder
	registers []bytecode.Operand
	inTask    bool
}

// RandomProcedure generates a well-formed procedure with nested branches, loops, failure contexts
// and (optionally) tasks. The same seed always produces the same procedure.
func RandomProcedure(seed int64, config RandomConfig) *bytecode.Procedure {
	g := &generator{
		rng:    rand.New(rand.NewSource(seed)),
		config: config,
		b:      bytecode.NewBuilder(fmt.Sprintf("random-%d", seed), config.NumPositional),
	}
	for i := 0; i < config.NumPositional; i++ {
		g.registers = append(g.registers, g.b.Param(i))
	}
	for i := 0; i < config.NumRegisters; i++ {
		g.registers = append(g.registers, g.b.NewRegister(fmt.Sprintf("v%d", i)))
	}

	g.statements(0)
	g.b.Emit(&bytecode.Return{Value: g.register()})
	return g.b.MustBuild()
}

func (g *generator) register() bytecode.Operand {
	return g.registers[g.rng.Intn(len(g.registers))]
}

func (g *generator) operand() bytecode.Operand {
	if g.rng.Intn(4) == 0 {
		return g.b.Const(value.Int(int64(g.rng.Intn(10))))
	}
	return g.register()
}

func (g *generator) statements(depth int) {
	n := 1 + g.rng.Intn(max(g.config.MaxStatements, 1))
	for i := 0; i < n; i++ {
		g.statement(depth)
	}
}

func (g *generator) statement(depth int) {
	choice := g.rng.Intn(10)
	if depth >= g.config.MaxDepth {
		choice = g.rng.Intn(5)
	}

	switch choice {
	case 0, 1:
		binary := bytecode.Binary{Dest: g.register(), Left: g.operand(), Right: g.operand()}
		switch g.rng.Intn(3) {
		case 0:
			g.b.Emit(&bytecode.Add{Binary: binary})
		case 1:
			g.b.Emit(&bytecode.Sub{Binary: binary})
		default:
			g.b.Emit(&bytecode.Lt{Binary: binary})
		}
	case 2:
		g.b.Emit(&bytecode.Move{Unary: bytecode.Unary{Dest: g.register(), Source: g.operand()}})
	case 3, 4:
		g.b.Emit(&bytecode.Reset{Dest: g.register()})
	case 5:
		//if/else on initialization
		elseLabel, end := g.b.NewLabel(), g.b.NewLabel()
		g.b.Emit(&bytecode.JumpIfInitialized{Source: g.register(), Target: elseLabel})
		g.statements(depth + 1)
		g.b.Emit(&bytecode.Jump{Target: end})
		g.b.Mark(elseLabel)
		g.statements(depth + 1)
		g.b.Mark(end)
		g.b.Emit(&bytecode.Tracepoint{Name: "join"})
	case 6:
		//loop
		head := g.b.NewLabel()
		g.b.Mark(head)
		g.b.Emit(&bytecode.Tracepoint{Name: "loop"})
		g.statements(depth + 1)
		g.b.Emit(&bytecode.JumpIfInitialized{Source: g.register(), Target: head})
	case 7, 8:
		//failure context: Begin body End then Jump(done) failure: else done:
		failure, done := g.b.NewLabel(), g.b.NewLabel()
		g.b.Emit(&bytecode.BeginFailureContext{OnFailure: failure})
		g.statements(depth + 1)
		g.b.Emit(&bytecode.EndFailureContext{Done: done})
		g.statements(depth + 1)
		g.b.Emit(&bytecode.Jump{Target: done})
		g.b.Mark(failure)
		g.statements(depth + 1)
		g.b.Mark(done)
		g.b.Emit(&bytecode.Tracepoint{Name: "done"})
	case 9:
		if !g.config.Tasks || g.inTask {
			g.b.Emit(&bytecode.Move{Unary: bytecode.Unary{Dest: g.register(), Source: g.operand()}})
			return
		}
		onYield := g.b.NewLabel()
		g.b.Emit(&bytecode.BeginTask{Dest: g.register(), OnYield: onYield, Attached: true})
		g.inTask = true
		g.statements(depth + 1)
		g.inTask = false
		g.b.Emit(&bytecode.EndTask{Value: g.register()})
		g.b.Mark(onYield)
		g.b.Emit(&bytecode.Tracepoint{Name: "spawned"})
	}
}
