package analysis

import (
	"io"

	"github.com/goccy/go-json"

	"github.com/inoxlang/lenivm/internal/bytecode"
)

type blockReport struct {
	Index           int                 `json:"index"`
	Begin           int                 `json:"begin"`
	End             int                 `json:"end"`
	Reachable       bool                `json:"reachable"`
	Successors      []edgeReport        `json:"successors,omitempty"`
	LiveIn          []bytecode.Register `json:"liveIn"`
	LiveOut         []bytecode.Register `json:"liveOut"`
	FailureContexts []int               `json:"failureContexts,omitempty"`
	Task            int                 `json:"task"`
	Instructions    []string            `json:"instructions"`
}

type edgeReport struct {
	Block int    `json:"block"`
	Kind  string `json:"kind"`
}

type scopeReport struct {
	Kind   string `json:"kind"`
	Begin  int    `json:"begin"`
	Target int    `json:"target"`
	Blocks []int  `json:"blocks"`
}

type report struct {
	Procedure string        `json:"procedure"`
	Registers int           `json:"registers"`
	Blocks    []blockReport `json:"blocks"`
	Scopes    []scopeReport `json:"scopes"`
}

// WriteJSON writes the blocks, their liveness and the scopes of the procedure, for diagnostics.
func (a *Analysis) WriteJSON(w io.Writer) error {
	r := report{
		Procedure: a.Procedure.Name,
		Registers: a.Procedure.NumRegisters,
	}

	for _, block := range a.Blocks {
		blockReport := blockReport{
			Index:           block.Index,
			Begin:           block.Begin,
			End:             block.End,
			Reachable:       block.reached,
			LiveIn:          Registers(block.LiveIn),
			LiveOut:         Registers(block.LiveOut),
			FailureContexts: block.FailureContexts,
			Task:            block.Task,
		}
		for _, succ := range block.Succs {
			kind, _ := a.EdgeKind(block.Index, succ)
			blockReport.Successors = append(blockReport.Successors, edgeReport{Block: succ, Kind: kind.String()})
		}
		for pc := block.Begin; pc < block.End; pc++ {
			blockReport.Instructions = append(blockReport.Instructions, bytecode.FormatInstruction(a.Procedure, a.Procedure.Code[pc]))
		}
		r.Blocks = append(r.Blocks, blockReport)
	}

	for _, scope := range a.Scopes() {
		r.Scopes = append(r.Scopes, scopeReport{
			Kind:   scope.Kind.String(),
			Begin:  scope.Begin,
			Target: scope.Target,
			Blocks: scope.Blocks,
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
