package analysis

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/inoxlang/lenivm/internal/bytecode"
)

// readsAndClobbers calls read for each register the instruction reads and clobber for each
// register it overwrites. A unifying definition reads the register: the register may hold a
// placeholder created by an earlier read, that placeholder must be bound by the definition.
func readsAndClobbers(instr bytecode.Instruction, read, clobber func(r uint)) {
	instr.ForEachOperand(func(role bytecode.Role, op *bytecode.Operand) {
		if !op.IsRegister() {
			return
		}
		switch role {
		case bytecode.Use, bytecode.UnifyDef:
			read(uint(op.Index))
		case bytecode.ClobberDef:
			clobber(uint(op.Index))
		}
	})
}

func (a *Analysis) computeLocalSets() {
	for _, block := range a.Blocks {
		block.Uses = bitset.New(a.numRegisters)
		block.Defs = bitset.New(a.numRegisters)

		for pc := block.Begin; pc < block.End; pc++ {
			readsAndClobbers(a.Procedure.Code[pc], func(r uint) {
				if !block.Defs.Test(r) {
					block.Uses.Set(r)
				}
			}, func(r uint) {
				block.Defs.Set(r)
			})
		}
	}
}

// computeLiveness runs the backward dataflow fixpoint. Registers live at the target of a scope
// are forced live in every block of its body since the target can be entered from any of them.
func (a *Analysis) computeLiveness() {
	forced := make([]*bitset.BitSet, len(a.Blocks))
	for i, block := range a.Blocks {
		block.LiveIn = bitset.New(a.numRegisters)
		block.LiveOut = bitset.New(a.numRegisters)
		forced[i] = bitset.New(a.numRegisters)
	}
	scopes := a.Scopes()

	for changed := true; changed; {
		changed = false

		for _, scope := range scopes {
			targetLiveIn := a.BlockAt(scope.Target).LiveIn
			for _, index := range scope.Blocks {
				forced[index].InPlaceUnion(targetLiveIn)
			}
		}

		for i := len(a.Blocks) - 1; i >= 0; i-- {
			block := a.Blocks[i]

			out := forced[i].Clone()
			for _, succ := range block.Succs {
				out.InPlaceUnion(a.Blocks[succ].LiveIn)
			}

			in := out.Difference(block.Defs)
			in.InPlaceUnion(block.Uses)
			in.InPlaceUnion(forced[i])

			if !in.Equal(block.LiveIn) || !out.Equal(block.LiveOut) {
				changed = true
			}
			block.LiveIn = in
			block.LiveOut = out
		}
	}

	a.forced = forced
}

// WalkBackward visits the instructions of a block from last to first, live holds the registers
// live after the visited instruction. fn must not retain or modify live.
func (a *Analysis) WalkBackward(block *Block, fn func(pc int, instr bytecode.Instruction, live *bitset.BitSet)) {
	live := block.LiveOut.Clone()
	forced := a.forced[block.Index]

	for pc := block.End - 1; pc >= block.Begin; pc-- {
		instr := a.Procedure.Code[pc]
		fn(pc, instr, live)

		var reads []uint
		readsAndClobbers(instr, func(r uint) {
			reads = append(reads, r)
		}, func(r uint) {
			live.Clear(r)
		})
		for _, r := range reads {
			live.Set(r)
		}
		live.InPlaceUnion(forced)
	}
}

// LiveBefore returns the registers live before the instruction at pc.
func (a *Analysis) LiveBefore(pc int) *bitset.BitSet {
	block := a.BlockAt(pc)
	var result *bitset.BitSet

	a.WalkBackward(block, func(visited int, instr bytecode.Instruction, live *bitset.BitSet) {
		if visited != pc {
			return
		}
		result = live.Clone()
		readsAndClobbers(instr, func(r uint) {}, func(r uint) {
			result.Clear(r)
		})
		readsAndClobbers(instr, func(r uint) {
			result.Set(r)
		}, func(r uint) {})
		result.InPlaceUnion(a.forced[block.Index])
	})
	return result
}

// Registers returns the members of a register set in increasing order.
func Registers(set *bitset.BitSet) []bytecode.Register {
	var registers []bytecode.Register
	for r, ok := set.NextSet(0); ok; r, ok = set.NextSet(r + 1) {
		registers = append(registers, bytecode.Register(r))
	}
	return registers
}
