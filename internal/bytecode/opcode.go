package bytecode

import "strconv"

type Opcode uint8

const (
	OpAdd Opcode = iota + 1
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpQuery
	OpMove
	OpReset
	OpNewOption
	OpNewArray
	OpNewMutableArray
	OpNewObject
	OpLength
	OpLoadField
	OpLoadFieldICOffset
	OpTracepoint
	OpErr
	OpMutableAdd
	OpNewMutableArrayWithCapacity
	OpNewMap
	OpMapKey
	OpMapValue
	OpMelt
	OpUnifyField

	OpNewVar
	OpVarGet
	OpVarSet
	OpCallSet
	OpArrayAdd
	OpSetField
	OpFreeze
	OpInPlaceMakeImmutable

	OpJump
	OpJumpIfInitialized
	OpJumpIfArchetype
	OpSwitch
	OpBeginFailureContext
	OpEndFailureContext
	OpReturn
	OpResumeUnwind

	OpCall
	OpCallWithSelf

	OpBeginTask
	OpEndTask
	OpNewSemaphore
	OpWaitSemaphore
	OpYield
	OpAwait
	OpCancel
)

type opcodeInfo struct {
	name      string
	effectful bool
	// execution never continues at the next instruction.
	terminal bool
}

var opcodeInfos = [...]opcodeInfo{
	OpAdd:               {name: "Add"},
	OpSub:               {name: "Sub"},
	OpMul:               {name: "Mul"},
	OpDiv:               {name: "Div"},
	OpMod:               {name: "Mod"},
	OpNeg:               {name: "Neg"},
	OpNeq:               {name: "Neq"},
	OpLt:                {name: "Lt"},
	OpLte:               {name: "Lte"},
	OpGt:                {name: "Gt"},
	OpGte:               {name: "Gte"},
	OpQuery:             {name: "Query"},
	OpMove:              {name: "Move"},
	OpReset:             {name: "Reset"},
	OpNewOption:         {name: "NewOption"},
	OpNewArray:          {name: "NewArray"},
	OpNewMutableArray:   {name: "NewMutableArray"},
	OpNewObject:         {name: "NewObject"},
	OpLength:            {name: "Length"},
	OpLoadField:         {name: "LoadField"},
	OpLoadFieldICOffset: {name: "LoadFieldICOffset"},
	OpTracepoint:        {name: "Tracepoint"},
	OpErr:               {name: "Err", terminal: true},

	OpMutableAdd:                  {name: "MutableAdd"},
	OpNewMutableArrayWithCapacity: {name: "NewMutableArrayWithCapacity"},
	OpNewMap:                      {name: "NewMap"},
	OpMapKey:                      {name: "MapKey"},
	OpMapValue:                    {name: "MapValue"},
	OpMelt:                        {name: "Melt"},
	OpUnifyField:                  {name: "UnifyField"},

	OpNewVar:               {name: "NewVar", effectful: true},
	OpVarGet:               {name: "VarGet", effectful: true},
	OpVarSet:               {name: "VarSet", effectful: true},
	OpCallSet:              {name: "CallSet", effectful: true},
	OpArrayAdd:             {name: "ArrayAdd", effectful: true},
	OpSetField:             {name: "SetField", effectful: true},
	OpFreeze:               {name: "Freeze", effectful: true},
	OpInPlaceMakeImmutable: {name: "InPlaceMakeImmutable", effectful: true},

	OpJump:                {name: "Jump", terminal: true},
	OpJumpIfInitialized:   {name: "JumpIfInitialized"},
	OpJumpIfArchetype:     {name: "JumpIfArchetype"},
	OpSwitch:              {name: "Switch", terminal: true},
	OpBeginFailureContext: {name: "BeginFailureContext"},
	OpEndFailureContext:   {name: "EndFailureContext"},
	OpReturn:              {name: "Return", terminal: true},
	OpResumeUnwind:        {name: "ResumeUnwind", terminal: true},

	OpCall:         {name: "Call"},
	OpCallWithSelf: {name: "CallWithSelf"},

	OpBeginTask:     {name: "BeginTask"},
	OpEndTask:       {name: "EndTask", terminal: true},
	OpNewSemaphore:  {name: "NewSemaphore"},
	OpWaitSemaphore: {name: "WaitSemaphore"},
	OpYield:         {name: "Yield"},
	OpAwait:         {name: "Await"},
	OpCancel:        {name: "Cancel"},
}

func (op Opcode) String() string {
	if int(op) < len(opcodeInfos) && opcodeInfos[op].name != "" {
		return opcodeInfos[op].name
	}
	return "Opcode(" + strconv.Itoa(int(op)) + ")"
}

// IsTerminal reports whether execution never continues at the instruction following an instruction with the opcode.
func (op Opcode) IsTerminal() bool {
	return int(op) < len(opcodeInfos) && opcodeInfos[op].terminal
}

// IsEffectful reports whether instructions with the opcode are ordered by the effect token.
func (op Opcode) IsEffectful() bool {
	return int(op) < len(opcodeInfos) && opcodeInfos[op].effectful
}
