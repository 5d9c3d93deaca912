package vm

import (
	"errors"

	"github.com/inoxlang/lenivm/internal/analysis"
	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/value"
)

var (
	ErrStackOverflow       = errors.New("stack overflow")
	ErrArityMismatch       = errors.New("wrong number of arguments")
	ErrUnknownNamedArg     = errors.New("unknown named argument")
	ErrNotCallable         = errors.New("value is not callable")
	ErrUnknownField        = errors.New("unknown field")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUserError           = errors.New("error")
	ErrNonConcreteOperand  = errors.New("operand should be concrete")
	ErrYieldInSuspension   = errors.New("cannot yield while running a suspended instruction or replaying a lenient body")
	ErrYieldDuringUnwind   = errors.New("cannot yield while unwinding a canceled task")
	ErrUncaughtTaskFailure = errors.New("task body failed outside of any failure context")
	ErrInvalidReturn       = errors.New("return inside a replayed failure context body")
	ErrAbandonedTask       = errors.New("task was abandoned after an error")
	ErrImmutableArray      = errors.New("array has been made immutable")

	//integer
	ErrIntOverflow = value.ErrIntOverflow

	ErrMalformedProcedure = bytecode.ErrMalformedProcedure

	//fatal
	ErrNonConvergentScopes       = analysis.ErrNonConvergentScopes
	ErrMissingUnwindEdge         = errors.New("no unwind edge covers the resume point of a canceled task")
	ErrTransactionAlreadyStarted = errors.New("transaction has already started")
	ErrFinishedTransaction       = errors.New("transaction is finished")
)
