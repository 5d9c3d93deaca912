package vm

import (
	"fmt"
	"slices"

	"github.com/oklog/ulid/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/inoxlang/lenivm/internal/bytecode"
	"github.com/inoxlang/lenivm/internal/config"
	"github.com/inoxlang/lenivm/internal/memds"
	"github.com/inoxlang/lenivm/internal/value"
	"github.com/inoxlang/lenivm/internal/vmlog"
)

const (
	LOG_SOURCE           = "vm"
	SCHEDULER_LOG_SOURCE = "vm/scheduler"
)

type RuntimeConfig struct {
	// Config is validated, the zero value is replaced by config.Default().
	Config config.Config

	// Logger is the parent logger of the runtime, nothing is logged if it is nil.
	Logger *zerolog.Logger

	// Levels (optional) overrides the log level of the configuration and enables the debug logs
	// of the scheduler if internal debug logs are enabled.
	Levels *vmlog.Levels
}

// A Runtime runs procedures and schedules the tasks they start. A Runtime is not safe for
// concurrent use, only the registry of live tasks can be read from other goroutines.
type Runtime struct {
	config config.Config
	logger zerolog.Logger
	// internalLogger logs the activity of the scheduler and of failure contexts.
	internalLogger zerolog.Logger

	unblocked *memds.ArrayQueue[*Suspension]
	pool      failureContextPool

	tasks cmap.ConcurrentMap[string, *Task]

	// failureEpoch is incremented each time a failure context fails, interpreters look
	// for failed contexts in their chain when it changes.
	failureEpoch uint64

	inlineCacheHits int
}

func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	conf := cfg.Config
	if conf == (config.Config{}) {
		conf = config.Default()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	logger, internalLogger := zerolog.Nop(), zerolog.Nop()
	if cfg.Logger != nil {
		levelFor := func(src string) zerolog.Level {
			if cfg.Levels != nil {
				return cfg.Levels.LevelFor(src)
			}
			return conf.LogLevel
		}
		//both loggers are derived from the parent, a logger cannot have two src fields.
		logger = vmlog.ChildLoggerForSource(cfg.Logger.Level(levelFor(LOG_SOURCE)), LOG_SOURCE)
		internalLogger = vmlog.ChildLoggerForInternalSource(cfg.Logger.Level(levelFor(SCHEDULER_LOG_SOURCE)), SCHEDULER_LOG_SOURCE, cfg.Levels)
	}

	return &Runtime{
		config:         conf,
		logger:         logger,
		internalLogger: internalLogger,
		unblocked:      memds.NewArrayQueue[*Suspension](),
		pool:           failureContextPool{capacity: conf.FailureContextPoolCapacity},
		tasks:          cmap.New[*Task](),
	}, nil
}

func (r *Runtime) Config() config.Config {
	return r.config
}

// Task returns the live task with the given ID.
func (r *Runtime) Task(id ulid.ULID) (*Task, bool) {
	return r.tasks.Get(id.String())
}

// LiveTasks returns the number of tasks that are neither settled nor canceled.
func (r *Runtime) LiveTasks() int {
	return r.tasks.Count()
}

// PooledFailureContexts returns the number of failure contexts available for reuse.
func (r *Runtime) PooledFailureContexts() int {
	return r.pool.Len()
}

// ReusedFailureContexts returns the number of failure contexts taken from the pool.
func (r *Runtime) ReusedFailureContexts() int {
	return r.pool.reused
}

func (r *Runtime) InlineCacheHits() int {
	return r.inlineCacheHits
}

// PendingSuspensions returns the number of unblocked suspensions that have not run yet.
func (r *Runtime) PendingSuspensions() int {
	return r.unblocked.Size()
}

func (r *Runtime) newTask(parent *Task) *Task {
	t := &Task{
		ID:     ulid.Make(),
		Parent: parent,
	}
	if parent != nil {
		parent.children = append(parent.children, t)
	}
	r.tasks.Set(t.ID.String(), t)
	return t
}

// newRootFailureContext creates the failure context a task body runs in when it is not in any other context.
func (r *Runtime) newRootFailureContext(t *Task, frame *Frame) *FailureContext {
	fc := &FailureContext{
		Task:      t,
		Frame:     frame,
		FailurePC: -1,
		escaped:   true,
	}
	fc.Transaction.Start()
	return fc
}

func (r *Runtime) releaseFailureContext(fc *FailureContext) {
	if fc.escaped || fc.FailurePC < 0 {
		return
	}
	fc.detach()
	r.pool.release(fc)
}

// failScope is the failure protocol: fc and its descendants are marked as failed and their
// transactions are rolled back, innermost first. If the end of fc was reached leniently the
// failure branch of fc is replayed.
func (r *Runtime) failScope(fc *FailureContext) error {
	if fc.Failed || fc.done {
		return nil
	}

	for _, ctx := range fc.markFailed() {
		if !ctx.Transaction.IsFinished() {
			ctx.Transaction.Rollback()
		}
	}
	r.failureEpoch++

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", fc.Task.ID.String()).Int("failure-pc", fc.FailurePC).Msg("failure context failed")
	}

	if fc.ExecutedEnd {
		fc.done = true
		return r.replay(fc, fc.ElseFrame, fc.FailurePC, fc.IncomingEffectToken)
	}
	return nil
}

// completeLenient is called once all the suspensions of a context whose end was reached
// leniently have run: the context commits and its then body is replayed.
func (r *Runtime) completeLenient(fc *FailureContext) error {
	fc.Transaction.Commit(fc.Parent.activeTransaction())
	fc.done = true

	if e := r.internalLogger.Debug(); e.Enabled() {
		e.Str("task", fc.Task.ID.String()).Int("then-pc", fc.ThenPC).Msg("lenient failure context completed")
	}
	return r.replay(fc, fc.ReplayFrame, fc.ThenPC, fc.BeforeThenEffectToken)
}

// replay runs the code of a snapshot frame of fc from pc up to the done label of fc,
// the effect token of the done label is then bound to the token after the replayed code.
func (r *Runtime) replay(fc *FailureContext, frame *Frame, pc int, token value.Value) error {
	it := &interpreter{
		r:            r,
		task:         fc.Task,
		frame:        frame,
		pc:           pc,
		fc:           fc.Parent,
		token:        token,
		boundary:     fc.Parent,
		baseFrame:    frame,
		bounded:      true,
		end:          fc.DonePC,
		failureEpoch: r.failureEpoch,
	}

	res := it.run()
	switch res.outcome {
	case outcomeDone:
		if !value.Unify(fc.Parent.journal(), fc.DoneEffectToken, it.token, r.fire) {
			return fmt.Errorf("effect token of %s cannot be bound twice", frame.Procedure.FormatLocation(fc.DonePC))
		}
		return nil
	case outcomeFailed:
		return r.failScope(res.failed)
	case outcomeError:
		return res.err
	}
	return fmt.Errorf("%w: %s", ErrYieldInSuspension, frame.Procedure.FormatLocation(pc))
}

// definedRegisters returns the registers defined by the instructions between start and end,
// code reading them after the join point of a lenient failure context waits for the replayed body.
func definedRegisters(proc *bytecode.Procedure, start, end int) []bytecode.Register {
	var registers []bytecode.Register
	for pc := start; pc < end && pc < len(proc.Code); pc++ {
		proc.Code[pc].ForEachOperand(func(role bytecode.Role, op *bytecode.Operand) {
			if role.IsDef() && op.IsRegister() && !slices.Contains(registers, op.Register()) {
				registers = append(registers, op.Register())
			}
		})
	}
	return registers
}
