// Package vmlog configures the zerolog loggers used by the runtime and its subsystems.
package vmlog

import (
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	SOURCE_FIELD_NAME = "src"

	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	TraceLevel = zerolog.TraceLevel
)

func init() {
	//configure zerolog fields

	zerolog.DurationFieldInteger = false
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.MessageFieldName = "msg"
	zerolog.LevelFieldName = "lvl"
	zerolog.TimestampFieldName = "tm"
}

// New returns a logger writing JSON lines to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ParseLevel parses a level name, the empty string is the info level.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func ChildLoggerForSource(logger zerolog.Logger, src string) zerolog.Logger {
	return logger.With().Str(SOURCE_FIELD_NAME, src).Logger()
}

// ChildLoggerForInternalSource is like ChildLoggerForSource but the returned logger only emits
// debug and trace events if internal debug logs are enabled.
func ChildLoggerForInternalSource(logger zerolog.Logger, src string, levels *Levels) zerolog.Logger {
	if !levels.AreInternalDebugLogsEnabled() && logger.GetLevel() < zerolog.InfoLevel {
		//if internal debug logs are disabled we set 'info' as the minimum level for the logger.
		logger = logger.Level(zerolog.InfoLevel)
	}
	return ChildLoggerForSource(logger, src)
}

// Levels holds the minimum level of each log source.
type Levels struct {
	lock          sync.Mutex
	defaultLevel  zerolog.Level
	levelBySource map[string]zerolog.Level
	internalDebug bool
}

func NewLevels(defaultLevel zerolog.Level, bySource map[string]zerolog.Level, enableInternalDebugLogs bool) *Levels {
	if bySource == nil {
		bySource = map[string]zerolog.Level{}
	} else {
		bySource = maps.Clone(bySource)
	}

	return &Levels{
		defaultLevel:  defaultLevel,
		levelBySource: bySource,
		internalDebug: enableInternalDebugLogs,
	}
}

func (l *Levels) LevelFor(src string) zerolog.Level {
	l.lock.Lock()
	defer l.lock.Unlock()

	level, ok := l.levelBySource[src]
	if ok {
		return level
	}
	return l.defaultLevel
}

func (l *Levels) AreInternalDebugLogsEnabled() bool {
	if l == nil {
		return false
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	return l.internalDebug
}
