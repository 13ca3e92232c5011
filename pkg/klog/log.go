// Package klog is the kernel's logging facade over zerolog. Subsystems take
// a named sub-logger once and log through it; Configure decides where the
// output goes and at what level.
package klog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options controls the process-wide logger.
type Options struct {
	// Level is one of zerolog's level names ("debug", "info", ...).
	Level string
	// Structured emits JSON lines instead of the console format.
	Structured bool
	// IncludeCaller adds the short originating file name to each line.
	IncludeCaller bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

const callerSkipFrameCount = 3

var (
	mu   sync.RWMutex
	root = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

func consoleWriter(out io.Writer) io.Writer {
	w := &zerolog.ConsoleWriter{Out: out}
	w.FormatCaller = func(i interface{}) string {
		s, ok := i.(string)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%12s >", filepath.Base(s))
	}
	w.TimeFormat = "2006/01/02 15:04:05.000"
	return w
}

// Configure replaces the process-wide logger.
func Configure(opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = l
	}

	var w io.Writer
	if opts.Structured {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		w = out
	} else {
		w = consoleWriter(out)
	}
	logger := zerolog.New(w).With().Timestamp().Logger().Level(level)
	if opts.IncludeCaller {
		logger = logger.With().CallerWithSkipFrameCount(callerSkipFrameCount).Logger()
	}

	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// Logger is a named view of the process-wide logger. The zero value logs
// without a name.
type Logger struct {
	name string
}

// NamedSubLogger returns a Logger tagging every line with name.
func NamedSubLogger(name string) Logger {
	return Logger{name: name}
}

func (l Logger) zl() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l.name == "" {
		return root
	}
	return root.With().Str("name", l.name).Logger()
}

// Enabled reports whether messages at level would be emitted.
func (l Logger) Enabled(level zerolog.Level) bool {
	z := l.zl()
	return z.GetLevel() <= level
}

// Debugf logs to the DEBUG log.
func (l Logger) Debugf(format string, args ...interface{}) {
	z := l.zl()
	z.Debug().Msgf(format, args...)
}

// Infof logs to the INFO log.
func (l Logger) Infof(format string, args ...interface{}) {
	z := l.zl()
	z.Info().Msgf(format, args...)
}

// Warningf logs to the WARNING log.
func (l Logger) Warningf(format string, args ...interface{}) {
	z := l.zl()
	z.Warn().Msgf(format, args...)
}

// Errorf logs to the ERROR log.
func (l Logger) Errorf(format string, args ...interface{}) {
	z := l.zl()
	z.Error().Msgf(format, args...)
}

// Debug logs a structured DEBUG event built by fn. fn is not called when
// debug logging is off.
func (l Logger) Debug(fn func(e *zerolog.Event)) {
	z := l.zl()
	e := z.Debug()
	if e == nil {
		return
	}
	fn(e)
	e.Send()
}
