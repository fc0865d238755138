// Package logs is the process-wide printf-style logger used by every glowlink package.
//
// It is a thin layer over zerolog so call sites stay one line:
//
//	logs.Infof("transport.Link.Send type=%s bytes=%d", typ, n)
//
// Configuration is applied once through internal/logging.
package logs

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	TraceLevel = zerolog.TraceLevel
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

// Config controls output format and verbosity.
type Config struct {
	Level     Level
	Timestamp bool
	NoColor   bool
	// Bypass skips console formatting and writes raw JSON lines.
	Bypass bool
	Out    io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Timestamp: true,
		Out:       os.Stderr,
	}
}

var current atomic.Pointer[zerolog.Logger]

func init() {
	Configure(DefaultConfig())
}

// Configure replaces the process logger. Safe to call from any goroutine.
func Configure(cfg Config) {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.Bypass {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	l := ctx.Logger()
	current.Store(&l)
}

// Logger returns the configured zerolog logger for structured call sites.
func Logger() *zerolog.Logger {
	return current.Load()
}

func Tracef(format string, args ...any) { emit(Logger().Trace(), format, args) }
func Debugf(format string, args ...any) { emit(Logger().Debug(), format, args) }
func Infof(format string, args ...any)  { emit(Logger().Info(), format, args) }
func Warnf(format string, args ...any)  { emit(Logger().Warn(), format, args) }
func Errorf(format string, args ...any) { emit(Logger().Error(), format, args) }

// Logf writes at info level without a caller prefix; used by tests for narration.
func Logf(format string, args ...any) { emit(Logger().Info(), format, args) }

func emit(ev *zerolog.Event, format string, args []any) {
	if ev == nil {
		return
	}
	ev.Msg(fmt.Sprintf(format, args...))
}
