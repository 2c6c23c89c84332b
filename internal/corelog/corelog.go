// Package corelog adapts the core's zerolog backend onto the process-wide
// error reporting sink described in §6: a typed event log of
// (timestamp, ErrorKind, message, optional source location) entries that
// every worker thread writes to when it captures an exception.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dynexp-go/core/errs"
)

// ErrorKind mirrors the four severities the observer interface surfaces.
type ErrorKind uint8

const (
	KindInfo ErrorKind = iota
	KindWarning
	KindError
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindWarning:
		return "warning"
	case KindError:
		return "error"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func kindFromSeverity(s errs.Severity) ErrorKind {
	switch s {
	case errs.SeverityInfo:
		return KindInfo
	case errs.SeverityWarning:
		return KindWarning
	case errs.SeverityFatal:
		return KindFatal
	default:
		return KindError
	}
}

// Entry is one record in the process-wide error log.
type Entry struct {
	Timestamp time.Time
	Kind      ErrorKind
	Message   string
	Location  *errs.SourceLocation
}

// Sink is the process-wide event log. The zero value is not usable; build
// one with NewSink.
type Sink struct {
	logger zerolog.Logger
}

// NewSink builds a Sink writing structured entries to w (os.Stderr if nil).
func NewSink(w io.Writer) *Sink {
	if w == nil {
		w = os.Stderr
	}
	return &Sink{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Report records a single event-log entry. A KindFatal entry means "fatal
// to the reporting object's runnable", not to this process — zerolog's
// Fatal level calls os.Exit on Msg, which would tear down every other
// instrument and module, so fatal entries are logged at Error level with
// an explicit kind field instead.
func (s *Sink) Report(kind ErrorKind, message string, loc *errs.SourceLocation) {
	var ev *zerolog.Event
	switch kind {
	case KindInfo:
		ev = s.logger.Info()
	case KindWarning:
		ev = s.logger.Warn()
	case KindFatal:
		ev = s.logger.Error().Str("kind", kind.String())
	default:
		ev = s.logger.Error()
	}
	if loc != nil {
		ev = ev.Str("source", loc.String())
	}
	ev.Msg(message)
}

// ReportException records an *errs.Exception, deriving the ErrorKind from
// its Severity.
func (s *Sink) ReportException(e *errs.Exception) {
	if e == nil {
		return
	}
	s.Report(kindFromSeverity(e.Severity), e.Error(), e.Location)
}

// Logger wraps its own zerolog.Logger (separate from any Sink) behind the
// minimal structured-logging interface (With/Info/Error), the same
// contract the teacher's scheduler observer chain expects of its Logger.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a Logger writing to w (os.Stderr if nil).
func NewLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

func (l Logger) With(key string, value any) Logger {
	return Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l Logger) Info(msg string, args ...any)  { logKV(l.zl.Info(), msg, args) }
func (l Logger) Error(msg string, args ...any) { logKV(l.zl.Error(), msg, args) }

func logKV(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		if key == "" {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
