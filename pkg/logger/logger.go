// Package logger provides a package-level structured logger shared by every
// component of the broker. It wraps log/slog behind a small facade so call
// sites never import slog directly, matching the rest of the stack's
// preference for a narrow logging seam over a framework.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/stacklok/toolhive-core/logging"
)

var singleton atomic.Pointer[slog.Logger]

// envReader is the minimal env-lookup seam Initialize depends on. Declared
// locally rather than imported so this package never bets on the exact
// shape of an external env package beyond a single method.
type envReader interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func init() {
	singleton.Store(newDefault(osEnv{}))
}

// Initialize (re)configures the package-level logger from the real process
// environment. Safe to call more than once.
func Initialize() {
	InitializeWithEnv(osEnv{})
}

// InitializeWithEnv (re)configures the package-level logger using env as the
// source of the UNSTRUCTURED_LOGS toggle. Exposed for tests that need to
// control the environment without mutating the real process.
func InitializeWithEnv(env envReader) {
	singleton.Store(newDefault(env))
}

func newDefault(env envReader) *slog.Logger {
	level := slog.LevelInfo
	if unstructuredLogsWithEnv(env) {
		return logging.New(logging.WithOutput(os.Stderr), logging.WithLevel(level))
	}
	// toolhive-core/logging's public options (WithOutput, WithLevel) are the
	// only ones this package's grounding confirms; a structured-JSON handler
	// isn't among them, so the JSON branch is built directly on slog instead
	// of guessing at an unconfirmed option name.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func unstructuredLogsWithEnv(env envReader) bool {
	v := env.Getenv("UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	if v == "false" {
		return false
	}
	return true
}

// debugLinePrefixer prefixes every write with an ISO-8601 timestamp and the
// process pid, matching the on-disk debug log format.
type debugLinePrefixer struct {
	w   io.Writer
	pid int
}

func (p *debugLinePrefixer) Write(b []byte) (int, error) {
	prefix := fmt.Sprintf("%s [%d] ", time.Now().UTC().Format(time.RFC3339Nano), p.pid)
	if _, err := p.w.Write([]byte(prefix)); err != nil {
		return 0, err
	}
	return p.w.Write(b)
}

// EnableDebugFile reconfigures the package-level logger to emit debug-level
// logs to both stderr and path, each line in the on-disk file prefixed with
// an ISO timestamp and the process pid. Returns a closer the caller must
// invoke on shutdown. Only called when --debug is set.
func EnableDebugFile(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("logger: open debug log %s: %w", path, err)
	}

	prefixed := &debugLinePrefixer{w: f, pid: os.Getpid()}
	out := io.MultiWriter(os.Stderr, prefixed)
	singleton.Store(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f, nil
}

// Get returns the current package-level logger.
func Get() *slog.Logger {
	return singleton.Load()
}

// NewLogr returns a logr.Logger backed by the current package-level logger,
// for collaborators (e.g. OIDC discovery libraries) that expect one.
func NewLogr() logr.Logger {
	l := Get()
	return funcr.New(func(_, args string) {
		l.Info(args)
	}, funcr.Options{})
}

func Debug(msg string)                       { Get().Debug(msg) }
func Debugf(format string, args ...any)       { Get().Debug(fmt.Sprintf(format, args...)) }
func Debugw(msg string, kv ...any)            { Get().Debug(msg, kv...) }
func Info(msg string)                         { Get().Info(msg) }
func Infof(format string, args ...any)        { Get().Info(fmt.Sprintf(format, args...)) }
func Infow(msg string, kv ...any)             { Get().Info(msg, kv...) }
func Warn(msg string)                         { Get().Warn(msg) }
func Warnf(format string, args ...any)        { Get().Warn(fmt.Sprintf(format, args...)) }
func Warnw(msg string, kv ...any)             { Get().Warn(msg, kv...) }
func Error(msg string)                        { Get().Error(msg) }
func Errorf(format string, args ...any)       { Get().Error(fmt.Sprintf(format, args...)) }
func Errorw(msg string, kv ...any)            { Get().Error(msg, kv...) }

// DPanic logs at error level without panicking — for conditions that
// indicate a programming error but are safe to continue past in production.
func DPanic(msg string)                 { Get().Error(msg) }
func DPanicf(format string, args ...any) { Get().Error(fmt.Sprintf(format, args...)) }
func DPanicw(msg string, kv ...any)     { Get().Error(msg, kv...) }

// Panic logs at error level and then panics.
func Panic(msg string) {
	Get().Error(msg)
	panic(msg)
}

func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Get().Error(msg)
	panic(msg)
}

func Panicw(msg string, kv ...any) {
	Get().Error(msg, kv...)
	panic(msg)
}
