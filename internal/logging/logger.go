package logging

// Leveled logging for modsim on top of zap.

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// zap has no verbose level; it sits between info and debug.
const (
	zapVerbose = zapcore.DebugLevel
	zapDebug   = zapcore.DebugLevel - 1
)

// ParseLevel maps a level name to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// shared is the state common to a logger and its named children.
type shared struct {
	mu       sync.Mutex
	level    LogLevel
	file     *os.File
	every    int
	samplers map[string]*rate.Sometimes
}

// Logger provides leveled logging. Errors go to stderr; info and below go to
// stdout only at verbose or debug level; everything enabled goes to the file.
type Logger struct {
	s      *shared
	out    *zap.Logger
	errOut *zap.Logger
	file   *zap.Logger
	format string
}

// NewLogger creates a text logger with no sampling.
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithOptions(level, logFile, "text", 1)
}

// NewLoggerWithOptions creates a logger with the given output format
// ("text" or "json") and per-key sampling rate for Sampled.
func NewLoggerWithOptions(level LogLevel, logFile, format string, logEveryN int) (*Logger, error) {
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if logEveryN < 1 {
		logEveryN = 1
	}

	l := &Logger{
		s: &shared{
			level:    level,
			every:    logEveryN,
			samplers: make(map[string]*rate.Sometimes),
		},
		out:    zap.New(newCore(format, zapcore.Lock(os.Stdout))),
		errOut: zap.New(newCore(format, zapcore.Lock(os.Stderr))),
		format: format,
	}

	if logFile != "" {
		file, err := os.Create(logFile)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.s.file = file
		l.file = zap.New(newCore(format, zapcore.AddSync(file)))
	}

	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		s:      &shared{level: LogLevelSilent, every: 1, samplers: make(map[string]*rate.Sometimes)},
		out:    zap.NewNop(),
		errOut: zap.NewNop(),
		format: "text",
	}
}

func newCore(format string, ws zapcore.WriteSyncer) zapcore.Core {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339)) },
		EncodeLevel:    encodeLevel,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, ws, zapDebug)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapVerbose:
		enc.AppendString("VERBOSE")
	case zapDebug:
		enc.AppendString("DEBUG")
	default:
		zapcore.CapitalLevelEncoder(l, enc)
	}
}

// Named returns a child logger tagged with a component name. The child
// shares level, file and sampling state with its parent.
func (l *Logger) Named(name string) *Logger {
	child := *l
	child.out = l.out.Named(name)
	child.errOut = l.errOut.Named(name)
	if l.file != nil {
		child.file = l.file.Named(name)
	}
	return &child
}

// Close flushes and closes the logger.
func (l *Logger) Close() error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var errs []error
	for _, zl := range []*zap.Logger{l.out, l.errOut, l.file} {
		if zl == nil {
			continue
		}
		if err := zl.Sync(); err != nil && !ignorableSyncError(err) {
			errs = append(errs, err)
		}
	}
	if l.s.file != nil {
		errs = append(errs, l.s.file.Close())
		l.s.file = nil
		l.file = nil
	}
	return errors.Join(errs...)
}

// Sync on stdout/stderr fails with EINVAL and friends on most platforms.
func ignorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EBADF)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelError {
		l.write(zapcore.ErrorLevel, fmt.Sprintf(format, v...), true)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelInfo {
		l.write(zapcore.InfoLevel, fmt.Sprintf(format, v...), false)
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelVerbose {
		l.write(zapVerbose, fmt.Sprintf(format, v...), false)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelDebug {
		l.write(zapDebug, fmt.Sprintf(format, v...), false)
	}
}

func (l *Logger) write(lvl zapcore.Level, msg string, isError bool) {
	if l.file != nil {
		// Children keep their own file core; the shared handle says whether
		// the file is still open.
		l.s.mu.Lock()
		if l.s.file != nil {
			l.file.Check(lvl, msg).Write()
		}
		l.s.mu.Unlock()
	}
	if isError {
		l.errOut.Check(lvl, msg).Write()
	} else if l.GetLevel() >= LogLevelVerbose {
		l.out.Check(lvl, msg).Write()
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.level
}

// Sampled reports whether a high-frequency message under key should be
// emitted. The first call per key passes, then one in every logEveryN.
func (l *Logger) Sampled(key string) bool {
	l.s.mu.Lock()
	s, ok := l.s.samplers[key]
	if !ok {
		s = &rate.Sometimes{First: 1, Every: l.s.every}
		l.s.samplers[key] = s
	}
	l.s.mu.Unlock()

	emit := false
	s.Do(func() { emit = true })
	return emit
}

// LogStartup logs startup information
func (l *Logger) LogStartup(mode, ip string, port, clients, ratePPS int, configPath string) {
	l.Info("Starting modsim %s", mode)
	l.Verbose("  Endpoint: %s:%d", ip, port)
	l.Verbose("  Clients: %d @ %d pps", clients, ratePPS)
	l.Verbose("  Config: %s", configPath)
}

// LogHex logs hex data (for debug level)
func (l *Logger) LogHex(label string, data []byte) {
	if l.GetLevel() < LogLevelDebug {
		return
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	l.Debug("%s: %s", label, b.String())
}
