package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// Debug level for detailed troubleshooting
	Debug LogLevel = iota
	// Info level for general operational entries
	Info
	// Warn level for non-critical issues
	Warn
	// Error level for errors that need attention
	Error
)

var levelNames = map[LogLevel]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

var zerologLevels = map[LogLevel]zerolog.Level{
	Debug: zerolog.DebugLevel,
	Info:  zerolog.InfoLevel,
	Warn:  zerolog.WarnLevel,
	Error: zerolog.ErrorLevel,
}

// String returns the upper-case level name.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// DirMode defines platform-specific directory permissions
var DirMode os.FileMode

func init() {
	if runtime.GOOS == "windows" {
		DirMode = 0666
	} else {
		DirMode = 0755
	}
}

// Logger is a leveled printf-style logger backed by zerolog.
type Logger struct {
	zl   zerolog.Logger
	file io.Closer // rotating log file, if any
}

var (
	defaultLogger *Logger
	once          sync.Once
	nop           = &Logger{zl: zerolog.Nop()}
)

// Config holds logger configuration
type Config struct {
	// LogLevel sets the minimum level to log
	LogLevel LogLevel
	// LogFile is the path to the log file. If empty, logs to stdout only
	LogFile string
	// MaxSizeMB is the maximum size in megabytes before the log file is rotated
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept
	MaxAgeDays int
	// Console overrides stdout as the console destination (used by tests)
	Console io.Writer
}

// Initialize sets up the default logger with configuration
func Initialize(config Config) error {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(config)
	})
	return err
}

// NewLogger creates a new logger instance
func NewLogger(config Config) (*Logger, error) {
	console := config.Console
	if console == nil {
		console = os.Stdout
	}
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.RFC3339Nano,
		NoColor:    true,
	}}

	var rotating *lumberjack.Logger
	if config.LogFile != "" {
		config.LogFile = filepath.Clean(config.LogFile)
		if err := os.MkdirAll(filepath.Dir(config.LogFile), DirMode); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		rotating = &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		}
		writers = append(writers, rotating)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerologLevels[config.LogLevel]).
		With().Timestamp().Logger()

	l := &Logger{zl: zl}
	if rotating != nil {
		l.file = rotating
	}
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return nop
}

// Close properly closes the logger's file handle if one exists
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a child logger that adds key=value to every entry.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:   l.zl.With().Str(key, value).Logger(),
		file: l.file,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	if defaultLogger == nil {
		panic("logger not initialized")
	}
	return defaultLogger
}

// OrDefault returns l when set, otherwise the initialized default logger,
// otherwise a no-op logger. Library code uses it so it works without Initialize.
func OrDefault(l *Logger) *Logger {
	if l != nil {
		return l
	}
	if defaultLogger != nil {
		return defaultLogger
	}
	return nop
}

// ParseLogLevel converts a string level to LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return Debug, nil
	case "info", "INFO":
		return Info, nil
	case "warn", "WARN":
		return Warn, nil
	case "error", "ERROR":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}
