package utils

import (
	"log"
	"os"
	"sync"
)

// Logger provides leveled logging with verbose mode support.
// Loggers derived with WithPrefix share the verbosity of their root.
type Logger struct {
	verbose bool
	mu      sync.RWMutex
	prefix  string
	root    *Logger
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = NewLogger(false)
	})
	return globalLogger
}

// NewLogger creates a standalone root logger
func NewLogger(verbose bool) *Logger {
	return &Logger{verbose: verbose}
}

// WithPrefix returns a logger that tags every line with [component]
func (l *Logger) WithPrefix(component string) *Logger {
	return &Logger{
		prefix: l.prefix + "[" + component + "] ",
		root:   l.base(),
	}
}

func (l *Logger) base() *Logger {
	if l.root != nil {
		return l.root
	}
	return l
}

// SetVerbose enables or disables verbose logging
func (l *Logger) SetVerbose(verbose bool) {
	b := l.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verbose = verbose
}

// IsVerbose returns whether verbose logging is enabled
func (l *Logger) IsVerbose() bool {
	b := l.base()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.verbose
}

// Debug logs a debug message (only when verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.IsVerbose() {
		log.Printf("[DEBUG] "+l.prefix+format, args...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	log.Printf("[INFO] "+l.prefix+format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	log.Printf("[WARN] "+l.prefix+format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	log.Printf("[ERROR] "+l.prefix+format, args...)
}

// Debugf is a convenience function for debug logging
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Warnf is a convenience function for warning logging
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// SetVerboseMode is a convenience function to set global verbose mode
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
	if verbose {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	} else {
		log.SetFlags(0)
	}
	log.SetOutput(os.Stderr)
}

// LogOperation logs the start and end of an operation
func (l *Logger) LogOperation(operation string, fn func() error) error {
	l.Debug("Starting operation: %s", operation)

	err := fn()

	if err != nil {
		l.Debug("Operation failed: %s - %v", operation, err)
	} else {
		l.Debug("Operation completed: %s", operation)
	}

	return err
}
