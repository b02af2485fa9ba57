package logger

import (
	"fmt"
	"log"
	"os"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name  string
	log   *log.Logger
	debug bool
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance
func NewLogger(level string, name string) *Logger {
	return &Logger{
		name:  name,
		log:   log.New(os.Stdout, "", log.LstdFlags),
		debug: level == "DEBUG",
	}
}

// -----------------------------------------------------------------------------

// Named returns a child logger sharing the sink but with its own prefix.
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: name, log: l.log, debug: l.debug}
}

// -----------------------------------------------------------------------------

// Debug logs debug messages, suppressed unless the level is DEBUG
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.log.Printf("[%s] DEBUG: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Warning logs warning messages
func (l *Logger) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log.Printf("[%s] WARNING: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log.Printf("[%s] INFO: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log.Printf("[%s] ERROR: %s", l.name, msg)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log.Printf("[%s] CRITICAL: %s", l.name, msg)
	os.Exit(1)
}
