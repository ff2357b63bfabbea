package utils

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is a small leveled logger shared by the service components.
type Logger struct {
	file   *os.File
	logger *log.Logger
}

// NewLogger creates a logger appending to the file at filePath.
func NewLogger(filePath string) (*Logger, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &Logger{file: file, logger: log.New(file, "", log.LstdFlags)}, nil
}

// NewStderrLogger creates a logger writing to standard error.
func NewStderrLogger() *Logger {
	return &Logger{logger: log.New(os.Stderr, "", log.LstdFlags)}
}

// NewWriterLogger creates a logger writing to w. Used by tests.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{logger: log.New(w, "", log.LstdFlags)}
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) {
	l.logger.SetPrefix("INFO: ")
	l.logger.Printf(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.logger.SetPrefix("WARN: ")
	l.logger.Printf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.logger.SetPrefix("ERROR: ")
	l.logger.Printf(format, args...)
}

// Close closes the underlying log file, when there is one.
func (l *Logger) Close() {
	if l.file != nil {
		l.file.Close()
	}
}
