package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled logging throughout the pipeline. Messages keep the
// "[component] message" convention; logrus handles levels and formatting.
type Logger struct {
	log  *logrus.Logger
	file *os.File
}

// NewLogger creates a Logger writing to stdout at info level.
func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, logrus.InfoLevel)
}

// NewLoggerTo creates a Logger writing to w at the given level.
func NewLoggerTo(w io.Writer, level logrus.Level) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &Logger{log: l}
}

// NewStageLogger creates a Logger for one pipeline stage. When logDir is not
// empty, output is mirrored into log_<stage>_<timestamp>.log inside it.
func NewStageLogger(stage, logDir, level string) (*Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if logDir == "" {
		return NewLoggerTo(os.Stdout, lvl), nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	name := fmt.Sprintf("log_%s_%s.log", stage, time.Now().Format("20060102_150405"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file: %w", err)
	}

	l := NewLoggerTo(io.MultiWriter(os.Stdout, f), lvl)
	l.file = f
	return l, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Info(format string, args ...any) {
	l.log.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.log.Debugf(format, args...)
}
