// Package logging provides leveled logging for the histostack pipeline with
// an optional rotating file sink. Engine packages log through the package
// functions; the CLIs configure the sink once at startup.
package logging

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is the minimum severity a message needs to be written.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	SilentMode
)

var mode = InfoMode

// SetLogMode sets the severity required for a log message to be printed.
// For example, SetLogMode(WarningMode) keeps only Warningf and Errorf
// output; SilentMode turns logging off entirely.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// Logger writes formatted messages at different severities. The default
// implementation writes to the standard log output or, when configured, to a
// rotating log file.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Criticalf logs unconditionally, regardless of the log mode.
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any open log sink.
	Shutdown()
}

// LogConfig describes an optional rotating log file.
type LogConfig struct {
	// Logfile is the log file path; empty keeps logging on stderr.
	Logfile string `yaml:"logfile"`

	// MaxSize is the maximum size in megabytes before rotation.
	MaxSize int `yaml:"maxLogSize"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `yaml:"maxLogAge"`
}

type stdLogger struct {
	file *lumberjack.Logger
}

var logger = &stdLogger{}

// SetLogger routes subsequent log output according to the config, rotating
// at MaxSize megabytes and expiring files after MaxAge days.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	logger = &stdLogger{file: l}
}

func (s *stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (s *stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (s *stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (s *stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (s *stdLogger) Shutdown() {
	if s.file != nil {
		s.file.Close()
	}
}

// Package-level functions write through the default logger, gated by the
// current log mode.

func Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	logger.Criticalf(format, args...)
}

// Shutdown closes the active log sink.
func Shutdown() {
	logger.Shutdown()
}
