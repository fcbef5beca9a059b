// Package testlogger adapts a testing.T into the module's log.DebugLogger
// interface. Ported from the teacher's lib/log/testlogger almost verbatim;
// the underlying contract (TestLogger) is satisfied unchanged by
// testing.T.
package testlogger

import (
	"fmt"
	"strings"
	"time"
)

// TestLogger is satisfied by *testing.T and *testing.B.
type TestLogger interface {
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Log(v ...interface{})
	Logf(format string, v ...interface{})
}

type Logger struct {
	logger    TestLogger
	startTime time.Time
	timestamp bool
}

// New creates a Logger from a TestLogger.
func New(logger TestLogger) *Logger {
	return &Logger{logger: logger}
}

// NewWithTimestamps is the same as New, except each line is prefixed with
// the elapsed time since the Logger was created.
func NewWithTimestamps(logger TestLogger) *Logger {
	return &Logger{logger: logger, startTime: time.Now(), timestamp: true}
}

func (l *Logger) format(v []interface{}) string {
	s := strings.TrimRight(fmt.Sprint(v...), "\n")
	if l.timestamp {
		return fmt.Sprintf("[%s] %s", time.Since(l.startTime), s)
	}
	return s
}

func (l *Logger) formatf(format string, v []interface{}) string {
	s := strings.TrimRight(fmt.Sprintf(format, v...), "\n")
	if l.timestamp {
		return fmt.Sprintf("[%s] %s", time.Since(l.startTime), s)
	}
	return s
}

func (l *Logger) Debug(level uint8, v ...interface{}) { l.logger.Log(l.format(v)) }
func (l *Logger) Debugf(level uint8, format string, v ...interface{}) {
	l.logger.Log(l.formatf(format, v))
}
func (l *Logger) Debugln(level uint8, v ...interface{}) { l.logger.Log(l.format(v)) }

func (l *Logger) Fatal(v ...interface{})                 { l.logger.Fatal(l.format(v)) }
func (l *Logger) Fatalf(format string, v ...interface{}) { l.logger.Fatal(l.formatf(format, v)) }
func (l *Logger) Fatalln(v ...interface{})               { l.logger.Fatal(l.format(v)) }

func (l *Logger) Panic(v ...interface{}) {
	s := l.format(v)
	l.logger.Fatal(s)
	panic(s)
}
func (l *Logger) Panicf(format string, v ...interface{}) {
	s := l.formatf(format, v)
	l.logger.Fatal(s)
	panic(s)
}
func (l *Logger) Panicln(v ...interface{}) {
	s := l.format(v)
	l.logger.Fatal(s)
	panic(s)
}

func (l *Logger) Print(v ...interface{})                 { l.logger.Log(l.format(v)) }
func (l *Logger) Printf(format string, v ...interface{}) { l.logger.Log(l.formatf(format, v)) }
func (l *Logger) Println(v ...interface{})               { l.logger.Log(l.format(v)) }
