package log

import (
	"fmt"
	stdlog "log"
)

// StdLogger wraps the stdlib *log.Logger to satisfy DebugLogger, the
// same role the teacher's lib/log/debuglogger package plays underneath
// filelogger and testlogger.
type StdLogger struct {
	logger     *stdlog.Logger
	debugLevel int16
}

// New wraps logger, enabling debug output up to debugLevel (-1 disables
// all debug output, matching filelogger.Options.DebugLevel's documented
// range).
func New(logger *stdlog.Logger, debugLevel int16) *StdLogger {
	return &StdLogger{logger: logger, debugLevel: debugLevel}
}

func (l *StdLogger) Fatal(args ...interface{})                 { l.logger.Fatal(args...) }
func (l *StdLogger) Fatalf(format string, args ...interface{}) { l.logger.Fatalf(format, args...) }
func (l *StdLogger) Fatalln(args ...interface{})               { l.logger.Fatalln(args...) }
func (l *StdLogger) Panic(args ...interface{})                 { l.logger.Panic(args...) }
func (l *StdLogger) Panicf(format string, args ...interface{}) { l.logger.Panicf(format, args...) }
func (l *StdLogger) Panicln(args ...interface{})               { l.logger.Panicln(args...) }
func (l *StdLogger) Print(args ...interface{})                 { l.logger.Print(args...) }
func (l *StdLogger) Printf(format string, args ...interface{}) { l.logger.Printf(format, args...) }
func (l *StdLogger) Println(args ...interface{})               { l.logger.Println(args...) }

func (l *StdLogger) Debug(level uint8, args ...interface{}) {
	if int16(level) > l.debugLevel {
		return
	}
	l.logger.Print(args...)
}

func (l *StdLogger) Debugf(level uint8, format string, args ...interface{}) {
	if int16(level) > l.debugLevel {
		return
	}
	l.logger.Printf(format, args...)
}

func (l *StdLogger) Debugln(level uint8, args ...interface{}) {
	if int16(level) > l.debugLevel {
		return
	}
	l.logger.Println(args...)
}

var _ DebugLogger = (*StdLogger)(nil)

// Discard returns a DebugLogger which drops everything. Useful as a
// default in tests.
func Discard() DebugLogger {
	return New(stdlog.New(discardWriter{}, "", 0), -1)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Pairs formats an arbitrary number of format/value pairs, skipping any
// pair whose value is empty. Mirrors lib/log/formatter.Pairs.
func Pairs(pairs ...string) string {
	var args []interface{}
	var b []byte
	for i := 0; i < len(pairs); i++ {
		if i+1 < len(pairs) {
			format := pairs[i]
			i++
			arg := pairs[i]
			if arg == "" {
				continue
			}
			b = append(b, []byte(format)...)
			args = append(args, arg)
		} else {
			b = append(b, []byte(pairs[i])...)
		}
	}
	return fmt.Sprintf(string(b), args...)
}
