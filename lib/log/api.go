// Package log defines the minimal logging interfaces the rest of the
// module depends on. The teacher (Cloud-Foundations/Dominator) defines
// these in lib/log, consumed by every daemon and action as
// log.Logger/log.DebugLogger; only its leaf subpackages
// (formatter/filelogger/testlogger) were present in the retrieval pack, so
// the interfaces themselves are reconstructed here from how those leaves
// and their callers use them.
package log

// Logger is the baseline logging contract: a drop-in replacement for the
// stdlib *log.Logger that most of this module's components take as a
// constructor argument instead of a concrete type.
type Logger interface {
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatalln(args ...interface{})
	Panic(args ...interface{})
	Panicf(format string, args ...interface{})
	Panicln(args ...interface{})
	Print(args ...interface{})
	Printf(format string, args ...interface{})
	Println(args ...interface{})
}

// DebugLogger adds leveled debug output, gated by a configured debug
// level (0 disables all debug output; higher is more verbose).
type DebugLogger interface {
	Logger
	Debug(level uint8, args ...interface{})
	Debugf(level uint8, format string, args ...interface{})
	Debugln(level uint8, args ...interface{})
}
