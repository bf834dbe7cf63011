package logger

import "sync/atomic"

type holder struct{ l Logger }

var defLogger atomic.Pointer[holder]

func init() {
	defLogger.Store(&holder{l: NewSlog(InfoLevel, false)})
}

func current() Logger { return defLogger.Load().l }

// Debug logs at debug level with the package default logger.
func Debug(msg string, keysAndValues ...any) { current().Debug(msg, keysAndValues...) }

// Info logs at info level with the package default logger.
func Info(msg string, keysAndValues ...any) { current().Info(msg, keysAndValues...) }

// Warn logs at warn level with the package default logger.
func Warn(msg string, keysAndValues ...any) { current().Warn(msg, keysAndValues...) }

// Error logs at error level with the package default logger.
func Error(msg string, keysAndValues ...any) { current().Error(msg, keysAndValues...) }

// Fatal logs at fatal level with the package default logger and exits.
func Fatal(msg string, keysAndValues ...any) { current().Fatal(msg, keysAndValues...) }

// SetLevel sets the level of the package default logger.
func SetLevel(level LogLevel) { current().SetLevel(level) }

// GetLogger returns the package default logger. Transports and pipes created
// without WithLogger use it.
func GetLogger() Logger { return current() }

// SetLogger replaces the package default logger. A nil logger is ignored. Loggers
// already handed out by GetLogger or With keep their handler.
func SetLogger(l Logger) {
	if l != nil {
		defLogger.Store(&holder{l: l})
	}
}

// With returns a child of the package default logger carrying keyValues.
func With(keyValues ...any) Logger { return current().With(keyValues...) }
