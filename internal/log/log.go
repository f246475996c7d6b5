package log

import (
	"sync"
	"time"

	"firestige.xyz/anpx/internal/config"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	once   sync.Once
	logger Logger
)

// GetLogger returns the process logger, lazily initialising a stdout-only
// default when Init was never called (library consumers and tests).
func GetLogger() Logger {
	if logger == nil {
		Init(config.LogConfig{
			Level:   "info",
			Pattern: "%time [%level] %field %msg",
			Time:    time.RFC3339,
		})
	}
	return logger
}

func Init(cfg config.LogConfig) {
	once.Do(func() {
		if err := initByConfig(cfg); err != nil {
			panic(err)
		}
	})
}

// SetLevel adjusts the live log level; the one piece of logging config the
// daemon hot-reloads on SIGHUP.
func SetLevel(level string) {
	if a, ok := GetLogger().(*logrusAdapter); ok {
		a.setLevel(level)
	}
}

// Flush is a no-op placeholder for parity with daemon shutdown ordering;
// logrus writers here don't buffer beyond the OS, so there's nothing to
// flush, but daemon.Stop calls this unconditionally before exit.
func Flush() {}
