package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// logger is the process-wide logger. It writes warnings and above to stderr
// until Init is called.
var logger = newLogger(os.Stderr, logrus.WarnLevel)

func newLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
	})
	return l
}

// LevelFromVerbosity maps the count of -v flags to a log level:
// none logs warnings, one adds info, two or more add debug.
func LevelFromVerbosity(verbosity int) logrus.Level {
	switch {
	case verbosity <= 0:
		return logrus.WarnLevel
	case verbosity == 1:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// Init replaces the process logger. It should be called once at startup,
// before any goroutines that log are started.
func Init(level logrus.Level, out io.Writer) {
	logger = newLogger(out, level)
}

func entry(subsystem string) *logrus.Entry {
	return logger.WithField("subsystem", subsystem)
}

func Debug(subsystem string, messageFmt string, args ...interface{}) {
	entry(subsystem).Debug(format(messageFmt, args...))
}

func Info(subsystem string, messageFmt string, args ...interface{}) {
	entry(subsystem).Info(format(messageFmt, args...))
}

func Warn(subsystem string, messageFmt string, args ...interface{}) {
	entry(subsystem).Warn(format(messageFmt, args...))
}

// Error logs an error message. err may be nil.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	e := entry(subsystem)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(format(messageFmt, args...))
}

func format(messageFmt string, args ...interface{}) string {
	if len(args) == 0 {
		return messageFmt
	}
	return fmt.Sprintf(messageFmt, args...)
}

// LeveledLogger adapts the process logger to the key/value logging interface
// used by HTTP client libraries such as go-retryablehttp.
type LeveledLogger struct {
	Subsystem string
}

func (l LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Error(msg)
}

func (l LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Warn(msg)
}

// Info is logged at debug level; request-level chatter is not interesting
// to a CLI user at -v.
func (l LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug(msg)
}

func (l LeveledLogger) fields(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{"subsystem": l.Subsystem}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return logger.WithFields(fields)
}
