package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the default logger with a console writer on stderr.
// It ensures that the logger is initialized only once.
func Init() {
	once.Do(func() {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		defaultLogger = zerolog.New(writer).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	})
}

// Get returns the initialized default logger.
// It calls Init() to ensure the logger is ready before returning it.
func Get() *zerolog.Logger {
	Init()
	return &defaultLogger
}

// SetLevel adjusts the minimum level of the default logger. Unknown level
// names fall back to info.
func SetLevel(level string) {
	Init()
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	defaultLogger = defaultLogger.Level(parsed)
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	withArgs(Get().Info(), args).Msg(msg)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	withArgs(Get().Warn(), args).Msg(msg)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	withArgs(Get().Error().Err(err), args).Msg(msg)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	withArgs(Get().Debug(), args).Msg(msg)
}

// withArgs attaches alternating key-value pairs as event fields. A trailing
// key without a value is attached with a nil value.
func withArgs(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 < len(args) {
			event = event.Interface(key, args[i+1])
		} else {
			event = event.Interface(key, nil)
		}
	}
	return event
}
