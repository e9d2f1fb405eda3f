// Package logging provides process-wide structured logging, built on
// github.com/rs/zerolog. The shape (package-level Logger, Init, Fatal, and a
// bridge to the stdlib *log.Logger that github.com/goburrow/modbus expects on
// its ClientHandler.Logger field) follows the teacher's internal/logging
// package; only the backend changed.
package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

func Init() {
	level := zerolog.InfoLevel
	switch strings.ToLower(os.Getenv("BRIDGE_LOG_LEVEL")) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var w io.Writer = os.Stdout
	if strings.ToLower(os.Getenv("LOG_FORMAT")) != "json" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Fatal logs an error message with args as key/value pairs and exits the
// program, mirroring the teacher's logging.Fatal.
func Fatal(msg string, args ...any) {
	withArgs(Logger.Error(), args).Msg(msg)
	os.Exit(1)
}

func withArgs(ev *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		if key == "" {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	return ev
}

// stdWriter adapts zerolog's stdlib-free writer to the io.Writer a
// stdlib *log.Logger needs, trimming the trailing newline log.Logger always
// appends (mirrors the teacher's slogWriter).
type stdWriter struct {
	logger *zerolog.Logger
}

func (w stdWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	w.logger.Info().Msg(msg)
	return len(p), nil
}

// StdLogger bridges the zerolog backend into a stdlib *log.Logger, for
// packages that require one (github.com/goburrow/modbus's
// ClientHandler.Logger field), mirroring the teacher's WrapSlog.
func StdLogger(component string) *log.Logger {
	sub := Logger.With().Str("component", component).Logger()
	return log.New(stdWriter{logger: &sub}, "", 0)
}

func Info(msg string, args ...any)  { withArgs(Logger.Info(), args).Msg(msg) }
func Error(msg string, args ...any) { withArgs(Logger.Error(), args).Msg(msg) }
func Warn(msg string, args ...any)  { withArgs(Logger.Warn(), args).Msg(msg) }
func Debug(msg string, args ...any) { withArgs(Logger.Debug(), args).Msg(msg) }
