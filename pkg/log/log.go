package log

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type LogFormat string

var (
	Pretty LogFormat = "pretty"
	JSON   LogFormat = "json"
	Text   LogFormat = "text"
)

var (
	stderr = zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Stdout is used for results, everything else goes to stderr
	Stdout = zerolog.New(os.Stdout).With().Timestamp().Logger()

	globalFormat LogFormat = "pretty"

	Print  = stderr.Print
	Printf = stderr.Printf

	Fatal = stderr.Fatal
	Error = stderr.Error
	Warn  = stderr.Warn
	Info  = stderr.Info
	Debug = stderr.Debug
	Trace = stderr.Trace

	Err  = stderr.Err
	With = stderr.With
)

const (
	FatalLevel = zerolog.FatalLevel
	ErrorLevel = zerolog.ErrorLevel
	WarnLevel  = zerolog.WarnLevel
	InfoLevel  = zerolog.InfoLevel
	DebugLevel = zerolog.DebugLevel
	TraceLevel = zerolog.TraceLevel
)

// rebind updates the package level shortcuts after stderr has been replaced.
// With has a value receiver so its method value holds a copy of the old logger
func rebind() {
	Print = stderr.Print
	Printf = stderr.Printf
	Fatal = stderr.Fatal
	Error = stderr.Error
	Warn = stderr.Warn
	Info = stderr.Info
	Debug = stderr.Debug
	Trace = stderr.Trace
	Err = stderr.Err
	With = stderr.With
}

func SetLevelString(level string) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	stderr = stderr.Level(l)
	Stdout = Stdout.Level(l)
	rebind()
	return nil
}

// SetOutput redirects the stderr logger, mostly used by tests to capture log lines
func SetOutput(w io.Writer) {
	stderr = stderr.Output(w)
	rebind()
}

// Stream returns a child logger tagged with the upload stream id
func Stream(id string) zerolog.Logger {
	return stderr.With().Str("stream", id).Logger()
}

var (
	ErrUnsupportedFormat = fmt.Errorf("unsupported format. supported 'json', 'pretty', 'text")
)

func GetLogFormat() LogFormat {
	return globalFormat
}

func SetFormat(format string) error {
	switch format {
	case "json", "":
		globalFormat = JSON
	case "pretty":
		stderr = stderr.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false, TimeFormat: "\r3:04PM"})
		Stdout = Stdout.Output(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: false, TimeFormat: "\r3:04PM"})
		globalFormat = Pretty
	case "text":
		stderr = stderr.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true, TimeFormat: "\r3:04PM"})
		Stdout = Stdout.Output(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true, TimeFormat: "\r3:04PM"})
		globalFormat = Text
	default:
		return ErrUnsupportedFormat
	}
	rebind()
	return nil
}
