package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/davstream/internal/interfaces"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type FullLogger interface {
	interfaces.Logger
	interfaces.FormatLogger
	interfaces.ErrorLogger
	interfaces.ErrorFormatLogger
	interfaces.LoggerCloser
}

type Logger struct {
	verbose   bool
	stdLogger zerolog.Logger
	errLogger zerolog.Logger
	closers   []io.Closer
}

// rotation limits for file targets
const (
	maxSizeMB  = 50
	maxBackups = 3
	maxAgeDays = 28
)

func openFile(path string) (*lumberjack.Logger, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %v", err)
		}
	}
	// lumberjack opens lazily; touch the file so bad paths fail here.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}, nil
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro}
}

// New builds a logger. stdlog and errlog accept "stdout"/"stderr", "discard"
// or a file path; file targets are rotated and written as JSON lines.
func New(verbose bool, stdlog, errlog string) (FullLogger, error) {
	var stdWriter, errWriter io.Writer
	var closers []io.Closer

	fail := func(err error) (FullLogger, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	switch stdlog {
	case "stdout", "":
		stdWriter = console(os.Stdout)
	case "discard":
		stdWriter = io.Discard
	default:
		f, err := openFile(stdlog)
		if err != nil {
			return fail(fmt.Errorf("cannot open standard log file: %v", err))
		}
		stdWriter = f
		closers = append(closers, f)
	}

	switch errlog {
	case "stderr", "":
		errWriter = console(os.Stderr)
	case "discard":
		errWriter = io.Discard
	default:
		if errlog == stdlog {
			errWriter = stdWriter
			break
		}
		f, err := openFile(errlog)
		if err != nil {
			return fail(fmt.Errorf("cannot open error log file: %v", err))
		}
		errWriter = f
		closers = append(closers, f)
	}

	return &Logger{
		verbose:   verbose,
		stdLogger: zerolog.New(stdWriter).With().Timestamp().Logger(),
		errLogger: zerolog.New(errWriter).With().Timestamp().Logger(),
		closers:   closers,
	}, nil
}

// Discard returns a logger that drops everything.
func Discard() FullLogger {
	return &Logger{
		stdLogger: zerolog.Nop(),
		errLogger: zerolog.Nop(),
	}
}

// FromWriters is used by tests to capture output.
func FromWriters(verbose bool, std, errw io.Writer) FullLogger {
	return &Logger{
		verbose:   verbose,
		stdLogger: zerolog.New(std),
		errLogger: zerolog.New(errw),
	}
}

func (l *Logger) Log(v ...any) {
	if !l.verbose {
		return
	}
	l.stdLogger.Info().Msg(fmt.Sprint(v...))
}

func (l *Logger) Logf(format string, v ...any) {
	if !l.verbose {
		return
	}
	l.stdLogger.Info().Msgf(format, v...)
}

func (l *Logger) Error(v ...any) {
	l.errLogger.Error().Msg(fmt.Sprint(v...))
}

func (l *Logger) Errorf(format string, v ...any) {
	l.errLogger.Error().Msgf(format, v...)
}

func (l *Logger) Close() error {
	var err error
	for _, c := range l.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
