package interfaces

// Logger facets. Components take the narrowest one they need; the
// concrete logger in internal/core/logger satisfies all of them.

type Logger interface {
	Log(v ...any)
}

type FormatLogger interface {
	Logf(format string, v ...any)
}

type ErrorLogger interface {
	Error(v ...any)
}

type ErrorFormatLogger interface {
	Errorf(format string, v ...any)
}

type LoggerCloser interface {
	Close() error
}
