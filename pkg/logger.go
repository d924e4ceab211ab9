package cscraw

type Logger interface {
	Info(message string, module string)
	Error(string)
}

type nopLogger struct{}

func (nopLogger) Info(string, string) {}
func (nopLogger) Error(string)        {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

func orNop(l Logger) Logger {
	if l == nil {
		return NopLogger
	}
	return l
}
