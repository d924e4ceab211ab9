package main

import (
	"io"
	"log/slog"
)

type Logger struct {
	InfoLog  *slog.Logger
	ErrorLog *slog.Logger
}

func (l Logger) Info(message string, module string) {
	l.InfoLog.Info(message, "module", module)
}

func (l Logger) Error(message string) {
	l.ErrorLog.Error(message)
}

func NewLogger(stdout, stderr io.Writer) Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	return Logger{
		InfoLog:  slog.New(slog.NewTextHandler(stdout, opts)),
		ErrorLog: slog.New(slog.NewJSONHandler(stderr, opts)),
	}
}
