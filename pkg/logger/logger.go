// Package logger provides the leveled logger rps expects as a pure sink:
// error, warn, notice, debug, verb (§6 of the specification).
package logger

import (
	"log"
	"os"
)

type Logger struct {
	error  *log.Logger
	warn   *log.Logger
	notice *log.Logger
	debug  *log.Logger
	verb   *log.Logger
}

var Default = New()

func New() *Logger {
	return &Logger{
		error:  log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
		warn:   log.New(os.Stderr, "[WARN] ", log.LstdFlags),
		notice: log.New(os.Stdout, "[NOTICE] ", log.LstdFlags),
		debug:  log.New(os.Stdout, "[DEBUG] ", log.LstdFlags),
		verb:   log.New(os.Stdout, "[VERB] ", log.LstdFlags),
	}
}

func (l *Logger) Error(format string, v ...any) {
	l.error.Printf(format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	l.warn.Printf(format, v...)
}

func (l *Logger) Notice(format string, v ...any) {
	l.notice.Printf(format, v...)
}

func (l *Logger) Debug(format string, v ...any) {
	l.debug.Printf(format, v...)
}

func (l *Logger) Verb(format string, v ...any) {
	l.verb.Printf(format, v...)
}

func Error(format string, v ...any) {
	Default.Error(format, v...)
}

func Warn(format string, v ...any) {
	Default.Warn(format, v...)
}

func Notice(format string, v ...any) {
	Default.Notice(format, v...)
}

func Debug(format string, v ...any) {
	Default.Debug(format, v...)
}

func Verb(format string, v ...any) {
	Default.Verb(format, v...)
}
