// Package logging provides the leveled, prefix-scoped logger threaded
// through the orchestrator and every phase. It keeps a still-functions-
// if-nil design (a nil *Logger logs nothing), but adds
// explicit level filtering (since a batch installer, unlike a background
// daemon, wants quiet output by default and full tracing only on request)
// and TTY-aware colorized phase banners.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(0)
}

// colorsEnabled reports whether stdout is a TTY; progress banners and
// warning/error coloring are suppressed otherwise (redirected-to-file runs,
// CI logs).
var colorsEnabled = isatty.IsTerminal(os.Stdout.Fd())

// Logger is the main logger type. A nil *Logger is valid and logs nothing,
// so call sites never need a nil check before calling a method on a logger
// they didn't construct themselves.
type Logger struct {
	prefix string
	level  Level
}

// New creates a root logger at the given level.
func New(level Level) *Logger {
	return &Logger{level: level}
}

// Sublogger creates a new logger with name appended to the prefix chain,
// inheriting the parent's level.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix, level: l.level}
}

func (l *Logger) output(line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(3, line)
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && l.level >= level
}

// Info logs a phase-level informational line.
func (l *Logger) Info(v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.output(fmt.Sprint(v...))
	}
}

// Infof logs a formatted phase-level informational line.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.output(fmt.Sprintf(format, v...))
	}
}

// Debug logs a per-directive trace line, gated on LevelDebug.
func (l *Logger) Debug(v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.output(fmt.Sprint(v...))
	}
}

// Debugf logs a formatted per-directive trace line, gated on LevelDebug.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.output(fmt.Sprintf(format, v...))
	}
}

// Warn logs a non-fatal error with a yellow "Warning:" prefix — used for
// InlineFile size mismatches and other conditions that are recoverable per
// directive.
func (l *Logger) Warn(err error) {
	if l.enabled(LevelWarn) {
		if colorsEnabled {
			l.output(color.YellowString("Warning: %v", err))
		} else {
			l.output(fmt.Sprintf("Warning: %v", err))
		}
	}
}

// Error logs a fatal or per-directive error with a red "Error:" prefix.
func (l *Logger) Error(err error) {
	if l.enabled(LevelError) {
		if colorsEnabled {
			l.output(color.RedString("Error: %v", err))
		} else {
			l.output(fmt.Sprintf("Error: %v", err))
		}
	}
}

// Banner prints a phase banner: bold and cyan on a TTY, plain text
// otherwise.
func (l *Logger) Banner(phase string) {
	if !l.enabled(LevelInfo) {
		return
	}
	if colorsEnabled {
		l.output(color.New(color.Bold, color.FgCyan).Sprintf("== %s ==", phase))
	} else {
		l.output(fmt.Sprintf("== %s ==", phase))
	}
}
