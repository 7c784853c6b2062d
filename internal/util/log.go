// Package util provides logging, stats, metrics and tracing shared by every
// layer of a replication node.
package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

// success prints completed milestones under their own prefix so they stand
// out from ordinary info lines.
var success = pterm.Success

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr unless redirected with SetLogOutput.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	success.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects log output, e.g. to io.Discard in tests.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
	success = *pterm.Success.WithWriter(w)
}

// ──────────────────────────────────────────────────────────────────────────────
// Component loggers
// ──────────────────────────────────────────────────────────────────────────────

// Logger tags every message with a component name, e.g. "[sync 2]".
type Logger struct {
	tag string
}

// For returns a logger for the named component.
func For(component string) Logger {
	return Logger{tag: "[" + component + "] "}
}

// With returns a logger whose tag also carries a connection or session id.
func (l Logger) With(id any) Logger {
	if l.tag == "" {
		return Logger{tag: fmt.Sprintf("[%v] ", id)}
	}
	return Logger{tag: fmt.Sprintf("%s[%v] ", l.tag, id)}
}

func (l Logger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(l.tag + fmt.Sprintf(format, args...))
}

func (l Logger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.tag + fmt.Sprintf(format, args...))
}

func (l Logger) Success(format string, args ...interface{}) {
	success.Println(l.tag + fmt.Sprintf(format, args...))
}

func (l Logger) Warning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(l.tag + fmt.Sprintf(format, args...))
}

func (l Logger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(l.tag + fmt.Sprintf(format, args...))
}
