// Package klog is the kernel's structured logging facade. It carries a
// github.com/go-logr/logr.Logger, so log call sites are a library
// dependency rather than a hand-rolled level-filtered writer.
//
// Levels are TRACE/DEBUG/INFO/WARN/ERROR/FATAL. The level
// filter is the package variable MinLevel below, read at run time (it is
// not a compile-time constant): a call below MinLevel is skipped by an
// "if" before it ever reaches logr.
package klog

import (
	"os"

	"github.com/go-logr/logr"
)

// / Level orders the kernel's log severities.
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

// MinLevel is the level filter. It is a variable, not a constant:
// cmd/mkfs sets it at run time from --loglevel.
var MinLevel = TRACE

// / Sink is the installed logr.Logger. Defaults to logr.Discard(), the
// / no-op sink suitable for release builds.
var Sink logr.Logger = logr.Discard()

// / SetSink installs l as the active logger, e.g. a testr logger in tests
// / or a zap/funcr-backed logger wired up by a deployment's main().
func SetSink(l logr.Logger) {
	Sink = l
}

func enabled(l Level) bool {
	return l >= MinLevel
}

// / Trace logs at TRACE, mapped to logr's V(2) (most verbose).
func Trace(msg string, kv ...any) {
	if enabled(TRACE) {
		Sink.V(2).Info(msg, kv...)
	}
}

// / Debug logs at DEBUG, mapped to logr's V(1).
func Debug(msg string, kv ...any) {
	if enabled(DEBUG) {
		Sink.V(1).Info(msg, kv...)
	}
}

// / Info logs at INFO, logr's default verbosity.
func Info(msg string, kv ...any) {
	if enabled(INFO) {
		Sink.Info(msg, kv...)
	}
}

// / Warn logs at WARN: INFO verbosity tagged so it's greppable, since logr
// / has no native warn level.
func Warn(msg string, kv ...any) {
	if enabled(WARN) {
		Sink.Info("warn: "+msg, kv...)
	}
}

// / Error logs at ERROR via logr's Error, with no accompanying Go error
// / value (use Errorf when one exists).
func Error(msg string, kv ...any) {
	if enabled(ERROR) {
		Sink.Error(nil, msg, kv...)
	}
}

// / Errorf logs at ERROR with an accompanying error value.
func Errorf(err error, msg string, kv ...any) {
	if enabled(ERROR) {
		Sink.Error(err, msg, kv...)
	}
}

// / Fatal logs at ERROR and then aborts the process. By convention,
// / "FATAL aborts" -- this simulated kernel has no halt instruction, so it
// / panics, which is the idiomatic Go analogue of a kernel panic. When
// / MinLevel is above FATAL it calls os.Exit(1) instead of panicking.
func Fatal(msg string, kv ...any) {
	Sink.Error(nil, "FATAL: "+msg, kv...)
	if MinLevel > FATAL {
		os.Exit(1)
	}
	panic("klog: FATAL: " + msg)
}
