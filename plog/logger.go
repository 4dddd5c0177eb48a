/*
Package plog defines the four-severity logger contract piper instances log
through (spec §4.9, §6) and a default adapter over
github.com/npillmayer/schuko/tracing — the same tracing facade every teacher
package reaches through its own package-private tracer() helper
(persistent/tree, persistent/btree, dom, ...).

Level gating (whether a call is warranted at all, and whether item context
is worth formatting) is a decision piper's instances make from their own
effective debug/verbose attributes; this package only routes an
already-gated call to the right tracing severity.
*/
package plog

import (
	"fmt"
	"strings"

	"github.com/npillmayer/schuko/tracing"
)

// Logger is the pluggable diagnostic sink. segment is the emitting
// segment's path (spec: "every log line names the emitting segment's
// path"); items is already nil unless the caller decided item context was
// worth formatting.
type Logger interface {
	Error(segment string, msg string, items ...any)
	Warn(segment string, msg string, items ...any)
	Info(segment string, msg string, items ...any)
	Debug(segment string, msg string, items ...any)
}

type tracingLogger struct {
	trace tracing.Trace
}

// NewTracingLogger returns a Logger backed by schuko's tracing facade,
// selected under key, mirroring persistent/tree.tracer()'s
// tracing.Select("persistent.tree") but with the selector as a parameter
// rather than hard-coded, since piper's logger is meant to be swappable
// per segment tree (spec §6), not a package-private singleton.
func NewTracingLogger(key string) Logger {
	if key == "" {
		key = "piper"
	}
	return &tracingLogger{trace: tracing.Select(key)}
}

func (l *tracingLogger) Error(segment, msg string, items ...any) {
	l.trace.Errorf("%s: %s", segment, format(msg, items))
}

func (l *tracingLogger) Warn(segment, msg string, items ...any) {
	l.trace.Warnf("%s: %s", segment, format(msg, items))
}

func (l *tracingLogger) Info(segment, msg string, items ...any) {
	l.trace.Infof("%s: %s", segment, format(msg, items))
}

func (l *tracingLogger) Debug(segment, msg string, items ...any) {
	l.trace.Debugf("%s: %s", segment, format(msg, items))
}

func format(msg string, items []any) string {
	if len(items) == 0 {
		return msg
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%v", it)
	}
	return msg + " [" + strings.Join(parts, ", ") + "]"
}
