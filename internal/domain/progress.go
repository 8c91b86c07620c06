package domain

import (
	"fmt"
	"strings"
)

// Severity classifies a progress message for the observer.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// ProgressEvent is one human-readable step in a generation run.
type ProgressEvent struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ProgressSink receives progress text. Messages carry a bracketed level
// prefix such as "[INFO]" that ParseProgress understands.
type ProgressSink func(message string)

// Emit formats and forwards a message. A nil sink is a no-op and a
// panicking sink is contained so it never unwinds into the caller.
func (s ProgressSink) Emit(severity Severity, format string, args ...any) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s(prefixFor(severity) + " " + fmt.Sprintf(format, args...))
}

func (s ProgressSink) Info(format string, args ...any)  { s.Emit(SeverityInfo, format, args...) }
func (s ProgressSink) Warn(format string, args ...any)  { s.Emit(SeverityWarning, format, args...) }
func (s ProgressSink) Error(format string, args ...any) { s.Emit(SeverityError, format, args...) }
func (s ProgressSink) Success(format string, args ...any) {
	s.Emit(SeveritySuccess, format, args...)
}

// Debug emits diagnostic detail; observers see it as info.
func (s ProgressSink) Debug(format string, args ...any) {
	if s == nil {
		return
	}
	defer func() { _ = recover() }()
	s("[DEBUG] " + fmt.Sprintf(format, args...))
}

func prefixFor(severity Severity) string {
	switch severity {
	case SeverityWarning:
		return "[WARNING]"
	case SeverityError:
		return "[ERROR]"
	case SeveritySuccess:
		return "[SUCCESS]"
	default:
		return "[INFO]"
	}
}

// ParseProgress turns a prefixed progress line into an event. Unprefixed
// lines are informational.
func ParseProgress(message string) ProgressEvent {
	trimmed := strings.TrimSpace(message)
	if strings.HasPrefix(trimmed, "[") {
		if end := strings.Index(trimmed, "]"); end > 0 {
			tag := strings.ToUpper(trimmed[1:end])
			rest := strings.TrimSpace(trimmed[end+1:])
			switch tag {
			case "WARNING", "WARN":
				return ProgressEvent{Severity: SeverityWarning, Message: rest}
			case "ERROR":
				return ProgressEvent{Severity: SeverityError, Message: rest}
			case "SUCCESS":
				return ProgressEvent{Severity: SeveritySuccess, Message: rest}
			case "INFO", "DEBUG":
				return ProgressEvent{Severity: SeverityInfo, Message: rest}
			}
		}
	}
	return ProgressEvent{Severity: SeverityInfo, Message: trimmed}
}

// Truncate shortens s to at most n runes for log-friendly error excerpts.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
