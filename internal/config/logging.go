package config

import (
	"log/slog"
	"strings"
)

// LogLevel is the configured minimum log level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var slogLevels = map[LogLevel]slog.Level{
	LogLevelDebug: slog.LevelDebug,
	LogLevelInfo:  slog.LevelInfo,
	LogLevelWarn:  slog.LevelWarn,
	LogLevelError: slog.LevelError,
}

// NormalizeLogLevel accepts any case and "warning"; anything unknown is info.
func NormalizeLogLevel(raw string) LogLevel {
	l := LogLevel(strings.ToLower(strings.TrimSpace(raw)))
	if l == "warning" {
		return LogLevelWarn
	}
	if _, ok := slogLevels[l]; ok {
		return l
	}
	return LogLevelInfo
}

// SlogLevel returns the slog equivalent of l.
func (l LogLevel) SlogLevel() slog.Level {
	return slogLevels[NormalizeLogLevel(string(l))]
}

// LogFormat selects the slog handler: text or json.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// NormalizeLogFormat returns json for "json" in any case and text otherwise.
func NormalizeLogFormat(raw string) LogFormat {
	if strings.EqualFold(strings.TrimSpace(raw), string(LogFormatJSON)) {
		return LogFormatJSON
	}
	return LogFormatText
}
