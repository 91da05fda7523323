package config

import "go.uber.org/zap/zapcore"

// ParseLevel maps "debug", "info", "warn", "error" to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}
