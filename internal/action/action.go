// Package action holds the side effects a poller can trigger once a policy has judged a
// reading. Actions report failures through their returned error; the poller turns that into
// an ActionResult so nothing here can stop the loop.
package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/domain"
)

// Action is one named side effect.
type Action interface {
	Name() string
	// Describe says what Execute would do for this reading, e.g. "terminate pid=1234".
	Describe(r domain.Reading, v domain.Verdict) string
	// Destructive actions are skipped in dry-run mode.
	Destructive() bool
	// Execute applies the side effect and returns a short human message.
	Execute(ctx context.Context, r domain.Reading, v domain.Verdict) (string, error)
}

// expand substitutes ${key} in s with reading metadata. ${value} and ${verdict} are also
// available. Other $ sequences are left for the shell.
func expand(s string, r domain.Reading, v domain.Verdict) string {
	if !strings.Contains(s, "${") {
		return s
	}
	pairs := []string{
		"${value}", strconv.FormatFloat(r.Value, 'f', -1, 64),
		"${verdict}", v.String(),
	}
	for k, val := range r.Metadata {
		pairs = append(pairs, "${"+k+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func expandAll(argv []string, r domain.Reading, v domain.Verdict) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = expand(a, r, v)
	}
	return out
}

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrActionFailure, fmt.Sprintf(format, args...))
}

// LogOnly writes the reading to the log and nothing else.
type LogOnly struct {
	Logger *zap.Logger
}

func (LogOnly) Name() string      { return "log" }
func (LogOnly) Destructive() bool { return false }

func (LogOnly) Describe(r domain.Reading, v domain.Verdict) string {
	return fmt.Sprintf("log %s reading %s", v, r)
}

func (a LogOnly) Execute(_ context.Context, r domain.Reading, v domain.Verdict) (string, error) {
	l := a.Logger
	if l == nil {
		l = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("verdict", v.String()),
		zap.String("reading", r.String()),
	}
	for k, val := range r.Metadata {
		fields = append(fields, zap.String("meta."+k, val))
	}
	switch v {
	case domain.Critical:
		l.Error("threshold_exceeded", fields...)
	case domain.Warning:
		l.Warn("threshold_warning", fields...)
	default:
		l.Info("reading_logged", fields...)
	}
	return "logged", nil
}

func joinArgv(argv []string) string { return strings.Join(argv, " ") }
