package logging

import (
	"context"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hamed0406/opswatch/internal/domain"
)

// RecordSink writes each RunRecord as one JSON line. Writes are serialized by zapcore.Lock,
// so records from concurrent pollers never interleave.
type RecordSink struct {
	logger *zap.Logger
	closer io.Closer
}

// NewRecordSink writes to ws.
func NewRecordSink(ws zapcore.WriteSyncer) *RecordSink {
	cfg := encoderConfig()
	cfg.MessageKey = "event"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(ws), zap.DebugLevel)
	return &RecordSink{logger: zap.New(core)}
}

// OpenRecordSink appends to <Dir>/runs.jsonl with the rotation settings in opts.
func OpenRecordSink(opts Options) (*RecordSink, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	rot := opts.rotator("runs.jsonl")
	s := NewRecordSink(zapcore.AddSync(rot))
	s.closer = rot
	return s, nil
}

func levelFor(v domain.Verdict) zapcore.Level {
	switch v {
	case domain.Critical:
		return zap.ErrorLevel
	case domain.Warning:
		return zap.WarnLevel
	}
	return zap.InfoLevel
}

func (s *RecordSink) Append(_ context.Context, rec domain.RunRecord) error {
	ce := s.logger.Check(levelFor(rec.Verdict), "run_record")
	if ce == nil {
		return nil
	}
	ce.Write(
		zap.String("id", rec.ID),
		zap.Time("timestamp", rec.Timestamp),
		zap.String("poller", rec.Poller),
		zap.String("probe", rec.ProbeName),
		zap.Object("reading", reading(rec.Reading)),
		zap.String("verdict", rec.Verdict.String()),
		zap.Strings("actions_taken", rec.ActionsTaken),
		zap.Array("action_results", results(rec.ActionResults)),
		zap.Float64("duration_ms", rec.DurationMS),
	)
	return nil
}

func (s *RecordSink) Close() error {
	_ = s.logger.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

type reading domain.Reading

func (r reading) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("ok", r.OK)
	if r.OK {
		enc.AddString("kind", string(r.Kind))
		enc.AddFloat64("value", r.Value)
	} else {
		enc.AddString("reason", r.Reason)
	}
	if len(r.Metadata) > 0 {
		return enc.AddObject("metadata", metadata(r.Metadata))
	}
	return nil
}

type metadata map[string]string

func (m metadata) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for k, v := range m {
		enc.AddString(k, v)
	}
	return nil
}

type results []domain.ActionResult

func (rs results) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, r := range rs {
		if err := enc.AppendObject(result(r)); err != nil {
			return err
		}
	}
	return nil
}

type result domain.ActionResult

func (r result) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("action", r.Action)
	enc.AddBool("ok", r.OK)
	if r.DryRun {
		enc.AddBool("dry_run", true)
	}
	if r.Message != "" {
		enc.AddString("message", r.Message)
	}
	if r.Error != "" {
		enc.AddString("error", r.Error)
	}
	return nil
}

// Summary renders a record for terminal output, one extra line per action.
func Summary(rec domain.RunRecord) string {
	s := rec.Poller + ": " + rec.Verdict.String() + " (" + rec.Reading.String() + ")"
	for _, r := range rec.ActionResults {
		s += "\n  " + r.Action + ": "
		switch {
		case r.OK && r.Message != "":
			s += r.Message
		case r.OK:
			s += "ok"
		default:
			s += "FAILED " + r.Error
		}
	}
	if n := rec.FailedActions(); n > 0 {
		s += "\n  " + strconv.Itoa(n) + " action(s) failed"
	}
	return s
}
