package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/repo"
)

var _ repo.RecordStore = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS run_records (
  id             TEXT PRIMARY KEY,
  poller         TEXT NOT NULL,
  probe_name     TEXT NOT NULL,
  ts             TIMESTAMPTZ NOT NULL,
  verdict        TEXT NOT NULL,
  reading        JSONB NOT NULL,
  actions_taken  TEXT[] NOT NULL DEFAULT '{}',
  action_results JSONB NOT NULL DEFAULT '[]',
  duration_ms    DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_records_poller_ts ON run_records (poller, ts DESC);
CREATE INDEX IF NOT EXISTS idx_run_records_ts        ON run_records (ts DESC);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate creates the run_records table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("postgres_schema_ready")
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Append(ctx context.Context, r domain.RunRecord) error {
	reading, err := json.Marshal(r.Reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	results := r.ActionResults
	if results == nil {
		results = []domain.ActionResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode action results: %w", err)
	}
	taken := r.ActionsTaken
	if taken == nil {
		taken = []string{}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_records
		   (id, poller, probe_name, ts, verdict, reading, actions_taken, action_results, duration_ms)
		 VALUES
		   ($1, $2, $3, $4, $5, $6::jsonb, $7, $8::jsonb, $9)`,
		r.ID, r.Poller, r.ProbeName, r.Timestamp, r.Verdict.String(),
		string(reading), taken, string(resultsJSON), r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

const selectCols = `id, poller, probe_name, ts, verdict, reading, actions_taken, action_results, duration_ms`

func (s *Store) Latest(ctx context.Context) ([]domain.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (poller) `+selectCols+`
  FROM run_records
 ORDER BY poller, ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) List(ctx context.Context, q repo.Query) ([]domain.RunRecord, error) {
	q = q.Normalize()
	rows, err := s.pool.Query(ctx, `
SELECT `+selectCols+`
  FROM run_records
 WHERE ($1 = '' OR poller = $1)
 ORDER BY ts DESC, id DESC
 LIMIT $2`, q.Poller, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]domain.RunRecord, error) {
	defer rows.Close()
	var out []domain.RunRecord
	for rows.Next() {
		var (
			r           domain.RunRecord
			verdict     string
			readingJSON []byte
			resultsJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Poller, &r.ProbeName, &r.Timestamp, &verdict,
			&readingJSON, &r.ActionsTaken, &resultsJSON, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		v, err := domain.ParseVerdict(verdict)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		r.Verdict = v
		if err := json.Unmarshal(readingJSON, &r.Reading); err != nil {
			return nil, fmt.Errorf("decode reading of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(resultsJSON, &r.ActionResults); err != nil {
			return nil, fmt.Errorf("decode action results of %s: %w", r.ID, err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
