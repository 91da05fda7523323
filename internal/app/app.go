package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/config"
	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/httpapi"
	apimw "github.com/hamed0406/opswatch/internal/httpapi/middleware"
	"github.com/hamed0406/opswatch/internal/logging"
	"github.com/hamed0406/opswatch/internal/metrics"
	"github.com/hamed0406/opswatch/internal/notify"
	"github.com/hamed0406/opswatch/internal/repo"
	"github.com/hamed0406/opswatch/internal/repo/memory"
	"github.com/hamed0406/opswatch/internal/repo/postgres"
	"github.com/hamed0406/opswatch/internal/scheduler"
)

// Options are process-level settings that do not live in the YAML file.
type Options struct {
	Logger *zap.Logger
	// Echo, when set, gets a one-line summary of every record (CLI output).
	Echo io.Writer
	// MaxTicks bounds every poller; zero runs until cancelled.
	MaxTicks int
	// NoRecordLog skips the runs.jsonl file sink.
	NoRecordLog bool
	// ServeAPI starts the status API on cfg.API.Addr.
	ServeAPI bool
	// RetryAttempts and RetryBackoff apply to probes that do not set their own.
	RetryAttempts int
	RetryBackoff  time.Duration
}

type App struct {
	Logger  *zap.Logger
	Config  config.File
	Pollers []*scheduler.Poller
	Store   repo.RecordStore
	Metrics *metrics.Sink
	Sink    repo.Multi

	serveAPI bool
	closers  []func() error
}

// Build wires sinks, notifier and pollers. Configuration problems come back as
// *config.Error; failures to open a sink are returned as they are.
func Build(ctx context.Context, cfg config.File, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		Logger:   log,
		Config:   cfg,
		Store:    memory.New(cfg.History),
		Metrics:  metrics.New(),
		serveAPI: opts.ServeAPI,
	}
	a.Sink = repo.Multi{a.Store, a.Metrics}

	if !opts.NoRecordLog && cfg.Log.Dir != "" {
		rs, err := logging.OpenRecordSink(LogOptions(cfg.Log))
		if err != nil {
			return nil, fmt.Errorf("open record log: %w", err)
		}
		a.Sink = append(a.Sink, rs)
		a.closers = append(a.closers, rs.Close)
	}
	if opts.Echo != nil {
		a.Sink = append(a.Sink, &echoSink{w: opts.Echo})
	}
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			a.Close()
			return nil, err
		}
		a.Sink = append(a.Sink, pg)
		a.Store = pg
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		log.Info("postgres_store_enabled")
	}

	var notifier notify.Notifier
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		notifier = s
	}
	deps := Deps{
		Logger:        log,
		Sink:          a.Sink,
		Notifier:      notifier,
		DryRun:        cfg.DryRun,
		RetryAttempts: opts.RetryAttempts,
		RetryBackoff:  opts.RetryBackoff,
	}
	var errs error
	for _, pc := range cfg.Pollers {
		p, err := BuildPoller(pc, deps)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		p.MaxTicks = opts.MaxTicks
		a.Pollers = append(a.Pollers, p)
	}
	if errs != nil {
		a.Close()
		return nil, &config.Error{Err: errs}
	}
	return a, nil
}

// LogOptions maps the log block to rotation settings.
func LogOptions(l config.Log) logging.Options {
	o := logging.DefaultOptions(l.Dir)
	o.MaxSizeMB = l.MaxSizeMB
	o.MaxBackups = l.MaxBackups
	o.MaxAgeDays = l.MaxAgeDays
	o.Compress = l.Compress
	if lvl, err := config.ParseLevel(l.Level); err == nil && l.Level != "" {
		o.Level = lvl
	}
	return o
}

// Run runs every poller, plus the status API when enabled, until ctx is cancelled or all
// pollers reach their tick budget.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var apiDone chan error
	if a.serveAPI && a.Config.API.Addr != "" && a.Config.API.Addr != "off" {
		apiDone = make(chan error, 1)
		go func() {
			err := Serve(ctx, a.Logger, a.Config.API.Addr, a.Handler())
			if err != nil {
				a.Logger.Error("api_error", zap.Error(err))
				cancel()
			}
			apiDone <- err
		}()
	}

	err := RunAll(ctx, a.Pollers...)
	cancel()
	if apiDone != nil {
		if apiErr := <-apiDone; apiErr != nil {
			err = multierr.Append(err, fmt.Errorf("status api: %w", apiErr))
		}
	}
	return err
}

// Handler is the status API for this app.
func (a *App) Handler() http.Handler {
	api := httpapi.NewServer(a.Logger, a.Store, a, a.Metrics.Handler())
	keys := apimw.Keys{Public: a.Config.API.PublicKeys, Admin: a.Config.API.AdminKeys}
	return api.Router(keys, a.Config.API.RPM, a.Config.API.Burst)
}

// Statuses and Tick make App an httpapi.Registry.
func (a *App) Statuses() []scheduler.Status {
	out := make([]scheduler.Status, 0, len(a.Pollers))
	for _, p := range a.Pollers {
		out = append(out, p.Status())
	}
	return out
}

func (a *App) Tick(ctx context.Context, name string) (domain.RunRecord, error) {
	for _, p := range a.Pollers {
		if p.Name == name {
			return p.Tick(ctx), nil
		}
	}
	return domain.RunRecord{}, httpapi.ErrUnknownPoller
}

// Worst is the highest verdict any poller has seen.
func (a *App) Worst() domain.Verdict { return Worst(a.Pollers...) }

func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// RunAll runs pollers concurrently and waits for all of them. Stopping because ctx ended
// is not an error.
func RunAll(ctx context.Context, pollers ...*scheduler.Poller) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, p := range pollers {
		wg.Add(1)
		go func(p *scheduler.Poller) {
			defer wg.Done()
			err := p.Run(ctx)
			if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
				return
			}
			mu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("poller %s: %w", p.Name, err))
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return errs
}

func Worst(pollers ...*scheduler.Poller) domain.Verdict {
	worst := domain.Normal
	for _, p := range pollers {
		if v := p.Worst(); v > worst {
			worst = v
		}
	}
	return worst
}

// ExitCode is 1 when anything reached Critical, else 0.
func ExitCode(v domain.Verdict) int {
	if v >= domain.Critical {
		return 1
	}
	return 0
}

// Serve runs an HTTP server until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, log *zap.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("api_listen", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("api_stopped")
	return nil
}

// echoSink prints record summaries for interactive runs.
type echoSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (e *echoSink) Append(_ context.Context, rec domain.RunRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintln(e.w, rec.Timestamp.Local().Format("15:04:05")+" "+logging.Summary(rec))
	return err
}
