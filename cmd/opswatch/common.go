package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/opswatch/internal/app"
	"github.com/hamed0406/opswatch/internal/config"
	"github.com/hamed0406/opswatch/internal/logging"
)

// baseConfig is the environment defaults with the global logging flags applied.
func baseConfig(cmd *cobra.Command) (config.File, config.Env) {
	env := config.FromEnv()
	cfg := config.Defaults(env)
	applyLogFlags(cmd, &cfg)
	return cfg, env
}

func applyLogFlags(cmd *cobra.Command, cfg *config.File) {
	if dir, _ := cmd.Flags().GetString("log-dir"); dir != "" {
		cfg.Log.Dir = dir
	}
	if off, _ := cmd.Flags().GetBool("no-log-file"); off {
		cfg.Log.Dir = ""
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
}

// newLogger writes to the rotated log file, teeing to stderr when console is set. Without a
// log directory everything goes to stderr.
func newLogger(cfg config.File, console bool) (*zap.Logger, error) {
	opts := app.LogOptions(cfg.Log)
	if cfg.Log.Dir == "" {
		return logging.NewConsole(os.Stderr, opts.Level), nil
	}
	opts.Console = console
	return logging.NewLogger(opts)
}

// scheduleFlags are shared by the ad-hoc check commands.
type scheduleFlags struct {
	interval time.Duration
	at       string
	tz       string
	count    int
	dryRun   bool
}

func (s *scheduleFlags) register(cmd *cobra.Command, interval time.Duration, count int) {
	f := cmd.Flags()
	f.DurationVar(&s.interval, "interval", interval, "time between ticks")
	f.StringVar(&s.at, "at", "", "tick once a day at HH:MM instead of every --interval")
	f.StringVar(&s.tz, "tz", "", "time zone for --at (default local)")
	f.IntVar(&s.count, "count", count, "stop after N ticks; 0 runs until interrupted")
	f.BoolVar(&s.dryRun, "dry-run", false, "describe destructive actions instead of running them")
}

func (s *scheduleFlags) apply(pc *config.Poller) {
	if s.at != "" {
		pc.At = s.at
		pc.Timezone = s.tz
		return
	}
	pc.Every = config.Duration{Duration: s.interval}
}

// actionFlags add optional actions on top of the always-on log action.
type actionFlags struct {
	restart string
	exec    string
	notify  bool
}

func (a *actionFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&a.restart, "restart", "", "systemd service to restart on critical")
	f.StringVar(&a.exec, "exec", "", "shell command to run on critical; ${value}, ${verdict} and ${<metadata>} are expanded")
	f.BoolVar(&a.notify, "notify", false, "post verdict changes to $SLACK_WEBHOOK")
}

func (a *actionFlags) actions() []config.Action {
	acts := []config.Action{{Type: "log"}}
	if a.notify {
		acts = append(acts, config.Action{Type: "notify", OnRecovery: true})
	}
	if a.restart != "" {
		acts = append(acts, config.Action{Type: "restart", Service: a.restart})
	}
	if a.exec != "" {
		acts = append(acts, config.Action{Type: "command", Argv: []string{"sh", "-c", a.exec}})
	}
	return acts
}

// runPollers validates cfg, runs it and turns a critical verdict in a bounded run into exit
// status 1.
func runPollers(cmd *cobra.Command, cfg config.File, env config.Env, opts app.Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts.ServeAPI)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.Logger = logger
	opts.Echo = cmd.OutOrStdout()
	opts.RetryAttempts = env.RetryAttempts
	opts.RetryBackoff = env.RetryBackoff
	a, err := app.Build(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		return err
	}
	if opts.MaxTicks > 0 {
		if code := app.ExitCode(a.Worst()); code != 0 {
			return exitCode(code)
		}
	}
	return nil
}

// printProblems lists every configuration problem on its own line.
func printProblems(w io.Writer, err error) bool {
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		return false
	}
	for _, p := range cerr.Problems() {
		fmt.Fprintln(w, "✖", p)
	}
	return true
}
