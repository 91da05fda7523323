package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hamed0406/opswatch/internal/app"
	"github.com/hamed0406/opswatch/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured poller and the status API",
	Long: `Run loads the YAML config, starts one poller per entry and serves the status
API on api.addr (set it to "off" to disable). It runs until interrupted
(Ctrl+C or SIGTERM); a tick in progress always finishes first.

Environment variables (API_ADDR, LOG_DIR, DATABASE_URL, SLACK_WEBHOOK,
PUBLIC_API_KEYS, ADMIN_API_KEYS, DRY_RUN, ...) give defaults that the file
overrides.

Example:
  opswatch run -c /etc/opswatch.yaml
  opswatch run -c opswatch.yaml --count 1 --dry-run`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	runCmd.Flags().Int("count", 0, "stop every poller after N ticks; exit 1 if any was critical")
	runCmd.Flags().Bool("dry-run", false, "describe destructive actions instead of running them")
	runCmd.Flags().Bool("no-api", false, "do not start the status API")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	count, _ := cmd.Flags().GetInt("count")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noAPI, _ := cmd.Flags().GetBool("no-api")

	env := config.FromEnv()
	cfg, err := config.Load(path, env)
	if err != nil {
		return err
	}
	applyLogFlags(cmd, &cfg)
	if dryRun {
		cfg.DryRun = true
	}
	if count < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	return runPollers(cmd, cfg, env, app.Options{MaxTicks: count, ServeAPI: !noAPI})
}
