package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamed0406/opswatch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate parses and checks a config file without running anything. Every
problem is reported, not just the first.

Exit codes:
  0 - config is valid (warnings may still be printed)
  1 - config is invalid

Example:
  opswatch validate -c opswatch.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ok := func(format string, a ...any) { fmt.Fprintln(out, "✔", fmt.Sprintf(format, a...)) }
	warn := func(format string, a ...any) { fmt.Fprintln(errOut, "⚠", fmt.Sprintf(format, a...)) }

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, config.FromEnv())
	if err != nil {
		if printProblems(errOut, err) {
			return exitCode(1)
		}
		return err
	}

	for _, p := range cfg.Pollers {
		sched := "every " + p.Every.String()
		if p.At != "" {
			sched = "daily at " + p.At
			if p.Timezone != "" {
				sched += " " + p.Timezone
			}
		}
		ok("poller %q: %s probe, %s, %d action(s)", p.Name, p.Probe.Type, sched, len(p.Actions))
	}

	api := cfg.API
	switch {
	case api.Addr == "" || api.Addr == "off":
		ok("status API disabled")
	case len(api.PublicKeys) == 0 && len(api.AdminKeys) == 0:
		warn("status API on %s has no keys; every route is open, including tick", api.Addr)
	case len(api.AdminKeys) == 0:
		warn("no admin keys; POST /api/pollers/{name}/tick is open to any client with a public key")
	default:
		ok("status API on %s", api.Addr)
	}
	for _, k := range append(append([]string{}, api.PublicKeys...), api.AdminKeys...) {
		if strings.ContainsAny(k, " \t") {
			warn("an API key contains whitespace; keys are compared exactly")
			break
		}
	}
	if cfg.DatabaseURL == "" {
		warn("database_url empty; history is kept in memory and in runs.jsonl only")
	} else {
		ok("database_url present")
	}
	if cfg.DryRun {
		warn("dry_run is on; destructive actions are only described")
	}
	ok("config valid")
	return nil
}
