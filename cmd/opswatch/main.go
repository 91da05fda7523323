// Package main is the opswatch CLI.
//
// Usage:
//
//	opswatch run -c opswatch.yaml          # every configured poller plus the status API
//	opswatch validate -c opswatch.yaml     # check a config file
//	opswatch disk 90 --interval 1m         # ad-hoc checks build a one-off poller
//	opswatch authorize-key --host db1 --user ops
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time: go build -ldflags "-X main.version=1.2.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "opswatch",
	Short: "Threshold-triggered host checks with pluggable actions",
	Long: `opswatch polls a probe on a schedule, classifies each reading as normal,
warning or critical and runs the actions configured for that verdict.

Every tick produces a run record. Records go to the log directory
(runs.jsonl), to the status API and, when DATABASE_URL is set, to Postgres.

Destructive actions (terminate, command, restart, notify) are skipped in
dry-run mode; the record says what would have run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCode carries a non-zero status without printing anything more.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	if !printProblems(rootCmd.ErrOrStderr(), err) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return 1
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "opswatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-dir", "", "directory for opswatch.log and runs.jsonl (default $LOG_DIR or ./logs)")
	rootCmd.PersistentFlags().Bool("no-log-file", false, "log to stderr only and keep no run history on disk")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.AddCommand(versionCmd)
}
