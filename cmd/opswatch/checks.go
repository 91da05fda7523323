package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/opswatch/internal/app"
	"github.com/hamed0406/opswatch/internal/config"
)

// oneOff runs a config built from flags rather than a file.
func oneOff(cmd *cobra.Command, s *scheduleFlags, pollers ...config.Poller) error {
	cfg, env := baseConfig(cmd)
	cfg.API.Addr = "off"
	cfg.Pollers = pollers
	cfg.DryRun = cfg.DryRun || s.dryRun
	for i := range cfg.Pollers {
		s.apply(&cfg.Pollers[i])
	}
	if s.count < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	return runPollers(cmd, cfg, env, app.Options{MaxTicks: s.count})
}

func ptr[T any](v T) *T { return &v }

var (
	diskSched scheduleFlags
	diskActs  actionFlags
)

var diskCmd = &cobra.Command{
	Use:   "disk [threshold]",
	Short: "Check disk usage against a percentage",
	Long: `Disk reads the usage of every mounted filesystem (or only --path) and is
critical when the fullest one is above threshold percent (default 90).

By default it ticks once and exits 1 when critical, printing some cleanup
suggestions first.

Example:
  opswatch disk 90 --warning 80
  opswatch disk 95 --path /var --interval 5m --count 0 --restart logrotate`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		critical := 90.0
		if len(args) == 1 {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("threshold %q is not a number", args[0])
			}
			critical = v
		}
		warning, _ := cmd.Flags().GetFloat64("warning")
		paths, _ := cmd.Flags().GetStringSlice("path")
		err := oneOff(cmd, &diskSched, config.Poller{
			Name:    "disk",
			Probe:   config.Probe{Type: "disk", Paths: paths, IncludeMounts: ptr(len(paths) == 0)},
			Policy:  config.Policy{Warning: warning, Critical: &critical},
			Actions: diskActs.actions(),
		})
		var code exitCode
		if errors.As(err, &code) && code == 1 {
			printDiskAdvice(cmd.OutOrStdout())
		}
		return err
	},
}

func printDiskAdvice(w io.Writer) {
	fmt.Fprint(w, `
Disk usage is above the threshold. Things to try:
  - clean temporary files:  sudo rm -rf /tmp/* /var/tmp/*
  - clean the package cache: sudo apt clean (or your distro's equivalent)
  - find large logs:         sudo find /var/log -name '*.log' -size +100M
  - see what uses the space: sudo du -h --max-depth=1 / | sort -hr
`)
}

var (
	procsSched scheduleFlags
	procsActs  actionFlags
)

var procsCmd = &cobra.Command{
	Use:   "procs",
	Short: "Watch host CPU and memory usage",
	Long: `Procs runs two pollers, one for CPU and one for memory. Each reading names the
heaviest users of that resource (pids, name) so --kill can signal every one
above the threshold.

Example:
  opswatch procs --cpu 90 --mem 90 --interval 10s
  opswatch procs --cpu 95 --kill --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu, _ := cmd.Flags().GetFloat64("cpu")
		mem, _ := cmd.Flags().GetFloat64("mem")
		sample, _ := cmd.Flags().GetDuration("sample")
		kill, _ := cmd.Flags().GetBool("kill")

		acts := procsActs.actions()
		if kill {
			acts = append(acts, config.Action{Type: "terminate"})
		}
		mk := func(metric string, critical float64) config.Poller {
			return config.Poller{
				Name:    metric,
				Probe:   config.Probe{Type: "process", Metric: metric, Sample: config.Duration{Duration: sample}},
				Policy:  config.Policy{Critical: ptr(critical)},
				Actions: acts,
			}
		}
		return oneOff(cmd, &procsSched, mk("cpu", cpu), mk("memory", mem))
	},
}

var pingSched scheduleFlags

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping a host, confirming a failure over TCP",
	Long: `Ping sends one ICMP echo per tick. The reading is the round trip in ms and is
critical above --max-rtt or when no reply arrives. With --port, a failed ping
is followed by a TCP connect to that port and both results are recorded.

Example:
  opswatch ping --host 10.0.0.5 --port 22 --interval 5s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		maxRTT, _ := cmd.Flags().GetDuration("max-rtt")
		privileged, _ := cmd.Flags().GetBool("privileged")

		pc := config.Poller{
			Name:    "ping " + host,
			Probe:   config.Probe{Type: "ping", Host: host, Privileged: privileged},
			Policy:  config.Policy{Critical: ptr(float64(maxRTT) / float64(time.Millisecond))},
			Actions: []config.Action{{Type: "log"}},
		}
		if port > 0 {
			pc.Secondary = &config.Probe{Type: "tcp", Host: host, Port: port}
		}
		return oneOff(cmd, &pingSched, pc)
	},
}

var updateSched scheduleFlags

var updateCmd = &cobra.Command{
	Use:   "update <script> [args...]",
	Short: "Run an update script and report whether a reboot is needed",
	Long: `Update runs the script (directly, not through a shell) and reports
--reboot-verdict (critical by default) when it signals that a reboot is
required. The signal is any of:
  - exit status --reboot-exit-code (when non-zero)
  - the marker file --reboot-marker existing afterwards
  - a stdout line REBOOT_REQUIRED=1 (or =true, =yes)
A script that exits non-zero otherwise is critical.

Flags must come before the script; everything after it is passed through.

Example:
  opswatch update ./apt-upgrade.sh
  opswatch update --at 23:30 --reboot-exit-code 100 /usr/local/bin/patch -y`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		code, _ := cmd.Flags().GetInt("reboot-exit-code")
		marker, _ := cmd.Flags().GetString("reboot-marker")
		reboot, _ := cmd.Flags().GetBool("reboot")
		verdict, _ := cmd.Flags().GetString("reboot-verdict")

		acts := []config.Action{{Type: "log"}}
		if reboot {
			acts = append(acts, config.Action{Type: "command", Min: verdict, Argv: []string{"systemctl", "reboot"}})
		}
		if updateSched.at != "" && !cmd.Flags().Changed("count") {
			updateSched.count = 0
		}
		return oneOff(cmd, &updateSched, config.Poller{
			Name: "update",
			Probe: config.Probe{
				Type:           "update",
				Argv:           args,
				Timeout:        config.Duration{Duration: timeout},
				RebootExitCode: code,
				RebootMarker:   marker,
			},
			Policy:  config.Policy{When: ptr(true), Verdict: verdict},
			Actions: acts,
		})
	},
}

var (
	rebootSched scheduleFlags
	rebootSSH   sshFlags
)

var rebootCheckCmd = &cobra.Command{
	Use:   "reboot-check",
	Short: "Check whether hosts need a reboot",
	Long: `Reboot-check asks each --host over SSH (or the local machine when no host is
given) whether a reboot is pending: /var/run/reboot-required on debian,
needs-restarting -r on rhel. A pending reboot is a warning.

Example:
  opswatch reboot-check
  opswatch reboot-check --host web1 --host web2 --user ops --key ~/.ssh/id_ed25519 --flavor rhel`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hosts, _ := cmd.Flags().GetStringSlice("host")
		flavor, _ := cmd.Flags().GetString("flavor")

		mk := func(host string, ssh *config.SSH) config.Poller {
			return config.Poller{
				Name:    "reboot " + host,
				Probe:   config.Probe{Type: "reboot", Host: host, Flavor: flavor, SSH: ssh},
				Policy:  config.Policy{When: ptr(true), Verdict: "warning"},
				Actions: []config.Action{{Type: "log"}},
			}
		}
		if len(hosts) == 0 {
			return oneOff(cmd, &rebootSched, mk("localhost", nil))
		}
		var pollers []config.Poller
		for _, h := range hosts {
			pollers = append(pollers, mk(h, rebootSSH.config()))
		}
		return oneOff(cmd, &rebootSched, pollers...)
	},
}

func init() {
	rootCmd.AddCommand(diskCmd, procsCmd, pingCmd, updateCmd, rebootCheckCmd)

	diskSched.register(diskCmd, time.Minute, 1)
	diskActs.register(diskCmd)
	diskCmd.Flags().Float64("warning", 0, "warning threshold in percent (0 disables)")
	diskCmd.Flags().StringSlice("path", nil, "only check these paths (default all mounts)")

	procsSched.register(procsCmd, 10*time.Second, 0)
	procsActs.register(procsCmd)
	procsCmd.Flags().Float64("cpu", 90, "critical CPU percent")
	procsCmd.Flags().Float64("mem", 90, "critical memory percent")
	procsCmd.Flags().Duration("sample", time.Second, "CPU sampling window")
	procsCmd.Flags().Bool("kill", false, "send SIGTERM to the top process on critical")

	pingSched.register(pingCmd, 5*time.Second, 0)
	pingCmd.Flags().String("host", "", "host to ping (required)")
	pingCmd.Flags().Int("port", 0, "TCP port to try when the ping fails")
	pingCmd.Flags().Duration("max-rtt", time.Second, "critical round trip")
	pingCmd.Flags().Bool("privileged", false, "use raw ICMP sockets (needs root or CAP_NET_RAW)")
	_ = pingCmd.MarkFlagRequired("host")

	updateSched.register(updateCmd, 24*time.Hour, 1)
	updateCmd.Flags().SetInterspersed(false)
	updateCmd.Flags().Duration("timeout", 2*time.Hour, "kill the script after this long")
	updateCmd.Flags().Int("reboot-exit-code", 0, "exit status that means a reboot is needed (0 disables)")
	updateCmd.Flags().String("reboot-marker", "/var/run/reboot-required", "file whose presence means a reboot is needed")
	updateCmd.Flags().Bool("reboot", false, "reboot (systemctl reboot) when the script asks for it")
	updateCmd.Flags().String("reboot-verdict", "critical", "verdict for a pending reboot (warning or critical)")

	rebootSched.register(rebootCheckCmd, time.Hour, 1)
	rebootSSH.register(rebootCheckCmd)
	rebootCheckCmd.Flags().StringSlice("host", nil, "host to check over SSH (repeatable; default local)")
	rebootCheckCmd.Flags().String("flavor", "debian", "debian or rhel")
}
