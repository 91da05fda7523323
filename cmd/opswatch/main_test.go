package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// opswatch runs the CLI in-process and returns exit code, stdout and stderr.
func opswatch(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	code := execute(args)
	return code, out.String(), errOut.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opswatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
api:
  addr: "off"
pollers:
  - name: root-disk
    every: 1m
    probe: {type: disk, paths: ["/"]}
    policy: {warning: 80, critical: 90}
    actions:
      - {type: log}
  - name: nightly-update
    at: "23:30"
    timezone: UTC
    probe: {type: update, argv: [/usr/local/bin/upgrade]}
    policy: {when: true, verdict: warning}
`

func TestValidate_ValidConfig(t *testing.T) {
	code, out, _ := opswatch(t, "validate", "-c", writeConfig(t, validConfig))
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	for _, phrase := range []string{
		`✔ poller "root-disk": disk probe, every 1m0s, 1 action(s)`,
		`✔ poller "nightly-update": update probe, daily at 23:30 UTC, 0 action(s)`,
		"✔ status API disabled",
		"✔ config valid",
	} {
		if !strings.Contains(out, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, out)
		}
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	path := writeConfig(t, `
pollers:
  - name: a
    probe: {type: disk}
    policy: {critical: 120}
  - name: a
    every: 10s
    probe: {type: telepathy}
    policy: {critical: 1}
`)
	code, out, errOut := opswatch(t, "validate", "-c", path)
	if code != 1 {
		t.Fatalf("want exit 1, got %d", code)
	}
	if strings.Contains(out, "config valid") {
		t.Fatalf("invalid config reported valid: %s", out)
	}
	for _, phrase := range []string{"schedule", "percentage", "duplicate name", "telepathy"} {
		if !strings.Contains(errOut, phrase) {
			t.Errorf("stderr missing %q\nGot: %s", phrase, errOut)
		}
	}
	if n := strings.Count(errOut, "✖"); n != 4 {
		t.Errorf("want 4 problems, got %d:\n%s", n, errOut)
	}
}

func TestValidate_MissingFile(t *testing.T) {
	code, _, errOut := opswatch(t, "validate", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	if code != 1 || !strings.Contains(errOut, "read config") {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
}

func TestDisk_ThresholdOutOfRangeIsConfigError(t *testing.T) {
	code, _, errOut := opswatch(t, "--no-log-file", "disk", "150")
	if code != 1 || !strings.Contains(errOut, "percentage") {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	code, _, errOut = opswatch(t, "--no-log-file", "disk", "ninety")
	if code != 1 || !strings.Contains(errOut, "not a number") {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
}

func TestDisk_CriticalExitsOne(t *testing.T) {
	code, out, _ := opswatch(t, "--no-log-file", "disk", "0", "--path", "/")
	if code != 1 {
		t.Fatalf("want exit 1 for critical, got %d (%s)", code, out)
	}
	if !strings.Contains(out, "disk: critical") || !strings.Contains(out, "log: logged") {
		t.Fatalf("unexpected output: %s", out)
	}
	for _, want := range []string{"apt clean", "find /var/log", "du -h"} {
		if !strings.Contains(out, want) {
			t.Fatalf("cleanup advice missing %q: %s", want, out)
		}
	}
}

func TestDisk_NormalPrintsNoAdvice(t *testing.T) {
	code, out, _ := opswatch(t, "--no-log-file", "disk", "100", "--path", "/")
	if code != 0 || strings.Contains(out, "apt clean") {
		t.Fatalf("want exit 0 without advice, got %d: %s", code, out)
	}
}

func TestUpdate_RebootRequestIsCriticalByDefault(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "reboot-required")
	code, out, _ := opswatch(t, "--no-log-file", "update", "--reboot-marker", marker,
		"sh", "-c", "echo upgraded; echo REBOOT_REQUIRED=1")
	if code != 1 {
		t.Fatalf("a pending reboot should fail the run, exit %d (%s)", code, out)
	}
	if !strings.Contains(out, "update: critical") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestUpdate_RebootVerdictWarning(t *testing.T) {
	t.Cleanup(func() { _ = updateCmd.Flags().Set("reboot-verdict", "critical") })
	marker := filepath.Join(t.TempDir(), "reboot-required")
	code, out, _ := opswatch(t, "--no-log-file", "update", "--reboot-verdict", "warning", "--reboot-marker", marker,
		"sh", "-c", "echo upgraded; echo REBOOT_REQUIRED=1")
	if code != 0 {
		t.Fatalf("a warning must not fail the run, exit %d (%s)", code, out)
	}
	if !strings.Contains(out, "update: warning") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRun_BoundedDryRun(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "touched")
	path := writeConfig(t, `
api:
  addr: "off"
pollers:
  - name: always-bad
    every: 10ms
    probe: {type: command, argv: [sh, -c, "exit 5"]}
    policy: {critical: 1}
    actions:
      - {type: command, argv: [touch, `+pidFile+`]}
`)
	code, out, _ := opswatch(t, "--no-log-file", "run", "-c", path, "--count", "2", "--dry-run")
	if code != 1 {
		t.Fatalf("want exit 1 after critical ticks, got %d", code)
	}
	if n := strings.Count(out, "always-bad: critical"); n != 2 {
		t.Fatalf("want 2 ticks, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "would have executed: run touch") {
		t.Fatalf("dry run not described:\n%s", out)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("dry run executed the command")
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := opswatch(t, "version")
	if code != 0 || !strings.HasPrefix(out, "opswatch dev") {
		t.Fatalf("exit %d, out %q", code, out)
	}
}
