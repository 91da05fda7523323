package action

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"

	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/notify"
)

func TestLogOnly_LevelFollowsVerdict(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := LogOnly{Logger: zap.New(core)}
	r := domain.Numeric(95, map[string]string{"path": "/home"})

	msg, err := a.Execute(context.Background(), r, domain.Critical)
	if err != nil || msg != "logged" {
		t.Fatalf("Execute: %q %v", msg, err)
	}
	entries := logs.FilterMessage("threshold_exceeded").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("want one error entry, got %+v", logs.All())
	}
	if entries[0].ContextMap()["meta.path"] != "/home" {
		t.Fatalf("metadata not logged: %v", entries[0].ContextMap())
	}
	if a.Destructive() {
		t.Fatal("log action must not be destructive")
	}
}

func TestTerminate_KillsProcessFromMetadata(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	r := domain.Numeric(97, map[string]string{"pid": strconv.Itoa(cmd.Process.Pid)})
	a := &Terminate{}
	if got := a.Describe(r, domain.Critical); got != "terminate pid="+strconv.Itoa(cmd.Process.Pid) {
		t.Fatalf("Describe = %q", got)
	}
	if _, err := a.Execute(context.Background(), r, domain.Critical); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("want signal exit, got %v", err)
		}
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		t.Fatal("process still running after terminate")
	}
}

func TestTerminate_Refusals(t *testing.T) {
	cases := []domain.Reading{
		domain.Numeric(99, map[string]string{"pid": "1"}),
		domain.Numeric(99, map[string]string{"pid": "0"}),
		domain.Numeric(99, map[string]string{"pid": strconv.Itoa(os.Getpid())}),
		domain.Numeric(99, map[string]string{"pid": "abc"}),
		domain.Numeric(99, nil),
	}
	a := &Terminate{kill: func(int, unix.Signal) error {
		t.Fatal("kill must not be called")
		return nil
	}}
	for _, r := range cases {
		if _, err := a.Execute(context.Background(), r, domain.Critical); !errors.Is(err, domain.ErrActionFailure) {
			t.Fatalf("pid %q: want ErrActionFailure, got %v", r.Meta("pid"), err)
		}
	}
}

func TestTerminate_SignalsEveryOffender(t *testing.T) {
	r := domain.Numeric(97, map[string]string{
		"pid":        "1111",
		"pids":       "1111,2222,3333",
		"value.1111": "97",
		"value.2222": "93.5",
		"value.3333": "4",
	})
	var got []int
	a := &Terminate{Above: 90, kill: func(pid int, _ unix.Signal) error {
		got = append(got, pid)
		if pid == 2222 {
			return unix.ESRCH
		}
		return nil
	}}
	if d := a.Describe(r, domain.Critical); d != "terminate pid=1111,2222" {
		t.Fatalf("Describe = %q", d)
	}
	msg, err := a.Execute(context.Background(), r, domain.Critical)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 2 || got[0] != 1111 || got[1] != 2222 {
		t.Fatalf("signalled %v, want [1111 2222]", got)
	}
	if msg != "sent SIGTERM to pid 1111; pid 2222 already gone" {
		t.Fatalf("message = %q", msg)
	}
}

func TestTerminate_OneFailureDoesNotStopTheRest(t *testing.T) {
	r := domain.Numeric(99, map[string]string{"pids": "1,4242"})
	var got []int
	a := &Terminate{kill: func(pid int, _ unix.Signal) error {
		got = append(got, pid)
		return nil
	}}
	msg, err := a.Execute(context.Background(), r, domain.Critical)
	if !errors.Is(err, domain.ErrActionFailure) || !strings.Contains(err.Error(), "pid 1") {
		t.Fatalf("want refusal for pid 1, got %v", err)
	}
	if len(got) != 1 || got[0] != 4242 || msg != "sent SIGTERM to pid 4242" {
		t.Fatalf("signalled %v, message %q", got, msg)
	}
}

func TestTerminate_AlreadyGoneIsSuccess(t *testing.T) {
	a := &Terminate{PID: 4242, kill: func(int, unix.Signal) error { return unix.ESRCH }}
	msg, err := a.Execute(context.Background(), domain.Numeric(0, nil), domain.Critical)
	if err != nil || !strings.Contains(msg, "already gone") {
		t.Fatalf("want already gone, got %q %v", msg, err)
	}

	a.kill = func(int, unix.Signal) error { return unix.EPERM }
	if _, err := a.Execute(context.Background(), domain.Numeric(0, nil), domain.Critical); err == nil {
		t.Fatal("EPERM should fail")
	}
}

func TestRunCommand_ExpandsMetadataAndFailsOnExit(t *testing.T) {
	r := domain.Numeric(91, map[string]string{"path": "/var"})
	ok := &RunCommand{Argv: []string{"test", "${path}:${verdict}", "=", "/var:critical"}, Timeout: 5 * time.Second}
	if _, err := ok.Execute(context.Background(), r, domain.Critical); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	bad := &RunCommand{Argv: []string{"sh", "-c", "echo nope 1>&2; exit 4"}, Timeout: 5 * time.Second}
	_, err := bad.Execute(context.Background(), r, domain.Critical)
	if !errors.Is(err, domain.ErrActionFailure) || !strings.Contains(err.Error(), "code 4: nope") {
		t.Fatalf("want exit failure, got %v", err)
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	c := &RunCommand{Argv: []string{"sleep", "5"}, Timeout: 50 * time.Millisecond}
	_, err := c.Execute(context.Background(), domain.Numeric(0, nil), domain.Critical)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("want timeout, got %v", err)
	}
}

func TestRestartService_Describe(t *testing.T) {
	a := RestartService("nginx", time.Second)
	if a.Name() != "restart nginx" || a.Describe(domain.Numeric(0, nil), domain.Critical) != "run systemctl restart nginx" {
		t.Fatalf("unexpected restart action: %s / %s", a.Name(), a.Describe(domain.Numeric(0, nil), domain.Critical))
	}
}

type captureNotifier struct {
	sent []notify.Message
	err  error
}

func (c *captureNotifier) Send(_ context.Context, m notify.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m)
	return nil
}

func TestNotify_CooldownAndRecovery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := &captureNotifier{}
	a := &Notify{Poller: "disk", Notifier: n, Cooldown: 10 * time.Minute, OnRecovery: true, now: func() time.Time { return now }}
	ctx := context.Background()
	crit := domain.Numeric(95, nil)

	steps := []struct {
		advance time.Duration
		verdict domain.Verdict
		want    string
	}{
		{0, domain.Normal, "suppressed"},
		{time.Minute, domain.Critical, "sent: disk CRITICAL"},
		{time.Minute, domain.Critical, "suppressed"},
		{time.Minute, domain.Warning, "sent: disk WARNING"},
		{time.Minute, domain.Warning, "suppressed"},
		{11 * time.Minute, domain.Warning, "sent: disk WARNING"},
		{time.Minute, domain.Normal, "sent: disk RECOVERED"},
		{time.Minute, domain.Normal, "suppressed"},
	}
	for i, s := range steps {
		now = now.Add(s.advance)
		got, err := a.Execute(ctx, crit, s.verdict)
		if err != nil || got != s.want {
			t.Fatalf("step %d: got %q %v, want %q", i, got, err, s.want)
		}
	}
	if len(n.sent) != 4 {
		t.Fatalf("want 4 messages, got %d", len(n.sent))
	}
}

func TestNotify_SendErrorIsRetriedNextTick(t *testing.T) {
	n := &captureNotifier{err: errors.New("webhook down")}
	a := &Notify{Poller: "ping", Notifier: n, Cooldown: time.Hour}
	if _, err := a.Execute(context.Background(), domain.Failed("ping timeout"), domain.Critical); !errors.Is(err, domain.ErrActionFailure) {
		t.Fatalf("want ErrActionFailure, got %v", err)
	}
	n.err = nil
	if msg, err := a.Execute(context.Background(), domain.Failed("ping timeout"), domain.Critical); err != nil || msg != "sent: ping CRITICAL" {
		t.Fatalf("failed send should not arm cooldown: %q %v", msg, err)
	}
}
