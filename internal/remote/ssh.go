// Package remote runs commands on other hosts over SSH and provisions authorized keys.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/hamed0406/opswatch/internal/command"
	"github.com/hamed0406/opswatch/internal/domain"
)

// Config holds what is needed to open a session. Either KeyFile or Password must be set.
type Config struct {
	User       string
	Port       int
	KeyFile    string
	Password   string
	KnownHosts string
	// InsecureSkipHostKey accepts any host key. Only for lab networks.
	InsecureSkipHostKey bool
	Timeout             time.Duration
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.KnownHosts == "" {
		c.KnownHosts = "~/.ssh/known_hosts"
	}
	if c.User == "" {
		c.User = os.Getenv("USER")
	}
	return c
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		path, err := homedir.Expand(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("expand key path: %w", err)
		}
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", path, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no key file or password configured")
	}

	var hostKey ssh.HostKeyCallback
	if c.InsecureSkipHostKey {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		path, err := homedir.Expand(c.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("expand known_hosts path: %w", err)
		}
		hostKey, err = knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}, nil
}

// Client is an open SSH connection to one host.
type Client struct {
	Host string
	conn *ssh.Client
}

// Dial connects and authenticates. The handshake is bounded by cfg.Timeout and ctx.
func Dial(ctx context.Context, host string, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	cc, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	d := net.Dialer{Timeout: cfg.Timeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = raw.SetDeadline(time.Now().Add(cfg.Timeout))
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cc)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = raw.SetDeadline(time.Time{})
	return &Client{Host: host, conn: ssh.NewClient(c, chans, reqs)}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Exec runs script in a new session. A non-zero remote exit status is reported in
// Output.ExitCode, not as an error.
func (c *Client) Exec(ctx context.Context, script string) (command.Output, error) {
	return c.ExecInput(ctx, script, "")
}

// ExecInput is Exec with stdin.
func (c *Client) ExecInput(ctx context.Context, script, stdin string) (command.Output, error) {
	sess, err := c.conn.NewSession()
	if err != nil {
		return command.Output{ExitCode: -1}, fmt.Errorf("open session on %s: %w", c.Host, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != "" {
		sess.Stdin = strings.NewReader(stdin)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- sess.Run(script) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		out := command.Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1, Duration: time.Since(start)}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%s on %s: %w", script, c.Host, domain.ErrTimeout)
		}
		return out, ctx.Err()
	case runErr = <-done:
	}

	out := command.Output{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		out.ExitCode = 0
	case errors.As(runErr, &exitErr):
		out.ExitCode = exitErr.ExitStatus()
	default:
		out.ExitCode = -1
		return out, fmt.Errorf("run on %s: %w", c.Host, runErr)
	}
	return out, nil
}

// Shell dials Host for every Exec. It lets probes stay stateless across ticks.
type Shell struct {
	Host   string
	Config Config
}

func (s Shell) Exec(ctx context.Context, script string) (command.Output, error) {
	cfg := s.Config.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, 2*cfg.Timeout)
	defer cancel()
	c, err := Dial(ctx, s.Host, cfg)
	if err != nil {
		return command.Output{ExitCode: -1}, err
	}
	defer c.Close()
	return c.Exec(ctx, script)
}
