package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

// ReadPublicKey loads and validates an OpenSSH public key file (e.g. ~/.ssh/id_rsa.pub).
func ReadPublicKey(path string) (string, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read public key: %w", err)
	}
	key := strings.TrimSpace(string(b))
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
		return "", fmt.Errorf("parse public key %s: %w", p, err)
	}
	return key, nil
}

// AuthorizeKey makes sure pubKey is listed in the remote user's authorized_keys. It returns
// false without touching the file when the key is already there.
func AuthorizeKey(ctx context.Context, c *Client, pubKey string) (bool, error) {
	want, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubKey))
	if err != nil {
		return false, fmt.Errorf("parse public key: %w", err)
	}

	if out, err := c.Exec(ctx, "mkdir -p ~/.ssh && chmod 700 ~/.ssh"); err != nil {
		return false, err
	} else if out.ExitCode != 0 {
		return false, fmt.Errorf("prepare ~/.ssh on %s: exit %d: %s", c.Host, out.ExitCode, strings.TrimSpace(out.Stderr))
	}

	out, err := c.Exec(ctx, "cat ~/.ssh/authorized_keys 2>/dev/null || true")
	if err != nil {
		return false, err
	}
	if hasKey(out.Stdout, want) {
		return false, nil
	}

	line := strings.TrimSpace(pubKey) + "\n"
	if out.Stdout != "" && !strings.HasSuffix(out.Stdout, "\n") {
		line = "\n" + line
	}
	out, err = c.ExecInput(ctx, "cat >> ~/.ssh/authorized_keys && chmod 600 ~/.ssh/authorized_keys", line)
	if err != nil {
		return false, err
	}
	if out.ExitCode != 0 {
		return false, fmt.Errorf("append key on %s: exit %d: %s", c.Host, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return true, nil
}

// hasKey compares key material, ignoring comments and options.
func hasKey(authorized string, want ssh.PublicKey) bool {
	rest := []byte(authorized)
	for len(rest) > 0 {
		key, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return false
		}
		if key.Type() == want.Type() && string(key.Marshal()) == string(want.Marshal()) {
			return true
		}
		rest = next
	}
	return false
}

// VerifyKeyLogin checks that cfg (expected to carry only a KeyFile) can log in.
func VerifyKeyLogin(ctx context.Context, host string, cfg Config) error {
	if cfg.KeyFile == "" {
		return errors.New("no key file to verify with")
	}
	cfg.Password = ""
	c, err := Dial(ctx, host, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	out, err := c.Exec(ctx, "true")
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("key login on %s: exit %d", host, out.ExitCode)
	}
	return nil
}
