package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/hamed0406/opswatch/internal/config"
	"github.com/hamed0406/opswatch/internal/remote"
)

// sshFlags are the connection settings shared by reboot-check and authorize-key.
type sshFlags struct {
	user       string
	port       int
	key        string
	knownHosts string
	insecure   bool
	timeout    time.Duration
}

func (s *sshFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.user, "user", os.Getenv("USER"), "remote user")
	f.IntVar(&s.port, "port", 22, "SSH port")
	f.StringVar(&s.key, "key", "~/.ssh/id_rsa", "private key file")
	f.StringVar(&s.knownHosts, "known-hosts", "~/.ssh/known_hosts", "known_hosts file used to verify host keys")
	f.BoolVar(&s.insecure, "insecure-skip-host-key", false, "accept any host key (lab networks only)")
	f.DurationVar(&s.timeout, "ssh-timeout", 10*time.Second, "connect and handshake timeout")
}

func (s *sshFlags) config() *config.SSH {
	return &config.SSH{
		User:                s.user,
		Port:                s.port,
		KeyFile:             s.key,
		KnownHosts:          s.knownHosts,
		InsecureSkipHostKey: s.insecure,
		Timeout:             config.Duration{Duration: s.timeout},
	}
}

func (s *sshFlags) remote() remote.Config {
	return remote.Config{
		User:                s.user,
		Port:                s.port,
		KeyFile:             s.key,
		KnownHosts:          s.knownHosts,
		InsecureSkipHostKey: s.insecure,
		Timeout:             s.timeout,
	}
}

var authSSH sshFlags

var authorizeKeyCmd = &cobra.Command{
	Use:   "authorize-key",
	Short: "Install a public key in authorized_keys on remote hosts",
	Long: `Authorize-key logs in to each --host with a password and appends the public
key to ~/.ssh/authorized_keys, creating ~/.ssh (0700) and the file (0600) as
needed. A key already present is left alone. Afterwards it logs in again with
--key to confirm key-based login works.

The password is read from $SSH_PASSWORD or, with --password-stdin, from the
first line of standard input. Host keys are checked against --known-hosts.

Example:
  SSH_PASSWORD=... opswatch authorize-key --host web1 --host web2 --user ops
  opswatch authorize-key --host db1 --pubkey ~/.ssh/id_ed25519.pub --key ~/.ssh/id_ed25519 --password-stdin < pw.txt`,
	Args: cobra.NoArgs,
	RunE: runAuthorizeKey,
}

func init() {
	rootCmd.AddCommand(authorizeKeyCmd)

	authSSH.register(authorizeKeyCmd)
	authorizeKeyCmd.Flags().StringSlice("host", nil, "host to provision (repeatable, required)")
	authorizeKeyCmd.Flags().String("pubkey", "~/.ssh/id_rsa.pub", "public key to install")
	authorizeKeyCmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	authorizeKeyCmd.Flags().Bool("no-verify", false, "skip the key login check")
	_ = authorizeKeyCmd.MarkFlagRequired("host")
}

func runAuthorizeKey(cmd *cobra.Command, args []string) error {
	hosts, _ := cmd.Flags().GetStringSlice("host")
	pubPath, _ := cmd.Flags().GetString("pubkey")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")
	noVerify, _ := cmd.Flags().GetBool("no-verify")
	out := cmd.OutOrStdout()

	pub, err := remote.ReadPublicKey(pubPath)
	if err != nil {
		return err
	}
	password := os.Getenv("SSH_PASSWORD")
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return fmt.Errorf("no password: set SSH_PASSWORD or use --password-stdin")
	}

	var errs error
	for _, host := range hosts {
		if err := authorizeHost(cmd.Context(), host, pub, password, !noVerify, out); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "✖", host+":", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", host, err))
		}
	}
	if errs != nil {
		return exitCode(1)
	}
	return nil
}

func authorizeHost(ctx context.Context, host, pub, password string, verify bool, out io.Writer) error {
	cfg := authSSH.remote()
	keyFile := cfg.KeyFile
	cfg.KeyFile = ""
	cfg.Password = password

	c, err := remote.Dial(ctx, host, cfg)
	if err != nil {
		return err
	}
	added, err := remote.AuthorizeKey(ctx, c, pub)
	c.Close()
	if err != nil {
		return err
	}
	if added {
		fmt.Fprintln(out, "✔", host+": key added")
	} else {
		fmt.Fprintln(out, "✔", host+": key already present")
	}

	if !verify {
		return nil
	}
	cfg.KeyFile = keyFile
	if err := remote.VerifyKeyLogin(ctx, host, cfg); err != nil {
		return fmt.Errorf("key login failed: %w", err)
	}
	fmt.Fprintln(out, "✔", host+": key login works")
	return nil
}
