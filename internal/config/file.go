package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// File is the YAML configuration for `opswatch run`.
type File struct {
	Log          Log      `yaml:"log"`
	API          API      `yaml:"api"`
	DatabaseURL  string   `yaml:"database_url"`
	SlackWebhook string   `yaml:"slack_webhook"`
	DryRun       bool     `yaml:"dry_run"`
	History      int      `yaml:"history"`
	Pollers      []Poller `yaml:"pollers"`
}

type Log struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

type API struct {
	Addr       string   `yaml:"addr"`
	PublicKeys []string `yaml:"public_keys"`
	AdminKeys  []string `yaml:"admin_keys"`
	RPM        int      `yaml:"rpm"`
	Burst      int      `yaml:"burst"`
}

type Poller struct {
	Name          string   `yaml:"name"`
	Every         Duration `yaml:"every"`
	At            string   `yaml:"at"`
	Timezone      string   `yaml:"timezone"`
	ProbeTimeout  Duration `yaml:"probe_timeout"`
	ActionTimeout Duration `yaml:"action_timeout"`
	Probe         Probe    `yaml:"probe"`
	Secondary     *Probe   `yaml:"secondary"`
	Policy        Policy   `yaml:"policy"`
	Actions       []Action `yaml:"actions"`
}

// Probe selects and parameterizes one probe. Only the fields of Type are read.
type Probe struct {
	Type string `yaml:"type"`

	// disk
	Paths         []string `yaml:"paths"`
	IncludeMounts *bool    `yaml:"include_mounts"`
	// process
	Metric string   `yaml:"metric"`
	Sample Duration `yaml:"sample"`
	// ping, tcp, reboot
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Privileged bool   `yaml:"privileged"`
	// http, dns
	URL string `yaml:"url"`
	// command, update
	Argv           []string `yaml:"argv"`
	Dir            string   `yaml:"dir"`
	RebootExitCode int      `yaml:"reboot_exit_code"`
	RebootMarker   string   `yaml:"reboot_marker"`
	// reboot
	Flavor string `yaml:"flavor"`
	SSH    *SSH   `yaml:"ssh"`

	Timeout      Duration `yaml:"timeout"`
	Retries      int      `yaml:"retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

type SSH struct {
	User                string   `yaml:"user"`
	Port                int      `yaml:"port"`
	KeyFile             string   `yaml:"key_file"`
	KnownHosts          string   `yaml:"known_hosts"`
	InsecureSkipHostKey bool     `yaml:"insecure_skip_host_key"`
	Timeout             Duration `yaml:"timeout"`
}

// Policy is either a threshold (warning/critical) or a flag (when/verdict).
type Policy struct {
	Warning  float64  `yaml:"warning"`
	Critical *float64 `yaml:"critical"`
	When     *bool    `yaml:"when"`
	Verdict  string   `yaml:"verdict"`
}

type Action struct {
	Type       string   `yaml:"type"`
	Min        string   `yaml:"min"`
	Argv       []string `yaml:"argv"`
	Service    string   `yaml:"service"`
	PID        int      `yaml:"pid"`
	Timeout    Duration `yaml:"timeout"`
	Cooldown   Duration `yaml:"cooldown"`
	OnRecovery bool     `yaml:"on_recovery"`
}

// Defaults builds a File from environment settings; a YAML file is decoded on top of it.
func Defaults(env Env) File {
	return File{
		Log: Log{
			Dir:        env.LogDir,
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
			Level:      "info",
		},
		API: API{
			Addr:       env.Addr,
			PublicKeys: env.PublicAPIKeys,
			AdminKeys:  env.AdminAPIKeys,
			RPM:        env.PublicRPM,
			Burst:      env.PublicBurst,
		},
		DatabaseURL:  env.DatabaseURL,
		SlackWebhook: env.SlackWebhook,
		DryRun:       env.DryRun,
		History:      1000,
	}
}

// Load reads path over Defaults(env) and validates the result. Validation failures come
// back as *Error.
func Load(path string, env Env) (File, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return File{}, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b, env)
	if err != nil {
		return File{}, err
	}
	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// Parse decodes YAML without validating it. Unknown keys are rejected.
func Parse(b []byte, env Env) (File, error) {
	cfg := Defaults(env)
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, &Error{Err: fmt.Errorf("parse config: %w", err)}
	}
	if cfg.Log.Dir != "" {
		if d, err := homedir.Expand(cfg.Log.Dir); err == nil {
			cfg.Log.Dir = d
		}
	}
	return cfg, nil
}
