// Package cmd wires up the CLI flags and dispatches to a socket session.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"tcpsock/config"
)

// version is overridable at link time:
//
//	go build -ldflags "-X tcpsock/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs a tcpsock session.
func Execute(ctx context.Context, args []string) error {
	cli := &config.Config{}
	fs := flag.NewFlagSet("tcpsock", flag.ContinueOnError)

	// ── connection ───────────────────────────────────────────────
	fs.IntVarP(&cli.LocalPort, "port", "p", 0, "Local source port")
	fs.StringVar(&cli.SecureTransport, "secure-transport", "", "off, on or starttls")
	fs.BoolVar(&cli.AllowHalfOpen, "allow-half-open", false, "Keep writing after the peer finishes sending")

	var timeoutSec int
	fs.IntVarP(&timeoutSec, "timeout", "w", 0, "Connect timeout in seconds")
	fs.DurationVar(&cli.CloseTimeout, "close-timeout", 0, "How long Close waits for the peer")

	// ── TLS ──────────────────────────────────────────────────────
	fs.StringVar(&cli.CAFile, "ca", "", "PEM file of trusted CA certificates")
	fs.StringVar(&cli.CertFile, "cert", "", "Client certificate (PEM)")
	fs.StringVar(&cli.KeyFile, "key", "", "Client private key (PEM)")
	fs.StringVar(&cli.ServerName, "server-name", "", "Override the TLS server name")
	fs.BoolVar(&cli.InsecureSkipVerify, "insecure", false, "Skip certificate verification")
	fs.StringVar(&cli.StartTLSCommand, "starttls-command", "", "Plaintext command sent before upgrading (e.g. STARTTLS)")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&cli.TunnelSpec, "tunnel", "T", "", "Dial through an SSH gateway [user@]host[:port]")
	fs.StringVar(&cli.SSHKeyPath, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&cli.SSHPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&cli.UseSSHAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&cli.StrictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&cli.KnownHostsPath, "known-hosts", "", "Custom known_hosts path")
	fs.DurationVar(&cli.KeepAliveInterval, "keepalive", 0, "SSH keepalive interval")
	fs.IntVar(&cli.GatewayRetries, "gateway-retries", 0, "Extra attempts when the gateway is unreachable")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cli.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cli.MetricsJSON, "metrics", false, "Print a JSON metrics snapshot on exit")

	var configPath string
	var showVersion, showHelp, dryRun bool
	fs.StringVar(&configPath, "config", "", "YAML config file")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("tcpsock %s\n", version)
		return nil
	}

	// ── layer: defaults < file < env < flags ─────────────────────
	cfg := config.Default()
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	applyFlags(fs, cli, cfg)
	if timeoutSec > 0 {
		cfg.Timeout = time.Duration(timeoutSec) * time.Second
	}

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.ResolveTunnel(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		return nil
	}

	return run(ctx, cfg)
}

// applyFlags copies every flag the user actually set from cli onto cfg.
func applyFlags(fs *flag.FlagSet, cli, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.LocalPort = cli.LocalPort
		case "secure-transport":
			cfg.SecureTransport = cli.SecureTransport
		case "allow-half-open":
			cfg.AllowHalfOpen = cli.AllowHalfOpen
		case "close-timeout":
			cfg.CloseTimeout = cli.CloseTimeout
		case "ca":
			cfg.CAFile = cli.CAFile
		case "cert":
			cfg.CertFile = cli.CertFile
		case "key":
			cfg.KeyFile = cli.KeyFile
		case "server-name":
			cfg.ServerName = cli.ServerName
		case "insecure":
			cfg.InsecureSkipVerify = cli.InsecureSkipVerify
		case "starttls-command":
			cfg.StartTLSCommand = cli.StartTLSCommand
		case "tunnel":
			cfg.TunnelSpec = cli.TunnelSpec
		case "ssh-key":
			cfg.SSHKeyPath = cli.SSHKeyPath
		case "ssh-password":
			cfg.SSHPassword = cli.SSHPassword
		case "ssh-agent":
			cfg.UseSSHAgent = cli.UseSSHAgent
		case "strict-hostkey":
			cfg.StrictHostKey = cli.StrictHostKey
		case "known-hosts":
			cfg.KnownHostsPath = cli.KnownHostsPath
		case "keepalive":
			cfg.KeepAliveInterval = cli.KeepAliveInterval
		case "gateway-retries":
			cfg.GatewayRetries = cli.GatewayRetries
		case "verbose":
			cfg.Verbose += cli.Verbose
		case "metrics":
			cfg.MetricsJSON = cli.MetricsJSON
		}
	})
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		if cfg.Host == "" {
			return fmt.Errorf("hostname required (use --help for usage)")
		}
		return nil
	case 1:
		cfg.Host = remaining[0]
		if cfg.Port == 0 {
			return fmt.Errorf("port required")
		}
		return nil
	case 2:
		cfg.Host = remaining[0]
		port, err := strconv.Atoi(remaining[1])
		if err != nil {
			return fmt.Errorf("port %q: not a number", remaining[1])
		}
		cfg.Port = port
		return nil
	default:
		return fmt.Errorf("too many arguments: expected <host> <port>")
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tcpsock v%s

Connect stdin/stdout to a TCP socket, with optional TLS, STARTTLS
upgrade and SSH gateway.

Usage:
  tcpsock [options] <host> <port>

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  tcpsock example.com 80                                   Plain TCP
  tcpsock --secure-transport on example.com 443            TLS
  tcpsock --secure-transport starttls \
          --starttls-command STARTTLS mail.example.com 587 STARTTLS upgrade
  tcpsock -T admin@bastion db-internal 5432                Through an SSH gateway
  echo "hello" | tcpsock host.example.com 9000             Pipe data
`)
}
