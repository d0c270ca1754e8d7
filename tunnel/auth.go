package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	ncerr "tcpsock/internal/errors"
)

// Key files tried when the gateway config names no credentials.
var fallbackKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// credential is one configured way of authenticating to the gateway.
type credential struct {
	name  string
	load  func() (ssh.AuthMethod, error)
	wants bool
}

// BuildAuthMethods assembles the gateway's authentication methods in
// the order they are offered: key file, agent, password.  With nothing
// configured it falls back to the agent and the usual key files.
func BuildAuthMethods(cfg *SSHConfig) ([]ssh.AuthMethod, error) {
	ask := cfg.prompter()

	creds := []credential{
		{
			name:  "key " + cfg.KeyPath,
			wants: cfg.KeyPath != "",
			load:  func() (ssh.AuthMethod, error) { return keyFile(cfg.KeyPath, ask) },
		},
		{
			name:  "ssh-agent",
			wants: cfg.UseAgent,
			load:  dialAgent,
		},
		{
			name:  "password",
			wants: cfg.Password != "" || cfg.PromptPass,
			load:  func() (ssh.AuthMethod, error) { return password(cfg, ask) },
		},
	}

	var methods []ssh.AuthMethod
	for _, c := range creds {
		if !c.wants {
			continue
		}
		m, err := c.load()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		methods = append(methods, m)
	}
	if len(methods) > 0 {
		return methods, nil
	}

	if methods = fallback(ask); len(methods) == 0 {
		return nil, fmt.Errorf("%w: no SSH credentials available (use --ssh-key or --ssh-agent)",
			ncerr.ErrAuthFailed)
	}
	return methods, nil
}

func (c *SSHConfig) prompter() func(string) ([]byte, error) {
	if c.Prompt != nil {
		return c.Prompt
	}
	return readTerminal
}

// readTerminal prints label on stderr and reads a line from stdin with
// echo disabled.
func readTerminal(label string) ([]byte, error) {
	fmt.Fprint(os.Stderr, label)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// keyFile loads a private key, asking for its passphrase only when the
// file turns out to be encrypted.
func keyFile(path string, ask func(string) ([]byte, error)) (ssh.AuthMethod, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(raw)
	var encrypted *ssh.PassphraseMissingError
	switch {
	case err == nil:
	case errors.As(err, &encrypted):
		pass, perr := ask(fmt.Sprintf("Enter passphrase for %s: ", path))
		if perr != nil {
			return nil, fmt.Errorf("reading passphrase: %w", perr)
		}
		if signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, pass); err != nil {
			return nil, fmt.Errorf("decrypting key: %w", err)
		}
	default:
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func dialAgent() (ssh.AuthMethod, error) {
	sock, ok := os.LookupEnv("SSH_AUTH_SOCK")
	if !ok || sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

// password prefers the configured secret and only prompts without one.
func password(cfg *SSHConfig, ask func(string) ([]byte, error)) (ssh.AuthMethod, error) {
	if cfg.Password != "" {
		return ssh.Password(cfg.Password), nil
	}
	secret, err := ask(fmt.Sprintf("Password for %s@%s: ", cfg.User, cfg.Host))
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return ssh.Password(string(secret)), nil
}

// fallback collects whatever works out of the box.  Broken candidates
// are skipped rather than reported.
func fallback(ask func(string) ([]byte, error)) []ssh.AuthMethod {
	var found []ssh.AuthMethod
	if m, err := dialAgent(); err == nil {
		found = append(found, m)
	}
	dir, err := sshDir()
	if err != nil {
		return found
	}
	for _, name := range fallbackKeys {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if m, err := keyFile(path, ask); err == nil {
			found = append(found, m)
		}
	}
	return found
}

func sshDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".ssh"), nil
}

// hostKeyCallback verifies the gateway against known_hosts when strict
// checking is on.  A key that does not match surfaces as
// ErrHostKeyMismatch; an unlisted host keeps the knownhosts error.
func hostKeyCallback(cfg *SSHConfig) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		//nolint:gosec // host key checking disabled by configuration
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := cfg.KnownHosts
	if path == "" {
		dir, err := sshDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "known_hosts")
	}

	verify, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", path, err)
	}
	return func(host string, remote net.Addr, key ssh.PublicKey) error {
		return classifyHostKey(verify(host, remote, key))
	}, nil
}

func classifyHostKey(err error) error {
	var ke *knownhosts.KeyError
	if !errors.As(err, &ke) || len(ke.Want) == 0 {
		return err
	}
	return fmt.Errorf("%w: %s", ncerr.ErrHostKeyMismatch, err)
}
