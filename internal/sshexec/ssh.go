package sshexec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/k3boot/k3boot/internal/util/retry"
)

const (
	defaultPort        = "22"
	defaultDialTimeout = 10 * time.Second
	defaultMaxAttempts = 6
	defaultRetryDelay  = 5 * time.Second
	defaultMaxDelay    = 10 * time.Second
)

// Config holds SSH client configuration for one node.
type Config struct {
	// Endpoint is host or host:port.
	Endpoint string
	User     string
	// PrivateKey is the PEM-encoded key authorized on the node.
	PrivateKey []byte

	// DialTimeout bounds a single TCP connection attempt.
	DialTimeout time.Duration

	// MaxAttempts is the number of connection attempts before giving up.
	MaxAttempts int

	// HostKeyCallback handles host key verification. Freshly installed
	// nodes present a new host key on every install, so the default
	// accepts any key.
	HostKeyCallback ssh.HostKeyCallback
}

// Client implements Communicator over SSH. The private key is parsed once
// at construction; connections are established per call so a node reboot
// between calls does not poison the client.
type Client struct {
	config Config
	signer ssh.Signer
}

var _ Communicator = (*Client)(nil)

// NewClient creates an SSH-backed Communicator and validates the key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // Nodes are reinstalled; keys change every run.
	}

	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{config: cfg, signer: signer}, nil
}

// NewFactory returns a Factory that builds SSH clients with the given user
// and private key for each node endpoint. A zero dialTimeout falls back to
// the default.
func NewFactory(user string, privateKey []byte, dialTimeout time.Duration) Factory {
	return func(endpoint string) (Communicator, error) {
		return NewClient(Config{
			Endpoint:    endpoint,
			User:        user,
			PrivateKey:  privateKey,
			DialTimeout: dialTimeout,
		})
	}
}

// Execute runs a command on the node and returns its combined output.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session on %s: %w", c.config.Endpoint, err)
	}
	defer func() { _ = session.Close() }()

	output, err := session.CombinedOutput(command)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return string(output), &ExitError{
				Command:  command,
				ExitCode: exitErr.ExitStatus(),
				Output:   string(output),
			}
		}
		return string(output), fmt.Errorf("command failed on %s: %w", c.config.Endpoint, err)
	}

	return string(output), nil
}

// UploadFile writes content to remotePath, creating parent directories.
func (c *Client) UploadFile(ctx context.Context, content []byte, remotePath string) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session on %s: %w", c.config.Endpoint, err)
	}
	defer func() { _ = session.Close() }()

	session.Stdin = strings.NewReader(string(content))

	dir := path.Dir(remotePath)
	cmd := fmt.Sprintf("mkdir -p %q && cat > %q", dir, remotePath)
	if output, err := session.CombinedOutput(cmd); err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w (output: %s)",
			remotePath, c.config.Endpoint, err, string(output))
	}

	return nil
}

// connect dials the node, retrying transient failures.
func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	addr := c.config.Endpoint
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	var client *ssh.Client
	err := retry.Do(ctx, func() error {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", addr, sshConfig)
		return dialErr
	},
		retry.WithMaxAttempts(c.config.MaxAttempts),
		retry.WithInitialDelay(defaultRetryDelay),
		retry.WithMaxDelay(defaultMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}

	return client, nil
}
