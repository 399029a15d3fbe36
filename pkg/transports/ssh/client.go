package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// CommandResult holds the outcome of a remote command execution.
type CommandResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Client executes commands and transfers files on a remote gateway.
type Client struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
}

// NewClient creates a new SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes an SSH connection to the remote host.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build client config: %w", err)
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case client := <-connChan:
		c.client = client
		log.Info().Str("address", address).Str("user", c.config.User).Msg("SSH connection established")
		return nil
	case err := <-errChan:
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	case <-ctx.Done():
		return fmt.Errorf("connection to %s cancelled: %w", address, ctx.Err())
	}
}

// Run executes a command on the remote host and captures its output.
// A non-zero exit status is reported through the result, not as an error.
func (c *Client) Run(ctx context.Context, command string) (*CommandResult, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	timeout := c.config.CommandTimeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)

	go func() {
		done <- session.Run(command)
	}()

	select {
	case err = <-done:
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, fmt.Errorf("command timed out after %s: %s", timeout, command)
	}

	result := &CommandResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			return nil, fmt.Errorf("command failed: %w", err)
		}
	}

	log.Debug().
		Str("command", command).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("remote command completed")

	return result, nil
}

// Upload copies a local file to the remote host over SFTP, creating
// parent directories as needed.
func (c *Client) Upload(ctx context.Context, localPath string, remotePath string) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer func() { _ = sftpClient.Close() }()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer func() { _ = dst.Close() }()

	written, err := dst.ReadFrom(src)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Msg("file uploaded")

	return nil
}

// Close terminates the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	return err
}
