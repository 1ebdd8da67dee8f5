// Package exec runs commands on the physical hosts a cluster is built
// from. Every OVN object the topology layer creates ultimately traces
// back to a shell command run here: standing up a container, setting a
// chassis name, running ovn-nbctl, pinging from inside a namespace.
//
// SSHChannel maintains one persistent connection per host rather than
// dialing fresh for every command, the same shape as the teacher's
// pkg/recovery connection manager, generalized from "one named external
// dependency" to "one named physical host."
package exec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ovn-tester/ovnscale/pkg/errors"
	"github.com/ovn-tester/ovnscale/pkg/retry"
	"github.com/ovn-tester/ovnscale/pkg/types"
	"github.com/ovn-tester/ovnscale/pkg/utils"
)

// Config controls how SSHChannel dials and authenticates to hosts.
type Config struct {
	User           string
	PrivateKeyPath string
	Port           int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	// LogCommands mirrors global.log_cmds: every command run is logged
	// at debug level before it executes.
	LogCommands bool

	Logger *utils.Logger
}

// DefaultConfig returns the settings ovn-fake-multinode deployments use:
// root over SSH on the default port with a key file.
func DefaultConfig() Config {
	return Config{
		User:           "root",
		Port:           22,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 60 * time.Second,
	}
}

// SSHChannel is a types.Exec backed by one ssh.Client per host, built
// lazily on first use and torn down on authentication or transport
// failure so the next Run redials.
type SSHChannel struct {
	cfg     Config
	signer  ssh.Signer
	retryer *retry.Retryer

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

var _ types.Exec = (*SSHChannel)(nil)

// NewSSHChannel loads the configured private key and returns a channel
// ready to dial hosts on demand.
func NewSSHChannel(cfg Config) (*SSHChannel, error) {
	if cfg.Logger == nil {
		cfg.Logger = utils.NewLogger("exec", utils.INFO, os.Stdout)
	}

	var signer ssh.Signer
	if cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "exec: read private key").WithCause(err)
		}
		signer, err = ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidConfig, "exec: parse private key").WithCause(err)
		}
	}

	return &SSHChannel{
		cfg:     cfg,
		signer:  signer,
		retryer: retry.New(retry.DefaultConfig()),
		clients: make(map[string]*ssh.Client),
	}, nil
}

// Run executes cmd on host, over a new session on a cached connection.
// A non-zero exit status is returned as a *errors.ScaleError with
// CodeNonZeroExit.
func (c *SSHChannel) Run(ctx context.Context, host, cmd string) (string, error) {
	if c.cfg.LogCommands {
		c.cfg.Logger.Debug("%s: %s", host, cmd)
	}

	var out string
	err := c.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		client, err := c.client(ctx, host)
		if err != nil {
			return err
		}

		session, err := client.NewSession()
		if err != nil {
			c.dropClient(host)
			return errors.New(errors.CodeTransportError, "exec: open session").
				WithComponent(host).WithCause(err)
		}
		defer session.Close()

		var stdout, stderr bytes.Buffer
		session.Stdout = &stdout
		session.Stderr = &stderr

		runCtx := ctx
		cancel := func() {}
		if c.cfg.CommandTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		}
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- session.Run(cmd) }()

		select {
		case <-runCtx.Done():
			session.Signal(ssh.SIGKILL)
			return errors.New(errors.CodeTimeoutError, "exec: command timed out").
				WithComponent(host).WithContext("cmd", cmd)
		case runErr := <-done:
			if runErr != nil {
				return errors.New(errors.CodeNonZeroExit, "exec: command failed").
					WithComponent(host).
					WithContext("cmd", cmd).
					WithContext("stderr", stderr.String()).
					WithCause(runErr)
			}
		}

		out = stdout.String()
		return nil
	})
	return out, err
}

func (c *SSHChannel) client(ctx context.Context, host string) (*ssh.Client, error) {
	c.mu.Lock()
	if client, ok := c.clients[host]; ok {
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	auth := []ssh.AuthMethod{}
	if c.signer != nil {
		auth = append(auth, ssh.PublicKeys(c.signer))
	}

	cfg := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", c.cfg.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errors.New(errors.CodeTransportError, "exec: dial host").
			WithComponent(host).WithCause(err)
	}

	c.mu.Lock()
	c.clients[host] = client
	c.mu.Unlock()
	return client, nil
}

func (c *SSHChannel) dropClient(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[host]; ok {
		client.Close()
		delete(c.clients, host)
	}
}

// Close closes every cached connection.
func (c *SSHChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for host, client := range c.clients {
		if err := client.Close(); err != nil {
			lastErr = err
		}
		delete(c.clients, host)
	}
	return lastErr
}
