// Package hostcheck confirms interface bindings directly on the
// virtualization host, bypassing the REST control plane.
//
// It opens an SSH session to the host and invokes the host-native CLI to
// list a node's interfaces, returning the same snapshot shape as the REST
// query so the two sources can be compared field by field. It is a
// corroboration channel: its output annotates verification results and is
// never the sole basis for a status.
package hostcheck

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
)

const defaultTimeout = 15 * time.Second

// Checker runs interface queries on the virtualization host over SSH.
type Checker struct {
	addr    string // "host:22"
	config  *ssh.ClientConfig
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout sets the per-query timeout (dial + exec).
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// New creates a Checker for the host at addr ("host" or "host:port")
// authenticating as user with the given methods.
func New(addr, user string, auth []ssh.AuthMethod, opts ...Option) *Checker {
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	c := &Checker{
		addr: addr,
		config: &ssh.ClientConfig{
			User: user,
			Auth: auth,
			// Lab environment — production would verify host keys.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         5 * time.Second,
		},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewWithPassword creates a password-authenticated Checker.
func NewWithPassword(addr, user, pass string, opts ...Option) *Checker {
	return New(addr, user, []ssh.AuthMethod{ssh.Password(pass)}, opts...)
}

// NewWithKeyFile creates a Checker authenticating with a private key file.
func NewWithKeyFile(addr, user, keyPath string, opts ...Option) (*Checker, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("hostcheck: read key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("hostcheck: parse key %s: %w", keyPath, err)
	}
	return New(addr, user, []ssh.AuthMethod{ssh.PublicKeys(signer)}, opts...), nil
}

// NodeInterfaces queries the host CLI for one node's interface bindings and
// returns them keyed by interface index, matching the REST snapshot shape.
func (c *Checker) NodeInterfaces(ctx context.Context, lab string, node controlplane.NodeID) (controlplane.InterfaceSnapshot, error) {
	cmd := fmt.Sprintf("vhostctl node-interfaces --lab %s --node %d", shellQuote(lab), node)
	out, err := c.run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("hostcheck: node %d: %w", node, err)
	}
	snap, err := parseInterfaces(out)
	if err != nil {
		return nil, fmt.Errorf("hostcheck: node %d: %w", node, err)
	}
	return snap, nil
}

// run dials the host and executes one command, honoring ctx and the
// configured timeout. x/crypto/ssh has no context support, so the session is
// torn down from a watcher goroutine on cancellation.
func (c *Checker) run(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := ssh.Dial("tcp", c.addr, c.config)
	if err != nil {
		return "", fmt.Errorf("ssh dial %s: %w", c.addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		client.Close()
		<-done
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return string(r.out), fmt.Errorf("ssh exec %q: %w", cmd, r.err)
		}
		return string(r.out), nil
	}
}

// shellQuote wraps a string in single quotes, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
