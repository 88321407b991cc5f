package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var errEmptyCommand = errors.New("empty command")

func SSHKey(filename string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(keyData)
}

func PublicKeyFile(filename string) (ssh.AuthMethod, error) {
	key, err := SSHKey(filename)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(key), nil
}

// SSHClientConfig returns a client configuration that authenticates user with
// the private key in keyFile and verifies the server against knownHosts.
func SSHClientConfig(user, keyFile, knownHosts string) (*ssh.ClientConfig, error) {
	auth, err := PublicKeyFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("ssh identity %v: %w", keyFile, err)
	}
	hostKeyCallback, err := knownhosts.New(knownHosts)
	if err != nil {
		return nil, fmt.Errorf("known hosts %v: %w", knownHosts, err)
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, nil
}

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellQuote joins argv into a single POSIX shell command line.
func ShellQuote(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		if safeArg.MatchString(a) {
			quoted = append(quoted, a)
			continue
		}
		quoted = append(quoted,
			"'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(quoted, " ")
}

// SSHRunner runs commands on a remote host.  The connection is established
// on first use and reestablished after a transport failure.
type SSHRunner struct {
	sync.Mutex

	address string
	config  *ssh.ClientConfig
	client  *ssh.Client
}

// NewSSHRunner returns a runner for address (host:port).
func NewSSHRunner(address string, config *ssh.ClientConfig) *SSHRunner {
	return &SSHRunner{
		address: address,
		config:  config,
	}
}

func (r *SSHRunner) connect(ctx context.Context) (*ssh.Client, error) {
	r.Lock()
	defer r.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	dialer := net.Dialer{Timeout: r.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.address)
	if err != nil {
		return nil, fmt.Errorf("dial %v: %w", r.address, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, r.address,
		r.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake %v: %w", r.address, err)
	}
	r.client = ssh.NewClient(sshConn, chans, reqs)
	return r.client, nil
}

// reset drops client so that the next Run reconnects.
func (r *SSHRunner) reset(client *ssh.Client) {
	r.Lock()
	defer r.Unlock()

	if r.client == client {
		r.client.Close()
		r.client = nil
	}
}

// Run executes argv on the remote host and waits for it to exit.  A remote
// non-zero exit is returned as an *ssh.ExitError.
func (r *SSHRunner) Run(ctx context.Context, argv []string) ([]byte, []byte, error) {
	if len(argv) == 0 {
		return nil, nil, errEmptyCommand
	}

	client, err := r.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		r.reset(client)
		return nil, nil, fmt.Errorf("session %v: %w", r.address, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Signal(ssh.SIGKILL)
			session.Close()
		case <-done:
		}
	}()

	err = session.Run(ShellQuote(argv))
	if err != nil {
		var (
			exitErr    *ssh.ExitError
			missingErr *ssh.ExitMissingError
		)
		if !errors.As(err, &exitErr) && !errors.As(err, &missingErr) {
			r.reset(client)
		}
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// Close closes the connection, if any.
func (r *SSHRunner) Close() error {
	r.Lock()
	defer r.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
