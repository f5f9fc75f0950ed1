package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoAuth is returned when a target has neither a password nor a key.
var ErrNoAuth = errors.New("session: no password or private key")

const terminalType = "xterm-256color"

// Target is an SSH destination with its credentials in clear text.
type Target struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPath string
}

// Addr returns host:port, defaulting the port to 22.
func (t Target) Addr() string {
	port := t.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t Target) label() string {
	if t.User == "" {
		return t.Addr()
	}
	return t.User + "@" + t.Addr()
}

// OpenSSH connects to t, starts an interactive shell on a pty and registers
// the session.
func (m *Manager) OpenSSH(ctx context.Context, t Target, size Size) (string, error) {
	cfg, err := m.clientConfig(t)
	if err != nil {
		return "", err
	}

	client, err := dialSSH(ctx, t.Addr(), cfg, m.opts.DialTimeout)
	if err != nil {
		sessionLog.Warn("ssh_connect_failed",
			slog.String("target", t.label()),
			slog.String("error", err.Error()))
		return "", err
	}

	conn, err := startShell(client, size.orDefault())
	if err != nil {
		_ = client.Close()
		return "", err
	}
	return m.Adopt(KindSSH, t.label(), conn), nil
}

func (m *Manager) clientConfig(t Target) (*ssh.ClientConfig, error) {
	auth, err := authMethods(t)
	if err != nil {
		return nil, err
	}
	hostKey, err := m.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         m.opts.DialTimeout,
	}, nil
}

func (m *Manager) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if m.opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := m.opts.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("session: locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("session: load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

func authMethods(t Target) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if t.PrivateKeyPath != "" {
		signer, err := loadSigner(t.PrivateKeyPath, t.Password)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.Password != "" {
		password := t.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}))
	}
	if len(methods) == 0 {
		return nil, ErrNoAuth
	}
	return methods, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("session: parse private key: %w", err)
	}
	return signer, nil
}

func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = raw.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("session: handshake %s: %w", addr, err)
	}
	_ = raw.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

type sshConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func startShell(client *ssh.Client, size Size) (*sshConn, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("session: open channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(terminalType, size.Rows, size.Cols, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("session: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("session: stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("session: stdout: %w", err)
	}
	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("session: start shell: %w", err)
	}
	return &sshConn{client: client, session: sess, stdin: stdin, stdout: stdout}, nil
}

func (c *sshConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sshConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sshConn) Resize(size Size) error {
	return c.session.WindowChange(size.Rows, size.Cols)
}

func (c *sshConn) Close() error {
	_ = c.session.Close()
	return c.client.Close()
}
