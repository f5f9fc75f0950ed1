package session

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHServer is an in-process SSH server whose shell echoes its input.
type testSSHServer struct {
	addr    string
	port    int
	hostKey ssh.PublicKey
	ptySize chan Size
	resized chan Size
}

func newTestSSHServer(t *testing.T, clientKey ssh.PublicKey) *testSSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if c.User() == "deploy" && string(pw) == "s3cret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if clientKey != nil && bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := &testSSHServer{
		addr:    ln.Addr().String(),
		port:    ln.Addr().(*net.TCPAddr).Port,
		hostKey: signer.PublicKey(),
		ptySize: make(chan Size, 4),
		resized: make(chan Size, 4),
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, cfg)
		}
	}()
	return srv
}

func (s *testSSHServer) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, requests)
	}
}

func (s *testSSHServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var p struct {
				Term          string
				Cols, Rows    uint32
				Width, Height uint32
				Modes         string
			}
			if ssh.Unmarshal(req.Payload, &p) == nil {
				s.ptySize <- Size{Cols: int(p.Cols), Rows: int(p.Rows)}
			}
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go func() {
				_, _ = io.Copy(ch, ch)
				_ = ch.Close()
			}()
		case "window-change":
			var w struct {
				Cols, Rows    uint32
				Width, Height uint32
			}
			if ssh.Unmarshal(req.Payload, &w) == nil {
				s.resized <- Size{Cols: int(w.Cols), Rows: int(w.Rows)}
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func writeKnownHosts(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))
	return path
}

func readUntilContains(t *testing.T, out <-chan []byte, want string) {
	t.Helper()
	var got bytes.Buffer
	deadline := time.After(5 * time.Second)
	for !bytes.Contains(got.Bytes(), []byte(want)) {
		select {
		case chunk, ok := <-out:
			require.True(t, ok, "output closed before %q arrived (got %q)", want, got.String())
			got.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for %q (got %q)", want, got.String())
		}
	}
}

func TestOpenSSHPasswordSession(t *testing.T) {
	srv := newTestSSHServer(t, nil)
	m := NewManager(Options{KnownHostsPath: writeKnownHosts(t, srv.addr, srv.hostKey), DialTimeout: 5 * time.Second})
	defer m.Close()

	target := Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", Password: "s3cret"}
	id, err := m.OpenSSH(context.Background(), target, Size{Cols: 100, Rows: 30})
	require.NoError(t, err)

	info, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, KindSSH, info.Kind)
	assert.Equal(t, "deploy@127.0.0.1:"+strconv.Itoa(srv.port), info.Label)

	select {
	case size := <-srv.ptySize:
		assert.Equal(t, Size{Cols: 100, Rows: 30}, size)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw a pty request")
	}

	out, cancel, err := m.Output(id)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Write(id, []byte("hello over ssh")))
	readUntilContains(t, out, "hello over ssh")

	require.NoError(t, m.Resize(id, Size{Cols: 132, Rows: 43}))
	select {
	case size := <-srv.resized:
		assert.Equal(t, Size{Cols: 132, Rows: 43}, size)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw a window change")
	}

	m.RemoveSession(id)
	_, ok = m.Get(id)
	assert.False(t, ok)
}

func TestOpenSSHZeroSizeUsesDefault(t *testing.T) {
	srv := newTestSSHServer(t, nil)
	m := NewManager(Options{InsecureIgnoreHostKey: true})
	defer m.Close()

	_, err := m.OpenSSH(context.Background(), Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", Password: "s3cret"}, Size{})
	require.NoError(t, err)

	select {
	case size := <-srv.ptySize:
		assert.Equal(t, DefaultSize, size)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw a pty request")
	}
}

func TestOpenSSHPrivateKey(t *testing.T) {
	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	clientSigner, err := ssh.NewSignerFromKey(clientPriv)
	require.NoError(t, err)

	srv := newTestSSHServer(t, clientSigner.PublicKey())
	m := NewManager(Options{KnownHostsPath: writeKnownHosts(t, srv.addr, srv.hostKey)})
	defer m.Close()

	t.Run("plain key", func(t *testing.T) {
		block, err := ssh.MarshalPrivateKey(clientPriv, "test")
		require.NoError(t, err)
		keyPath := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

		id, err := m.OpenSSH(context.Background(), Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", PrivateKeyPath: keyPath}, Size{})
		require.NoError(t, err)
		m.RemoveSession(id)
	})

	t.Run("passphrase protected key", func(t *testing.T) {
		block, err := ssh.MarshalPrivateKeyWithPassphrase(clientPriv, "test", []byte("unlock"))
		require.NoError(t, err)
		keyPath := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

		_, err = m.OpenSSH(context.Background(), Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", PrivateKeyPath: keyPath}, Size{})
		require.Error(t, err, "no passphrase given")

		id, err := m.OpenSSH(context.Background(), Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", PrivateKeyPath: keyPath, Password: "unlock"}, Size{})
		require.NoError(t, err)
		m.RemoveSession(id)
	})
}

func TestOpenSSHRejectsUnknownHostKey(t *testing.T) {
	srv := newTestSSHServer(t, nil)

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)

	m := NewManager(Options{KnownHostsPath: writeKnownHosts(t, srv.addr, other.PublicKey())})
	defer m.Close()

	_, err = m.OpenSSH(context.Background(), Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", Password: "s3cret"}, Size{})
	require.Error(t, err)
	assert.Empty(t, m.List())
}

func TestOpenSSHWrongPassword(t *testing.T) {
	srv := newTestSSHServer(t, nil)
	m := NewManager(Options{KnownHostsPath: writeKnownHosts(t, srv.addr, srv.hostKey)})
	defer m.Close()

	_, err := m.OpenSSH(context.Background(), Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", Password: "nope"}, Size{})
	require.Error(t, err)
	assert.Empty(t, m.List())
}

func TestOpenSSHMissingKnownHosts(t *testing.T) {
	m := NewManager(Options{KnownHostsPath: filepath.Join(t.TempDir(), "absent")})
	defer m.Close()

	_, err := m.OpenSSH(context.Background(), Target{Host: "127.0.0.1", Port: 1, Password: "x"}, Size{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts")
}

func TestOpenSSHHonoursCancelledContext(t *testing.T) {
	srv := newTestSSHServer(t, nil)
	m := NewManager(Options{InsecureIgnoreHostKey: true})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.OpenSSH(ctx, Target{Host: "127.0.0.1", Port: srv.port, User: "deploy", Password: "s3cret"}, Size{})
	require.Error(t, err)
	assert.Empty(t, m.List())
}
