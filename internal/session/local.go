//go:build !windows
// +build !windows

package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// OpenLocal starts shell under a pty and registers the session. An empty
// shell falls back to $SHELL, then /bin/sh.
func (m *Manager) OpenLocal(ctx context.Context, shell string, size Size) (string, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	conn, err := startPTY(ctx, shell, size.orDefault())
	if err != nil {
		return "", err
	}
	return m.Adopt(KindLocal, filepath.Base(shell), conn), nil
}

type ptyConn struct {
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
	closeErr  error
}

func startPTY(ctx context.Context, shell string, size Size) (*ptyConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM="+terminalType)

	ptmx, err := pty.StartWithSize(cmd, winsize(size))
	if err != nil {
		return nil, fmt.Errorf("session: start pty: %w", err)
	}
	return &ptyConn{cmd: cmd, ptmx: ptmx}, nil
}

func winsize(size Size) *pty.Winsize {
	return &pty.Winsize{Cols: uint16(size.Cols), Rows: uint16(size.Rows)}
}

func (c *ptyConn) Read(p []byte) (int, error)  { return c.ptmx.Read(p) }
func (c *ptyConn) Write(p []byte) (int, error) { return c.ptmx.Write(p) }

func (c *ptyConn) Resize(size Size) error {
	if size.Cols <= 0 || size.Rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", size.Cols, size.Rows)
	}
	return pty.Setsize(c.ptmx, winsize(size))
}

func (c *ptyConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ptmx.Close()
		if c.cmd.Process != nil {
			if pgid, err := syscall.Getpgid(c.cmd.Process.Pid); err == nil {
				_ = syscall.Kill(-pgid, syscall.SIGHUP)
			} else {
				_ = c.cmd.Process.Kill()
			}
		}
		_ = c.cmd.Wait()
	})
	return c.closeErr
}
