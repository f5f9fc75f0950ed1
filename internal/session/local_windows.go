//go:build windows
// +build windows

package session

import (
	"context"
	"errors"
)

// OpenLocal is not supported on Windows.
func (m *Manager) OpenLocal(ctx context.Context, shell string, size Size) (string, error) {
	return "", errors.New("session: local shells are not supported on windows")
}
