// Package platform detects the host OS flavour and filesystems where file
// change notifications are unreliable.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform. The result is computed once.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detectPlatform(runtime.GOOS, os.Getenv("WSL_DISTRO_NAME"), readFile("/proc/version"), exists)
	})
	return detected
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func detectPlatform(goos, wslDistro, procVersion string, pathExists func(string) bool) Platform {
	switch goos {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
	default:
		return PlatformUnknown
	}

	if wslDistro == "" && !strings.Contains(strings.ToLower(procVersion), "microsoft") {
		return PlatformLinux
	}

	// WSL2 kernels report "microsoft-standard"; WSL1 reports "Microsoft".
	switch {
	case strings.Contains(procVersion, "microsoft-standard"):
		return PlatformWSL2
	case strings.Contains(procVersion, "Microsoft"):
		return PlatformWSL1
	case pathExists("/run/WSL"), pathExists("/dev/vsock"):
		return PlatformWSL2
	}
	return PlatformWSL1
}

// IsWSL returns true if running in any WSL environment
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// FsnotifyWarning returns a warning when path lives on a filesystem that
// does not deliver change events reliably (9p, NFS, CIFS, SSHFS), or "".
func FsnotifyWarning(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return fsnotifyWarning(mountFSType(absPath, readFile("/proc/mounts")))
}

// mountFSType returns the filesystem type of the longest mount point in
// mounts (in /proc/mounts format) that contains absPath.
func mountFSType(absPath, mounts string) string {
	var matchedMount, matchedType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := fields[1], fields[2]
		if !within(absPath, mountPoint) {
			continue
		}
		if len(mountPoint) > len(matchedMount) {
			matchedMount, matchedType = mountPoint, fsType
		}
	}
	return matchedType
}

func within(path, mountPoint string) bool {
	if mountPoint == "/" || path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(mountPoint, "/")+"/")
}

func fsnotifyWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "on a 9p mount (WSL2 Windows filesystem): file changes are not reported, restart to pick up edits"
	case fsType == "nfs" || fsType == "nfs4":
		return "on an NFS mount: file change events may be missed"
	case fsType == "cifs" || fsType == "smbfs" || fsType == "smb3":
		return "on a CIFS/SMB mount: file change events may be missed"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "on an SSHFS mount: file changes are not reported, restart to pick up edits"
	}
	return ""
}
