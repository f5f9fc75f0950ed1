package platform

import (
	"runtime"
	"testing"
)

func TestDetectIsCached(t *testing.T) {
	p := Detect()
	if p == "" {
		t.Fatal("Detect() returned empty platform")
	}
	if runtime.GOOS == "darwin" && p != PlatformMacOS {
		t.Errorf("Expected PlatformMacOS on darwin, got %s", p)
	}
	if p2 := Detect(); p != p2 {
		t.Errorf("Detect() not cached: got %s then %s", p, p2)
	}
}

func TestDetectPlatform(t *testing.T) {
	none := func(string) bool { return false }
	only := func(want string) func(string) bool {
		return func(p string) bool { return p == want }
	}

	tests := []struct {
		name        string
		goos        string
		distro      string
		procVersion string
		exists      func(string) bool
		want        Platform
	}{
		{"macos", "darwin", "", "", none, PlatformMacOS},
		{"windows", "windows", "", "", none, PlatformWindows},
		{"freebsd", "freebsd", "", "", none, PlatformUnknown},
		{"native linux", "linux", "", "Linux version 6.8.0-45-generic", none, PlatformLinux},
		{"wsl2 kernel", "linux", "Ubuntu", "Linux version 5.15.153.1-microsoft-standard-WSL2", none, PlatformWSL2},
		{"wsl1 kernel", "linux", "", "Linux version 4.4.0-19041-Microsoft", none, PlatformWSL1},
		{"wsl2 by path", "linux", "Ubuntu", "", only("/run/WSL"), PlatformWSL2},
		{"wsl2 by vsock", "linux", "Ubuntu", "", only("/dev/vsock"), PlatformWSL2},
		{"wsl unknown version", "linux", "Ubuntu", "", none, PlatformWSL1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectPlatform(tt.goos, tt.distro, tt.procVersion, tt.exists); got != tt.want {
				t.Errorf("detectPlatform = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("Platform(%s).String() = %s, want %s", tt.platform, got, tt.expected)
		}
	}
}

const sampleMounts = `/dev/sda1 / ext4 rw,relatime 0 0
proc /proc proc rw,nosuid 0 0
C:\134 /mnt/c 9p rw,dirsync 0 0
server:/export /home/alice/nfs nfs4 rw 0 0
//nas/share /mnt/share cifs rw 0 0
alice@box:/ /mnt/box fuse.sshfs rw 0 0
`

func TestMountFSType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/alice/.airlock/themes.json", "ext4"},
		{"/mnt/c/Users/alice/.airlock", "9p"},
		{"/mnt/c", "9p"},
		{"/mnt/cdrom/file", "ext4"},
		{"/home/alice/nfs/.airlock", "nfs4"},
		{"/mnt/share/x", "cifs"},
		{"/mnt/box/x", "fuse.sshfs"},
	}
	for _, tt := range tests {
		if got := mountFSType(tt.path, sampleMounts); got != tt.want {
			t.Errorf("mountFSType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
	if got := mountFSType("/x", ""); got != "" {
		t.Errorf("mountFSType with no mounts = %q", got)
	}
}

func TestFsnotifyWarning(t *testing.T) {
	for _, fsType := range []string{"9p", "nfs", "nfs4", "cifs", "smbfs", "fuse.sshfs"} {
		if fsnotifyWarning(fsType) == "" {
			t.Errorf("expected a warning for %s", fsType)
		}
	}
	for _, fsType := range []string{"", "ext4", "apfs", "tmpfs", "overlay"} {
		if w := fsnotifyWarning(fsType); w != "" {
			t.Errorf("unexpected warning for %s: %s", fsType, w)
		}
	}
}
