package paths

import (
	"os"
	"strings"
	"testing"
)

func TestSocket(t *testing.T) {
	tests := []struct {
		dir  string
		pid  int
		want string
	}{
		{DefaultControlDir, 1234, "/var/run/blktap-control/ctl1234"},
		{"/tmp/x", 1, "/tmp/x/ctl1"},
		{"/tmp/x/", 42, "/tmp/x/ctl42"},
	}

	for _, tt := range tests {
		if got := Socket(tt.dir, tt.pid); got != tt.want {
			t.Fatalf("Socket(%q, %d) = %q, want %q", tt.dir, tt.pid, got, tt.want)
		}
	}
}

func TestControlDir(t *testing.T) {
	dir := ControlDir()
	if os.Geteuid() == 0 {
		if dir != DefaultControlDir {
			t.Fatalf("ControlDir() = %q, want %q", dir, DefaultControlDir)
		}
		return
	}
	if dir != Runtime() {
		t.Fatalf("ControlDir() = %q, want %q", dir, Runtime())
	}
}

func TestRuntimeNamed(t *testing.T) {
	if !strings.Contains(Runtime(), daemonName) {
		t.Fatalf("Runtime() = %q does not contain %q", Runtime(), daemonName)
	}
}
