package paths

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	daemonName = "tapdiskd"

	// System-wide directory holding control sockets.
	DefaultControlDir = "/var/run/blktap-control"

	// Prefix of the control socket file name, followed by the process id.
	SocketPrefix = "ctl"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755
)

// Path to the per-user directory for runtime files.
//
//	Linux:   $XDG_RUNTIME_DIR/tapdiskd or /run/user/<uid>/tapdiskd
//	macOS:   ~/Library/Caches/tapdiskd/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, daemonName)
	}
	return filepath.Join(xdg.CacheHome, daemonName, "run")
}

// Directory holding control sockets.
//
// Root uses [DefaultControlDir]; everyone else uses [Runtime].
func ControlDir() string {
	if os.Geteuid() == 0 {
		return DefaultControlDir
	}
	return Runtime()
}

// Path to the control socket of the process pid inside dir.
//
//	/var/run/blktap-control/ctl1234
func Socket(dir string, pid int) string {
	return filepath.Join(dir, SocketPrefix+strconv.Itoa(pid))
}
