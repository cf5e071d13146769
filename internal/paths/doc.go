// Provides the filesystem locations used by the daemon.
//
// The control directory defaults to the system-wide blktap location. Processes
// without permission to create it fall back to a per-user directory under
// $XDG_RUNTIME_DIR, so unprivileged test runs do not need root.
package paths
