// Parses flags and configures logging for the tapdiskd daemon.
//
// The daemon accepts the following global flags:
//
//	-q, --quiet        Suppress informational output.
//	-v, --verbose      Enable verbose output.
//	-d, --debug        Enable debug output.
//	-s, --socket-dir   Directory holding control sockets.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is rebuilt to reflect the final level and output format
// before the selected command runs.
//
// Besides starting the daemon, the ctl commands talk to a running one:
//
//	tapdiskd ctl --pid 1234 attach 3
//	tapdiskd ctl --pid 1234 open 3 aio:/srv/disk.img --readonly
//	tapdiskd ctl --pid 1234 list
package cli
