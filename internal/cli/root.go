package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/cruciblehq/tapdiskd/internal"
	"github.com/cruciblehq/tapdiskd/internal/paths"
	"golang.org/x/term"
)

// Represents the root command for the tapdiskd daemon.
var RootCmd struct {
	Quiet     bool       `short:"q" help:"Suppress informational output."`
	Verbose   bool       `short:"v" help:"Enable verbose output."`
	Debug     bool       `short:"d" help:"Enable debug output."`
	SocketDir string     `short:"s" name:"socket-dir" help:"Override the control socket directory." placeholder:"DIR"`
	Start     StartCmd   `cmd:"" help:"Start the daemon."`
	Ctl       CtlCmd     `cmd:"" help:"Send a control request to a running daemon."`
	Version   VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("The tapdisk control daemon.\n\nManages virtual block devices over a Unix domain control socket."),
		kong.UsageOnError(),
		kong.Vars{
			"version":    internal.VersionString(),
			"io_timeout": ioTimeoutDefault,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Returns the control socket directory selected by flags.
func socketDir() string {
	if RootCmd.SocketDir != "" {
		return RootCmd.SocketDir
	}
	return paths.ControlDir()
}

// Rebuilds the global logger based on CLI flags.
//
// Terminals get the text format; anything else (journald, files, pipes) gets
// one JSON object per line.
func configureLogger() {
	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	internal.SetDebug(debug)
	internal.SetQuiet(quiet)
	internal.SetVerbose(verbose)

	slog.SetDefault(slog.New(newHandler(os.Stderr, logLevel(debug, quiet), verbose)).WithGroup(internal.Name))
}

// Creates the log handler for stream.
func newHandler(stream *os.File, level slog.Level, verbose bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	}

	if isatty(stream) {
		return slog.NewTextHandler(stream, opts)
	}
	return slog.NewJSONHandler(stream, opts)
}

// Returns the log level for the given modes. Debug wins over quiet.
func logLevel(debug, quiet bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	if quiet {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Whether the given file is an interactive terminal.
func isatty(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
