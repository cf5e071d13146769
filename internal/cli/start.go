package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/cruciblehq/tapdiskd/internal/protocol"
	"github.com/cruciblehq/tapdiskd/internal/scheduler"
	"github.com/cruciblehq/tapdiskd/internal/server"
)

// Represents the 'tapdiskd start' command.
type StartCmd struct {
	IOTimeout time.Duration `name:"io-timeout" help:"Deadline for reading or writing one control message." default:"${io_timeout}"`
	Tick      time.Duration `name:"tick" help:"Upper bound on one event loop wait." default:"1s"`
}

// Executes the start command.
//
// Serves the control socket from the event loop and blocks until the context
// is cancelled (e.g. via SIGINT or SIGTERM).
func (c *StartCmd) Run(ctx context.Context) error {
	sched, err := scheduler.New(scheduler.WithTimeout(c.Tick))
	if err != nil {
		return err
	}
	defer sched.Close()

	srv, err := server.New(server.Config{
		Loop:      sched,
		SocketDir: RootCmd.SocketDir,
		IOTimeout: c.IOTimeout,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("tapdiskd is running", "pid", os.Getpid(), "socket", srv.SocketPath())

	runErr := sched.Run(ctx)

	slog.Info("shutting down")
	return errors.Join(runErr, srv.Stop())
}

// Default for the --io-timeout flag.
var ioTimeoutDefault = protocol.DefaultTimeout.String()
