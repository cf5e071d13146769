// Implements the control plane of a tapdisk process.
//
// The server listens on a Unix domain socket named after the process id and
// accepts up to [MaxConnections] concurrent clients. Each connection carries
// fixed-size request records (see the protocol package); the server reads a
// request, dispatches it to the handler for its type, writes the response,
// and closes the connection.
//
// Everything runs on one goroutine, inside callbacks of the event loop.
// Handlers that must wait for a VBD (pause, close) re-enter the loop through
// [EventLoop.RunOnce], so other connections keep being served. To keep such
// nested requests from corrupting state, at most one non-reentrant request
// is in progress at a time; pid, list, and list-minors may run alongside it.
//
// Example usage:
//
//	sched, err := scheduler.New()
//	if err != nil {
//		return err
//	}
//	defer sched.Close()
//
//	srv, err := server.New(server.Config{Loop: sched})
//	if err != nil {
//		return err
//	}
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Stop()
//
//	return sched.Run(ctx)
package server
