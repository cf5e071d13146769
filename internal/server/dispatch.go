package server

import (
	"fmt"
	"log/slog"

	"github.com/cruciblehq/tapdiskd/internal/protocol"
)

// Handles one request on a connection.
//
// The handler owns the response. It may release the connection itself; the
// request loop releases it afterwards in any case.
type handlerFunc func(s *Server, conn *Connection, req *protocol.Message)

// Dispatch behavior of a message type.
type messageFlags uint8

const (

	// May run while another handler is in progress. Handlers without this
	// flag hold the server busy until they return.
	flagReentrant messageFlags = 1 << iota

	// Receipt is logged at info level.
	flagVerbose
)

type dispatchEntry struct {
	handler handlerFunc
	flags   messageFlags
}

// Request types the server accepts. Anything else is answered with EINVAL.
var dispatchTable = map[protocol.Type]dispatchEntry{
	protocol.TypePID:        {(*Server).handlePID, flagReentrant},
	protocol.TypeList:       {(*Server).handleList, flagReentrant},
	protocol.TypeListMinors: {(*Server).handleListMinors, flagReentrant},
	protocol.TypeAttach:     {(*Server).handleAttach, flagVerbose},
	protocol.TypeDetach:     {(*Server).handleDetach, flagVerbose},
	protocol.TypeOpen:       {(*Server).handleOpen, flagVerbose},
	protocol.TypePause:      {(*Server).handlePause, flagVerbose},
	protocol.TypeResume:     {(*Server).handleResume, flagVerbose},
	protocol.TypeClose:      {(*Server).handleClose, flagVerbose},
}

// Reads and dispatches one request from a readable connection.
//
// A read failure, including a peer that sends nothing within the I/O
// timeout, closes the connection without a response. Requests arriving on
// a connection whose handler is still running, and non-reentrant requests
// arriving while another one is in progress, are rejected with EBUSY.
func (s *Server) handleRequest(conn *Connection) {
	req, err := protocol.ReadMessage(conn.fd, s.timeout)
	if err != nil {
		slog.Debug("closing control connection", "error", err)
		s.pool.release(conn)
		return
	}

	if conn.busy {
		s.reject(conn, req, ErrConnectionBusy)
		return
	}

	if err := req.Validate(); err != nil {
		s.reject(conn, req, err)
		return
	}

	if !req.Type.Valid() {
		s.reject(conn, req, fmt.Errorf("%w: type %d out of range", ErrUnsupportedMessage, uint16(req.Type)))
		return
	}

	entry, ok := dispatchTable[req.Type]
	if !ok {
		s.reject(conn, req, fmt.Errorf("%w: no handler for %s", ErrUnsupportedMessage, req.Type))
		return
	}

	if entry.flags&flagVerbose != 0 {
		slog.Info("received message", "type", req.Type, "cookie", req.Cookie)
	}

	exclusive := entry.flags&flagReentrant == 0
	if exclusive {
		if s.busy {
			s.reject(conn, req, ErrBusy)
			return
		}
		s.busy = true
	}

	conn.busy = true
	entry.handler(s, conn, req)
	conn.busy = false

	if exclusive {
		s.busy = false
	}

	s.pool.release(conn)
}

// Answers req with a generic error response and releases the connection.
func (s *Server) reject(conn *Connection, req *protocol.Message, err error) {
	slog.Warn("rejecting message", "type", req.Type, "cookie", req.Cookie, "error", err)

	rsp := &protocol.Response{Error: Errno(err)}
	rsp.SetMessage(err.Error())

	s.respond(conn, protocol.NewResponse(protocol.TypeError, req.Cookie, rsp))
	s.pool.release(conn)
}
