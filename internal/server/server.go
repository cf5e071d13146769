package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/cruciblehq/tapdiskd/internal/paths"
	"github.com/cruciblehq/tapdiskd/internal/protocol"
	"github.com/cruciblehq/tapdiskd/internal/scheduler"
	"github.com/cruciblehq/tapdiskd/internal/vbd"
	"golang.org/x/sys/unix"
)

const (

	// Group name used to grant socket access. Members of this group can
	// drive the daemon without owning the process.
	socketGroup = "disk"

	// File mode applied to the control socket. Owner and group get
	// read-write (required for connect); others get no access.
	socketMode = 0660
)

// Event loop the server registers its descriptors with.
//
// RunOnce is reentrant: handlers call it while waiting for a VBD to become
// ready, which lets other connections be served in the meantime.
type EventLoop interface {
	Register(fd int, mode scheduler.Mode, cb scheduler.Callback) (scheduler.EventID, error)
	Unregister(id scheduler.EventID)
	RunOnce() error
}

// VBD operations driven by the lifecycle handlers.
type Runtime interface {
	Create(id int) (*vbd.VBD, error)
	Attach(v *vbd.VBD, devicePath string, minor int) error
	Detach(v *vbd.VBD)
	OpenImage(v *vbd.VBD, req vbd.OpenRequest) error
	CloseImage(v *vbd.VBD) error
	ImageInfo(v *vbd.VBD) (vbd.ImageInfo, error)
	Pause(v *vbd.VBD) error
	Resume(v *vbd.VBD, target *vbd.Target) error
}

// Set of live VBDs.
type Registry interface {
	Lookup(id int) *vbd.VBD
	Insert(v *vbd.VBD) error
	Remove(v *vbd.VBD) bool
	All() []*vbd.VBD
}

// Holds server configuration.
type Config struct {
	Loop       EventLoop     // Event loop driving the server. Required.
	SocketDir  string        // Directory for the control socket. Empty uses [paths.ControlDir].
	IOTimeout  time.Duration // Per-message read and write deadline. Zero uses [protocol.DefaultTimeout].
	Runtime    Runtime       // VBD runtime. Nil uses [vbd.NewRawRuntime].
	Registry   Registry      // VBD registry. Nil uses [vbd.NewRegistry].
	RingPrefix string        // Prefix of ring device paths. Empty uses [blktap.RingDevicePrefix].
}

// Control server of a tapdisk process.
//
// All state is owned by the goroutine running the event loop. Handlers run
// to completion inside scheduler callbacks and are only interleaved where
// they re-enter the loop.
type Server struct {
	loop       EventLoop
	runtime    Runtime
	registry   Registry
	pool       *pool
	socketDir  string
	socketPath string
	ringPrefix string
	timeout    time.Duration
	fd         int               // Listening socket, -1 when not started.
	event      scheduler.EventID // Accept registration.
	busy       bool              // Whether a non-reentrant handler is running.
	startedAt  time.Time
}

// Creates a new server instance.
//
// The socket is not opened until [Server.Start] is called.
func New(cfg Config) (*Server, error) {
	if cfg.Loop == nil {
		return nil, fmt.Errorf("%w: event loop is required", ErrInvalidConfig)
	}

	socketDir := cfg.SocketDir
	if socketDir == "" {
		socketDir = paths.ControlDir()
	}

	timeout := cfg.IOTimeout
	if timeout <= 0 {
		timeout = protocol.DefaultTimeout
	}

	rt := cfg.Runtime
	if rt == nil {
		rt = vbd.NewRawRuntime()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = vbd.NewRegistry()
	}

	return &Server{
		loop:       cfg.Loop,
		runtime:    rt,
		registry:   registry,
		pool:       newPool(cfg.Loop),
		socketDir:  socketDir,
		socketPath: paths.Socket(socketDir, os.Getpid()),
		ringPrefix: cfg.RingPrefix,
		timeout:    timeout,
		fd:         -1,
	}, nil
}

// Returns the path of the control socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Returns the number of open control connections.
func (s *Server) Connections() int {
	return s.pool.len()
}

// Whether a non-reentrant request is in progress.
func (s *Server) Busy() bool {
	return s.busy
}

// Opens the control socket and registers it with the event loop.
func (s *Server) Start() error {
	if s.fd >= 0 {
		return nil
	}

	if err := os.MkdirAll(s.socketDir, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrServer, err)
	}

	fd, err := listen(s.socketPath)
	if err != nil {
		return err
	}

	id, err := s.loop.Register(fd, scheduler.ModeRead, s.accept)
	if err != nil {
		unix.Close(fd)
		os.Remove(s.socketPath)
		return fmt.Errorf("%w: register control socket: %w", ErrServer, err)
	}

	s.fd = fd
	s.event = id
	s.startedAt = time.Now()

	slog.Info("server listening on socket", "path", s.socketPath)

	return nil
}

// Creates the listening socket, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (int, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return -1, fmt.Errorf("%w: remove stale socket %s: %w", ErrServer, socketPath, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: socket: %w", ErrServer, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: socketPath}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%w: bind %s: %w", ErrServer, socketPath, err)
	}

	if err := unix.Listen(fd, MaxConnections); err != nil {
		unix.Close(fd)
		os.Remove(socketPath)
		return -1, fmt.Errorf("%w: listen on %s: %w", ErrServer, socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		unix.Close(fd)
		os.Remove(socketPath)
		return -1, err
	}

	return fd, nil
}

// Restricts socket access to owner and group.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return fmt.Errorf("%w: chmod socket %s: %w", ErrServer, socketPath, err)
	}

	if g, err := user.LookupGroup(socketGroup); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			if err := os.Chown(socketPath, -1, gid); err != nil {
				slog.Debug("failed to chgrp socket", "group", socketGroup, "error", err)
			}
		}
	} else {
		slog.Debug("socket group not found, socket accessible to owner only", "group", socketGroup)
	}

	return nil
}

// Shuts down the server and cleans up resources.
//
// Open connections are closed and the socket file is removed. VBDs are left
// in the registry.
func (s *Server) Stop() error {
	if s.fd < 0 {
		return nil
	}

	s.loop.Unregister(s.event)
	s.event = 0

	s.pool.releaseAll()

	err := unix.Close(s.fd)
	s.fd = -1

	os.Remove(s.socketPath)

	slog.Info("server stopped", "uptime", time.Since(s.startedAt).Round(time.Second))

	if err != nil {
		return fmt.Errorf("%w: close control socket: %w", ErrServer, err)
	}
	return nil
}

// Accepts one pending connection.
func (s *Server) accept(scheduler.EventID, scheduler.Mode) {
	fd, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			slog.Error("accept error", "error", err)
		}
		return
	}

	conn, err := s.pool.allocate(fd)
	if err != nil {
		slog.Error("rejecting control connection", "error", err)
		unix.Close(fd)
		return
	}

	id, err := s.loop.Register(fd, scheduler.ModeRead, func(scheduler.EventID, scheduler.Mode) {
		s.handleRequest(conn)
	})
	if err != nil {
		slog.Error("failed to register control connection", "error", err)
		s.pool.release(conn)
		return
	}
	conn.event = id
}

// Sends msg on the connection. Failures are logged; the caller still owns
// the connection.
func (s *Server) respond(conn *Connection, msg *protocol.Message) {
	if err := protocol.WriteMessage(conn.fd, msg, s.timeout); err != nil {
		slog.Warn("failed to write response", "type", msg.Type, "cookie", msg.Cookie, "error", err)
	}
}

// Runs one iteration of the event loop on behalf of a waiting handler.
func (s *Server) iterate() error {
	if err := s.loop.RunOnce(); err != nil {
		return fmt.Errorf("%w: event loop: %w", ErrServer, err)
	}
	return nil
}
