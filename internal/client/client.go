package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cruciblehq/tapdiskd/internal/paths"
	"github.com/cruciblehq/tapdiskd/internal/protocol"
	"golang.org/x/sys/unix"
)

// Client of one control socket.
type Client struct {
	socket  string
	timeout time.Duration
}

// Configures a [Client].
type Option func(*Client)

// Sets the deadline for sending a request and for receiving the response of
// requests that complete immediately. Pause and close wait for the server
// without a deadline unless the context carries one.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Creates a client for the control socket at path.
func New(socket string, opts ...Option) *Client {
	c := &Client{socket: socket, timeout: protocol.DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Creates a client for the daemon with the given pid, whose socket lives in
// dir.
func ForPID(dir string, pid int, opts ...Option) *Client {
	return New(paths.Socket(dir, pid), opts...)
}

// Returns the path of the control socket.
func (c *Client) Socket() string {
	return c.socket
}

// One listed VBD.
type Entry struct {
	Minor int
	State int32
	Path  string // "type:path" of the open image, empty when none.
}

// Geometry of an opened image.
type Image struct {
	Sectors    uint64
	SectorSize uint32
	Info       uint32
}

// Optional parameters of [Client.Open].
type OpenOptions struct {
	Flags     uint32 // Bitmask of protocol.Flag* values.
	Secondary string // "type:path" of a mirror; sets protocol.FlagSecondary.
	Storage   uint32 // Backing storage hint.
	ParentDev uint32 // Device number of a reusable parent.
}

// Returns the process id of the daemon.
func (c *Client) PID(ctx context.Context) (int, error) {
	rsp, err := c.call(ctx, protocol.NewRequest(protocol.TypePID, 0, nil), protocol.TypePIDResponse, false)
	if err != nil {
		return 0, err
	}
	return int(rsp.Body.(*protocol.PID).Value), nil
}

// Returns all VBDs in registration order.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	conn, err := c.send(ctx, protocol.NewRequest(protocol.TypeList, 0, nil), false)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var entries []Entry
	for {
		rsp, err := receive(conn, protocol.TypeListResponse)
		if err != nil {
			return nil, err
		}

		e := rsp.Body.(*protocol.ListEntry)
		if e.Minor == -1 {
			return entries, nil
		}
		entries = append(entries, Entry{Minor: int(e.Minor), State: e.State, Path: e.PathString()})
	}
}

// Returns the device minors of all VBDs.
func (c *Client) ListMinors(ctx context.Context) ([]int, error) {
	rsp, err := c.call(ctx, protocol.NewRequest(protocol.TypeListMinors, 0, nil), protocol.TypeListMinorsResponse, false)
	if err != nil {
		return nil, err
	}

	values := rsp.Body.(*protocol.Minors).Values()
	minors := make([]int, len(values))
	for i, v := range values {
		minors[i] = int(v)
	}
	return minors, nil
}

// Creates VBD id and binds it to the ring device with the same minor.
func (c *Client) Attach(ctx context.Context, id int) error {
	return c.lifecycle(ctx, protocol.TypeAttach, protocol.TypeAttachResponse, id, &protocol.Params{}, false)
}

// Unbinds VBD id from its ring device.
func (c *Client) Detach(ctx context.Context, id int) error {
	return c.lifecycle(ctx, protocol.TypeDetach, protocol.TypeDetachResponse, id, &protocol.Params{}, false)
}

// Opens the image named by path ("type:path") on VBD id.
func (c *Client) Open(ctx context.Context, id int, path string, opts OpenOptions) (Image, error) {
	params, err := protocol.NewParams(path, opts.Flags)
	if err != nil {
		return Image{}, err
	}
	params.Storage = opts.Storage
	params.ParentDev = opts.ParentDev

	if opts.Secondary != "" {
		if err := params.SetSecondary(opts.Secondary); err != nil {
			return Image{}, err
		}
		params.Flags |= protocol.FlagSecondary
	}

	rsp, err := c.call(ctx, protocol.NewRequest(protocol.TypeOpen, uint32(int32(id)), params), protocol.TypeOpenResponse, false)
	if err != nil {
		return Image{}, err
	}

	im := rsp.Body.(*protocol.Image)
	return Image{Sectors: im.Sectors, SectorSize: im.SectorSize, Info: im.Info}, nil
}

// Removes the block device of VBD id and closes its image.
func (c *Client) Close(ctx context.Context, id int) error {
	return c.lifecycle(ctx, protocol.TypeClose, protocol.TypeCloseResponse, id, &protocol.Params{}, true)
}

// Pauses VBD id, waiting for its in-flight requests to drain.
func (c *Client) Pause(ctx context.Context, id int) error {
	return c.lifecycle(ctx, protocol.TypePause, protocol.TypePauseResponse, id, &protocol.Params{}, true)
}

// Resumes VBD id. A non-empty path reopens it on that image.
func (c *Client) Resume(ctx context.Context, id int, path string) error {
	params, err := protocol.NewParams(path, 0)
	if err != nil {
		return err
	}
	return c.lifecycle(ctx, protocol.TypeResume, protocol.TypeResumeResponse, id, params, false)
}

// Sends a lifecycle request and checks its status response.
func (c *Client) lifecycle(ctx context.Context, t, want protocol.Type, id int, params *protocol.Params, wait bool) error {
	rsp, err := c.call(ctx, protocol.NewRequest(t, uint32(int32(id)), params), want, wait)
	if err != nil {
		return err
	}
	return statusError(rsp)
}

// Sends req and reads a single response of type want.
func (c *Client) call(ctx context.Context, req *protocol.Message, want protocol.Type, wait bool) (*protocol.Message, error) {
	conn, err := c.send(ctx, req, wait)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return receive(conn, want)
}

// Dials the socket and writes req.
//
// Cancelling ctx interrupts any later read on the returned connection.
// Unless wait is set, reads are also bounded by the client timeout.
func (c *Client) send(ctx context.Context, req *protocol.Message, wait bool) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClient, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok && !wait {
		deadline = time.Now().Add(c.timeout)
	}
	conn.SetDeadline(deadline)

	if !ok && wait {
		conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	ex := &exchange{Conn: conn}
	ex.stop = context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })

	if err := protocol.Encode(conn, req); err != nil {
		ex.Close()
		return nil, fmt.Errorf("%w: send %s: %w", ErrClient, req.Type, err)
	}
	return ex, nil
}

// Connection carrying one request, interrupted when its context ends.
type exchange struct {
	net.Conn
	stop func() bool
}

func (ex *exchange) Close() error {
	ex.stop()
	return ex.Conn.Close()
}

// Reads one response, turning an error response into an error.
func receive(conn net.Conn, want protocol.Type) (*protocol.Message, error) {
	rsp, err := protocol.Decode(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: receive %s: %w", ErrClient, want, err)
	}

	if rsp.Type == protocol.TypeError {
		if err := statusError(rsp); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRequest, unix.EINVAL)
	}

	if rsp.Type != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, rsp.Type, want)
	}
	return rsp, nil
}

// Returns the failure carried by a status response, if any.
func statusError(rsp *protocol.Message) error {
	r, ok := rsp.Response()
	if !ok || r.Error == 0 {
		return nil
	}

	errno := unix.Errno(r.Error)
	if msg := r.MessageString(); msg != "" {
		return fmt.Errorf("%w: %s: %s: %w", ErrRequest, rsp.Type, msg, errno)
	}
	return fmt.Errorf("%w: %s: %w", ErrRequest, rsp.Type, errno)
}
