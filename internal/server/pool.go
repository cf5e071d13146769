package server

import (
	"fmt"

	"github.com/cruciblehq/tapdiskd/internal/scheduler"
	"golang.org/x/sys/unix"
)

const (

	// Maximum number of simultaneously open control connections. Also used
	// as the listen backlog.
	MaxConnections = 32
)

// An accepted control connection.
type Connection struct {
	fd    int               // Socket descriptor, -1 once closed.
	event scheduler.EventID // Read-readiness registration, zero when none.
	busy  bool              // Whether a handler is running on this connection.
	inUse bool              // Whether the slot is allocated.
}

// Whether the socket is still open.
//
// Retry loops check this after every scheduler iteration; it turns false
// when the peer disconnects while a handler is waiting.
func (c *Connection) Valid() bool {
	return c.fd >= 0
}

// Fixed-capacity arena of connections with a stack of free slots.
//
// Slots below n in free are allocated; the rest are available. Allocation
// and release are O(1).
type pool struct {
	slots [MaxConnections]Connection
	free  [MaxConnections]*Connection
	n     int
	loop  EventLoop
}

// Creates a pool whose connections are registered with loop.
func newPool(loop EventLoop) *pool {
	p := &pool{loop: loop}
	for i := range p.slots {
		p.free[i] = &p.slots[i]
	}
	return p
}

// Takes a free slot for the socket fd.
//
// Fails with [ErrPoolExhausted] if all slots are in use.
func (p *pool) allocate(fd int) (*Connection, error) {
	if p.n >= MaxConnections {
		return nil, fmt.Errorf("%w: %d connections in use", ErrPoolExhausted, p.n)
	}

	c := p.free[p.n]
	p.n++

	*c = Connection{fd: fd, inUse: true}
	return c, nil
}

// Tears a connection down.
//
// The scheduler event and socket are always released. The slot itself only
// returns to the pool when no handler is running on the connection; a busy
// connection is returned by the release that follows its handler.
func (p *pool) release(c *Connection) {
	if c.event != 0 {
		p.loop.Unregister(c.event)
		c.event = 0
	}

	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}

	if c.busy || !c.inUse {
		return
	}

	if p.n <= 0 {
		panic(fmt.Sprintf("control connection pool corrupted: releasing with %d in use", p.n))
	}

	c.inUse = false
	p.n--
	p.free[p.n] = c
}

// Returns the number of allocated slots.
func (p *pool) len() int {
	return p.n
}

// Releases every allocated connection.
func (p *pool) releaseAll() {
	for i := range p.slots {
		c := &p.slots[i]
		if c.inUse {
			c.busy = false
			p.release(c)
		}
	}
}
