package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (

	// Default upper bound on a single poll wait.
	DefaultTimeout = time.Second
)

// Readiness a registered event waits for.
type Mode uint8

const (
	ModeRead Mode = 1 << iota
	ModeWrite
)

// Identifies a registered event. The zero value never identifies an event.
type EventID int

// Invoked when a registered descriptor becomes ready.
type Callback func(id EventID, mode Mode)

type event struct {
	id   EventID
	fd   int
	mode Mode
	cb   Callback
}

// Single-threaded event loop multiplexing file descriptors with poll(2).
type Scheduler struct {
	events  map[EventID]*event // Registered events by id.
	nextID  EventID            // Last id handed out.
	timeout time.Duration      // Upper bound on a single poll wait.
	wakeR   int                // Read end of the wake pipe.
	wakeW   int                // Write end of the wake pipe.
	closed  bool               // Whether Close has been called.

	wakeMu     sync.Mutex // Guards wakeW against Close while Wake writes.
	wakeClosed bool       // Whether wakeW has been closed.
}

// Configures a [Scheduler].
type Option func(*Scheduler)

// Sets the upper bound on the time a single [Scheduler.RunOnce] waits for
// readiness.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Creates a scheduler with no registered events.
//
// The scheduler owns a wake pipe and must be closed when no longer needed.
func New(opts ...Option) (*Scheduler, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("%w: wake pipe: %w", ErrScheduler, err)
	}

	s := &Scheduler{
		events:  make(map[EventID]*event),
		timeout: DefaultTimeout,
		wakeR:   p[0],
		wakeW:   p[1],
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registers fd for the given readiness mode.
//
// The callback runs on the goroutine driving the loop each time fd is ready,
// until the returned event is unregistered.
func (s *Scheduler) Register(fd int, mode Mode, cb Callback) (EventID, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if fd < 0 || cb == nil || mode&(ModeRead|ModeWrite) == 0 {
		return 0, fmt.Errorf("%w: fd %d, mode %d", ErrInvalidEvent, fd, mode)
	}

	s.nextID++
	ev := &event{id: s.nextID, fd: fd, mode: mode, cb: cb}
	s.events[ev.id] = ev

	return ev.id, nil
}

// Removes a registered event. Unknown ids are ignored.
//
// An event unregistered from within a callback is not dispatched again, even
// if it was reported ready in the same iteration.
func (s *Scheduler) Unregister(id EventID) {
	delete(s.events, id)
}

// Returns the number of registered events.
func (s *Scheduler) Len() int {
	return len(s.events)
}

// Waits once for readiness and dispatches ready callbacks.
//
// Returns after dispatching, or after the iteration timeout elapses with
// nothing ready, or when woken by [Scheduler.Wake].
func (s *Scheduler) RunOnce() error {
	if s.closed {
		return ErrClosed
	}

	pending := make([]*event, 0, len(s.events))
	for _, ev := range s.events {
		pending = append(pending, ev)
	}
	slices.SortFunc(pending, func(a, b *event) int { return cmp.Compare(a.id, b.id) })

	fds := make([]unix.PollFd, 0, len(pending)+1)
	fds = append(fds, unix.PollFd{Fd: int32(s.wakeR), Events: unix.POLLIN})
	for _, ev := range pending {
		var events int16
		if ev.mode&ModeRead != 0 {
			events |= unix.POLLIN
		}
		if ev.mode&ModeWrite != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(ev.fd), Events: events})
	}

	n, err := unix.Poll(fds, int(s.timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("%w: poll: %w", ErrScheduler, err)
	}
	if n == 0 {
		return nil
	}

	if fds[0].Revents != 0 {
		s.drain()
	}

	for i, ev := range pending {
		revents := fds[i+1].Revents
		if revents == 0 {
			continue
		}

		var mode Mode
		if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 && ev.mode&ModeRead != 0 {
			mode |= ModeRead
		}
		if revents&(unix.POLLOUT|unix.POLLERR) != 0 && ev.mode&ModeWrite != 0 {
			mode |= ModeWrite
		}
		if mode == 0 {
			continue
		}

		// Earlier callbacks may have unregistered this event.
		if s.events[ev.id] != ev {
			continue
		}
		ev.cb(ev.id, mode)
	}

	return nil
}

// Runs the loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Wake)
	defer stop()

	for ctx.Err() == nil {
		if err := s.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}

// Interrupts a blocked [Scheduler.RunOnce]. Safe to call from any goroutine.
func (s *Scheduler) Wake() {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	if !s.wakeClosed {
		unix.Write(s.wakeW, []byte{0})
	}
}

// Releases the wake pipe and drops all registered events.
func (s *Scheduler) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	clear(s.events)

	s.wakeMu.Lock()
	s.wakeClosed = true
	unix.Close(s.wakeW)
	s.wakeMu.Unlock()

	return unix.Close(s.wakeR)
}

// Empties the wake pipe.
func (s *Scheduler) drain() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(s.wakeR, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}
