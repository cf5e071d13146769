package protocol

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Reads one message from a socket descriptor.
//
// Before every read the descriptor is polled for readability, so the call
// returns once timeout has elapsed even if the peer has stopped sending
// mid-record. A zero timeout waits indefinitely. Partial reads are
// accumulated until the full record is assembled. Fails with [ErrIO] if the
// deadline passes, the poll fails, or the peer closes before sending
// anything, and with [ErrShortRead] if the stream ends mid-record.
func ReadMessage(fd int, timeout time.Duration) (*Message, error) {
	buf := make([]byte, Size)
	deadline := deadlineFor(timeout)

	offset := 0
	for offset < Size {
		if err := waitFD(fd, unix.POLLIN, deadline); err != nil {
			return nil, fmt.Errorf("%w at offset %d/%d: %w", ErrIO, offset, Size, err)
		}

		n, err := unix.Read(fd, buf[offset:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return nil, fmt.Errorf("%w at offset %d/%d: %w", ErrIO, offset, Size, err)
		}
		if n == 0 {
			if offset == 0 {
				return nil, fmt.Errorf("%w: %w", ErrIO, io.EOF)
			}
			return nil, fmt.Errorf("%w: %d/%d bytes", ErrShortRead, offset, Size)
		}

		offset += n
	}

	msg := &Message{}
	if err := msg.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return msg, nil
}

// Writes one message to a socket descriptor.
//
// The descriptor is polled for writability before every write, bounded by
// timeout. Writing to an invalid (negative) descriptor is a no-op, which
// lets handlers send a final response on a connection that was already
// torn down.
func WriteMessage(fd int, msg *Message, timeout time.Duration) error {
	if fd < 0 {
		return nil
	}

	slog.Debug("sending message", "type", msg.Type, "cookie", msg.Cookie)

	buf, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	deadline := deadlineFor(timeout)

	offset := 0
	for offset < len(buf) {
		if err := waitFD(fd, unix.POLLOUT, deadline); err != nil {
			return fmt.Errorf("%w at offset %d/%d: %w", ErrIO, offset, len(buf), err)
		}

		n, err := unix.Write(fd, buf[offset:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("%w at offset %d/%d: %w", ErrIO, offset, len(buf), err)
		}
		if n == 0 {
			return fmt.Errorf("%w at offset %d/%d: %w", ErrIO, offset, len(buf), io.ErrShortWrite)
		}

		offset += n
	}

	return nil
}

// Reads one message from a stream.
//
// Callers are expected to bound the read with a deadline on the underlying
// connection.
func Decode(r io.Reader) (*Message, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrShortRead, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	msg := &Message{}
	if err := msg.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return msg, nil
}

// Writes one message to a stream.
func Encode(w io.Writer, msg *Message) error {
	buf, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Returns the absolute deadline for timeout, or the zero time for none.
func deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// Blocks until fd reports one of events or the deadline passes.
//
// Hang-up and error conditions count as ready so that the following read
// or write observes them directly.
func waitFD(fd int, events int16, deadline time.Time) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}

	for {
		wait := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return os.ErrDeadlineExceeded
			}
			wait = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		n, err := unix.Poll(fds, wait)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return os.ErrDeadlineExceeded
		}

		if fds[0].Revents&unix.POLLNVAL != 0 {
			return unix.EBADF
		}
		if fds[0].Revents&(events|unix.POLLHUP|unix.POLLERR) != 0 {
			return nil
		}
	}
}
