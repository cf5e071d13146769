package server

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"
)

var (
	ErrServer             = errors.New("control server error")
	ErrInvalidConfig      = fmt.Errorf("%w: invalid server configuration", errdefs.ErrInvalidArgument)
	ErrPoolExhausted      = fmt.Errorf("%w: connection pool exhausted", errdefs.ErrResourceExhausted)
	ErrBusy               = fmt.Errorf("%w: server busy: %w", errdefs.ErrConflict, unix.EBUSY)
	ErrConnectionBusy     = fmt.Errorf("%w: connection busy: %w", errdefs.ErrConflict, unix.EBUSY)
	ErrUnsupportedMessage = fmt.Errorf("%w: unsupported message: %w", errdefs.ErrInvalidArgument, unix.EINVAL)
	ErrUnknownVBD         = fmt.Errorf("%w: no such vbd: %w", errdefs.ErrInvalidArgument, unix.EINVAL)
	ErrNoSuchVBD          = fmt.Errorf("%w: no such vbd: %w", errdefs.ErrNotFound, unix.ENODEV)
	ErrVBDExists          = fmt.Errorf("%w: vbd exists: %w", errdefs.ErrAlreadyExists, unix.EEXIST)
	ErrInvalidMinor       = fmt.Errorf("%w: invalid minor: %w", errdefs.ErrInvalidArgument, unix.EINVAL)
	ErrNoDevice           = fmt.Errorf("%w: vbd has no device: %w", errdefs.ErrInvalidArgument, unix.EINVAL)
	ErrImageOpen          = fmt.Errorf("%w: image already open: %w", errdefs.ErrAlreadyExists, unix.EALREADY)
	ErrVBDInUse           = fmt.Errorf("%w: vbd has an open image: %w", errdefs.ErrConflict, unix.EBUSY)
	ErrOutOfMemory        = fmt.Errorf("%w: out of memory: %w", errdefs.ErrResourceExhausted, unix.ENOMEM)
	ErrTooManyMinors      = fmt.Errorf("%w: too many minors: %w", errdefs.ErrOutOfRange, unix.ERANGE)
	ErrConnectionLost     = fmt.Errorf("%w: connection lost: %w", errdefs.ErrAborted, unix.ECONNRESET)
)

// Returns the positive errno-style code sent on the wire for err, or zero
// for nil.
//
// A concrete [unix.Errno] anywhere in the chain is surfaced unchanged, so
// failures reported by the kernel or the image runtime keep their numeric
// code. Otherwise the errdefs category of err selects the code.
func Errno(err error) int32 {
	if err == nil {
		return 0
	}

	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int32(errno)
	}

	switch {
	case errdefs.IsInvalidArgument(err):
		return int32(unix.EINVAL)
	case errdefs.IsNotFound(err):
		return int32(unix.ENODEV)
	case errdefs.IsAlreadyExists(err):
		return int32(unix.EEXIST)
	case errdefs.IsConflict(err), errdefs.IsUnavailable(err):
		return int32(unix.EBUSY)
	case errdefs.IsResourceExhausted(err):
		return int32(unix.ENOMEM)
	case errdefs.IsNotImplemented(err):
		return int32(unix.EOPNOTSUPP)
	case errdefs.IsOutOfRange(err):
		return int32(unix.ERANGE)
	case errdefs.IsAborted(err):
		return int32(unix.ECONNRESET)
	default:
		return int32(unix.EIO)
	}
}
