package vbd

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"
)

var (
	ErrRuntime         = errors.New("vbd runtime error")
	ErrExists          = fmt.Errorf("%w: vbd exists", errdefs.ErrAlreadyExists)
	ErrInvalidDiskType = fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, unix.EINVAL)
	ErrTryAgain        = fmt.Errorf("%w: %w", errdefs.ErrUnavailable, unix.EAGAIN)
	ErrNotSupported    = fmt.Errorf("%w: %w", errdefs.ErrNotImplemented, unix.EOPNOTSUPP)
	ErrNotPaused       = fmt.Errorf("%w: vbd not paused: %w", errdefs.ErrFailedPrecondition, unix.EINVAL)
	ErrNoImage         = fmt.Errorf("%w: no image open: %w", errdefs.ErrFailedPrecondition, unix.ENODEV)
)
