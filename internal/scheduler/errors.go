package scheduler

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	ErrScheduler    = errors.New("scheduler error")
	ErrInvalidEvent = fmt.Errorf("%w: invalid event", errdefs.ErrInvalidArgument)
	ErrClosed       = errors.New("scheduler closed")
)
