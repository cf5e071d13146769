package protocol

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	ErrProtocol       = errors.New("protocol error")
	ErrIO             = errors.New("message i/o failed")
	ErrShortRead      = errors.New("short message read")
	ErrInvalidMessage = fmt.Errorf("%w: invalid message", errdefs.ErrInvalidArgument)
	ErrPathTooLong    = fmt.Errorf("%w: path too long", errdefs.ErrInvalidArgument)
)
