package client

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	ErrClient             = errors.New("control client error")
	ErrRequest            = errors.New("request failed")
	ErrUnexpectedResponse = fmt.Errorf("%w: unexpected response", errdefs.ErrUnknown)
)
