package blktap

import "errors"

var (
	ErrDevice = errors.New("blktap device error")
)
