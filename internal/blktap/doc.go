// Package blktap wraps the kernel block-tap ring device.
//
// Each attached VBD owns a ring device node under [RingDevicePrefix]
// followed by its minor number. The daemon uses two ioctls on the ring: one
// to create the externally visible block device once an image is open, and
// one to remove it again before the image is closed. Failures are returned
// with the raw [unix.Errno] in their chain so callers can tell "already
// exists", "busy" and "not supported" apart.
package blktap
