package blktap

import (
	"fmt"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (

	// Path prefix of ring device nodes; the minor number is appended.
	RingDevicePrefix = "/dev/xen/blktap-2/blktap"

	// Size of the device name buffer passed to the kernel.
	MaxNameLength = 256
)

// Ring device ioctl request numbers.
const (
	ioctlCreateDevice = 202
	ioctlRemoveDevice = 207
)

// Geometry and name of a block device to create.
type Params struct {
	Name       string // Device name, truncated to MaxNameLength-1 bytes.
	Capacity   uint64 // Capacity in sectors.
	SectorSize uint64 // Sector size in bytes.
}

// Kernel layout of the create-device argument.
type rawParams struct {
	name       [MaxNameLength]byte
	capacity   uint64
	sectorSize uint64
}

func newRawParams(p Params) *rawParams {
	raw := &rawParams{capacity: p.Capacity, sectorSize: p.SectorSize}
	copy(raw.name[:MaxNameLength-1], p.Name)
	return raw
}

// Returns the ring device path for a minor number.
func RingPath(minor int) string {
	return RingDevicePrefix + strconv.Itoa(minor)
}

// An open ring device.
type Ring struct {
	fd   int    // Ring device descriptor, -1 once closed.
	path string // Device node path.
}

// Opens the ring device at path.
func OpenRing(path string) (*Ring, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrDevice, path, err)
	}
	return &Ring{fd: fd, path: path}, nil
}

// Creates the block device backed by this ring.
func (r *Ring) CreateDevice(p Params) error {
	raw := newRawParams(p)
	if err := r.ioctl(ioctlCreateDevice, unsafe.Pointer(raw)); err != nil {
		return fmt.Errorf("%w: create device %q: %w", ErrDevice, p.Name, err)
	}
	return nil
}

// Removes the block device backed by this ring.
//
// Fails with [unix.EBUSY] while the device is still open, and with
// [unix.ENOTTY] on kernels that do not support removal.
func (r *Ring) RemoveDevice() error {
	if err := r.ioctl(ioctlRemoveDevice, nil); err != nil {
		return fmt.Errorf("%w: remove device %s: %w", ErrDevice, r.path, err)
	}
	return nil
}

// Closes the ring descriptor.
func (r *Ring) Close() error {
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}

func (r *Ring) ioctl(req uintptr, arg unsafe.Pointer) error {
	if r.fd < 0 {
		return unix.EBADF
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(r.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
