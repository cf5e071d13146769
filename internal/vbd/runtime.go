package vbd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cruciblehq/tapdiskd/internal/blktap"
)

const (

	// Sector size reported for raw images.
	rawSectorSize = 512
)

// Opens the ring device at a path.
type RingOpener func(path string) (Device, error)

// Runtime backing VBDs with raw files or block devices.
//
// Only the raw disk types are supported; opening any other type fails with
// [ErrNotSupported]. The runtime does no request processing of its own, so
// pending requests are only those recorded on the VBD by its owner.
type RawRuntime struct {
	openRing RingOpener // Opens ring devices on attach.
}

// Creates a runtime that opens real blktap ring devices.
func NewRawRuntime() *RawRuntime {
	return NewRawRuntimeWithRing(func(path string) (Device, error) {
		return blktap.OpenRing(path)
	})
}

// Creates a runtime that opens ring devices through open.
func NewRawRuntimeWithRing(open RingOpener) *RawRuntime {
	return &RawRuntime{openRing: open}
}

// Creates a detached VBD.
func (rt *RawRuntime) Create(id int) (*VBD, error) {
	return New(id), nil
}

// Binds the VBD to the ring device at devicePath.
func (rt *RawRuntime) Attach(v *VBD, devicePath string, minor int) error {
	ring, err := rt.openRing(devicePath)
	if err != nil {
		return fmt.Errorf("%w: attach vbd %d: %w", ErrRuntime, v.ID, err)
	}

	v.Ring = ring
	v.Minor = minor

	slog.Debug("vbd attached", "id", v.ID, "ring", devicePath)

	return nil
}

// Releases the ring device of the VBD.
func (rt *RawRuntime) Detach(v *VBD) {
	if v.Ring != nil {
		if err := v.Ring.Close(); err != nil {
			slog.Warn("failed to close ring", "id", v.ID, "error", err)
		}
		v.Ring = nil
	}
	v.Minor = -1
	v.State |= StateDead
}

// Opens the primary image and, with [OpenSecondary], the mirror.
//
// On success the VBD takes the primary path as its name.
func (rt *RawRuntime) OpenImage(v *VBD, req OpenRequest) error {
	primary, err := openRaw(req.Type, req.Path, req.Flags)
	if err != nil {
		return err
	}
	images := []*Image{primary}

	if req.Flags.Has(OpenSecondary) {
		secondary, err := openRaw(req.SecondaryType, req.SecondaryPath, req.Flags&^OpenSecondary)
		if err != nil {
			primary.close()
			return err
		}
		images = append(images, secondary)
	}

	v.images = images
	v.Name = req.Path
	v.Type = req.Type
	v.State &^= StateClosed

	slog.Debug("image opened", "id", v.ID, "type", req.Type, "path", req.Path, "flags", req.Flags)

	return nil
}

// Closes all images of the VBD.
func (rt *RawRuntime) CloseImage(v *VBD) error {
	var errs []error
	for _, im := range v.images {
		if err := im.close(); err != nil {
			errs = append(errs, err)
		}
	}
	v.images = nil
	v.State |= StateClosed

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: close vbd %d: %w", ErrRuntime, v.ID, err)
	}
	return nil
}

// Returns the geometry of the primary image.
func (rt *RawRuntime) ImageInfo(v *VBD) (ImageInfo, error) {
	if len(v.images) == 0 {
		return ImageInfo{}, ErrNoImage
	}
	im := v.images[0]
	return ImageInfo{Sectors: im.Sectors, SectorSize: im.SectorSize, Info: im.Info}, nil
}

// Requests that the VBD stop issuing I/O.
//
// Returns [ErrTryAgain] while requests are still in flight; the pause
// completes on a later call once they have drained.
func (rt *RawRuntime) Pause(v *VBD) error {
	if v.Is(StatePaused) {
		return nil
	}

	v.State |= StatePauseRequested
	if v.pending > 0 {
		return ErrTryAgain
	}

	v.State &^= StatePauseRequested
	v.State |= StatePaused

	slog.Debug("vbd paused", "id", v.ID)

	return nil
}

// Resumes a paused VBD, optionally reopening it on a new image.
func (rt *RawRuntime) Resume(v *VBD, target *Target) error {
	if !v.Is(StatePaused) {
		return ErrNotPaused
	}

	if target != nil && len(v.images) > 0 {
		flags := v.images[0].Flags
		if err := rt.CloseImage(v); err != nil {
			v.Name = ""
			return err
		}

		// A failed reopen leaves the VBD paused with no image.
		if err := rt.OpenImage(v, OpenRequest{Type: target.Type, Path: target.Path, Flags: flags}); err != nil {
			v.Name = ""
			return err
		}
	}

	v.State &^= StatePaused

	slog.Debug("vbd resumed", "id", v.ID, "name", v.Name)

	return nil
}

// Opens a raw image and measures it.
func openRaw(t DiskType, path string, flags OpenFlags) (*Image, error) {
	if !t.Raw() {
		return nil, fmt.Errorf("%w: no driver for %s images", ErrNotSupported, t)
	}

	mode := os.O_RDWR
	if flags.Has(OpenReadOnly) {
		mode = os.O_RDONLY
	}

	f, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrRuntime, path, err)
	}

	// Seeking works for both regular files and block devices.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: size %s: %w", ErrRuntime, path, err)
	}

	return &Image{
		Type:       t,
		Path:       path,
		Flags:      flags,
		Sectors:    uint64(size) / rawSectorSize,
		SectorSize: rawSectorSize,
		file:       f,
	}, nil
}

func (im *Image) close() error {
	if im.file == nil {
		return nil
	}
	err := im.file.Close()
	im.file = nil
	return err
}
