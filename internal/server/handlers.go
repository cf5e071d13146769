package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cruciblehq/tapdiskd/internal/blktap"
	"github.com/cruciblehq/tapdiskd/internal/protocol"
	"github.com/cruciblehq/tapdiskd/internal/vbd"
	"golang.org/x/sys/unix"
)

// Mapping from wire open flags to runtime open flags.
var openFlagMap = []struct {
	wire uint32
	flag vbd.OpenFlags
}{
	{protocol.FlagReadOnly, vbd.OpenReadOnly},
	{protocol.FlagShared, vbd.OpenShareable},
	{protocol.FlagAddCache, vbd.OpenAddCache},
	{protocol.FlagVHDIndex, vbd.OpenVHDIndex},
	{protocol.FlagLogDirty, vbd.OpenLogDirty},
	{protocol.FlagAddLCache, vbd.OpenLocalCache},
	{protocol.FlagReuseParent, vbd.OpenReuseParent},
	{protocol.FlagSecondary, vbd.OpenSecondary},
	{protocol.FlagStandby, vbd.OpenStandby},
}

func openFlags(wire uint32) vbd.OpenFlags {
	var flags vbd.OpenFlags
	for _, m := range openFlagMap {
		if wire&m.wire != 0 {
			flags |= m.flag
		}
	}
	return flags
}

// Returns the VBD id addressed by a lifecycle request.
func vbdID(req *protocol.Message) int {
	return int(int32(req.Cookie))
}

// Returns the ring device path for minor.
func (s *Server) ringPath(minor int) string {
	if s.ringPrefix == "" {
		return blktap.RingPath(minor)
	}
	return s.ringPrefix + strconv.Itoa(minor)
}

// Builds a lifecycle response carrying the errno of err.
func status(t protocol.Type, req *protocol.Message, err error) *protocol.Message {
	return protocol.NewResponse(t, req.Cookie, &protocol.Response{Error: Errno(err)})
}

func (s *Server) handlePID(conn *Connection, req *protocol.Message) {
	s.respond(conn, protocol.NewResponse(protocol.TypePIDResponse, req.Cookie, &protocol.PID{Value: int32(os.Getpid())}))
	s.pool.release(conn)
}

// Streams one entry per VBD, with a count that falls from the total to one,
// followed by a terminating entry with count zero and minor -1.
func (s *Server) handleList(conn *Connection, req *protocol.Message) {
	vbds := s.registry.All()
	count := len(vbds)

	for _, v := range vbds {
		entry := &protocol.ListEntry{
			Count: int32(count),
			Minor: int32(v.Minor),
			State: int32(v.State),
		}
		if v.Name != "" {
			entry.SetPath(v.Type.String() + ":" + v.Name)
		}
		count--

		s.respond(conn, protocol.NewResponse(protocol.TypeListResponse, req.Cookie, entry))
	}

	s.respond(conn, protocol.NewResponse(protocol.TypeListResponse, req.Cookie, &protocol.ListEntry{Minor: -1}))
	s.pool.release(conn)
}

// Reports the minors of all VBDs, or ERANGE when they do not fit.
func (s *Server) handleListMinors(conn *Connection, req *protocol.Message) {
	vbds := s.registry.All()
	if len(vbds) > protocol.MaxMinors {
		slog.Warn("too many vbds for minors list", "count", len(vbds), "max", protocol.MaxMinors)
		s.respond(conn, protocol.NewError(req.Cookie, Errno(ErrTooManyMinors)))
		s.pool.release(conn)
		return
	}

	minors := &protocol.Minors{Count: int32(len(vbds))}
	for i, v := range vbds {
		minors.List[i] = int32(v.Minor)
	}

	s.respond(conn, protocol.NewResponse(protocol.TypeListMinorsResponse, req.Cookie, minors))
	s.pool.release(conn)
}

func (s *Server) handleAttach(conn *Connection, req *protocol.Message) {
	err := s.attach(vbdID(req))
	if err != nil {
		slog.Error("attach failed", "id", vbdID(req), "error", err)
	}

	s.respond(conn, status(protocol.TypeAttachResponse, req, err))
	s.pool.release(conn)
}

// Creates a VBD and binds it to the ring device whose minor equals id.
func (s *Server) attach(id int) error {
	if s.registry.Lookup(id) != nil {
		return fmt.Errorf("%w: %d", ErrVBDExists, id)
	}

	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMinor, id)
	}

	v, err := s.runtime.Create(id)
	if err != nil {
		return fmt.Errorf("%w: create vbd %d: %w", ErrOutOfMemory, id, err)
	}

	if err := s.runtime.Attach(v, s.ringPath(id), id); err != nil {
		s.runtime.Detach(v)
		return err
	}

	if err := s.registry.Insert(v); err != nil {
		s.runtime.Detach(v)
		return err
	}

	return nil
}

func (s *Server) handleDetach(conn *Connection, req *protocol.Message) {
	err := s.detach(vbdID(req))
	if err != nil {
		slog.Error("detach failed", "id", vbdID(req), "error", err)
	}

	s.respond(conn, status(protocol.TypeDetachResponse, req, err))
	s.pool.release(conn)
}

// Unbinds the VBD from its ring. A VBD with no images left is destroyed.
func (s *Server) detach(id int) error {
	v := s.registry.Lookup(id)
	if v == nil {
		return fmt.Errorf("%w: %d", ErrNoSuchVBD, id)
	}

	if v.Name != "" {
		return fmt.Errorf("%w: %d has %s open", ErrVBDInUse, id, v.Name)
	}

	s.runtime.Detach(v)

	if !v.HasImages() {
		s.registry.Remove(v)
	}

	return nil
}

func (s *Server) handleOpen(conn *Connection, req *protocol.Message) {
	info, err := s.open(vbdID(req), req.Params())
	if err != nil {
		slog.Error("open failed", "id", vbdID(req), "error", err)
		s.respond(conn, protocol.NewError(req.Cookie, Errno(err)))
		s.pool.release(conn)
		return
	}

	image := &protocol.Image{
		Sectors:    info.Sectors,
		SectorSize: info.SectorSize,
		Info:       info.Info,
	}
	s.respond(conn, protocol.NewResponse(protocol.TypeOpenResponse, req.Cookie, image))
	s.pool.release(conn)
}

// Opens the image named by params on the VBD and exposes it through the
// ring device.
//
// Once the image is open, any later failure closes it and destroys the VBD.
func (s *Server) open(id int, params *protocol.Params) (vbd.ImageInfo, error) {
	v := s.registry.Lookup(id)
	if v == nil {
		return vbd.ImageInfo{}, fmt.Errorf("%w: %d", ErrUnknownVBD, id)
	}

	if v.Minor == -1 || v.Ring == nil {
		return vbd.ImageInfo{}, fmt.Errorf("%w: %d", ErrNoDevice, id)
	}

	if v.Name != "" {
		return vbd.ImageInfo{}, fmt.Errorf("%w: %d has %s open", ErrImageOpen, id, v.Name)
	}

	name := params.PathString()
	typ, path, err := vbd.ParseDiskType(name)
	if err != nil {
		return vbd.ImageInfo{}, err
	}

	oreq := vbd.OpenRequest{
		Type:         typ,
		Path:         path,
		Storage:      params.Storage,
		Flags:        openFlags(params.Flags),
		ParentDevNum: params.ParentDev,
	}

	if oreq.Flags.Has(vbd.OpenSecondary) {
		oreq.SecondaryType, oreq.SecondaryPath, err = vbd.ParseDiskType(params.SecondaryString())
		if err != nil {
			return vbd.ImageInfo{}, err
		}
	}

	if err := s.runtime.OpenImage(v, oreq); err != nil {
		return vbd.ImageInfo{}, err
	}

	info, err := s.runtime.ImageInfo(v)
	if err == nil {
		err = v.Ring.CreateDevice(blktap.Params{
			Name:       name,
			Capacity:   info.Sectors,
			SectorSize: uint64(info.SectorSize),
		})
		if errors.Is(err, unix.EEXIST) {
			err = nil
		}
	}

	if err != nil {
		if cerr := s.runtime.CloseImage(v); cerr != nil {
			slog.Warn("failed to close image", "id", id, "error", cerr)
		}
		v.Name = ""
		s.destroy(v)
		return vbd.ImageInfo{}, err
	}

	slog.Info("image opened", "id", id, "name", name, "sectors", info.Sectors, "sector_size", info.SectorSize)

	return info, nil
}

// Removes the VBD from the registry and releases it. Removal comes first so
// that no lookup can return a released VBD.
func (s *Server) destroy(v *vbd.VBD) {
	s.registry.Remove(v)
	s.runtime.Detach(v)
}

func (s *Server) handlePause(conn *Connection, req *protocol.Message) {
	err := s.pause(conn, vbdID(req))
	if err != nil {
		slog.Error("pause failed", "id", vbdID(req), "error", err)
	}

	s.respond(conn, status(protocol.TypePauseResponse, req, err))
}

// Pauses the VBD, serving other connections while it drains.
func (s *Server) pause(conn *Connection, id int) error {
	v := s.registry.Lookup(id)
	if v == nil {
		return fmt.Errorf("%w: %d", ErrUnknownVBD, id)
	}

	for {
		err := s.runtime.Pause(v)
		if !errors.Is(err, unix.EAGAIN) {
			return err
		}

		if err := s.iterate(); err != nil {
			return err
		}

		if !conn.Valid() {
			return fmt.Errorf("%w: pause of vbd %d abandoned", ErrConnectionLost, id)
		}
	}
}

func (s *Server) handleResume(conn *Connection, req *protocol.Message) {
	err := s.resume(vbdID(req), req.Params())
	if err != nil {
		slog.Error("resume failed", "id", vbdID(req), "error", err)
	}

	s.respond(conn, status(protocol.TypeResumeResponse, req, err))
}

// Resumes the VBD, on a new image if params names one.
func (s *Server) resume(id int, params *protocol.Params) error {
	v := s.registry.Lookup(id)
	if v == nil {
		return fmt.Errorf("%w: %d", ErrUnknownVBD, id)
	}

	var target *vbd.Target
	if name := params.PathString(); name != "" {
		typ, path, err := vbd.ParseDiskType(name)
		if err != nil {
			return err
		}
		target = &vbd.Target{Type: typ, Path: path}
	}

	return s.runtime.Resume(v, target)
}

func (s *Server) handleClose(conn *Connection, req *protocol.Message) {
	err := s.close(conn, vbdID(req))
	if err != nil {
		slog.Error("close failed", "id", vbdID(req), "error", err)
	}

	s.respond(conn, status(protocol.TypeCloseResponse, req, err))
}

// Removes the block device of the VBD and closes its image.
//
// Removal is retried while the device is busy. If the ring does not support
// removal, outstanding requests are drained instead. A VBD without a ring
// is destroyed once its image is closed.
func (s *Server) close(conn *Connection, id int) error {
	v := s.registry.Lookup(id)
	if v == nil {
		return fmt.Errorf("%w: %d", ErrNoSuchVBD, id)
	}

	if err := s.removeDevice(conn, v); err != nil {
		return err
	}

	err := s.runtime.CloseImage(v)
	v.Name = ""

	if v.Minor == -1 {
		s.destroy(v)
	}

	return err
}

func (s *Server) removeDevice(conn *Connection, v *vbd.VBD) error {
	if v.Ring == nil {
		return nil
	}

	for {
		err := v.Ring.RemoveDevice()
		if errors.Is(err, unix.ENOTTY) {
			return s.drain(conn, v)
		}
		if !errors.Is(err, unix.EBUSY) {
			return err
		}

		if err := s.iterate(); err != nil {
			return err
		}

		if !conn.Valid() {
			return fmt.Errorf("%w: close of vbd %d abandoned", ErrConnectionLost, v.ID)
		}
	}
}

// Runs the event loop until the VBD has no requests in flight.
func (s *Server) drain(conn *Connection, v *vbd.VBD) error {
	for v.PendingRequests() > 0 {
		if err := s.iterate(); err != nil {
			return err
		}

		if !conn.Valid() {
			return fmt.Errorf("%w: drain of vbd %d abandoned", ErrConnectionLost, v.ID)
		}
	}
	return nil
}
