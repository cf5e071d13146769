package protocol

import (
	"bytes"
	"fmt"
)

// Open flags carried in [Params.Flags].
const (
	FlagShared      uint32 = 1 << 0 // Image may be shared with other VBDs.
	FlagReadOnly    uint32 = 1 << 1 // Open the image read-only.
	FlagAddCache    uint32 = 1 << 2 // Stack a read cache over the image.
	FlagVHDIndex    uint32 = 1 << 3 // Use the VHD block index.
	FlagLogDirty    uint32 = 1 << 4 // Log dirty blocks.
	FlagAddLCache   uint32 = 1 << 5 // Stack a local cache over the image.
	FlagReuseParent uint32 = 1 << 6 // Reuse an already open parent image.
	FlagSecondary   uint32 = 1 << 7 // Mirror writes to [Params.Secondary].
	FlagStandby     uint32 = 1 << 8 // Open the secondary in standby mode.
)

const (
	paramsSize   = 24 + 2*MaxPathLength
	imageSize    = 16
	responseSize = 4 + MaxStringLength
	minorsSize   = 4 + 4*MaxMinors
	listSize     = 12 + MaxPathLength
	pidSize      = 4
)

// A message payload variant.
//
// The set of implementations is closed; each one encodes itself at the
// start of the payload area and leaves the remainder zero.
type Body interface {
	encode(b []byte)
	decode(b []byte)
}

// Parameters of lifecycle requests (attach, open, pause, resume, close,
// detach).
type Params struct {
	Flags      uint32              // Bitmask of Flag* values.
	DomID      uint32              // Frontend domain id.
	DevNum     uint32              // Frontend device number.
	Storage    uint32              // Backing storage type hint.
	ParentDev  uint32              // Device number of a reusable parent image.
	ReqTimeout uint16              // Request timeout in seconds.
	Path       [MaxPathLength]byte // NUL-terminated "type:path" of the image.
	Secondary  [MaxPathLength]byte // NUL-terminated "type:path" of the mirror.
}

// Creates parameters for the given image path and flags.
func NewParams(path string, flags uint32) (*Params, error) {
	p := &Params{Flags: flags}
	if err := p.SetPath(path); err != nil {
		return nil, err
	}
	return p, nil
}

// Stores path into the fixed path buffer.
func (p *Params) SetPath(path string) error {
	return setString(p.Path[:], path)
}

// Stores path into the fixed secondary path buffer.
func (p *Params) SetSecondary(path string) error {
	return setString(p.Secondary[:], path)
}

// Returns the image path up to its NUL terminator.
func (p *Params) PathString() string {
	return cString(p.Path[:])
}

// Returns the secondary image path up to its NUL terminator.
func (p *Params) SecondaryString() string {
	return cString(p.Secondary[:])
}

func (p *Params) encode(b []byte) {
	byteOrder.PutUint32(b[0:], p.Flags)
	byteOrder.PutUint32(b[4:], p.DomID)
	byteOrder.PutUint32(b[8:], p.DevNum)
	byteOrder.PutUint32(b[12:], p.Storage)
	byteOrder.PutUint32(b[16:], p.ParentDev)
	byteOrder.PutUint16(b[20:], p.ReqTimeout)
	copy(b[24:], p.Path[:])
	copy(b[24+MaxPathLength:], p.Secondary[:])
}

func (p *Params) decode(b []byte) {
	p.Flags = byteOrder.Uint32(b[0:])
	p.DomID = byteOrder.Uint32(b[4:])
	p.DevNum = byteOrder.Uint32(b[8:])
	p.Storage = byteOrder.Uint32(b[12:])
	p.ParentDev = byteOrder.Uint32(b[16:])
	p.ReqTimeout = byteOrder.Uint16(b[20:])
	copy(p.Path[:], b[24:])
	copy(p.Secondary[:], b[24+MaxPathLength:])
}

// Geometry of an opened image, carried by open responses.
type Image struct {
	Sectors    uint64 // Capacity in sectors.
	SectorSize uint32 // Sector size in bytes.
	Info       uint32 // Image-specific info bits.
}

func (im *Image) encode(b []byte) {
	byteOrder.PutUint64(b[0:], im.Sectors)
	byteOrder.PutUint32(b[8:], im.SectorSize)
	byteOrder.PutUint32(b[12:], im.Info)
}

func (im *Image) decode(b []byte) {
	im.Sectors = byteOrder.Uint64(b[0:])
	im.SectorSize = byteOrder.Uint32(b[8:])
	im.Info = byteOrder.Uint32(b[12:])
}

// Generic status payload. Error is zero on success and a positive errno
// otherwise.
type Response struct {
	Error   int32
	Message [MaxStringLength]byte
}

// Stores msg into the fixed message buffer, truncating it if necessary.
func (r *Response) SetMessage(msg string) {
	clear(r.Message[:])
	copy(r.Message[:len(r.Message)-1], msg)
}

// Returns the message up to its NUL terminator.
func (r *Response) MessageString() string {
	return cString(r.Message[:])
}

func (r *Response) encode(b []byte) {
	byteOrder.PutUint32(b[0:], uint32(r.Error))
	copy(b[4:], r.Message[:])
}

func (r *Response) decode(b []byte) {
	r.Error = int32(byteOrder.Uint32(b[0:]))
	copy(r.Message[:], b[4:responseSize])
}

// Minor numbers of all VBDs, carried by list-minors responses.
type Minors struct {
	Count int32
	List  [MaxMinors]int32
}

// Returns the populated prefix of the minor list.
func (m *Minors) Values() []int32 {
	n := int(m.Count)
	if n < 0 {
		n = 0
	}
	if n > MaxMinors {
		n = MaxMinors
	}
	return m.List[:n]
}

func (m *Minors) encode(b []byte) {
	byteOrder.PutUint32(b[0:], uint32(m.Count))
	for i, minor := range m.List {
		byteOrder.PutUint32(b[4+4*i:], uint32(minor))
	}
}

func (m *Minors) decode(b []byte) {
	m.Count = int32(byteOrder.Uint32(b[0:]))
	for i := range m.List {
		m.List[i] = int32(byteOrder.Uint32(b[4+4*i:]))
	}
}

// One record of a streamed list response.
//
// Count is the number of records remaining including this one. The stream
// is terminated by a record with Minor set to -1.
type ListEntry struct {
	Count int32
	Minor int32
	State int32
	Path  [MaxPathLength]byte
}

// Stores path into the fixed path buffer, truncating it if necessary.
func (e *ListEntry) SetPath(path string) {
	clear(e.Path[:])
	copy(e.Path[:len(e.Path)-1], path)
}

// Returns the entry path up to its NUL terminator.
func (e *ListEntry) PathString() string {
	return cString(e.Path[:])
}

func (e *ListEntry) encode(b []byte) {
	byteOrder.PutUint32(b[0:], uint32(e.Count))
	byteOrder.PutUint32(b[4:], uint32(e.Minor))
	byteOrder.PutUint32(b[8:], uint32(e.State))
	copy(b[12:], e.Path[:])
}

func (e *ListEntry) decode(b []byte) {
	e.Count = int32(byteOrder.Uint32(b[0:]))
	e.Minor = int32(byteOrder.Uint32(b[4:]))
	e.State = int32(byteOrder.Uint32(b[8:]))
	copy(e.Path[:], b[12:listSize])
}

// Process id of the daemon, carried by pid responses.
type PID struct {
	Value int32
}

func (p *PID) encode(b []byte) {
	byteOrder.PutUint32(b[0:], uint32(p.Value))
}

func (p *PID) decode(b []byte) {
	p.Value = int32(byteOrder.Uint32(b[0:]))
}

// Uninterpreted payload of message types the daemon does not handle.
type Raw [PayloadSize]byte

func (r *Raw) encode(b []byte) {
	copy(b, r[:])
}

func (r *Raw) decode(b []byte) {
	copy(r[:], b)
}

// Copies s into a fixed buffer, leaving room for the NUL terminator.
func setString(buf []byte, s string) error {
	if len(s) >= len(buf) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPathTooLong, len(s), len(buf)-1)
	}
	clear(buf)
	copy(buf, s)
	return nil
}

// Returns the bytes of buf up to the first NUL.
func cString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// Whether buf contains a NUL terminator.
func terminated(buf []byte) bool {
	return bytes.IndexByte(buf, 0) >= 0
}
