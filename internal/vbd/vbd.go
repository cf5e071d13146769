package vbd

import (
	"os"

	"github.com/cruciblehq/tapdiskd/internal/blktap"
)

// Lifecycle state bits of a VBD.
type State uint32

const (
	StateDead State = 1 << iota
	StateClosed
	StateQuiesceRequested
	StateQuiesced
	StatePauseRequested
	StatePaused
)

// Kernel-facing side of an attached VBD.
type Device interface {
	CreateDevice(p blktap.Params) error
	RemoveDevice() error
	Close() error
}

// A virtual block device.
type VBD struct {
	ID    int      // Client-chosen identifier.
	Minor int      // Ring device minor, -1 when no ring is attached.
	Name  string   // Path of the open image, empty when none is open.
	Type  DiskType // Disk type of the open image.
	State State    // Lifecycle state bits.
	Ring  Device   // Attached ring device, nil when detached.

	images  []*Image // Open images, primary first.
	pending int      // Requests submitted to the images and not yet completed.
}

// Creates a VBD with no ring and no images.
func New(id int) *VBD {
	return &VBD{ID: id, Minor: -1}
}

// Returns the open images, primary first.
func (v *VBD) Images() []*Image {
	return v.images
}

// Whether any image is open.
func (v *VBD) HasImages() bool {
	return len(v.images) > 0
}

// Returns the number of in-flight requests.
func (v *VBD) PendingRequests() int {
	return v.pending
}

// Records a request submitted to the images.
func (v *VBD) QueueRequest() {
	v.pending++
}

// Records the completion of a previously queued request.
func (v *VBD) CompleteRequest() {
	if v.pending > 0 {
		v.pending--
	}
}

// Whether all bits of s are set.
func (v *VBD) Is(s State) bool {
	return v.State&s == s
}

// An open backing image.
type Image struct {
	Type       DiskType  // Driver type.
	Path       string    // Path without the type prefix.
	Flags      OpenFlags // Flags the image was opened with.
	Sectors    uint64    // Capacity in sectors.
	SectorSize uint32    // Sector size in bytes.
	Info       uint32    // Driver-specific info bits.

	file *os.File
}

// Geometry reported for the primary image.
type ImageInfo struct {
	Sectors    uint64
	SectorSize uint32
	Info       uint32
}

// Everything needed to open the images of a VBD.
type OpenRequest struct {
	Type          DiskType  // Disk type of the primary image.
	Path          string    // Path of the primary image.
	Storage       uint32    // Backing storage hint.
	Flags         OpenFlags // Open flags.
	ParentDevNum  uint32    // Device number of a reusable parent.
	SecondaryType DiskType  // Disk type of the mirror, with OpenSecondary.
	SecondaryPath string    // Path of the mirror, with OpenSecondary.
}

// Replacement image for a resumed VBD.
type Target struct {
	Type DiskType
	Path string
}
