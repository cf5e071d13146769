package vbd

import (
	"fmt"
	"strings"
)

// Image driver type, selected by the prefix of a "type:path" string.
type DiskType int

const (
	DiskAIO DiskType = iota
	DiskSync
	DiskVMDK
	DiskVHDSync
	DiskVHD
	DiskRAM
	DiskQcow
	DiskBlockCache
	DiskVIndex
	DiskLog
	DiskRemus
	DiskLCache
	DiskLLCache
	DiskValve
)

var diskTypeNames = []string{
	DiskAIO:        "aio",
	DiskSync:       "sync",
	DiskVMDK:       "vmdk",
	DiskVHDSync:    "vhdsync",
	DiskVHD:        "vhd",
	DiskRAM:        "ram",
	DiskQcow:       "qcow",
	DiskBlockCache: "bc",
	DiskVIndex:     "vindex",
	DiskLog:        "log",
	DiskRemus:      "remus",
	DiskLCache:     "lcache",
	DiskLLCache:    "llcache",
	DiskValve:      "valve",
}

// Returns the name used as the "type:" prefix.
func (t DiskType) String() string {
	if t < 0 || int(t) >= len(diskTypeNames) {
		return fmt.Sprintf("disktype(%d)", int(t))
	}
	return diskTypeNames[t]
}

// Whether images of this type are plain files or block devices.
func (t DiskType) Raw() bool {
	return t == DiskAIO || t == DiskSync
}

// Splits a "type:path" string into its disk type and path.
//
// Fails with [ErrInvalidDiskType] if the separator is missing, the type is
// unknown, or the path is empty.
func ParseDiskType(params string) (DiskType, string, error) {
	name, path, ok := strings.Cut(params, ":")
	if !ok {
		return 0, "", fmt.Errorf("%w: missing type prefix in %q", ErrInvalidDiskType, params)
	}
	if path == "" {
		return 0, "", fmt.Errorf("%w: empty path in %q", ErrInvalidDiskType, params)
	}

	for i, n := range diskTypeNames {
		if n == name {
			return DiskType(i), path, nil
		}
	}
	return 0, "", fmt.Errorf("%w: unknown disk type %q", ErrInvalidDiskType, name)
}
