package vbd

import "strings"

// Options for opening an image.
type OpenFlags uint32

const (
	OpenReadOnly OpenFlags = 1 << iota
	OpenShareable
	OpenAddCache
	OpenVHDIndex
	OpenLogDirty
	OpenLocalCache
	OpenReuseParent
	OpenSecondary
	OpenStandby
)

var openFlagNames = []struct {
	flag OpenFlags
	name string
}{
	{OpenReadOnly, "rdonly"},
	{OpenShareable, "shareable"},
	{OpenAddCache, "add-cache"},
	{OpenVHDIndex, "vhd-index"},
	{OpenLogDirty, "log-dirty"},
	{OpenLocalCache, "local-cache"},
	{OpenReuseParent, "reuse-parent"},
	{OpenSecondary, "secondary"},
	{OpenStandby, "standby"},
}

// Whether all bits of flag are set.
func (f OpenFlags) Has(flag OpenFlags) bool {
	return f&flag == flag
}

// Returns the set flags as a "|"-separated list.
func (f OpenFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fn := range openFlagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}
