// Package vbd models virtual block devices and their backing images.
//
// A [VBD] is identified by the integer id a control client picks when it
// attaches it, which doubles as the minor number of its ring device. The
// [Registry] owns every live VBD; control handlers borrow entries for the
// duration of a request and must remove an entry from the registry before
// discarding it.
//
// Images are addressed with "type:path" strings, parsed by
// [ParseDiskType]. [RawRuntime] backs VBDs with plain files or block
// devices for the raw disk types (aio, sync) and reports the remaining
// types as unsupported; image format drivers live outside this package.
//
// Example usage:
//
//	rt := vbd.NewRawRuntime()
//	reg := vbd.NewRegistry()
//
//	v, err := rt.Create(5)
//	if err != nil {
//	    return err
//	}
//	if err := rt.Attach(v, blktap.RingPath(5), 5); err != nil {
//	    return err
//	}
//	reg.Insert(v)
package vbd
