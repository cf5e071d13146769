package vbd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/cruciblehq/tapdiskd/internal/blktap"
	"golang.org/x/sys/unix"
)

type fakeRing struct {
	closed bool
}

func (r *fakeRing) CreateDevice(blktap.Params) error { return nil }
func (r *fakeRing) RemoveDevice() error              { return nil }
func (r *fakeRing) Close() error                     { r.closed = true; return nil }

func newTestRuntime() (*RawRuntime, *fakeRing) {
	ring := &fakeRing{}
	return NewRawRuntimeWithRing(func(string) (Device, error) { return ring, nil }), ring
}

func writeImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, size), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAttachDetach(t *testing.T) {
	rt, ring := newTestRuntime()

	v, _ := rt.Create(4)
	if v.Minor != -1 {
		t.Fatalf("new vbd minor = %d, want -1", v.Minor)
	}

	if err := rt.Attach(v, blktap.RingPath(4), 4); err != nil {
		t.Fatal(err)
	}
	if v.Minor != 4 || v.Ring == nil {
		t.Fatalf("attach did not bind ring: minor %d", v.Minor)
	}

	rt.Detach(v)
	if v.Minor != -1 || v.Ring != nil || !ring.closed {
		t.Fatal("detach did not release ring")
	}
}

func TestAttachFailure(t *testing.T) {
	rt := NewRawRuntimeWithRing(func(string) (Device, error) { return nil, unix.ENOENT })

	v, _ := rt.Create(1)
	err := rt.Attach(v, "/nonexistent", 1)
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("err = %v, want ENOENT", err)
	}
	if v.Minor != -1 {
		t.Fatal("failed attach set a minor")
	}
}

func TestOpenCloseImage(t *testing.T) {
	rt, _ := newTestRuntime()
	path := writeImage(t, 8*512)

	v := New(1)
	if err := rt.OpenImage(v, OpenRequest{Type: DiskAIO, Path: path, Flags: OpenReadOnly}); err != nil {
		t.Fatal(err)
	}
	if v.Name != path || v.Type != DiskAIO || !v.HasImages() {
		t.Fatalf("open did not record image: name %q", v.Name)
	}

	info, err := rt.ImageInfo(v)
	if err != nil {
		t.Fatal(err)
	}
	if info.Sectors != 8 || info.SectorSize != 512 {
		t.Fatalf("info = %+v", info)
	}

	if err := rt.CloseImage(v); err != nil {
		t.Fatal(err)
	}
	if v.HasImages() || !v.Is(StateClosed) {
		t.Fatal("close left images open")
	}
	if _, err := rt.ImageInfo(v); !errors.Is(err, ErrNoImage) {
		t.Fatalf("ImageInfo after close = %v", err)
	}
}

func TestOpenImageSecondary(t *testing.T) {
	rt, _ := newTestRuntime()
	primary := writeImage(t, 512)

	v := New(1)
	err := rt.OpenImage(v, OpenRequest{
		Type:          DiskAIO,
		Path:          primary,
		Flags:         OpenSecondary,
		SecondaryType: DiskSync,
		SecondaryPath: filepath.Join(t.TempDir(), "missing.img"),
	})
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("err = %v, want ENOENT", err)
	}
	if v.HasImages() || v.Name != "" {
		t.Fatal("failed open left state behind")
	}

	secondary := writeImage(t, 512)
	err = rt.OpenImage(v, OpenRequest{
		Type:          DiskAIO,
		Path:          primary,
		Flags:         OpenSecondary,
		SecondaryType: DiskSync,
		SecondaryPath: secondary,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(v.Images()); n != 2 {
		t.Fatalf("images = %d, want 2", n)
	}
	rt.CloseImage(v)
}

func TestOpenImageUnsupportedType(t *testing.T) {
	rt, _ := newTestRuntime()
	err := rt.OpenImage(New(1), OpenRequest{Type: DiskVHD, Path: "/x.vhd"})
	if !errdefs.IsNotImplemented(err) || !errors.Is(err, unix.EOPNOTSUPP) {
		t.Fatalf("err = %v, want not implemented", err)
	}
}

func TestPauseResume(t *testing.T) {
	rt, _ := newTestRuntime()
	v := New(1)
	v.QueueRequest()

	if err := rt.Pause(v); !errors.Is(err, ErrTryAgain) {
		t.Fatalf("pause with pending requests = %v, want ErrTryAgain", err)
	}
	if !v.Is(StatePauseRequested) {
		t.Fatal("pause not requested")
	}

	v.CompleteRequest()
	if err := rt.Pause(v); err != nil {
		t.Fatal(err)
	}
	if !v.Is(StatePaused) || v.Is(StatePauseRequested) {
		t.Fatalf("state = %b after pause", v.State)
	}
	if err := rt.Pause(v); err != nil {
		t.Fatalf("pausing a paused vbd = %v", err)
	}

	if err := rt.Resume(v, nil); err != nil {
		t.Fatal(err)
	}
	if v.Is(StatePaused) {
		t.Fatal("still paused after resume")
	}
	if err := rt.Resume(v, nil); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume of running vbd = %v", err)
	}
}

func TestResumeWithTarget(t *testing.T) {
	rt, _ := newTestRuntime()
	first := writeImage(t, 512)
	second := writeImage(t, 4*512)

	v := New(1)
	if err := rt.OpenImage(v, OpenRequest{Type: DiskAIO, Path: first, Flags: OpenReadOnly}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Pause(v); err != nil {
		t.Fatal(err)
	}
	if err := rt.Resume(v, &Target{Type: DiskSync, Path: second}); err != nil {
		t.Fatal(err)
	}

	if v.Name != second || v.Type != DiskSync {
		t.Fatalf("resume did not switch image: %q", v.Name)
	}
	if !v.Images()[0].Flags.Has(OpenReadOnly) {
		t.Fatal("resume dropped the open flags")
	}
	info, _ := rt.ImageInfo(v)
	if info.Sectors != 4 {
		t.Fatalf("sectors = %d, want 4", info.Sectors)
	}
	rt.CloseImage(v)
}

func TestResumeWithMissingTarget(t *testing.T) {
	rt, _ := newTestRuntime()
	first := writeImage(t, 512)
	missing := filepath.Join(t.TempDir(), "missing.img")

	v := New(1)
	if err := rt.OpenImage(v, OpenRequest{Type: DiskAIO, Path: first}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Pause(v); err != nil {
		t.Fatal(err)
	}

	if err := rt.Resume(v, &Target{Type: DiskAIO, Path: missing}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("resume on missing image: %v", err)
	}

	if v.Name != "" || v.HasImages() {
		t.Fatalf("failed resume left name %q with images %v", v.Name, v.HasImages())
	}
	if !v.Is(StatePaused) {
		t.Fatal("failed resume cleared the paused state")
	}
}
