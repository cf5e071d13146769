package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cruciblehq/tapdiskd/internal/blktap"
	"github.com/cruciblehq/tapdiskd/internal/protocol"
	"github.com/cruciblehq/tapdiskd/internal/scheduler"
	"github.com/cruciblehq/tapdiskd/internal/server"
	"github.com/cruciblehq/tapdiskd/internal/vbd"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

type nopRing struct{}

func (nopRing) CreateDevice(blktap.Params) error { return nil }
func (nopRing) RemoveDevice() error              { return nil }
func (nopRing) Close() error                     { return nil }

// Starts a control server with an in-memory ring and returns a client for it.
func startServer(t *testing.T) *Client {
	t.Helper()

	sched, err := scheduler.New(scheduler.WithTimeout(10 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	srv, err := server.New(server.Config{
		Loop:      sched,
		SocketDir: dir,
		Runtime:   vbd.NewRawRuntimeWithRing(func(string) (vbd.Device, error) { return nopRing{}, nil }),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
		srv.Stop()
		sched.Close()
	})

	return ForPID(dir, os.Getpid())
}

func writeImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, size), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPID(t *testing.T) {
	c := startServer(t)

	pid, err := c.PID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestLifecycle(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()
	image := writeImage(t, 64*512)

	if err := c.Attach(ctx, 2); err != nil {
		t.Fatal(err)
	}

	img, err := c.Open(ctx, 2, "aio:"+image, OpenOptions{Flags: protocol.FlagReadOnly})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Image{Sectors: 64, SectorSize: 512}, img); diff != "" {
		t.Fatalf("image mismatch (-want +got):\n%s", diff)
	}

	entries, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{{Minor: 2, Path: "aio:" + image}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}

	if err := c.Pause(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := c.Resume(ctx, 2, ""); err != nil {
		t.Fatal(err)
	}

	if err := c.Detach(ctx, 2); !errors.Is(err, unix.EBUSY) || !errors.Is(err, ErrRequest) {
		t.Fatalf("detach of open vbd: %v", err)
	}

	if err := c.Close(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := c.Detach(ctx, 2); err != nil {
		t.Fatal(err)
	}

	entries, err = c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("list after detach = %v, want empty", entries)
	}
}

func TestListMinors(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	minors, err := c.ListMinors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(minors) != 0 {
		t.Fatalf("minors = %v, want empty", minors)
	}

	for _, id := range []int{5, 3} {
		if err := c.Attach(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	minors, err = c.ListMinors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{5, 3}, minors); diff != "" {
		t.Fatalf("minors mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestErrors(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	if err := c.Attach(ctx, 1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
		want unix.Errno
	}{
		{"attach twice", func() error { return c.Attach(ctx, 1) }, unix.EEXIST},
		{"close unknown", func() error { return c.Close(ctx, 9) }, unix.ENODEV},
		{"pause unknown", func() error { return c.Pause(ctx, 9) }, unix.EINVAL},
		{"open unknown type", func() error {
			_, err := c.Open(ctx, 1, "nope:/x", OpenOptions{})
			return err
		}, unix.EINVAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenPathTooLong(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "ctl1"))
	long := make([]byte, protocol.MaxPathLength)
	for i := range long {
		long[i] = 'a'
	}

	if _, err := c.Open(context.Background(), 1, string(long), OpenOptions{}); !errors.Is(err, protocol.ErrPathTooLong) {
		t.Fatalf("open with long path: %v", err)
	}
}

func TestNoServer(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "ctl1"), WithTimeout(100*time.Millisecond))

	if _, err := c.PID(context.Background()); !errors.Is(err, ErrClient) {
		t.Fatalf("pid without server: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	c := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.PID(ctx); err == nil {
		t.Fatal("pid with cancelled context succeeded")
	}
}
