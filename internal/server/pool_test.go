package server

import (
	"errors"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/cruciblehq/tapdiskd/internal/scheduler"
)

type recordingLoop struct {
	unregistered []scheduler.EventID
}

func (l *recordingLoop) Register(int, scheduler.Mode, scheduler.Callback) (scheduler.EventID, error) {
	return 1, nil
}

func (l *recordingLoop) Unregister(id scheduler.EventID) {
	l.unregistered = append(l.unregistered, id)
}

func (l *recordingLoop) RunOnce() error { return nil }

func TestPoolCapacity(t *testing.T) {
	p := newPool(&recordingLoop{})

	conns := make([]*Connection, 0, MaxConnections)
	for i := 0; i < MaxConnections; i++ {
		c, err := p.allocate(-1)
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		conns = append(conns, c)
	}

	if _, err := p.allocate(-1); !errors.Is(err, ErrPoolExhausted) || !errdefs.IsResourceExhausted(err) {
		t.Fatalf("allocate beyond capacity: %v", err)
	}

	p.release(conns[7])
	if p.len() != MaxConnections-1 {
		t.Fatalf("len = %d, want %d", p.len(), MaxConnections-1)
	}

	c, err := p.allocate(-1)
	if err != nil {
		t.Fatal(err)
	}
	if c != conns[7] {
		t.Fatal("released slot was not reused")
	}
}

func TestPoolReleaseBusy(t *testing.T) {
	loop := &recordingLoop{}
	p := newPool(loop)

	c, _ := p.allocate(-1)
	c.event = 9
	c.busy = true

	p.release(c)
	if c.event != 0 || c.Valid() {
		t.Fatal("busy release did not drop event and socket")
	}
	if len(loop.unregistered) != 1 || loop.unregistered[0] != 9 {
		t.Fatalf("unregistered = %v, want [9]", loop.unregistered)
	}
	if p.len() != 1 {
		t.Fatalf("busy slot returned to pool: len = %d", p.len())
	}

	c.busy = false
	p.release(c)
	if p.len() != 0 {
		t.Fatalf("len = %d after final release, want 0", p.len())
	}

	p.release(c)
	if p.len() != 0 {
		t.Fatal("double release changed accounting")
	}
}

func TestPoolReleaseCorrupted(t *testing.T) {
	p := newPool(&recordingLoop{})
	c, _ := p.allocate(-1)
	p.n = 0

	defer func() {
		if recover() == nil {
			t.Fatal("release with corrupted accounting did not panic")
		}
	}()
	p.release(c)
}
