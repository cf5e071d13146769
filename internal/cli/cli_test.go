package cli

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cruciblehq/tapdiskd/internal/paths"
	"github.com/cruciblehq/tapdiskd/internal/protocol"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		debug, quiet bool
		want         slog.Level
	}{
		{false, false, slog.LevelInfo},
		{true, false, slog.LevelDebug},
		{false, true, slog.LevelWarn},
		{true, true, slog.LevelDebug},
	}

	for _, tt := range tests {
		if got := logLevel(tt.debug, tt.quiet); got != tt.want {
			t.Fatalf("logLevel(%v, %v) = %v, want %v", tt.debug, tt.quiet, got, tt.want)
		}
	}
}

func TestOpenFlags(t *testing.T) {
	c := &CtlOpenCmd{ReadOnly: true, LocalCache: true, Standby: true}
	want := protocol.FlagReadOnly | protocol.FlagAddLCache | protocol.FlagStandby
	if got := c.flags(); got != want {
		t.Fatalf("flags = %#x, want %#x", got, want)
	}

	if got := (&CtlOpenCmd{}).flags(); got != 0 {
		t.Fatalf("flags without options = %#x, want 0", got)
	}
}

func TestCtlClientTarget(t *testing.T) {
	dir := t.TempDir()
	RootCmd.SocketDir = dir
	t.Cleanup(func() { RootCmd.SocketDir = "" })

	if _, err := (&CtlCmd{}).client(); !errors.Is(err, errNoTarget) {
		t.Fatalf("client without target: %v", err)
	}

	cl, err := (&CtlCmd{PID: 77}).client()
	if err != nil {
		t.Fatal(err)
	}
	if want := paths.Socket(dir, 77); cl.Socket() != want {
		t.Fatalf("socket = %q, want %q", cl.Socket(), want)
	}

	explicit := filepath.Join(dir, "other")
	cl, err = (&CtlCmd{PID: 77, Socket: explicit}).client()
	if err != nil {
		t.Fatal(err)
	}
	if cl.Socket() != explicit {
		t.Fatalf("socket = %q, want %q", cl.Socket(), explicit)
	}
}
