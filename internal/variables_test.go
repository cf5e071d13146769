package internal

import (
	"runtime"
	"testing"
)

func setBuild(t *testing.T, v, s, c string) {
	t.Helper()
	oldV, oldS, oldC := version, stage, gitCommit
	version, stage, gitCommit = v, s, c
	t.Cleanup(func() { version, stage, gitCommit = oldV, oldS, oldC })
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		name                   string
		version, stage, commit string
		want                   string
	}{
		{"local", "", "main", "abc", defaultLocalBuild},
		{"main", "v1.2.3", "main", "abc", "1.2.3 abc [" + runtime.GOARCH + "]"},
		{"staging", "1.2.3", "Staging", "abc", "1.2.3+staging abc [" + runtime.GOARCH + "]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBuild(t, tt.version, tt.stage, tt.commit)
			if got := VersionString(); got != tt.want {
				t.Fatalf("VersionString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUndefined(t *testing.T) {
	setBuild(t, " ", "", "")

	if Version() != defaultUndefined || Stage() != defaultUndefined || GitCommit() != defaultUndefined {
		t.Fatalf("unset variables: %q %q %q", Version(), Stage(), GitCommit())
	}
	if !IsLocal() {
		t.Fatal("build without metadata is not local")
	}
}

func TestModes(t *testing.T) {
	defer SetDebug(IsDebug())

	SetDebug(true)
	if !IsDebug() {
		t.Fatal("debug mode not set")
	}
	SetDebug(false)
	if IsDebug() {
		t.Fatal("debug mode not cleared")
	}
}
