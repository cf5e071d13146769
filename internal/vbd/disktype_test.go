package vbd

import (
	"testing"

	"github.com/containerd/errdefs"
)

func TestParseDiskType(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		wantType DiskType
		wantPath string
		wantErr  bool
	}{
		{name: "aio", params: "aio:/tmp/x.img", wantType: DiskAIO, wantPath: "/tmp/x.img"},
		{name: "vhd", params: "vhd:/srv/a.vhd", wantType: DiskVHD, wantPath: "/srv/a.vhd"},
		{name: "path with colon", params: "sync:/a:b", wantType: DiskSync, wantPath: "/a:b"},
		{name: "block cache", params: "bc:/dev/sda", wantType: DiskBlockCache, wantPath: "/dev/sda"},
		{name: "missing separator", params: "/tmp/x.img", wantErr: true},
		{name: "unknown type", params: "nbd:/tmp/x.img", wantErr: true},
		{name: "empty path", params: "aio:", wantErr: true},
		{name: "empty", params: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, path, err := ParseDiskType(tt.params)
			if tt.wantErr {
				if !errdefs.IsInvalidArgument(err) {
					t.Fatalf("err = %v, want invalid argument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if typ != tt.wantType || path != tt.wantPath {
				t.Fatalf("got (%s, %q), want (%s, %q)", typ, path, tt.wantType, tt.wantPath)
			}
		})
	}
}

func TestDiskTypeString(t *testing.T) {
	if DiskQcow.String() != "qcow" {
		t.Fatalf("DiskQcow = %q", DiskQcow.String())
	}
	if DiskType(99).String() != "disktype(99)" {
		t.Fatalf("DiskType(99) = %q", DiskType(99).String())
	}
	if !DiskAIO.Raw() || DiskVHD.Raw() {
		t.Fatal("Raw classification wrong")
	}
}

func TestOpenFlagsString(t *testing.T) {
	if got := (OpenReadOnly | OpenSecondary).String(); got != "rdonly|secondary" {
		t.Fatalf("String = %q", got)
	}
	if got := OpenFlags(0).String(); got != "none" {
		t.Fatalf("String = %q", got)
	}
	if !(OpenReadOnly | OpenStandby).Has(OpenStandby) {
		t.Fatal("Has(OpenStandby) = false")
	}
}
