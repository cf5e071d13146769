package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cruciblehq/tapdiskd/internal/client"
	"github.com/cruciblehq/tapdiskd/internal/protocol"
)

var errNoTarget = errors.New("either --pid or --socket is required")

// Represents the 'tapdiskd ctl' command group.
type CtlCmd struct {
	PID     int           `name:"pid" short:"p" help:"Process id of the target daemon." placeholder:"PID"`
	Socket  string        `help:"Path to the control socket of the target daemon." placeholder:"PATH"`
	Timeout time.Duration `help:"Deadline for requests that complete immediately." default:"${io_timeout}"`

	ShowPID    CtlPidCmd        `cmd:"" name:"pid" help:"Print the process id of the daemon."`
	List       CtlListCmd       `cmd:"" help:"List VBDs."`
	ListMinors CtlListMinorsCmd `cmd:"" name:"list-minors" help:"List VBD minors."`
	Attach     CtlAttachCmd     `cmd:"" help:"Create a VBD on a ring device."`
	Detach     CtlDetachCmd     `cmd:"" help:"Remove a VBD from its ring device."`
	Open       CtlOpenCmd       `cmd:"" help:"Open an image on a VBD."`
	Close      CtlCloseCmd      `cmd:"" help:"Close the image of a VBD."`
	Pause      CtlPauseCmd      `cmd:"" help:"Pause a VBD."`
	Resume     CtlResumeCmd     `cmd:"" help:"Resume a paused VBD."`
}

// Returns a client for the daemon selected by the ctl flags.
func (c *CtlCmd) client() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(c.Timeout)}

	switch {
	case c.Socket != "":
		return client.New(c.Socket, opts...), nil
	case c.PID > 0:
		return client.ForPID(socketDir(), c.PID, opts...), nil
	default:
		return nil, errNoTarget
	}
}

// Represents the 'tapdiskd ctl pid' command.
type CtlPidCmd struct{}

func (c *CtlPidCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}

	pid, err := cl.PID(ctx)
	if err != nil {
		return err
	}

	fmt.Println(pid)
	return nil
}

// Represents the 'tapdiskd ctl list' command.
type CtlListCmd struct{}

// Prints one line per VBD: minor, state bits, and image.
func (c *CtlListCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}

	entries, err := cl.List(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		path := e.Path
		if path == "" {
			path = "-"
		}
		fmt.Printf("minor=%d state=%#x args=%s\n", e.Minor, e.State, path)
	}
	return nil
}

// Represents the 'tapdiskd ctl list-minors' command.
type CtlListMinorsCmd struct{}

func (c *CtlListMinorsCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}

	minors, err := cl.ListMinors(ctx)
	if err != nil {
		return err
	}

	for _, m := range minors {
		fmt.Println(m)
	}
	return nil
}

// Represents the 'tapdiskd ctl attach' command.
type CtlAttachCmd struct {
	ID int `arg:"" help:"VBD id, also the ring device minor."`
}

func (c *CtlAttachCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}
	return cl.Attach(ctx, c.ID)
}

// Represents the 'tapdiskd ctl detach' command.
type CtlDetachCmd struct {
	ID int `arg:"" help:"VBD id."`
}

func (c *CtlDetachCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}
	return cl.Detach(ctx, c.ID)
}

// Represents the 'tapdiskd ctl open' command.
type CtlOpenCmd struct {
	ID          int    `arg:"" help:"VBD id."`
	Path        string `arg:"" help:"Image as type:path, e.g. aio:/srv/disk.img."`
	ReadOnly    bool   `name:"readonly" short:"R" help:"Open the image read-only."`
	Shared      bool   `help:"Allow the image to be shared."`
	AddCache    bool   `name:"add-cache" help:"Stack a read cache over the image."`
	LocalCache  bool   `name:"local-cache" help:"Stack a local cache over the image."`
	VHDIndex    bool   `name:"vhd-index" help:"Use the VHD block index."`
	LogDirty    bool   `name:"log-dirty" help:"Log dirty blocks."`
	ReuseParent bool   `name:"reuse-parent" help:"Reuse an already open parent image."`
	Secondary   string `help:"Mirror writes to this type:path image." placeholder:"TYPE:PATH"`
	Standby     bool   `help:"Open the secondary in standby mode."`
}

// Returns the wire flags selected on the command line.
func (c *CtlOpenCmd) flags() uint32 {
	var flags uint32
	for _, f := range []struct {
		set  bool
		flag uint32
	}{
		{c.ReadOnly, protocol.FlagReadOnly},
		{c.Shared, protocol.FlagShared},
		{c.AddCache, protocol.FlagAddCache},
		{c.LocalCache, protocol.FlagAddLCache},
		{c.VHDIndex, protocol.FlagVHDIndex},
		{c.LogDirty, protocol.FlagLogDirty},
		{c.ReuseParent, protocol.FlagReuseParent},
		{c.Standby, protocol.FlagStandby},
	} {
		if f.set {
			flags |= f.flag
		}
	}
	return flags
}

// Opens the image and prints its geometry.
func (c *CtlOpenCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}

	img, err := cl.Open(ctx, c.ID, c.Path, client.OpenOptions{
		Flags:     c.flags(),
		Secondary: c.Secondary,
	})
	if err != nil {
		return err
	}

	fmt.Printf("sectors=%d sector_size=%d info=%#x\n", img.Sectors, img.SectorSize, img.Info)
	return nil
}

// Represents the 'tapdiskd ctl close' command.
type CtlCloseCmd struct {
	ID int `arg:"" help:"VBD id."`
}

func (c *CtlCloseCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}
	return cl.Close(ctx, c.ID)
}

// Represents the 'tapdiskd ctl pause' command.
type CtlPauseCmd struct {
	ID int `arg:"" help:"VBD id."`
}

func (c *CtlPauseCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}
	return cl.Pause(ctx, c.ID)
}

// Represents the 'tapdiskd ctl resume' command.
type CtlResumeCmd struct {
	ID   int    `arg:"" help:"VBD id."`
	Path string `arg:"" optional:"" help:"Reopen the VBD on this type:path image."`
}

func (c *CtlResumeCmd) Run(ctx context.Context) error {
	cl, err := RootCmd.Ctl.client()
	if err != nil {
		return err
	}
	return cl.Resume(ctx, c.ID, c.Path)
}
