// Drives a tapdisk control server from the client side.
//
// Every call opens a fresh connection to the control socket, sends one
// request, and reads its response (or, for list, the stream of entries up to
// the terminating record). Failures reported by the server are returned as
// errors wrapping the [unix.Errno] it sent, so callers can test them with
// [errors.Is].
//
// Example usage:
//
//	c := client.ForPID(paths.ControlDir(), pid)
//
//	if err := c.Attach(ctx, 3); err != nil {
//		return err
//	}
//	img, err := c.Open(ctx, 3, "aio:/srv/disk.img", client.OpenOptions{})
//	if err != nil {
//		return err
//	}
//	fmt.Println(img.Sectors)
package client
