// Package protocol implements the tapdisk control wire format.
//
// Every message on the control socket is a fixed-size record of [Size]
// bytes: a small header carrying the message [Type] and a 32-bit cookie,
// followed by a payload union sized to its largest variant. There is no
// length prefix; message boundaries are implied by the record size and
// unused payload bytes are always zero.
//
// The payload is modelled as a tagged variant. Each message type maps to
// exactly one [Body] implementation ([Params], [Image], [Response],
// [Minors], [ListEntry], [PID]), and types the daemon does not interpret are
// carried verbatim as [Raw] so that decoding and re-encoding any record is
// lossless.
//
// Two codecs are provided. [ReadMessage] and [WriteMessage] operate on raw
// file descriptors and wait for readiness with poll(2) before every read or
// write, so a wedged peer cannot hold the caller past its deadline. They
// are used by the daemon's single-threaded event loop. [Decode] and
// [Encode] operate on an [io.Reader] or [io.Writer] and are used by the
// control client over a [net.Conn].
//
// Example usage:
//
//	msg, err := protocol.ReadMessage(fd, protocol.DefaultTimeout)
//	if err != nil {
//	    return err
//	}
//
//	rsp := protocol.NewResponse(protocol.TypePIDResponse, msg.Cookie, &protocol.PID{Value: int32(os.Getpid())})
//	return protocol.WriteMessage(fd, rsp, protocol.DefaultTimeout)
package protocol
