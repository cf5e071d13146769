package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (

	// Maximum length of a path string, including its NUL terminator.
	MaxPathLength = 256

	// Maximum length of a free-form response string.
	MaxStringLength = 256

	// Maximum number of minors carried by a single list-minors response.
	MaxMinors = MaxPathLength/4 - 1

	// Size of the fixed message header (type, reserved, cookie).
	HeaderSize = 8

	// Size of the payload union, equal to its largest variant ([Params]).
	PayloadSize = paramsSize

	// Total on-wire size of every message.
	Size = HeaderSize + PayloadSize

	// Deadline applied to control socket reads and writes.
	DefaultTimeout = 2 * time.Second
)

// Byte order of every multi-byte field on the wire.
var byteOrder = binary.LittleEndian

// Identifies the kind of a control message.
type Type uint16

const (
	TypeError Type = iota + 1
	TypeRuntimeError
	TypePID
	TypePIDResponse
	TypeAttach
	TypeAttachResponse
	TypeOpen
	TypeOpenResponse
	TypePause
	TypePauseResponse
	TypeResume
	TypeResumeResponse
	TypeClose
	TypeCloseResponse
	TypeDetach
	TypeDetachResponse
	TypeListMinors
	TypeListMinorsResponse
	TypeList
	TypeListResponse
	TypeStats
	TypeStatsResponse
	TypeForceShutdown
	TypeExit
)

var typeNames = map[Type]string{
	TypeError:              "error",
	TypeRuntimeError:       "runtime error",
	TypePID:                "pid",
	TypePIDResponse:        "pid response",
	TypeAttach:             "attach",
	TypeAttachResponse:     "attach response",
	TypeOpen:               "open",
	TypeOpenResponse:       "open response",
	TypePause:              "pause",
	TypePauseResponse:      "pause response",
	TypeResume:             "resume",
	TypeResumeResponse:     "resume response",
	TypeClose:              "close",
	TypeCloseResponse:      "close response",
	TypeDetach:             "detach",
	TypeDetachResponse:     "detach response",
	TypeListMinors:         "list minors",
	TypeListMinorsResponse: "list minors response",
	TypeList:               "list",
	TypeListResponse:       "list response",
	TypeStats:              "stats",
	TypeStatsResponse:      "stats response",
	TypeForceShutdown:      "force shutdown",
	TypeExit:               "exit",
}

// Returns the human readable name of the message type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown (%d)", uint16(t))
}

// Whether the type is part of the known message enumeration.
func (t Type) Valid() bool {
	return t >= TypeError && t <= TypeExit
}

// A single control message.
//
// Body holds the type-specific payload. A nil Body encodes as an all-zero
// payload.
type Message struct {
	Type   Type   // Message type tag.
	Cookie uint32 // Client-supplied correlation id, also the VBD id for lifecycle messages.
	Body   Body   // Payload variant, selected by Type.
}

// Creates a request message with the given payload.
func NewRequest(t Type, cookie uint32, body Body) *Message {
	return &Message{Type: t, Cookie: cookie, Body: body}
}

// Creates a response message with the given payload.
func NewResponse(t Type, cookie uint32, body Body) *Message {
	return &Message{Type: t, Cookie: cookie, Body: body}
}

// Creates a generic error response carrying a positive errno-style code.
func NewError(cookie uint32, code int32) *Message {
	return &Message{Type: TypeError, Cookie: cookie, Body: &Response{Error: code}}
}

// Encodes the message into a zero-padded record of exactly [Size] bytes.
func (m *Message) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	m.encode(buf)
	return buf, nil
}

// Decodes a record of exactly [Size] bytes.
//
// The payload variant is chosen from the decoded type.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("%w: record is %d bytes, want %d", ErrProtocol, len(b), Size)
	}

	m.Type = Type(byteOrder.Uint16(b[0:]))
	m.Cookie = byteOrder.Uint32(b[4:])
	m.Body = newBody(m.Type)
	if m.Body != nil {
		m.Body.decode(b[HeaderSize:])
	}

	return nil
}

func (m *Message) encode(buf []byte) {
	byteOrder.PutUint16(buf[0:], uint16(m.Type))
	byteOrder.PutUint32(buf[4:], m.Cookie)
	if m.Body != nil {
		m.Body.encode(buf[HeaderSize:])
	}
}

// Checks the structural validity of a received request.
//
// Path strings embedded in the payload must be NUL-terminated within their
// fixed buffers.
func (m *Message) Validate() error {
	p, ok := m.Body.(*Params)
	if !ok {
		return nil
	}
	if !terminated(p.Path[:]) || !terminated(p.Secondary[:]) {
		return fmt.Errorf("%w: unterminated path in %s message", ErrInvalidMessage, m.Type)
	}
	return nil
}

// Returns the parameters payload, or a zero value when the message does not
// carry one.
func (m *Message) Params() *Params {
	if p, ok := m.Body.(*Params); ok {
		return p
	}
	return &Params{}
}

// Returns the generic response payload, if any.
func (m *Message) Response() (*Response, bool) {
	r, ok := m.Body.(*Response)
	return r, ok
}

// Returns the payload variant used for the given type, or nil for types
// that carry no payload.
func newBody(t Type) Body {
	switch t {
	case TypeAttach, TypeDetach, TypeOpen, TypePause, TypeResume, TypeClose:
		return &Params{}
	case TypeOpenResponse:
		return &Image{}
	case TypeListResponse:
		return &ListEntry{}
	case TypeListMinorsResponse:
		return &Minors{}
	case TypePIDResponse:
		return &PID{}
	case TypeError, TypeRuntimeError, TypeAttachResponse, TypeDetachResponse,
		TypePauseResponse, TypeResumeResponse, TypeCloseResponse:
		return &Response{}
	case TypePID, TypeList, TypeListMinors:
		return nil
	default:
		return &Raw{}
	}
}
