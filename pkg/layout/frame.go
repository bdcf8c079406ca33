package layout

import (
	"encoding/binary"
	"fmt"
)

// On-disk frame layout. A frame is a length-prefixed unit inside a term
// window; its physical footprint is the frame length rounded up to
// FrameAlignment. A padding frame carries no payload and fills the window up
// to the next boundary.
//
//	[0:4)   frameLength int32     [12:16) sessionID int32
//	[4:5)   version uint8         [16:20) streamID int32
//	[5:6)   flags uint8           [20:24) termID int32
//	[6:8)   frameType uint16      [24:32) reserved
//	[8:12)  termOffset int32
const (
	FrameAlignment = 32
	HeaderLength   = 32

	CurrentVersion uint8 = 0

	FrameTypePadding uint16 = 0
	FrameTypeData    uint16 = 1

	frameLengthFieldOffset = 0
	versionFieldOffset     = 4
	flagsFieldOffset       = 5
	frameTypeFieldOffset   = 6
	termOffsetFieldOffset  = 8
	sessionIDFieldOffset   = 12
	streamIDFieldOffset    = 16
	termIDFieldOffset      = 20
)

// FrameHeader is a view over a frame header inside a mapped term window.
// Wrap repositions the view without copying; one header value is reused for
// every frame a reader or writer touches.
type FrameHeader struct {
	buf    []byte
	offset int32
}

func (h *FrameHeader) Wrap(buf []byte, offset int32) {
	h.buf = buf
	h.offset = offset
}

func (h *FrameHeader) Offset() int32 {
	return h.offset
}

func (h *FrameHeader) FrameLength() int32 {
	return int32(binary.BigEndian.Uint32(h.buf[h.offset+frameLengthFieldOffset:]))
}

func (h *FrameHeader) Version() uint8 {
	return h.buf[h.offset+versionFieldOffset]
}

func (h *FrameHeader) Flags() uint8 {
	return h.buf[h.offset+flagsFieldOffset]
}

func (h *FrameHeader) FrameType() uint16 {
	return binary.BigEndian.Uint16(h.buf[h.offset+frameTypeFieldOffset:])
}

func (h *FrameHeader) TermOffset() int32 {
	return int32(binary.BigEndian.Uint32(h.buf[h.offset+termOffsetFieldOffset:]))
}

func (h *FrameHeader) SessionID() int32 {
	return int32(binary.BigEndian.Uint32(h.buf[h.offset+sessionIDFieldOffset:]))
}

func (h *FrameHeader) StreamID() int32 {
	return int32(binary.BigEndian.Uint32(h.buf[h.offset+streamIDFieldOffset:]))
}

func (h *FrameHeader) TermID() int32 {
	return int32(binary.BigEndian.Uint32(h.buf[h.offset+termIDFieldOffset:]))
}

// String renders the header fields for diagnostics, used when a broken frame
// is reported.
func (h *FrameHeader) String() string {
	return fmt.Sprintf("frame{length=%d type=%d termId=%d termOffset=%d sessionId=%d streamId=%d}",
		h.FrameLength(), h.FrameType(), h.TermID(), h.TermOffset(), h.SessionID(), h.StreamID())
}

// PutFrameHeader encodes a frame header at offset in buf. The payload bytes,
// if any, follow at offset+HeaderLength.
func PutFrameHeader(buf []byte, offset, frameLength int32, frameType uint16, termID, termOffset, sessionID, streamID int32) {
	binary.BigEndian.PutUint32(buf[offset+frameLengthFieldOffset:], uint32(frameLength))
	buf[offset+versionFieldOffset] = CurrentVersion
	buf[offset+flagsFieldOffset] = 0
	binary.BigEndian.PutUint16(buf[offset+frameTypeFieldOffset:], frameType)
	binary.BigEndian.PutUint32(buf[offset+termOffsetFieldOffset:], uint32(termOffset))
	binary.BigEndian.PutUint32(buf[offset+sessionIDFieldOffset:], uint32(sessionID))
	binary.BigEndian.PutUint32(buf[offset+streamIDFieldOffset:], uint32(streamID))
	binary.BigEndian.PutUint32(buf[offset+termIDFieldOffset:], uint32(termID))
}
