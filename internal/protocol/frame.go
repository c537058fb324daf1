// Package protocol implements the framed wire format spoken between the
// agent and the collector.
//
// Every frame is a one-byte type, a big-endian uint32 payload length and
// the payload itself. The payload length counts the payload only.
package protocol

import "encoding/binary"

// Frame types.
const (
	FrameAuth  byte = 'A'
	FrameImage byte = 'I'
)

// Auth response bytes (collector -> agent).
const (
	AuthAccepted byte = 'Y'
	AuthRejected byte = 'N'
)

// Header: [1B type][4B payload length big-endian]
const HeaderSize = 5

// MaxFramePayload caps the declared payload length. A frame declaring
// more closes the session before any payload byte is read.
const MaxFramePayload = 10 * 1024 * 1024

// Frame is one parsed wire message.
type Frame struct {
	Type    byte
	Payload []byte
}

// EncodeFrame serializes a frame for transmission.
func EncodeFrame(frameType byte, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = frameType
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// ParseStatus is the outcome of one parser step.
type ParseStatus int

const (
	// NeedMore means the input ran out before the frame completed.
	NeedMore ParseStatus = iota
	// FrameComplete means one whole frame was consumed.
	FrameComplete
	// TooLarge means the declared payload length exceeds MaxFramePayload.
	TooLarge
)

// parser cursor slots, filled in order
const (
	slotType = iota
	slotLength
	slotPayload
)

// Parser assembles frames out of a byte stream that may arrive in any
// chunking. Progress is kept across calls: feed it whatever bytes are
// available and call Next until it reports NeedMore.
//
// After TooLarge the parser is dead; the owning session must be closed.
type Parser struct {
	slot    int
	typ     byte
	lenBuf  [4]byte
	lenFill int
	need    int
	payload []byte
}

// Next consumes as many bytes as possible from the front of *in,
// advancing the cursor. On FrameComplete the cursor resets so the
// remaining bytes in *in parse as the next frame.
func (p *Parser) Next(in *[]byte) (Frame, ParseStatus) {
	buf := *in

	if p.slot == slotType {
		if len(buf) == 0 {
			return Frame{}, NeedMore
		}
		p.typ = buf[0]
		buf = buf[1:]
		p.slot = slotLength
	}

	if p.slot == slotLength {
		n := copy(p.lenBuf[p.lenFill:], buf)
		p.lenFill += n
		buf = buf[n:]
		*in = buf

		if p.lenFill < len(p.lenBuf) {
			return Frame{}, NeedMore
		}

		declared := binary.BigEndian.Uint32(p.lenBuf[:])
		if declared > MaxFramePayload {
			return Frame{}, TooLarge
		}

		p.need = int(declared)
		// Capacity is bounded by the declared length, which already
		// passed the cap check.
		p.payload = make([]byte, 0, p.need)
		p.slot = slotPayload
	}

	take := p.need - len(p.payload)
	if take > len(buf) {
		take = len(buf)
	}
	p.payload = append(p.payload, buf[:take]...)
	buf = buf[take:]
	*in = buf

	if len(p.payload) < p.need {
		return Frame{}, NeedMore
	}

	frame := Frame{Type: p.typ, Payload: p.payload}
	p.reset()
	return frame, FrameComplete
}

func (p *Parser) reset() {
	p.slot = slotType
	p.typ = 0
	p.lenFill = 0
	p.need = 0
	p.payload = nil
}
