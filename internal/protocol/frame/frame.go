package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/glowlink/internal/protocol/identity"
)

// Layout: senderAddress(6) | senderID(4) | payloadLen(2) | payload(0..MaxPayload).
// Integers are big-endian.
const (
	HeaderLen   = identity.AddressLen + 4 + 2
	MaxFrameLen = 250
	MaxPayload  = MaxFrameLen - HeaderLen

	offsetID  = identity.AddressLen
	offsetLen = offsetID + 4
)

var (
	ErrMalformed       = errors.New("frame: malformed")
	ErrTooShort        = fmt.Errorf("%w: shorter than fixed header", ErrMalformed)
	ErrLengthMismatch  = fmt.Errorf("%w: payload length does not match buffer", ErrMalformed)
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrMalformed)
)

// Frame is one complete broadcast message.
type Frame struct {
	Address  identity.Address
	SenderID uint32
	Payload  []byte
}

// Len is the encoded size of f.
func (f Frame) Len() int {
	return HeaderLen + len(f.Payload)
}

// Encode builds the wire bytes for one frame. Oversized payloads are rejected, never truncated.
func Encode(addr identity.Address, senderID uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}
	buf := make([]byte, HeaderLen+len(payload))
	copy(buf[:offsetID], addr[:])
	binary.BigEndian.PutUint32(buf[offsetID:offsetLen], senderID)
	binary.BigEndian.PutUint16(buf[offsetLen:HeaderLen], uint16(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// EncodeFrame is Encode for an assembled Frame.
func EncodeFrame(f Frame) ([]byte, error) {
	return Encode(f.Address, f.SenderID, f.Payload)
}

// Decode parses b into a Frame. It never returns a partially filled frame.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, fmt.Errorf("%w: got %d bytes", ErrTooShort, len(b))
	}
	payloadLen := int(binary.BigEndian.Uint16(b[offsetLen:HeaderLen]))
	if payloadLen > MaxPayload {
		if payloadLen > len(b)-HeaderLen {
			return Frame{}, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, payloadLen, len(b)-HeaderLen)
		}
		return Frame{}, fmt.Errorf("%w: declared %d", ErrPayloadTooLarge, payloadLen)
	}
	if HeaderLen+payloadLen != len(b) {
		return Frame{}, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, payloadLen, len(b)-HeaderLen)
	}

	var f Frame
	copy(f.Address[:], b[:offsetID])
	f.SenderID = binary.BigEndian.Uint32(b[offsetID:offsetLen])
	f.Payload = make([]byte, payloadLen)
	copy(f.Payload, b[HeaderLen:])
	return f, nil
}
