package comm

import (
	"errors"
	"fmt"
)

// FrameSize is the size of a raw USB report carrying one Message.
const FrameSize = 64

// MaxPayload is the largest payload that fits in a frame after the id and
// length header bytes.
const MaxPayload = FrameSize - 2

var (
	// ErrFrameTooShort is returned by DecodeFrame for buffers under FrameSize.
	ErrFrameTooShort = errors.New("frame too short")
	// ErrFrameLength is returned when the encoded length overflows the frame.
	ErrFrameLength = errors.New("frame length out of range")
	// ErrMessageID is returned when an id cannot be encoded in one byte.
	ErrMessageID = errors.New("message id out of range")
)

// EncodeFrame packs msg into a frame: byte 0 holds the id, byte 1 the
// payload length, the payload follows and the rest is zero.
func EncodeFrame(msg Message) ([FrameSize]byte, error) {
	var f [FrameSize]byte
	if msg.ID < 0 || msg.ID > 0xff {
		return f, fmt.Errorf("%w: %d", ErrMessageID, msg.ID)
	}
	if msg.Len() > MaxPayload {
		return f, fmt.Errorf("%w: payload is %d bytes, max %d", ErrFrameLength, msg.Len(), MaxPayload)
	}
	f[0] = byte(msg.ID)
	f[1] = byte(msg.Len())
	copy(f[2:], msg.payload)
	return f, nil
}

// DecodeFrame unpacks a frame produced by EncodeFrame. Bytes past FrameSize
// are ignored.
func DecodeFrame(data []byte) (Message, error) {
	if len(data) < FrameSize {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameTooShort, len(data), FrameSize)
	}
	n := int(data[1])
	if n > MaxPayload {
		return Message{}, fmt.Errorf("%w: %d", ErrFrameLength, n)
	}
	return NewMessage(int(data[0]), data[2:2+n]), nil
}
