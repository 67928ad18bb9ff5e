package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Every websocket binary message is one frame:
//
//	+------+-------+----------------+-----------+
//	| type | flags | length (BE u32) | payload   |
//	+------+-------+----------------+-----------+
const (
	FrameHeaderSize = 6

	// MaxPayloadSize caps a single frame at 16 MiB.
	MaxPayloadSize = 16 << 20

	// CompressThreshold is the default payload size above which the
	// websocket transport gzips frames.
	CompressThreshold = 4 << 10
)

// FrameType identifies the type of frame.
type FrameType uint8

const (
	FrameCall  FrameType = iota + 1 // host to native
	FrameReply                      // native to host, result
	FrameError                      // native to host, failure
	FrameEvent                      // native to host
	FrameClose                      // either side
)

var frameNames = [...]string{
	FrameCall:  "Call",
	FrameReply: "Reply",
	FrameError: "Error",
	FrameEvent: "Event",
	FrameClose: "Close",
}

func (ft FrameType) valid() bool {
	return ft >= FrameCall && ft <= FrameClose
}

func (ft FrameType) String() string {
	if !ft.valid() {
		return "Unknown"
	}
	return frameNames[ft]
}

// FrameFlags is a bit set carried in the second header byte.
type FrameFlags uint8

// FlagCompressed marks a gzip payload.
const FlagCompressed FrameFlags = 1 << 0

// Has reports whether flag is set.
func (ff FrameFlags) Has(flag FrameFlags) bool {
	return ff&flag == flag
}

var (
	ErrFrameTooLarge    = errors.New("protocol: frame payload too large")
	ErrInvalidFrameType = errors.New("protocol: invalid frame type")
)

// Frame is one transport unit.
type Frame struct {
	Type    FrameType
	Flags   FrameFlags
	Payload []byte
}

func NewFrame(ft FrameType, payload []byte) *Frame {
	return &Frame{Type: ft, Payload: payload}
}

// Encode returns the header followed by the payload.
func (f *Frame) Encode() []byte {
	out := make([]byte, 0, FrameHeaderSize+len(f.Payload))
	out = append(out, byte(f.Type), byte(f.Flags))
	out = binary.BigEndian.AppendUint32(out, uint32(len(f.Payload)))
	return append(out, f.Payload...)
}

// DecodeFrame parses one websocket message. The payload is copied, so
// msg may be reused by the caller.
func DecodeFrame(msg []byte) (*Frame, error) {
	if len(msg) < FrameHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	f := &Frame{Type: FrameType(msg[0]), Flags: FrameFlags(msg[1])}
	if !f.Type.valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidFrameType, msg[0])
	}
	n := binary.BigEndian.Uint32(msg[2:FrameHeaderSize])
	switch {
	case n > MaxPayloadSize:
		return nil, ErrFrameTooLarge
	case int(n) > len(msg)-FrameHeaderSize:
		return nil, io.ErrUnexpectedEOF
	}
	f.Payload = bytes.Clone(msg[FrameHeaderSize : FrameHeaderSize+int(n)])
	return f, nil
}

// Compress gzips the payload when it is longer than min and the result
// is smaller, and reports whether it did.
func (f *Frame) Compress(min int) (bool, error) {
	if len(f.Payload) <= min || f.Flags.Has(FlagCompressed) {
		return false, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(f.Payload)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, err
	}
	if buf.Len() >= len(f.Payload) {
		return false, nil
	}
	f.Payload, f.Flags = buf.Bytes(), f.Flags|FlagCompressed
	return true, nil
}

// Body returns the payload, inflating it if FlagCompressed is set. The
// inflated size is held to MaxPayloadSize.
func (f *Frame) Body() ([]byte, error) {
	if !f.Flags.Has(FlagCompressed) {
		return f.Payload, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(f.Payload))
	if err != nil {
		return nil, fmt.Errorf("protocol: inflate frame: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
	switch {
	case err != nil:
		return nil, fmt.Errorf("protocol: inflate frame: %w", err)
	case len(out) > MaxPayloadSize:
		return nil, ErrFrameTooLarge
	}
	return out, nil
}
