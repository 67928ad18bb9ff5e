package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantLen int
	}{
		{
			name:    "empty_payload",
			frame:   Frame{Type: FrameClose, Payload: []byte{}},
			wantLen: FrameHeaderSize,
		},
		{
			name:    "call",
			frame:   Frame{Type: FrameCall, Payload: []byte{0x01, 0x02, 0x03}},
			wantLen: FrameHeaderSize + 3,
		},
		{
			name:    "compressed_flag",
			frame:   Frame{Type: FrameEvent, Flags: FlagCompressed, Payload: []byte("test")},
			wantLen: FrameHeaderSize + 4,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.frame.Encode()
			if len(encoded) != tc.wantLen {
				t.Errorf("Encode() length = %d, want %d", len(encoded), tc.wantLen)
			}

			decoded, err := DecodeFrame(encoded)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if decoded.Type != tc.frame.Type {
				t.Errorf("Type = %v, want %v", decoded.Type, tc.frame.Type)
			}
			if decoded.Flags != tc.frame.Flags {
				t.Errorf("Flags = %v, want %v", decoded.Flags, tc.frame.Flags)
			}
			if !bytes.Equal(decoded.Payload, tc.frame.Payload) {
				t.Errorf("Payload = %v, want %v", decoded.Payload, tc.frame.Payload)
			}
		})
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	if _, err := DecodeFrame([]byte{0x01, 0x00}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short header err = %v, want ErrUnexpectedEOF", err)
	}
	if _, err := DecodeFrame([]byte{0x7F, 0, 0, 0, 0, 0}); !errors.Is(err, ErrInvalidFrameType) {
		t.Errorf("bad type err = %v, want ErrInvalidFrameType", err)
	}
	if _, err := DecodeFrame([]byte{0x01, 0, 0, 0, 0, 5, 1}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated payload err = %v, want ErrUnexpectedEOF", err)
	}
	if _, err := DecodeFrame([]byte{0x01, 0, 0xFF, 0xFF, 0xFF, 0xFF}); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("huge length err = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeFrameCopiesPayload(t *testing.T) {
	msg := NewFrame(FrameReply, []byte("abc")).Encode()
	f, err := DecodeFrame(msg)
	if err != nil {
		t.Fatal(err)
	}
	msg[FrameHeaderSize] = 'z'
	if string(f.Payload) != "abc" {
		t.Errorf("payload aliased the message buffer: %q", f.Payload)
	}
}

func TestBodyRejectsCorruptGzip(t *testing.T) {
	f := &Frame{Type: FrameEvent, Flags: FlagCompressed, Payload: []byte("not gzip")}
	if _, err := f.Body(); err == nil {
		t.Error("expected inflate error")
	}
}

func TestFrameCompress(t *testing.T) {
	payload := []byte(strings.Repeat("engine bridge ", 1000))
	f := NewFrame(FrameEvent, append([]byte(nil), payload...))

	compressed, err := f.Compress(CompressThreshold)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if !compressed || !f.Flags.Has(FlagCompressed) {
		t.Fatal("expected repetitive payload to be compressed")
	}
	if len(f.Payload) >= len(payload) {
		t.Errorf("compressed size %d not smaller than %d", len(f.Payload), len(payload))
	}

	decoded, err := DecodeFrame(f.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	body, err := decoded.Body()
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Error("Body() did not restore the original payload")
	}

	small := NewFrame(FrameEvent, []byte("tiny"))
	if ok, _ := small.Compress(CompressThreshold); ok {
		t.Error("payload below threshold should not be compressed")
	}
}

func TestFrameTypeString(t *testing.T) {
	tests := []struct {
		ft   FrameType
		want string
	}{
		{FrameCall, "Call"},
		{FrameReply, "Reply"},
		{FrameError, "Error"},
		{FrameEvent, "Event"},
		{FrameClose, "Close"},
		{FrameType(0x42), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.ft.String(); got != tc.want {
			t.Errorf("FrameType(%d).String() = %q, want %q", tc.ft, got, tc.want)
		}
	}
}
