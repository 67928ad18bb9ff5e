package transfer

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/vango-dev/enginebridge/internal/errors"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestChecksumIEEE(t *testing.T) {
	// Well-known CRC-32/ISO-HDLC check value.
	if got := Checksum([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("Checksum(123456789) = %08x, want cbf43926", got)
	}
	if got := Checksum(nil); got != 0 {
		t.Errorf("Checksum(nil) = %08x, want 0", got)
	}
}

func TestEncodeWithMetadataCompressionHonesty(t *testing.T) {
	codec := NewCodec(Config{})

	tests := []struct {
		name           string
		data           []byte
		compress       bool
		wantCompressed bool
	}{
		{"random_below_threshold", randomBytes(t, 512), true, false},
		{"compressible_below_threshold", bytes.Repeat([]byte{'a'}, 1000), true, false},
		{"random_above_threshold", randomBytes(t, 8192), true, false},
		{"compressible_above_threshold", []byte(strings.Repeat("transform:0,0,0;", 512)), true, true},
		{"compression_not_requested", []byte(strings.Repeat("x", 4096)), false, false},
		{"empty", nil, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := codec.EncodeWithMetadata(tc.data, tc.compress)
			if err != nil {
				t.Fatalf("EncodeWithMetadata() error = %v", err)
			}
			if env.IsCompressed != tc.wantCompressed {
				t.Errorf("IsCompressed = %v, want %v", env.IsCompressed, tc.wantCompressed)
			}
			if env.IsCompressed && env.CompressedSize >= env.OriginalSize {
				t.Errorf("compressed %d >= original %d", env.CompressedSize, env.OriginalSize)
			}
			if env.OriginalSize != len(tc.data) {
				t.Errorf("OriginalSize = %d, want %d", env.OriginalSize, len(tc.data))
			}

			carried, err := Decode(env.Data)
			if err != nil {
				t.Fatal(err)
			}
			if env.Checksum != Checksum(carried) {
				t.Error("checksum does not cover the carried bytes")
			}

			out, err := DecodeEnvelope(env)
			if err != nil {
				t.Fatalf("DecodeEnvelope() error = %v", err)
			}
			if !bytes.Equal(out, tc.data) {
				t.Error("DecodeEnvelope() did not restore the payload")
			}
		})
	}
}

func TestDecodeEnvelopeRejectsCorruption(t *testing.T) {
	codec := NewCodec(Config{})
	env, err := codec.EncodeWithMetadata([]byte("hello engine"), false)
	if err != nil {
		t.Fatal(err)
	}
	env.Checksum ^= 1
	_, err = DecodeEnvelope(env)
	if errors.KindOf(err) != errors.KindChecksumMismatch {
		t.Errorf("err kind = %q, want checksum_mismatch", errors.KindOf(err))
	}

	env.Data = "!!not base64!!"
	_, err = DecodeEnvelope(env)
	if errors.KindOf(err) != errors.KindInvalidEnvelope {
		t.Errorf("err kind = %q, want invalid_envelope", errors.KindOf(err))
	}
}

func TestDecompressIsIdempotent(t *testing.T) {
	codec := NewCodec(Config{})
	plain := []byte("not gzip at all")
	out, err := Decompress(plain)
	if err != nil || !bytes.Equal(out, plain) {
		t.Fatalf("Decompress(plain) = %q, %v", out, err)
	}

	z, err := codec.Compress(plain)
	if err != nil {
		t.Fatal(err)
	}
	if !IsCompressed(z) {
		t.Fatal("compressed output lacks gzip magic")
	}
	once, err := Decompress(z)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Decompress(once)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(once, plain) || !bytes.Equal(twice, plain) {
		t.Error("decompression not idempotent")
	}
}

func TestNeedsChunking(t *testing.T) {
	codec := NewCodec(Config{})
	if codec.NeedsChunking(MaxSingleMessageSize) {
		t.Error("payload at the ceiling should not be chunked")
	}
	if !codec.NeedsChunking(300 * 1024) {
		t.Error("300 KiB payload should be chunked")
	}
}
