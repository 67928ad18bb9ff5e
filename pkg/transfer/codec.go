// Package transfer implements the binary payload codec used over the
// text-oriented command channel: base64 envelopes with optional gzip
// compression and CRC32 checksums, and lazily produced chunk streams for
// payloads above the single-message ceiling, with a matching assembler.
package transfer

import (
	"bytes"
	"encoding/base64"
	"hash/crc32"
	"io"
	"iter"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// Size defaults.
const (
	DefaultCompressionThreshold = 1024
	DefaultChunkSize            = 64 * 1024
	MaxSingleMessageSize        = 256 * 1024
)

var gzipMagic = []byte{0x1f, 0x8b}

// Config configures a Codec.
type Config struct {
	// CompressionThreshold is the payload size a payload must exceed before
	// compression is attempted.
	CompressionThreshold int

	// ChunkSize is the raw byte size of each data chunk.
	ChunkSize int

	// MaxSingleMessageSize is the largest payload sent as one envelope.
	// Larger payloads must be chunked.
	MaxSingleMessageSize int

	// CompressionLevel is passed to gzip.NewWriterLevel.
	CompressionLevel int
}

// DefaultConfig returns the codec defaults.
func DefaultConfig() Config {
	return Config{
		CompressionThreshold: DefaultCompressionThreshold,
		ChunkSize:            DefaultChunkSize,
		MaxSingleMessageSize: MaxSingleMessageSize,
		CompressionLevel:     gzip.DefaultCompression,
	}
}

// Codec encodes and decodes binary envelopes and chunk streams.
// A Codec is stateless and safe for concurrent use.
type Codec struct {
	cfg Config
}

// NewCodec creates a codec, filling zero config fields with defaults.
func NewCodec(cfg Config) *Codec {
	def := DefaultConfig()
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = def.CompressionThreshold
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxSingleMessageSize <= 0 {
		cfg.MaxSingleMessageSize = def.MaxSingleMessageSize
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = def.CompressionLevel
	}
	return &Codec{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Codec) Config() Config {
	return c.cfg
}

// NeedsChunking reports whether a payload of n bytes exceeds the
// single-message ceiling.
func (c *Codec) NeedsChunking(n int) bool {
	return n > c.cfg.MaxSingleMessageSize
}

// Checksum returns the CRC32 (IEEE 802.3) of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// VerifyChecksum reports whether data hashes to want.
func VerifyChecksum(data []byte, want uint32) bool {
	return Checksum(data) == want
}

// Encode returns the standard base64 encoding of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode decodes standard base64.
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidEnvelope).WithDetail("invalid base64").Wrap(err)
	}
	return b, nil
}

// IsCompressed reports whether data starts with the gzip magic number.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Compress gzips data at the configured level.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, c.cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress gunzips data. Data without the gzip magic number is returned
// unchanged, so decompressing plain bytes is a no-op.
func Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidEnvelope).WithDetail("corrupt gzip stream").Wrap(err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidEnvelope).WithDetail("corrupt gzip stream").Wrap(err)
	}
	return out, nil
}

// EncodeWithMetadata wraps data in an envelope. Compression is attempted
// only when requested and the payload exceeds the threshold, and is kept
// only when it strictly shrinks the payload. The checksum covers the bytes
// actually carried.
func (c *Codec) EncodeWithMetadata(data []byte, compress bool) (protocol.BinaryEnvelope, error) {
	payload := data
	compressed := false
	if compress && len(data) > c.cfg.CompressionThreshold {
		z, err := c.Compress(data)
		if err != nil {
			return protocol.BinaryEnvelope{}, errors.New(errors.CodeInvalidEnvelope).
				WithDetail("compression failed").Wrap(err)
		}
		if len(z) < len(data) {
			payload = z
			compressed = true
		}
	}
	return protocol.BinaryEnvelope{
		Data:           Encode(payload),
		OriginalSize:   len(data),
		CompressedSize: len(payload),
		IsCompressed:   compressed,
		Checksum:       Checksum(payload),
	}, nil
}

// DecodeEnvelope verifies and unwraps an envelope.
func DecodeEnvelope(env protocol.BinaryEnvelope) ([]byte, error) {
	payload, err := Decode(env.Data)
	if err != nil {
		return nil, err
	}
	if !VerifyChecksum(payload, env.Checksum) {
		return nil, errors.New(errors.CodeChecksumMismatch).
			Detailf("envelope checksum %08x, computed %08x", env.Checksum, Checksum(payload))
	}
	out := payload
	if env.IsCompressed {
		if out, err = Decompress(payload); err != nil {
			return nil, err
		}
	}
	if len(out) != env.OriginalSize {
		return nil, errors.New(errors.CodeInvalidEnvelope).
			Detailf("decoded %d bytes, envelope declares %d", len(out), env.OriginalSize)
	}
	return out, nil
}

// Transfer describes one chunked transfer produced by CreateChunks.
type Transfer struct {
	ID          string
	TotalSize   int
	TotalChunks int
	Checksum    uint32
}

// CreateChunks prepares a chunked transfer of data under a fresh transfer id.
// The returned sequence yields the header, each data chunk and the footer;
// data chunks are base64-encoded only as they are yielded.
func (c *Codec) CreateChunks(data []byte) (Transfer, iter.Seq[protocol.Chunk]) {
	size := c.cfg.ChunkSize
	t := Transfer{
		ID:          uuid.NewString(),
		TotalSize:   len(data),
		TotalChunks: (len(data) + size - 1) / size,
		Checksum:    Checksum(data),
	}
	seq := func(yield func(protocol.Chunk) bool) {
		header := protocol.Chunk{
			Type:        protocol.ChunkHeader,
			TransferID:  t.ID,
			TotalSize:   t.TotalSize,
			TotalChunks: t.TotalChunks,
			Checksum:    t.Checksum,
		}
		if !yield(header) {
			return
		}
		for i := 0; i < t.TotalChunks; i++ {
			end := min((i+1)*size, len(data))
			chunk := protocol.Chunk{
				Type:       protocol.ChunkData,
				TransferID: t.ID,
				ChunkIndex: i,
				Data:       Encode(data[i*size : end]),
			}
			if !yield(chunk) {
				return
			}
		}
		yield(protocol.Chunk{
			Type:        protocol.ChunkFooter,
			TransferID:  t.ID,
			TotalChunks: t.TotalChunks,
			Checksum:    t.Checksum,
		})
	}
	return t, seq
}
