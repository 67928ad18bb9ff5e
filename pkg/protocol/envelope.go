package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when an envelope or chunk map is missing
// required fields.
var ErrMalformedPayload = errors.New("protocol: malformed binary payload")

// BinaryEnvelope is a metadata-tagged binary payload. Checksum is the CRC32
// (IEEE) of the bytes actually carried in Data, after any compression.
type BinaryEnvelope struct {
	Data           string `json:"data"`
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
	IsCompressed   bool   `json:"isCompressed"`
	Checksum       uint32 `json:"checksum"`
}

// ToMap returns the wire map of the envelope.
func (e BinaryEnvelope) ToMap() map[string]any {
	m := make(map[string]any, 5)
	e.putInto(m)
	return m
}

func (e BinaryEnvelope) putInto(m map[string]any) {
	m["data"] = e.Data
	m["originalSize"] = e.OriginalSize
	m["compressedSize"] = e.CompressedSize
	m["isCompressed"] = e.IsCompressed
	m["checksum"] = e.Checksum
}

// EnvelopeFromMap parses an envelope wire map.
func EnvelopeFromMap(m map[string]any) (BinaryEnvelope, error) {
	var e BinaryEnvelope
	var ok bool
	if e.Data, ok = stringArg(m, "data"); !ok {
		return e, fmt.Errorf("%w: envelope data", ErrMalformedPayload)
	}
	if e.OriginalSize, ok = intArg(m, "originalSize"); !ok {
		return e, fmt.Errorf("%w: envelope originalSize", ErrMalformedPayload)
	}
	if e.CompressedSize, ok = intArg(m, "compressedSize"); !ok {
		e.CompressedSize = e.OriginalSize
	}
	e.IsCompressed, _ = boolArg(m, "isCompressed")
	if e.Checksum, ok = uint32Arg(m, "checksum"); !ok {
		return e, fmt.Errorf("%w: envelope checksum", ErrMalformedPayload)
	}
	return e, nil
}

// ChunkType discriminates the parts of a chunked transfer.
type ChunkType string

const (
	ChunkHeader ChunkType = "header"
	ChunkData   ChunkType = "data"
	ChunkFooter ChunkType = "footer"
)

// Chunk is one part of a chunked binary transfer. Header chunks carry
// TotalSize, TotalChunks and the whole-payload Checksum; data chunks carry
// ChunkIndex and base64 Data; footer chunks repeat TotalChunks and Checksum.
type Chunk struct {
	Type        ChunkType
	TransferID  string
	ChunkIndex  int
	TotalChunks int
	TotalSize   int
	Data        string
	Checksum    uint32
}

// ToMap returns the wire map of the chunk, tagged with "_chunk": true.
func (c Chunk) ToMap() map[string]any {
	m := make(map[string]any, 6)
	c.putInto(m)
	return m
}

func (c Chunk) putInto(m map[string]any) {
	m["_chunk"] = true
	m["type"] = string(c.Type)
	m["transferId"] = c.TransferID
	switch c.Type {
	case ChunkHeader:
		m["totalSize"] = c.TotalSize
		m["totalChunks"] = c.TotalChunks
		m["checksum"] = c.Checksum
	case ChunkData:
		m["chunkIndex"] = c.ChunkIndex
		m["data"] = c.Data
	case ChunkFooter:
		m["totalChunks"] = c.TotalChunks
		m["checksum"] = c.Checksum
	}
}

// IsChunkMap reports whether m carries the chunk tag.
func IsChunkMap(m map[string]any) bool {
	b, _ := boolArg(m, "_chunk")
	return b
}

// ChunkFromMap parses a chunk wire map.
func ChunkFromMap(m map[string]any) (Chunk, error) {
	var c Chunk
	t, ok := stringArg(m, "type")
	if !ok {
		return c, fmt.Errorf("%w: chunk type", ErrMalformedPayload)
	}
	c.Type = ChunkType(t)
	if c.TransferID, ok = stringArg(m, "transferId"); !ok || c.TransferID == "" {
		return c, fmt.Errorf("%w: chunk transferId", ErrMalformedPayload)
	}
	switch c.Type {
	case ChunkHeader:
		if c.TotalSize, ok = intArg(m, "totalSize"); !ok {
			return c, fmt.Errorf("%w: header totalSize", ErrMalformedPayload)
		}
		if c.TotalChunks, ok = intArg(m, "totalChunks"); !ok {
			return c, fmt.Errorf("%w: header totalChunks", ErrMalformedPayload)
		}
		if c.Checksum, ok = uint32Arg(m, "checksum"); !ok {
			return c, fmt.Errorf("%w: header checksum", ErrMalformedPayload)
		}
	case ChunkData:
		if c.ChunkIndex, ok = intArg(m, "chunkIndex"); !ok {
			return c, fmt.Errorf("%w: data chunkIndex", ErrMalformedPayload)
		}
		if c.Data, ok = stringArg(m, "data"); !ok {
			return c, fmt.Errorf("%w: data payload", ErrMalformedPayload)
		}
	case ChunkFooter:
		if c.TotalChunks, ok = intArg(m, "totalChunks"); !ok {
			return c, fmt.Errorf("%w: footer totalChunks", ErrMalformedPayload)
		}
		if c.Checksum, ok = uint32Arg(m, "checksum"); !ok {
			return c, fmt.Errorf("%w: footer checksum", ErrMalformedPayload)
		}
	default:
		return c, fmt.Errorf("%w: unknown chunk type %q", ErrMalformedPayload, t)
	}
	return c, nil
}

// ProgressEvent reports receipt of one data chunk on the native side.
type ProgressEvent struct {
	TransferID   string
	CurrentChunk int
	TotalChunks  int
	Progress     float64
}

// ToMap returns the wire map of the progress report.
func (p ProgressEvent) ToMap() map[string]any {
	return map[string]any{
		"transferId":   p.TransferID,
		"currentChunk": p.CurrentChunk,
		"totalChunks":  p.TotalChunks,
		"progress":     p.Progress,
	}
}
