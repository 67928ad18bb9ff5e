package protocol

import (
	"errors"
	"testing"
)

func TestChunkMapTagging(t *testing.T) {
	tests := []struct {
		chunk   Chunk
		present []string
		absent  []string
	}{
		{
			chunk:   Chunk{Type: ChunkHeader, TransferID: "x", TotalSize: 10, TotalChunks: 2, Checksum: 5},
			present: []string{"_chunk", "totalSize", "totalChunks", "checksum"},
			absent:  []string{"chunkIndex", "data"},
		},
		{
			chunk:   Chunk{Type: ChunkData, TransferID: "x", ChunkIndex: 1, Data: "AA=="},
			present: []string{"_chunk", "chunkIndex", "data"},
			absent:  []string{"totalSize", "checksum"},
		},
		{
			chunk:   Chunk{Type: ChunkFooter, TransferID: "x", TotalChunks: 2, Checksum: 5},
			present: []string{"_chunk", "totalChunks", "checksum"},
			absent:  []string{"totalSize", "data"},
		},
	}
	for _, tc := range tests {
		t.Run(string(tc.chunk.Type), func(t *testing.T) {
			m := tc.chunk.ToMap()
			if !IsChunkMap(m) {
				t.Error("IsChunkMap() = false")
			}
			for _, k := range tc.present {
				if _, ok := m[k]; !ok {
					t.Errorf("missing key %q", k)
				}
			}
			for _, k := range tc.absent {
				if _, ok := m[k]; ok {
					t.Errorf("unexpected key %q", k)
				}
			}
			back, err := ChunkFromMap(m)
			if err != nil {
				t.Fatalf("ChunkFromMap() error = %v", err)
			}
			if back != tc.chunk {
				t.Errorf("ChunkFromMap() = %+v, want %+v", back, tc.chunk)
			}
		})
	}
}

func TestEnvelopeFromMap(t *testing.T) {
	env := BinaryEnvelope{Data: "AQID", OriginalSize: 3, CompressedSize: 3, Checksum: 0xDEADBEEF}
	back, err := EnvelopeFromMap(env.ToMap())
	if err != nil {
		t.Fatalf("EnvelopeFromMap() error = %v", err)
	}
	if back != env {
		t.Errorf("EnvelopeFromMap() = %+v, want %+v", back, env)
	}

	_, err = EnvelopeFromMap(map[string]any{"data": "AA==", "originalSize": 1})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("missing checksum err = %v, want ErrMalformedPayload", err)
	}
	_, err = EnvelopeFromMap(map[string]any{"data": "AA==", "originalSize": 1, "checksum": -4.0})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("negative checksum err = %v, want ErrMalformedPayload", err)
	}
}
