package transfer

import (
	"slices"
	"sync"
	"time"

	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// AssemblerConfig configures a ChunkAssembler.
type AssemblerConfig struct {
	// TTL discards transfers that have not received a chunk for this long.
	// Zero disables expiry; transfers then live until completed or
	// cancelled.
	TTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Progress reports the state of one in-flight transfer after a data chunk.
type Progress struct {
	TransferID  string
	Received    int
	TotalChunks int
}

// Fraction returns received/total in [0, 1].
func (p Progress) Fraction() float64 {
	if p.TotalChunks == 0 {
		return 1
	}
	return float64(p.Received) / float64(p.TotalChunks)
}

type pendingTransfer struct {
	totalSize   int
	totalChunks int
	checksum    uint32
	chunks      map[int][]byte
	lastSeen    time.Time
}

// ChunkAssembler reassembles chunk streams keyed by transfer id. Chunks of
// one transfer may arrive in any index order between header and footer.
// It is safe for concurrent use.
type ChunkAssembler struct {
	mu        sync.Mutex
	cfg       AssemblerConfig
	transfers map[string]*pendingTransfer
}

// NewChunkAssembler creates an assembler.
func NewChunkAssembler(cfg AssemblerConfig) *ChunkAssembler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ChunkAssembler{
		cfg:       cfg,
		transfers: make(map[string]*pendingTransfer),
	}
}

// ProcessChunk feeds one chunk. It returns the reassembled payload exactly
// once, on the footer of a complete and verified transfer, and nil before
// that. Integrity failures return errors of kind missing_chunk,
// incomplete_transfer or checksum_mismatch; the transfer is discarded once
// its footer has been processed, whatever the outcome.
func (a *ChunkAssembler) ProcessChunk(c protocol.Chunk) ([]byte, error) {
	data, _, err := a.process(c)
	return data, err
}

// ProcessChunkProgress is ProcessChunk that also reports progress for data
// chunks. ok is false for header and footer chunks.
func (a *ChunkAssembler) ProcessChunkProgress(c protocol.Chunk) (data []byte, p Progress, ok bool, err error) {
	data, p, err = a.process(c)
	return data, p, err == nil && c.Type == protocol.ChunkData, err
}

func (a *ChunkAssembler) process(c protocol.Chunk) ([]byte, Progress, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.cfg.Now()
	switch c.Type {
	case protocol.ChunkHeader:
		if c.TotalChunks < 0 || c.TotalSize < 0 {
			return nil, Progress{}, invalidChunk(c, "negative size in header")
		}
		if _, exists := a.transfers[c.TransferID]; exists {
			return nil, Progress{}, invalidChunk(c, "duplicate header")
		}
		a.transfers[c.TransferID] = &pendingTransfer{
			totalSize:   c.TotalSize,
			totalChunks: c.TotalChunks,
			checksum:    c.Checksum,
			chunks:      make(map[int][]byte, c.TotalChunks),
			lastSeen:    now,
		}
		return nil, Progress{}, nil

	case protocol.ChunkData:
		t, ok := a.transfers[c.TransferID]
		if !ok {
			return nil, Progress{}, missingHeader(c)
		}
		if c.ChunkIndex < 0 || c.ChunkIndex >= t.totalChunks {
			return nil, Progress{}, invalidChunk(c, "").
				Detailf("chunk index %d outside [0, %d)", c.ChunkIndex, t.totalChunks)
		}
		if _, dup := t.chunks[c.ChunkIndex]; dup {
			return nil, Progress{}, invalidChunk(c, "").Detailf("chunk index %d received twice", c.ChunkIndex)
		}
		raw, err := Decode(c.Data)
		if err != nil {
			return nil, Progress{}, err
		}
		t.chunks[c.ChunkIndex] = raw
		t.lastSeen = now
		return nil, Progress{TransferID: c.TransferID, Received: len(t.chunks), TotalChunks: t.totalChunks}, nil

	case protocol.ChunkFooter:
		t, ok := a.transfers[c.TransferID]
		if !ok {
			return nil, Progress{}, missingHeader(c)
		}
		delete(a.transfers, c.TransferID)
		data, err := t.assemble(c)
		return data, Progress{}, err
	}
	return nil, Progress{}, invalidChunk(c, "").Detailf("unknown chunk type %q", c.Type)
}

func (t *pendingTransfer) assemble(footer protocol.Chunk) ([]byte, error) {
	if footer.TotalChunks != t.totalChunks {
		return nil, invalidChunk(footer, "").
			Detailf("footer declares %d chunks, header declared %d", footer.TotalChunks, t.totalChunks)
	}
	if len(t.chunks) != t.totalChunks {
		missing := make([]int, 0, t.totalChunks-len(t.chunks))
		for i := 0; i < t.totalChunks; i++ {
			if _, ok := t.chunks[i]; !ok {
				missing = append(missing, i)
			}
		}
		return nil, errors.New(errors.CodeIncompleteTransfer).
			Detailf("transfer %s received %d of %d chunks, missing %v",
				footer.TransferID, len(t.chunks), t.totalChunks, missing)
	}

	out := make([]byte, 0, t.totalSize)
	for i := 0; i < t.totalChunks; i++ {
		out = append(out, t.chunks[i]...)
	}
	if len(out) != t.totalSize {
		return nil, errors.New(errors.CodeIncompleteTransfer).
			Detailf("transfer %s reassembled %d bytes, header declared %d", footer.TransferID, len(out), t.totalSize)
	}
	sum := Checksum(out)
	if sum != t.checksum || sum != footer.Checksum {
		return nil, errors.New(errors.CodeChecksumMismatch).
			Detailf("transfer %s computed %08x, header %08x, footer %08x", footer.TransferID, sum, t.checksum, footer.Checksum)
	}
	return out, nil
}

// Cancel discards the state of one transfer. It reports whether the
// transfer was in flight.
func (a *ChunkAssembler) Cancel(transferID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.transfers[transferID]
	delete(a.transfers, transferID)
	return ok
}

// CancelAll discards every in-flight transfer and returns their ids.
func (a *ChunkAssembler) CancelAll() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.transfers))
	for id := range a.transfers {
		ids = append(ids, id)
	}
	clear(a.transfers)
	slices.Sort(ids)
	return ids
}

// Sweep discards transfers idle for longer than the TTL and returns their
// ids. It is a no-op when the TTL is zero.
func (a *ChunkAssembler) Sweep(now time.Time) []string {
	if a.cfg.TTL <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var expired []string
	for id, t := range a.transfers {
		if now.Sub(t.lastSeen) > a.cfg.TTL {
			expired = append(expired, id)
			delete(a.transfers, id)
		}
	}
	slices.Sort(expired)
	return expired
}

// Expire sweeps with the assembler's own clock.
func (a *ChunkAssembler) Expire() []string {
	return a.Sweep(a.cfg.Now())
}

// Active returns the ids of in-flight transfers.
func (a *ChunkAssembler) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.transfers))
	for id := range a.transfers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func missingHeader(c protocol.Chunk) *errors.Error {
	return errors.New(errors.CodeMissingChunk).
		Detailf("%s chunk for transfer %s arrived without a header", c.Type, c.TransferID)
}

func invalidChunk(c protocol.Chunk, detail string) *errors.Error {
	e := errors.New(errors.CodeInvalidChunk)
	if detail != "" {
		e.Detail = detail + " (transfer " + c.TransferID + ")"
	}
	return e
}
