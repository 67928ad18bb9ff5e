package engine

import (
	"github.com/vango-dev/enginebridge/pkg/batch"
	"github.com/vango-dev/enginebridge/pkg/delta"
	"github.com/vango-dev/enginebridge/pkg/throttle"
)

// Stats is a snapshot of controller activity.
type Stats struct {
	State State

	Queued       int64 // messages put in the pre-ready queue
	QueueDropped int64 // evicted from a full pre-ready queue
	Replayed     int64 // delivered from the queue after create
	QueueLength  int

	Sent         int64
	SendFailures int64

	BinarySent       int64
	ChunkedTransfers int64
	ChunksSent       int64

	EventsReceived     int64
	StreamDrops        int64
	TransfersAssembled int64
	TransferErrors     int64
	ActiveTransfers    int

	Batch    batch.Stats
	Throttle throttle.Stats
	Delta    delta.Stats
}
