package enginebridge

import (
	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/engine"
)

// Error kinds, re-exported from pkg/engine. Match them with errors.Is.
var (
	ErrNotReady           = engine.ErrNotReady
	ErrDisposed           = engine.ErrDisposed
	ErrTimeout            = engine.ErrTimeout
	ErrCommunication      = engine.ErrCommunication
	ErrUnsupported        = engine.ErrUnsupported
	ErrMissingChunk       = engine.ErrMissingChunk
	ErrIncompleteTransfer = engine.ErrIncompleteTransfer
	ErrChecksumMismatch   = engine.ErrChecksumMismatch

	// ErrNotRegistered is the transport's signal that no native handler
	// exists for a view yet. The controller retries on it internally.
	ErrNotRegistered = channel.ErrNotRegistered
)

// Error is the structured error returned by controllers. Use errors.As to
// read the target, method and engine involved.
type Error = engine.Error
