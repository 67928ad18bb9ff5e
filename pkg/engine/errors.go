package engine

import (
	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/channel"
)

// Error kinds returned by the controller. Match them with errors.Is; use
// errors.As with *Error for the target, method and engine involved.
var (
	ErrNotReady           error = errors.KindNotReady
	ErrDisposed           error = errors.KindDisposed
	ErrTimeout            error = errors.KindTimeout
	ErrCommunication      error = errors.KindCommunication
	ErrUnsupported        error = errors.KindUnsupported
	ErrMissingChunk       error = errors.KindMissingChunk
	ErrIncompleteTransfer error = errors.KindIncompleteTransfer
	ErrChecksumMismatch   error = errors.KindChecksumMismatch
)

// Error is the structured error type returned by the controller.
type Error = errors.Error

func isNotRegistered(err error) bool {
	return errors.Is(err, channel.ErrNotRegistered)
}

func (c *Controller) notReady(method string, state State) error {
	return errors.New(errors.CodeNotReady).
		WithCall("", method).
		WithEngine(c.engine.String()).
		Detailf("engine is %s", state)
}

func (c *Controller) disposedErr(method string) error {
	return errors.New(errors.CodeDisposed).
		WithCall("", method).
		WithEngine(c.engine.String())
}

func (c *Controller) unsupported(method string) error {
	return errors.New(errors.CodeUnsupported).
		WithCall("", method).
		WithEngine(c.engine.String()).
		Detailf("%s does not implement %s", c.engine, method)
}

func (c *Controller) commError(target, method string, err error) error {
	return errors.New(errors.CodeCommunication).
		WithCall(target, method).
		WithEngine(c.engine.String()).
		Wrap(err)
}

func (c *Controller) unexpectedReply(method string, got any) error {
	return errors.New(errors.CodeUnexpectedReply).
		WithCall("", method).
		WithEngine(c.engine.String()).
		Detailf("got %T", got)
}
