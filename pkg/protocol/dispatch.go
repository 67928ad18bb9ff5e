package protocol

import (
	"context"
	"fmt"
)

// Handler serves every Request variant. Native hosts implement it; the
// compiler then guarantees no variant is left unhandled.
type Handler interface {
	GetPlatformVersion(ctx context.Context) (string, error)
	GetEngineType(ctx context.Context) (EngineType, error)
	GetEngineVersion(ctx context.Context) (string, error)
	IsEngineSupported(ctx context.Context) (bool, error)

	Create(ctx context.Context, r Create) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Unload(ctx context.Context) error
	Quit(ctx context.Context) error

	SendMessage(ctx context.Context, r SendMessage) error
	SendJSONMessage(ctx context.Context, r SendJSONMessage) error
	SendBinaryMessage(ctx context.Context, r SendBinaryMessage) error
	SendBinaryChunk(ctx context.Context, r SendBinaryChunk) error

	ExecuteConsoleCommand(ctx context.Context, r ExecuteConsoleCommand) error
	LoadLevel(ctx context.Context, r LoadLevel) error
	ApplyQualitySettings(ctx context.Context, r ApplyQualitySettings) error
	GetQualitySettings(ctx context.Context) (QualitySettings, error)
	IsInBackground(ctx context.Context) (bool, error)
	SetStreamingCachePath(ctx context.Context, r SetStreamingCachePath) error

	SetupEvents(ctx context.Context) (bool, error)
}

// Dispatch routes req to the matching Handler method and converts the result
// to its wire value. Commands without a result reply true.
func Dispatch(ctx context.Context, req Request, h Handler) (any, error) {
	switch r := req.(type) {
	case GetPlatformVersion:
		return h.GetPlatformVersion(ctx)
	case GetEngineType:
		t, err := h.GetEngineType(ctx)
		return string(t), err
	case GetEngineVersion:
		return h.GetEngineVersion(ctx)
	case IsEngineSupported:
		return h.IsEngineSupported(ctx)
	case Create:
		return h.Create(ctx, r)
	case Pause:
		return ack(h.Pause(ctx))
	case Resume:
		return ack(h.Resume(ctx))
	case Unload:
		return ack(h.Unload(ctx))
	case Quit:
		return ack(h.Quit(ctx))
	case SendMessage:
		return ack(h.SendMessage(ctx, r))
	case SendJSONMessage:
		return ack(h.SendJSONMessage(ctx, r))
	case SendBinaryMessage:
		return ack(h.SendBinaryMessage(ctx, r))
	case SendBinaryChunk:
		return ack(h.SendBinaryChunk(ctx, r))
	case ExecuteConsoleCommand:
		return ack(h.ExecuteConsoleCommand(ctx, r))
	case LoadLevel:
		return ack(h.LoadLevel(ctx, r))
	case ApplyQualitySettings:
		return ack(h.ApplyQualitySettings(ctx, r))
	case GetQualitySettings:
		q, err := h.GetQualitySettings(ctx)
		if err != nil {
			return nil, err
		}
		return q.ToMap(), nil
	case IsInBackground:
		return h.IsInBackground(ctx)
	case SetStreamingCachePath:
		return ack(h.SetStreamingCachePath(ctx, r))
	case SetupEvents:
		return h.SetupEvents(ctx)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownMethod, req)
}

func ack(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return true, nil
}
