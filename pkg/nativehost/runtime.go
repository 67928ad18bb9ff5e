// Package nativehost is a reference native side of the bridge. A Handler
// serves the channel method surface for one view and drives an engine
// Runtime; a Server exposes registered handlers over websocket so that a
// host process can reach them with channel.Remote.
//
// The engine itself stays opaque. Anything that can start, pause and stop,
// and that accepts routed messages, can be plugged in as a Runtime;
// HeadlessRuntime is the in-memory implementation used by the CLI and tests.
package nativehost

import (
	"context"

	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/router"
	"github.com/vango-dev/enginebridge/pkg/transfer"
)

// Runtime is the engine instance behind one view.
type Runtime interface {
	EngineType() protocol.EngineType
	Version() string
	Supported() bool

	// Start brings the engine up. The runtime registers its message targets
	// on host.Router and emits events through host.Emit.
	Start(ctx context.Context, host Host, options map[string]any) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Unload(ctx context.Context) error
	Stop(ctx context.Context) error

	ExecuteConsoleCommand(ctx context.Context, command string) error
	LoadLevel(ctx context.Context, name string) (protocol.Scene, error)
	ApplyQuality(ctx context.Context, q protocol.QualitySettings) error
	InBackground(ctx context.Context) (bool, error)
	SetStreamingCachePath(ctx context.Context, path string) error
}

// Host is what a Runtime sees of the view that owns it.
type Host interface {
	ViewID() int64
	Router() *router.Router
	Codec() *transfer.Codec
	Emit(ev protocol.Event)
}
