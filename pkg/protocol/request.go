package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownMethod is returned by ParseRequest for a method outside the
// channel surface.
var ErrUnknownMethod = errors.New("protocol: unknown method")

// Request is a command sent over the command channel. The set of
// implementations is closed; see Dispatch.
type Request interface {
	// Method returns the channel method name.
	Method() string
	// Args returns the wire argument map, or nil when the call has none.
	Args() map[string]any

	isRequest()
}

type noArgs struct{}

func (noArgs) Args() map[string]any { return nil }
func (noArgs) isRequest()           {}

type (
	GetPlatformVersion struct{ noArgs }
	GetEngineType      struct{ noArgs }
	GetEngineVersion   struct{ noArgs }
	IsEngineSupported  struct{ noArgs }
	Pause              struct{ noArgs }
	Resume             struct{ noArgs }
	Unload             struct{ noArgs }
	Quit               struct{ noArgs }
	GetQualitySettings struct{ noArgs }
	IsInBackground     struct{ noArgs }
	SetupEvents        struct{ noArgs }
)

func (GetPlatformVersion) Method() string { return MethodGetPlatformVersion }
func (GetEngineType) Method() string      { return MethodGetEngineType }
func (GetEngineVersion) Method() string   { return MethodGetEngineVersion }
func (IsEngineSupported) Method() string  { return MethodIsEngineSupported }
func (Pause) Method() string              { return MethodPause }
func (Resume) Method() string             { return MethodResume }
func (Unload) Method() string             { return MethodUnload }
func (Quit) Method() string               { return MethodQuit }
func (GetQualitySettings) Method() string { return MethodGetQualitySettings }
func (IsInBackground) Method() string     { return MethodIsInBackground }
func (SetupEvents) Method() string        { return MethodEventsSetup }

// Create asks the native side to instantiate the engine for the view.
// Options are engine-specific creation parameters and may be nil.
type Create struct {
	Options map[string]any
}

func (Create) Method() string { return MethodCreate }
func (Create) isRequest()     {}

func (r Create) Args() map[string]any {
	if len(r.Options) == 0 {
		return nil
	}
	m := make(map[string]any, len(r.Options))
	for k, v := range r.Options {
		m[k] = v
	}
	return m
}

// SendMessage delivers a string payload to target.method.
type SendMessage struct {
	Target string
	Name   string
	Data   string
}

func (SendMessage) Method() string { return MethodSendMessage }
func (SendMessage) isRequest()     {}

func (r SendMessage) Args() map[string]any {
	return map[string]any{"target": r.Target, "method": r.Name, "data": r.Data}
}

// SendJSONMessage delivers a structured payload to target.method.
type SendJSONMessage struct {
	Target string
	Name   string
	Data   map[string]any
}

func (SendJSONMessage) Method() string { return MethodSendJSONMessage }
func (SendJSONMessage) isRequest()     {}

func (r SendJSONMessage) Args() map[string]any {
	return map[string]any{"target": r.Target, "method": r.Name, "data": r.Data}
}

// SendBinaryMessage delivers one binary envelope to target.method.
type SendBinaryMessage struct {
	Target   string
	Name     string
	Envelope BinaryEnvelope
}

func (SendBinaryMessage) Method() string { return MethodSendBinaryMessage }
func (SendBinaryMessage) isRequest()     {}

func (r SendBinaryMessage) Args() map[string]any {
	m := map[string]any{"target": r.Target, "method": r.Name}
	r.Envelope.putInto(m)
	return m
}

// SendBinaryChunk delivers one part of a chunked transfer to target.method.
type SendBinaryChunk struct {
	Target string
	Name   string
	Chunk  Chunk
}

func (SendBinaryChunk) Method() string { return MethodSendBinaryChunk }
func (SendBinaryChunk) isRequest()     {}

func (r SendBinaryChunk) Args() map[string]any {
	m := map[string]any{"target": r.Target, "method": r.Name}
	r.Chunk.putInto(m)
	return m
}

// ExecuteConsoleCommand runs an engine console command.
type ExecuteConsoleCommand struct {
	Command string
}

func (ExecuteConsoleCommand) Method() string { return MethodExecuteConsoleCommand }
func (ExecuteConsoleCommand) isRequest()     {}

func (r ExecuteConsoleCommand) Args() map[string]any {
	return map[string]any{"command": r.Command}
}

// LoadLevel asks the engine to load a level or scene by name.
type LoadLevel struct {
	LevelName string
}

func (LoadLevel) Method() string { return MethodLoadLevel }
func (LoadLevel) isRequest()     {}

func (r LoadLevel) Args() map[string]any {
	return map[string]any{"levelName": r.LevelName}
}

// ApplyQualitySettings merges Settings over the engine's current values.
type ApplyQualitySettings struct {
	Settings QualitySettings
}

func (ApplyQualitySettings) Method() string { return MethodApplyQualitySettings }
func (ApplyQualitySettings) isRequest()     {}

func (r ApplyQualitySettings) Args() map[string]any {
	return r.Settings.ToMap()
}

// SetStreamingCachePath points the engine's asset cache at Path.
type SetStreamingCachePath struct {
	Path string
}

func (SetStreamingCachePath) Method() string { return MethodSetStreamingCachePath }
func (SetStreamingCachePath) isRequest()     {}

func (r SetStreamingCachePath) Args() map[string]any {
	return map[string]any{"path": r.Path}
}

// ParseRequest decodes a wire call into its Request variant.
func ParseRequest(method string, args map[string]any) (Request, error) {
	if args == nil {
		args = map[string]any{}
	}
	switch method {
	case MethodGetPlatformVersion:
		return GetPlatformVersion{}, nil
	case MethodGetEngineType:
		return GetEngineType{}, nil
	case MethodGetEngineVersion:
		return GetEngineVersion{}, nil
	case MethodIsEngineSupported:
		return IsEngineSupported{}, nil
	case MethodCreate:
		return Create{Options: args}, nil
	case MethodPause:
		return Pause{}, nil
	case MethodResume:
		return Resume{}, nil
	case MethodUnload:
		return Unload{}, nil
	case MethodQuit:
		return Quit{}, nil
	case MethodGetQualitySettings:
		return GetQualitySettings{}, nil
	case MethodIsInBackground:
		return IsInBackground{}, nil
	case MethodEventsSetup:
		return SetupEvents{}, nil
	case MethodSendMessage:
		target, name, err := addressArgs(method, args)
		if err != nil {
			return nil, err
		}
		data, _ := stringArg(args, "data")
		return SendMessage{Target: target, Name: name, Data: data}, nil
	case MethodSendJSONMessage:
		target, name, err := addressArgs(method, args)
		if err != nil {
			return nil, err
		}
		data, _ := mapArg(args, "data")
		return SendJSONMessage{Target: target, Name: name, Data: data}, nil
	case MethodSendBinaryMessage:
		target, name, err := addressArgs(method, args)
		if err != nil {
			return nil, err
		}
		env, err := EnvelopeFromMap(args)
		if err != nil {
			return nil, err
		}
		return SendBinaryMessage{Target: target, Name: name, Envelope: env}, nil
	case MethodSendBinaryChunk:
		target, name, err := addressArgs(method, args)
		if err != nil {
			return nil, err
		}
		c, err := ChunkFromMap(args)
		if err != nil {
			return nil, err
		}
		return SendBinaryChunk{Target: target, Name: name, Chunk: c}, nil
	case MethodExecuteConsoleCommand:
		cmd, err := requireString(args, "command")
		if err != nil {
			return nil, err
		}
		return ExecuteConsoleCommand{Command: cmd}, nil
	case MethodLoadLevel:
		level, err := requireString(args, "levelName")
		if err != nil {
			return nil, err
		}
		return LoadLevel{LevelName: level}, nil
	case MethodApplyQualitySettings:
		return ApplyQualitySettings{Settings: QualityFromMap(args)}, nil
	case MethodSetStreamingCachePath:
		path, err := requireString(args, "path")
		if err != nil {
			return nil, err
		}
		return SetStreamingCachePath{Path: path}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

func addressArgs(method string, args map[string]any) (string, string, error) {
	target, err := requireString(args, "target")
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", method, err)
	}
	name, err := requireString(args, "method")
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", method, err)
	}
	return target, name, nil
}
