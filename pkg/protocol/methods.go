package protocol

// Plugin-level queries, answered without an engine instance.
const (
	MethodGetPlatformVersion = "getPlatformVersion"
	MethodGetEngineType      = "getEngineType"
	MethodGetEngineVersion   = "getEngineVersion"
	MethodIsEngineSupported  = "isEngineSupported"
)

// Engine command methods.
const (
	MethodCreate                = "engine#create"
	MethodPause                 = "engine#pause"
	MethodResume                = "engine#resume"
	MethodUnload                = "engine#unload"
	MethodQuit                  = "engine#quit"
	MethodSendMessage           = "engine#sendMessage"
	MethodSendJSONMessage       = "engine#sendJsonMessage"
	MethodSendBinaryMessage     = "engine#sendBinaryMessage"
	MethodSendBinaryChunk       = "engine#sendBinaryChunk"
	MethodExecuteConsoleCommand = "engine#executeConsoleCommand"
	MethodLoadLevel             = "engine#loadLevel"
	MethodApplyQualitySettings  = "engine#applyQualitySettings"
	MethodGetQualitySettings    = "engine#getQualitySettings"
	MethodIsInBackground        = "engine#isInBackground"
	MethodSetStreamingCachePath = "engine#setStreamingCachePath"
)

// MethodEventsSetup asks the native side to wire its event emitter. It
// replies true only once events will actually be delivered.
const MethodEventsSetup = "events#setup"

// Batch envelopes travel as a JSON message addressed to a reserved target.
// The native side unpacks Messages in order and routes each one.
const (
	BatchTarget = "_batch"
	BatchMethod = "batch"
)

// EngineType names an embedded engine runtime.
type EngineType string

const (
	EngineUnity  EngineType = "unity"
	EngineUnreal EngineType = "unreal"
)

// String returns the engine type name.
func (t EngineType) String() string {
	return string(t)
}

// Valid reports whether t is a known engine type.
func (t EngineType) Valid() bool {
	return t == EngineUnity || t == EngineUnreal
}

// unrealOnly lists commands that only the Unreal runtime implements.
var unrealOnly = map[string]bool{
	MethodExecuteConsoleCommand: true,
	MethodLoadLevel:             true,
}

// Supports reports whether the engine implements method. Unknown engine
// types are assumed to implement everything.
func (t EngineType) Supports(method string) bool {
	if t == EngineUnity {
		return !unrealOnly[method]
	}
	return true
}
