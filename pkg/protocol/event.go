package protocol

import "fmt"

// EventType is the string discriminant of a native → host event.
type EventType string

const (
	EventCreated        EventType = "onCreated"
	EventLoaded         EventType = "onLoaded"
	EventPaused         EventType = "onPaused"
	EventResumed        EventType = "onResumed"
	EventUnloaded       EventType = "onUnloaded"
	EventDestroyed      EventType = "onDestroyed"
	EventError          EventType = "onError"
	EventMessage        EventType = "onMessage"
	EventBinaryMessage  EventType = "onBinaryMessage"
	EventBinaryChunk    EventType = "onBinaryChunk"
	EventBinaryProgress EventType = "onBinaryProgress"
	EventSceneLoaded    EventType = "onSceneLoaded"
)

// IsLifecycle reports whether the event describes an engine state change.
func (t EventType) IsLifecycle() bool {
	switch t {
	case EventCreated, EventLoaded, EventPaused, EventResumed, EventUnloaded, EventDestroyed:
		return true
	}
	return false
}

// Event is one tagged event on the event channel.
type Event struct {
	Type EventType      `json:"event"`
	Data map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event with the given discriminant and data.
func NewEvent(t EventType, data map[string]any) Event {
	return Event{Type: t, Data: data}
}

// ErrorEvent builds an onError event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Data: map[string]any{"message": message}}
}

// MessageEvent builds an onMessage event.
func MessageEvent(target, method string, data any) Event {
	return Event{Type: EventMessage, Data: map[string]any{
		"target": target,
		"method": method,
		"data":   data,
	}}
}

// BinaryMessageEvent builds an onBinaryMessage event.
func BinaryMessageEvent(target, method string, env BinaryEnvelope) Event {
	m := env.ToMap()
	m["target"] = target
	m["method"] = method
	return Event{Type: EventBinaryMessage, Data: m}
}

// ChunkEvent builds an onBinaryChunk event.
func ChunkEvent(target, method string, c Chunk) Event {
	m := c.ToMap()
	m["target"] = target
	m["method"] = method
	return Event{Type: EventBinaryChunk, Data: m}
}

// ProgressEventOf builds an onBinaryProgress event.
func ProgressEventOf(p ProgressEvent) Event {
	return Event{Type: EventBinaryProgress, Data: p.ToMap()}
}

// SceneLoadedEvent builds an onSceneLoaded event.
func SceneLoadedEvent(s Scene) Event {
	return Event{Type: EventSceneLoaded, Data: s.ToMap()}
}

// Message is the payload of an onMessage event.
type Message struct {
	Target string
	Method string
	Data   any
}

// Text returns Data as a string, or its formatted value.
func (m Message) Text() string {
	if s, ok := m.Data.(string); ok {
		return s
	}
	return fmt.Sprint(m.Data)
}

// Message decodes the payload of an onMessage event.
func (e Event) Message() (Message, bool) {
	if e.Type != EventMessage {
		return Message{}, false
	}
	target, _ := stringArg(e.Data, "target")
	method, _ := stringArg(e.Data, "method")
	return Message{Target: target, Method: method, Data: e.Data["data"]}, true
}

// ErrorMessage returns the message of an onError event.
func (e Event) ErrorMessage() (string, bool) {
	if e.Type != EventError {
		return "", false
	}
	msg, _ := stringArg(e.Data, "message")
	return msg, true
}

// Envelope decodes the payload of an onBinaryMessage event.
func (e Event) Envelope() (BinaryEnvelope, error) {
	if e.Type != EventBinaryMessage {
		return BinaryEnvelope{}, fmt.Errorf("protocol: %s is not %s", e.Type, EventBinaryMessage)
	}
	return EnvelopeFromMap(e.Data)
}

// Chunk decodes the payload of an onBinaryChunk event.
func (e Event) Chunk() (Chunk, error) {
	if e.Type != EventBinaryChunk {
		return Chunk{}, fmt.Errorf("protocol: %s is not %s", e.Type, EventBinaryChunk)
	}
	return ChunkFromMap(e.Data)
}

// Progress decodes the payload of an onBinaryProgress event.
func (e Event) Progress() (ProgressEvent, bool) {
	if e.Type != EventBinaryProgress {
		return ProgressEvent{}, false
	}
	p := ProgressEvent{}
	p.TransferID, _ = stringArg(e.Data, "transferId")
	p.CurrentChunk, _ = intArg(e.Data, "currentChunk")
	p.TotalChunks, _ = intArg(e.Data, "totalChunks")
	p.Progress, _ = floatArg(e.Data, "progress")
	return p, true
}

// Scene is the payload of an onSceneLoaded event.
type Scene struct {
	Name       string
	BuildIndex int
	IsLoaded   bool
	IsValid    bool
	Metadata   map[string]any
}

// ToMap returns the wire map of the scene.
func (s Scene) ToMap() map[string]any {
	m := map[string]any{
		"name":       s.Name,
		"buildIndex": s.BuildIndex,
		"isLoaded":   s.IsLoaded,
		"isValid":    s.IsValid,
	}
	if s.Metadata != nil {
		m["metadata"] = s.Metadata
	}
	return m
}

// Scene decodes the payload of an onSceneLoaded event.
func (e Event) Scene() (Scene, bool) {
	if e.Type != EventSceneLoaded {
		return Scene{}, false
	}
	var s Scene
	s.Name, _ = stringArg(e.Data, "name")
	s.BuildIndex, _ = intArg(e.Data, "buildIndex")
	s.IsLoaded, _ = boolArg(e.Data, "isLoaded")
	s.IsValid, _ = boolArg(e.Data, "isValid")
	s.Metadata, _ = mapArg(e.Data, "metadata")
	return s, true
}

// Address returns the target and method carried by message, binary and chunk
// events. Both are empty for other events.
func (e Event) Address() (target, method string) {
	target, _ = stringArg(e.Data, "target")
	method, _ = stringArg(e.Data, "method")
	return target, method
}
