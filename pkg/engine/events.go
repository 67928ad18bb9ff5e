package engine

import (
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/transfer"
)

// Message is an inbound engine message. Text and JSON messages carry Data;
// binary messages, whether sent whole or chunked, carry Binary.
type Message struct {
	Target string
	Method string
	Data   any
	Binary []byte

	// TransferID is set for binary messages that arrived in chunks.
	TransferID string
}

// IsBinary reports whether m carries a binary payload.
func (m Message) IsBinary() bool {
	return m.Binary != nil
}

// handleEvent receives every native event. Events arriving after Dispose
// are ignored.
func (c *Controller) handleEvent(ev protocol.Event) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.stats.EventsReceived++
	switch ev.Type {
	case protocol.EventPaused:
		if c.state == StateReady {
			c.state = StatePaused
		}
		c.paused = true
	case protocol.EventResumed:
		if c.state == StatePaused {
			c.state = StateReady
		}
		c.paused = false
	case protocol.EventUnloaded:
		if c.state.Active() {
			c.state = StateUnloaded
		}
	case protocol.EventDestroyed:
		c.state = StateDestroyed
	}
	c.mu.Unlock()

	switch ev.Type {
	case protocol.EventMessage:
		if msg, ok := ev.Message(); ok {
			c.messages.publish(Message{Target: msg.Target, Method: msg.Method, Data: msg.Data})
		}
	case protocol.EventBinaryMessage:
		c.receiveEnvelope(ev)
	case protocol.EventBinaryChunk:
		c.receiveChunk(ev)
	case protocol.EventSceneLoaded:
		if scene, ok := ev.Scene(); ok {
			c.scenes.publish(scene)
		}
	case protocol.EventError:
		msg, _ := ev.ErrorMessage()
		c.logger.Warn("engine reported error", "message", msg)
	}
	c.events.publish(ev)
}

func (c *Controller) receiveEnvelope(ev protocol.Event) {
	target, method := ev.Address()
	env, err := ev.Envelope()
	if err == nil {
		var data []byte
		data, err = transfer.DecodeEnvelope(env)
		if err == nil {
			c.messages.publish(Message{Target: target, Method: method, Binary: nonNil(data)})
			return
		}
	}
	c.transferFailed(target, method, "", err)
}

func (c *Controller) receiveChunk(ev protocol.Event) {
	target, method := ev.Address()
	chunk, err := ev.Chunk()
	if err != nil {
		c.transferFailed(target, method, "", err)
		return
	}
	data, err := c.assembler.ProcessChunk(chunk)
	if err != nil {
		c.transferFailed(target, method, chunk.TransferID, err)
		return
	}
	if data == nil {
		return
	}

	c.mu.Lock()
	c.stats.TransfersAssembled++
	c.mu.Unlock()
	c.messages.publish(Message{Target: target, Method: method, Binary: data, TransferID: chunk.TransferID})
}

// transferFailed reports a broken inbound binary message on the event
// stream as onError.
func (c *Controller) transferFailed(target, method, transferID string, err error) {
	c.mu.Lock()
	c.stats.TransferErrors++
	c.mu.Unlock()
	c.logger.Warn("inbound binary message rejected",
		"target", target, "method", method, "transfer_id", transferID, "error", err)
	c.events.publish(protocol.ErrorEvent(err.Error()))
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
