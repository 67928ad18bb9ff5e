package protocol

import (
	"encoding/json"
	"fmt"
)

// Call is a host → native method invocation.
type Call struct {
	ID     uint64
	Method string
	Args   map[string]any
}

// Reply carries the result of a successful Call.
type Reply struct {
	ID     uint64
	Result any
}

// CallError carries the failure of a Call.
type CallError struct {
	ID      uint64
	Code    ErrorCode
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("protocol: call %d failed (%s): %s", e.ID, e.Code, e.Message)
}

// EncodeCall encodes a Call frame payload.
func EncodeCall(c *Call) ([]byte, error) {
	args, err := json.Marshal(c.Args)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode args for %s: %w", c.Method, err)
	}
	e := newEncoder()
	e.putUvarint(c.ID)
	e.putString(c.Method)
	e.putField(args)
	return e.buf, nil
}

// DecodeCall decodes a Call frame payload.
func DecodeCall(data []byte) (*Call, error) {
	d := newDecoder(data)
	id, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	method, err := d.readString()
	if err != nil {
		return nil, err
	}
	raw, err := d.readField()
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("protocol: decode args for %s: %w", method, err)
	}
	return &Call{ID: id, Method: method, Args: args}, nil
}

// EncodeReply encodes a Reply frame payload.
func EncodeReply(r *Reply) ([]byte, error) {
	result, err := json.Marshal(r.Result)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode reply %d: %w", r.ID, err)
	}
	e := newEncoder()
	e.putUvarint(r.ID)
	e.putField(result)
	return e.buf, nil
}

// DecodeReply decodes a Reply frame payload.
func DecodeReply(data []byte) (*Reply, error) {
	d := newDecoder(data)
	id, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	raw, err := d.readField()
	if err != nil {
		return nil, err
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("protocol: decode reply %d: %w", id, err)
	}
	return &Reply{ID: id, Result: result}, nil
}

// EncodeCallError encodes an Error frame payload.
func EncodeCallError(ce *CallError) []byte {
	e := newEncoder()
	e.putUvarint(ce.ID)
	e.putUint16(uint16(ce.Code))
	e.putString(ce.Message)
	return e.buf
}

// DecodeCallError decodes an Error frame payload.
func DecodeCallError(data []byte) (*CallError, error) {
	d := newDecoder(data)
	id, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	code, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	msg, err := d.readString()
	if err != nil {
		return nil, err
	}
	return &CallError{ID: id, Code: ErrorCode(code), Message: msg}, nil
}

// EncodeEvent encodes an Event frame payload.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent decodes an Event frame payload.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("protocol: event without discriminant")
	}
	return ev, nil
}
