package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Payload decoding errors.
var (
	ErrFieldTooLarge  = errors.New("protocol: field exceeds payload limit")
	ErrVarintOverflow = errors.New("protocol: varint overflow")
)

// Call, Reply and Error payloads are a uvarint id followed by uvarint
// length-prefixed fields and, for errors, a big-endian uint16 code.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: make([]byte, 0, 128)}
}

func (e *encoder) putUvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) putUint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *encoder) putField(b []byte) {
	e.putUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) putString(s string) {
	e.putUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	buf []byte
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf)
	if n == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if n < 0 {
		return 0, ErrVarintOverflow
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *decoder) readUint16() (uint16, error) {
	if len(d.buf) < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(d.buf)
	d.buf = d.buf[2:]
	return v, nil
}

// readField returns the next length-prefixed field. The slice aliases the
// input.
func (d *decoder) readField() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if n > MaxPayloadSize {
		return nil, ErrFieldTooLarge
	}
	if n > uint64(len(d.buf)) {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b, nil
}

func (d *decoder) readString() (string, error) {
	b, err := d.readField()
	return string(b), err
}
