package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Envelope pairs a tag with its raw payload bytes, free of any length
// prefix. Transports own framing (see transport/nettransport's length
// prefix) and deliver transport.Message values; neither inprocess nor
// nettransport uses Envelope.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

// writer accumulates fixed-order fields using encoding/binary, mirroring
// the fixed-field-order struct packing of the original implementation's
// wire formats (spec §6), without needing generated codec code.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) i32(v int32)   { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) i64(v int64)   { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) u8(v byte)     { w.buf.WriteByte(v) }
func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}
func (w *writer) str(s string) {
	w.i32(int32(len(s)))
	w.buf.WriteString(s)
}
func (w *writer) bytes(b []byte) {
	w.i32(int32(len(b)))
	w.buf.Write(b)
}
func (w *writer) bytesNoLen(b []byte) {
	w.buf.Write(b)
}

type reader struct {
	buf *bytes.Reader
}

func newReader(b []byte) *reader { return &reader{buf: bytes.NewReader(b)} }

func (r *reader) i32() (int32, error) {
	var v int32
	err := binary.Read(r.buf, binary.BigEndian, &v)
	return v, err
}

func (r *reader) i64() (int64, error) {
	var v int64
	err := binary.Read(r.buf, binary.BigEndian, &v)
	return v, err
}

func (r *reader) u8() (byte, error) {
	return r.buf.ReadByte()
}

func (r *reader) boolv() (bool, error) {
	b, err := r.u8()
	return b != 0, err
}

func (r *reader) str() (string, error) {
	n, err := r.i32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("wire: negative string length %d", n)
	}
	b := make([]byte, n)
	if _, err := readFull(r.buf, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) bytesv() ([]byte, error) {
	n, err := r.i32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("wire: negative byte length %d", n)
	}
	b := make([]byte, n)
	if _, err := readFull(r.buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *reader) rest() ([]byte, error) {
	b := make([]byte, r.buf.Len())
	_, err := readFull(r.buf, b)
	return b, err
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
