package mapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

//ErrShortBuffer is returned when a structure runs past the end of its buffer
var ErrShortBuffer = errors.New("buffer too short")

//DecodeError records where decoding a structure failed
type DecodeError struct {
	Structure string
	Field     string
	Offset    int
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s.%s at offset %d: %s", e.Structure, e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

//decoder is a cursor over a buffer. The first failure sticks and every
//later read returns the zero value, callers check err once at the end.
type decoder struct {
	name string
	buf  []byte
	pos  int
	err  error
}

func newDecoder(name string, buf []byte) *decoder {
	return &decoder{name: name, buf: buf}
}

func (d *decoder) fail(field string, err error) {
	if d.err == nil {
		d.err = &DecodeError{Structure: d.name, Field: field, Offset: d.pos, Err: err}
	}
}

func (d *decoder) failf(field, format string, args ...interface{}) {
	d.fail(field, fmt.Errorf(format, args...))
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) take(field string, n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.remaining() < n {
		d.fail(field, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, d.remaining()))
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) bytes(field string, n int) []byte {
	b := d.take(field, n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (d *decoder) uint8(field string) uint8 {
	b := d.take(field, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) uint16(field string) uint16 {
	b := d.take(field, 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) uint32(field string) uint32 {
	b := d.take(field, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) uint64(field string) uint64 {
	b := d.take(field, 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

//count reads a 2 or 4 byte COUNT
func (d *decoder) count(field string, width int) int {
	if width == 4 {
		return int(d.uint32(field))
	}
	return int(d.uint16(field))
}

//unicodeString reads a UTF-16LE string up to and including its 0x0000 terminator
func (d *decoder) unicodeString(field string) []byte {
	if d.err != nil {
		return nil
	}
	for i := d.pos; i+1 < len(d.buf); i += 2 {
		if d.buf[i] == 0x00 && d.buf[i+1] == 0x00 {
			return d.bytes(field, i+2-d.pos)
		}
	}
	d.fail(field, fmt.Errorf("%w: unterminated unicode string", ErrShortBuffer))
	return nil
}

//asciiString reads a string up to and including its null terminator
func (d *decoder) asciiString(field string) []byte {
	if d.err != nil {
		return nil
	}
	i := bytes.IndexByte(d.buf[d.pos:], 0x00)
	if i == -1 {
		d.fail(field, fmt.Errorf("%w: unterminated string", ErrShortBuffer))
		return nil
	}
	return d.bytes(field, i+1)
}

//sub hands out the next n bytes as their own decoder
func (d *decoder) sub(name string, n int) *decoder {
	b := d.take(name, n)
	sub := newDecoder(name, b)
	if b == nil {
		sub.err = d.err
	}
	return sub
}

//absorb moves a nested decoder's error into d
func (d *decoder) absorb(o *decoder) {
	if d.err == nil && o.err != nil {
		d.err = o.err
	}
}
