package wire

import "fmt"

// Writer accumulates primitives into a growable byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Buffer returns the accumulated buffer.
func (w *Writer) Buffer() []byte {
	return w.buf
}

// Uvarint appends an unsigned LEB128 varint.
func (w *Writer) Uvarint(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// Varint appends a zig-zag encoded signed varint.
func (w *Writer) Varint(v int64) {
	w.Uvarint(uint64((v << 1) ^ (v >> 63)))
}

// Bool appends a one-byte boolean.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// Byte appends a single raw byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// U16LE appends a little-endian uint16, used only by the fixed-length
// greeting records.
func (w *Writer) U16LE(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

// Bytes appends a length-prefixed byte array.
func (w *Writer) Bytes(b []byte) {
	w.Uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// String appends a length-prefixed UTF-8 string.
func (w *Writer) String(s string) {
	w.Bytes([]byte(s))
}

// OptionalAbsent appends the "absent" tag for an optional field.
func (w *Writer) OptionalAbsent() {
	w.buf = append(w.buf, 0)
}

// OptionalPresent appends the "present" tag for an optional field; the
// caller encodes the value immediately afterwards.
func (w *Writer) OptionalPresent() {
	w.buf = append(w.buf, 1)
}

// Encoder is implemented by every wire record.
type Encoder interface {
	Encode(w *Writer)
}

// Decoder is implemented by every wire record.
type Decoder interface {
	Decode(r *Reader) error
}

// Marshal encodes v into a standalone byte slice.
func Marshal(v Encoder) []byte {
	w := NewWriter()
	v.Encode(w)
	return w.Buffer()
}

// Unmarshal decodes v from buf, requiring the entire buffer to be consumed.
func Unmarshal(buf []byte, v Decoder) error {
	r := NewReader(buf)
	if err := v.Decode(r); err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return nil
}
