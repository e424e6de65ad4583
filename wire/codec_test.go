package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundtripRecord struct {
	Name string
	Age  uint64
	Tags []Variant
}

func (r roundtripRecord) Encode(w *Writer) {
	w.String(r.Name)
	w.Uvarint(r.Age)
	EncodeVariantSlice(w, r.Tags)
}

func (r *roundtripRecord) Decode(rd *Reader) error {
	var err error
	if r.Name, err = rd.String(0); err != nil {
		return err
	}
	if r.Age, err = rd.Uvarint(); err != nil {
		return err
	}
	if r.Tags, err = DecodeVariantSlice(rd, 0); err != nil {
		return err
	}
	return nil
}

func TestRoundTrip(t *testing.T) {
	rec := roundtripRecord{Name: "qcp", Age: 128, Tags: []Variant{VariantUint(7, 42)}}
	buf := Marshal(rec)
	var got roundtripRecord
	require.NoError(t, Unmarshal(buf, &got))
	require.Equal(t, rec, got)
}

func TestUvarintBoundary(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 40, ^uint64(0)} {
		w := NewWriter()
		w.Uvarint(v)
		r := NewReader(w.Buffer())
		got, err := r.Uvarint()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestBoolRejectsInvalidByte(t *testing.T) {
	r := NewReader([]byte{2})
	_, err := r.Bool()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestBytesRejectsOversize(t *testing.T) {
	w := NewWriter()
	w.Bytes(make([]byte, 32))
	r := NewReader(w.Buffer())
	_, err := r.Bytes(8)
	require.ErrorIs(t, err, ErrOversize)
}

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := roundtripRecord{Name: "hello", Age: 9}
	require.NoError(t, WriteMessage(&buf, rec))
	var got roundtripRecord
	require.NoError(t, ReadMessage(&buf, &got, 0))
	require.Equal(t, rec, got)
}

func TestFramingRejectsOversizeDeclaration(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFramed(&buf, make([]byte, 100)))
	_, err := ReadFramed(&buf, 10)
	require.ErrorIs(t, err, ErrOversize)
}

func TestVariantUnknownTagPreserved(t *testing.T) {
	vs := []Variant{VariantUint(1, 10), VariantUint(99, 20)}
	w := NewWriter()
	EncodeVariantSlice(w, vs)
	r := NewReader(w.Buffer())
	decoded, err := DecodeVariantSlice(r, 0)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	v, ok := Find(decoded, 99)
	require.True(t, ok)
	n, err := v.Uint()
	require.NoError(t, err)
	require.Equal(t, uint64(20), n)
}
