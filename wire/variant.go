package wire

// Variant is an opaque tag-length-value container used for forward
// compatible protocol extensions. A decoder that does not recognise a tag
// must preserve it unchanged rather than fail, per spec.md 4.1 and 9.
type Variant struct {
	Tag  uint64
	Data []byte
}

// Encode writes the tag as an unsigned varint followed by a length-prefixed
// byte array, matching the "Variant: an opaque tag-length-value container"
// wire shape.
func (v Variant) Encode(w *Writer) {
	w.Uvarint(v.Tag)
	w.Bytes(v.Data)
}

// Decode reads one Variant entry. Unknown tags decode successfully; it is
// up to the caller whether an unrecognised tag is fatal.
func (v *Variant) Decode(r *Reader) error {
	tag, err := r.Uvarint()
	if err != nil {
		return err
	}
	data, err := r.Bytes(MaxPayloadSize)
	if err != nil {
		return err
	}
	v.Tag = tag
	v.Data = data
	return nil
}

// VariantUint builds a Variant carrying an unsigned integer payload.
func VariantUint(tag uint64, value uint64) Variant {
	w := NewWriter()
	w.Uvarint(value)
	return Variant{Tag: tag, Data: w.Buffer()}
}

// Uint decodes this Variant's payload as an unsigned varint.
func (v Variant) Uint() (uint64, error) {
	r := NewReader(v.Data)
	return r.Uvarint()
}

// EncodeVariantSlice writes a length-prefixed sequence of Variants.
func EncodeVariantSlice(w *Writer, vs []Variant) {
	w.Uvarint(uint64(len(vs)))
	for _, v := range vs {
		v.Encode(w)
	}
}

// DecodeVariantSlice reads a length-prefixed sequence of Variants.
func DecodeVariantSlice(r *Reader, maxItems int) ([]Variant, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if maxItems > 0 && n > uint64(maxItems) {
		return nil, ErrOversize
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Variant, 0, n)
	for i := uint64(0); i < n; i++ {
		var v Variant
		if err := v.Decode(r); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Find returns the first Variant with the given tag.
func Find(vs []Variant, tag uint64) (Variant, bool) {
	for _, v := range vs {
		if v.Tag == tag {
			return v, true
		}
	}
	return Variant{}, false
}
