package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayloadSize bounds the memory a single length-prefixed message may
// claim to decode to. Configurable per spec.md's "hard maximum payload
// size (>= 1 MiB, configurable constant)".
const MaxPayloadSize = 4 * 1024 * 1024

// WriteFramed writes a 4-byte little-endian length prefix followed by
// payload. Used for every control-channel message after the greetings and
// for every session-protocol message on a QUIC stream.
func WriteFramed(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds frame limit %d: %w", len(payload), MaxPayloadSize, ErrOversize)
	}
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(payload)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFramed reads one length-prefixed message, failing with ErrOversize
// if the declared length exceeds limit (0 means MaxPayloadSize).
func ReadFramed(r io.Reader, limit uint32) ([]byte, error) {
	if limit == 0 {
		limit = MaxPayloadSize
	}
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(head[:])
	if n > limit {
		return nil, fmt.Errorf("wire: declared frame length %d exceeds limit %d: %w", n, limit, ErrOversize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMessage marshals v and writes it as a framed message.
func WriteMessage(w io.Writer, v Encoder) error {
	return WriteFramed(w, Marshal(v))
}

// ReadMessage reads one framed message and decodes it into v.
func ReadMessage(r io.Reader, v Decoder, limit uint32) error {
	buf, err := ReadFramed(r, limit)
	if err != nil {
		return err
	}
	return Unmarshal(buf, v)
}
