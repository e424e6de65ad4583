// Package config implements the two-stage configuration resolver from
// spec.md section 4.7: per-side OpenSSH-style file/CLI resolution (Stage A)
// feeding a two-sided negotiation (Stage B) that produces the transport
// parameters both QUIC endpoints apply.
package config

import (
	"github.com/xtaci/qcpgo/wire"
)

// Congestion identifies a QUIC congestion controller.
type Congestion uint8

const (
	CongestionCubic Congestion = iota
	CongestionNewReno
	CongestionBBR
)

func (c Congestion) String() string {
	switch c {
	case CongestionCubic:
		return "cubic"
	case CongestionNewReno:
		return "newreno"
	case CongestionBBR:
		return "bbr"
	default:
		return "unknown"
	}
}

// ParseCongestion parses a --congestion flag / config value.
func ParseCongestion(s string) (Congestion, bool) {
	switch s {
	case "cubic", "":
		return CongestionCubic, true
	case "newreno", "reno":
		return CongestionNewReno, true
	case "bbr":
		return CongestionBBR, true
	default:
		return 0, false
	}
}

// MinimumBandwidth is the validation floor carried forward from the
// original implementation's MINIMUM_BANDWIDTH constant: a resolved rx/tx
// below this is a ConfigError, not a silent clamp (SPEC_FULL.md section 12).
const MinimumBandwidth = 150 // bytes/sec

// TransportPreferences holds the optional per-side QUIC tuning knobs
// exchanged on the control channel, per spec.md section 3. Every field is
// a pointer; nil means "defer to peer" until Stage B negotiation resolves
// a concrete value for all of them.
type TransportPreferences struct {
	RxBW             *uint64
	TxBW             *uint64
	RTTMillis        *uint32
	Congestion       *Congestion
	InitialCwnd      *uint64
	UDPBuffer        *uint64
	InitialMTU       *uint16
	MinMTU           *uint16
	MaxMTU           *uint16
	PacketThreshold  *uint32
	TimeThreshold    *uint32
}

// Encode writes the preferences as a sequence of optional fields in a
// fixed order, matching the deterministic layout spec.md 4.1 requires.
func (p TransportPreferences) Encode(w *wire.Writer) {
	encodeOptU64(w, p.RxBW)
	encodeOptU64(w, p.TxBW)
	encodeOptU32(w, p.RTTMillis)
	if p.Congestion == nil {
		w.OptionalAbsent()
	} else {
		w.OptionalPresent()
		w.Uvarint(uint64(*p.Congestion))
	}
	encodeOptU64(w, p.InitialCwnd)
	encodeOptU64(w, p.UDPBuffer)
	encodeOptU16(w, p.InitialMTU)
	encodeOptU16(w, p.MinMTU)
	encodeOptU16(w, p.MaxMTU)
	encodeOptU32(w, p.PacketThreshold)
	encodeOptU32(w, p.TimeThreshold)
}

// Decode reads preferences written by Encode.
func (p *TransportPreferences) Decode(r *wire.Reader) error {
	var err error
	if p.RxBW, err = decodeOptU64(r); err != nil {
		return err
	}
	if p.TxBW, err = decodeOptU64(r); err != nil {
		return err
	}
	if p.RTTMillis, err = decodeOptU32(r); err != nil {
		return err
	}
	present, err := r.OptionalTag()
	if err != nil {
		return err
	}
	if present {
		v, err := r.Uvarint()
		if err != nil {
			return err
		}
		c := Congestion(v)
		p.Congestion = &c
	} else {
		p.Congestion = nil
	}
	if p.InitialCwnd, err = decodeOptU64(r); err != nil {
		return err
	}
	if p.UDPBuffer, err = decodeOptU64(r); err != nil {
		return err
	}
	if p.InitialMTU, err = decodeOptU16(r); err != nil {
		return err
	}
	if p.MinMTU, err = decodeOptU16(r); err != nil {
		return err
	}
	if p.MaxMTU, err = decodeOptU16(r); err != nil {
		return err
	}
	if p.PacketThreshold, err = decodeOptU32(r); err != nil {
		return err
	}
	if p.TimeThreshold, err = decodeOptU32(r); err != nil {
		return err
	}
	return nil
}

// ToPreferences lifts a fully-resolved Configuration into the optional
// shape ClientMessage carries on the wire. Stage A always resolves every
// field to a concrete value, so every field is marked present; the
// optional representation exists for the server's benefit, which merges
// preferences from a peer that may be running an older implementation
// advertising fewer fields.
func (c Configuration) ToPreferences() TransportPreferences {
	congestion := c.Congestion
	return TransportPreferences{
		RxBW:            &c.RxBW,
		TxBW:            &c.TxBW,
		RTTMillis:       &c.RTTMillis,
		Congestion:      &congestion,
		InitialCwnd:     &c.InitialCwnd,
		UDPBuffer:       &c.UDPBuffer,
		InitialMTU:      &c.InitialMTU,
		MinMTU:          &c.MinMTU,
		MaxMTU:          &c.MaxMTU,
		PacketThreshold: &c.PacketThreshold,
		TimeThreshold:   &c.TimeThreshold,
	}
}

// FromPreferences builds a Configuration for Negotiate's "client" argument
// out of a peer's TransportPreferences, falling back to fallback's value
// for any field the peer left absent (an older peer advertising fewer
// fields, per spec.md's forward-compatibility note on Variant/optional
// fields). The non-transport fields of fallback (SSH options, color, etc.)
// are never peer-controlled and pass through unchanged.
func FromPreferences(p TransportPreferences, fallback Configuration) Configuration {
	cfg := fallback
	if p.RxBW != nil {
		cfg.RxBW = *p.RxBW
	}
	if p.TxBW != nil {
		cfg.TxBW = *p.TxBW
	}
	if p.RTTMillis != nil {
		cfg.RTTMillis = *p.RTTMillis
	}
	if p.Congestion != nil {
		cfg.Congestion = *p.Congestion
	}
	if p.InitialCwnd != nil {
		cfg.InitialCwnd = *p.InitialCwnd
	}
	if p.UDPBuffer != nil {
		cfg.UDPBuffer = *p.UDPBuffer
	}
	if p.InitialMTU != nil {
		cfg.InitialMTU = *p.InitialMTU
	}
	if p.MinMTU != nil {
		cfg.MinMTU = *p.MinMTU
	}
	if p.MaxMTU != nil {
		cfg.MaxMTU = *p.MaxMTU
	}
	if p.PacketThreshold != nil {
		cfg.PacketThreshold = *p.PacketThreshold
	}
	if p.TimeThreshold != nil {
		cfg.TimeThreshold = *p.TimeThreshold
	}
	return cfg
}

func encodeOptU64(w *wire.Writer, v *uint64) {
	if v == nil {
		w.OptionalAbsent()
		return
	}
	w.OptionalPresent()
	w.Uvarint(*v)
}

func decodeOptU64(r *wire.Reader) (*uint64, error) {
	present, err := r.OptionalTag()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeOptU32(w *wire.Writer, v *uint32) {
	if v == nil {
		w.OptionalAbsent()
		return
	}
	w.OptionalPresent()
	w.Uvarint(uint64(*v))
}

func decodeOptU32(r *wire.Reader) (*uint32, error) {
	present, err := r.OptionalTag()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	u := uint32(v)
	return &u, nil
}

func encodeOptU16(w *wire.Writer, v *uint16) {
	if v == nil {
		w.OptionalAbsent()
		return
	}
	w.OptionalPresent()
	w.Uvarint(uint64(*v))
}

func decodeOptU16(r *wire.Reader) (*uint16, error) {
	present, err := r.OptionalTag()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	u := uint16(v)
	return &u, nil
}
