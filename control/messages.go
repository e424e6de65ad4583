package control

import (
	"github.com/xtaci/qcpgo/config"
	"github.com/xtaci/qcpgo/wire"
)

// Direction indicates which way the single file in this session travels.
type Direction uint8

const (
	DirectionUpload Direction = iota
	DirectionDownload
	DirectionBoth
)

// CredentialsType selects which TLS authentication shape the client
// offers: a self-signed X.509 certificate, or (from LevelRawPublicKey) a
// raw RFC7250-style public key that elides the X.509 wrapper. Only
// CredentialsX509 is used: the client always offers it, the server always
// replies with it without reading the client's value, and
// credentials.PinnedTLSConfig pins an X.509 certificate. See DESIGN.md's
// Open Questions note.
type CredentialsType uint8

const (
	CredentialsX509 CredentialsType = iota
	CredentialsRawPublicKey
)

// ClientMessage is the length-prefixed record the client sends once both
// greetings have locked in the effective compatibility level. It carries
// the client's certificate, transport preferences, desired direction of
// travel, and a Variant extension slot that is encoded at every level.
type ClientMessage struct {
	CredentialsType CredentialsType
	Cert            []byte
	Direction       Direction
	ShowConfig      bool
	Preferences     config.TransportPreferences
	Attributes      []wire.Variant
}

const maxCertSize = 16 * 1024

func (m ClientMessage) Encode(w *wire.Writer) {
	w.Uvarint(uint64(m.CredentialsType))
	w.Bytes(m.Cert)
	w.Uvarint(uint64(m.Direction))
	w.Bool(m.ShowConfig)
	m.Preferences.Encode(w)
	wire.EncodeVariantSlice(w, m.Attributes)
}

func (m *ClientMessage) Decode(r *wire.Reader) error {
	ct, err := r.Uvarint()
	if err != nil {
		return err
	}
	m.CredentialsType = CredentialsType(ct)
	if m.Cert, err = r.Bytes(maxCertSize); err != nil {
		return err
	}
	dir, err := r.Uvarint()
	if err != nil {
		return err
	}
	m.Direction = Direction(dir)
	if m.ShowConfig, err = r.Bool(); err != nil {
		return err
	}
	if err := m.Preferences.Decode(r); err != nil {
		return err
	}
	if m.Attributes, err = wire.DecodeVariantSlice(r, 256); err != nil {
		return err
	}
	return nil
}

// FailureReason enumerates why the server declined to proceed, carried in
// a failed ServerMessage so the client sees a structured reason rather
// than a bare pipe close, per spec.md's design notes.
type FailureReason uint8

const (
	FailureNone FailureReason = iota
	FailureIncompatible
	FailureConfigError
	FailureBadCredentials
	FailureInternal
)

func (r FailureReason) String() string {
	switch r {
	case FailureIncompatible:
		return "incompatible"
	case FailureConfigError:
		return "config error"
	case FailureBadCredentials:
		return "bad credentials"
	case FailureInternal:
		return "internal error"
	default:
		return "none"
	}
}

// ServerMessage is the reply to ClientMessage: either success (carrying
// the server's certificate, UDP port, and the negotiated configuration) or
// a structured failure.
type ServerMessage struct {
	Ok              bool
	FailureReason   FailureReason
	FailureMessage  string
	Cert            []byte
	CredentialsType CredentialsType
	Port            uint16
	Negotiated      config.Negotiated
	Attributes      []wire.Variant
}

func (m ServerMessage) Encode(w *wire.Writer) {
	w.Bool(m.Ok)
	if !m.Ok {
		w.Uvarint(uint64(m.FailureReason))
		w.String(m.FailureMessage)
		return
	}
	w.Bytes(m.Cert)
	w.Uvarint(uint64(m.CredentialsType))
	w.Uvarint(uint64(m.Port))
	encodeNegotiated(w, m.Negotiated)
	wire.EncodeVariantSlice(w, m.Attributes)
}

func (m *ServerMessage) Decode(r *wire.Reader) error {
	ok, err := r.Bool()
	if err != nil {
		return err
	}
	m.Ok = ok
	if !ok {
		fr, err := r.Uvarint()
		if err != nil {
			return err
		}
		m.FailureReason = FailureReason(fr)
		if m.FailureMessage, err = r.String(4096); err != nil {
			return err
		}
		return nil
	}
	if m.Cert, err = r.Bytes(maxCertSize); err != nil {
		return err
	}
	ct, err := r.Uvarint()
	if err != nil {
		return err
	}
	m.CredentialsType = CredentialsType(ct)
	port, err := r.Uvarint()
	if err != nil {
		return err
	}
	m.Port = uint16(port)
	if m.Negotiated, err = decodeNegotiated(r); err != nil {
		return err
	}
	if m.Attributes, err = wire.DecodeVariantSlice(r, 256); err != nil {
		return err
	}
	return nil
}

func encodeNegotiated(w *wire.Writer, n config.Negotiated) {
	w.Uvarint(n.RxAtClient)
	w.Uvarint(n.RxAtServer)
	w.Uvarint(uint64(n.RTTMillis))
	w.Uvarint(uint64(n.Congestion))
	w.Uvarint(n.InitialCwnd)
	w.Uvarint(n.UDPBuffer)
	w.Uvarint(uint64(n.InitialMTU))
	w.Uvarint(uint64(n.MinMTU))
	w.Uvarint(uint64(n.MaxMTU))
	w.Uvarint(uint64(n.PacketThreshold))
	w.Uvarint(uint64(n.TimeThreshold))
	w.Uvarint(uint64(n.Timeout))
}

func decodeNegotiated(r *wire.Reader) (config.Negotiated, error) {
	var n config.Negotiated
	var err error
	if n.RxAtClient, err = r.Uvarint(); err != nil {
		return n, err
	}
	if n.RxAtServer, err = r.Uvarint(); err != nil {
		return n, err
	}
	v, err := r.Uvarint()
	if err != nil {
		return n, err
	}
	n.RTTMillis = uint32(v)
	cc, err := r.Uvarint()
	if err != nil {
		return n, err
	}
	n.Congestion = config.Congestion(cc)
	if n.InitialCwnd, err = r.Uvarint(); err != nil {
		return n, err
	}
	if n.UDPBuffer, err = r.Uvarint(); err != nil {
		return n, err
	}
	if v, err = r.Uvarint(); err != nil {
		return n, err
	}
	n.InitialMTU = uint16(v)
	if v, err = r.Uvarint(); err != nil {
		return n, err
	}
	n.MinMTU = uint16(v)
	if v, err = r.Uvarint(); err != nil {
		return n, err
	}
	n.MaxMTU = uint16(v)
	if v, err = r.Uvarint(); err != nil {
		return n, err
	}
	n.PacketThreshold = uint32(v)
	if v, err = r.Uvarint(); err != nil {
		return n, err
	}
	n.TimeThreshold = uint32(v)
	if v, err = r.Uvarint(); err != nil {
		return n, err
	}
	n.Timeout = uint16(v)
	return n, nil
}

// ClosedownReport is server-origin telemetry sent after the QUIC session
// ends, purely informational (spec.md section 3).
type ClosedownReport struct {
	PathMTU           uint16
	RTTMicros         uint64
	BytesSent         uint64
	BytesReceived     uint64
	LostPackets       uint64
	CongestionEvents  uint64
}

func (c ClosedownReport) Encode(w *wire.Writer) {
	w.Uvarint(uint64(c.PathMTU))
	w.Uvarint(c.RTTMicros)
	w.Uvarint(c.BytesSent)
	w.Uvarint(c.BytesReceived)
	w.Uvarint(c.LostPackets)
	w.Uvarint(c.CongestionEvents)
}

func (c *ClosedownReport) Decode(r *wire.Reader) error {
	v, err := r.Uvarint()
	if err != nil {
		return err
	}
	c.PathMTU = uint16(v)
	if c.RTTMicros, err = r.Uvarint(); err != nil {
		return err
	}
	if c.BytesSent, err = r.Uvarint(); err != nil {
		return err
	}
	if c.BytesReceived, err = r.Uvarint(); err != nil {
		return err
	}
	if c.LostPackets, err = r.Uvarint(); err != nil {
		return err
	}
	if c.CongestionEvents, err = r.Uvarint(); err != nil {
		return err
	}
	return nil
}
