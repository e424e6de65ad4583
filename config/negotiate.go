package config

import "fmt"

// Negotiated is the tuple both endpoints apply after Stage B, carried back
// to the client in ServerMessage so it learns what the server will
// actually use (spec.md section 4.7).
type Negotiated struct {
	RxAtClient      uint64 // bytes/sec client receives (= min(client.rx, server.tx))
	RxAtServer      uint64 // bytes/sec server receives (= min(server.rx, client.tx))
	RTTMillis       uint32
	Congestion      Congestion
	InitialCwnd     uint64
	UDPBuffer       uint64
	InitialMTU      uint16
	MinMTU          uint16
	MaxMTU          uint16
	PacketThreshold uint32
	TimeThreshold   uint32
	Timeout         uint16
}

// Negotiate merges the client's and server's resolved Configurations into
// the single tuple both sides apply, per spec.md section 4.7 Stage B and
// the tie-break table recorded in SPEC_FULL.md section 12:
//
//   - bandwidth: min-of-cross, tx=0 already resolved to rx by EffectiveTx
//   - RTT: max (more conservative wins)
//   - initial congestion window: server's value wins when both specify one
//   - congestion algorithm: must match exactly, else Incompatible
//   - MTU bounds / thresholds / UDP buffer: client proposes, server may
//     only tighten (narrow the MTU range, lower the thresholds and buffer)
//   - timeout: the smaller of the two (shorter idle timeout wins)
func Negotiate(client, server Configuration) (Negotiated, error) {
	if client.Congestion != server.Congestion {
		return Negotiated{}, fmt.Errorf("config: incompatible congestion algorithms: client wants %s, server wants %s", client.Congestion, server.Congestion)
	}

	n := Negotiated{
		RxAtClient: minU64(client.RxBW, server.EffectiveTx()),
		RxAtServer: minU64(server.RxBW, client.EffectiveTx()),
		RTTMillis:  maxU32(client.RTTMillis, server.RTTMillis),
		Congestion: client.Congestion,
	}

	switch {
	case client.InitialCwnd != 0 && server.InitialCwnd != 0:
		n.InitialCwnd = server.InitialCwnd
	case server.InitialCwnd != 0:
		n.InitialCwnd = server.InitialCwnd
	default:
		n.InitialCwnd = client.InitialCwnd
	}

	n.UDPBuffer = minU64(client.UDPBuffer, server.UDPBuffer)
	n.MinMTU = maxU16(client.MinMTU, server.MinMTU)
	n.MaxMTU = minU16(client.MaxMTU, server.MaxMTU)
	if n.MinMTU > n.MaxMTU {
		return Negotiated{}, fmt.Errorf("config: incompatible MTU bounds: min %d exceeds max %d after negotiation", n.MinMTU, n.MaxMTU)
	}
	n.InitialMTU = clampU16(client.InitialMTU, n.MinMTU, n.MaxMTU)
	n.PacketThreshold = minU32(client.PacketThreshold, server.PacketThreshold)
	n.TimeThreshold = minU32(client.TimeThreshold, server.TimeThreshold)
	n.Timeout = minU16(client.Timeout, server.Timeout)

	if n.RTTMillis == 0 {
		return Negotiated{}, fmt.Errorf("config: negotiated RTT must be greater than zero")
	}
	return n, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func clampU16(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
