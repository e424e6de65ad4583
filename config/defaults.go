package config

// Configuration is the full set of per-side resolved options: CLI flags,
// config file values, and hard-wired defaults merged by Resolve (Stage A
// of spec.md section 4.7). None of its fields are optional; Resolve always
// produces a concrete value, falling back through the source order
// documented on Resolve.
type Configuration struct {
	// Transport parameters, shared with TransportPreferences' shape but
	// concrete rather than optional once resolved.
	RxBW            uint64
	TxBW            uint64
	RTTMillis       uint32
	Congestion      Congestion
	InitialCwnd     uint64
	UDPBuffer       uint64
	InitialMTU      uint16
	MinMTU          uint16
	MaxMTU          uint16
	PacketThreshold uint32
	TimeThreshold   uint32
	Port            PortRange
	Timeout         uint16

	// Client-only options.
	AddressFamily AddressFamily
	SSH           string
	SSHOptions    []string
	RemotePort    PortRange
	RemoteUser    string
	TimeFormat    string
	SSHConfig     []string
	SSHSubsystem  bool
	Color         string
	Preserve      bool
}

// PortRange is an inclusive [Begin, End] UDP port range; Begin==End==0
// means "any available port", matching the original's PortRange::default.
type PortRange struct {
	Begin uint16
	End   uint16
}

// IsAny reports whether the range means "let the OS pick".
func (p PortRange) IsAny() bool {
	return p.Begin == 0 && p.End == 0
}

// AddressFamily selects the IP version used for the QUIC dial, consistent
// with the SSH connection per spec.md section 4.4.
type AddressFamily int

const (
	AddressFamilyAny AddressFamily = iota
	AddressFamilyV4
	AddressFamilyV6
)

// SystemDefault returns qcp's hard-wired configuration defaults, the
// bottom of Stage A's source order. Values are grounded directly on the
// original implementation's SYSTEM_DEFAULT_CONFIG (qrx=12.5M, rtt=300ms,
// cubic, timeout=5s) plus the MTU/threshold/buffer figures quinn itself
// defaults to, since spec.md requires concrete defaults for fields the
// original leaves to the QUIC library.
func SystemDefault() Configuration {
	return Configuration{
		RxBW:            12_500_000,
		TxBW:            0,
		RTTMillis:       300,
		Congestion:      CongestionCubic,
		InitialCwnd:     0,
		UDPBuffer:       2 * 1024 * 1024,
		InitialMTU:      1200,
		MinMTU:          1200,
		MaxMTU:          1452,
		PacketThreshold: 3,
		TimeThreshold:   9 * 1000 / 8, // quinn's 9/8 multiplier expressed in ms-scaled units
		Port:            PortRange{},
		Timeout:         5,
		AddressFamily:   AddressFamilyAny,
		SSH:             "ssh",
		TimeFormat:      "local",
		Color:           "auto",
	}
}

// EffectiveTx returns tx, substituting rx when tx is zero, per spec.md's
// "tx_bw = 0 resolves to the post-merge rx_bw" invariant.
func (c Configuration) EffectiveTx() uint64 {
	if c.TxBW == 0 {
		return c.RxBW
	}
	return c.TxBW
}
