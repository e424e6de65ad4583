package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CLIOverrides carries the flags the user actually typed; nil means "not
// given", letting Resolve fall through to the file/default sources. Field
// names mirror Configuration with underscores-or-hyphens normalization
// applied the same way config files are, per spec.md section 6's
// "Recognized keywords match the CLI flag names".
type CLIOverrides struct {
	RxBW            *uint64
	TxBW            *uint64
	RTTMillis       *uint32
	Congestion      *Congestion
	InitialCwnd     *uint64
	UDPBuffer       *uint64
	InitialMTU      *uint16
	MinMTU          *uint16
	MaxMTU          *uint16
	PacketThreshold *uint32
	TimeThreshold   *uint32
	Port            *PortRange
	Timeout         *uint16
	AddressFamily   *AddressFamily
	SSH             *string
	SSHOptions      []string
	RemotePort      *PortRange
	RemoteUser      *string
	TimeFormat      *string
	SSHConfigFiles  []string
	SSHSubsystem    *bool
	Color           *string
	Preserve        *bool
}

// Resolve performs Stage A of spec.md section 4.7: command-line flags,
// then the user config file, then the system config file, then hard-wired
// defaults, first-match-wins per field. hostToken is the literal string
// Host patterns are matched against -- the client's typed hostname, or the
// server's view of the SSH-reported client IP (no DNS either way).
func Resolve(cli CLIOverrides, userConfigPath, systemConfigPath, hostToken string) (Configuration, FieldProvenance, error) {
	cfg := SystemDefault()
	prov := FieldProvenance{}
	for field := range fieldAppliers {
		prov.set(field, SourceDefault, "", 0)
	}

	if systemConfigPath != "" {
		if err := applyFile(&cfg, prov, systemConfigPath, hostToken, SourceSystemFile); err != nil {
			return cfg, nil, err
		}
	}
	if userConfigPath != "" {
		if err := applyFile(&cfg, prov, userConfigPath, hostToken, SourceUserFile); err != nil {
			return cfg, nil, err
		}
	}
	applyCLI(&cfg, prov, cli)

	if cfg.RxBW > 0 && cfg.RxBW < MinimumBandwidth {
		return cfg, nil, fmt.Errorf("config: rx bandwidth %d is below the minimum of %d bytes/sec", cfg.RxBW, MinimumBandwidth)
	}
	if cfg.TxBW > 0 && cfg.TxBW < MinimumBandwidth {
		return cfg, nil, fmt.Errorf("config: tx bandwidth %d is below the minimum of %d bytes/sec", cfg.TxBW, MinimumBandwidth)
	}
	return cfg, prov, nil
}

// fieldApplier parses a config-file entry's string arguments into cfg.
type fieldApplier func(cfg *Configuration, args []string) error

var fieldAppliers = map[string]fieldApplier{
	"rx":                      func(c *Configuration, a []string) error { return setQuantity(&c.RxBW, a) },
	"tx":                      func(c *Configuration, a []string) error { return setQuantity(&c.TxBW, a) },
	"rtt":                     func(c *Configuration, a []string) error { return setU32(&c.RTTMillis, a) },
	"congestion":              func(c *Configuration, a []string) error { return setCongestion(&c.Congestion, a) },
	"initialcongestionwindow": func(c *Configuration, a []string) error { return setQuantity(&c.InitialCwnd, a) },
	"udpbuffer":               func(c *Configuration, a []string) error { return setQuantity(&c.UDPBuffer, a) },
	"initialmtu":              func(c *Configuration, a []string) error { return setU16(&c.InitialMTU, a) },
	"minmtu":                  func(c *Configuration, a []string) error { return setU16(&c.MinMTU, a) },
	"maxmtu":                  func(c *Configuration, a []string) error { return setU16(&c.MaxMTU, a) },
	"packetthreshold":         func(c *Configuration, a []string) error { return setU32(&c.PacketThreshold, a) },
	"timethreshold":           func(c *Configuration, a []string) error { return setU32(&c.TimeThreshold, a) },
	"port":                    func(c *Configuration, a []string) error { return setPortRange(&c.Port, a) },
	"timeout":                 func(c *Configuration, a []string) error { return setU16(&c.Timeout, a) },
	"addressfamily":           func(c *Configuration, a []string) error { return setAddressFamily(&c.AddressFamily, a) },
	"ssh":                     func(c *Configuration, a []string) error { return setString(&c.SSH, a) },
	"sshoptions":              func(c *Configuration, a []string) error { c.SSHOptions = append([]string(nil), a...); return nil },
	"remoteport":              func(c *Configuration, a []string) error { return setPortRange(&c.RemotePort, a) },
	"remoteuser":              func(c *Configuration, a []string) error { return setString(&c.RemoteUser, a) },
	"timeformat":              func(c *Configuration, a []string) error { return setString(&c.TimeFormat, a) },
	"sshconfig":               func(c *Configuration, a []string) error { c.SSHConfig = append([]string(nil), a...); return nil },
	"sshsubsystem":            func(c *Configuration, a []string) error { return setBool(&c.SSHSubsystem, a) },
	"color":                   func(c *Configuration, a []string) error { return setString(&c.Color, a) },
	"preserve":                func(c *Configuration, a []string) error { return setBool(&c.Preserve, a) },
}

func applyFile(cfg *Configuration, prov FieldProvenance, path, hostToken string, kind SourceKind) error {
	entries, err := ParseFile(path)
	if err != nil {
		return err
	}
	values := valuesForHost(entries, hostToken)
	for field, apply := range fieldAppliers {
		e, ok := values[field]
		if !ok {
			continue
		}
		if err := apply(cfg, e.Args); err != nil {
			return fmt.Errorf("config: %s:%d: %s: %w", e.File, e.Line, e.Keyword, err)
		}
		prov.set(field, kind, e.File, e.Line)
	}
	return nil
}

func applyCLI(cfg *Configuration, prov FieldProvenance, cli CLIOverrides) {
	set := func(field string, ok bool, apply func()) {
		if ok {
			apply()
			prov.set(field, SourceCLI, "", 0)
		}
	}
	set("rx", cli.RxBW != nil, func() { cfg.RxBW = *cli.RxBW })
	set("tx", cli.TxBW != nil, func() { cfg.TxBW = *cli.TxBW })
	set("rtt", cli.RTTMillis != nil, func() { cfg.RTTMillis = *cli.RTTMillis })
	set("congestion", cli.Congestion != nil, func() { cfg.Congestion = *cli.Congestion })
	set("initialcongestionwindow", cli.InitialCwnd != nil, func() { cfg.InitialCwnd = *cli.InitialCwnd })
	set("udpbuffer", cli.UDPBuffer != nil, func() { cfg.UDPBuffer = *cli.UDPBuffer })
	set("initialmtu", cli.InitialMTU != nil, func() { cfg.InitialMTU = *cli.InitialMTU })
	set("minmtu", cli.MinMTU != nil, func() { cfg.MinMTU = *cli.MinMTU })
	set("maxmtu", cli.MaxMTU != nil, func() { cfg.MaxMTU = *cli.MaxMTU })
	set("packetthreshold", cli.PacketThreshold != nil, func() { cfg.PacketThreshold = *cli.PacketThreshold })
	set("timethreshold", cli.TimeThreshold != nil, func() { cfg.TimeThreshold = *cli.TimeThreshold })
	set("port", cli.Port != nil, func() { cfg.Port = *cli.Port })
	set("timeout", cli.Timeout != nil, func() { cfg.Timeout = *cli.Timeout })
	set("addressfamily", cli.AddressFamily != nil, func() { cfg.AddressFamily = *cli.AddressFamily })
	set("ssh", cli.SSH != nil, func() { cfg.SSH = *cli.SSH })
	set("sshoptions", cli.SSHOptions != nil, func() { cfg.SSHOptions = cli.SSHOptions })
	set("remoteport", cli.RemotePort != nil, func() { cfg.RemotePort = *cli.RemotePort })
	set("remoteuser", cli.RemoteUser != nil, func() { cfg.RemoteUser = *cli.RemoteUser })
	set("timeformat", cli.TimeFormat != nil, func() { cfg.TimeFormat = *cli.TimeFormat })
	set("sshconfig", cli.SSHConfigFiles != nil, func() { cfg.SSHConfig = cli.SSHConfigFiles })
	set("sshsubsystem", cli.SSHSubsystem != nil, func() { cfg.SSHSubsystem = *cli.SSHSubsystem })
	set("color", cli.Color != nil, func() { cfg.Color = *cli.Color })
	set("preserve", cli.Preserve != nil, func() { cfg.Preserve = *cli.Preserve })
}

func setString(dst *string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected a value")
	}
	*dst = args[0]
	return nil
}

func setBool(dst *bool, args []string) error {
	if len(args) == 0 {
		*dst = true
		return nil
	}
	v, err := strconv.ParseBool(args[0])
	if err != nil {
		return fmt.Errorf("invalid boolean %q: %w", args[0], err)
	}
	*dst = v
	return nil
}

func setU16(dst *uint16, args []string) error {
	v, err := parseQuantity(args)
	if err != nil {
		return err
	}
	*dst = uint16(v)
	return nil
}

func setU32(dst *uint32, args []string) error {
	v, err := parseQuantity(args)
	if err != nil {
		return err
	}
	*dst = uint32(v)
	return nil
}

func setQuantity(dst *uint64, args []string) error {
	v, err := parseQuantity(args)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setCongestion(dst *Congestion, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected a congestion algorithm name")
	}
	c, ok := ParseCongestion(strings.ToLower(args[0]))
	if !ok {
		return fmt.Errorf("unknown congestion algorithm %q", args[0])
	}
	*dst = c
	return nil
}

func setAddressFamily(dst *AddressFamily, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected an address family")
	}
	switch strings.ToLower(args[0]) {
	case "any":
		*dst = AddressFamilyAny
	case "4", "v4", "inet":
		*dst = AddressFamilyV4
	case "6", "v6", "inet6":
		*dst = AddressFamilyV6
	default:
		return fmt.Errorf("unknown address family %q", args[0])
	}
	return nil
}

func setPortRange(dst *PortRange, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected a port or port range")
	}
	pr, err := ParsePortRange(args[0])
	if err != nil {
		return err
	}
	*dst = pr
	return nil
}

// ParsePortRange parses "M", "M-N", or "" (any).
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortRange{}, nil
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		begin, err := strconv.ParseUint(s[:i], 10, 16)
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range %q: %w", s, err)
		}
		end, err := strconv.ParseUint(s[i+1:], 10, 16)
		if err != nil {
			return PortRange{}, fmt.Errorf("invalid port range %q: %w", s, err)
		}
		if end < begin {
			return PortRange{}, fmt.Errorf("invalid port range %q: end before begin", s)
		}
		return PortRange{Begin: uint16(begin), End: uint16(end)}, nil
	}
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return PortRange{Begin: uint16(p), End: uint16(p)}, nil
}

// parseQuantity parses a decimal integer or an SI-suffixed "engineering
// quantity" like "12.5M" or "256k" (bytes, not bits, per spec.md section
// 4.7's bandwidth fields), grounded on the original's EngineeringQuantity
// parsing (k/M/G suffixes, decimal point allowed).
func parseQuantity(args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("expected a numeric value")
	}
	s := strings.TrimSpace(args[0])
	if s == "" {
		return 0, fmt.Errorf("expected a numeric value")
	}
	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1_000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1_000_000
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1_000_000_000
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", args[0], err)
	}
	return uint64(f * float64(mult)), nil
}
