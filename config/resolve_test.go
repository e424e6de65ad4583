package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsOnly(t *testing.T) {
	cfg, prov, err := Resolve(CLIOverrides{}, "", "", "example.com")
	require.NoError(t, err)
	require.Equal(t, uint64(12_500_000), cfg.RxBW)
	require.Equal(t, SourceDefault, prov["rx"].Kind)
}

func TestResolveHostBlockMatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	body := "Rx 1M\n" +
		"Host *.example.com\n" +
		"  Rtt 50\n" +
		"Host other.net\n" +
		"  Rtt 999\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, prov, err := Resolve(CLIOverrides{}, path, "", "box.example.com")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), cfg.RxBW)
	require.Equal(t, uint32(50), cfg.RTTMillis)
	require.Equal(t, SourceUserFile, prov["rtt"].Kind)
}

func TestResolveCLIOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(path, []byte("Rtt 50\n"), 0o644))

	rtt := uint32(10)
	cfg, prov, err := Resolve(CLIOverrides{RTTMillis: &rtt}, path, "", "host")
	require.NoError(t, err)
	require.Equal(t, uint32(10), cfg.RTTMillis)
	require.Equal(t, SourceCLI, prov["rtt"].Kind)
}

func TestResolveRejectsBelowMinimumBandwidth(t *testing.T) {
	rx := uint64(10)
	_, _, err := Resolve(CLIOverrides{RxBW: &rx}, "", "", "host")
	require.Error(t, err)
}

func TestParsePortRange(t *testing.T) {
	pr, err := ParsePortRange("20000-20100")
	require.NoError(t, err)
	require.Equal(t, PortRange{Begin: 20000, End: 20100}, pr)

	pr, err = ParsePortRange("")
	require.NoError(t, err)
	require.True(t, pr.IsAny())

	_, err = ParsePortRange("200-100")
	require.Error(t, err)
}

func TestInclude(t *testing.T) {
	dir := t.TempDir()
	included := filepath.Join(dir, "extra.conf")
	require.NoError(t, os.WriteFile(included, []byte("Tx 2M\n"), 0o644))
	main := filepath.Join(dir, "config")
	require.NoError(t, os.WriteFile(main, []byte("Include extra.conf\n"), 0o644))

	cfg, _, err := Resolve(CLIOverrides{}, main, "", "host")
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000), cfg.TxBW)
}

func TestNegotiateBandwidthTxZeroInheritance(t *testing.T) {
	client := SystemDefault()
	client.RxBW = 50_000_000
	client.TxBW = 0
	server := SystemDefault()
	server.RxBW = 10_000_000
	server.TxBW = 100_000_000

	n, err := Negotiate(client, server)
	require.NoError(t, err)
	require.Equal(t, uint64(50_000_000), n.RxAtClient)
	require.Equal(t, uint64(10_000_000), n.RxAtServer)
}

func TestNegotiateRTTIsMax(t *testing.T) {
	client := SystemDefault()
	client.RTTMillis = 50
	server := SystemDefault()
	server.RTTMillis = 300
	n, err := Negotiate(client, server)
	require.NoError(t, err)
	require.Equal(t, uint32(300), n.RTTMillis)
}

func TestNegotiateCongestionMismatchIsIncompatible(t *testing.T) {
	client := SystemDefault()
	client.Congestion = CongestionCubic
	server := SystemDefault()
	server.Congestion = CongestionBBR
	_, err := Negotiate(client, server)
	require.Error(t, err)
}

func TestNegotiateMTUInvariant(t *testing.T) {
	client := SystemDefault()
	server := SystemDefault()
	server.MinMTU = 1300
	server.MaxMTU = 1400
	n, err := Negotiate(client, server)
	require.NoError(t, err)
	require.LessOrEqual(t, n.MinMTU, n.InitialMTU)
	require.LessOrEqual(t, n.InitialMTU, n.MaxMTU)
}

func TestNegotiateInitialCongestionWindowPrefersServer(t *testing.T) {
	client := SystemDefault()
	client.InitialCwnd = 1000
	server := SystemDefault()
	server.InitialCwnd = 2000
	n, err := Negotiate(client, server)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), n.InitialCwnd)
}
