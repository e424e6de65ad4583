package credentials

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// PinnedTLSConfig builds a tls.Config that trusts exactly the peer
// certificate presented over the control channel (a pinned single-cert
// trust store) and requires mutual authentication, per spec.md 4.2.
//
// isServer selects ClientAuth=RequireAnyClientCert (the server still wants
// a client cert to verify against peerCertDER) vs. the client's use as the
// dial-side tls.Config.
func PinnedTLSConfig(own *Credentials, peerCertDER []byte, isServer bool) (*tls.Config, error) {
	ownCert, err := own.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("credentials: build local tls certificate: %w", err)
	}
	verify := func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("credentials: peer presented no certificate")
		}
		if !bytes.Equal(rawCerts[0], peerCertDER) {
			return fmt.Errorf("credentials: peer certificate does not match the one pinned over the control channel")
		}
		return nil
	}
	cfg := &tls.Config{
		Certificates:          []tls.Certificate{ownCert},
		InsecureSkipVerify:    true, // the verify callback above does the pinning, not name/chain validation
		VerifyPeerCertificate: verify,
		NextProtos:            []string{"qcp"},
		MinVersion:            tls.VersionTLS13,
	}
	if isServer {
		cfg.ClientAuth = tls.RequireAnyClientCert
	}
	return cfg, nil
}
