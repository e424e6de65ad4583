// Package credentials generates the ephemeral, self-signed TLS identity
// each side presents on the control channel and pins as the sole trust
// anchor for its QUIC connection, per spec.md section 4.2.
//
// The teacher's crypto package (github.com/xtaci/qsh/crypto) mints HPPK
// keypairs for its own lattice-based signature scheme; qcp's trust model is
// TLS-native, so this package is grounded on the teacher's *shape* --
// generate on startup, return a private struct the caller treats as
// opaque, fail loudly on short randomness -- rather than its algorithm.
package credentials

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// HostIdentifier is the fixed, locally-meaningful SAN name every qcp
// endpoint uses for its self-signed certificate. It carries no trust
// significance of its own -- the cert is pinned by its raw bytes, not by
// name -- it exists only because X.509 requires a subject.
const HostIdentifier = "qcp"

// Credentials is the ephemeral identity generated fresh per invocation.
// Lifetime: one process. The certificate half is transmitted once on the
// control channel; the private key never leaves the generating side.
type Credentials struct {
	CertDER    []byte
	PrivateKey any // ed25519.PrivateKey or *ecdsa.PrivateKey
}

// Generate produces a fresh Ed25519 keypair and self-signed certificate.
// If the platform's crypto/rand cannot produce an Ed25519 key (practically
// never, on any supported OS) it falls back to ECDSA P-256, matching
// spec.md's "Ed25519 (or ECDSA-P256 as fallback)".
func Generate() (*Credentials, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return generateECDSA()
	}
	der, err := selfSignedCert(pub, priv)
	if err != nil {
		return generateECDSA()
	}
	return &Credentials{CertDER: der, PrivateKey: priv}, nil
}

func generateECDSA() (*Credentials, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("credentials: generate ECDSA fallback key: %w", err)
	}
	der, err := selfSignedCert(&priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("credentials: mint self-signed certificate: %w", err)
	}
	return &Credentials{CertDER: der, PrivateKey: priv}, nil
}

func selfSignedCert(pub any, priv any) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: HostIdentifier},
		DNSNames:     []string{HostIdentifier},
		NotBefore:    now.Add(-5 * time.Minute),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
}

// TLSCertificate returns the tls.Certificate form suitable for
// tls.Config.Certificates.
func (c *Credentials) TLSCertificate() (tls.Certificate, error) {
	return tls.Certificate{
		Certificate: [][]byte{c.CertDER},
		PrivateKey:  c.PrivateKey,
	}, nil
}

// Destroy overwrites the private key material. Ed25519 and ECDSA keys in
// Go are plain structs without a syscall-backed locked page, so this is
// best-effort zeroing rather than memguard's mlock. The key is not held in
// a memguard buffer, so the memguard.CatchInterrupt call in main.go does
// not wipe it; Destroy is the only place it is zeroed.
func (c *Credentials) Destroy() {
	switch k := c.PrivateKey.(type) {
	case ed25519.PrivateKey:
		for i := range k {
			k[i] = 0
		}
	case *ecdsa.PrivateKey:
		if k != nil && k.D != nil {
			k.D.SetInt64(0)
		}
	}
	c.PrivateKey = nil
}
