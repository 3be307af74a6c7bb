// Package certs creates self-signed certificates for local peers.
//
// Browsers accept a WebTransport server certificate by hash only when it is
// ECDSA and valid for at most 14 days, so every certificate generated here
// satisfies both.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"
)

// MaxValidity is the longest validity accepted for hash-pinned certificates.
const MaxValidity = 14 * 24 * time.Hour

// Certificate is a generated certificate and its SHA-256 hash.
type Certificate struct {
	TLS      tls.Certificate
	Leaf     *x509.Certificate
	Hash     [sha256.Size]byte
	NotAfter time.Time
}

// HashHex returns the certificate hash as lowercase hex.
func (c *Certificate) HashHex() string {
	return hex.EncodeToString(c.Hash[:])
}

// ServerConfig returns a TLS configuration serving the certificate with the
// given ALPN tokens.
func (c *Certificate) ServerConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLS},
		NextProtos:   nextProtos,
	}
}

// Generate creates a self-signed ECDSA P-256 certificate for hosts.
// Hosts that parse as IP addresses become IP SANs. With no hosts the
// certificate covers localhost and the loopback addresses. A validity
// outside (0, MaxValidity] is replaced with MaxValidity.
func Generate(validity time.Duration, hosts ...string) (*Certificate, error) {
	if validity <= 0 || validity > MaxValidity {
		validity = MaxValidity
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certs: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certs: generate serial: %w", err)
	}

	// Backdated for clock skew. The total span still fits MaxValidity.
	notBefore := time.Now().Add(-time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hosts[0]},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certs: create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certs: parse certificate: %w", err)
	}

	return &Certificate{
		TLS: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		Leaf:     leaf,
		Hash:     sha256.Sum256(der),
		NotAfter: leaf.NotAfter,
	}, nil
}

// VerifyHash returns a tls.Config.VerifyPeerCertificate function accepting
// only a leaf certificate whose SHA-256 hash is hash. Use it with
// InsecureSkipVerify to pin a self-signed peer.
func VerifyHash(hash [sha256.Size]byte) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("certs: no peer certificate")
		}
		if sha256.Sum256(rawCerts[0]) != hash {
			return fmt.Errorf("certs: peer certificate hash mismatch")
		}
		return nil
	}
}

// ParseHashHex parses a hash produced by HashHex.
func ParseHashHex(s string) ([sha256.Size]byte, error) {
	var hash [sha256.Size]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return hash, fmt.Errorf("certs: invalid hash: %w", err)
	}
	if len(b) != sha256.Size {
		return hash, fmt.Errorf("certs: hash has %d bytes, want %d", len(b), sha256.Size)
	}
	copy(hash[:], b)
	return hash, nil
}
