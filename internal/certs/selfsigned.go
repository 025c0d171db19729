// Package certs issues the self-signed identity a group's peer connections
// authenticate with. The mesh has no certificate authority: a peer is
// trusted because its presented certificate hashes to the fingerprint
// another peer already pinned for that peer id (exchanged out of band,
// e.g. alongside a rendezvous/tracker introduction), never because a chain
// validates against a root. Generate issues one identity per stream a
// peer publishes or subscribes to, scoped by name so a peer serving
// several streams presents a distinguishable certificate per stream.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"time"
)

const maxValidity = 14 * 24 * time.Hour

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64, the form a
// peer advertises for others to pin against.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// Generate creates a self-signed ECDSA P-256 certificate for streamName,
// valid for the given duration (capped at 14 days). streamName becomes the
// certificate's subject so a fingerprint pin can be cross-checked against
// the stream it was issued for during a handshake, not just the raw bytes.
func Generate(streamName string, validity time.Duration) (*CertInfo, error) {
	if validity > maxValidity || validity <= 0 {
		validity = maxValidity
	}
	if streamName == "" {
		streamName = "groupmedia"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	notBefore := now.Add(-1 * time.Minute) // slight backdate for clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: streamName},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost", streamName},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	fingerprint := sha256.Sum256(certDER)

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}

	return &CertInfo{
		TLSCert:     tlsCert,
		Fingerprint: fingerprint,
		NotAfter:    template.NotAfter,
	}, nil
}

// PinVerifier returns a tls.Config.VerifyPeerCertificate callback that
// accepts a handshake only if the peer's leaf certificate hashes to one of
// the pinned fingerprints. It is meant to run with InsecureSkipVerify set
// (there is no CA to chain-validate against), replacing that validation
// with an explicit allow-list instead of trusting any presented cert.
func PinVerifier(pinned ...[32]byte) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("certs: peer presented no certificate")
		}
		got := sha256.Sum256(rawCerts[0])
		for _, want := range pinned {
			if got == want {
				return nil
			}
		}
		return fmt.Errorf("certs: peer certificate fingerprint %x is not pinned", got)
	}
}
