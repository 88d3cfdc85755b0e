// Package tlscert generates the self-signed TLS certificate the router
// presents to WebTransport and WebSocket clients, adapted from the
// teacher's root-level tls.go.
package tlscert

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
	"time"
)

// Generated bundles a self-signed TLS config together with its SHA-256
// certificate fingerprint, which clients pin when connecting over
// WebTransport without a CA-issued certificate.
type Generated struct {
	Config      *tls.Config
	Fingerprint string
}

// Generate creates a self-signed certificate valid for validity. The
// CommonName is hostname (or "mediaplane-router" when hostname is empty);
// the DNS SANs are always "localhost" plus hostname when it is set.
func Generate(validity time.Duration, hostname string) (*Generated, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("tlscert: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("tlscert: generate serial: %w", err)
	}

	cn := "mediaplane-router"
	if hostname != "" {
		cn = hostname
	}

	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("tlscert: create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("tlscert: parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)

	return &Generated{
		Config: &tls.Config{
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{certDER},
				PrivateKey:  key,
				Leaf:        cert,
			}},
			NextProtos: []string{"h3"},
		},
		Fingerprint: hex.EncodeToString(fp[:]),
	}, nil
}
