package tlscert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateProducesUsableCertificate(t *testing.T) {
	g, err := Generate(24*time.Hour, "router.example.com")
	require.NoError(t, err)
	require.Len(t, g.Config.Certificates, 1)
	require.NotEmpty(t, g.Fingerprint)
	require.Equal(t, []string{"h3"}, g.Config.NextProtos)
}

func TestGenerateDefaultsHostnameToLocalhost(t *testing.T) {
	g, err := Generate(time.Hour, "")
	require.NoError(t, err)
	cert := g.Config.Certificates[0].Leaf
	require.Equal(t, "mediaplane-router", cert.Subject.CommonName)
	require.Contains(t, cert.DNSNames, "localhost")
}

func TestGenerateIncludesHostnameInSANs(t *testing.T) {
	g, err := Generate(time.Hour, "media.example.com")
	require.NoError(t, err)
	cert := g.Config.Certificates[0].Leaf
	require.Contains(t, cert.DNSNames, "media.example.com")
	require.Contains(t, cert.DNSNames, "localhost")
}
