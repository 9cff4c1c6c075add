package hostmanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func selfSignedPEM(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// TestS5SNIResolution implements spec scenario S5.
func TestS5SNIResolution(t *testing.T) {
	wildcardCert, wildcardKey := selfSignedPEM(t, "*.example.com")
	apiCert, apiKey := selfSignedPEM(t, "api.example.com")

	m := New(zerolog.Nop())
	require.NoError(t, m.Add(&HostItem{Names: []string{"*.example.com"}, CertificatePEM: wildcardCert, PrivateKeyPEM: wildcardKey}))
	require.NoError(t, m.Add(&HostItem{Names: []string{"api.example.com"}, CertificatePEM: apiCert, PrivateKeyPEM: apiKey}))

	apiResolved := m.FindContext("api.example.com")
	require.NotNil(t, apiResolved)
	apiLeaf, err := x509.ParseCertificate(apiResolved.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "api.example.com", apiLeaf.Subject.CommonName)

	wwwResolved := m.FindContext("www.example.com")
	require.NotNil(t, wwwResolved)
	wwwLeaf, err := x509.ParseCertificate(wwwResolved.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "*.example.com", wwwLeaf.Subject.CommonName)

	require.Nil(t, m.FindContext("other.net"))
}

func TestFindContextInvalidServerNameDoesNotPanic(t *testing.T) {
	m := New(zerolog.Nop())
	require.NotPanics(t, func() {
		require.Nil(t, m.FindContext(""))
	})
}

func TestMakeSubsetRestrictsToMatchedNames(t *testing.T) {
	certA, keyA := selfSignedPEM(t, "a.internal")
	certB, keyB := selfSignedPEM(t, "b.internal")

	m := New(zerolog.Nop())
	require.NoError(t, m.Add(&HostItem{Names: []string{"a.internal"}, CertificatePEM: certA, PrivateKeyPEM: keyA}))
	require.NoError(t, m.Add(&HostItem{Names: []string{"b.internal"}, CertificatePEM: certB, PrivateKeyPEM: keyB}))

	subset := m.MakeSubset([]string{"a.internal"})
	require.NotNil(t, subset.FindContext("a.internal"))
	require.Nil(t, subset.FindContext("b.internal"))
}
