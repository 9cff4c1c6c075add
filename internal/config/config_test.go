package config

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/service"
	"github.com/cuemby/frontdoor/pkg/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedPEM(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
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

func writeDocument(t *testing.T, certFile, keyFile string) []byte {
	t.Helper()
	return []byte(fmt.Sprintf(`
logging:
  level: debug
  json: true

hosts:
  - name: main
    names: ["example.com"]
    certificateFile: %q
    privateKeyFile: %q

services:
  - name: RL1
    class: RateLimitService
    capacity: 10
    flowRate: 1

  - name: AL1
    class: AccessLogService
    maxURLLength: 64

applications:
  - name: R1
    class: PathRouterApplication
    routes:
      /a: LeafApp/A

endpoints:
  - name: E1
    class: NetworkEndpoint
    address: 127.0.0.1
    port: 0
    protocol: http
    applicationRef: PathRouterApplication/R1
    rateLimiterRef: RateLimitService/RL1
    accessLogRef: AccessLogService/AL1
`, certFile, keyFile))
}

func TestParseBuildsWarehouseConfig(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	certPEM, keyPEM := selfSignedPEM(t)
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	doc, err := Parse(writeDocument(t, certFile, keyFile))
	require.NoError(t, err)

	assert.Equal(t, "debug", string(doc.Logging.Level))
	assert.True(t, doc.Logging.JSONOutput)
	require.Len(t, doc.Warehouse.Hosts, 1)
	assert.Equal(t, []string{"example.com"}, doc.Warehouse.Hosts[0].Names)
	require.Len(t, doc.Warehouse.Services, 2)
	require.Len(t, doc.Warehouse.Applications, 1)
	require.Len(t, doc.Warehouse.Endpoints, 1)

	ep := doc.Warehouse.Endpoints[0]
	assert.Equal(t, "NetworkEndpoint", ep.Class)
	assert.Equal(t, "E1", ep.Name)
	assert.Equal(t, "PathRouterApplication/R1", ep.Raw["applicationRef"])
}

func TestParseSynthesizesNameWhenOmitted(t *testing.T) {
	doc, err := Parse([]byte(`
services:
  - class: RateLimitService
    capacity: 10
    flowRate: 1
  - class: RateLimitService
    capacity: 10
    flowRate: 1
`))
	require.NoError(t, err)
	require.Len(t, doc.Warehouse.Services, 2)
	assert.Equal(t, "rateLimitService1", doc.Warehouse.Services[0].Name)
	assert.Equal(t, "rateLimitService2", doc.Warehouse.Services[1].Name)
}

func TestParseRejectsInvalidName(t *testing.T) {
	_, err := Parse([]byte(`
services:
  - name: "1bad"
    class: RateLimitService
`))
	require.Error(t, err)
}

func TestParseRejectsDuplicateName(t *testing.T) {
	_, err := Parse([]byte(`
services:
  - name: dup
    class: RateLimitService
    capacity: 1
    flowRate: 1
  - name: dup
    class: RateLimitService
    capacity: 1
    flowRate: 1
`))
	require.Error(t, err)
}

func TestRegisterClassesBuildsRateLimitService(t *testing.T) {
	registry := component.NewRegistry()
	tree := component.NewComponentTree(registry)
	RegisterClasses(registry, tree)

	lc, err := registry.Build(tree.NewControlContext(), "RateLimitService", "RL1", map[string]any{
		"capacity": 10,
		"flowRate": 1,
	})
	require.NoError(t, err)
	require.NoError(t, lc.Start(context.Background()))
	rl, ok := lc.(*service.RateLimitService)
	require.True(t, ok)
	assert.NotNil(t, rl.Bucket())
}

func TestEndpointDepsResolvesServiceRefs(t *testing.T) {
	registry := component.NewRegistry()
	tree := component.NewComponentTree(registry)
	RegisterClasses(registry, tree)

	rl, err := registry.Build(tree.NewControlContext(), "RateLimitService", "RL1", map[string]any{
		"capacity": 10,
		"flowRate": 1,
	})
	require.NoError(t, err)
	require.NoError(t, rl.Start(context.Background()))

	lookup := func(key string) (component.Lifecycle, bool) {
		if key == "RateLimitService/RL1" {
			return rl, true
		}
		return nil, false
	}

	spec := warehouse.Spec{
		Class: "NetworkEndpoint",
		Name:  "E1",
		Raw:   map[string]any{"rateLimiterRef": "RateLimitService/RL1"},
	}
	deps, err := EndpointDeps(nil)(nil, spec, lookup)
	require.NoError(t, err)
	assert.NotNil(t, deps.RateLimiter)
}
