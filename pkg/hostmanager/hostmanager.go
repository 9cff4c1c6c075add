// Package hostmanager resolves TLS certificates by SNI hostname. It
// indexes HostItem values by reversed-hostname PathKey so that
// `*.example.com` and `api.example.com` can coexist and the
// longest-match-wins rule from pathmap.Find applies directly to hostname
// resolution. Grounded on the teacher's certificate loading/caching in
// pkg/ingress/acme.go, generalized from ACME-issued certs to any
// configured certificate/key pair and from a flat cert list to a PathMap.
package hostmanager

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/cuemby/frontdoor/pkg/pathkey"
	"github.com/cuemby/frontdoor/pkg/pathmap"
	"github.com/rs/zerolog"
)

// HostItem binds a set of (possibly wildcarded) names to a certificate
// and key, lazily loaded and cached on first use.
type HostItem struct {
	Names          []string
	CertificatePEM []byte
	PrivateKeyPEM  []byte

	mu   sync.Mutex
	cert *tls.Certificate
}

func (h *HostItem) loadedCertificate() (*tls.Certificate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cert != nil {
		return h.cert, nil
	}
	cert, err := tls.X509KeyPair(h.CertificatePEM, h.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("loading certificate for %v: %w", h.Names, err)
	}
	h.cert = &cert
	return h.cert, nil
}

// HostManager resolves SNI hostnames to HostItem certificates via a
// PathMap keyed on reversed hostname components.
type HostManager struct {
	items  *pathmap.PathMap[*HostItem]
	logger zerolog.Logger
}

// New constructs an empty HostManager. Add every configured HostItem with
// Add before calling SecureServerOptions.
func New(logger zerolog.Logger) *HostManager {
	return &HostManager{items: pathmap.New[*HostItem](), logger: logger}
}

// Add binds item under every one of its configured names.
func (m *HostManager) Add(item *HostItem) error {
	for _, name := range item.Names {
		key := pathkey.FromHostname(name)
		if err := m.items.Add(key, item); err != nil {
			return fmt.Errorf("hostmanager: adding name %q: %w", name, err)
		}
	}
	return nil
}

// FindContext resolves the best-matching HostItem's loaded certificate
// for the given SNI server name, or nil if nothing matches. Invalid
// server names never panic or error; they are logged at debug and
// resolved to nil, per spec.
func (m *HostManager) FindContext(serverName string) *tls.Certificate {
	key, err := safeFromHostname(serverName)
	if err != nil {
		m.logger.Debug().Str("server_name", serverName).Err(err).Msg("invalid SNI server name")
		return nil
	}
	result, ok := m.items.Find(key)
	if !ok {
		m.logger.Debug().Str("server_name", serverName).Msg("no matching host")
		return nil
	}
	cert, err := result.Value.loadedCertificate()
	if err != nil {
		m.logger.Debug().Str("server_name", serverName).Err(err).Msg("failed loading certificate")
		return nil
	}
	return cert
}

func safeFromHostname(serverName string) (key pathkey.PathKey, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed server name %q: %v", serverName, r)
		}
	}()
	if serverName == "" {
		return pathkey.Empty, fmt.Errorf("empty server name")
	}
	return pathkey.FromHostname(serverName), nil
}

// SecureServerOptions returns the *tls.Config the endpoint's TLS listener
// should use, with GetCertificate wired to an SNI callback into this
// HostManager.
func (m *HostManager) SecureServerOptions() *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert := m.FindContext(hello.ServerName)
			if cert == nil {
				return nil, fmt.Errorf("no certificate for server name %q", hello.ServerName)
			}
			return cert, nil
		},
		MinVersion: tls.VersionTLS12,
	}
}

// MakeSubset returns a new HostManager containing the union of every
// subtree matched by names (each possibly wildcarded, parsed the same
// way FromHostname parses SNI names), used when an endpoint is
// configured with a restricted host list.
func (m *HostManager) MakeSubset(names []string) *HostManager {
	out := New(m.logger)
	for _, name := range names {
		key := pathkey.FromHostname(name)
		sub := m.items.FindSubtree(key)
		sub.Walk(func(k pathkey.PathKey, item *HostItem) bool {
			_ = out.items.Add(k, item)
			return true
		})
	}
	return out
}
