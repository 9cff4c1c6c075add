// Package endpoint implements NetworkEndpoint: the accept loop, TLS/SNI
// termination, HTTP/1.1 and HTTP/2 protocol wranglers, live-set
// accounting, and bounded graceful drain described in spec.md §4.6.
// Grounded on the teacher's pkg/ingress/proxy.go Start/Stop structure
// (separate http.Server per protocol, goroutine-per-listener Serve,
// context-based shutdown), generalized from two fixed ports (:8000,
// :8443) to arbitrary configured endpoints and from a single handler
// func to the full accept-gate -> TLS -> protocol wrangler pipeline.
package endpoint

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/ferrors"
	"github.com/cuemby/frontdoor/pkg/frontmetrics"
	"github.com/cuemby/frontdoor/pkg/hostmanager"
	"github.com/cuemby/frontdoor/pkg/ratelimit"
	"github.com/google/uuid"
)

// Protocol is one of the three wire protocols an endpoint speaks.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolHTTP2 Protocol = "http2"
)

// DefaultDrainGraceMs is spec.md §4.6's default drain window.
const DefaultDrainGraceMs = 250

// Config is an endpoint's declarative configuration. ApplicationRef,
// RateLimiterRef and AccessLogRef are declared here purely so
// component.DecodeStrict accepts them from the same raw stanza that
// warehouse's endpointDeps callback reads them from directly; New itself
// never consults them.
type Config struct {
	Address        string   `config:"address"`
	Port           int      `config:"port,optional"`
	Protocol       Protocol `config:"protocol"`
	HostNames      []string `config:"hostNames,optional"`
	DrainGraceMs   int      `config:"drainGraceMs,optional"`
	AllowCIDRs     []string `config:"allowCIDRs,optional"`
	DenyCIDRs      []string `config:"denyCIDRs,optional"`
	ApplicationRef string   `config:"applicationRef"`
	RateLimiterRef string   `config:"rateLimiterRef,optional"`
	AccessLogRef   string   `config:"accessLogRef,optional"`
}

// Deps bundles the collaborators a NetworkEndpoint dispatches into.
// HostManager is required for https/http2-over-tls; RateLimiter is
// optional (nil disables the connection-rate-limit gate); Application
// is required; AccessLog is optional.
type Deps struct {
	HostManager   *hostmanager.HostManager
	RateLimiter   *ratelimit.TokenBucket
	Application   dispatch.RequestHandler
	AccessLog     func(AccessLogEntry)
}

// AccessLogEntry is one request's worth of access-log fields, matching
// the line format in spec.md §6.
type AccessLogEntry struct {
	Timestamp     time.Time
	Origin        string
	Protocol      string
	Method        string
	URL           string
	Status        int
	ContentLength int64
	Duration      time.Duration
}

// NetworkEndpoint is a single configured network listener.
type NetworkEndpoint struct {
	component.BaseComponent

	cfg  Config
	deps Deps

	listener     net.Listener // what acceptLoop calls Accept on (TLS-wrapped for https/http2)
	rawListener  net.Listener // the plain TCP listener, inheritable across a reload
	drainGrace   time.Duration
	accessFilter *accessControl

	mu           sync.Mutex
	liveConns    map[string]net.Conn
	liveSess     map[string]context.CancelFunc
	acceptDone   chan struct{}
	handoff      chan struct{}
	shuttingDown bool
}

// New constructs a NetworkEndpoint bound to ctx under name. inherited, if
// non-nil, is an inherited socket from a prior reload (spec.md §9 Open
// Question #1); otherwise Start binds a fresh one.
func New(ctx *component.ControlContext, name string, cfg Config, deps Deps, inherited net.Listener) (*NetworkEndpoint, error) {
	grace := time.Duration(cfg.DrainGraceMs) * time.Millisecond
	if grace <= 0 {
		grace = DefaultDrainGraceMs * time.Millisecond
	}
	ac, err := newAccessControl(cfg.AllowCIDRs, cfg.DenyCIDRs)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindConfig, err, "endpoint %s: access control config", name)
	}
	e := &NetworkEndpoint{
		cfg:          cfg,
		deps:         deps,
		rawListener:  inherited,
		drainGrace:   grace,
		accessFilter: ac,
		liveConns:    make(map[string]net.Conn),
		liveSess:     make(map[string]context.CancelFunc),
	}
	e.Init(name, "NetworkEndpoint", name, ctx)
	return e, nil
}

// Addr is the (address, port, protocol) triple reload uses to decide
// whether a replacement endpoint can inherit this one's listener.
type Addr struct {
	Address  string
	Port     int
	Protocol Protocol
}

// BindAddr reports this endpoint's Addr.
func (e *NetworkEndpoint) BindAddr() Addr {
	return Addr{Address: e.cfg.Address, Port: e.cfg.Port, Protocol: e.cfg.Protocol}
}

// Listener exposes the plain (pre-TLS) net.Listener so a reload
// replacing this endpoint with one of identical Addr can inherit it
// without a gap.
func (e *NetworkEndpoint) Listener() net.Listener {
	return e.rawListener
}

// Start implements component.Lifecycle: binds (or reuses) the listening
// socket and launches the accept loop.
func (e *NetworkEndpoint) Start(ctx context.Context) error {
	if e.State() == component.StateNew {
		// Advance through the init sub-state before starting,
		// matching spec.md §4.3's "new -> initializing -> stopped".
		if err := e.Transition(component.StateStopped); err != nil {
			return err
		}
	}
	if err := e.Transition(component.StateRunning); err != nil {
		return err
	}

	if e.rawListener == nil {
		l, err := net.Listen("tcp", net.JoinHostPort(e.cfg.Address, strconv.Itoa(e.cfg.Port)))
		if err != nil {
			return ferrors.Wrap(ferrors.KindIOError, err, "endpoint %s: listen", e.Name())
		}
		e.rawListener = l
	}
	e.listener = e.rawListener

	if e.cfg.Protocol == ProtocolHTTPS || e.cfg.Protocol == ProtocolHTTP2 {
		if e.deps.HostManager == nil {
			return ferrors.New(ferrors.KindConfig, "endpoint %s: protocol %s requires a host manager", e.Name(), e.cfg.Protocol)
		}
		tlsCfg := e.deps.HostManager.SecureServerOptions()
		if e.cfg.Protocol == ProtocolHTTP2 {
			tlsCfg.NextProtos = []string{"h2", "http/1.1"}
		}
		e.listener = tls.NewListener(e.rawListener, tlsCfg)
	}

	e.acceptDone = make(chan struct{})
	e.handoff = make(chan struct{})
	go e.acceptLoop()
	e.Event("started", map[string]any{"address": e.cfg.Address, "port": e.cfg.Port, "protocol": string(e.cfg.Protocol)})
	return nil
}

// acceptDeadliner is implemented by *net.TCPListener (and notably not by
// tls.Listener), letting acceptLoop poll for a reload handoff signal
// instead of blocking on Accept indefinitely.
type acceptDeadliner interface {
	SetDeadline(time.Time) error
}

func (e *NetworkEndpoint) acceptLoop() {
	defer close(e.acceptDone)
	deadliner, pollable := e.rawListener.(acceptDeadliner)
	for {
		if pollable {
			_ = deadliner.SetDeadline(time.Now().Add(50 * time.Millisecond))
		}
		conn, err := e.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-e.handoff:
					return
				default:
					continue
				}
			}
			if e.isShuttingDown() {
				return
			}
			e.Logger().Warn().Err(err).Msg("accept failed")
			continue
		}
		id, ok := e.admit(conn)
		if !ok {
			continue
		}
		go e.handleConnection(id, conn)
	}
}

// admit applies the connection-rate-limit gate and the IP access
// control gate (spec.md §4.6's "optional connection-rate-limit
// configured" hook, generalized to also carry the supplemented IP
// access control check), registering the connection in the live set on
// success and returning the id it is registered under.
func (e *NetworkEndpoint) admit(conn net.Conn) (string, bool) {
	remote, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if !e.accessFilter.allowed(remote) {
		conn.Close()
		return "", false
	}
	if e.deps.RateLimiter != nil {
		grant := e.deps.RateLimiter.RequestGrant(context.Background(), 1)
		if !grant.Granted {
			conn.Close()
			return "", false
		}
	}
	id := uuid.NewString()
	e.mu.Lock()
	e.liveConns[id] = conn
	e.mu.Unlock()
	frontmetrics.LiveConnections.WithLabelValues(e.Name()).Inc()
	return id, true
}

func (e *NetworkEndpoint) releaseConn(id string, conn net.Conn) {
	e.mu.Lock()
	delete(e.liveConns, id)
	e.mu.Unlock()
	frontmetrics.LiveConnections.WithLabelValues(e.Name()).Dec()
	conn.Close()
}

func (e *NetworkEndpoint) isShuttingDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shuttingDown
}

func (e *NetworkEndpoint) handleConnection(id string, conn net.Conn) {
	defer e.releaseConn(id, conn)

	switch e.cfg.Protocol {
	case ProtocolHTTP2:
		e.serveHTTP2(conn)
	default:
		e.serveHTTP1(conn)
	}
}

// Stop implements component.Lifecycle. Per spec.md §4.6, reload uses the
// same cancel/grace/force-close sequence as a final shutdown — only step
// (1)'s socket handling differs: when willReload is false it closes the
// accept socket outright; when willReload is true it instead signals the
// accept loop to hand the raw listener off to the replacement endpoint
// (the loop notices within one poll interval and returns without ever
// closing the socket). Either way every live session is cancelled,
// drainGrace is awaited, and anything still live past the deadline (or
// past ctx's cancellation) is forced closed, so a stuck handler on a
// reloaded endpoint is aborted exactly as it would be on real shutdown.
func (e *NetworkEndpoint) Stop(ctx context.Context, willReload bool) error {
	if err := e.Transition(component.StateStopping); err != nil {
		return err
	}

	e.mu.Lock()
	e.shuttingDown = true
	e.mu.Unlock()

	start := time.Now()
	e.mu.Lock()
	sessions := make([]context.CancelFunc, 0, len(e.liveSess))
	for _, cancel := range e.liveSess {
		sessions = append(sessions, cancel)
	}
	e.mu.Unlock()

	if willReload {
		close(e.handoff)
	} else {
		e.listener.Close()
	}
	for _, cancel := range sessions {
		cancel()
	}

	deadline := time.After(e.drainGrace)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
drain:
	for {
		select {
		case <-deadline:
			e.forceCloseAll()
			break drain
		case <-ticker.C:
			if e.liveCount() == 0 {
				break drain
			}
		case <-ctx.Done():
			e.forceCloseAll()
			break drain
		}
	}
	frontmetrics.DrainDurationSeconds.WithLabelValues(e.Name()).Observe(time.Since(start).Seconds())

	<-e.acceptDone
	return e.Transition(component.StateStopped)
}

func (e *NetworkEndpoint) liveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.liveConns)
}

func (e *NetworkEndpoint) forceCloseAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, conn := range e.liveConns {
		conn.Close()
		delete(e.liveConns, id)
	}
}
