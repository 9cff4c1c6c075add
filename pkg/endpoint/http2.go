package endpoint

import (
	"context"
	"net"

	"github.com/cuemby/frontdoor/pkg/frontmetrics"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
)

// serveHTTP2 runs the HTTP/2 session-level protocol wrangler for one
// already-admitted, TLS-terminated connection: the session (not the
// TCP connection) is registered in its own live-set, tracked
// separately from liveConns per spec.md §4.6, because one HTTP/2
// session outlives many concurrent streams sharing this single
// connection.
func (e *NetworkEndpoint) serveHTTP2(conn net.Conn) {
	sessionID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.liveSess[sessionID] = cancel
	e.mu.Unlock()
	frontmetrics.LiveSessions.WithLabelValues(e.Name()).Inc()
	defer func() {
		e.mu.Lock()
		delete(e.liveSess, sessionID)
		e.mu.Unlock()
		frontmetrics.LiveSessions.WithLabelValues(e.Name()).Dec()
		cancel()
	}()

	srv := &http2.Server{}
	srv.ServeConn(conn, &http2.ServeConnOpts{
		Context: ctx,
		Handler: e.httpHandler(),
	})
}
