package endpoint

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// serveHTTP1 runs the HTTP/1.1 (and TLS-terminated HTTPS) protocol
// wrangler for one already-admitted connection: a request loop that
// parses each request, dispatches it, writes the response, and honors
// keep-alive, all delegated to net/http.Server.Serve over a listener
// that yields exactly this one connection. This keeps request framing,
// pipelining, and keep-alive on the standard library's battle-tested
// implementation while still routing every accepted connection through
// our own admission gate and live-set bookkeeping.
func (e *NetworkEndpoint) serveHTTP1(conn net.Conn) {
	srv := &http.Server{
		Handler:      e.httpHandler(),
		ReadTimeout:  30 * time.Second, // matching teacher's ingress proxy defaults
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	err := srv.Serve(newSingleConnListener(conn))
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, io.EOF) {
		e.Logger().Debug().Err(err).Msg("http/1.1 connection ended")
	}
}

// singleConnListener is a net.Listener that yields exactly one
// connection, then reports the listener closed. It lets net/http.Server
// own the per-connection read/write/keep-alive loop for a connection we
// have already accepted and gated ourselves.
type singleConnListener struct {
	conn net.Conn
	used bool
	done chan struct{}
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, done: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.used {
		<-l.done
		return nil, http.ErrServerClosed
	}
	l.used = true
	return &closeSignalingConn{Conn: l.conn, done: l.done}, nil
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

// closeSignalingConn closes the done channel exactly once when the
// underlying connection is closed, so singleConnListener.Accept's
// second call can unblock and return ErrServerClosed instead of
// spinning.
type closeSignalingConn struct {
	net.Conn
	done   chan struct{}
	closed bool
}

func (c *closeSignalingConn) Close() error {
	err := c.Conn.Close()
	if !c.closed {
		c.closed = true
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	return err
}
