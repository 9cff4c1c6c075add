package endpoint

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoApplication() dispatch.RequestHandler {
	return dispatch.HandlerFunc(func(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
		return dispatch.HandledWith(&dispatch.FullResponse{
			StatusCode: http.StatusOK,
			Body:       []byte("ok:" + req.Method),
		}), nil
	})
}

func TestHTTPEndpointServesRequests(t *testing.T) {
	tree := component.NewComponentTree(component.NewRegistry())
	ep, err := New(tree.NewControlContext(), "e0", Config{
		Address:  "127.0.0.1",
		Port:     0,
		Protocol: ProtocolHTTP,
	}, Deps{Application: echoApplication()}, nil)
	require.NoError(t, err)

	require.NoError(t, ep.Start(context.Background()))
	addr := ep.Listener().Addr().String()

	resp, err := http.Get("http://" + addr + "/anything")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok:get", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ep.Stop(ctx, false))
	assert.Equal(t, component.StateStopped, ep.State())
}

// TestReloadStopForceClosesStuckConnectionAfterGrace covers spec.md
// §4.6's "reload uses the same path": a connection that never winds
// down on its own (a stuck handler) must still be force-closed once
// drainGrace elapses, even on the willReload=true branch that hands the
// listener off instead of closing it.
func TestReloadStopForceClosesStuckConnectionAfterGrace(t *testing.T) {
	tree := component.NewComponentTree(component.NewRegistry())
	ep, err := New(tree.NewControlContext(), "e1", Config{
		Address:      "127.0.0.1",
		Port:         0,
		Protocol:     ProtocolHTTP,
		DrainGraceMs: 20,
	}, Deps{Application: echoApplication()}, nil)
	require.NoError(t, err)
	require.NoError(t, ep.Start(context.Background()))

	stuck, _ := net.Pipe()
	ep.mu.Lock()
	ep.liveConns["stuck"] = stuck
	ep.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ep.Stop(ctx, true))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, component.StateStopped, ep.State())
	assert.Equal(t, 0, ep.liveCount())
}

func TestAccessControlDenyTakesPrecedence(t *testing.T) {
	ac, err := newAccessControl([]string{"10.0.0.0/8"}, []string{"10.1.0.0/16"})
	require.NoError(t, err)
	assert.True(t, ac.allowed("10.2.3.4"))
	assert.False(t, ac.allowed("10.1.3.4"))
	assert.False(t, ac.allowed("192.168.1.1"))
}

func TestAccessControlEmptyAllowListAllowsAllExceptDenied(t *testing.T) {
	ac, err := newAccessControl(nil, []string{"10.0.0.0/8"})
	require.NoError(t, err)
	assert.True(t, ac.allowed("8.8.8.8"))
	assert.False(t, ac.allowed("10.0.0.1"))
}
