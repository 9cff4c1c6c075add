package warehouse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/endpoint"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoApp is a minimal ApplicationComponent used only by this test: it
// answers every request with its label, optionally blocking until
// release is closed so a test can hold a request open across a reload.
type echoApp struct {
	component.BaseComponent
	label   string
	release chan struct{}
}

func newEchoApp(ctx *component.ControlContext, name, label string, release chan struct{}) *echoApp {
	a := &echoApp{label: label, release: release}
	a.Init(name, "EchoApp", name, ctx)
	return a
}

func (a *echoApp) Start(ctx context.Context) error {
	if a.State() == component.StateNew {
		if err := a.Transition(component.StateStopped); err != nil {
			return err
		}
	}
	return a.Transition(component.StateRunning)
}

func (a *echoApp) Stop(ctx context.Context, willReload bool) error {
	if err := a.Transition(component.StateStopping); err != nil {
		return err
	}
	return a.Transition(component.StateStopped)
}

func (a *echoApp) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	if a.release != nil {
		<-a.release
	}
	return dispatch.HandledWith(&dispatch.FullResponse{
		StatusCode: 200,
		Body:       []byte(a.label),
	}), nil
}

func registerEchoAppClass(registry *component.Registry, apps map[string]*echoApp) {
	registry.Register("EchoApp",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			return apps[name], nil
		},
		nil,
		func(raw map[string]any) (any, error) { return raw, nil },
	)
}

func noopEndpointDeps(app ApplicationComponent, spec Spec, services ServiceLookup) (endpoint.Deps, error) {
	return endpoint.Deps{Application: app}, nil
}

// TestS6ReloadSwapsApplicationWithoutGap implements spec.md's scenario
// S6: endpoint E1 on an ephemeral port serves app R1; a connection held
// open mid-request survives the reload and gets R1's answer; a
// connection opened after the reload gets R2's answer; the listening
// socket is never closed in between.
func TestS6ReloadSwapsApplicationWithoutGap(t *testing.T) {
	registry := component.NewRegistry()
	release := make(chan struct{})
	apps := map[string]*echoApp{}

	tree := component.NewComponentTree(registry)
	r1 := newEchoApp(tree.NewControlContext(), "R1", "R1", release)
	apps["R1"] = r1
	registerEchoAppClass(registry, apps)

	w := New(registry, zerolog.Nop(), noopEndpointDeps)
	w.tree = tree

	cfg := Config{
		Applications: []Spec{{Class: "EchoApp", Name: "R1"}},
		Endpoints: []Spec{{
			Class: "NetworkEndpoint",
			Name:  "E1",
			Raw: map[string]any{
				"address":        "127.0.0.1",
				"port":           0,
				"protocol":       endpoint.ProtocolHTTP,
				"applicationRef": "EchoApp/R1",
				// Generous enough that the drain loop this endpoint's
				// reload-time Stop(ctx, true) runs in the background
				// never races ahead of this test's explicit
				// close(release) below.
				"drainGraceMs": 2000,
			},
		}},
	}
	require.NoError(t, w.Start(context.Background(), cfg))

	ep := w.endpoints["NetworkEndpoint/E1"].ep
	url := fmt.Sprintf("http://%s/", ep.Listener().Addr().String())

	type httpResult struct {
		body string
		err  error
	}
	r1Result := make(chan httpResult, 1)
	go func() {
		resp, err := http.Get(url)
		if err != nil {
			r1Result <- httpResult{err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		r1Result <- httpResult{body: string(body)}
	}()

	// Give the R1 request time to be accepted and start blocking inside
	// the handler before the reload runs.
	time.Sleep(50 * time.Millisecond)

	r2 := newEchoApp(tree.NewControlContext(), "R2", "R2", nil)
	apps["R2"] = r2
	reloadCfg := Config{
		Applications: []Spec{{Class: "EchoApp", Name: "R2"}},
		Endpoints: []Spec{{
			Class: "NetworkEndpoint",
			Name:  "E1",
			Raw: map[string]any{
				"address":        "127.0.0.1",
				"port":           0,
				"protocol":       endpoint.ProtocolHTTP,
				"applicationRef": "EchoApp/R2",
			},
		}},
	}
	require.NoError(t, w.Reload(context.Background(), reloadCfg, 500*time.Millisecond, 500*time.Millisecond))

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "R2", string(body))

	close(release)
	result := <-r1Result
	require.NoError(t, result.err)
	assert.Equal(t, "R1", result.body)

	require.NoError(t, w.Stop(context.Background(), 500*time.Millisecond, 500*time.Millisecond))
}

func TestWarehouseStartRunsApplicationsAndEndpoints(t *testing.T) {
	registry := component.NewRegistry()
	apps := map[string]*echoApp{"R1": nil}
	tree := component.NewComponentTree(registry)
	apps["R1"] = newEchoApp(tree.NewControlContext(), "R1", "R1", nil)
	registerEchoAppClass(registry, apps)

	w := New(registry, zerolog.Nop(), noopEndpointDeps)
	w.tree = tree

	cfg := Config{
		Applications: []Spec{{Class: "EchoApp", Name: "R1"}},
		Endpoints: []Spec{{
			Class: "NetworkEndpoint",
			Name:  "E1",
			Raw: map[string]any{
				"address":        "127.0.0.1",
				"port":           0,
				"protocol":       endpoint.ProtocolHTTP,
				"applicationRef": "EchoApp/R1",
			},
		}},
	}
	require.NoError(t, w.Start(context.Background(), cfg))
	assert.Equal(t, component.StateRunning, apps["R1"].State())
	assert.Equal(t, component.StateRunning, w.endpoints["NetworkEndpoint/E1"].ep.State())
	require.NoError(t, w.Stop(context.Background(), 100*time.Millisecond, 100*time.Millisecond))
}
