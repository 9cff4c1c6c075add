package application

import (
	"context"
	"net/http"
	"testing"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/pathkey"
	"github.com/cuemby/frontdoor/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leafApp is a minimal dispatch.RequestHandler-only Lifecycle used to
// populate a ComponentTree as a route/chain target in these tests.
type leafApp struct {
	component.BaseComponent
	label string
}

func newLeafApp(ctx *component.ControlContext, name, label string) *leafApp {
	a := &leafApp{label: label}
	a.Init(name, "LeafApp", name, ctx)
	return a
}

func (a *leafApp) Start(ctx context.Context) error {
	if a.State() == component.StateNew {
		if err := a.Transition(component.StateStopped); err != nil {
			return err
		}
	}
	return a.Transition(component.StateRunning)
}

func (a *leafApp) Stop(ctx context.Context, willReload bool) error {
	if err := a.Transition(component.StateStopping); err != nil {
		return err
	}
	return a.Transition(component.StateStopped)
}

func (a *leafApp) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	return dispatch.HandledWith(&dispatch.FullResponse{StatusCode: 200, Body: []byte(a.label)}), nil
}

func dispatchFor(path string) (*dispatch.Request, dispatch.Dispatch) {
	r, _ := http.NewRequest(http.MethodGet, path, nil)
	req := dispatch.NewRequest(r, "http-1.1", "127.0.0.1:1")
	return req, dispatch.NewDispatch(pathkey.ParsePathSpec(path))
}

func TestPathRouterApplicationResolvesTargetsAtStart(t *testing.T) {
	registry := component.NewRegistry()
	tree := component.NewComponentTree(registry)

	a := newLeafApp(tree.NewControlContext(), "A", "a-body")
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, tree.Register("LeafApp/A", a))

	app := newPathRouterApplication(tree.NewControlContext(), "Top", PathRouterConfig{
		Routes: map[string]string{"/a": "LeafApp/A"},
	}, tree)

	require.NoError(t, app.Start(context.Background()))

	req, d := dispatchFor("/a")
	res, err := app.HandleRequest(req, d)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ResultFullResponse, res.Kind)
	assert.Equal(t, "a-body", string(res.Response.Body))
}

func TestPathRouterApplicationStartFailsOnUnknownTarget(t *testing.T) {
	registry := component.NewRegistry()
	tree := component.NewComponentTree(registry)

	app := newPathRouterApplication(tree.NewControlContext(), "Top", PathRouterConfig{
		Routes: map[string]string{"/a": "LeafApp/Missing"},
	}, tree)

	err := app.Start(context.Background())
	require.Error(t, err)
}

func TestSerialRouterApplicationTriesChainInOrder(t *testing.T) {
	registry := component.NewRegistry()
	tree := component.NewComponentTree(registry)

	gate := newRateLimitGateApplication(tree.NewControlContext(), "Gate", RateLimitGateConfig{
		RateLimiterRef: "RateLimiter/RL",
	}, tree)
	limiter := newBucketHolder(ratelimit.New(ratelimit.Config{Capacity: 1, FlowRate: 1, InitialAvailable: 0}))
	// InitialAvailable 0 means a full bucket; take its one token so the
	// gate finds it empty with no queue room and answers 429.
	require.True(t, limiter.bucket.RequestGrant(context.Background(), 1).Granted)
	require.NoError(t, tree.Register("RateLimiter/RL", limiter))
	require.NoError(t, gate.Start(context.Background()))

	real := newLeafApp(tree.NewControlContext(), "Real", "real-body")
	require.NoError(t, real.Start(context.Background()))
	require.NoError(t, tree.Register("LeafApp/Real", real))

	chain := newSerialRouterApplication(tree.NewControlContext(), "Chain", SerialRouterConfig{
		Chain: []string{"RateLimitGateApplication/Gate", "LeafApp/Real"},
	}, tree)
	require.NoError(t, tree.Register("RateLimitGateApplication/Gate", gate))
	require.NoError(t, chain.Start(context.Background()))

	req, d := dispatchFor("/")
	res, err := chain.HandleRequest(req, d)
	require.NoError(t, err)
	assert.Equal(t, 429, res.Response.StatusCode)
}

// bucketHolder is a minimal Lifecycle exposing Bucket(), standing in for
// service.RateLimitService in these tests without importing pkg/service.
type bucketHolder struct {
	component.BaseComponent
	bucket *ratelimit.TokenBucket
}

func newBucketHolder(b *ratelimit.TokenBucket) *bucketHolder {
	h := &bucketHolder{bucket: b}
	h.Init("RL", "RateLimiter", "RateLimiter/RL", nil)
	return h
}

func (h *bucketHolder) Start(ctx context.Context) error { return nil }
func (h *bucketHolder) Stop(ctx context.Context, willReload bool) error { return nil }
func (h *bucketHolder) Bucket() *ratelimit.TokenBucket { return h.bucket }
