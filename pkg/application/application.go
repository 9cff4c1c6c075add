// Package application wraps the router primitives from pkg/router
// (PathRouter, SuffixRouter, SerialRouter) as registry-buildable,
// lifecycle-bearing "applications" per spec.md §4.5: each resolves its
// configured child application references against the shared
// ComponentTree at Start time, matching spec.md's "at init time, the
// router resolves names into handlers" wording. A RateLimitGateApplication
// additionally supplements the "rate-limit -> real handler" SerialRouter
// chain example from spec.md §4.5 with a concrete gate, grounded on
// teacher's pkg/ingress rate-limiting middleware but expressed as a
// dispatch.RequestHandler rather than an http.Handler wrapper.
package application

import (
	"context"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/ferrors"
	"github.com/cuemby/frontdoor/pkg/ratelimit"
	"github.com/cuemby/frontdoor/pkg/router"
)

// resolveHandler looks target (a "Class/Name" key, the same format
// Spec.key() produces) up in tree and asserts it implements
// dispatch.RequestHandler.
func resolveHandler(tree *component.ComponentTree, target string) (dispatch.RequestHandler, error) {
	lc, ok := tree.Lookup(target)
	if !ok {
		return nil, ferrors.New(ferrors.KindNotFound, "no application registered at %q", target)
	}
	h, ok := lc.(dispatch.RequestHandler)
	if !ok {
		return nil, ferrors.New(ferrors.KindConfig, "component %q does not implement RequestHandler", target)
	}
	return h, nil
}

func startTransition(b *component.BaseComponent) error {
	if b.State() == component.StateNew {
		if err := b.Transition(component.StateStopped); err != nil {
			return err
		}
	}
	return nil
}

// PathRouterConfig configures a PathRouterApplication: pathSpec -> target
// application key ("Class/Name").
type PathRouterConfig struct {
	Routes map[string]string
}

// PathRouterApplication is the registry-buildable, lifecycle-bearing form
// of router.PathRouter.
type PathRouterApplication struct {
	component.BaseComponent
	tree  *component.ComponentTree
	cfg   PathRouterConfig
	inner *router.PathRouter
}

func newPathRouterApplication(ctx *component.ControlContext, name string, cfg PathRouterConfig, tree *component.ComponentTree) *PathRouterApplication {
	a := &PathRouterApplication{cfg: cfg, tree: tree}
	a.Init(name, "PathRouterApplication", name, ctx)
	return a
}

// Start implements component.Lifecycle: resolves every configured route
// target and builds the backing PathRouter.
func (a *PathRouterApplication) Start(ctx context.Context) error {
	if err := startTransition(&a.BaseComponent); err != nil {
		return err
	}
	routes := make(map[string]dispatch.RequestHandler, len(a.cfg.Routes))
	for pattern, target := range a.cfg.Routes {
		h, err := resolveHandler(a.tree, target)
		if err != nil {
			return ferrors.Wrap(ferrors.KindConfig, err, "%s: route %q", a.Name(), pattern)
		}
		routes[pattern] = h
	}
	inner, err := router.NewPathRouter(routes)
	if err != nil {
		return err
	}
	a.inner = inner
	return a.Transition(component.StateRunning)
}

// Stop implements component.Lifecycle.
func (a *PathRouterApplication) Stop(ctx context.Context, willReload bool) error {
	if err := a.Transition(component.StateStopping); err != nil {
		return err
	}
	return a.Transition(component.StateStopped)
}

// HandleRequest implements dispatch.RequestHandler.
func (a *PathRouterApplication) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	if a.inner == nil {
		return dispatch.Result{}, ferrors.New(ferrors.KindLifecycle, "%s: not running", a.Name())
	}
	return a.inner.HandleRequest(req, d)
}

// SuffixRouterConfig configures a SuffixRouterApplication.
type SuffixRouterConfig struct {
	Routes            map[string]string
	HandleFiles       bool
	HandleDirectories bool
}

// SuffixRouterApplication is the registry-buildable, lifecycle-bearing
// form of router.SuffixRouter.
type SuffixRouterApplication struct {
	component.BaseComponent
	tree  *component.ComponentTree
	cfg   SuffixRouterConfig
	inner *router.SuffixRouter
}

func newSuffixRouterApplication(ctx *component.ControlContext, name string, cfg SuffixRouterConfig, tree *component.ComponentTree) *SuffixRouterApplication {
	a := &SuffixRouterApplication{cfg: cfg, tree: tree}
	a.Init(name, "SuffixRouterApplication", name, ctx)
	return a
}

// Start implements component.Lifecycle.
func (a *SuffixRouterApplication) Start(ctx context.Context) error {
	if err := startTransition(&a.BaseComponent); err != nil {
		return err
	}
	routes := make(map[string]dispatch.RequestHandler, len(a.cfg.Routes))
	for pattern, target := range a.cfg.Routes {
		h, err := resolveHandler(a.tree, target)
		if err != nil {
			return ferrors.Wrap(ferrors.KindConfig, err, "%s: suffix %q", a.Name(), pattern)
		}
		routes[pattern] = h
	}
	inner, err := router.NewSuffixRouter(routes, a.cfg.HandleFiles, a.cfg.HandleDirectories)
	if err != nil {
		return err
	}
	a.inner = inner
	return a.Transition(component.StateRunning)
}

// Stop implements component.Lifecycle.
func (a *SuffixRouterApplication) Stop(ctx context.Context, willReload bool) error {
	if err := a.Transition(component.StateStopping); err != nil {
		return err
	}
	return a.Transition(component.StateStopped)
}

// HandleRequest implements dispatch.RequestHandler.
func (a *SuffixRouterApplication) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	if a.inner == nil {
		return dispatch.Result{}, ferrors.New(ferrors.KindLifecycle, "%s: not running", a.Name())
	}
	return a.inner.HandleRequest(req, d)
}

// SerialRouterConfig configures a SerialRouterApplication: an ordered
// list of target application keys tried in turn.
type SerialRouterConfig struct {
	Chain []string
}

// SerialRouterApplication is the registry-buildable, lifecycle-bearing
// form of router.SerialRouter.
type SerialRouterApplication struct {
	component.BaseComponent
	tree  *component.ComponentTree
	cfg   SerialRouterConfig
	inner *router.SerialRouter
}

func newSerialRouterApplication(ctx *component.ControlContext, name string, cfg SerialRouterConfig, tree *component.ComponentTree) *SerialRouterApplication {
	a := &SerialRouterApplication{cfg: cfg, tree: tree}
	a.Init(name, "SerialRouterApplication", name, ctx)
	return a
}

// Start implements component.Lifecycle.
func (a *SerialRouterApplication) Start(ctx context.Context) error {
	if err := startTransition(&a.BaseComponent); err != nil {
		return err
	}
	handlers := make([]dispatch.RequestHandler, 0, len(a.cfg.Chain))
	for _, target := range a.cfg.Chain {
		h, err := resolveHandler(a.tree, target)
		if err != nil {
			return ferrors.Wrap(ferrors.KindConfig, err, "%s: chain entry %q", a.Name(), target)
		}
		handlers = append(handlers, h)
	}
	a.inner = router.NewSerialRouter(handlers...)
	return a.Transition(component.StateRunning)
}

// Stop implements component.Lifecycle.
func (a *SerialRouterApplication) Stop(ctx context.Context, willReload bool) error {
	if err := a.Transition(component.StateStopping); err != nil {
		return err
	}
	return a.Transition(component.StateStopped)
}

// HandleRequest implements dispatch.RequestHandler.
func (a *SerialRouterApplication) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	if a.inner == nil {
		return dispatch.Result{}, ferrors.New(ferrors.KindLifecycle, "%s: not running", a.Name())
	}
	return a.inner.HandleRequest(req, d)
}

// bucketSource is implemented by service.RateLimitService, duck-typed
// here so this package doesn't need to import pkg/service.
type bucketSource interface {
	Bucket() *ratelimit.TokenBucket
}

// RateLimitGateConfig configures a RateLimitGateApplication.
type RateLimitGateConfig struct {
	RateLimiterRef string
}

// RateLimitGateApplication is a SerialRouter chain link: it asks its
// referenced RateLimitService's bucket for one token, waiting in the
// bucket's queue while there is room; it denies with 429 when the bucket
// refuses the grant, and otherwise returns NotHandled so the chain falls
// through to the next
// handler, the concrete "rate-limit -> real handler" composition spec.md
// §4.5 names as SerialRouter's motivating example.
type RateLimitGateApplication struct {
	component.BaseComponent
	tree   *component.ComponentTree
	cfg    RateLimitGateConfig
	bucket *ratelimit.TokenBucket
}

func newRateLimitGateApplication(ctx *component.ControlContext, name string, cfg RateLimitGateConfig, tree *component.ComponentTree) *RateLimitGateApplication {
	a := &RateLimitGateApplication{cfg: cfg, tree: tree}
	a.Init(name, "RateLimitGateApplication", name, ctx)
	return a
}

// Start implements component.Lifecycle.
func (a *RateLimitGateApplication) Start(ctx context.Context) error {
	if err := startTransition(&a.BaseComponent); err != nil {
		return err
	}
	lc, ok := a.tree.Lookup(a.cfg.RateLimiterRef)
	if !ok {
		return ferrors.New(ferrors.KindConfig, "%s: no rate limiter registered at %q", a.Name(), a.cfg.RateLimiterRef)
	}
	src, ok := lc.(bucketSource)
	if !ok {
		return ferrors.New(ferrors.KindConfig, "%s: component %q is not a rate limiter", a.Name(), a.cfg.RateLimiterRef)
	}
	a.bucket = src.Bucket()
	return a.Transition(component.StateRunning)
}

// Stop implements component.Lifecycle.
func (a *RateLimitGateApplication) Stop(ctx context.Context, willReload bool) error {
	if err := a.Transition(component.StateStopping); err != nil {
		return err
	}
	return a.Transition(component.StateStopped)
}

// HandleRequest implements dispatch.RequestHandler.
func (a *RateLimitGateApplication) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	grant := a.bucket.RequestGrant(context.Background(), 1)
	if !grant.Granted {
		return dispatch.HandledWith(&dispatch.FullResponse{
			StatusCode: 429,
			Body:       []byte("rate limit exceeded"),
		}), nil
	}
	return dispatch.NotHandled, nil
}

// RegisterClasses binds PathRouterApplication, SuffixRouterApplication,
// SerialRouterApplication and RateLimitGateApplication into registry,
// each resolving sibling application/service references against tree.
func RegisterClasses(registry *component.Registry, tree *component.ComponentTree) {
	registry.Register("PathRouterApplication",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			return newPathRouterApplication(ctx, name, cfg.(PathRouterConfig), tree), nil
		}, nil, decodePathRouterConfig)

	registry.Register("SuffixRouterApplication",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			return newSuffixRouterApplication(ctx, name, cfg.(SuffixRouterConfig), tree), nil
		}, nil, decodeSuffixRouterConfig)

	registry.Register("SerialRouterApplication",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			return newSerialRouterApplication(ctx, name, cfg.(SerialRouterConfig), tree), nil
		}, nil, decodeSerialRouterConfig)

	registry.Register("RateLimitGateApplication",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			return newRateLimitGateApplication(ctx, name, cfg.(RateLimitGateConfig), tree), nil
		}, nil, decodeRateLimitGateConfig)
}

func decodePathRouterConfig(raw map[string]any) (any, error) {
	routes, err := decodeStringMap(raw, "routes", true)
	if err != nil {
		return nil, err
	}
	if err := rejectUnknown(raw, "routes"); err != nil {
		return nil, err
	}
	return PathRouterConfig{Routes: routes}, nil
}

func decodeSuffixRouterConfig(raw map[string]any) (any, error) {
	routes, err := decodeStringMap(raw, "routes", true)
	if err != nil {
		return nil, err
	}
	handleFiles, _ := raw["handleFiles"].(bool)
	handleDirectories, _ := raw["handleDirectories"].(bool)
	if err := rejectUnknown(raw, "routes", "handleFiles", "handleDirectories"); err != nil {
		return nil, err
	}
	return SuffixRouterConfig{Routes: routes, HandleFiles: handleFiles, HandleDirectories: handleDirectories}, nil
}

func decodeSerialRouterConfig(raw map[string]any) (any, error) {
	rawChain, ok := raw["chain"].([]any)
	if !ok {
		return nil, ferrors.New(ferrors.KindConfig, "missing required configuration key %q", "chain")
	}
	chain := make([]string, 0, len(rawChain))
	for _, v := range rawChain {
		s, ok := v.(string)
		if !ok {
			return nil, ferrors.New(ferrors.KindConfig, "chain entries must be strings")
		}
		chain = append(chain, s)
	}
	if err := rejectUnknown(raw, "chain"); err != nil {
		return nil, err
	}
	return SerialRouterConfig{Chain: chain}, nil
}

func decodeRateLimitGateConfig(raw map[string]any) (any, error) {
	ref, ok := raw["rateLimiterRef"].(string)
	if !ok || ref == "" {
		return nil, ferrors.New(ferrors.KindConfig, "missing required configuration key %q", "rateLimiterRef")
	}
	if err := rejectUnknown(raw, "rateLimiterRef"); err != nil {
		return nil, err
	}
	return RateLimitGateConfig{RateLimiterRef: ref}, nil
}

func decodeStringMap(raw map[string]any, key string, required bool) (map[string]string, error) {
	v, present := raw[key]
	if !present {
		if required {
			return nil, ferrors.New(ferrors.KindConfig, "missing required configuration key %q", key)
		}
		return nil, nil
	}
	rawMap, ok := v.(map[string]any)
	if !ok {
		return nil, ferrors.New(ferrors.KindConfig, "key %q must be a mapping", key)
	}
	out := make(map[string]string, len(rawMap))
	for k, vv := range rawMap {
		s, ok := vv.(string)
		if !ok {
			return nil, ferrors.New(ferrors.KindConfig, "key %q.%q must be a string", key, k)
		}
		out[k] = s
	}
	return out, nil
}

func rejectUnknown(raw map[string]any, known ...string) error {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	for k := range raw {
		if !allowed[k] {
			return ferrors.New(ferrors.KindConfig, "unknown configuration key %q", k)
		}
	}
	return nil
}
