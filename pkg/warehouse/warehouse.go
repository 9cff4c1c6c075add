// Package warehouse implements the top system from spec.md §4.7: it
// owns the Host/Service/Application/Endpoint managers, orchestrates
// ordered start/stop, and runs the reload protocol (validate -> diff ->
// stop removed -> start new -> atomic swap). Grounded on the teacher's
// cmd/warren/main.go shutdown choreography (ordered Stop calls across
// scheduler/reconciler/metrics/ingress/api/manager) and
// pkg/manager/manager.go's registry-of-subsystems shape, generalized
// from a fixed subsystem list to the registry-driven, reloadable
// collection spec.md calls for.
package warehouse

import (
	"context"
	"net"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/endpoint"
	"github.com/cuemby/frontdoor/pkg/ferrors"
	"github.com/cuemby/frontdoor/pkg/hostmanager"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Spec is one configured component stanza: a class, a name, and its raw
// (pre-decode) configuration, keyed for the reload diff by (class,name).
type Spec struct {
	Class string
	Name  string
	Raw   map[string]any
}

func (s Spec) key() string { return s.Class + "/" + s.Name }

func specsEqual(a, b Spec) bool {
	return a.Class == b.Class && reflect.DeepEqual(a.Raw, b.Raw)
}

// Config is a fully parsed configuration document: spec.md §6's
// hosts[]/services[]/applications[]/endpoints[] stanzas.
type Config struct {
	Hosts        []hostmanager.HostItem
	Services     []Spec
	Applications []Spec
	Endpoints    []Spec
}

// ApplicationComponent is what the applications registry builds: a
// component with a lifecycle that is also a request handler, since
// spec.md's "applications" are both started/stopped by the warehouse
// and invoked per-request by endpoints.
type ApplicationComponent interface {
	component.Lifecycle
	dispatch.RequestHandler
}

type endpointEntry struct {
	spec Spec
	ep   *endpoint.NetworkEndpoint
}

type serviceEntry struct {
	spec Spec
	svc  component.Lifecycle
}

type applicationEntry struct {
	spec Spec
	app  ApplicationComponent
}

// Warehouse is the top-level system owning every managed component.
type Warehouse struct {
	registry *component.Registry
	tree     *component.ComponentTree
	logger   zerolog.Logger

	mu           sync.Mutex
	reloadMu     sync.Mutex
	hostManager  *hostmanager.HostManager
	services     map[string]serviceEntry
	applications map[string]applicationEntry
	endpoints    map[string]endpointEntry

	endpointDeps func(app ApplicationComponent, spec Spec, services ServiceLookup) (endpoint.Deps, error)
}

// ServiceLookup resolves a service's (class,name) key, as produced by
// Spec.key(), to its live component.Lifecycle. internal/config's
// endpointDeps closure uses it to turn a rateLimiterRef/accessLogRef
// string into the concrete *service.RateLimitService/*AccessLogService
// it names, without the warehouse package needing to know those
// concrete types.
type ServiceLookup func(key string) (component.Lifecycle, bool)

// New constructs an empty Warehouse. endpointDeps builds the per-endpoint
// Deps (application reference, optional rate limiter/access log) from
// its Spec, resolved application, and a lookup over the services being
// built alongside it; it is supplied by the caller because wiring a
// Spec's rateLimiterRef/accessLogRef/applicationRef strings to live
// service/application instances is configuration-schema specific
// (internal/config's job), not the warehouse's.
func New(registry *component.Registry, logger zerolog.Logger, endpointDeps func(app ApplicationComponent, spec Spec, services ServiceLookup) (endpoint.Deps, error)) *Warehouse {
	return &Warehouse{
		registry:     registry,
		tree:         component.NewComponentTree(registry),
		logger:       logger,
		hostManager:  hostmanager.New(logger),
		services:     make(map[string]serviceEntry),
		applications: make(map[string]applicationEntry),
		endpoints:    make(map[string]endpointEntry),
		endpointDeps: endpointDeps,
	}
}

// HostManager returns the live HostManager, for endpoint construction.
func (w *Warehouse) HostManager() *hostmanager.HostManager { return w.hostManager }

// Tree returns the ComponentTree every built service and application is
// registered into by (class,name) path (endpoints are not registered), so an application like a PathRouter can
// resolve a sibling application name to its live component.Lifecycle at
// Start time.
func (w *Warehouse) Tree() *component.ComponentTree { return w.tree }

// Start builds every configured component from cfg and starts them in
// dependency order: services -> applications -> endpoints.
func (w *Warehouse) Start(ctx context.Context, cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range cfg.Hosts {
		if err := w.hostManager.Add(&cfg.Hosts[i]); err != nil {
			return err
		}
	}

	services, err := reuseOrBuildServices(w.registry, w.tree, nil, cfg.Services)
	if err != nil {
		return err
	}
	applications, err := reuseOrBuildApplications(w.registry, w.tree, nil, cfg.Applications)
	if err != nil {
		return err
	}
	endpoints, err := w.reuseOrBuildEndpoints(w.tree, nil, applications, services, cfg.Endpoints)
	if err != nil {
		return err
	}

	if err := startAllServices(ctx, services); err != nil {
		return err
	}
	if err := startAllApplications(ctx, applications); err != nil {
		return err
	}
	if err := startAllEndpoints(ctx, endpoints); err != nil {
		return err
	}

	w.services = services
	w.applications = applications
	w.endpoints = endpoints
	return nil
}

// Validate builds, but never starts, every component cfg describes: it
// loads hosts, decodes each service/application/endpoint stanza's
// per-class configuration, and invokes its registered factory. It uses
// a scratch ComponentTree isolated from the live one so building here
// never collides with a real Start/Reload that follows. This is what
// spec.md §6's --check exercises: an unregistered class, a malformed
// per-class field, or an unknown per-class key all fail here instead of
// only surfacing on the next real start.
func (w *Warehouse) Validate(cfg Config) error {
	scratchHosts := hostmanager.New(w.logger)
	for i := range cfg.Hosts {
		if err := scratchHosts.Add(&cfg.Hosts[i]); err != nil {
			return err
		}
	}

	scratchTree := component.NewComponentTree(w.registry)
	services, err := reuseOrBuildServices(w.registry, scratchTree, nil, cfg.Services)
	if err != nil {
		return err
	}
	applications, err := reuseOrBuildApplications(w.registry, scratchTree, nil, cfg.Applications)
	if err != nil {
		return err
	}
	if _, err := w.reuseOrBuildEndpoints(scratchTree, nil, applications, services, cfg.Endpoints); err != nil {
		return err
	}
	return nil
}

func findInheritableListener(spec Spec, cfg endpoint.Config, inherited map[string]endpointEntry) net.Listener {
	if inherited == nil {
		return nil
	}
	old, ok := inherited[spec.key()]
	if !ok {
		return nil
	}
	want := endpoint.Addr{Address: cfg.Address, Port: cfg.Port, Protocol: cfg.Protocol}
	if old.ep.BindAddr() != want {
		return nil
	}
	return old.ep.Listener()
}

func startAllServices(ctx context.Context, services map[string]serviceEntry) error {
	names := sortedKeys(services)
	for _, name := range names {
		if err := services[name].svc.Start(ctx); err != nil {
			return ferrors.Wrap(ferrors.KindRuntime, err, "starting service %q", name)
		}
	}
	return nil
}

func startAllApplications(ctx context.Context, applications map[string]applicationEntry) error {
	names := sortedKeysApp(applications)
	for _, name := range names {
		if err := applications[name].app.Start(ctx); err != nil {
			return ferrors.Wrap(ferrors.KindRuntime, err, "starting application %q", name)
		}
	}
	return nil
}

func startAllEndpoints(ctx context.Context, endpoints map[string]endpointEntry) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range endpoints {
		e := e
		g.Go(func() error {
			if err := e.ep.Start(gctx); err != nil {
				return ferrors.Wrap(ferrors.KindRuntime, err, "starting endpoint %q", e.spec.Name)
			}
			return nil
		})
	}
	return g.Wait()
}

func sortedKeys(m map[string]serviceEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysApp(m map[string]applicationEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stop tears the whole system down: endpoints first (raced against
// endpointGrace), then applications (raced against appGrace), then
// services last and unconditionally, per spec.md §4.7's "stop order is
// the reverse, with a twist".
func (w *Warehouse) Stop(ctx context.Context, endpointGrace, appGrace time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	stopRaced(ctx, endpointGrace, len(w.endpoints), func(fn func(error)) {
		for _, e := range w.endpoints {
			e := e
			go func() { fn(e.ep.Stop(ctx, false)) }()
		}
	})

	stopRaced(ctx, appGrace, len(w.applications), func(fn func(error)) {
		for _, a := range w.applications {
			a := a
			go func() { fn(a.app.Stop(ctx, false)) }()
		}
	})

	for _, s := range w.services {
		if err := s.svc.Stop(ctx, false); err != nil {
			w.logger.Warn().Err(err).Str("service", s.spec.Name).Msg("service stop failed")
		}
	}
	return nil
}

// Reload implements spec.md §4.7's reload protocol: validate the new
// configuration fully, diff old vs new by (class, name), stop removed
// or changed components, start new or changed ones in forward
// dependency order, then atomically swap the live maps. Only one
// reload runs at a time; a reload already in flight makes a second
// caller wait rather than interleave.
func (w *Warehouse) Reload(ctx context.Context, cfg Config, endpointGrace, appGrace time.Duration) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	oldServices := w.services
	oldApplications := w.applications
	oldEndpoints := w.endpoints
	w.mu.Unlock()

	// Step 1+2: build every new/changed component now, so a bad config
	// aborts before anything running is touched. Unchanged components
	// are carried over by reference rather than rebuilt.
	newServices, err := reuseOrBuildServices(w.registry, w.tree, oldServices, cfg.Services)
	if err != nil {
		return err
	}
	newApplications, err := reuseOrBuildApplications(w.registry, w.tree, oldApplications, cfg.Applications)
	if err != nil {
		return err
	}
	newEndpoints, err := w.reuseOrBuildEndpoints(w.tree, oldEndpoints, newApplications, newServices, cfg.Endpoints)
	if err != nil {
		return err
	}

	// Step 3: stop components present in old but absent (by key) from
	// new, plus any whose spec changed and so were rebuilt rather than
	// reused. Endpoints stop first racing endpointGrace, then
	// applications racing appGrace, then services unconditionally.
	removedEndpoints := diffRemoved(oldEndpoints, newEndpoints)
	stopRaced(ctx, endpointGrace, len(removedEndpoints), func(report func(error)) {
		for _, e := range removedEndpoints {
			e := e
			go func() { report(e.ep.Stop(ctx, true)) }()
		}
	})
	for _, e := range removedEndpoints {
		if _, stillPresent := newEndpoints[e.spec.key()]; !stillPresent {
			w.tree.Unregister(e.spec.key())
		}
	}

	removedApplications := diffRemovedApp(oldApplications, newApplications)
	stopRaced(ctx, appGrace, len(removedApplications), func(report func(error)) {
		for _, a := range removedApplications {
			a := a
			go func() { report(a.app.Stop(ctx, true)) }()
		}
	})
	for _, a := range removedApplications {
		if _, stillPresent := newApplications[a.spec.key()]; !stillPresent {
			w.tree.Unregister(a.spec.key())
		}
	}

	removedServices := diffRemovedSvc(oldServices, newServices)
	for _, s := range removedServices {
		if err := s.svc.Stop(ctx, true); err != nil {
			w.logger.Warn().Err(err).Str("service", s.spec.Name).Msg("reload: stopping removed service failed")
		}
		if _, stillPresent := newServices[s.spec.key()]; !stillPresent {
			w.tree.Unregister(s.spec.key())
		}
	}

	// Step 4: start components present in new but absent (by key) from
	// old, forward dependency order.
	addedServices := diffAdded(oldServices, newServices)
	for _, name := range sortedKeys(addedServices) {
		if err := addedServices[name].svc.Start(ctx); err != nil {
			return ferrors.Wrap(ferrors.KindRuntime, err, "reload: starting service %q", name)
		}
	}
	addedApplications := diffAddedApp(oldApplications, newApplications)
	for _, name := range sortedKeysApp(addedApplications) {
		if err := addedApplications[name].app.Start(ctx); err != nil {
			return ferrors.Wrap(ferrors.KindRuntime, err, "reload: starting application %q", name)
		}
	}
	addedEndpoints := diffAddedEp(oldEndpoints, newEndpoints)
	if err := startAllEndpoints(ctx, addedEndpoints); err != nil {
		return err
	}

	// Step 5: swap references atomically.
	w.mu.Lock()
	w.services = newServices
	w.applications = newApplications
	w.endpoints = newEndpoints
	w.mu.Unlock()
	return nil
}

func reuseOrBuildServices(registry *component.Registry, tree *component.ComponentTree, old map[string]serviceEntry, specs []Spec) (map[string]serviceEntry, error) {
	out := make(map[string]serviceEntry, len(specs))
	for _, spec := range specs {
		if prev, ok := old[spec.key()]; ok && specsEqual(prev.spec, spec) {
			out[spec.key()] = prev
			continue
		}
		if _, ok := old[spec.key()]; ok {
			tree.Unregister(spec.key())
		}
		lc, err := registry.Build(tree.NewControlContext(), spec.Class, spec.Name, spec.Raw)
		if err != nil {
			return nil, err
		}
		if err := tree.Register(spec.key(), lc); err != nil {
			return nil, err
		}
		out[spec.key()] = serviceEntry{spec: spec, svc: lc}
	}
	return out, nil
}

func reuseOrBuildApplications(registry *component.Registry, tree *component.ComponentTree, old map[string]applicationEntry, specs []Spec) (map[string]applicationEntry, error) {
	out := make(map[string]applicationEntry, len(specs))
	for _, spec := range specs {
		if prev, ok := old[spec.key()]; ok && specsEqual(prev.spec, spec) {
			out[spec.key()] = prev
			continue
		}
		if _, ok := old[spec.key()]; ok {
			tree.Unregister(spec.key())
		}
		lc, err := registry.Build(tree.NewControlContext(), spec.Class, spec.Name, spec.Raw)
		if err != nil {
			return nil, err
		}
		app, ok := lc.(ApplicationComponent)
		if !ok {
			return nil, ferrors.New(ferrors.KindConfig, "application class %q does not implement RequestHandler", spec.Class)
		}
		if err := tree.Register(spec.key(), app); err != nil {
			return nil, err
		}
		out[spec.key()] = applicationEntry{spec: spec, app: app}
	}
	return out, nil
}

func (w *Warehouse) reuseOrBuildEndpoints(tree *component.ComponentTree, old map[string]endpointEntry, applications map[string]applicationEntry, services map[string]serviceEntry, specs []Spec) (map[string]endpointEntry, error) {
	lookup := ServiceLookup(func(key string) (component.Lifecycle, bool) {
		e, ok := services[key]
		if !ok {
			return nil, false
		}
		return e.svc, true
	})
	out := make(map[string]endpointEntry, len(specs))
	for _, spec := range specs {
		if prev, ok := old[spec.key()]; ok && specsEqual(prev.spec, spec) {
			out[spec.key()] = prev
			continue
		}
		appKey, _ := spec.Raw["applicationRef"].(string)
		appEntry, ok := applications[appKey]
		if !ok {
			return nil, ferrors.New(ferrors.KindConfig, "endpoint %q references unknown application %q", spec.Name, appKey)
		}
		deps, err := w.endpointDeps(appEntry.app, spec, lookup)
		if err != nil {
			return nil, err
		}
		var cfg endpoint.Config
		if err := component.DecodeStrict(spec.Raw, &cfg); err != nil {
			return nil, err
		}
		inheritedListener := findInheritableListener(spec, cfg, old)
		ep, err := endpoint.New(tree.NewControlContext(), spec.Name, cfg, deps, inheritedListener)
		if err != nil {
			return nil, err
		}
		out[spec.key()] = endpointEntry{spec: spec, ep: ep}
	}
	return out, nil
}

func diffRemoved(old, updated map[string]endpointEntry) []endpointEntry {
	var out []endpointEntry
	for key, e := range old {
		if ne, ok := updated[key]; !ok || ne.ep != e.ep {
			out = append(out, e)
		}
	}
	return out
}

func diffAddedEp(old, updated map[string]endpointEntry) map[string]endpointEntry {
	out := make(map[string]endpointEntry)
	for key, e := range updated {
		if oe, ok := old[key]; !ok || oe.ep != e.ep {
			out[key] = e
		}
	}
	return out
}

func diffRemovedApp(old, updated map[string]applicationEntry) []applicationEntry {
	var out []applicationEntry
	for key, a := range old {
		if na, ok := updated[key]; !ok || na.app != a.app {
			out = append(out, a)
		}
	}
	return out
}

func diffAddedApp(old, updated map[string]applicationEntry) map[string]applicationEntry {
	out := make(map[string]applicationEntry)
	for key, a := range updated {
		if oa, ok := old[key]; !ok || oa.app != a.app {
			out[key] = a
		}
	}
	return out
}

func diffRemovedSvc(old, updated map[string]serviceEntry) []serviceEntry {
	var out []serviceEntry
	for key, s := range old {
		if ns, ok := updated[key]; !ok || ns.svc != s.svc {
			out = append(out, s)
		}
	}
	return out
}

func diffAdded(old, updated map[string]serviceEntry) map[string]serviceEntry {
	out := make(map[string]serviceEntry)
	for key, s := range updated {
		if prior, ok := old[key]; !ok || prior.svc != s.svc {
			out[key] = s
		}
	}
	return out
}

// stopRaced launches n stop operations via launch and waits up to grace
// for all of them to report back, logging nothing further if some never
// finish — the caller's components are responsible for their own
// bounded drain (NetworkEndpoint.Stop already enforces drainGraceMs).
func stopRaced(ctx context.Context, grace time.Duration, n int, launch func(report func(error))) {
	if n == 0 {
		return
	}
	done := make(chan error, n)
	launch(func(err error) { done <- err })

	deadline := time.After(grace)
	remaining := n
	for remaining > 0 {
		select {
		case <-done:
			remaining--
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}
