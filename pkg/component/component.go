// Package component implements the hierarchical component lifecycle
// kernel: a typed, immutable config binding layer, a name-pathed logger
// view per component (grounded on the teacher's pkg/log.WithComponent,
// generalized to pkg/frontlog.ForPath), and a strict state machine
// (new -> stopped -> running -> stopping -> stopped, "initializing" and
// "starting" collapsed as internal sub-states).
// Every component in frontdoor (hosts, services, applications,
// endpoints) embeds BaseComponent and is owned, by index, by a single
// ComponentTree root — replacing the original system's cyclic
// component/context/root object graph with arena ownership plus
// borrowed back-references, per the teacher's registry-and-FSM style in
// pkg/manager.
package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/frontdoor/pkg/ferrors"
	"github.com/cuemby/frontdoor/pkg/frontlog"
	"github.com/rs/zerolog"
)

// State is a lifecycle state. Per the decision on spec.md's Open
// Question about the state machine surface, only four states are
// observable: "initializing" and "starting" are internal sub-states a
// component passes through synchronously inside Initialize/Start and
// are never returned by State().
type State int

const (
	StateNew State = iota
	StateStopped
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// validTransitions models new->stopped (init), stopped->running (start,
// passing through the internal "starting" sub-state), running->stopping
// (stop beginning), stopping->stopped (stop completing), and
// stopped->running (restart).
var validTransitions = map[State][]State{
	StateNew:      {StateStopped},
	StateStopped:  {StateRunning},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
}

// Lifecycle is implemented by every component the tree manages. Start
// and Stop receive a context.Context; the ControlContext a component was
// bound with at construction is reachable through BaseComponent.Context.
type Lifecycle interface {
	Start(ctx context.Context) error
	// Stop tears the component down. willReload is an advisory hint
	// (spec.md §4.3) letting subclasses retain warmable state, e.g. a
	// NetworkEndpoint keeping its listener open for the replacement
	// endpoint to inherit.
	Stop(ctx context.Context, willReload bool) error
	State() State
	Name() string
	Class() string
}

// Validator validates a decoded configuration value, returning a
// *ferrors.Error of ferrors.KindConfig on failure. Config binding rejects
// unknown keys before a Validator ever runs.
type Validator func(cfg any) error

// BaseComponent implements the common bookkeeping every concrete
// component embeds: name, class, parent-relative path, per-component
// logger, and the state machine's transition guard.
type BaseComponent struct {
	mu     sync.Mutex
	name   string
	class  string
	path   string
	state  State
	logger zerolog.Logger
	ctx    *ControlContext
}

// Init must be called once, from the concrete component's constructor,
// before any other BaseComponent method.
func (b *BaseComponent) Init(name, class, path string, ctx *ControlContext) {
	b.name = name
	b.class = class
	b.path = path
	b.state = StateNew
	b.ctx = ctx
	b.logger = frontlog.ForPathWithClass(path, class)
}

func (b *BaseComponent) Name() string  { return b.name }
func (b *BaseComponent) Class() string { return b.class }
func (b *BaseComponent) Path() string  { return b.path }

func (b *BaseComponent) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Logger returns this component's name-path-scoped logger view.
func (b *BaseComponent) Logger() zerolog.Logger {
	return b.logger
}

// Context returns the ControlContext this component was bound with.
func (b *BaseComponent) Context() *ControlContext {
	return b.ctx
}

// Transition moves the component from its current state to next,
// failing with ferrors.KindLifecycle if the transition isn't in the
// table. Call this at the top of a concrete Start/Stop before doing any
// work, so a double-Start or Stop-before-Start is rejected uniformly.
func (b *BaseComponent) Transition(next State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, allowed := range validTransitions[b.state] {
		if allowed == next {
			b.state = next
			return nil
		}
	}
	return ferrors.New(ferrors.KindLifecycle, "component %s: invalid transition %s -> %s", b.path, b.state, next)
}

// Event emits a structured log event scoped to this component's path.
func (b *BaseComponent) Event(name string, fields map[string]any) {
	frontlog.Emit(b.logger, frontlog.Event{Path: b.path, Name: name, Fields: fields})
}

// Factory constructs a Lifecycle from a decoded, validated configuration
// value. The registry maps class strings to factories, replacing the
// original system's runtime dispatch-by-name and dynamic class lookup.
type Factory func(ctx *ControlContext, name string, cfg any) (Lifecycle, error)

// Registry maps a class string to the Factory that constructs it and the
// Validator used to bind its configuration, populated once at program
// start.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]classSpec
}

type classSpec struct {
	factory   Factory
	validator Validator
	decode    func(raw map[string]any) (any, error)
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]classSpec)}
}

// Register binds class to factory, validator and decode. decode converts
// the raw configuration map into the typed configuration struct the
// factory expects and is where unknown keys are rejected; Build hands it
// the map unchecked.
func (r *Registry) Register(class string, factory Factory, validator Validator, decode func(raw map[string]any) (any, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[class] = classSpec{factory: factory, validator: validator, decode: decode}
}

// Build decodes raw, validates it, and invokes the registered factory for
// class. It fails with ferrors.KindNotFound if class isn't registered.
func (r *Registry) Build(ctx *ControlContext, class, name string, raw map[string]any) (Lifecycle, error) {
	r.mu.RLock()
	spec, ok := r.specs[class]
	r.mu.RUnlock()
	if !ok {
		return nil, ferrors.New(ferrors.KindNotFound, "no registered class %q", class)
	}
	cfg, err := spec.decode(raw)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindConfig, err, "decoding config for %s %q", class, name)
	}
	if spec.validator != nil {
		if err := spec.validator(cfg); err != nil {
			return nil, ferrors.Wrap(ferrors.KindConfig, err, "validating config for %s %q", class, name)
		}
	}
	return spec.factory(ctx, name, cfg)
}

// ControlContext is the handle a component uses to reach its parent tree:
// logging, the shared registry, and anonymous-name synthesis. It is the
// borrowed, non-owning counterpart to ComponentTree's ownership.
type ControlContext struct {
	tree *ComponentTree
}

// Registry returns the tree's shared class registry.
func (c *ControlContext) Registry() *Registry { return c.tree.registry }

// ComponentTree owns every live component by name-path and assigns
// deterministic anonymous names to components that configuration left
// unnamed.
type ComponentTree struct {
	mu         sync.RWMutex
	registry   *Registry
	byPath     map[string]Lifecycle
	anonSeqs   map[string]int
}

// NewComponentTree constructs an empty tree bound to registry.
func NewComponentTree(registry *Registry) *ComponentTree {
	return &ComponentTree{
		registry: registry,
		byPath:   make(map[string]Lifecycle),
		anonSeqs: make(map[string]int),
	}
}

// NewControlContext returns a ControlContext bound to this tree, to be
// handed to component constructors.
func (t *ComponentTree) NewControlContext() *ControlContext {
	return &ControlContext{tree: t}
}

// AnonymousName synthesizes a deterministic name for an unnamed
// component of the given class, in the form "<lowerCamelClass><n>" where
// n counts the names this tree has synthesized for that class: the first
// unnamed "rateLimiter" class component is "rateLimiter1", the second
// "rateLimiter2", and so on, scoped per class. Explicitly given names are
// not consulted, so a synthesized name can equal one already in use.
func (t *ComponentTree) AnonymousName(class string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.anonSeqs[class] + 1
	t.anonSeqs[class] = n
	return fmt.Sprintf("%s%d", lowerCamel(class), n)
}

func lowerCamel(class string) string {
	if class == "" {
		return class
	}
	r := []rune(class)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] = r[0] - 'A' + 'a'
	}
	return string(r)
}

// Register records comp at path, failing if path is already taken.
func (t *ComponentTree) Register(path string, comp Lifecycle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byPath[path]; exists {
		return ferrors.New(ferrors.KindAlreadyBound, "component path %q already registered", path)
	}
	t.byPath[path] = comp
	return nil
}

// Unregister removes path from the tree, used when a reload retires a
// component.
func (t *ComponentTree) Unregister(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPath, path)
}

// Lookup returns the component registered at path, if any.
func (t *ComponentTree) Lookup(path string) (Lifecycle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byPath[path]
	return c, ok
}

// Descendants returns every currently registered component, for ordered
// start/stop sweeps by the owning manager.
func (t *ComponentTree) Descendants() []Lifecycle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Lifecycle, 0, len(t.byPath))
	for _, c := range t.byPath {
		out = append(out, c)
	}
	return out
}
