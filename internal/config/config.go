// Package config implements spec.md §6/SPEC_FULL.md §2.3's on-disk
// configuration format: a YAML document with hosts[]/services[]/
// applications[]/endpoints[] stanzas, each carrying at minimum a name and
// a class, decoded into the warehouse.Config the top-level system
// consumes. Grounded on the teacher's config-file loading convention in
// cmd/warren/main.go (a single struct decoded with gopkg.in/yaml.v3,
// validated before use), generalized from a fixed top-level struct to
// per-class registry-driven decoding.
package config

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/cuemby/frontdoor/pkg/application"
	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/endpoint"
	"github.com/cuemby/frontdoor/pkg/ferrors"
	"github.com/cuemby/frontdoor/pkg/frontlog"
	"github.com/cuemby/frontdoor/pkg/hostmanager"
	"github.com/cuemby/frontdoor/pkg/service"
	"github.com/cuemby/frontdoor/pkg/warehouse"
	"gopkg.in/yaml.v3"
)

// namePattern is spec.md §6's component-name grammar.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

type rawLogging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type rawDocument struct {
	Logging      rawLogging       `yaml:"logging"`
	Hosts        []map[string]any `yaml:"hosts"`
	Services     []map[string]any `yaml:"services"`
	Applications []map[string]any `yaml:"applications"`
	Endpoints    []map[string]any `yaml:"endpoints"`
}

// Document is a fully parsed and validated configuration file.
type Document struct {
	Logging   frontlog.Config
	Warehouse warehouse.Config
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindIOError, err, "reading configuration file %q", path)
	}
	return Parse(raw)
}

// Parse validates and converts a YAML configuration document into a
// Document. Unknown top-level stanza keys are not rejected here; each
// component's own decode closure enforces spec.md's strict-unknown-key
// rule once it is resolved to its concrete class.
func Parse(raw []byte) (*Document, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, ferrors.Wrap(ferrors.KindConfig, err, "parsing configuration")
	}

	hosts, err := parseHosts(doc.Hosts)
	if err != nil {
		return nil, err
	}

	// anonNames is a throwaway tree used only for its per-class counter:
	// spec.md's "anonymous children receive synthesized names of the
	// form <lowerCamelClass><n>" applies across the whole document, not
	// per stanza, so every parseStanzas call below shares it.
	anonNames := component.NewComponentTree(component.NewRegistry())
	anonName := anonNames.AnonymousName

	services, err := parseStanzas("services", doc.Services, anonName)
	if err != nil {
		return nil, err
	}
	applications, err := parseStanzas("applications", doc.Applications, anonName)
	if err != nil {
		return nil, err
	}
	endpoints, err := parseStanzas("endpoints", doc.Endpoints, anonName)
	if err != nil {
		return nil, err
	}

	level := frontlog.InfoLevel
	if doc.Logging.Level != "" {
		level = frontlog.Level(doc.Logging.Level)
	}

	return &Document{
		Logging: frontlog.Config{Level: level, JSONOutput: doc.Logging.JSON},
		Warehouse: warehouse.Config{
			Hosts:        hosts,
			Services:     services,
			Applications: applications,
			Endpoints:    endpoints,
		},
	}, nil
}

// parseStanzas extracts name/class and validates each element of one of
// the services/applications/endpoints sections, returning the remaining
// keys as the warehouse.Spec's Raw configuration. An element with no
// "name" key gets one synthesized by anonName, scoped per class, per
// spec.md §4.3.
func parseStanzas(kind string, items []map[string]any, anonName func(class string) string) ([]warehouse.Spec, error) {
	seen := make(map[string]bool, len(items))
	out := make([]warehouse.Spec, 0, len(items))
	for i, item := range items {
		class, ok := item["class"].(string)
		if !ok || class == "" {
			return nil, ferrors.New(ferrors.KindConfig, "%s[%d]: missing required key \"class\"", kind, i)
		}

		name, _ := item["name"].(string)
		if name == "" {
			name = anonName(class)
		} else if !namePattern.MatchString(name) {
			return nil, ferrors.New(ferrors.KindConfig, "%s[%d]: name %q does not match %s", kind, i, name, namePattern.String())
		}
		if seen[name] {
			return nil, ferrors.New(ferrors.KindConfig, "%s: duplicate name %q", kind, name)
		}
		seen[name] = true

		rawCfg := make(map[string]any, len(item))
		for k, v := range item {
			if k == "name" || k == "class" {
				continue
			}
			rawCfg[k] = v
		}
		out = append(out, warehouse.Spec{Class: class, Name: name, Raw: rawCfg})
	}
	return out, nil
}

// parseHosts converts the hosts[] stanza into hostmanager.HostItem values,
// reading certificate and key material from the files each entry names.
func parseHosts(items []map[string]any) ([]hostmanager.HostItem, error) {
	seen := make(map[string]bool, len(items))
	out := make([]hostmanager.HostItem, 0, len(items))
	for i, item := range items {
		name, _ := item["name"].(string)
		if name == "" {
			return nil, ferrors.New(ferrors.KindConfig, "hosts[%d]: missing required key \"name\"", i)
		}
		if !namePattern.MatchString(name) {
			return nil, ferrors.New(ferrors.KindConfig, "hosts[%d]: name %q does not match %s", i, name, namePattern.String())
		}
		if seen[name] {
			return nil, ferrors.New(ferrors.KindConfig, "hosts: duplicate name %q", name)
		}
		seen[name] = true

		rawNames, ok := item["names"].([]any)
		if !ok || len(rawNames) == 0 {
			return nil, ferrors.New(ferrors.KindConfig, "hosts[%d] %q: missing required key \"names\"", i, name)
		}
		names := make([]string, 0, len(rawNames))
		for _, n := range rawNames {
			s, ok := n.(string)
			if !ok {
				return nil, ferrors.New(ferrors.KindConfig, "hosts[%d] %q: names entries must be strings", i, name)
			}
			names = append(names, s)
		}

		certFile, _ := item["certificateFile"].(string)
		keyFile, _ := item["privateKeyFile"].(string)
		if certFile == "" || keyFile == "" {
			return nil, ferrors.New(ferrors.KindConfig, "hosts[%d] %q: certificateFile and privateKeyFile are required", i, name)
		}
		certPEM, err := os.ReadFile(certFile)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindIOError, err, "hosts[%d] %q: reading certificateFile", i, name)
		}
		keyPEM, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindIOError, err, "hosts[%d] %q: reading privateKeyFile", i, name)
		}

		out = append(out, hostmanager.HostItem{
			Names:          names,
			CertificatePEM: certPEM,
			PrivateKeyPEM:  keyPEM,
		})
	}
	return out, nil
}

// accessLogServiceConfig bundles AccessLogService's typed config with the
// outputFile key that picks its io.Writer, since NewAccessLogService
// takes that writer as a separate constructor argument.
type accessLogServiceConfig struct {
	service.AccessLogConfig
	OutputFile string
}

func decodeAccessLogServiceConfig(raw map[string]any) (any, error) {
	cfg := accessLogServiceConfig{}
	if v, ok := raw["maxURLLength"]; ok && v != nil {
		n, ok := v.(int)
		if !ok {
			return nil, ferrors.New(ferrors.KindConfig, "key \"maxURLLength\" must be an integer")
		}
		cfg.MaxURLLength = n
	}
	if v, ok := raw["outputFile"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, ferrors.New(ferrors.KindConfig, "key \"outputFile\" must be a string")
		}
		cfg.OutputFile = s
	}
	for k := range raw {
		if k != "maxURLLength" && k != "outputFile" {
			return nil, ferrors.New(ferrors.KindConfig, "unknown configuration key %q", k)
		}
	}
	return cfg, nil
}

func decodeViaStrict[T any](raw map[string]any) (any, error) {
	var cfg T
	if err := component.DecodeStrict(raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegisterClasses binds every built-in service and application class
// (AccessLogService, RateLimitService, ProcessInfoService, and the
// pkg/application router/gate classes) into registry, resolving
// application sibling references against tree.
func RegisterClasses(registry *component.Registry, tree *component.ComponentTree) {
	registry.Register("RateLimitService",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			return service.NewRateLimitService(ctx, name, cfg.(service.RateLimitConfig)), nil
		}, nil, decodeViaStrict[service.RateLimitConfig])

	registry.Register("ProcessInfoService",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			return service.NewProcessInfoService(ctx, name, cfg.(service.ProcessInfoConfig)), nil
		}, nil, decodeViaStrict[service.ProcessInfoConfig])

	registry.Register("AccessLogService",
		func(ctx *component.ControlContext, name string, cfg any) (component.Lifecycle, error) {
			c := cfg.(accessLogServiceConfig)
			var w io.Writer = os.Stdout
			if c.OutputFile != "" {
				f, err := os.OpenFile(c.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return nil, ferrors.Wrap(ferrors.KindIOError, err, "opening access log output file %q", c.OutputFile)
				}
				w = f
			}
			return service.NewAccessLogService(ctx, name, c.AccessLogConfig, w), nil
		}, nil, decodeAccessLogServiceConfig)

	application.RegisterClasses(registry, tree)
}

// EndpointDeps builds the warehouse.endpointDeps callback: it always
// attaches hostManager (NetworkEndpoint only consults it for https/http2),
// and resolves an endpoint's optional rateLimiterRef/accessLogRef strings
// against the live services being built alongside it.
func EndpointDeps(hostManager *hostmanager.HostManager) func(app warehouse.ApplicationComponent, spec warehouse.Spec, services warehouse.ServiceLookup) (endpoint.Deps, error) {
	return func(app warehouse.ApplicationComponent, spec warehouse.Spec, services warehouse.ServiceLookup) (endpoint.Deps, error) {
		deps := endpoint.Deps{Application: app, HostManager: hostManager}

		if ref, ok := spec.Raw["rateLimiterRef"].(string); ok && ref != "" {
			lc, found := services(ref)
			if !found {
				return endpoint.Deps{}, ferrors.New(ferrors.KindConfig, "endpoint %q references unknown rate limiter %q", spec.Name, ref)
			}
			rl, ok := lc.(*service.RateLimitService)
			if !ok {
				return endpoint.Deps{}, ferrors.New(ferrors.KindConfig, "endpoint %q: %q is not a rate limiter service", spec.Name, ref)
			}
			deps.RateLimiter = rl.Bucket()
		}

		if ref, ok := spec.Raw["accessLogRef"].(string); ok && ref != "" {
			lc, found := services(ref)
			if !found {
				return endpoint.Deps{}, ferrors.New(ferrors.KindConfig, "endpoint %q references unknown access log %q", spec.Name, ref)
			}
			al, ok := lc.(*service.AccessLogService)
			if !ok {
				return endpoint.Deps{}, ferrors.New(ferrors.KindConfig, "endpoint %q: %q is not an access log service", spec.Name, ref)
			}
			deps.AccessLog = al.Log
		}

		return deps, nil
	}
}

// ValidationError formats a config error for CLI --check output.
func ValidationError(err error) string {
	return fmt.Sprintf("configuration invalid: %v", err)
}
