// Package router implements the three router applications from spec.md
// §4.5: PathRouter (longest-prefix + wildcard fallback over PathMap),
// SuffixRouter (longest-suffix regex), and SerialRouter (ordered
// try-each chain). Grounded on the teacher's pkg/ingress/router.go host
// + path matching, generalized from a flat ingress-rule list to the
// PathMap-backed fallback chain spec.md requires.
package router

import (
	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/pathkey"
	"github.com/cuemby/frontdoor/pkg/pathmap"
)

// PathRouter dispatches by longest-prefix-plus-wildcard-fallback lookup
// on dispatch.Extra, trying each matching handler in specificity order
// until one returns non-NotHandled.
type PathRouter struct {
	routes *pathmap.PathMap[dispatch.RequestHandler]
}

// NewPathRouter builds a PathRouter from a pathSpec -> handler mapping,
// parsing each spec with pathkey.ParsePathSpec at construction time (the
// "router resolves names into handlers and builds a PathMap" step from
// spec.md §4.5).
func NewPathRouter(routes map[string]dispatch.RequestHandler) (*PathRouter, error) {
	m := pathmap.New[dispatch.RequestHandler]()
	for spec, handler := range routes {
		key := pathkey.ParsePathSpec(spec)
		if err := m.Add(key, handler); err != nil {
			return nil, err
		}
	}
	return &PathRouter{routes: m}, nil
}

// HandleRequest implements dispatch.RequestHandler.
func (p *PathRouter) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	for _, candidate := range p.routes.FindWithFallback(d.Extra) {
		sub := d.Shift(candidate.MatchedKey, candidate.Remainder)
		res, err := candidate.Value.HandleRequest(req, sub)
		if err != nil {
			return res, err
		}
		if res.Kind != dispatch.ResultNotHandled {
			return res, nil
		}
	}
	return dispatch.NotHandled, nil
}
