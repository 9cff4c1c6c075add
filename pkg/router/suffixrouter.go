package router

import (
	"regexp"
	"sort"

	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/ferrors"
)

type compiledSuffix struct {
	pattern string
	regex   *regexp.Regexp // nil for the catch-all "*" pattern
	handler dispatch.RequestHandler
}

// SuffixRouter dispatches on the last path component's suffix: the most
// specific configured suffix (longest literal tail) wins, and the bare
// "*" pattern is the catch-all.
type SuffixRouter struct {
	suffixes          []compiledSuffix // longest literal suffix first
	catchAll          *compiledSuffix
	handleFiles       bool
	handleDirectories bool
}

// NewSuffixRouter compiles the suffix -> handler mapping. Each suffix
// begins with "*" (e.g. "*.tar.gz") or is exactly "*". At least one of
// handleFiles/handleDirectories must be true.
func NewSuffixRouter(routes map[string]dispatch.RequestHandler, handleFiles, handleDirectories bool) (*SuffixRouter, error) {
	if !handleFiles && !handleDirectories {
		return nil, ferrors.New(ferrors.KindConfig, "SuffixRouter: at least one of handleFiles/handleDirectories must be true")
	}
	sr := &SuffixRouter{handleFiles: handleFiles, handleDirectories: handleDirectories}
	for pattern, handler := range routes {
		if pattern == "*" {
			sr.catchAll = &compiledSuffix{pattern: pattern, handler: handler}
			continue
		}
		if len(pattern) == 0 || pattern[0] != '*' {
			return nil, ferrors.New(ferrors.KindConfig, "SuffixRouter: suffix %q must start with '*' or be exactly '*'", pattern)
		}
		suffix := pattern[1:]
		// Require at least one character before the matched suffix so a
		// name that is nothing but the suffix itself never matches —
		// the "must not be at string start" guard from spec.md §4.5.
		re, err := regexp.Compile(".+" + regexp.QuoteMeta(suffix) + "$")
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindConfig, err, "compiling suffix pattern %q", pattern)
		}
		sr.suffixes = append(sr.suffixes, compiledSuffix{pattern: pattern, regex: re, handler: handler})
	}
	sort.Slice(sr.suffixes, func(i, j int) bool {
		return len(sr.suffixes[i].pattern) > len(sr.suffixes[j].pattern)
	})
	return sr, nil
}

// HandleRequest implements dispatch.RequestHandler.
func (sr *SuffixRouter) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	comps := d.Extra.Components()
	isDirectory := len(comps) > 0 && comps[len(comps)-1] == ""
	if isDirectory && !sr.handleDirectories {
		return dispatch.NotHandled, nil
	}
	if !isDirectory && !sr.handleFiles {
		return dispatch.NotHandled, nil
	}

	var lastName string
	if isDirectory && len(comps) >= 2 {
		lastName = comps[len(comps)-2]
	} else if !isDirectory && len(comps) >= 1 {
		lastName = comps[len(comps)-1]
	}

	for _, cs := range sr.suffixes {
		if cs.regex.MatchString(lastName) {
			return cs.handler.HandleRequest(req, d)
		}
	}
	if sr.catchAll != nil {
		return sr.catchAll.handler.HandleRequest(req, d)
	}
	return dispatch.NotHandled, nil
}
