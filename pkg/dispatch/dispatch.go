// Package dispatch defines the Request/Dispatch/Response value types and
// the RequestHandler contract every application and router implements.
// Grounded on the teacher's http.HandlerFunc-based proxy handler in
// pkg/ingress/proxy.go, generalized from a single net/http.Handler
// signature to spec.md's `{null|true|false|FullResponse}` result shape
// so a router can distinguish "not handled, try the next one" from
// "handled, stop".
package dispatch

import (
	"net/http"
	"strings"

	"github.com/cuemby/frontdoor/pkg/pathkey"
	"github.com/google/uuid"
)

// Request is immutable after construction; it is the value threaded
// through the routing tree for the lifetime of one HTTP request.
type Request struct {
	Method      string
	HostName    string
	HostPort    string
	Origin      string
	Pathname    pathkey.PathKey
	RawSearch   string
	Protocol    string
	RequestID   string
	Cookies     map[string]string
	headers     http.Header
}

// NewRequest constructs a Request from a parsed net/http.Request,
// performing method lowercasing and host/port splitting. protocol is
// "http-1.1" or "http-2" per spec.md's naming.
func NewRequest(r *http.Request, protocol, remoteAddr string) *Request {
	host, port := splitHostPort(r.Host)
	return &Request{
		Method:    strings.ToLower(r.Method),
		HostName:  host,
		HostPort:  port,
		Origin:    remoteAddr,
		Pathname:  pathkey.ParsePathSpec(r.URL.Path),
		RawSearch: r.URL.RawQuery,
		Protocol:  protocol,
		RequestID: uuid.NewString(),
		Cookies:   parseCookies(r),
		headers:   r.Header,
	}
}

func splitHostPort(hostHeader string) (host, port string) {
	idx := strings.LastIndex(hostHeader, ":")
	if idx < 0 {
		return hostHeader, ""
	}
	// Guard against bare IPv6 literals like "[::1]" which contain ':'
	// but no port suffix.
	if strings.Contains(hostHeader[idx:], "]") {
		return hostHeader, ""
	}
	return hostHeader[:idx], hostHeader[idx+1:]
}

func parseCookies(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		out[c.Name] = c.Value
	}
	return out
}

// Header performs a case-insensitive header lookup, matching spec.md's
// "case-preserving but case-insensitive lookup" requirement.
func (r *Request) Header(name string) string {
	return r.headers.Get(name)
}

// Dispatch is the (base, extra) PathKey pair threaded alongside a
// Request as it descends through routers. base never carries a
// wildcard; extra never carries a wildcard; base++extra reconstructs
// the original pathname.
type Dispatch struct {
	Base  pathkey.PathKey
	Extra pathkey.PathKey
}

// NewDispatch builds the initial Dispatch for a fresh Request: an empty
// base and the full pathname as extra.
func NewDispatch(pathname pathkey.PathKey) Dispatch {
	return Dispatch{Base: pathkey.Empty, Extra: pathname}
}

// Shift returns a new Dispatch with matched shifted from Extra onto
// Base, matching the router contract in spec.md §4.5:
// sub.base = dispatch.base ++ matchedKey; sub.extra = remainder.
func (d Dispatch) Shift(matched, remainder pathkey.PathKey) Dispatch {
	return Dispatch{
		Base:  pathkey.ConcatKey(d.Base, matched.WithWildcard(false)),
		Extra: remainder,
	}
}

// ResultKind distinguishes the four possible RequestHandler outcomes.
type ResultKind int

const (
	// ResultNotHandled corresponds to both spec.md's `null` and `false`
	// outcomes: the caller may try the next candidate.
	ResultNotHandled ResultKind = iota
	// ResultHandledDefault corresponds to spec.md's `true`: fully
	// handled, use a synthesized default response.
	ResultHandledDefault
	// ResultFullResponse carries an explicit FullResponse.
	ResultFullResponse
)

// HeaderOp is a single header mutation applied to a FullResponse before
// it is serialized, the supplemented "header manipulation hook".
type HeaderOp struct {
	Op    HeaderOpKind
	Name  string
	Value string
}

// HeaderOpKind enumerates the supported header mutations.
type HeaderOpKind int

const (
	HeaderAdd HeaderOpKind = iota
	HeaderSet
	HeaderRemove
)

// FullResponse is an explicit response value. Invariant: when Body is
// nil and StatusCode permits no body (1xx, 204, 304), Stream must also
// be nil; when a body is present, Stream and Body are mutually
// exclusive.
type FullResponse struct {
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Stream       func(w http.ResponseWriter) error
	CacheControl string
	HeaderOps    []HeaderOp
}

// ApplyHeaderOps mutates r.Headers in place per r.HeaderOps, the
// supplemented header-manipulation hook grounded on the teacher's
// Middleware.ApplyHeaderManipulation.
func (r *FullResponse) ApplyHeaderOps() {
	if r.Headers == nil {
		r.Headers = make(http.Header)
	}
	for _, op := range r.HeaderOps {
		switch op.Op {
		case HeaderAdd:
			r.Headers.Add(op.Name, op.Value)
		case HeaderSet:
			r.Headers.Set(op.Name, op.Value)
		case HeaderRemove:
			r.Headers.Del(op.Name)
		}
	}
}

// Result is the value a RequestHandler returns.
type Result struct {
	Kind     ResultKind
	Response *FullResponse
}

// NotHandled is the shared "try the next candidate" result.
var NotHandled = Result{Kind: ResultNotHandled}

// HandledDefault is the shared "handled, synthesize a default response"
// result.
var HandledDefault = Result{Kind: ResultHandledDefault}

// HandledWith wraps an explicit FullResponse as a Result.
func HandledWith(resp *FullResponse) Result {
	return Result{Kind: ResultFullResponse, Response: resp}
}

// RequestHandler is satisfied by every application and router.
type RequestHandler interface {
	HandleRequest(req *Request, d Dispatch) (Result, error)
}

// HandlerFunc adapts a plain function to RequestHandler.
type HandlerFunc func(req *Request, d Dispatch) (Result, error)

// HandleRequest implements RequestHandler.
func (f HandlerFunc) HandleRequest(req *Request, d Dispatch) (Result, error) {
	return f(req, d)
}

// Guard wraps a RequestHandler so that a malformed Result (a ResultKind
// outside the three defined values, or a ResultFullResponse with a nil
// Response) is turned into a protocol error rather than silently treated
// as NotHandled — the base-class wrapper spec.md §4.5 calls for. A
// zero-value Result is ResultNotHandled and passes through unchanged.
func Guard(h RequestHandler) RequestHandler {
	return HandlerFunc(func(req *Request, d Dispatch) (Result, error) {
		res, err := h.HandleRequest(req, d)
		if err != nil {
			return res, err
		}
		switch res.Kind {
		case ResultNotHandled, ResultHandledDefault:
			return res, nil
		case ResultFullResponse:
			if res.Response == nil {
				return Result{}, protocolViolation("handler returned ResultFullResponse with nil Response")
			}
			return res, nil
		default:
			return Result{}, protocolViolation("handler returned an undefined result kind")
		}
	})
}
