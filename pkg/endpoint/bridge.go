package endpoint

import (
	"net/http"
	"time"

	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/ferrors"
	"github.com/cuemby/frontdoor/pkg/frontmetrics"
)

// httpHandler adapts the configured Application (a dispatch.RequestHandler)
// into a net/http.Handler, the boundary where spec.md §4.5's
// "Throw — fatal; the endpoint translates to a 5xx and logs" and §4.6's
// "a panic in a handler is captured, logged, and answered with a 500
// (or 503 if the component is stopping)" are enforced.
func (e *NetworkEndpoint) httpHandler() http.Handler {
	guarded := dispatch.Guard(e.deps.Application)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		protocol := "http-1.1"
		if r.ProtoMajor == 2 {
			protocol = "http-2"
		}
		req := dispatch.NewRequest(r, protocol, r.RemoteAddr)
		stampProxyHeaders(req, r)

		status, contentLength := e.dispatchOne(w, r, req, guarded)

		frontmetrics.RequestsTotal.WithLabelValues(e.Name(), http.StatusText(status)).Inc()
		frontmetrics.RequestDuration.WithLabelValues(e.Name()).Observe(time.Since(start).Seconds())
		if e.deps.AccessLog != nil {
			e.deps.AccessLog(AccessLogEntry{
				Timestamp:     start,
				Origin:        r.RemoteAddr,
				Protocol:      protocol,
				Method:        req.Method,
				URL:           r.URL.String(),
				Status:        status,
				ContentLength: contentLength,
				Duration:      time.Since(start),
			})
		}
	})
}

func (e *NetworkEndpoint) dispatchOne(w http.ResponseWriter, r *http.Request, req *dispatch.Request, handler dispatch.RequestHandler) (status int, contentLength int64) {
	defer func() {
		if rec := recover(); rec != nil {
			status = 500
			if e.isShuttingDown() {
				status = 503
			}
			e.Logger().Error().Interface("panic", rec).Str("request_id", req.RequestID).Msg("handler panicked")
			w.WriteHeader(status)
		}
	}()

	d := dispatch.NewDispatch(req.Pathname)
	result, err := handler.HandleRequest(req, d)
	if err != nil {
		status = ferrors.HTTPStatus(ferrors.KindOf(err))
		if ferrors.KindOf(err) == ferrors.KindRateLimited {
			status = 429
		}
		e.Logger().Error().Str("request_id", req.RequestID).Err(err).Msg("handler error")
		w.WriteHeader(status)
		return status, 0
	}

	switch result.Kind {
	case dispatch.ResultNotHandled:
		w.WriteHeader(http.StatusNotFound)
		return http.StatusNotFound, 0
	case dispatch.ResultHandledDefault:
		w.WriteHeader(http.StatusOK)
		return http.StatusOK, 0
	case dispatch.ResultFullResponse:
		return e.writeFullResponse(w, result.Response)
	default:
		w.WriteHeader(http.StatusInternalServerError)
		return http.StatusInternalServerError, 0
	}
}

func (e *NetworkEndpoint) writeFullResponse(w http.ResponseWriter, resp *dispatch.FullResponse) (status int, contentLength int64) {
	resp.ApplyHeaderOps()
	header := w.Header()
	for k, vs := range resp.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if resp.CacheControl != "" {
		header.Set("Cache-Control", resp.CacheControl)
	}
	status = resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	switch {
	case resp.Stream != nil:
		if err := resp.Stream(w); err != nil {
			e.Logger().Warn().Err(err).Msg("stream write failed")
		}
	case resp.Body != nil:
		n, err := w.Write(resp.Body)
		contentLength = int64(n)
		if err != nil {
			e.Logger().Warn().Err(err).Msg("body write failed")
		}
	}
	return status, contentLength
}

// stampProxyHeaders adds X-Forwarded-* headers to the outgoing
// request's view before dispatch, the supplemented proxy-headers
// feature grounded on the teacher's Middleware.AddProxyHeaders.
func stampProxyHeaders(req *dispatch.Request, r *http.Request) {
	r.Header.Set("X-Forwarded-For", clientIP(r))
	r.Header.Set("X-Real-IP", clientIP(r))
	if r.TLS != nil {
		r.Header.Set("X-Forwarded-Proto", "https")
	} else {
		r.Header.Set("X-Forwarded-Proto", "http")
	}
	if req.HostName != "" {
		r.Header.Set("X-Forwarded-Host", req.HostName)
	}
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := lastColon(host); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
