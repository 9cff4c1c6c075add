package router

import "github.com/cuemby/frontdoor/pkg/dispatch"

// SerialRouter tries each handler in configured order until one returns
// a non-NotHandled result, used to compose middleware-like chains (e.g.
// rate-limit -> real handler).
type SerialRouter struct {
	chain []dispatch.RequestHandler
}

// NewSerialRouter builds a SerialRouter trying handlers in the given
// order.
func NewSerialRouter(handlers ...dispatch.RequestHandler) *SerialRouter {
	return &SerialRouter{chain: handlers}
}

// HandleRequest implements dispatch.RequestHandler.
func (sr *SerialRouter) HandleRequest(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
	for _, h := range sr.chain {
		res, err := h.HandleRequest(req, d)
		if err != nil {
			return res, err
		}
		if res.Kind != dispatch.ResultNotHandled {
			return res, nil
		}
	}
	return dispatch.NotHandled, nil
}
