package router

import (
	"testing"

	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/pathkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingHandler(name string, calls *[]string, result dispatch.Result) dispatch.RequestHandler {
	return dispatch.HandlerFunc(func(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
		*calls = append(*calls, name)
		return result, nil
	})
}

// TestS1PathRouterWildcardAtRoot implements spec scenario S1.
func TestS1PathRouterWildcardAtRoot(t *testing.T) {
	var calls []string
	routes := map[string]dispatch.RequestHandler{
		"/*":    recordingHandler("A", &calls, dispatch.NotHandled),
		"/":     recordingHandler("B", &calls, dispatch.NotHandled),
		"/x/*":  recordingHandler("C", &calls, dispatch.NotHandled),
		"/x":    recordingHandler("D", &calls, dispatch.NotHandled),
		"/x/":   recordingHandler("E", &calls, dispatch.NotHandled),
		"/x/y":  recordingHandler("F", &calls, dispatch.NotHandled),
	}
	pr, err := NewPathRouter(routes)
	require.NoError(t, err)

	run := func(spec string) []string {
		calls = nil
		_, err := pr.HandleRequest(&dispatch.Request{}, dispatch.Dispatch{Base: pathkey.Empty, Extra: pathkey.ParsePathSpec(spec)})
		require.NoError(t, err)
		return append([]string{}, calls...)
	}

	assert.Equal(t, []string{"B", "A"}, run("/"))
	assert.Equal(t, []string{"E", "C", "A"}, run("/x/"))
	assert.Equal(t, []string{"D", "C", "A"}, run("/x"))
	assert.Equal(t, []string{"F", "C", "A"}, run("/x/y"))
}

func TestS1StopsAtFirstHandledResult(t *testing.T) {
	var calls []string
	routes := map[string]dispatch.RequestHandler{
		"/*": recordingHandler("A", &calls, dispatch.NotHandled),
		"/":  recordingHandler("B", &calls, dispatch.HandledDefault),
	}
	pr, err := NewPathRouter(routes)
	require.NoError(t, err)

	res, err := pr.HandleRequest(&dispatch.Request{}, dispatch.Dispatch{Base: pathkey.Empty, Extra: pathkey.ParsePathSpec("/")})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, calls)
	assert.Equal(t, dispatch.ResultHandledDefault, res.Kind)
}

// TestS2DispatchShifting implements spec scenario S2.
func TestS2DispatchShifting(t *testing.T) {
	var seenBase, seenExtra pathkey.PathKey
	handler := dispatch.HandlerFunc(func(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
		seenBase = d.Base
		seenExtra = d.Extra
		return dispatch.NotHandled, nil
	})
	pr, err := NewPathRouter(map[string]dispatch.RequestHandler{"/zonk/*": handler})
	require.NoError(t, err)

	initial := dispatch.Dispatch{
		Base:  pathkey.New("beep"),
		Extra: pathkey.New("zonk", "zorch", "florp"),
	}
	_, err = pr.HandleRequest(&dispatch.Request{}, initial)
	require.NoError(t, err)

	assert.Equal(t, []string{"beep", "zonk"}, seenBase.Components())
	assert.Equal(t, []string{"zorch", "florp"}, seenExtra.Components())
}
