package router

import (
	"testing"

	"github.com/cuemby/frontdoor/pkg/dispatch"
	"github.com/cuemby/frontdoor/pkg/pathkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handlerNamed(name string) dispatch.RequestHandler {
	return dispatch.HandlerFunc(func(req *dispatch.Request, d dispatch.Dispatch) (dispatch.Result, error) {
		return dispatch.HandledWith(&dispatch.FullResponse{StatusCode: 200, Body: []byte(name)}), nil
	})
}

// TestS3SuffixRouter implements spec scenario S3.
func TestS3SuffixRouter(t *testing.T) {
	sr, err := NewSuffixRouter(map[string]dispatch.RequestHandler{
		"*.tar.gz": handlerNamed("T"),
		"*.gz":     handlerNamed("G"),
		"*":        handlerNamed("X"),
	}, true, false)
	require.NoError(t, err)

	call := func(spec string) (dispatch.Result, error) {
		key := pathkey.ParsePathSpec(spec)
		return sr.HandleRequest(&dispatch.Request{}, dispatch.Dispatch{Base: pathkey.Empty, Extra: key})
	}

	res, err := call("/a/b/c.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "T", string(res.Response.Body))

	res, err = call("/a/b/c.gz")
	require.NoError(t, err)
	assert.Equal(t, "G", string(res.Response.Body))

	res, err = call("/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "X", string(res.Response.Body))

	res, err = call("/a/b/")
	require.NoError(t, err)
	assert.Equal(t, dispatch.ResultNotHandled, res.Kind)
}

func TestNewSuffixRouterRejectsNeitherFilesNorDirectories(t *testing.T) {
	_, err := NewSuffixRouter(map[string]dispatch.RequestHandler{"*": handlerNamed("X")}, false, false)
	require.Error(t, err)
}

func TestNewSuffixRouterRejectsBadPattern(t *testing.T) {
	_, err := NewSuffixRouter(map[string]dispatch.RequestHandler{"tar.gz": handlerNamed("T")}, true, false)
	require.Error(t, err)
}
