package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidRequest(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{}}}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, "message/send", req.Method)
	assert.Equal(t, float64(1), req.ID)
	assert.False(t, req.IsNotification())
}

func TestDecodeParseError(t *testing.T) {
	_, rpcErr := Decode([]byte(`{"jsonrpc":`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeParseError, rpcErr.Code)
}

func TestDecodeInvalidRequest(t *testing.T) {
	_, rpcErr := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"x"}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidRequest, rpcErr.Code)

	_, rpcErr = Decode([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidRequest, rpcErr.Code)
}

func TestNotificationHasNoID(t *testing.T) {
	req, rpcErr := Decode([]byte(`{"jsonrpc":"2.0","method":"notify"}`))
	require.Nil(t, rpcErr)
	assert.True(t, req.IsNotification())
}

func TestErrorResponses(t *testing.T) {
	resp := NewErrorResponse(7, CodeMethodNotFound, "method not found")
	assert.Equal(t, Version, resp.JSONRPC)
	assert.Equal(t, 7, resp.ID)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	ok := NewResponse("abc", map[string]any{"k": "v"})
	assert.Nil(t, ok.Error)
	assert.NotNil(t, ok.Result)
}
