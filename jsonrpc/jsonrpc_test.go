package jsonrpc_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/arcrun/mcprt/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"foo":"bar"}}`)
	msg := jsonrpc.Decode(data)
	require.Equal(t, jsonrpc.KindRequest, msg.Kind)
	assert.Equal(t, "initialize", msg.Method)
	assert.Equal(t, "1", msg.ID.String())
	assert.JSONEq(t, `{"foo":"bar"}`, string(msg.Params))
}

func TestDecodeNotification(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	msg := jsonrpc.Decode(data)
	require.Equal(t, jsonrpc.KindNotification, msg.Kind)
	assert.True(t, msg.ID.IsZero())
}

func TestDecodeParseError(t *testing.T) {
	msg := jsonrpc.Decode([]byte(`{not json`))
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	require.NotNil(t, msg.RPCErr)
	assert.Equal(t, jsonrpc.ParseError, msg.RPCErr.Code)
	assert.True(t, msg.ID.IsZero())
}

func TestDecodeInvalidRequestMissingShape(t *testing.T) {
	msg := jsonrpc.Decode([]byte(`{"jsonrpc":"2.0"}`))
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	assert.Equal(t, jsonrpc.InvalidRequest, msg.RPCErr.Code)
}

func TestDecodeBatch(t *testing.T) {
	data := []byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"notifications/b"}]`)
	msgs := jsonrpc.DecodeBatch(data)
	require.Len(t, msgs, 2)
	assert.Equal(t, jsonrpc.KindRequest, msgs[0].Kind)
	assert.Equal(t, jsonrpc.KindNotification, msgs[1].Kind)
}

func TestEncodeResultRoundTrip(t *testing.T) {
	id := jsonrpc.NewNumberID(42)
	data, err := jsonrpc.EncodeResult(id, map[string]string{"ok": "yes"})
	require.NoError(t, err)

	msg := jsonrpc.Decode(data)
	require.Equal(t, jsonrpc.KindResponse, msg.Kind)
	assert.Equal(t, "42", msg.ID.String())

	var result map[string]string
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	if diff := cmp.Diff(map[string]string{"ok": "yes"}, result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBatchPreservesOrderAndShape(t *testing.T) {
	data := []byte(`[{"jsonrpc":"2.0","id":1,"method":"a","params":{"x":1}},{"jsonrpc":"2.0","method":"notifications/b","params":{"y":2}}]`)
	msgs := jsonrpc.DecodeBatch(data)
	require.Len(t, msgs, 2)

	type shape struct {
		Kind   jsonrpc.Kind
		Method string
		Params map[string]int
	}
	got := make([]shape, len(msgs))
	for i, msg := range msgs {
		var params map[string]int
		require.NoError(t, json.Unmarshal(msg.Params, &params))
		got[i] = shape{Kind: msg.Kind, Method: msg.Method, Params: params}
	}
	want := []shape{
		{Kind: jsonrpc.KindRequest, Method: "a", Params: map[string]int{"x": 1}},
		{Kind: jsonrpc.KindNotification, Method: "notifications/b", Params: map[string]int{"y": 2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batch shape mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeErrorRoundTrip(t *testing.T) {
	id := jsonrpc.NewStringID("req-1")
	data, err := jsonrpc.EncodeError(id, jsonrpc.NewError(jsonrpc.MethodNotFound, "no such method", nil))
	require.NoError(t, err)

	msg := jsonrpc.Decode(data)
	require.Equal(t, jsonrpc.KindError, msg.Kind)
	assert.Equal(t, "req-1", msg.ID.String())
	assert.Equal(t, jsonrpc.MethodNotFound, msg.RPCErr.Code)
}

func TestEncodeNotificationRoundTrip(t *testing.T) {
	data, err := jsonrpc.EncodeNotification("notifications/progress", map[string]int{"pct": 50})
	require.NoError(t, err)
	msg := jsonrpc.Decode(data)
	require.Equal(t, jsonrpc.KindNotification, msg.Kind)
	assert.Equal(t, "notifications/progress", msg.Method)
}

func TestIDZeroValueMarshalsNull(t *testing.T) {
	var id jsonrpc.ID
	b, err := id.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
	assert.True(t, id.IsZero())
}
