package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_AcceptsEveryKind(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{
			name: "request",
			raw:  `{"version":"0.1.0","kind":"request","id":"r1","method":"fileSystem/readFile","params":["main.go"]}`,
			kind: KindRequest,
		},
		{
			name: "request with numeric id",
			raw:  `{"version":"0.1.0","kind":"request","id":42,"method":"peer/join","params":[{"name":"Bob"}]}`,
			kind: KindRequest,
		},
		{
			name: "response",
			raw:  `{"version":"0.1.0","kind":"response","id":"r1","response":{"ok":true}}`,
			kind: KindResponse,
		},
		{
			name: "response-error",
			raw:  `{"version":"0.1.0","kind":"response-error","id":"r1","message":"denied"}`,
			kind: KindResponseError,
		},
		{
			name: "notification",
			raw:  `{"version":"0.1.0","kind":"notification","method":"editor/update","params":[]}`,
			kind: KindNotification,
		},
		{
			name: "broadcast without clientId",
			raw:  `{"version":"0.1.0","kind":"broadcast","method":"editor/presence","params":[{"line":3}]}`,
			kind: KindBroadcast,
		},
		{
			name: "error",
			raw:  `{"version":"0.1.0","kind":"error","message":"invalid room token"}`,
			kind: KindError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, env.Kind)
			assert.Equal(t, Version, env.Version)
		})
	}
}

func TestDecode_RejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"version":`},
		{"wrong version", `{"version":"9.9.9","kind":"error","message":"x"}`},
		{"missing version", `{"kind":"error","message":"x"}`},
		{"unknown kind", `{"version":"0.1.0","kind":"gossip","message":"x"}`},
		{"request without id", `{"version":"0.1.0","kind":"request","method":"m"}`},
		{"request without method", `{"version":"0.1.0","kind":"request","id":"r1"}`},
		{"request with boolean id", `{"version":"0.1.0","kind":"request","id":true,"method":"m"}`},
		{"response without id", `{"version":"0.1.0","kind":"response","response":{}}`},
		{"response-error without message", `{"version":"0.1.0","kind":"response-error","id":"r1"}`},
		{"notification without method", `{"version":"0.1.0","kind":"notification"}`},
		{"broadcast without method", `{"version":"0.1.0","kind":"broadcast","clientId":"p1"}`},
		{"error without message", `{"version":"0.1.0","kind":"error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchemaInvalid)
		})
	}
}

func TestID_StringAndNumberStayDistinct(t *testing.T) {
	str := StringID("7")
	num := NumberID(7)

	assert.Equal(t, "7", str.String())
	assert.Equal(t, "7", num.String())
	assert.False(t, str.Equal(num))
	assert.True(t, num.Equal(NumberID(7)))
}

func TestID_RoundTripsWireForm(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"string", `"req-009"`},
		{"integer", `42`},
		{"large integer", `9007199254740993`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tt.wire), &id))

			out, err := json.Marshal(id)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, string(out))
		})
	}
}

func TestEncode_StampsVersion(t *testing.T) {
	env := &Envelope{Kind: KindError, Message: "boom"}

	data, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"0.1.0","kind":"error","message":"boom"}`, string(data))

	// The caller's envelope is left alone.
	assert.Empty(t, env.Version)
}

func TestEncode_RequestShape(t *testing.T) {
	env := NewRequest(StringID("abc"), MethodPeerJoin, MustParams(JoinRequest{Name: "Bob"}))

	data, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"version":"0.1.0","kind":"request","id":"abc","method":"peer/join","params":[{"name":"Bob"}]}`,
		string(data))
}

func TestNewParams_MarshalsPositionally(t *testing.T) {
	ps, err := NewParams("main.go", 3, map[string]bool{"recursive": true})
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, `"main.go"`, string(ps[0]))
	assert.Equal(t, `3`, string(ps[1]))

	assert.Panics(t, func() { MustParams(make(chan int)) })
}

func TestValidate_RoundTripAfterConstructors(t *testing.T) {
	envs := []*Envelope{
		NewRequest(NumberID(1), "fileSystem/stat", MustParams(".")),
		NewResponse(StringID("a"), RawJSON(`{"size":12}`)),
		NewResponseError(StringID("a"), "not found"),
		NewNotification("editor/update", nil),
		NewBroadcast("editor/presence", MustParams(map[string]int{"line": 9})),
		NewError("invalid room token"),
	}

	for _, env := range envs {
		data, err := Encode(env)
		require.NoError(t, err)
		back, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, env.Kind, back.Kind)
	}
}
