package peer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/v1/channel"
	"github.com/atelierhq/atelier/internal/v1/credentials"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/relay"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// fakeMember stands in for another room member: it records envelopes and
// can answer forwarded requests inline.
type fakeMember struct {
	id     types.PeerID
	onSend func(env *protocol.Envelope)

	mu   sync.Mutex
	sent []*protocol.Envelope
}

func newFakeMember(id string) *fakeMember {
	return &fakeMember{id: types.PeerID(id)}
}

func (f *fakeMember) ID() types.PeerID     { return f.id }
func (f *fakeMember) User() types.User     { return types.User{ID: "acct-" + string(f.id), Name: string(f.id)} }
func (f *fakeMember) Info() types.PeerInfo { return types.PeerInfo{ID: f.id, Name: string(f.id)} }
func (f *fakeMember) OnClose(func())       {}
func (f *fakeMember) Close()               {}

func (f *fakeMember) Send(env *protocol.Envelope) error {
	if f.onSend != nil {
		f.onSend(env)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeMember) SendRaw(data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	return f.Send(env)
}

func (f *fakeMember) envelopes() []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeMember) waitFor(t *testing.T, n int) []*protocol.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.envelopes()) >= n },
		2*time.Second, time.Millisecond)
	return f.envelopes()
}

// fakeRoom implements both the peer directory and the relay room lookup
// from one membership slice, host first.
type fakeRoom struct {
	peers []types.Peerer
}

func (f *fakeRoom) HostByPeer(types.PeerID) (types.Peerer, bool) {
	if len(f.peers) == 0 {
		return nil, false
	}
	return f.peers[0], true
}

func (f *fakeRoom) PeersByOrigin(types.PeerID) ([]types.Peerer, bool) {
	if len(f.peers) == 0 {
		return nil, false
	}
	return f.peers, true
}

// frameSink collects the frames the peer writes toward its client.
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) receive(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), data...))
}

func (s *frameSink) envelopes(t *testing.T) []*protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Envelope, 0, len(s.frames))
	for _, data := range s.frames {
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (s *frameSink) waitFor(t *testing.T, n int) []*protocol.Envelope {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.frames) >= n
	}, 2*time.Second, time.Millisecond)
	return s.envelopes(t)
}

// newServingPeer wires a peer over an in-memory pipe and starts both read
// loops. The returned client end plays the remote side.
func newServingPeer(t *testing.T, rly *relay.Relay, rooms *fakeRoom) (*Peer, *channel.PipeEnd, *frameSink) {
	t.Helper()
	brokerEnd, clientEnd := channel.Pipe()
	t.Cleanup(func() { _ = clientEnd.Close() })

	p := New("p-1", types.User{ID: "acct-1", Name: "Ada"}, brokerEnd, rly, rooms)
	rly.AttachRooms(rooms)
	p.Serve()

	sink := &frameSink{}
	clientEnd.Serve(sink.receive)
	return p, clientEnd, sink
}

func send(t *testing.T, end *channel.PipeEnd, frame string) {
	t.Helper()
	require.NoError(t, end.Send([]byte(frame)))
}

func TestInfo_ProjectsPublicIdentityOnly(t *testing.T) {
	p := New("p-9", types.User{ID: "acct-secret", Name: "Ada", Email: "ada@example.com"}, nil, nil, nil)

	info := p.Info()

	assert.Equal(t, types.PeerID("p-9"), info.ID)
	assert.Equal(t, "Ada", info.Name)
	assert.Equal(t, "ada@example.com", info.Email)
	assert.Equal(t, "acct-secret", p.User().ID, "private id stays server-side")
}

func TestRequest_ForwardedToHostAndAnsweredWithOriginalID(t *testing.T) {
	rly := relay.New()
	host := newFakeMember("p-host")
	_, client, sink := newServingPeer(t, rly, &fakeRoom{peers: []types.Peerer{host}})

	send(t, client, `{"version":"0.1.0","kind":"request","id":"req-1","method":"fileSystem/stat","params":["main.go"]}`)

	fwd := host.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindRequest, fwd.Kind)
	assert.Equal(t, protocol.MethodFSStat, fwd.Method)
	require.NotNil(t, fwd.ID)
	assert.Len(t, fwd.ID.String(), credentials.IDLength, "host sees the broker's correlation id")
	require.Len(t, fwd.Params, 1)
	assert.JSONEq(t, `"main.go"`, string(fwd.Params[0]))

	rly.PushResponse(protocol.NewResponse(*fwd.ID, protocol.RawJSON(`{"size":12}`)))

	reply := sink.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindResponse, reply.Kind)
	require.NotNil(t, reply.ID)
	assert.True(t, reply.ID.Equal(protocol.StringID("req-1")), "reply carries the caller's id")
	assert.JSONEq(t, `{"size":12}`, string(reply.Response))
}

func TestRequest_NumericIDRoundTrips(t *testing.T) {
	rly := relay.New()
	host := newFakeMember("p-host")
	_, client, sink := newServingPeer(t, rly, &fakeRoom{peers: []types.Peerer{host}})

	send(t, client, `{"version":"0.1.0","kind":"request","id":42,"method":"fileSystem/stat"}`)

	fwd := host.waitFor(t, 1)[0]
	rly.PushResponse(protocol.NewResponse(*fwd.ID, protocol.RawJSON(`null`)))

	reply := sink.waitFor(t, 1)[0]
	require.NotNil(t, reply.ID)
	assert.True(t, reply.ID.Equal(protocol.NumberID(42)), "numeric ids keep their wire form")
}

func TestRequest_WithoutRoomAnswersResponseError(t *testing.T) {
	rly := relay.New()
	_, client, sink := newServingPeer(t, rly, &fakeRoom{})

	send(t, client, `{"version":"0.1.0","kind":"request","id":"req-9","method":"peer/init"}`)

	reply := sink.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindResponseError, reply.Kind)
	assert.True(t, reply.ID.Equal(protocol.StringID("req-9")))
	assert.Equal(t, relay.ErrNoRoom.Error(), reply.Message)
}

func TestRequest_HostErrorBecomesResponseError(t *testing.T) {
	rly := relay.New()
	host := newFakeMember("p-host")
	host.onSend = func(env *protocol.Envelope) {
		if env.Kind == protocol.KindRequest {
			rly.PushResponse(protocol.NewResponseError(*env.ID, "permission denied"))
		}
	}
	_, client, sink := newServingPeer(t, rly, &fakeRoom{peers: []types.Peerer{host}})

	send(t, client, `{"version":"0.1.0","kind":"request","id":"req-2","method":"fileSystem/delete","params":["/"]}`)

	reply := sink.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindResponseError, reply.Kind)
	assert.True(t, reply.ID.Equal(protocol.StringID("req-2")))
	assert.Equal(t, "permission denied", reply.Message)
}

func TestRequest_SilentHostTimesOutToResponseError(t *testing.T) {
	rly := relay.New(relay.WithTimeout(20 * time.Millisecond))
	host := newFakeMember("p-host")
	_, client, sink := newServingPeer(t, rly, &fakeRoom{peers: []types.Peerer{host}})

	send(t, client, `{"version":"0.1.0","kind":"request","id":"req-3","method":"peer/init"}`)

	reply := sink.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindResponseError, reply.Kind)
	assert.True(t, reply.ID.Equal(protocol.StringID("req-3")))
	assert.Equal(t, relay.ErrRequestTimeout.Error(), reply.Message)
}

func TestNotification_ForwardedToHost(t *testing.T) {
	rly := relay.New()
	host := newFakeMember("p-host")
	_, client, _ := newServingPeer(t, rly, &fakeRoom{peers: []types.Peerer{host}})

	send(t, client, `{"version":"0.1.0","kind":"notification","method":"editor/update","params":["delta"]}`)

	got := host.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindNotification, got.Kind)
	assert.Equal(t, protocol.MethodEditorUpdate, got.Method)
}

func TestBroadcast_StampedAndFannedOut(t *testing.T) {
	rly := relay.New()
	host := newFakeMember("p-host")
	other := newFakeMember("p-other")
	room := &fakeRoom{peers: []types.Peerer{host, other}}
	p, client, sink := newServingPeer(t, rly, room)
	room.peers = append(room.peers, p)

	send(t, client, `{"version":"0.1.0","kind":"broadcast","method":"editor/update","params":["delta"]}`)

	for _, m := range []*fakeMember{host, other} {
		got := m.waitFor(t, 1)[0]
		assert.Equal(t, protocol.KindBroadcast, got.Kind, "member %s", m.ID())
		assert.Equal(t, "p-1", got.ClientID, "member %s sees the origin stamp", m.ID())
		assert.Equal(t, protocol.MethodEditorUpdate, got.Method)
	}

	// The origin never hears its own broadcast.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.envelopes(t))
}

func TestMalformedFrame_AnswersErrorAndDisconnects(t *testing.T) {
	rly := relay.New()
	_, client, sink := newServingPeer(t, rly, &fakeRoom{})

	send(t, client, `{"version":"9.9.9","kind":"request","id":"x","method":"m"}`)

	reply := sink.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindError, reply.Kind)
	assert.NotEmpty(t, reply.Message)

	require.Eventually(t, func() bool {
		return client.Send([]byte(`{}`)) == channel.ErrClosed
	}, 2*time.Second, time.Millisecond, "channel should be torn down")
}

func TestInboundErrorFrame_IgnoredWithoutDisconnect(t *testing.T) {
	rly := relay.New()
	_, client, sink := newServingPeer(t, rly, &fakeRoom{})

	send(t, client, `{"version":"0.1.0","kind":"error","message":"client-side complaint"}`)
	// A roomless notification also drops silently.
	send(t, client, `{"version":"0.1.0","kind":"notification","method":"editor/presence"}`)
	// The loop is still alive: a request gets its answer.
	send(t, client, `{"version":"0.1.0","kind":"request","id":"req-4","method":"peer/init"}`)

	reply := sink.waitFor(t, 1)[0]
	assert.Equal(t, protocol.KindResponseError, reply.Kind)
	assert.True(t, reply.ID.Equal(protocol.StringID("req-4")))
}

func TestResponse_FromPeerSettlesRelay(t *testing.T) {
	rly := relay.New()
	room := &fakeRoom{}
	p, client, sink := newServingPeer(t, rly, room)

	// The broker relays a request TO this peer; the client answers it.
	req := protocol.NewRequest(protocol.StringID("ignored"), protocol.MethodPeerJoin,
		protocol.MustParams(protocol.JoinRequest{Name: "Grace"}))
	ticket := rly.Forward("", p, req)

	ask := sink.waitFor(t, 1)[0]
	require.Equal(t, protocol.KindRequest, ask.Kind)
	consent, err := json.Marshal(map[string]any{
		"version":  protocol.Version,
		"kind":     "response",
		"id":       ask.ID,
		"response": true,
	})
	require.NoError(t, err)
	require.NoError(t, client.Send(consent))

	result, err := ticket.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `true`, string(result))
}
