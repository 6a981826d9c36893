package room

import (
	"sync"

	"github.com/atelierhq/atelier/internal/v1/channel"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/relay"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// fakePeer is an in-memory types.Peerer. It records every envelope it is
// sent (raw frames are decoded first) and honors the close-hook contract:
// hooks fire exactly once, and registration after death runs immediately.
type fakePeer struct {
	id   types.PeerID
	user types.User

	// onSend, when set, observes every envelope before it is recorded.
	// Consent tests use it to answer peer/join requests inline.
	onSend func(env *protocol.Envelope)

	mu    sync.Mutex
	sent  []*protocol.Envelope
	hooks []func()
	dead  bool
}

func newFakePeer(id, name string) *fakePeer {
	return &fakePeer{
		id:   types.PeerID(id),
		user: types.User{ID: "acct-" + id, Name: name},
	}
}

func (f *fakePeer) ID() types.PeerID { return f.id }
func (f *fakePeer) User() types.User { return f.user }

func (f *fakePeer) Info() types.PeerInfo {
	return types.PeerInfo{ID: f.id, Name: f.user.Name, Email: f.user.Email}
}

func (f *fakePeer) Send(env *protocol.Envelope) error {
	f.mu.Lock()
	dead, onSend := f.dead, f.onSend
	f.mu.Unlock()
	if dead {
		return channel.ErrClosed
	}
	if onSend != nil {
		onSend(env)
	}
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) SendRaw(data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	return f.Send(env)
}

func (f *fakePeer) OnClose(fn func()) {
	f.mu.Lock()
	if f.dead {
		f.mu.Unlock()
		fn()
		return
	}
	f.hooks = append(f.hooks, fn)
	f.mu.Unlock()
}

func (f *fakePeer) Close() {
	f.mu.Lock()
	if f.dead {
		f.mu.Unlock()
		return
	}
	f.dead = true
	hooks := make([]func(), len(f.hooks))
	copy(hooks, f.hooks)
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (f *fakePeer) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dead
}

// byMethod returns the received envelopes carrying the given method, in
// receipt order.
func (f *fakePeer) byMethod(method string) []*protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range f.sent {
		if env.Method == method {
			out = append(out, env)
		}
	}
	return out
}

// answeringHost builds a host fake that settles every join-consent request
// through rly with the envelope reply produces for the request id.
func answeringHost(rly *relay.Relay, reply func(id protocol.ID) *protocol.Envelope) *fakePeer {
	h := newFakePeer("p-host", "Ada")
	h.onSend = func(env *protocol.Envelope) {
		if env.Kind == protocol.KindRequest && env.Method == protocol.MethodPeerJoin {
			rly.PushResponse(reply(*env.ID))
		}
	}
	return h
}
