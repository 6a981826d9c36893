// Package relay owns the correlation bookkeeping between peers: pending
// request settlement, response matching, and room-wide fan-out. One Relay
// value serves the whole broker.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/atelierhq/atelier/internal/v1/channel"
	"github.com/atelierhq/atelier/internal/v1/credentials"
	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/metrics"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// ErrRequestTimeout reports a relayed request whose target never answered
// within the response window.
var ErrRequestTimeout = errors.New("request timeout")

// ErrNoRoom reports a room-bound operation from a peer that is not in any
// room.
var ErrNoRoom = errors.New("no room")

// RemoteError carries the message of a response-error envelope relayed
// back from a peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// requestTimeout is the response deadline for relayed requests.
const requestTimeout = 60 * time.Second

// Rooms resolves a peer to its room's member list, host first. Implemented
// by the room manager.
type Rooms interface {
	PeersByOrigin(origin types.PeerID) ([]types.Peerer, bool)
}

// outcome settles a pending request: a raw response value or an error.
type outcome struct {
	result protocol.RawJSON
	err    error
}

// pendingRequest is one in-flight relayed request. The buffered channel
// receives exactly one outcome; claim() decides who gets to write it.
type pendingRequest struct {
	origin types.PeerID
	target types.PeerID
	done   chan outcome
	timer  *time.Timer
}

// Relay tracks pending requests by broker-minted correlation id and knows
// how to fan envelopes out across a room.
type Relay struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	// byPeer indexes correlation ids by both origin and target so a dying
	// peer's entries can be drained from either side.
	byPeer map[types.PeerID]set.Set[string]

	rooms   Rooms
	timeout time.Duration
	newID   func() string
}

// Option tweaks a Relay at construction time.
type Option func(*Relay)

// WithTimeout overrides the settlement window for forwarded requests.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) { r.timeout = d }
}

// New builds an empty relay. AttachRooms must run before broadcasts flow.
func New(opts ...Option) *Relay {
	r := &Relay{
		pending: make(map[string]*pendingRequest),
		byPeer:  make(map[types.PeerID]set.Set[string]),
		timeout: requestTimeout,
		newID:   credentials.SecureID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttachRooms wires the room lookup. Separate from New because the room
// manager and the relay reference each other.
func (r *Relay) AttachRooms(rooms Rooms) {
	r.rooms = rooms
}

// Ticket tracks one forwarded request until settlement.
type Ticket struct {
	relay  *Relay
	corrID string
	done   chan outcome
}

// Forward mints a correlation id, registers the pending entry, and sends
// the rewritten request to target. The send happens before Forward returns
// so requests between the same origin and target keep their order; Wait
// collects the settlement. A failed send settles the ticket immediately.
// The origin id ties the entry to the requesting peer for drain purposes;
// join-consent requests pass an empty origin.
func (r *Relay) Forward(origin types.PeerID, target types.Peerer, env *protocol.Envelope) *Ticket {
	corrID := r.newID()
	entry := &pendingRequest{
		origin: origin,
		target: target.ID(),
		done:   make(chan outcome, 1),
	}

	r.mu.Lock()
	entry.timer = time.AfterFunc(r.timeout, func() {
		if e, ok := r.claim(corrID); ok {
			metrics.RequestTimeouts.Inc()
			e.done <- outcome{err: ErrRequestTimeout}
		}
	})
	r.pending[corrID] = entry
	r.indexLocked(origin, corrID)
	r.indexLocked(target.ID(), corrID)
	r.mu.Unlock()
	metrics.PendingRequests.Inc()

	// Forward with the broker's correlation id in place of the caller's.
	fwd := *env
	cid := protocol.StringID(corrID)
	fwd.ID = &cid
	if err := target.Send(&fwd); err != nil {
		if e, ok := r.claim(corrID); ok {
			e.done <- outcome{err: err}
		}
	}

	return &Ticket{relay: r, corrID: corrID, done: entry.done}
}

// Wait blocks until the ticket settles: a response value, a response-error
// (RemoteError), ErrRequestTimeout when the response window lapses,
// channel.ErrClosed when either side's channel dies, or ctx's error.
func (t *Ticket) Wait(ctx context.Context) (protocol.RawJSON, error) {
	select {
	case out := <-t.done:
		return out.result, out.err
	case <-ctx.Done():
		if e, ok := t.relay.claim(t.corrID); ok {
			e.done <- outcome{err: ctx.Err()}
		}
		// Settlement happens exactly once, so the read below never
		// blocks: it yields the cancellation above or a response that
		// won the race.
		out := <-t.done
		return out.result, out.err
	}
}

// SendRequest forwards a request envelope to target and blocks until it
// settles. See Forward and Wait for the settlement modes.
func (r *Relay) SendRequest(ctx context.Context, origin types.PeerID, target types.Peerer, env *protocol.Envelope) (protocol.RawJSON, error) {
	return r.Forward(origin, target, env).Wait(ctx)
}

// PushResponse settles the pending entry matching a response or
// response-error envelope. Envelopes with no matching entry are dropped
// silently; late and duplicate responses are normal after timeouts.
func (r *Relay) PushResponse(env *protocol.Envelope) {
	key := env.ID.String()
	entry, ok := r.claim(key)
	if !ok {
		metrics.LateResponses.Inc()
		logging.Debug(context.Background(), "dropping unmatched response",
			zap.String("correlation_id", key), zap.String("kind", string(env.Kind)))
		return
	}
	if env.Kind == protocol.KindResponseError {
		entry.done <- outcome{err: &RemoteError{Message: env.Message}}
		return
	}
	entry.done <- outcome{result: env.Response}
}

// DrainPeer rejects every pending entry touching the given peer with
// channel.ErrClosed: entries targeting it can no longer be answered, and
// entries it originated have no one left to answer to.
func (r *Relay) DrainPeer(id types.PeerID) {
	r.mu.Lock()
	var corrIDs []string
	if ids, ok := r.byPeer[id]; ok {
		corrIDs = ids.SortedList()
	}
	r.mu.Unlock()

	for _, corrID := range corrIDs {
		if e, ok := r.claim(corrID); ok {
			e.done <- outcome{err: channel.ErrClosed}
		}
	}
}

// Pending reports the size of the correlation table.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// claim removes and returns the entry for corrID, stopping its timer. The
// winning caller owns the single settlement write.
func (r *Relay) claim(corrID string) (*pendingRequest, bool) {
	r.mu.Lock()
	entry, ok := r.pending[corrID]
	if ok {
		delete(r.pending, corrID)
		r.unindexLocked(entry.origin, corrID)
		r.unindexLocked(entry.target, corrID)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	metrics.PendingRequests.Dec()
	entry.timer.Stop()
	return entry, true
}

func (r *Relay) indexLocked(id types.PeerID, corrID string) {
	if id == "" {
		return
	}
	ids, ok := r.byPeer[id]
	if !ok {
		ids = set.New[string]()
		r.byPeer[id] = ids
	}
	ids.Insert(corrID)
}

func (r *Relay) unindexLocked(id types.PeerID, corrID string) {
	if id == "" {
		return
	}
	if ids, ok := r.byPeer[id]; ok {
		ids.Delete(corrID)
		if ids.Len() == 0 {
			delete(r.byPeer, id)
		}
	}
}
