// Package peer binds one authenticated user to one live channel and
// classifies everything the channel delivers. Classification runs serially
// in arrival order; only the wait for a relayed response leaves the read
// loop.
package peer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/channel"
	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/metrics"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/relay"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// Directory resolves a peer to its room's host. Implemented by the room
// manager; peers themselves never hold room pointers.
type Directory interface {
	HostByPeer(id types.PeerID) (types.Peerer, bool)
}

// Peer is one authenticated participant. It satisfies types.Peerer.
type Peer struct {
	id    types.PeerID
	user  types.User
	ch    channel.Channel
	relay *relay.Relay
	rooms Directory

	// ctx carries the peer id for log enrichment only.
	ctx context.Context
}

// New binds a user identity to a channel. Serve must be called once the
// peer is registered with its room.
func New(id types.PeerID, user types.User, ch channel.Channel, rly *relay.Relay, rooms Directory) *Peer {
	return &Peer{
		id:    id,
		user:  user,
		ch:    ch,
		relay: rly,
		rooms: rooms,
		ctx:   logging.WithPeerID(context.Background(), string(id)),
	}
}

// ID returns the broker-minted peer id.
func (p *Peer) ID() types.PeerID { return p.id }

// User returns the full authenticated identity, private id included.
func (p *Peer) User() types.User { return p.user }

// Info returns the public projection shared with other peers. The
// server-side user id never appears here.
func (p *Peer) Info() types.PeerInfo {
	return types.PeerInfo{ID: p.id, Name: p.user.Name, Email: p.user.Email}
}

// Send encodes env and queues it on the channel.
func (p *Peer) Send(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return p.ch.Send(data)
}

// SendRaw queues an already-encoded envelope. Fan-out encodes once and
// reuses the bytes across a room.
func (p *Peer) SendRaw(data []byte) error { return p.ch.Send(data) }

// OnClose registers fn to run when the channel dies.
func (p *Peer) OnClose(fn func()) { p.ch.OnClose(fn) }

// Close tears the channel down.
func (p *Peer) Close() { _ = p.ch.Close() }

// Serve starts the channel's read loop. It returns immediately; inbound
// envelopes flow into handleMessage until the channel closes.
func (p *Peer) Serve() { p.ch.Serve(p.handleMessage) }

func (p *Peer) handleMessage(data []byte) {
	start := time.Now()

	env, err := protocol.Decode(data)
	if err != nil {
		metrics.Envelopes.WithLabelValues("invalid", "rejected").Inc()
		logging.Warn(p.ctx, "malformed envelope, disconnecting", zap.Error(err))
		_ = p.Send(protocol.NewError(err.Error()))
		p.Close()
		return
	}

	kind := string(env.Kind)
	status := "ok"

	switch env.Kind {
	case protocol.KindResponse, protocol.KindResponseError:
		p.relay.PushResponse(env)
	case protocol.KindRequest:
		status = p.handleRequest(env)
	case protocol.KindNotification:
		status = p.handleNotification(env)
	case protocol.KindBroadcast:
		status = p.handleBroadcast(env)
	default:
		// Peers have no business sending error frames; ignore them.
		status = "dropped"
		logging.Debug(p.ctx, "dropping inbound error envelope", zap.String("message", env.Message))
	}

	metrics.Envelopes.WithLabelValues(kind, status).Inc()
	metrics.EnvelopeHandling.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// handleRequest forwards a request to the room host. The forward itself is
// synchronous so host-bound requests keep their arrival order; the wait
// for the answer runs off the read loop and writes back a response or
// response-error carrying the original inbound id.
func (p *Peer) handleRequest(env *protocol.Envelope) string {
	host, ok := p.rooms.HostByPeer(p.id)
	if !ok {
		_ = p.Send(protocol.NewResponseError(*env.ID, relay.ErrNoRoom.Error()))
		return "no_room"
	}

	orig := *env.ID
	ticket := p.relay.Forward(p.id, host, env)
	go func() {
		result, err := ticket.Wait(context.Background())
		var reply *protocol.Envelope
		switch {
		case err == nil:
			reply = protocol.NewResponse(orig, result)
		default:
			var remote *relay.RemoteError
			if errors.As(err, &remote) {
				reply = protocol.NewResponseError(orig, remote.Message)
			} else {
				reply = protocol.NewResponseError(orig, err.Error())
			}
		}
		if err := p.Send(reply); err != nil {
			logging.Debug(p.ctx, "dropping settled response, peer gone",
				zap.String("id", orig.String()))
		}
	}()
	return "ok"
}

// handleNotification forwards fire-and-forget traffic to the room host.
// Roomless notifications drop with a log; the sender never sees an error.
func (p *Peer) handleNotification(env *protocol.Envelope) string {
	host, ok := p.rooms.HostByPeer(p.id)
	if !ok {
		logging.Debug(p.ctx, "dropping roomless notification", zap.String("method", env.Method))
		return "no_room"
	}
	if err := p.relay.SendNotification(host, env); err != nil {
		logging.Debug(p.ctx, "notification undeliverable", zap.String("method", env.Method), zap.Error(err))
	}
	return "ok"
}

// handleBroadcast fans the envelope out to every other member of the
// peer's room, stamped with this peer's id.
func (p *Peer) handleBroadcast(env *protocol.Envelope) string {
	if err := p.relay.SendBroadcast(p, env); err != nil {
		if errors.Is(err, relay.ErrNoRoom) {
			logging.Debug(p.ctx, "dropping roomless broadcast", zap.String("method", env.Method))
			return "no_room"
		}
		logging.Warn(p.ctx, "broadcast failed", zap.String("method", env.Method), zap.Error(err))
	}
	return "ok"
}
