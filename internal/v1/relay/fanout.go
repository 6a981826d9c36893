package relay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/metrics"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// SendBroadcast stamps env with the origin peer id and delivers it to
// every other member of the origin's room, in membership order. A peer
// outside any room gets ErrNoRoom.
func (r *Relay) SendBroadcast(origin types.Peerer, env *protocol.Envelope) error {
	if r.rooms == nil {
		return ErrNoRoom
	}
	peers, ok := r.rooms.PeersByOrigin(origin.ID())
	if !ok {
		return ErrNoRoom
	}
	return r.FanOut(peers, origin.ID(), env)
}

// FanOut delivers env to every peer in the snapshot except the origin,
// stamped with the origin id. The snapshot is encoded once; unreachable
// targets are skipped, not fatal. Room lifecycle paths call this directly
// with a membership snapshot taken before index mutation.
func (r *Relay) FanOut(peers []types.Peerer, origin types.PeerID, env *protocol.Envelope) error {
	stamped := *env
	stamped.ClientID = string(origin)
	data, err := protocol.Encode(&stamped)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}

	for _, p := range peers {
		if p.ID() == origin {
			continue
		}
		if err := p.SendRaw(data); err != nil {
			logging.Debug(context.Background(), "skipping unreachable broadcast target",
				zap.String("peer_id", string(p.ID())), zap.Error(err))
		}
	}
	metrics.Broadcasts.Inc()
	return nil
}

// SendNotification forwards a fire-and-forget envelope to one target.
func (r *Relay) SendNotification(target types.Peerer, env *protocol.Envelope) error {
	return target.Send(env)
}
