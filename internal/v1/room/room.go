// Package room owns the live collaboration rooms: which peers are members,
// which one is the host, and the join/leave/close lifecycle. The Manager is
// the only component that maps peers to rooms; peers themselves never hold
// room pointers.
package room

import (
	"errors"
	"time"

	"github.com/atelierhq/atelier/internal/v1/types"
)

var (
	// ErrRoomNotFound reports a join or lookup against a room id with no
	// live room behind it.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomExists rejects a host claim for a room that is already open.
	// A room has exactly one host for its whole lifetime.
	ErrRoomExists = errors.New("room already exists")

	// ErrJoinRejected reports that the host declined a join request.
	ErrJoinRejected = errors.New("join rejected")

	// ErrJoinTimeout reports that the host never answered a join request.
	ErrJoinTimeout = errors.New("join timeout")
)

// Room is one live collaboration session. The host is fixed at creation;
// guests are kept in join order. Membership is guarded by the Manager's
// lock, so reads outside the manager go through Manager methods.
type Room struct {
	id        types.RoomID
	host      types.Peerer
	createdAt time.Time

	// guests in join order; guarded by Manager.mu.
	guests []types.Peerer
}

func newRoom(id types.RoomID, host types.Peerer) *Room {
	return &Room{
		id:        id,
		host:      host,
		createdAt: time.Now(),
	}
}

// ID returns the room id.
func (r *Room) ID() types.RoomID { return r.id }

// Host returns the room's host peer. Immutable after creation.
func (r *Room) Host() types.Peerer { return r.host }

// CreatedAt returns the moment the host connected.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// peersLocked snapshots the membership, host first, guests in join order.
// Caller holds Manager.mu.
func (r *Room) peersLocked() []types.Peerer {
	peers := make([]types.Peerer, 0, len(r.guests)+1)
	peers = append(peers, r.host)
	peers = append(peers, r.guests...)
	return peers
}

// removeGuestLocked drops a guest from the join-order slice. Caller holds
// Manager.mu.
func (r *Room) removeGuestLocked(id types.PeerID) bool {
	for i, g := range r.guests {
		if g.ID() == id {
			r.guests = append(r.guests[:i], r.guests[i+1:]...)
			return true
		}
	}
	return false
}
