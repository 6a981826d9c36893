// Package types holds the identifiers, identity records, and interfaces
// shared across the broker's packages. Interfaces live here so the room,
// relay, and peer layers stay decoupled from each other's concrete types.
package types

import (
	"github.com/atelierhq/atelier/internal/v1/protocol"
)

// PeerID identifies one live connection to the broker. It is minted at
// handshake time and is unrelated to the account id of the user behind it.
type PeerID string

// RoomID identifies a collaboration room.
type RoomID string

// User is the broker's private record of an authenticated account. The ID
// is server-assigned and never leaves the server side (see PeerInfo).
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// PeerInfo is the public projection of a connected peer: the peer id plus
// the displayable user fields. It deliberately omits User.ID.
type PeerInfo struct {
	ID    PeerID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Announcement renders the projection as a wire payload.
func (p PeerInfo) Announcement() protocol.PeerAnnouncement {
	return protocol.PeerAnnouncement{ID: string(p.ID), Name: p.Name, Email: p.Email}
}

// RoomClaim is the grant embedded in a room token: which room, acting as
// which user, with or without host authority. The user snapshot is taken
// at signing time.
type RoomClaim struct {
	Room RoomID `json:"room"`
	User User   `json:"user"`
	Host bool   `json:"host"`
}

// Peerer is the behavior the room and relay layers need from a connected
// peer. Implemented by peer.Peer; tests substitute lightweight fakes.
type Peerer interface {
	ID() PeerID
	User() User
	Info() PeerInfo
	// Send delivers one envelope toward the peer's client. It returns
	// channel.ErrClosed once the underlying channel is gone.
	Send(env *protocol.Envelope) error
	// SendRaw delivers a pre-encoded frame; fan-out paths encode once and
	// reuse the bytes.
	SendRaw(data []byte) error
	// OnClose registers a hook that runs exactly once when the peer's
	// channel dies, in registration order.
	OnClose(fn func())
	// Close tears the peer's channel down. Idempotent.
	Close()
}
