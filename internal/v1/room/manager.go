package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/bus"
	"github.com/atelierhq/atelier/internal/v1/credentials"
	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/metrics"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/relay"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// Manager owns every live room and the peer index. One value per broker.
type Manager struct {
	mu        sync.Mutex
	rooms     map[types.RoomID]*Room
	peerIndex map[types.PeerID]*Room

	creds *credentials.Service
	relay *relay.Relay
	bus   *bus.Service
}

// Prepared is a claim on a room that does not exist yet: the id and the
// host token that will open it.
type Prepared struct {
	Room  types.RoomID
	Token string
}

// NewManager builds the room manager. The bus may be nil (single-instance
// mode).
func NewManager(creds *credentials.Service, rly *relay.Relay, events *bus.Service) *Manager {
	return &Manager{
		rooms:     make(map[types.RoomID]*Room),
		peerIndex: make(map[types.PeerID]*Room),
		creds:     creds,
		relay:     rly,
		bus:       events,
	}
}

// PrepareRoom mints a fresh room id and signs the host claim for it. No
// room entry is created; the room opens when the host connects.
func (m *Manager) PrepareRoom(user types.User) (Prepared, error) {
	id := types.RoomID(credentials.SecureID())
	token, err := m.creds.SignRoomToken(types.RoomClaim{Room: id, User: user, Host: true})
	if err != nil {
		return Prepared{}, fmt.Errorf("prepare room: %w", err)
	}
	logging.Info(logging.WithRoomID(context.Background(), string(id)), "room prepared",
		zap.String("host_name", user.Name))
	return Prepared{Room: id, Token: token}, nil
}

// Join attaches a connected peer to a room. Hosts open the room; guests
// require it to exist. Both get indexed, subscribed for teardown, and told
// their own public identity; guests are additionally announced to the
// room.
func (m *Manager) Join(p types.Peerer, roomID types.RoomID, host bool) error {
	ctx := logging.WithRoomID(logging.WithPeerID(context.Background(), string(p.ID())), string(roomID))

	m.mu.Lock()
	r, exists := m.rooms[roomID]
	if host {
		if exists {
			m.mu.Unlock()
			return ErrRoomExists
		}
		r = newRoom(roomID, p)
		m.rooms[roomID] = r
	} else {
		if !exists {
			m.mu.Unlock()
			return ErrRoomNotFound
		}
		r.guests = append(r.guests, p)
	}
	m.peerIndex[p.ID()] = r
	members := r.peersLocked()
	m.mu.Unlock()

	if host {
		metrics.ActiveRooms.Inc()
	}
	metrics.RoomPeers.WithLabelValues(string(roomID)).Set(float64(len(members)))

	// Teardown subscription after registration: a channel that died in
	// the meantime fires the hook immediately and unwinds the join.
	if host {
		p.OnClose(func() { m.CloseRoom(roomID) })
	} else {
		p.OnClose(func() { m.handleGuestLeave(roomID, p) })
	}

	info := p.Info().Announcement()
	selfNote := protocol.NewNotification(protocol.MethodPeerInfo, protocol.MustParams(info))
	if err := m.relay.SendNotification(p, selfNote); err != nil {
		logging.Warn(ctx, "peer/info delivery failed", zap.Error(err))
	}

	if host {
		logging.Info(ctx, "room opened", zap.String("peer_name", info.Name))
		m.publish(ctx, roomID, "room/opened", info, p.ID())
	} else {
		joined := protocol.NewBroadcast(protocol.MethodRoomJoined, protocol.MustParams(info))
		if err := m.relay.FanOut(members, p.ID(), joined); err != nil {
			logging.Warn(ctx, "room/joined announcement failed", zap.Error(err))
		}
		logging.Info(ctx, "guest joined", zap.String("peer_name", info.Name),
			zap.Int("peers", len(members)))
		m.publish(ctx, roomID, "room/joined", info, p.ID())
	}
	return nil
}

// RequestJoin asks the room's host for consent to admit user. Consent
// yields a guest room token; refusal, silence, and a host-side error map
// to ErrJoinRejected / ErrJoinTimeout.
func (m *Manager) RequestJoin(ctx context.Context, roomID types.RoomID, user types.User) (string, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return "", ErrRoomNotFound
	}

	params, err := protocol.NewParams(protocol.JoinRequest{Name: user.Name, Email: user.Email})
	if err != nil {
		return "", fmt.Errorf("encode join request: %w", err)
	}
	ask := protocol.NewRequest(protocol.StringID(credentials.SecureID()), protocol.MethodPeerJoin, params)

	logging.Info(logging.WithRoomID(ctx, string(roomID)), "asking host for join consent",
		zap.String("candidate", user.Name),
		zap.String("candidate_email", logging.RedactEmail(user.Email)))

	raw, err := m.relay.SendRequest(ctx, "", r.Host(), ask)
	if err != nil {
		var remote *relay.RemoteError
		switch {
		case errors.Is(err, relay.ErrRequestTimeout):
			return "", ErrJoinTimeout
		case errors.As(err, &remote):
			return "", ErrJoinRejected
		default:
			return "", err
		}
	}

	var approved bool
	if err := json.Unmarshal(raw, &approved); err != nil {
		return "", fmt.Errorf("malformed consent response: %w", err)
	}
	if !approved {
		return "", ErrJoinRejected
	}

	token, err := m.creds.SignRoomToken(types.RoomClaim{Room: roomID, User: user, Host: false})
	if err != nil {
		return "", fmt.Errorf("sign guest token: %w", err)
	}
	return token, nil
}

// CloseRoom tears a room down: every member leaves the index, guests get
// the room/closed broadcast, and every member channel is closed.
// Idempotent; the host's own close hook re-entering here finds no room and
// stops.
func (m *Manager) CloseRoom(roomID types.RoomID) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	members := r.peersLocked()
	for _, p := range members {
		delete(m.peerIndex, p.ID())
	}
	m.mu.Unlock()

	ctx := logging.WithRoomID(context.Background(), string(roomID))

	// Outstanding correlation entries settle before any channel dies.
	for _, p := range members {
		m.relay.DrainPeer(p.ID())
	}

	closed := protocol.NewBroadcast(protocol.MethodRoomClosed, nil)
	if err := m.relay.FanOut(members, r.Host().ID(), closed); err != nil {
		logging.Warn(ctx, "room/closed announcement failed", zap.Error(err))
	}

	for _, p := range members {
		p.Close()
	}

	metrics.ActiveRooms.Dec()
	metrics.RoomPeers.DeleteLabelValues(string(roomID))
	logging.Info(ctx, "room closed", zap.Int("peers", len(members)))
	m.publish(ctx, roomID, "room/closed", nil, r.Host().ID())
}

// handleGuestLeave runs on a guest channel's teardown: drain the relay,
// drop membership and index, then tell the remaining peers. A guest whose
// room already closed finds itself unindexed and stops.
func (m *Manager) handleGuestLeave(roomID types.RoomID, p types.Peerer) {
	m.relay.DrainPeer(p.ID())

	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, indexed := m.peerIndex[p.ID()]; !indexed {
		m.mu.Unlock()
		return
	}
	delete(m.peerIndex, p.ID())
	r.removeGuestLocked(p.ID())
	remaining := r.peersLocked()
	m.mu.Unlock()

	ctx := logging.WithRoomID(logging.WithPeerID(context.Background(), string(p.ID())), string(roomID))
	metrics.RoomPeers.WithLabelValues(string(roomID)).Set(float64(len(remaining)))

	info := p.Info().Announcement()
	left := protocol.NewBroadcast(protocol.MethodRoomLeft, protocol.MustParams(info))
	if err := m.relay.FanOut(remaining, p.ID(), left); err != nil {
		logging.Warn(ctx, "room/left announcement failed", zap.Error(err))
	}
	logging.Info(ctx, "guest left", zap.Int("peers", len(remaining)))
	m.publish(ctx, roomID, "room/left", info, p.ID())
}

// RoomByID looks a room up by id.
func (m *Manager) RoomByID(id types.RoomID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// RoomByPeer resolves the room a peer is a member of.
func (m *Manager) RoomByPeer(id types.PeerID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peerIndex[id]
	return r, ok
}

// HostByPeer resolves the host of the room a peer is in. Implements the
// peer directory.
func (m *Manager) HostByPeer(id types.PeerID) (types.Peerer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peerIndex[id]
	if !ok {
		return nil, false
	}
	return r.host, true
}

// PeersByOrigin snapshots the membership of the origin's room, host first.
// Implements the relay's room lookup.
func (m *Manager) PeersByOrigin(origin types.PeerID) ([]types.Peerer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.peerIndex[origin]
	if !ok {
		return nil, false
	}
	return r.peersLocked(), true
}

// Rooms reports the number of open rooms.
func (m *Manager) Rooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Peers reports the number of indexed peers.
func (m *Manager) Peers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peerIndex)
}

// Shutdown closes every room, stopping early if ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]types.RoomID, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		m.CloseRoom(id)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, roomID types.RoomID, event string, payload any, sender types.PeerID) {
	if err := m.bus.Publish(ctx, string(roomID), event, payload, string(sender)); err != nil {
		logging.Warn(ctx, "bus publish failed", zap.String("event", event), zap.Error(err))
	}
}
