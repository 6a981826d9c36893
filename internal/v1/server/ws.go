package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/channel"
	"github.com/atelierhq/atelier/internal/v1/credentials"
	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/peer"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// handleSocket accepts a transport connection. The upgrade happens before
// any verification so failures can be reported in-band: one error envelope
// on the fresh channel, then disconnect.
func (b *Broker) handleSocket(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	ch := channel.NewWebSocket(conn, c.ClientIP())

	token := c.GetHeader("x-jwt")
	if token == "" {
		// Browser websocket clients cannot set headers.
		token = c.Query("token")
	}

	claim, err := b.creds.VerifyRoomToken(token)
	if err != nil {
		b.rejectSocket(c.Request.Context(), ch, "invalid room token")
		return
	}

	p := peer.New(types.PeerID(credentials.SecureID()), claim.User, ch, b.relay, b.rooms)
	if err := b.rooms.Join(p, claim.Room, claim.Host); err != nil {
		b.rejectSocket(c.Request.Context(), ch, err.Error())
		return
	}

	p.Serve()
}

// rejectSocket flushes a single error envelope and tears the channel down.
func (b *Broker) rejectSocket(ctx context.Context, ch channel.Channel, msg string) {
	logging.Warn(ctx, "rejecting transport connection", zap.String("reason", msg))
	if data, err := protocol.Encode(protocol.NewError(msg)); err == nil {
		_ = ch.Send(data)
	}
	_ = ch.Close()
}
