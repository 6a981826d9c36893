package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/types"
)

type sessionCreateResponse struct {
	Room  string `json:"room"`
	Token string `json:"token"`
}

type sessionJoinResponse struct {
	Token string `json:"token"`
}

// requireUser authenticates the x-jwt header. Failure answers 403 with an
// empty body; a signed-out caller learns nothing about why.
func (b *Broker) requireUser(c *gin.Context) (types.User, bool) {
	user, err := b.creds.VerifyUserToken(c.GetHeader("x-jwt"))
	if err != nil {
		c.Status(http.StatusForbidden)
		return types.User{}, false
	}
	return user, true
}

// handleSessionCreate reserves a room id and signs the caller's host
// claim. The room itself is created when the host connects.
func (b *Broker) handleSessionCreate(c *gin.Context) {
	user, ok := b.requireUser(c)
	if !ok {
		return
	}

	prep, err := b.rooms.PrepareRoom(user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logging.Info(c.Request.Context(), "room prepared",
		zap.String("room_id", string(prep.Room)), zap.String("host", user.Name))
	c.JSON(http.StatusOK, sessionCreateResponse{Room: string(prep.Room), Token: prep.Token})
}

// handleSessionJoin asks the room's host for consent and, if granted,
// signs a guest claim. The call blocks for up to the relay's response
// window while the host decides.
func (b *Broker) handleSessionJoin(c *gin.Context) {
	user, ok := b.requireUser(c)
	if !ok {
		return
	}

	roomID := types.RoomID(c.Param("room"))
	token, err := b.rooms.RequestJoin(c.Request.Context(), roomID, user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sessionJoinResponse{Token: token})
}
