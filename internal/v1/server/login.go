package server

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/credentials"
	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/types"
)

type loginURLResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type loginConfirmResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type loginSimpleRequest struct {
	Token string `json:"token"`
	User  string `json:"user"`
	Email string `json:"email"`
}

// handleLoginURL mints a confirm token and points the client at the login
// page carrying it. Nothing is registered yet; the registry entry appears
// when the client starts polling /api/login/confirm.
func (b *Broker) handleLoginURL(c *gin.Context) {
	token := credentials.SecureID()

	u, err := url.Parse(b.cfg.LoginPageURL)
	if err != nil {
		logging.Error(c.Request.Context(), "login page URL unparseable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login page misconfigured"})
		return
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	c.JSON(http.StatusOK, loginURLResponse{URL: u.String(), Token: token})
}

// handleLoginConfirm long-polls until someone confirms the token, the
// registry window lapses, or the client goes away.
func (b *Broker) handleLoginConfirm(c *gin.Context) {
	token := c.Param("token")

	res, err := b.creds.ConfirmAuth(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, loginConfirmResponse{User: res.User, Token: res.Token})
}

// handleLoginSimple confirms a pending login with a caller-supplied
// identity. This is the dev-mode path behind GET /login.
func (b *Broker) handleLoginSimple(c *gin.Context) {
	var req loginSimpleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}

	if _, err := b.creds.ConfirmUser(req.Token, req.User, req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logging.Info(c.Request.Context(), "login confirmed",
		zap.String("name", req.User), zap.String("email", logging.RedactEmail(req.Email)))
	c.JSON(http.StatusOK, "Ok")
}

// handleLoginValidate reports whether the presented user token still
// verifies. Both answers are 200: "false" is an answer, not a failure.
func (b *Broker) handleLoginValidate(c *gin.Context) {
	if _, err := b.creds.VerifyUserToken(c.GetHeader("x-jwt")); err != nil {
		c.JSON(http.StatusOK, "false")
		return
	}
	c.JSON(http.StatusOK, "true")
}
