package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/konnection/roomstate/internal/session"
	"go.uber.org/zap"
)

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	Session     *session.Session `json:"session"`
	AccessToken string           `json:"access_token,omitempty"`
	ExpiresIn   int64            `json:"expires_in,omitempty"`
	TokenType   string           `json:"token_type,omitempty"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request session.RegistrationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	current, err := h.sessions.Register(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, "register", err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, current)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	current, err := h.sessions.Login(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, "login", err)
		return
	}
	h.respondWithToken(c, http.StatusOK, current)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, current session.Session) {
	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), current.Email)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, sessionResponsePayload{
		Session:     &current,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context()); err != nil {
		h.respondError(c, "logout", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSession(c *gin.Context) {
	current, err := h.sessions.CurrentSession(c.Request.Context())
	if err != nil {
		h.respondError(c, "session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": current, "authenticated": current != nil})
}
