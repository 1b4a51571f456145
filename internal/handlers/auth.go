package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"meetsync/internal/middleware"
	"meetsync/internal/repositories"
	"meetsync/internal/telemetry"
)

// VideoTokenTTL bounds how long a room token stays valid.
const VideoTokenTTL = time.Hour

// AuthHandler issues access and video room tokens.
type AuthHandler struct {
	users  repositories.UserRepository
	tokens *middleware.Tokens
	audit  *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler. audit may be nil.
func NewAuthHandler(users repositories.UserRepository, tokens *middleware.Tokens, audit *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, audit: audit}
}

// Login exchanges credentials for an access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidCredentials) {
			audit(c, h.audit, "warn", "login rejected for "+req.Username)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := h.tokens.Issue(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	c.Set(middleware.UserIDKey, userID)
	audit(c, h.audit, "info", "login succeeded for "+req.Username)
	c.JSON(http.StatusOK, gin.H{"access_token": token, "user_id": userID})
}

// VideoToken returns a room token for the meeting in the path.
func (h *AuthHandler) VideoToken(c *gin.Context) {
	meetingID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
		return
	}

	room := "meeting-" + strconv.Itoa(meetingID)
	token, exp, err := h.tokens.IssueRoom(c.GetInt(middleware.UserIDKey), room, VideoTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue video token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "room": room, "expires_at": exp.UTC().Format(time.RFC3339)})
}
