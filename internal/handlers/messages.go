package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"meetsync/internal/middleware"
	"meetsync/internal/models"
	"meetsync/internal/repositories"
	"meetsync/internal/telemetry"
)

const (
	defaultLimit    = 50
	maxLimit        = 200
	defaultPageSize = 20
)

// MessageHandler serves the group and direct message endpoints.
type MessageHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	audit         *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. audit may be nil.
func NewMessageHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{conversations: conversations, messages: messages, audit: audit}
}

// Register mounts the routes for kind under prefix ("/chats" or "/groups").
func (h *MessageHandler) Register(r gin.IRoutes, prefix string, kind models.Kind) {
	r.GET(prefix+"/:id/messages", h.List(kind))
	r.POST(prefix+"/:id/messages", h.Post(kind))
	r.POST(prefix+"/:id/messages/:mid/read/", h.MarkRead(kind))
}

// List returns one page as {"messages": [...], "count": total}. It accepts limit/offset or
// page/page_size; page numbers start at 1.
func (h *MessageHandler) List(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := h.authorize(c, kind)
		if !ok {
			return
		}

		limit, offset, err := pagination(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		recs, total, err := h.messages.ListMessages(c.Request.Context(), kind, convID, c.GetInt(middleware.UserIDKey), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
		if recs == nil {
			recs = []models.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": recs, "count": total})
	}
}

// Post stores a message sent by the caller.
func (h *MessageHandler) Post(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := h.authorize(c, kind)
		if !ok {
			return
		}

		var req struct {
			Content string `json:"content" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := h.messages.CreateMessage(c.Request.Context(), kind, convID, c.GetInt(middleware.UserIDKey), req.Content)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
			return
		}

		audit(c, h.audit, "info", fmt.Sprintf("message %d stored in %s:%d", rec.ID, kind, convID))
		c.JSON(http.StatusCreated, rec)
	}
}

// MarkRead records that the caller has read a message.
func (h *MessageHandler) MarkRead(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		convID, ok := h.authorize(c, kind)
		if !ok {
			return
		}
		msgID, err := strconv.Atoi(c.Param("mid"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}

		err = h.messages.MarkRead(c.Request.Context(), kind, convID, msgID, c.GetInt(middleware.UserIDKey))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrMessageNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": "could not mark message read"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func (h *MessageHandler) authorize(c *gin.Context, kind models.Kind) (int, bool) {
	convID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}

	allowed, err := h.conversations.CanAccess(c.Request.Context(), kind, convID, c.GetInt(middleware.UserIDKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return 0, false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return 0, false
	}
	return convID, true
}

func pagination(c *gin.Context) (limit, offset int, err error) {
	if page := c.Query("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			return 0, 0, errors.New("invalid page")
		}
		size, err := intQuery(c, "page_size", defaultPageSize)
		if err != nil || size < 1 {
			return 0, 0, errors.New("invalid page_size")
		}
		size = min(size, maxLimit)
		return size, (n - 1) * size, nil
	}

	limit, err = intQuery(c, "limit", defaultLimit)
	if err != nil || limit < 1 {
		return 0, 0, errors.New("invalid limit")
	}
	offset, err = intQuery(c, "offset", 0)
	if err != nil || offset < 0 {
		return 0, 0, errors.New("invalid offset")
	}
	return min(limit, maxLimit), offset, nil
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
