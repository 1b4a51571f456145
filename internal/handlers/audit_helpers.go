package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"meetsync/internal/middleware"
	"meetsync/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt(middleware.UserIDKey); userID != 0 {
		value := strconv.Itoa(userID)
		return &value
	}
	return nil
}

// audit publishes a line tied to the current request. A nil emitter is a no-op.
func audit(c *gin.Context, emitter *telemetry.AuditEmitter, level, text string) {
	emitter.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
