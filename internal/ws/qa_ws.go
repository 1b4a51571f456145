package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"meetsync/internal/middleware"
	"meetsync/internal/models"
	"meetsync/internal/observability"
	"meetsync/internal/repositories"
	"meetsync/internal/telemetry"
)

const maxQuestionLength = 1000

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// QAWebSocketHandler serves the live Q&A socket of a meeting.
type QAWebSocketHandler struct {
	hub       *Hub
	questions repositories.QuestionRepository
	tokens    *middleware.Tokens
	events    *telemetry.ConnEmitter
}

// NewQAWebSocketHandler constructs a QAWebSocketHandler. events may be nil.
func NewQAWebSocketHandler(hub *Hub, questions repositories.QuestionRepository, tokens *middleware.Tokens, events *telemetry.ConnEmitter) *QAWebSocketHandler {
	return &QAWebSocketHandler{hub: hub, questions: questions, tokens: tokens, events: events}
}

// Handle authenticates, upgrades, replays the meeting's questions and then serves frames
// until the client goes away.
func (h *QAWebSocketHandler) Handle(c *gin.Context) {
	meetingID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
		return
	}

	ctx, span := otel.Tracer("meetsync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	userID, err := h.tokens.Verify(middleware.BearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Add(meetingID, conn, info)
	observability.IncQAActive()
	h.emit(ctx, meetingID, info, "ws_connect", "")

	if existing, err := h.questions.ListQuestions(ctx, meetingID); err == nil {
		for i := range existing {
			_ = h.hub.Send(meetingID, conn, models.QAEvent{Type: models.QAEventQuestion, Question: &existing[i]})
		}
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		var closeReason string
		defer func() {
			h.hub.Remove(meetingID, conn)
			observability.DecQAActive()
			h.emit(bg, meetingID, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.emit(bg, meetingID, info, "ws_error", closeReason)
				}
				return
			}
			h.handleFrame(bg, meetingID, conn, userID, data)
		}
	}()
}

func (h *QAWebSocketHandler) handleFrame(ctx context.Context, meetingID int, conn *websocket.Conn, userID int, data []byte) {
	var frame models.QAFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.reject(meetingID, conn, "invalid frame")
		return
	}

	if strings.EqualFold(frame.Action, models.QAActionUpvote) {
		q, err := h.questions.Upvote(ctx, meetingID, frame.QuestionID, userID)
		switch {
		case errors.Is(err, repositories.ErrQuestionNotFound):
			h.reject(meetingID, conn, "question not found")
		case errors.Is(err, repositories.ErrAlreadyUpvoted):
			h.reject(meetingID, conn, "already upvoted")
		case err != nil:
			h.reject(meetingID, conn, "could not upvote")
		default:
			h.hub.Broadcast(meetingID, models.QAEvent{Type: models.QAEventUpvote, QuestionID: q.ID, Upvotes: q.Upvotes})
		}
		return
	}

	content := strings.TrimSpace(frame.Content)
	if content == "" {
		h.reject(meetingID, conn, "content is required")
		return
	}
	if len([]rune(content)) > maxQuestionLength {
		h.reject(meetingID, conn, "question too long")
		return
	}
	q, err := h.questions.CreateQuestion(ctx, meetingID, userID, content)
	if err != nil {
		h.reject(meetingID, conn, "could not store question")
		return
	}
	h.hub.Broadcast(meetingID, models.QAEvent{Type: models.QAEventQuestion, Question: &q})
}

func (h *QAWebSocketHandler) reject(meetingID int, conn *websocket.Conn, reason string) {
	observability.IncQAEvent("server", models.QAEventError)
	_ = h.hub.Send(meetingID, conn, models.QAEvent{Type: models.QAEventError, Error: reason})
}

func (h *QAWebSocketHandler) emit(ctx context.Context, meetingID int, info ConnInfo, event, reason string) {
	observability.IncQAEvent("server", event)
	h.events.Emit(ctx, info.RequestID, info.UserID, telemetry.ConnPayload{
		MeetingID:  meetingID,
		Event:      event,
		ConnID:     info.ConnID,
		DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
		Reason:     reason,
		DeviceID:   info.DeviceID,
		IP:         info.IP,
	})
}
