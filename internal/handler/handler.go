package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rebekaee1/mgp-v2/internal/agent"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
	"github.com/rebekaee1/mgp-v2/pkg/middleware"
	"github.com/rebekaee1/mgp-v2/pkg/version"
)

const maxMessageRunes = 10000

const replyFailedText = "Произошла ошибка. Попробуйте ещё раз."

// ChatService is the agent boundary the routes call.
type ChatService interface {
	HandleMessage(ctx context.Context, sessionID, text string) (agent.Reply, error)
	Reset(ctx context.Context, sessionID string)
	GetMetrics(sessionID string) (map[string]int, error)
	AggregateMetrics() map[string]int
	ActiveSessions() int
}

type ChatHandler struct {
	Service ChatService
	Logger  logging.Logger
	// SessionLimiter is optional; IP limiting is applied as middleware.
	SessionLimiter *RateLimiter
	Provider       string
	Model          string
	started        time.Time
}

func NewChatHandler(service ChatService, sessionLimiter *RateLimiter, provider, model string, logger logging.Logger) *ChatHandler {
	return &ChatHandler{
		Service:        service,
		Logger:         logger,
		SessionLimiter: sessionLimiter,
		Provider:       provider,
		Model:          model,
		started:        time.Now(),
	}
}

func RegisterRoutes(router gin.IRoutes, h *ChatHandler, ipLimiter *RateLimiter) {
	limited := ipLimiter.Middleware()
	router.POST("/api/v1/chat", limited, h.HandleChat)
	router.POST("/api/chat", limited, h.HandleLegacyChat)
	router.POST("/api/reset", h.HandleReset)
	router.GET("/api/status", h.HandleStatus)
	router.GET("/api/metrics", h.HandleAggregateMetrics)
	router.GET("/api/v1/sessions/:id/metrics", h.HandleSessionMetrics)
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ChatResponse struct {
	Reply          string            `json:"reply"`
	TourCards      []agent.OfferCard `json:"tour_cards"`
	ConversationID string            `json:"conversation_id"`
}

type LegacyChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type ResetRequest struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	reply, ok := h.handle(c, conversationID, req.Message)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ChatResponse{
		Reply:          reply.Text,
		TourCards:      reply.OfferCards,
		ConversationID: conversationID,
	})
}

// HandleLegacyChat serves the older widget, which only shows text.
func (h *ChatHandler) HandleLegacyChat(c *gin.Context) {
	var req LegacyChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = "default"
	}
	reply, ok := h.handle(c, sessionID, req.Message)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": reply.Text})
}

// handle validates the message and runs it. It writes the error response
// itself and reports false on failure.
func (h *ChatHandler) handle(c *gin.Context, sessionID, message string) (agent.Reply, bool) {
	if h == nil || h.Service == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "handler unavailable"})
		return agent.Reply{}, false
	}
	message = strings.TrimSpace(message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return agent.Reply{}, false
	}
	if len([]rune(message)) > maxMessageRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return agent.Reply{}, false
	}
	if !h.SessionLimiter.Allow(c.Request.Context(), sessionID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Слишком много сообщений. Подождите немного."})
		return agent.Reply{}, false
	}

	reply, err := h.Service.HandleMessage(c.Request.Context(), sessionID, message)
	if err != nil {
		log := middleware.Logger(c, h.Logger).WithError(err).WithField("session_id", sessionID)
		switch {
		case errors.Is(err, context.Canceled):
			log.Info("Client went away")
			c.JSON(499, gin.H{"error": "request cancelled"})
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("Chat turn timed out")
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": replyFailedText})
		default:
			log.Error("Chat turn failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": replyFailedText})
		}
		return agent.Reply{}, false
	}
	return reply, true
}

func (h *ChatHandler) HandleReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(req.ConversationID)
	}
	if sessionID == "" {
		sessionID = "default"
	}
	h.Service.Reset(c.Request.Context(), sessionID)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_id": sessionID})
}

func (h *ChatHandler) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"version":         version.String(),
		"llm_provider":    h.Provider,
		"model":           h.Model,
		"active_sessions": h.Service.ActiveSessions(),
		"uptime_seconds":  int(time.Since(h.started).Seconds()),
	})
}

func (h *ChatHandler) HandleAggregateMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_sessions": h.Service.ActiveSessions(),
		"metrics":         h.Service.AggregateMetrics(),
	})
}

func (h *ChatHandler) HandleSessionMetrics(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	metrics, err := h.Service.GetMetrics(id)
	if err != nil {
		if errors.Is(err, agent.ErrUnknownSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "metrics": metrics})
}
