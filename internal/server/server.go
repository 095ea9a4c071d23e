// Package server exposes the chat service over HTTP, with reply streaming
// delivered as server-sent events.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cchalm/colloquy/internal/auth"
	"github.com/cchalm/colloquy/internal/chat"
)

const ownerContextKey = "ownerID"

// Server routes HTTP requests to the chat service
type Server struct {
	svc  *chat.Service
	auth auth.Authenticator
	log  zerolog.Logger

	// heartbeatInterval paces SSE keepalive comments, to stay under proxy
	// idle timeouts
	heartbeatInterval time.Duration
}

func New(svc *chat.Service, authenticator auth.Authenticator, log zerolog.Logger) *Server {
	return &Server{
		svc:               svc,
		auth:              authenticator,
		log:               log,
		heartbeatInterval: 15 * time.Second,
	}
}

// Router builds the gin engine with all routes attached
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api", s.authenticate)
	api.POST("/chats", s.startConversation)
	api.GET("/chats", s.listConversations)
	api.GET("/chats/:id", s.getConversation)
	api.GET("/chats/:id/messages", s.listMessages)
	api.POST("/chats/:id/stream", s.streamTurn)
	// EventSource clients cannot set headers or bodies, so the stream is also
	// reachable via GET with query parameters
	api.GET("/chats/:id/stream", s.streamTurn)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// authenticate resolves the bearer credential to an owner identity. The
// credential comes from the Authorization header, or from the access_token
// query parameter for EventSource clients.
func (s *Server) authenticate(c *gin.Context) {
	credential := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if credential == "" || credential == c.GetHeader("Authorization") {
		credential = c.Query("access_token")
	}
	if credential == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
		return
	}

	ownerID, err := s.auth.Resolve(c.Request.Context(), credential)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.Set(ownerContextKey, ownerID)
	c.Next()
}

func ownerID(c *gin.Context) string {
	return c.GetString(ownerContextKey)
}

func (s *Server) startConversation(c *gin.Context) {
	conv, created, err := s.svc.StartConversation(c.Request.Context(), ownerID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

func (s *Server) listConversations(c *gin.Context) {
	convs, err := s.svc.ListConversations(c.Request.Context(), ownerID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) getConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	conv, err := s.svc.GetConversation(c.Request.Context(), id, ownerID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	query, err := parseHistoryQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.svc.ListEntries(c.Request.Context(), id, ownerID(c), query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func conversationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed conversation id"})
		return uuid.UUID{}, false
	}
	return id, true
}

func parseHistoryQuery(c *gin.Context) (chat.HistoryQuery, error) {
	var query chat.HistoryQuery

	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return query, errors.New("page must be an integer")
		}
		query.Page = page
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return query, errors.New("limit must be an integer")
		}
		query.Limit = limit
	}
	if v := c.Query("role"); v != "" {
		role := chat.Role(v)
		if role != chat.RolePrompt && role != chat.RoleReply {
			return query, errors.New("role must be prompt or reply")
		}
		query.Role = &role
	}
	if v := c.Query("after"); v != "" {
		after, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return query, errors.New("after must be an RFC 3339 timestamp")
		}
		query.After = &after
	}
	if v := c.Query("before"); v != "" {
		before, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return query, errors.New("before must be an RFC 3339 timestamp")
		}
		query.Before = &before
	}
	query.Search = c.Query("search")

	return query, nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found or access denied"})
	case errors.Is(err, chat.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
