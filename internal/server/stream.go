package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type streamRequest struct {
	Content string `json:"content"`
}

// streamTurn accepts a prompt submission and streams the assembler's event
// sequence back as server-sent events. A client disconnect cancels the
// request context, which stops generation; the reply commit still runs inside
// the service.
func (s *Server) streamTurn(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	content := c.Query("content")
	if content == "" && c.Request.Body != nil {
		var req streamRequest
		// A missing or non-JSON body is fine as long as the query carried the
		// content
		_ = c.ShouldBindJSON(&req)
		content = req.Content
	}

	handle, err := s.svc.SubmitTurn(c.Request.Context(), id, ownerID(c), content)
	if err != nil {
		s.writeError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.svc.StreamTurn(c.Request.Context(), handle)

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, open := <-events:
			if !open {
				fmt.Fprint(c.Writer, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to marshal stream event")
				continue
			}
			fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			// SSE comment line; keeps intermediaries from timing out the
			// connection
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			// The service drains and commits on its own; nothing more to write
			return
		}
	}
}
