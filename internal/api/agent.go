package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const headerSessionID = "X-Session-ID"

type runRequest struct {
	Message   json.RawMessage `json:"message"`
	SessionID string          `json:"session_id"`
	Streaming bool            `json:"streaming"`
}

// messageText accepts a plain string or a {role, parts: [{text}]} object.
func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", &common.ValidationError{Fields: []common.FieldError{{Field: "message", Message: "is required"}}}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var content struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}
	if err := json.Unmarshal(raw, &content); err != nil {
		return "", &common.ValidationError{Fields: []common.FieldError{{Field: "message", Message: "must be a string or a content object with parts"}}}
	}
	texts := make([]string, 0, len(content.Parts))
	for _, p := range content.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func (s *Server) runAgent(c *gin.Context) {
	scope, err := tenantScope(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bindError(err))
		return
	}
	text, err := messageText(req.Message)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		s.respondError(c, &common.ValidationError{Fields: []common.FieldError{{Field: "message", Message: "must not be empty"}}})
		return
	}

	scope.SessionID = strings.TrimSpace(req.SessionID)
	if scope.SessionID == "" {
		scope.SessionID = uuid.NewString()
	}
	c.Header(headerSessionID, scope.SessionID)
	turn := agent.Turn{Scope: scope, Message: text}

	if !req.Streaming {
		events, err := s.deps.Runner.Run(c.Request.Context(), turn, nil)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	_, err = s.deps.Runner.Run(c.Request.Context(), turn, func(ev model.Event) {
		c.SSEvent("message", ev)
		c.Writer.Flush()
	})
	if err != nil && !errors.Is(err, c.Request.Context().Err()) {
		s.logger.Error("Streaming turn failed",
			"tenant_id", scope.TenantID,
			"session_id", scope.SessionID,
			"error", err)
		c.SSEvent("error", gin.H{"error": common.UserMessage(err)})
		c.Writer.Flush()
	}
}

func (s *Server) listSessions(c *gin.Context) {
	scope, err := tenantScope(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	sessions, err := s.deps.Transcripts.ListSessions(c.Request.Context(), scope.TenantID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSession(c *gin.Context) {
	scope, err := tenantScope(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	scope.SessionID = c.Param("id")

	ctx := c.Request.Context()
	session, err := s.deps.Transcripts.GetSession(ctx, scope)
	if err != nil {
		s.respondError(c, err)
		return
	}
	events, err := s.deps.Transcripts.ListEvents(ctx, scope)
	if err != nil {
		s.respondError(c, fmt.Errorf("failed to load events: %w", err))
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "events": events})
}
