// Package api exposes the ledger and the conversational agent over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/service"
)

// TurnRunner processes one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn, emit agent.EmitFunc) ([]model.Event, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Ledger      service.Ledger
	Transcripts service.TranscriptStore
	Runner      TurnRunner
	Health      Pinger
	Logger      *slog.Logger
	// Today supplies the default date of new transactions.
	Today func() model.Date
}

// Options tune the router.
type Options struct {
	AllowedOrigins []string
}

// Server holds the gin engine and its handlers.
type Server struct {
	deps   Deps
	engine *gin.Engine
	logger *slog.Logger
}

// New builds the router.
func New(deps Deps, opts Options) *Server {
	if deps.Today == nil {
		deps.Today = func() model.Date { return model.Today(model.DefaultUTCOffsetHours) }
	}
	s := &Server{
		deps:   deps,
		engine: gin.New(),
		logger: common.OrDefault(deps.Logger),
	}

	s.engine.Use(
		recovery(s.logger),
		requestID(),
		accessLog(s.logger),
		cors(opts.AllowedOrigins),
	)
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.health)

	tx := r.Group("/transactions")
	{
		tx.POST("", s.createTransaction)
		tx.GET("", s.listTransactions)
		tx.GET("/balance", s.balance)
		tx.GET("/summary", s.summary)
		tx.DELETE("/:id", s.deleteTransaction)
	}

	ag := r.Group("/agent")
	{
		ag.POST("/run", s.runAgent)
		ag.GET("/sessions", s.listSessions)
		ag.GET("/session/:id", s.getSession)
	}
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
