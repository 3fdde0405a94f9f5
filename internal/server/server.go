// Package server exposes chat sessions over HTTP for the web frontend.
package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"pawsistant/internal/config"
	"pawsistant/internal/helper"
	"pawsistant/internal/llmservice"
	"pawsistant/internal/rag"
)

type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type ChatResponse struct {
	Response  string   `json:"response"`
	HTML      string   `json:"html"`
	SessionID string   `json:"session_id"`
	Sources   []string `json:"sources"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ModelFactory returns the chat model for a provider and the model name used
// for token counting.
type ModelFactory func(provider string) (llms.Model, string, error)

// HostedModels builds models from cfg.LLM through llmservice.
func HostedModels(cfg *config.Config) ModelFactory {
	return func(provider string) (llms.Model, string, error) {
		llmConfig, err := cfg.LLM.Provider(provider)
		if err != nil {
			return nil, "", err
		}
		model, err := llmservice.NewModel(provider, &llmConfig)
		return model, llmConfig.Model, err
	}
}

type session struct {
	mu       sync.Mutex
	engine   *rag.Engine
	provider string
	lastSeen time.Time
}

type Server struct {
	cfg       *config.Config
	retriever rag.Retriever
	newModel  ModelFactory
	ttl       time.Duration
	now       func() time.Time
	tokens    func(model string) rag.TokenCounter
	md        goldmark.Markdown
	router    *gin.Engine

	mu       sync.Mutex
	sessions map[string]*session
	models   map[string]modelEntry
}

type modelEntry struct {
	model llms.Model
	name  string
}

// New wires the routes. The retriever is shared read-only by every session.
func New(cfg *config.Config, retriever rag.Retriever, newModel ModelFactory) *Server {
	s := &Server{
		cfg:       cfg,
		retriever: retriever,
		newModel:  newModel,
		ttl:       cfg.Server.SessionTTL,
		now:       time.Now,
		tokens:    rag.ModelTokenCounter,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		sessions: make(map[string]*session),
		models:   make(map[string]modelEntry),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/healthz", s.health)
	api := r.Group("/api")
	api.POST("/chat", s.chat)
	api.DELETE("/sessions/:id", s.resetSession)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": n})
}

func (s *Server) chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message is required"})
		return
	}
	provider := req.Model
	if provider == "" {
		provider = s.cfg.LLM.Active
	}
	provider = config.NormalizeProvider(provider)

	id := req.SessionID
	if id == "" {
		var err error
		if id, err = helper.GenerateUUID(); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
	}

	sess := s.session(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.bind(sess, id, provider); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrInvalid) {
			status = http.StatusBadRequest
		} else if errors.Is(err, llmservice.ErrMissingCredential) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	reply, err := sess.engine.Chat(c.Request.Context(), req.Message)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, rag.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Str("session", id).Msg("Chat failed")
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		Response:  reply.Answer,
		HTML:      s.render(reply.Answer),
		SessionID: id,
		Sources:   reply.Sources,
	})
}

func (s *Server) resetSession(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown session"})
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.engine == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := sess.engine.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// session returns the live session for id, registering an unbound one when
// none exists. Only s.mu is taken here; lock order is sess.mu then s.mu.
func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
		log.Debug().Str("session", id).Msg("Session created")
	}
	sess.lastSeen = s.now()
	return sess
}

// bind gives sess an engine for provider, keeping its history when the
// provider changed. It must be called with sess.mu held.
func (s *Server) bind(sess *session, id, provider string) error {
	if sess.engine != nil && sess.provider == provider {
		return nil
	}
	entry, err := s.model(provider)
	if err != nil {
		if sess.engine == nil {
			s.forget(id, sess)
		}
		return err
	}
	mem := rag.NewMemory(s.cfg.Chat.TokenLimit, s.tokens(entry.name))
	if sess.engine != nil {
		mem = sess.engine.Memory()
	}
	engine, err := rag.NewChatEngine(s.cfg, s.retriever, entry.model, entry.name, rag.WithMemory(mem))
	if err != nil {
		if sess.engine == nil {
			s.forget(id, sess)
		}
		return err
	}
	if sess.engine != nil {
		log.Info().Str("session", id).Str("provider", provider).Msg("Session switched model")
	}
	sess.engine, sess.provider = engine, provider
	return nil
}

// forget drops id if it still maps to sess.
func (s *Server) forget(id string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[id] == sess {
		delete(s.sessions, id)
	}
}

func (s *Server) model(provider string) (modelEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.models[provider]; ok {
		return e, nil
	}
	m, name, err := s.newModel(provider)
	if err != nil {
		return modelEntry{}, err
	}
	e := modelEntry{model: m, name: name}
	s.models[provider] = e
	return e, nil
}

// expire must be called with s.mu held.
func (s *Server) expire() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			log.Debug().Str("session", id).Msg("Session expired")
		}
	}
}

func (s *Server) render(answer string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(answer), &buf); err != nil {
		log.Warn().Err(err).Msg("Failed to render answer")
		return ""
	}
	return buf.String()
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}
