// Package httpapi exposes the council over HTTP: JSON and SSE deliberation
// endpoints, runtime settings management, and attachment extraction.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahrav/go-council/infrastructure/attachments"
	"github.com/ahrav/go-council/internal/application"
	"github.com/ahrav/go-council/internal/domain"
	"github.com/ahrav/go-council/internal/ports"
)

// DefaultMaxBodyBytes bounds request bodies, attachments included.
const DefaultMaxBodyBytes = 10 << 20

// Config wires the server's collaborators.
type Config struct {
	Store   *application.SettingsStore
	Gateway ports.ModelGateway
	Logger  *slog.Logger
	// CouncilOptions are applied to the Council built for every turn.
	CouncilOptions []application.Option
	// AllowedOrigins restricts CORS. Empty allows localhost origins only.
	AllowedOrigins []string
	// MetricsHandler, if set, is served at GET /metrics.
	MetricsHandler http.Handler
	MaxBodyBytes   int64
	// NewTurnID overrides uuid turn ids in tests.
	NewTurnID func() string
}

type server struct {
	cfg    Config
	logger *slog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.NewTurnID == nil {
		cfg.NewTurnID = uuid.NewString
	}
	s := &server{cfg: cfg, logger: cfg.Logger.With("component", "httpapi")}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBodyBytes)
		c.Next()
	})

	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowOrigin(cfg.AllowedOrigins),
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/", s.health)
	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	api := router.Group("/api")
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.updateSettings)
	api.POST("/settings/reset", s.resetSettings)
	api.POST("/attachments", s.uploadAttachment)
	api.POST("/deliberations", s.deliberate)
	api.POST("/deliberations/stream", s.deliberateStream)

	return router
}

func allowOrigin(allowed []string) func(string) bool {
	return func(origin string) bool {
		if len(allowed) > 0 {
			for _, o := range allowed {
				if origin == o {
					return true
				}
			}
			return false
		}
		return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
	}
}

func (s *server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council API",
	})
}

func (s *server) getSettings(c *gin.Context) {
	settings, err := s.cfg.Store.Current()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *server) updateSettings(c *gin.Context) {
	var patch application.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	settings, err := s.cfg.Store.Update(patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *server) resetSettings(c *gin.Context) {
	settings, err := s.cfg.Store.Reset()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// uploadAttachment accepts a multipart "file" field and returns its excerpt.
func (s *server) uploadAttachment(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, err)
		return
	}

	settings, err := s.cfg.Store.Current()
	if err != nil {
		s.fail(c, err)
		return
	}
	att, err := attachments.Excerpt(fh.Filename, content, settings.MaxAttachmentChars)
	if errors.Is(err, attachments.ErrUnsupportedAttachment) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error":     err.Error(),
			"supported": attachments.SupportedExtensions(),
		})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, att)
}

// DeliberateRequest is the body of both deliberation endpoints.
type DeliberateRequest struct {
	Content       string              `json:"content" binding:"required"`
	Attachments   []domain.Attachment `json:"attachments"`
	ToolContext   string              `json:"tool_context"`
	ExecutionMode string              `json:"execution_mode"`
	GenerateTitle bool                `json:"generate_title"`
}

// DeliberateResponse is the JSON result of a non-streaming turn.
type DeliberateResponse struct {
	*domain.DeliberationResult
	Title string `json:"title,omitempty"`
}

// prepared is everything a turn needs once the request is validated.
type prepared struct {
	council  *application.Council
	settings application.Settings
	turn     application.Turn
	title    bool
}

func (s *server) prepare(c *gin.Context, streaming bool) (*prepared, bool) {
	var req DeliberateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return nil, false
	}
	q, err := domain.NewCouncilQuery(req.Content, req.Attachments, req.ToolContext)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	if req.ExecutionMode != "" {
		if _, err := domain.ParseExecutionMode(req.ExecutionMode); err != nil {
			s.fail(c, domain.NewConfigurationError("execution_mode", err.Error()))
			return nil, false
		}
	}

	// Every turn runs against a fresh snapshot so settings edits apply to
	// the next turn without a restart.
	settings, err := s.cfg.Store.Current()
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	opts := append([]application.Option{application.WithLogger(s.cfg.Logger)}, s.cfg.CouncilOptions...)
	if streaming {
		opts = append(opts, application.WithStreaming(true))
	}
	council, err := application.NewCouncil(s.cfg.Gateway, settings, opts...)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}

	return &prepared{
		council:  council,
		settings: settings,
		turn: application.Turn{
			ID:    s.cfg.NewTurnID(),
			Query: q,
			Mode:  domain.ExecutionMode(req.ExecutionMode),
		},
		title: req.GenerateTitle,
	}, true
}

// startTitle generates the conversation title alongside the turn. The
// returned channel yields the title, or "" on failure, and is then closed.
func (s *server) startTitle(ctx context.Context, p *prepared) <-chan string {
	out := make(chan string, 1)
	go func() {
		defer close(out)
		title, err := application.GenerateTitle(ctx, s.cfg.Gateway, p.settings.Title(), p.turn.Query.ShortQuery())
		if err != nil {
			s.logger.Warn("title generation failed", "turn_id", p.turn.ID, "err", err)
			return
		}
		out <- title
	}()
	return out
}

func (s *server) deliberate(c *gin.Context) {
	p, ok := s.prepare(c, false)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var titles <-chan string
	if p.title {
		titles = s.startTitle(ctx, p)
	}

	result, err := p.council.Run(ctx, p.turn)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := DeliberateResponse{DeliberationResult: result}
	if titles != nil {
		resp.Title = <-titles
	}
	c.JSON(http.StatusOK, resp)
}

// deliberateStream runs a turn and reports progress as server-sent events,
// one JSON object per "data:" line.
func (s *server) deliberateStream(c *gin.Context) {
	p, ok := s.prepare(c, true)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	var titles <-chan string
	if p.title {
		titles = s.startTitle(ctx, p)
	}

	// complete is held back so the title, when requested, arrives first.
	p.turn.Sink = func(e application.Event) {
		if e.Type == application.EventComplete {
			return
		}
		s.sendEvent(c, e)
	}
	if _, err := p.council.Run(ctx, p.turn); err != nil {
		// The council already emitted the error event.
		return
	}
	if titles != nil {
		if title := <-titles; title != "" {
			s.sendEvent(c, application.Event{
				Type:   application.EventTitleComplete,
				TurnID: p.turn.ID,
				Data:   gin.H{"title": title},
			})
		}
	}
	s.sendEvent(c, application.Event{Type: application.EventComplete, TurnID: p.turn.ID})
}

func (s *server) sendEvent(c *gin.Context, e application.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("failed to marshal event", "type", e.Type, "err", err)
		return
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		s.logger.Debug("client went away", "type", e.Type, "err", err)
		return
	}
	c.Writer.Flush()
}

// fail maps pipeline errors to HTTP statuses.
func (s *server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration), errors.Is(err, domain.ErrEmptyQuestion):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStageExhausted), errors.Is(err, domain.ErrChairmanFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		status = 499 // client closed request
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "status", status, "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
