// Package http exposes the query and control surface over REST. Handlers are
// thin adapters: validation and semantics live in the services they call.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
	"github.com/waqarahm3d/qoqnuzmedia/internal/jobs"
	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
	"github.com/waqarahm3d/qoqnuzmedia/internal/repository"
)

const ownerKeyContext = "owner_key"

// TrackReader is the read-only track surface the API serves.
type TrackReader interface {
	ListByJob(ctx context.Context, jobID string) ([]*entity.Track, error)
	List(ctx context.Context, platform *entity.SourcePlatform, limit, offset int) ([]*entity.Track, int, error)
}

// StatsReader serves the latest maintenance snapshot.
type StatsReader interface {
	Latest(ctx context.Context) (*entity.StatsSnapshot, error)
}

// Options carries the HTTP surface configuration.
type Options struct {
	Addr   string
	APIKey string
}

// Server wires the REST routes.
type Server struct {
	jobs   *jobs.Service
	tracks TrackReader
	stats  StatsReader
	opts   Options
	logger observability.Logger
	engine *gin.Engine
}

func NewServer(jobService *jobs.Service, tracks TrackReader, stats StatsReader, opts Options, logger observability.Logger) *Server {
	s := &Server{
		jobs:   jobService,
		tracks: tracks,
		stats:  stats,
		opts:   opts,
		logger: logger.WithFields(map[string]interface{}{"component": "http"}),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/health", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1", s.auth())
	{
		api.POST("/jobs", s.createJob)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
		api.POST("/jobs/:id/cancel", s.cancelJob)
		api.POST("/jobs/:id/retry", s.retryJob)
		api.GET("/jobs/:id/tracks", s.listJobTracks)
		api.GET("/tracks", s.listTracks)
		api.GET("/stats", s.getStats)
	}

	s.engine = engine
	return s
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.logger.Info("http server listening", "addr", s.opts.Addr)
	return s.engine.Run(s.opts.Addr)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// auth resolves the caller's owner key from the API key header. When a server
// key is configured it must match; the key doubles as the isolation boundary
// between callers' jobs.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if s.opts.APIKey != "" && key != s.opts.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		if key == "" {
			key = "default"
		}
		c.Set(ownerKeyContext, key)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createJobRequest struct {
	URL           string `json:"url" binding:"required"`
	Platform      string `json:"platform" binding:"required"`
	SelectionMode string `json:"selection_mode"`
}

func (s *Server) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.jobs.Create(c.Request.Context(), jobs.CreateRequest{
		URL:           req.URL,
		Platform:      req.Platform,
		SelectionMode: req.SelectionMode,
		OwnerKey:      c.GetString(ownerKeyContext),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"), c.GetString(ownerKeyContext))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c *gin.Context) {
	filter := repository.ListFilter{
		OwnerKey: c.GetString(ownerKeyContext),
		Limit:    intQuery(c, "limit", 50),
		Offset:   intQuery(c, "offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := entity.ParseStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("platform"); raw != "" {
		platform, ok := entity.ParsePlatform(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid platform filter"})
			return
		}
		filter.Platform = &platform
	}

	list, total, err := s.jobs.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   list,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.jobs.Cancel(c.Request.Context(), c.Param("id"), c.GetString(ownerKeyContext))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) retryJob(c *gin.Context) {
	job, err := s.jobs.Retry(c.Request.Context(), c.Param("id"), c.GetString(ownerKeyContext))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobTracks(c *gin.Context) {
	// Ownership check happens through the job lookup.
	if _, err := s.jobs.Get(c.Request.Context(), c.Param("id"), c.GetString(ownerKeyContext)); err != nil {
		s.writeError(c, err)
		return
	}

	tracks, err := s.tracks.ListByJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks, "total": len(tracks)})
}

func (s *Server) listTracks(c *gin.Context) {
	var platform *entity.SourcePlatform
	if raw := c.Query("platform"); raw != "" {
		p, ok := entity.ParsePlatform(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid platform filter"})
			return
		}
		platform = &p
	}

	tracks, total, err := s.tracks.List(c.Request.Context(), platform,
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks, "total": total})
}

func (s *Server) getStats(c *gin.Context) {
	snap, err := s.stats.Latest(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"stats": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": snap})
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entity.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	case errors.Is(err, entity.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "job is already in a terminal state"})
		return
	case errors.Is(err, entity.ErrNotFailed):
		c.JSON(http.StatusConflict, gin.H{"error": "only failed jobs can be retried"})
		return
	}

	var de *entity.DomainError
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		switch de.Code {
		case entity.CodeValidation:
			status = http.StatusBadRequest
		case entity.CodeQuotaExceeded:
			status = http.StatusInsufficientStorage
		case entity.CodeDispatchFailed:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": de.Message, "code": de.Code})
		return
	}

	s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
